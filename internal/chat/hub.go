package chat

import (
	"context"
	"errors"
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/exchangechat/internal/shared/id"
)

// ErrDropped is returned when sending to a client the hub gave up on
var ErrDropped = errors.New("client dropped")

// Encoder renders a text line in the recipient's wire format
type Encoder func(text string) ([]byte, error)

// Client is one registered chat participant. Outbound payloads are queued
// and drained by the connection's writer goroutine.
type Client struct {
	ID   id.ClientID
	Name string

	encode Encoder
	send   chan []byte

	dropOnce sync.Once
	dropped  chan struct{}
}

// Outbound returns the queue the connection writer drains
func (c *Client) Outbound() <-chan []byte {
	return c.send
}

// Dropped is closed when the hub gives up on the client
func (c *Client) Dropped() <-chan struct{} {
	return c.dropped
}

// Enqueue queues a raw payload without blocking. It reports false when the
// queue is full or the client was dropped.
func (c *Client) Enqueue(payload []byte) bool {
	select {
	case <-c.dropped:
		return false
	default:
	}

	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Send queues a direct reply, waiting for room in the queue. It fails when
// the client is dropped or ctx ends first.
func (c *Client) Send(ctx context.Context, payload []byte) error {
	select {
	case <-c.dropped:
		return ErrDropped
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.dropped:
		return ErrDropped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) drop() {
	c.dropOnce.Do(func() { close(c.dropped) })
}

// Hub tracks connected clients and fans chat lines out to all of them
type Hub struct {
	mu      sync.RWMutex
	clients map[id.ClientID]*Client

	policy *bluemonday.Policy
	names  func() string
	buffer int
	logger *zap.Logger
}

// Option configures a Hub
type Option func(*Hub)

// WithBuffer sets the per-client outbound queue length
func WithBuffer(n int) Option {
	return func(h *Hub) { h.buffer = n }
}

// WithNames replaces the random display name generator
func WithNames(gen func() string) Option {
	return func(h *Hub) { h.names = gen }
}

// WithLogger sets the hub logger
func WithLogger(l *zap.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// NewHub creates an empty hub
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		clients: make(map[id.ClientID]*Client),
		policy:  bluemonday.StrictPolicy(),
		names:   RandomName,
		buffer:  64,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.buffer < 1 {
		h.buffer = 1
	}
	return h
}

// Register adds a client with a fresh id and random name
func (h *Hub) Register(enc Encoder) *Client {
	c := &Client{
		ID:      id.NewClientID(),
		Name:    h.names(),
		encode:  enc,
		send:    make(chan []byte, h.buffer),
		dropped: make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[c.ID] = c
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("Client connected",
		zap.String("client_id", c.ID.String()),
		zap.String("name", c.Name),
		zap.Int("clients", count),
	)
	return c
}

// Unregister removes a client. Unknown clients are ignored.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c.ID]
	delete(h.clients, c.ID)
	count := len(h.clients)
	h.mu.Unlock()

	c.drop()
	if ok {
		h.logger.Info("Client disconnected",
			zap.String("client_id", c.ID.String()),
			zap.String("name", c.Name),
			zap.Int("clients", count),
		)
	}
}

// Count returns the number of registered clients
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Sanitize strips markup from chat text. Entities are decoded before the
// policy runs so encoded tags are stripped too. If decoding the result
// would still yield markup, the escaped form is returned instead.
func (h *Hub) Sanitize(text string) string {
	clean := h.policy.Sanitize(html.UnescapeString(text))
	if out := html.UnescapeString(clean); !strings.ContainsAny(out, "<>") {
		return out
	}
	return clean
}

// Broadcast sends "{name}: {text}" from a client to every registered client,
// the sender included. It returns the number of clients reached. Clients
// whose queue is full are dropped.
func (h *Hub) Broadcast(from *Client, text string) int {
	return h.BroadcastLine(from.Name + ": " + h.Sanitize(text))
}

// BroadcastLine sends a preformatted line to every registered client
func (h *Hub) BroadcastLine(line string) int {
	h.mu.RLock()
	recipients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		recipients = append(recipients, c)
	}
	h.mu.RUnlock()

	reached := 0
	for _, c := range recipients {
		payload, err := c.encode(line)
		if err != nil {
			h.logger.Error("Failed to encode chat line", zap.String("client_id", c.ID.String()), zap.Error(err))
			continue
		}
		if c.Enqueue(payload) {
			reached++
			continue
		}
		h.logger.Warn("Dropping slow client", zap.String("client_id", c.ID.String()), zap.String("name", c.Name))
		h.Unregister(c)
	}
	return reached
}
