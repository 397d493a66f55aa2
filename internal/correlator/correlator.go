package correlator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/exchangechat/internal/protocol"
	"github.com/GriffinCanCode/exchangechat/internal/shared/id"
)

var (
	ErrTimeout     = errors.New("request timed out")
	ErrClosed      = errors.New("correlator closed")
	ErrUnsupported = errors.New("not supported by the legacy protocol")
)

// RemoteError is an error reply sent by the server for one request
type RemoteError struct {
	RequestID id.RequestID
	Message   string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// Mode selects how replies are matched to requests
type Mode int

const (
	// ModeLegacy matches positionally: the oldest pending request takes the
	// next inbound payload, whatever it contains.
	ModeLegacy Mode = iota
	// ModeTagged matches by the request id echoed in the reply envelope.
	ModeTagged
)

// String returns the string representation of the mode
func (m Mode) String() string {
	if m == ModeTagged {
		return "tagged"
	}
	return "legacy"
}

// ModeFor returns the mode matching a negotiated WebSocket subprotocol
func ModeFor(subprotocol string) Mode {
	if subprotocol == protocol.Subprotocol {
		return ModeTagged
	}
	return ModeLegacy
}

// Sender transmits one outbound command
type Sender interface {
	Send(text string) error
}

// Reply is the resolved result of a request
type Reply struct {
	RequestID id.RequestID
	Text      string
	Latency   time.Duration
}

type outcome struct {
	text string
	err  error
}

type pending struct {
	id      id.RequestID
	kind    protocol.Kind
	created time.Time
	result  chan outcome
}

// Correlator pairs outbound requests with inbound replies
type Correlator struct {
	sender  Sender
	mode    Mode
	timeout time.Duration
	logger  *zap.Logger

	mu       sync.Mutex
	pending  map[id.RequestID]*pending
	queue    []id.RequestID
	closeErr error
}

// Option configures a Correlator
type Option func(*Correlator)

// WithTimeout bounds every request. Zero disables the bound; the caller's
// context still applies.
func WithTimeout(d time.Duration) Option {
	return func(c *Correlator) { c.timeout = d }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Correlator) { c.logger = logger }
}

// New creates a correlator sending through sender
func New(sender Sender, mode Mode, opts ...Option) *Correlator {
	c := &Correlator{
		sender:  sender,
		mode:    mode,
		timeout: 30 * time.Second,
		logger:  zap.NewNop(),
		pending: make(map[id.RequestID]*pending),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Mode returns the matching mode
func (c *Correlator) Mode() Mode {
	return c.mode
}

// Convert requests a conversion quote and waits for the reply
func (c *Correlator) Convert(ctx context.Context, conv protocol.Conversion) (Reply, error) {
	return c.do(ctx, conv.Direction.Kind(), func(reqID id.RequestID) (string, error) {
		if c.mode == ModeLegacy {
			return conv.Legacy(), nil
		}
		return encode(conv.Envelope(reqID.String()))
	})
}

// Exchange requests the current rates (days == 0) or the rate history for
// the last days and waits for the reply.
func (c *Correlator) Exchange(ctx context.Context, days int) (Reply, error) {
	return c.do(ctx, protocol.KindExchange, func(reqID id.RequestID) (string, error) {
		if c.mode == ModeLegacy {
			return protocol.ExchangeCommand(days), nil
		}
		return encode(protocol.Envelope{Kind: protocol.KindExchange, ID: reqID.String(), Days: days})
	})
}

// Ping measures the round trip to the server
func (c *Correlator) Ping(ctx context.Context) (time.Duration, error) {
	if c.mode == ModeLegacy {
		return 0, ErrUnsupported
	}
	reply, err := c.do(ctx, protocol.KindPing, func(reqID id.RequestID) (string, error) {
		return encode(protocol.Envelope{Kind: protocol.KindPing, ID: reqID.String()})
	})
	if err != nil {
		return 0, err
	}
	return reply.Latency, nil
}

// Handle offers an inbound payload to the pending requests. It reports
// whether the payload was consumed as a reply; unclaimed payloads belong to
// the general display.
func (c *Correlator) Handle(payload []byte) bool {
	if c.mode == ModeTagged {
		return c.handleTagged(payload)
	}
	return c.handleLegacy(payload)
}

func (c *Correlator) handleTagged(payload []byte) bool {
	env, err := protocol.Decode(payload)
	if err != nil || !env.IsReply() {
		return false
	}

	reqID := id.RequestID(env.ID)
	out := outcome{text: env.Text}
	if env.Kind == protocol.KindError {
		out = outcome{err: &RemoteError{RequestID: reqID, Message: env.Text}}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[reqID]
	if !ok {
		// Reply to a request that already timed out or was cancelled
		c.logger.Debug("Dropping stale reply", zap.String("request_id", env.ID))
		return true
	}
	c.resolveLocked(p, out)
	return true
}

func (c *Correlator) handleLegacy(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) == 0 {
		return false
	}
	p := c.pending[c.queue[0]]
	c.resolveLocked(p, outcome{text: string(payload)})
	return true
}

// resolveLocked removes p and hands it its outcome. The result channel is
// buffered, so this never blocks.
func (c *Correlator) resolveLocked(p *pending, out outcome) {
	c.removeLocked(p.id)
	p.result <- out
}

// Pending returns the number of requests awaiting a reply
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close fails every pending request and rejects new ones. cause, when not
// nil, is wrapped into the returned errors.
func (c *Correlator) Close(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closeErr != nil {
		return
	}
	c.closeErr = ErrClosed
	if cause != nil {
		c.closeErr = fmt.Errorf("%w: %w", ErrClosed, cause)
	}

	for _, p := range c.pending {
		p.result <- outcome{err: c.closeErr}
	}
	c.pending = make(map[id.RequestID]*pending)
	c.queue = nil
}

func (c *Correlator) do(ctx context.Context, kind protocol.Kind, render func(id.RequestID) (string, error)) (Reply, error) {
	reqID := id.NewRequestID()
	payload, err := render(reqID)
	if err != nil {
		return Reply{}, err
	}

	p := &pending{
		id:      reqID,
		kind:    kind,
		created: time.Now(),
		result:  make(chan outcome, 1),
	}

	c.mu.Lock()
	if c.closeErr != nil {
		err := c.closeErr
		c.mu.Unlock()
		return Reply{}, err
	}
	c.pending[reqID] = p
	if c.mode == ModeLegacy {
		c.queue = append(c.queue, reqID)
	}
	c.mu.Unlock()

	if err := c.sender.Send(payload); err != nil {
		c.remove(reqID)
		return Reply{}, fmt.Errorf("send %s: %w", kind, err)
	}

	c.logger.Debug("Request sent",
		zap.String("request_id", reqID.String()),
		zap.String("kind", string(kind)),
		zap.String("mode", c.mode.String()),
	)

	var timeout <-chan time.Time
	if c.timeout > 0 {
		timer := time.NewTimer(c.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case out := <-p.result:
		return c.reply(p, out)
	case <-timeout:
		if c.remove(reqID) {
			c.logger.Warn("Request timed out",
				zap.String("request_id", reqID.String()),
				zap.Duration("timeout", c.timeout),
			)
			return Reply{}, fmt.Errorf("%s %s: %w", kind, reqID, ErrTimeout)
		}
	case <-ctx.Done():
		if c.remove(reqID) {
			return Reply{}, ctx.Err()
		}
	}

	// Resolved concurrently with the timeout or cancellation; the outcome is
	// already buffered.
	return c.reply(p, <-p.result)
}

func (c *Correlator) reply(p *pending, out outcome) (Reply, error) {
	if out.err != nil {
		return Reply{}, out.err
	}
	return Reply{RequestID: p.id, Text: out.text, Latency: time.Since(p.created)}, nil
}

// remove drops a pending request; false means it was already resolved
func (c *Correlator) remove(reqID id.RequestID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(reqID)
}

func (c *Correlator) removeLocked(reqID id.RequestID) bool {
	if _, ok := c.pending[reqID]; !ok {
		return false
	}
	delete(c.pending, reqID)
	for i, q := range c.queue {
		if q == reqID {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			break
		}
	}
	return true
}

func encode(e protocol.Envelope) (string, error) {
	data, err := protocol.Encode(e)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
