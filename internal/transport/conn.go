package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrClosed is wrapped by every error reported after the stream has ended
var ErrClosed = errors.New("transport closed")

// State of the underlying stream
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Listener receives every inbound payload
type Listener func(payload []byte)

type listenerEntry struct {
	id uint64
	fn Listener
}

// Conn is a single persistent WebSocket stream to one endpoint
type Conn struct {
	url    string
	ws     *websocket.Conn
	logger *zap.Logger

	writeMu      sync.Mutex
	writeTimeout time.Duration

	mu        sync.RWMutex
	listeners []listenerEntry
	nextID    uint64
	err       error

	state     atomic.Int32
	done      chan struct{}
	closeOnce sync.Once
	doneOnce  sync.Once
}

type options struct {
	logger           *zap.Logger
	subprotocols     []string
	header           http.Header
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	listeners        []Listener
}

// Option configures Dial
type Option func(*options)

// WithLogger sets the logger used for connection events
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithSubprotocols offers WebSocket subprotocols during the handshake
func WithSubprotocols(protocols ...string) Option {
	return func(o *options) { o.subprotocols = append(o.subprotocols, protocols...) }
}

// WithHeader adds handshake request headers
func WithHeader(h http.Header) Option {
	return func(o *options) { o.header = h }
}

// WithHandshakeTimeout bounds the opening handshake
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) { o.handshakeTimeout = d }
}

// WithWriteTimeout bounds each Send
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) { o.writeTimeout = d }
}

// WithListener subscribes fn before the read loop starts, so no payload
// arriving right after the handshake is missed.
func WithListener(fn Listener) Option {
	return func(o *options) { o.listeners = append(o.listeners, fn) }
}

// Dial opens the stream. It returns once the handshake has completed.
func Dial(ctx context.Context, url string, opts ...Option) (*Conn, error) {
	o := options{
		logger:           zap.NewNop(),
		handshakeTimeout: 10 * time.Second,
		writeTimeout:     10 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: o.handshakeTimeout,
		Subprotocols:     o.subprotocols,
	}

	c := &Conn{
		url:          url,
		logger:       o.logger.With(zap.String("endpoint", url)),
		writeTimeout: o.writeTimeout,
		done:         make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))

	ws, resp, err := dialer.DialContext(ctx, url, o.header)
	if err != nil {
		c.state.Store(int32(StateClosed))
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c.ws = ws

	for _, fn := range o.listeners {
		c.Subscribe(fn)
	}

	c.state.Store(int32(StateOpen))
	c.logger.Info("WebSocket connected", zap.String("subprotocol", ws.Subprotocol()))

	go c.readLoop()

	return c, nil
}

// URL returns the endpoint address
func (c *Conn) URL() string {
	return c.url
}

// Protocol returns the negotiated subprotocol, empty for plain text
func (c *Conn) Protocol() string {
	return c.ws.Subprotocol()
}

// State returns the current stream state
func (c *Conn) State() State {
	return State(c.state.Load())
}

// Send transmits one text frame. There is no acknowledgment.
func (c *Conn) Send(text string) error {
	if c.State() != StateOpen {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	c.logger.Debug("sent", zap.Int("bytes", len(text)))
	return nil
}

// Subscribe registers fn for every inbound payload. Listeners run on the read
// goroutine in registration order and must not block.
func (c *Conn) Subscribe(fn Listener) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	entryID := c.nextID
	c.listeners = append(c.listeners, listenerEntry{id: entryID, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, l := range c.listeners {
			if l.id == entryID {
				c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

// Done is closed when the read loop has ended
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns why the stream ended, nil while it is open
func (c *Conn) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Close sends a normal close frame and tears the stream down
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))

		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.writeMu.Unlock()

		err = c.ws.Close()
		c.finish(ErrClosed)
	})
	return err
}

func (c *Conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.State() == StateClosed {
				c.finish(ErrClosed)
				return
			}
			c.state.Store(int32(StateClosed))
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("WebSocket closed by peer")
			} else {
				c.logger.Warn("WebSocket read failed", zap.Error(err))
			}
			c.finish(fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}

		c.logger.Debug("received", zap.Int("bytes", len(data)))
		c.dispatch(data)
	}
}

func (c *Conn) dispatch(data []byte) {
	c.mu.RLock()
	listeners := make([]Listener, len(c.listeners))
	for i, l := range c.listeners {
		listeners[i] = l.fn
	}
	c.mu.RUnlock()

	for _, fn := range listeners {
		fn(data)
	}
}

func (c *Conn) finish(err error) {
	c.doneOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}
