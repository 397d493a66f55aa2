package ui

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/exchangechat/internal/correlator"
	"github.com/GriffinCanCode/exchangechat/internal/protocol"
	"github.com/GriffinCanCode/exchangechat/internal/transport"
)

// SessionConfig selects the endpoint and protocol of a client session
type SessionConfig struct {
	URL string
	// Tagged offers the exchangechat.v1 subprotocol. A server that does not
	// accept it is spoken to in legacy text.
	Tagged  bool
	Timeout time.Duration
}

// Session is one connected client: the transport, the correlator pairing
// replies with requests and the presenter rendering everything else
type Session struct {
	Conn      *transport.Conn
	Requests  *correlator.Correlator
	Presenter *Presenter

	closing atomic.Bool
	done    chan struct{}
}

// Connect dials the server and wires a presenter driving display
func Connect(ctx context.Context, cfg SessionConfig, display Display, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	// Payloads arriving before the presenter exists are held back
	relay := &relay{}
	opts := []transport.Option{
		transport.WithLogger(logger.Named("transport")),
		transport.WithListener(relay.deliver),
	}
	if cfg.Tagged {
		opts = append(opts, transport.WithSubprotocols(protocol.Subprotocol))
	}

	conn, err := transport.Dial(ctx, cfg.URL, opts...)
	if err != nil {
		return nil, err
	}

	mode := correlator.ModeFor(conn.Protocol())
	if cfg.Tagged && mode != correlator.ModeTagged {
		logger.Warn("Server does not speak the tagged protocol, falling back to legacy text")
	}

	s := &Session{
		Conn: conn,
		Requests: correlator.New(conn, mode,
			correlator.WithTimeout(cfg.Timeout),
			correlator.WithLogger(logger.Named("correlator")),
		),
		done: make(chan struct{}),
	}
	s.Presenter = NewPresenter(conn, s.Requests, display, WithLogger(logger.Named("presenter")))
	relay.attach(s.Presenter.Receive)

	go s.watch()
	return s, nil
}

// Mode returns the negotiated protocol
func (s *Session) Mode() correlator.Mode {
	return s.Requests.Mode()
}

// Done is closed once the transport has ended and pending requests failed
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close ends the session without reporting a disconnect to the display
func (s *Session) Close() error {
	s.closing.Store(true)
	err := s.Conn.Close()
	<-s.done
	return err
}

func (s *Session) watch() {
	defer close(s.done)

	<-s.Conn.Done()
	err := s.Conn.Err()
	s.Requests.Close(err)
	if !s.closing.Load() {
		s.Presenter.Disconnected(err)
	}
}

// relay buffers payloads until a target is attached, then forwards them in
// arrival order
type relay struct {
	mu      sync.Mutex
	target  func([]byte)
	backlog [][]byte
}

func (r *relay) deliver(payload []byte) {
	r.mu.Lock()
	if r.target == nil {
		r.backlog = append(r.backlog, payload)
		r.mu.Unlock()
		return
	}
	target := r.target
	r.mu.Unlock()
	target(payload)
}

func (r *relay) attach(target func([]byte)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, payload := range r.backlog {
		target(payload)
	}
	r.backlog = nil
	r.target = target
}
