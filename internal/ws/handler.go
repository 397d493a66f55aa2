package ws

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/exchangechat/internal/chat"
	"github.com/GriffinCanCode/exchangechat/internal/exchange"
	"github.com/GriffinCanCode/exchangechat/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/exchangechat/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/exchangechat/internal/protocol"
)

// Reply texts shared by both protocols
const (
	msgInvalidCommand = "Invalid command format"
	msgInvalidAmount  = "Invalid amount format"
	msgRateLimited    = "rate limit exceeded"
	msgUnavailable    = "Error: exchange rates are unavailable, try again later"
	msgInvalidMessage = "Invalid message"
	msgUnknownKind    = "Unknown message kind"
)

const (
	protocolLegacy = "legacy"
	protocolTagged = "tagged"
)

// Exchange answers the currency commands. *exchange.Service implements it.
type Exchange interface {
	Summary(ctx context.Context) (string, error)
	History(ctx context.Context, days string) (string, error)
	Convert(ctx context.Context, conv protocol.Conversion) (string, error)
}

// Config holds per-connection limits
type Config struct {
	MessagesPerSecond float64
	Burst             int
	WriteTimeout      time.Duration
	MaxMessageBytes   int64
	CommandTimeout    time.Duration
}

// DefaultConfig returns the default per-connection limits
func DefaultConfig() Config {
	return Config{
		MessagesPerSecond: 10,
		Burst:             20,
		WriteTimeout:      10 * time.Second,
		MaxMessageBytes:   4096,
		CommandTimeout:    30 * time.Second,
	}
}

// Handler manages WebSocket connections
type Handler struct {
	hub      *chat.Hub
	exchange Exchange
	cfg      Config
	upgrader websocket.Upgrader
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	tracer   *tracing.Tracer
}

// Option configures a Handler
type Option func(*Handler)

// WithLogger sets the handler logger
func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithMetrics records connection, message and command metrics
func WithMetrics(m *monitoring.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithTracer opens a span per command
func WithTracer(t *tracing.Tracer) Option {
	return func(h *Handler) { h.tracer = t }
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *chat.Hub, ex Exchange, cfg Config, opts ...Option) *Handler {
	h := &Handler{
		hub:      hub,
		exchange: ex,
		cfg:      cfg,
		logger:   zap.NewNop(),
		upgrader: websocket.Upgrader{
			Subprotocols: []string{protocol.Subprotocol},
			CheckOrigin: func(r *http.Request) bool {
				return true // terminal clients send no Origin; browsers are not authenticated anyway
			},
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// session is the state of one connection
type session struct {
	conn    *websocket.Conn
	client  *chat.Client
	tagged  bool
	limiter *rate.Limiter
	logger  *zap.Logger
}

func (s *session) protocolName() string {
	if s.tagged {
		return protocolTagged
	}
	return protocolLegacy
}

// HandleConnection handles WebSocket upgrade and messages
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	tagged := conn.Subprotocol() == protocol.Subprotocol
	enc := legacyEncoder
	if tagged {
		enc = taggedEncoder
	}

	limit := rate.Inf
	if h.cfg.MessagesPerSecond > 0 {
		limit = rate.Limit(h.cfg.MessagesPerSecond)
	}

	if h.metrics != nil {
		h.metrics.IncWSConnections()
		defer h.metrics.DecWSConnections()
	}

	client := h.hub.Register(enc)
	s := &session{
		conn:    conn,
		client:  client,
		tagged:  tagged,
		limiter: rate.NewLimiter(limit, max(h.cfg.Burst, 1)),
	}
	s.logger = h.logger.With(
		zap.String("client_id", client.ID.String()),
		zap.String("remote", conn.RemoteAddr().String()),
		zap.String("protocol", s.protocolName()),
	)

	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		h.writeLoop(ctx, s)
	}()

	if tagged {
		h.reply(ctx, s, protocol.Envelope{Kind: protocol.KindSystem, Text: "Connected as " + client.Name})
	}

	var inflight sync.WaitGroup
	h.readLoop(ctx, s, &inflight)

	// Let running tagged commands finish before the queue goes away
	inflight.Wait()
	h.hub.Unregister(client)
	cancel()
	writer.Wait()
}

func (h *Handler) readLoop(ctx context.Context, s *session, inflight *sync.WaitGroup) {
	if h.cfg.MaxMessageBytes > 0 {
		s.conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if h.metrics != nil {
			h.metrics.RecordWSMessage("in", s.protocolName())
		}

		if !s.limiter.Allow() {
			if h.metrics != nil {
				h.metrics.RecordWSRejected("rate_limit")
			}
			h.rejectRateLimited(ctx, s, data)
			continue
		}

		if !s.tagged {
			// Legacy replies are matched by order, so commands run one at a time
			h.handleLegacy(ctx, s, string(data))
			continue
		}

		env, err := protocol.Decode(data)
		if err != nil {
			h.reply(ctx, s, protocol.Envelope{Kind: protocol.KindError, Text: msgInvalidMessage})
			continue
		}
		if env.Kind == protocol.KindChat {
			h.hub.Broadcast(s.client, env.Text)
			continue
		}
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			h.handleTagged(ctx, s, env)
		}()
	}
}

func (h *Handler) writeLoop(ctx context.Context, s *session) {
	// Closing the connection unblocks the reader; unregistering releases
	// command goroutines waiting on a full queue.
	defer func() {
		s.conn.Close()
		h.hub.Unregister(s.client)
	}()

	for {
		select {
		case payload := <-s.client.Outbound():
			if h.cfg.WriteTimeout > 0 {
				_ = s.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.logger.Debug("WebSocket write failed", zap.Error(err))
				return
			}
			if h.metrics != nil {
				h.metrics.RecordWSMessage("out", s.protocolName())
			}
		case <-s.client.Dropped():
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *Handler) handleLegacy(ctx context.Context, s *session, text string) {
	cmd := protocol.ParseLegacy(text)

	switch cmd.Kind {
	case protocol.KindExchange:
		h.runCommand(ctx, s, cmd.Kind, "", func(ctx context.Context) (string, error) {
			switch {
			case len(cmd.Args) == 1 && cmd.Args[0] == string(protocol.KindExchange):
				return h.exchange.Summary(ctx)
			case len(cmd.Args) == 2 && cmd.Args[0] == string(protocol.KindExchange):
				return h.exchange.History(ctx, cmd.Args[1])
			}
			return "", &exchange.InputError{Message: msgInvalidCommand}
		})

	case protocol.KindBuyConvert, protocol.KindSellConvert:
		h.runCommand(ctx, s, cmd.Kind, "", func(ctx context.Context) (string, error) {
			if len(cmd.Args) != 3 || cmd.Args[0] != string(cmd.Kind) {
				return "", &exchange.InputError{Message: msgInvalidCommand}
			}
			return h.convert(ctx, cmd.Kind, cmd.Args[1], cmd.Args[2])
		})

	default:
		h.hub.Broadcast(s.client, text)
	}
}

func (h *Handler) handleTagged(ctx context.Context, s *session, env protocol.Envelope) {
	switch env.Kind {
	case protocol.KindPing:
		h.reply(ctx, s, protocol.Envelope{Kind: protocol.KindPong, ID: env.ID, Timestamp: time.Now().Unix()})

	case protocol.KindExchange:
		h.runCommand(ctx, s, env.Kind, env.ID, func(ctx context.Context) (string, error) {
			if env.Days == 0 {
				return h.exchange.Summary(ctx)
			}
			return h.exchange.History(ctx, strconv.Itoa(env.Days))
		})

	case protocol.KindBuyConvert, protocol.KindSellConvert:
		h.runCommand(ctx, s, env.Kind, env.ID, func(ctx context.Context) (string, error) {
			if env.Currency == "" {
				return "", &exchange.InputError{Message: msgInvalidCommand}
			}
			return h.convert(ctx, env.Kind, env.Amount, env.Currency)
		})

	default:
		h.reply(ctx, s, protocol.Failure(env.ID, msgUnknownKind))
	}
}

func (h *Handler) convert(ctx context.Context, kind protocol.Kind, amount, currency string) (string, error) {
	dir, _ := protocol.DirectionOf(kind)
	value, err := protocol.ParseAmount(amount)
	if err != nil {
		return "", &exchange.InputError{Message: msgInvalidAmount}
	}
	return h.exchange.Convert(ctx, protocol.Conversion{Direction: dir, Amount: value, Currency: currency})
}

// runCommand executes one exchange command under a span, a timer and the
// command timeout, then sends the result or error to the client.
func (h *Handler) runCommand(ctx context.Context, s *session, kind protocol.Kind, requestID string, fn func(context.Context) (string, error)) {
	timer := monitoring.NewTimer(h.metrics, string(kind))

	var span *tracing.Span
	if h.tracer != nil {
		span, ctx = h.tracer.StartSpan(ctx, "ws."+string(kind))
		span.SetTag("client_id", s.client.ID.String())
		span.SetTag("protocol", s.protocolName())
		if requestID != "" {
			span.SetTag("request_id", requestID)
		}
	}

	cmdCtx := ctx
	if h.cfg.CommandTimeout > 0 {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, h.cfg.CommandTimeout)
		defer cancel()
	}

	text, err := fn(cmdCtx)

	status := monitoring.StatusOK
	reply := protocol.Result(requestID, text)
	var inputErr *exchange.InputError
	switch {
	case err == nil:
	case errors.As(err, &inputErr):
		status = monitoring.StatusRejected
		reply = protocol.Failure(requestID, inputErr.Message)
	default:
		status = monitoring.StatusError
		reply = protocol.Failure(requestID, msgUnavailable)
		s.logger.Warn("Command failed", append(tracing.Fields(ctx), zap.String("kind", string(kind)), zap.Error(err))...)
	}

	duration := timer.Stop(status)
	if span != nil {
		if err != nil {
			span.SetError(err)
		}
		span.Finish()
		h.tracer.Submit(span)
	}
	h.reply(ctx, s, reply)
	s.logger.Debug("Command handled",
		zap.String("kind", string(kind)),
		zap.String("status", status),
		zap.Duration("duration", duration),
	)
}

func (h *Handler) rejectRateLimited(ctx context.Context, s *session, data []byte) {
	if !s.tagged {
		h.reply(ctx, s, protocol.Failure("", msgRateLimited))
		return
	}
	var requestID string
	if env, err := protocol.Decode(data); err == nil {
		requestID = env.ID
	}
	h.reply(ctx, s, protocol.Failure(requestID, msgRateLimited))
}

// reply queues an envelope for this connection only. Legacy connections get
// just the text.
func (h *Handler) reply(ctx context.Context, s *session, env protocol.Envelope) {
	var payload []byte
	if s.tagged {
		data, err := protocol.Encode(env)
		if err != nil {
			s.logger.Error("Failed to encode reply", zap.Error(err))
			return
		}
		payload = data
	} else {
		payload = []byte(env.Text)
	}

	if err := s.client.Send(ctx, payload); err != nil {
		s.logger.Debug("Reply not delivered", zap.Error(err))
	}
}

func legacyEncoder(text string) ([]byte, error) {
	return []byte(text), nil
}

func taggedEncoder(text string) ([]byte, error) {
	return protocol.Encode(protocol.Chat(text))
}
