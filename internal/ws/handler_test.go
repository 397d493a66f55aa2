package ws

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/exchangechat/internal/chat"
	"github.com/GriffinCanCode/exchangechat/internal/exchange"
	"github.com/GriffinCanCode/exchangechat/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/exchangechat/internal/protocol"
	tu "github.com/GriffinCanCode/exchangechat/internal/testutil"
)

const testName = "Olena Boyko"

type fixture struct {
	server  *httptest.Server
	hub     *chat.Hub
	ex      *tu.MockExchange
	metrics *monitoring.Metrics
}

func newFixture(t *testing.T, ex *tu.MockExchange, cfg Config) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		hub:     chat.NewHub(chat.WithNames(func() string { return testName })),
		ex:      ex,
		metrics: monitoring.NewMetrics(),
	}
	handler := NewHandler(f.hub, ex, cfg, WithMetrics(f.metrics))

	router := gin.New()
	router.GET("/", handler.HandleConnection)
	f.server = httptest.NewServer(router)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) dial(t *testing.T, subprotocols ...string) *websocket.Conn {
	t.Helper()
	before := f.hub.Count()
	conn := tu.DialWS(t, tu.WSURL(f.server, "/"), subprotocols...)
	require.Eventually(t, func() bool { return f.hub.Count() > before }, 2*time.Second, 5*time.Millisecond)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(text)))
}

func TestLegacyChatBroadcast(t *testing.T) {
	f := newFixture(t, tu.NewMockExchange(t), DefaultConfig())

	a := f.dial(t)
	b := f.dial(t)

	send(t, a, "hello <b>all</b>")

	assert.Equal(t, testName+": hello all", tu.ReadText(t, a))
	assert.Equal(t, testName+": hello all", tu.ReadText(t, b))
}

func TestLegacyExchange(t *testing.T) {
	ex := new(tu.MockExchange)
	ex.On("Summary", mock.Anything).Return("USD: buy: 41, sale: 41.6", nil).Once()
	ex.On("History", mock.Anything, "3").Return("USD Exchange History:", nil).Once()
	f := newFixture(t, ex, DefaultConfig())
	conn := f.dial(t)

	send(t, conn, "exchange")
	assert.Equal(t, "USD: buy: 41, sale: 41.6", tu.ReadText(t, conn))

	send(t, conn, "exchange 3")
	assert.Equal(t, "USD Exchange History:", tu.ReadText(t, conn))

	ex.AssertExpectations(t)
}

func TestLegacyCommandValidation(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"exchange with two args", "exchange 1 2", msgInvalidCommand},
		{"exchange glued", "exchanges", msgInvalidCommand},
		{"convert missing currency", "buy_convert 10", msgInvalidCommand},
		{"convert extra token", "sell_convert 10 EUR now", msgInvalidCommand},
		{"convert bad amount", "buy_convert abc EUR", msgInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := new(tu.MockExchange)
			f := newFixture(t, ex, DefaultConfig())
			conn := f.dial(t)

			send(t, conn, tt.input)
			assert.Equal(t, tt.want, tu.ReadText(t, conn))
			ex.AssertNotCalled(t, "Convert", mock.Anything, mock.Anything)
			ex.AssertNotCalled(t, "History", mock.Anything, mock.Anything)
		})
	}
}

func TestLegacyConvert(t *testing.T) {
	ex := new(tu.MockExchange)
	ex.On("Convert", mock.Anything, protocol.Conversion{Direction: protocol.Buy, Amount: 10, Currency: "EUR"}).
		Return("10 EUR = 445.00 UAH", nil).Once()
	ex.On("Convert", mock.Anything, protocol.Conversion{Direction: protocol.Sell, Amount: 2.5, Currency: "USD"}).
		Return("2.5 USD = 104.00 UAH", nil).Once()
	f := newFixture(t, ex, DefaultConfig())
	conn := f.dial(t)

	send(t, conn, "buy_convert 10 EUR")
	assert.Equal(t, "10 EUR = 445.00 UAH", tu.ReadText(t, conn))

	send(t, conn, "sell_convert 2.5 USD")
	assert.Equal(t, "2.5 USD = 104.00 UAH", tu.ReadText(t, conn))

	ex.AssertExpectations(t)
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.Commands.WithLabelValues("buy_convert", monitoring.StatusOK))+
		testutil.ToFloat64(f.metrics.Commands.WithLabelValues("sell_convert", monitoring.StatusOK)))
}

func TestCommandErrors(t *testing.T) {
	ex := new(tu.MockExchange)
	ex.On("History", mock.Anything, "42").
		Return("", &exchange.InputError{Message: "Number of days must be between 1 and 10"}).Once()
	ex.On("Summary", mock.Anything).
		Return("", errors.Join(exchange.ErrUnavailable, errors.New("boom"))).Once()
	f := newFixture(t, ex, DefaultConfig())
	conn := f.dial(t)

	send(t, conn, "exchange 42")
	assert.Equal(t, "Number of days must be between 1 and 10", tu.ReadText(t, conn))

	send(t, conn, "exchange")
	assert.Equal(t, msgUnavailable, tu.ReadText(t, conn))

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Commands.WithLabelValues("exchange", monitoring.StatusRejected)))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Commands.WithLabelValues("exchange", monitoring.StatusError)))
}

func TestTaggedWelcomeAndChat(t *testing.T) {
	f := newFixture(t, tu.NewMockExchange(t), DefaultConfig())
	tagged := f.dial(t, protocol.Subprotocol)
	require.Equal(t, protocol.Subprotocol, tagged.Subprotocol())

	welcome := tu.ReadEnvelope(t, tagged)
	assert.Equal(t, protocol.KindSystem, welcome.Kind)
	assert.Equal(t, "Connected as "+testName, welcome.Text)

	legacy := f.dial(t)
	tu.WriteEnvelope(t, tagged, protocol.Chat("hi"))

	got := tu.ReadEnvelope(t, tagged)
	assert.Equal(t, protocol.KindChat, got.Kind)
	assert.Equal(t, testName+": hi", got.Text)

	// Same line, rendered for the legacy peer
	assert.Equal(t, testName+": hi", tu.ReadText(t, legacy))
}

func TestTaggedRequests(t *testing.T) {
	ex := new(tu.MockExchange)
	ex.On("Summary", mock.Anything).Return("summary", nil).Once()
	ex.On("History", mock.Anything, "2").Return("history", nil).Once()
	ex.On("Convert", mock.Anything, protocol.Conversion{Direction: protocol.Sell, Amount: 5, Currency: "USD"}).
		Return("5 USD = 208.00 UAH", nil).Once()
	f := newFixture(t, ex, DefaultConfig())
	conn := f.dial(t, protocol.Subprotocol)
	tu.ReadEnvelope(t, conn) // welcome

	steps := []struct {
		req  protocol.Envelope
		kind protocol.Kind
		text string
	}{
		{protocol.Envelope{Kind: protocol.KindExchange, ID: "req_1"}, protocol.KindResult, "summary"},
		{protocol.Envelope{Kind: protocol.KindExchange, ID: "req_2", Days: 2}, protocol.KindResult, "history"},
		{protocol.Envelope{Kind: protocol.KindSellConvert, ID: "req_3", Amount: "5", Currency: "USD"}, protocol.KindResult, "5 USD = 208.00 UAH"},
		{protocol.Envelope{Kind: protocol.KindBuyConvert, ID: "req_4", Amount: "x", Currency: "USD"}, protocol.KindError, msgInvalidAmount},
		{protocol.Envelope{Kind: protocol.KindBuyConvert, ID: "req_5", Amount: "1"}, protocol.KindError, msgInvalidCommand},
		{protocol.Envelope{Kind: "teleport", ID: "req_6"}, protocol.KindError, msgUnknownKind},
	}

	for _, step := range steps {
		tu.WriteEnvelope(t, conn, step.req)
		got := tu.ReadEnvelope(t, conn)
		assert.Equal(t, step.req.ID, got.ID)
		assert.Equal(t, step.kind, got.Kind, step.req.ID)
		assert.Equal(t, step.text, got.Text, step.req.ID)
	}

	ex.AssertExpectations(t)
}

func TestTaggedPing(t *testing.T) {
	f := newFixture(t, tu.NewMockExchange(t), DefaultConfig())
	conn := f.dial(t, protocol.Subprotocol)
	tu.ReadEnvelope(t, conn)

	tu.WriteEnvelope(t, conn, protocol.Envelope{Kind: protocol.KindPing, ID: "req_ping"})

	pong := tu.ReadEnvelope(t, conn)
	assert.Equal(t, protocol.KindPong, pong.Kind)
	assert.Equal(t, "req_ping", pong.ID)
	assert.NotZero(t, pong.Timestamp)
}

func TestTaggedInvalidMessage(t *testing.T) {
	f := newFixture(t, tu.NewMockExchange(t), DefaultConfig())
	conn := f.dial(t, protocol.Subprotocol)
	tu.ReadEnvelope(t, conn)

	send(t, conn, "buy_convert 10 EUR")

	got := tu.ReadEnvelope(t, conn)
	assert.Equal(t, protocol.KindError, got.Kind)
	assert.Equal(t, msgInvalidMessage, got.Text)
}

func TestTaggedRepliesRouteByID(t *testing.T) {
	release := make(chan struct{})
	ex := new(tu.MockExchange)
	ex.On("History", mock.Anything, "5").
		Run(func(mock.Arguments) { <-release }).
		Return("slow", nil).Once()
	ex.On("Summary", mock.Anything).
		Run(func(mock.Arguments) { close(release) }).
		Return("fast", nil).Once()
	f := newFixture(t, ex, DefaultConfig())
	conn := f.dial(t, protocol.Subprotocol)
	tu.ReadEnvelope(t, conn)

	tu.WriteEnvelope(t, conn, protocol.Envelope{Kind: protocol.KindExchange, ID: "req_slow", Days: 5})
	tu.WriteEnvelope(t, conn, protocol.Envelope{Kind: protocol.KindExchange, ID: "req_fast"})

	first := tu.ReadEnvelope(t, conn)
	second := tu.ReadEnvelope(t, conn)

	assert.Equal(t, "req_fast", first.ID)
	assert.Equal(t, "fast", first.Text)
	assert.Equal(t, "req_slow", second.ID)
	assert.Equal(t, "slow", second.Text)
}

func TestRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MessagesPerSecond = 0.001
	cfg.Burst = 1
	f := newFixture(t, tu.NewMockExchange(t), cfg)

	legacy := f.dial(t)
	send(t, legacy, "one")
	send(t, legacy, "two")

	assert.Equal(t, testName+": one", tu.ReadText(t, legacy))
	assert.Equal(t, msgRateLimited, tu.ReadText(t, legacy))

	tagged := f.dial(t, protocol.Subprotocol)
	tu.ReadEnvelope(t, tagged)
	tu.WriteEnvelope(t, tagged, protocol.Envelope{Kind: protocol.KindPing, ID: "req_a"})
	tu.WriteEnvelope(t, tagged, protocol.Envelope{Kind: protocol.KindPing, ID: "req_b"})

	// The pong is produced concurrently, so the two replies may swap
	replies := map[string]protocol.Envelope{}
	for range 2 {
		env := tu.ReadEnvelope(t, tagged)
		replies[env.ID] = env
	}
	assert.Equal(t, protocol.KindPong, replies["req_a"].Kind)
	assert.Equal(t, protocol.KindError, replies["req_b"].Kind)
	assert.Equal(t, msgRateLimited, replies["req_b"].Text)

	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.WSRejected.WithLabelValues("rate_limit")))
}

func TestDisconnectUnregisters(t *testing.T) {
	f := newFixture(t, tu.NewMockExchange(t), DefaultConfig())
	conn := f.dial(t)
	require.Equal(t, 1, f.hub.Count())
	require.Equal(t, float64(1), testutil.ToFloat64(f.metrics.WSConnections))

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	assert.Eventually(t, func() bool {
		return f.hub.Count() == 0 && testutil.ToFloat64(f.metrics.WSConnections) == 0
	}, 2*time.Second, 5*time.Millisecond)
}
