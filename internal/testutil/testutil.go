// Package testutil provides testing utilities and helpers shared by package tests.
package testutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/exchangechat/internal/protocol"
)

// MockExchange is a mock implementation of the exchange commands for testing.
type MockExchange struct {
	mock.Mock
}

// Summary mocks the Summary method.
func (m *MockExchange) Summary(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// History mocks the History method.
func (m *MockExchange) History(ctx context.Context, days string) (string, error) {
	args := m.Called(ctx, days)
	return args.String(0), args.Error(1)
}

// Convert mocks the Convert method.
func (m *MockExchange) Convert(ctx context.Context, conv protocol.Conversion) (string, error) {
	args := m.Called(ctx, conv)
	return args.String(0), args.Error(1)
}

// NewMockExchange creates a new mock exchange with default behaviors.
func NewMockExchange(t *testing.T) *MockExchange {
	t.Helper()
	m := new(MockExchange)

	// Default behavior: a fixed summary
	m.On("Summary", mock.Anything).
		Return("USD: buy: 41.00000, sale: 41.60000\nEUR: buy: 44.50000, sale: 45.20000", nil).
		Maybe()

	return m
}

// MockSender records outbound commands and can be told to fail.
type MockSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

// NewMockSender creates a sender that accepts everything.
func NewMockSender() *MockSender {
	return &MockSender{}
}

// Send records text, or returns the configured error.
func (s *MockSender) Send(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, text)
	return nil
}

// Fail makes every following Send return err.
func (s *MockSender) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Sent returns a copy of the recorded commands.
func (s *MockSender) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

// WaitSent blocks until n commands were recorded.
func (s *MockSender) WaitSent(t *testing.T, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(s.Sent()) >= n
	}, 2*time.Second, 5*time.Millisecond, "expected %d sent commands", n)
	return s.Sent()
}

// WSURL converts an httptest server URL to its WebSocket form.
func WSURL(server *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + path
}

// DialWS opens a raw WebSocket to url, offering subprotocols when given, and
// closes it when the test ends.
func DialWS(t *testing.T, url string, subprotocols ...string) *websocket.Conn {
	t.Helper()

	dialer := websocket.Dialer{
		HandshakeTimeout: 2 * time.Second,
		Subprotocols:     subprotocols,
	}
	conn, resp, err := dialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// ReadText reads one text frame, failing the test after a short deadline.
func ReadText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, msgType)
	return string(data)
}

// ReadEnvelope reads one tagged envelope.
func ReadEnvelope(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	env, err := protocol.Decode([]byte(ReadText(t, conn)))
	require.NoError(t, err)
	return env
}

// WriteEnvelope writes one tagged envelope.
func WriteEnvelope(t *testing.T, conn *websocket.Conn, env protocol.Envelope) {
	t.Helper()
	data, err := protocol.Encode(env)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

// Echo is an http.Handler that upgrades and echoes every text frame back,
// optionally accepting the tagged subprotocol.
func Echo(subprotocols ...string) http.Handler {
	upgrader := websocket.Upgrader{Subprotocols: subprotocols}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(msgType, data); err != nil {
				return
			}
		}
	})
}
