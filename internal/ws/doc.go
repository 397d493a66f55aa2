// Package ws serves the exchange chat over WebSocket.
//
// Two wire protocols share one endpoint. A client that negotiates the
// exchangechat.v1 subprotocol speaks tagged JSON envelopes; any other client
// speaks legacy text and gets plain text back.
//
// Legacy commands (Client → Server):
//   - exchange: current USD and EUR rates
//   - exchange <days>: rate history for the last 1..10 days
//   - buy_convert <amount> <currency>, sell_convert <amount> <currency>
//   - anything else: chat text broadcast as "{name}: {text}"
//
// Tagged kinds (Client → Server): chat, exchange, buy_convert, sell_convert, ping.
// Replies (Server → Client) are result, error or pong envelopes carrying the
// request id; chat lines arrive as chat envelopes and the greeting as system.
//
// Legacy commands are answered in the order they arrive, which is what lets
// legacy clients match replies by position. Tagged commands run concurrently.
//
// Example Usage:
//
//	handler := ws.NewHandler(hub, exchangeService, ws.DefaultConfig(), ws.WithLogger(logger))
//	router.GET("/ws", handler.HandleConnection)
package ws
