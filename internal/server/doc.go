// Package server assembles the exchange chat server.
//
// It wires the PrivatBank rates client, the exchange service and its journal,
// the chat hub and the WebSocket handler behind a gin router with recovery,
// tracing, metrics, CORS and per-IP rate limiting.
//
// Routes:
//   - GET /, GET /ws: WebSocket chat (legacy text or exchangechat.v1)
//   - GET /health: JSON status, client count, breaker state, counters
//   - GET /metrics: Prometheus exposition
//
// Example Usage:
//
//	srv, err := server.New(config.LoadOrDefault())
//	if err != nil {
//		return err
//	}
//	go srv.Run()
//	defer srv.Shutdown(ctx)
package server
