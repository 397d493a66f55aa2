// Package main is the entry point for the exchange chat server.
//
// The server accepts WebSocket chat clients, broadcasts chat lines under
// random display names and answers currency commands with PrivatBank rates.
//
// Endpoints:
//
//	GET /, /ws   WebSocket; the exchangechat.v1 subprotocol selects JSON
//	             envelopes, otherwise commands are plain text
//	GET /health  clients, breaker state and a metrics snapshot
//	GET /metrics Prometheus exposition
//
// Settings come from PORT, HOST, CORS_ORIGINS, LOG_*, RATE_LIMIT_*,
// PRIVATBANK_*, EXCHANGE_* and WS_* variables. Flags win over the
// environment:
//
//	./server -port 8070 -journal /var/log/exchange_log.txt
//	./server -rates-url http://localhost:9000/p24api -journal ""
//	./server -dev                 # colored logs, debug level
//
// SIGINT and SIGTERM stop accepting connections and drain for up to ten
// seconds.
package main
