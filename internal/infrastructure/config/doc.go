// Package config provides 12-factor configuration for the exchange chat
// server and client.
//
// Server configuration is loaded from environment variables with defaults.
// CLI flags in cmd/server override it.
//
// Server Sections:
//   - Server: listen host and port (localhost:8070)
//   - Logging: log level and output format
//   - RateLimit: per-IP HTTP rate limiting
//   - Exchange: PrivatBank API client, cache, journal, history limits
//   - WebSocket: per-connection message limits and buffers
//
// Client configuration layers an optional YAML or TOML file and
// EXCHANGECHAT_* environment variables over DefaultClient.
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Server running on %s\n", cfg.Server.Addr())
//
// Environment Variables:
//   - PORT, HOST, LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
//   - PRIVATBANK_URL, PRIVATBANK_TIMEOUT, EXCHANGE_CACHE_TTL, EXCHANGE_LOG_PATH
//   - EXCHANGECHAT_URL, EXCHANGECHAT_PROTOCOL, EXCHANGECHAT_TIMEOUT (client)
package config
