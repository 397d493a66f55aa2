// Package main is the entry point for the exchange chat client.
//
// Without a subcommand the client opens a terminal UI with a chat input,
// an amount input and a currency selector. The send, buy, sell, rates and
// history subcommands run a single request and print the reply.
//
// Configuration, lowest precedence first:
//   - Defaults (ws://127.0.0.1:8070, tagged protocol, 30s timeout)
//   - Config file given with --config (.yaml, .yml or .toml)
//   - EXCHANGECHAT_* environment variables
//   - Command-line flags
//
// Logs go to a file (exchangechat-client.log by default) so they never
// mix with the terminal UI.
//
// Usage:
//
//	exchangechat
//	exchangechat --protocol legacy --url ws://chat.example:8070
//	exchangechat buy 100 EUR
//	exchangechat history 5
package main
