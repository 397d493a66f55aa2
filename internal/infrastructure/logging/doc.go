// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: colored console output for human readability
//
// The server logs to stdout. The terminal client logs to a file
// (FileConfig) because stdout belongs to the UI.
//
// Example Usage:
//
//	logger := logging.ForLevel(cfg.Logging.Level, cfg.Logging.Development)
//	logger.Info("Server starting", zap.String("port", "8070"))
//	logger.Error("Rates fetch failed", zap.Error(err))
package logging
