/*
Package monitoring provides Prometheus metrics for the exchange chat server.

# Overview

Every Metrics value owns a registry, so tests and multiple servers in one
process never collide on registration.

# Features

- HTTP request metrics (latency, status)
- WebSocket connection and message metrics
- Chat command metrics (kind, outcome, latency)
- Exchange rates API metrics (calls, latency, cache, breaker state)
- Go runtime and process collectors

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", metrics.GinHandler())

	timer := monitoring.NewTimer(metrics, "exchange")
	// ... handle command ...
	timer.Stop(monitoring.StatusOK)
*/
package monitoring
