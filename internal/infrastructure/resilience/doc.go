/*
Package resilience provides a circuit breaker for calls to the exchange rates API.

# Overview

When PrivatBank is down or slow, every chat command that needs rates would
otherwise wait for its own timeout. The breaker fails those calls fast
until the upstream has had time to recover.

# Features

- Three-state circuit breaker (Closed, Open, Half-Open)
- Context-aware Execute and a generic Do helper
- Pluggable success classification (IsSuccessful)
- State change callbacks for logging and metrics
- Injectable clock for tests

# Usage

	breaker := resilience.New("privatbank", resilience.Settings{
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("Circuit breaker state changed", zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	rates, err := resilience.Do(ctx, breaker, func(ctx context.Context) ([]Rate, error) {
		return client.fetch(ctx)
	})

# Pattern

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           |
	                                           v
	                                         Open
*/
package resilience
