/*
Package tracing provides lightweight request tracing through structured logs.

# Overview

A trace follows one chat command from the WebSocket frame that carried it
through the exchange service to the PrivatBank API call. Spans are logged
with zap when they finish; there is no external exporter.

# Features

- Trace context propagation via X-Trace-ID and X-Span-ID headers
- Parent-child spans through context.Context
- Gin middleware for HTTP routes
- Resty middleware for outgoing API calls
- Buffered, non-blocking span submission

# Usage

	tracer := tracing.New("exchangechat", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "ws.exchange")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()
*/
package tracing
