/*
Package tracing records spans and traces inside the instrumented process.

# Overview

A Trace is the set of spans one logical request produces in this process.
The current span travels in context.Context. StartSpan never changes the
context it is given; it returns a derived one carrying the new span, so a span
started without an explicit parent nests under the current span of its
context. Goroutines handed the same context start siblings and never see each
other's spans. Once a span finishes, its context falls back to the nearest
open ancestor, and once the trace closes nothing is current. WithFlow starts
a fresh flow for an inbound request; Tracer.Fork pins work that may outlive
the current span to it.

When the root span of a trace finishes the trace is closed and handed to the
Enqueuer (the processor), which delivers it in the background.

# Usage

	tracer := tracing.New("checkout", processor, logger)

	// Explicit spans
	span, ctx := tracer.StartSpan(ctx, "rack", tracing.WithTags(map[string]any{"user": 42}))
	child, ctx := tracer.StartSpan(ctx, "render")
	child.Finish()
	span.Finish()

	// Adapter style, no span reference held
	ctx = tracer.LogEntry(ctx, "sidekiq-client", map[string]any{"sidekiq-client": job})
	if err != nil {
		tracer.LogError(ctx, err)
	}
	tracer.LogExit(ctx, "sidekiq-client", nil)

	// HTTP and gRPC middleware
	router.Use(tracing.HTTPMiddleware(tracer))
	server := grpc.NewServer(grpc.UnaryInterceptor(tracing.GRPCUnaryInterceptor(tracer)))

# Propagation

Propagator implements the OpenTelemetry TextMapPropagator interface using the
X-Instana-T and X-Instana-S headers (16 hex characters) plus the W3C baggage
header for string baggage items.

# Failure Handling

Internal errors never reach the instrumented application: public entry points
recover, log a warning and continue with tracing degraded.
*/
package tracing
