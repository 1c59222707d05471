// Package httpclient traces outgoing HTTP requests.
package httpclient

import (
	"errors"
	"net/http"

	"github.com/GriffinCanCode/AgentOS/sensor/internal/tracing"
	"go.opentelemetry.io/otel/propagation"
)

// SpanName is the exit span opened per request
const SpanName = "http-client"

// Transport opens an exit span for each request made inside a trace and
// propagates the trace headers downstream. Requests outside a trace pass
// through untouched.
type Transport struct {
	base   http.RoundTripper
	tracer *tracing.Tracer
}

// NewTransport wraps base, or http.DefaultTransport when base is nil
func NewTransport(tracer *tracing.Tracer, base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{base: base, tracer: tracer}
}

// Client returns an http.Client using a traced transport over base
func Client(tracer *tracing.Tracer, base http.RoundTripper) *http.Client {
	return &http.Client{Transport: NewTransport(tracer, base)}
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if !t.tracer.Tracing(ctx) {
		return t.base.RoundTrip(req)
	}

	span, ctx := t.tracer.StartSpan(ctx, SpanName, tracing.WithData(map[string]any{
		"http": map[string]any{
			"method": req.Method,
			"url":    req.URL.String(),
			"host":   req.URL.Host,
		},
	}))
	defer span.Finish()

	// RoundTrippers must not modify the caller's request
	out := req.Clone(ctx)
	tracing.Propagator{}.Inject(ctx, propagation.HeaderCarrier(out.Header))

	resp, err := t.base.RoundTrip(out)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetData(map[string]any{"http": map[string]any{"status": resp.StatusCode}})
	if resp.StatusCode >= http.StatusInternalServerError {
		span.RecordError(errors.New(http.StatusText(resp.StatusCode)))
	}
	return resp, nil
}
