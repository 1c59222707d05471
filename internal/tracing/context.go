package tracing

import (
	"context"

	"github.com/GriffinCanCode/AgentOS/sensor/internal/shared/id"
)

// SpanContext is the portable identity of a span plus its baggage
type SpanContext struct {
	TraceID string
	SpanID  string
	Baggage map[string]any

	// set when captured from a local span so children join its trace
	trace *Trace
	span  *Span
}

// IsValid reports whether both ids are present
func (c SpanContext) IsValid() bool {
	return c.TraceID != "" && c.SpanID != ""
}

// IsRemote reports whether the context arrived from another process
func (c SpanContext) IsRemote() bool {
	return c.trace == nil
}

// TraceIDHeader returns the trace id in its propagation header form
func (c SpanContext) TraceIDHeader() string {
	return id.IDToHeader(c.TraceID)
}

// SpanIDHeader returns the span id in its propagation header form
func (c SpanContext) SpanIDHeader() string {
	return id.IDToHeader(c.SpanID)
}

// BaggageItem returns a copy of the baggage item stored under key
func (c SpanContext) BaggageItem(key string) any {
	return copyValue(c.Baggage[key])
}

// WithBaggageItem returns a copy of the context with one more baggage item
func (c SpanContext) WithBaggageItem(key string, value any) SpanContext {
	next := copyMap(c.Baggage)
	if next == nil {
		next = make(map[string]any, 1)
	}
	next[key] = copyValue(value)
	c.Baggage = next
	return c
}

// frame is the tracing state one context carries. Frames are never mutated:
// starting a span derives a new context with a new frame, so goroutines
// sharing a context can start spans concurrently and each gets a sibling
// of the same parent.
type frame struct {
	span   *Span
	forked *SpanContext
}

// current returns the innermost open span reachable from the frame. Finished
// spans are skipped in favour of their nearest open ancestor, and nothing is
// current once the trace has closed.
func (f *frame) current() *Span {
	if f == nil {
		return nil
	}
	s := f.span
	for s != nil && s.Finished() {
		s = s.parent
	}
	if s != nil && s.trace.Closed() {
		return nil
	}
	return s
}

// Context keys
type contextKey int

const (
	frameKey contextKey = iota
	remoteKey
)

func frameFrom(ctx context.Context) *frame {
	if ctx == nil {
		return nil
	}
	f, _ := ctx.Value(frameKey).(*frame)
	return f
}

func withSpan(ctx context.Context, s *Span) context.Context {
	return context.WithValue(ctx, frameKey, &frame{span: s})
}

// WithFlow returns a context that starts a new execution flow: spans started
// on it ignore any span open in ctx. An inbound remote parent is kept.
func WithFlow(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, frameKey, &frame{})
}

// ContextWithRemoteParent stores an inbound span context. The next span
// started on a flow with no open spans continues it.
func ContextWithRemoteParent(ctx context.Context, sc SpanContext) context.Context {
	sc.trace = nil
	sc.span = nil
	return context.WithValue(ctx, remoteKey, sc)
}

// RemoteParentFrom returns the inbound span context stored in ctx
func RemoteParentFrom(ctx context.Context) (SpanContext, bool) {
	if ctx == nil {
		return SpanContext{}, false
	}
	sc, ok := ctx.Value(remoteKey).(SpanContext)
	sc.Baggage = copyMap(sc.Baggage)
	return sc, ok
}

// SpanFromContext returns the innermost open span of ctx
func SpanFromContext(ctx context.Context) *Span {
	return frameFrom(ctx).current()
}

// SpanContextFromContext returns the context of the innermost open span, or
// the forked or inbound remote parent when nothing is open locally
func SpanContextFromContext(ctx context.Context) (SpanContext, bool) {
	if s := SpanFromContext(ctx); s != nil {
		return s.Context(), true
	}
	if f := frameFrom(ctx); f != nil && f.forked != nil {
		sc := *f.forked
		sc.Baggage = copyMap(sc.Baggage)
		return sc, true
	}
	return RemoteParentFrom(ctx)
}
