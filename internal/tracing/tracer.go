package tracing

import (
	"context"
	"time"

	"github.com/GriffinCanCode/AgentOS/sensor/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/sensor/internal/shared/id"
	"go.uber.org/zap"
)

// Enqueuer receives completed traces
type Enqueuer interface {
	Enqueue(trace *Trace)
}

var (
	defaultEntrySpans = []string{"rack", "http-server", "rpc-server", "kafka-consumer", "sidekiq-worker"}
	defaultExitSpans  = []string{"http-client", "rpc-client", "kafka-producer", "sql", "activerecord", "sidekiq-client", "redis"}
)

// Tracer creates spans on execution flows and hands finished traces to a queue
type Tracer struct {
	service      string
	logger       *zap.Logger
	queue        Enqueuer
	metrics      *monitoring.Metrics
	ids          *id.Generator
	traceIDWidth int
	kinds        map[string]Kind
	now          func() time.Time
}

// Option configures a Tracer
type Option func(*Tracer)

// WithMetrics records span counts
func WithMetrics(m *monitoring.Metrics) Option {
	return func(t *Tracer) {
		t.metrics = m
	}
}

// WithIDGenerator replaces the id generator
func WithIDGenerator(g *id.Generator) Option {
	return func(t *Tracer) {
		t.ids = g
	}
}

// WithTraceIDWidth sets the width of new trace ids (id.Width64 or id.Width128)
func WithTraceIDWidth(width int) Option {
	return func(t *Tracer) {
		t.traceIDWidth = width
	}
}

// WithEntrySpans registers span names reported as entry spans
func WithEntrySpans(names ...string) Option {
	return func(t *Tracer) {
		for _, n := range names {
			t.kinds[n] = KindEntry
		}
	}
}

// WithExitSpans registers span names reported as exit spans
func WithExitSpans(names ...string) Option {
	return func(t *Tracer) {
		for _, n := range names {
			t.kinds[n] = KindExit
		}
	}
}

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(t *Tracer) {
		t.now = now
	}
}

// New creates a new tracer instance
func New(service string, queue Enqueuer, logger *zap.Logger, opts ...Option) *Tracer {
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &Tracer{
		service:      service,
		logger:       logger,
		queue:        queue,
		ids:          id.Default(),
		traceIDWidth: id.Width64,
		kinds:        make(map[string]Kind),
		now:          time.Now,
	}
	for _, n := range defaultEntrySpans {
		t.kinds[n] = KindEntry
	}
	for _, n := range defaultExitSpans {
		t.kinds[n] = KindExit
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Service returns the configured service name
func (t *Tracer) Service() string {
	return t.service
}

// ============================================================================
// Span Options
// ============================================================================

type spanConfig struct {
	tags   map[string]any
	data   map[string]any
	parent *SpanContext
	start  time.Time
}

// SpanOption configures a span at start
type SpanOption func(*spanConfig)

// WithTags sets initial tags
func WithTags(tags map[string]any) SpanOption {
	return func(c *spanConfig) {
		c.tags = tags
	}
}

// WithData sets initial span data
func WithData(payload map[string]any) SpanOption {
	return func(c *spanConfig) {
		c.data = payload
	}
}

// ChildOf makes the new span a child of parent instead of the current span of ctx
func ChildOf(parent SpanContext) SpanOption {
	return func(c *spanConfig) {
		c.parent = &parent
	}
}

// WithStartTime overrides the start time
func WithStartTime(start time.Time) SpanOption {
	return func(c *spanConfig) {
		c.start = start
	}
}

// ============================================================================
// Span Lifecycle
// ============================================================================

// StartSpan opens a span and returns it with a context carrying it as the
// current span. ctx itself is never modified, so goroutines sharing ctx start
// sibling spans. Without ChildOf the parent is the current span of ctx, then
// the forked or remote parent, otherwise the span starts a new trace.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (span *Span, out context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	out = ctx

	defer func() {
		if r := recover(); r != nil {
			t.internalError("start span", r)
			span, out = nil, ctx
		}
	}()

	var cfg spanConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	start := cfg.start
	if start.IsZero() {
		start = t.now()
	}

	p := t.resolveParent(ctx, cfg.parent)

	span = &Span{
		TraceID:   p.trace.id,
		SpanID:    t.ids.ID(id.Width64),
		ParentID:  p.id,
		Name:      name,
		Kind:      t.kindOf(name),
		Timestamp: toMillis(start),
		Data:      make(map[string]any),
		baggage:   p.baggage,
		start:     start,
		trace:     p.trace,
		parent:    p.span,
		tracer:    t,
	}
	if span.Kind == KindEntry && t.service != "" {
		span.Data["service"] = t.service
	}
	span.SetTags(cfg.tags)
	span.SetData(cfg.data)

	p.trace.setRoot(span)

	if t.metrics != nil {
		t.metrics.RecordSpanStarted(span.Kind.String())
	}

	return span, withSpan(ctx, span)
}

// parentRef is what a new span inherits
type parentRef struct {
	trace   *Trace
	id      string
	span    *Span
	baggage map[string]any
}

func (t *Tracer) resolveParent(ctx context.Context, explicit *SpanContext) parentRef {
	if explicit != nil && explicit.IsValid() {
		return t.continueFrom(*explicit)
	}
	f := frameFrom(ctx)
	if cur := f.current(); cur != nil {
		return parentRef{trace: cur.trace, id: cur.SpanID, span: cur, baggage: cur.Baggage()}
	}
	if f != nil && f.span == nil && f.forked != nil && f.forked.IsValid() {
		return t.continueFrom(*f.forked)
	}
	if remote, ok := RemoteParentFrom(ctx); ok && remote.IsValid() {
		return t.continueFrom(remote)
	}
	return parentRef{trace: newTrace(t.ids.ID(t.traceIDWidth), "")}
}

func (t *Tracer) continueFrom(parent SpanContext) parentRef {
	trace := parent.trace
	if trace == nil {
		trace = newTrace(parent.TraceID, parent.SpanID)
	}
	return parentRef{trace: trace, id: parent.SpanID, span: parent.span, baggage: copyMap(parent.Baggage)}
}

func (t *Tracer) kindOf(name string) Kind {
	if k, ok := t.kinds[name]; ok {
		return k
	}
	return KindIntermediate
}

// Finish ends span now
func (t *Tracer) Finish(span *Span) {
	t.FinishAt(span, t.now())
}

// FinishAt ends span at end and records it on its trace. Contexts carrying
// the span fall back to its nearest open ancestor. Finishing the root closes
// the trace and enqueues it.
func (t *Tracer) FinishAt(span *Span, end time.Time) {
	if span == nil || !span.finished.CompareAndSwap(false, true) {
		return
	}
	defer t.recoverInternal("finish span")

	duration := toMillis(end) - span.Timestamp
	if duration < 0 {
		duration = 0
	}
	span.mu.Lock()
	span.Duration = duration
	span.mu.Unlock()

	if t.metrics != nil {
		t.metrics.RecordSpanFinished(span.Kind.String())
	}

	accepted, closed := span.trace.record(span)
	if !accepted {
		t.logger.Debug("span finished after its trace was closed, dropping",
			zap.String("trace_id", span.TraceID),
			zap.String("span_id", span.SpanID),
			zap.String("operation", span.Name),
		)
		return
	}

	t.logger.Debug("span completed",
		zap.String("trace_id", span.TraceID),
		zap.String("span_id", span.SpanID),
		zap.String("operation", span.Name),
		zap.Int64("duration_ms", span.Duration),
	)

	if closed && t.queue != nil {
		t.queue.Enqueue(span.trace)
	}
}

// ============================================================================
// Adapter Conveniences
// ============================================================================

// LogEntry opens a span carrying payload as its data. It returns the context
// to pass to LogError and LogExit.
func (t *Tracer) LogEntry(ctx context.Context, name string, payload map[string]any) context.Context {
	_, out := t.StartSpan(ctx, name, WithData(payload))
	return out
}

// LogExit merges payload into the current span of ctx and finishes it
func (t *Tracer) LogExit(ctx context.Context, name string, payload map[string]any) {
	defer t.recoverInternal("log exit")

	span := SpanFromContext(ctx)
	if span == nil {
		t.logger.Debug("log exit without an active span", zap.String("operation", name))
		return
	}
	if name != "" && span.Name != name {
		t.logger.Debug("log exit name differs from current span",
			zap.String("operation", name),
			zap.String("current", span.Name),
		)
	}
	span.SetData(payload)
	t.Finish(span)
}

// LogError marks the current span of ctx as errored
func (t *Tracer) LogError(ctx context.Context, err error) {
	defer t.recoverInternal("log error")

	if span := SpanFromContext(ctx); span != nil {
		span.RecordError(err)
	}
}

// LogInfo merges payload into the current span of ctx
func (t *Tracer) LogInfo(ctx context.Context, payload map[string]any) {
	defer t.recoverInternal("log info")

	if span := SpanFromContext(ctx); span != nil {
		span.SetData(payload)
	}
}

// ============================================================================
// Baggage and Inspection
// ============================================================================

// SetBaggageItem sets a baggage item on the current span of ctx
func (t *Tracer) SetBaggageItem(ctx context.Context, key string, value any) {
	SpanFromContext(ctx).SetBaggageItem(key, value)
}

// GetBaggageItem reads a baggage item from the current span of ctx
func (t *Tracer) GetBaggageItem(ctx context.Context, key string) any {
	return SpanFromContext(ctx).BaggageItem(key)
}

// CurrentTrace returns the trace of the current span of ctx, or nil
func (t *Tracer) CurrentTrace(ctx context.Context) *Trace {
	if span := SpanFromContext(ctx); span != nil {
		return span.trace
	}
	return nil
}

// CurrentSpan returns the current span of ctx, or nil
func (t *Tracer) CurrentSpan(ctx context.Context) *Span {
	return SpanFromContext(ctx)
}

// Context returns the span context of the current span of ctx
func (t *Tracer) Context(ctx context.Context) (SpanContext, bool) {
	return SpanContextFromContext(ctx)
}

// Tracing reports whether ctx has an open span
func (t *Tracer) Tracing(ctx context.Context) bool {
	return SpanFromContext(ctx) != nil
}

// Fork returns a context for work that may outlive the current span of ctx.
// Spans started on it stay children of that span even after it finishes.
func (t *Tracer) Fork(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	f := &frame{}
	if sc, ok := SpanContextFromContext(ctx); ok {
		f.forked = &sc
	}
	return context.WithValue(ctx, frameKey, f)
}

func (t *Tracer) recoverInternal(op string) {
	if r := recover(); r != nil {
		t.internalError(op, r)
	}
}

func (t *Tracer) internalError(op string, r any) {
	t.logger.Warn("tracer internal error",
		zap.String("operation", op),
		zap.Any("panic", r),
	)
}
