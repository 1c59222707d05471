package tracing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// recordingQueue collects enqueued traces
type recordingQueue struct {
	mu     sync.Mutex
	traces []*Trace
}

func (q *recordingQueue) Enqueue(tr *Trace) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.traces = append(q.traces, tr)
}

func (q *recordingQueue) all() []*Trace {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*Trace(nil), q.traces...)
}

func newTestTracer(t *testing.T, opts ...Option) (*Tracer, *recordingQueue) {
	t.Helper()
	q := &recordingQueue{}
	return New("", q, zap.NewNop(), opts...), q
}

func TestSpanTags(t *testing.T) {
	tracer, q := newTestTracer(t)

	span, _ := tracer.StartSpan(context.Background(), "rack")
	span.SetTag("tag_integer", 1234)
	span.SetTag("tag_boolean", true)
	span.SetTag("tag_array", []any{1, 2, 3})
	span.SetTag("tag_string", "1234")
	span.Finish()

	assert.Equal(t, 1234, span.Tag("tag_integer"))
	assert.Equal(t, true, span.Tag("tag_boolean"))
	assert.Equal(t, []any{1, 2, 3}, span.Tag("tag_array"))
	assert.Equal(t, "1234", span.Tag("tag_string"))

	// tags reach the wire under sdk.custom.tags
	traces := q.all()
	require.Len(t, traces, 1)
	wire := traces[0].Spans()[0].Clone()
	tags := wire.Data["sdk"].(map[string]any)["custom"].(map[string]any)["tags"].(map[string]any)
	assert.Equal(t, "1234", tags["tag_string"])
}

func TestStartOptions(t *testing.T) {
	tracer, _ := newTestTracer(t)

	start := time.Now().Add(-2 * time.Second)
	span, _ := tracer.StartSpan(context.Background(), "my_app_entry",
		WithTags(map[string]any{"my_tag": "value"}),
		WithStartTime(start),
	)
	finish := time.Now()
	span.FinishAt(finish)

	assert.Equal(t, "value", span.Tag("my_tag"))
	assert.Equal(t, start, span.StartTime())
	assert.Equal(t, start.UnixMilli(), span.Timestamp)
	assert.Equal(t, finish.UnixMilli()-start.UnixMilli(), span.Duration)
	assert.True(t, span.Finished())
}

func TestNegativeDurationClamped(t *testing.T) {
	tracer, _ := newTestTracer(t)

	start := time.Now()
	span, _ := tracer.StartSpan(context.Background(), "rack", WithStartTime(start))
	span.FinishAt(start.Add(-time.Second))

	assert.Equal(t, int64(0), span.Duration)
}

func TestNestedSpansUsingChildOf(t *testing.T) {
	tracer, q := newTestTracer(t)
	ctx := context.Background()

	entry, ctx := tracer.StartSpan(ctx, "rack")
	ac, _ := tracer.StartSpan(ctx, "action_controller", ChildOf(entry.Context()))
	av, _ := tracer.StartSpan(ctx, "action_view", ChildOf(entry.Context()))
	av.Finish()
	ac.Finish()
	entry.Finish()

	traces := q.all()
	require.Len(t, traces, 1)
	trace := traces[0]
	assert.True(t, trace.Valid())

	spans := trace.Spans()
	require.Len(t, spans, 3)

	// finish order
	assert.Same(t, av, spans[0])
	assert.Same(t, ac, spans[1])
	assert.Same(t, entry, spans[2])

	assert.True(t, entry.IsRoot())
	assert.Empty(t, entry.ParentID)
	assert.Equal(t, entry.SpanID, ac.ParentID)
	assert.Equal(t, entry.SpanID, av.ParentID)
	for _, s := range spans {
		assert.Equal(t, trace.ID(), s.TraceID)
	}
}

func TestImplicitNesting(t *testing.T) {
	tracer, q := newTestTracer(t)

	entry, ctx := tracer.StartSpan(context.Background(), "rack")
	ac, acCtx := tracer.StartSpan(ctx, "action_controller")
	av, avCtx := tracer.StartSpan(acCtx, "action_view")

	assert.Equal(t, "action_view", tracer.CurrentSpan(avCtx).Name)
	assert.Equal(t, "rack", tracer.CurrentSpan(ctx).Name)
	assert.Same(t, entry.trace, tracer.CurrentTrace(avCtx))

	// finishing falls back to the nearest open ancestor
	av.Finish()
	assert.Equal(t, "action_controller", tracer.CurrentSpan(avCtx).Name)
	ac.Finish()
	assert.Equal(t, "rack", tracer.CurrentSpan(avCtx).Name)
	entry.Finish()

	assert.Nil(t, tracer.CurrentTrace(avCtx))
	assert.False(t, tracer.Tracing(avCtx))
	assert.False(t, tracer.Tracing(ctx))

	require.Len(t, q.all(), 1)
	trace := q.all()[0]
	assert.True(t, trace.Valid())
	assert.Equal(t, entry.SpanID, ac.ParentID)
	assert.Equal(t, ac.SpanID, av.ParentID)
}

func TestBaggageInheritance(t *testing.T) {
	tracer, _ := newTestTracer(t)

	entry, ctx := tracer.StartSpan(context.Background(), "rack")
	entryCtx := entry.Context()

	ac, ctx := tracer.StartSpan(ctx, "action_controller")
	ac.SetBaggageItem("my_bag", 1)
	acCtx := ac.Context()

	av, _ := tracer.StartSpan(ctx, "action_view")
	avCtx := av.Context()

	av.Finish()
	ac.Finish()
	entry.Finish()

	assert.Nil(t, entryCtx.BaggageItem("my_bag"))
	assert.Nil(t, entry.BaggageItem("my_bag"))
	assert.Equal(t, 1, acCtx.BaggageItem("my_bag"))
	assert.Equal(t, 1, avCtx.BaggageItem("my_bag"))
	assert.Equal(t, 1, av.BaggageItem("my_bag"))
}

func TestContextBaggageNotRetroactive(t *testing.T) {
	tracer, _ := newTestTracer(t)

	entry, ctx := tracer.StartSpan(context.Background(), "rack")
	ac, ctx := tracer.StartSpan(ctx, "action_controller")
	acCtxBefore := ac.Context()

	ac.SetBaggageItem("my_bag", "later")
	av, _ := tracer.StartSpan(ctx, "action_view")

	assert.Nil(t, acCtxBefore.BaggageItem("my_bag"))
	assert.Equal(t, "later", ac.Context().BaggageItem("my_bag"))
	assert.Equal(t, "later", av.BaggageItem("my_bag"))
	assert.Nil(t, entry.BaggageItem("my_bag"))
}

func TestComplexBaggageIsCopied(t *testing.T) {
	tracer, _ := newTestTracer(t)

	entry, ctx := tracer.StartSpan(context.Background(), "rack")
	bag := map[string]any{"nested": map[string]any{"a": 1}}
	entry.SetBaggageItem("complex", bag)

	child, _ := tracer.StartSpan(ctx, "child")
	captured := child.Context()

	// mutate what the caller handed in and what the context returned
	bag["nested"].(map[string]any)["a"] = 2
	captured.Baggage["complex"].(map[string]any)["nested"].(map[string]any)["a"] = 3

	got := child.BaggageItem("complex").(map[string]any)
	assert.Equal(t, 1, got["nested"].(map[string]any)["a"])
	assert.Equal(t, 1, entry.BaggageItem("complex").(map[string]any)["nested"].(map[string]any)["a"])
}

func TestTracerBaggageHelpers(t *testing.T) {
	tracer, _ := newTestTracer(t)
	ctx := context.Background()

	// no span: no-ops
	tracer.SetBaggageItem(ctx, "k", "v")
	assert.Nil(t, tracer.GetBaggageItem(ctx, "k"))

	_, ctx = tracer.StartSpan(ctx, "rack")
	tracer.SetBaggageItem(ctx, "k", "v")
	assert.Equal(t, "v", tracer.GetBaggageItem(ctx, "k"))

	sc, ok := tracer.Context(ctx)
	require.True(t, ok)
	assert.Equal(t, "v", sc.BaggageItem("k"))
}

func TestLogEntryExitError(t *testing.T) {
	tracer, q := newTestTracer(t)

	ctx := tracer.LogEntry(context.Background(), "rack", map[string]any{"http": map[string]any{"method": "GET"}})
	ctx2 := tracer.LogEntry(ctx, "sidekiq-client", map[string]any{"sidekiq-client": map[string]any{"queue": "default"}})
	assert.Equal(t, "rack", tracer.CurrentSpan(ctx).Name)
	assert.Equal(t, "sidekiq-client", tracer.CurrentSpan(ctx2).Name)

	sc, ok := tracer.Context(ctx2)
	require.True(t, ok)
	assert.Len(t, sc.TraceIDHeader(), 16)
	assert.Len(t, sc.SpanIDHeader(), 16)

	tracer.LogError(ctx2, errors.New("boom"))
	tracer.LogExit(ctx2, "sidekiq-client", map[string]any{"sidekiq-client": map[string]any{"job_id": "abc"}})
	// the exited span is gone, the entry span is current again
	tracer.LogInfo(ctx2, map[string]any{"http": map[string]any{"status": 200}})
	tracer.LogExit(ctx2, "rack", nil)

	traces := q.all()
	require.Len(t, traces, 1)
	spans := traces[0].Spans()
	require.Len(t, spans, 2)

	exit := spans[0]
	assert.Equal(t, "sidekiq-client", exit.Name)
	assert.Equal(t, KindExit, exit.Kind)
	assert.True(t, exit.Error)
	assert.Equal(t, 1, exit.ErrorCount)
	data := exit.Data["sidekiq-client"].(map[string]any)
	assert.Equal(t, "default", data["queue"])
	assert.Equal(t, "abc", data["job_id"])
	assert.Equal(t, "boom", exit.Data["log"].(map[string]any)["message"])

	entry := spans[1]
	assert.Equal(t, KindEntry, entry.Kind)
	assert.False(t, entry.Error)
	assert.Equal(t, map[string]any{"method": "GET", "status": 200}, entry.Data["http"])
}

func TestLogExitWithoutSpan(t *testing.T) {
	tracer, q := newTestTracer(t)

	assert.NotPanics(t, func() {
		tracer.LogExit(context.Background(), "rack", map[string]any{"x": 1})
		tracer.LogError(context.Background(), errors.New("x"))
		tracer.LogInfo(context.Background(), nil)
	})
	assert.Empty(t, q.all())
}

func TestSeparateFlowsDoNotInterfere(t *testing.T) {
	tracer, q := newTestTracer(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, ctx := tracer.StartSpan(context.Background(), "rack")
			for j := 0; j < 5; j++ {
				child, _ := tracer.StartSpan(ctx, "work")
				child.Finish()
			}
			entry.Finish()
		}()
	}
	wg.Wait()

	traces := q.all()
	require.Len(t, traces, 10)
	ids := make(map[string]struct{})
	for _, tr := range traces {
		assert.True(t, tr.Valid())
		assert.Equal(t, 6, tr.Len())
		ids[tr.ID()] = struct{}{}
	}
	assert.Len(t, ids, 10)
}

func TestForkContinuesTrace(t *testing.T) {
	tracer, q := newTestTracer(t)

	entry, ctx := tracer.StartSpan(context.Background(), "rack")
	forked := tracer.Fork(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		span, _ := tracer.StartSpan(forked, "background")
		span.Finish()
	}()
	<-done

	entry.Finish()

	traces := q.all()
	require.Len(t, traces, 1)
	assert.True(t, traces[0].Valid())
	assert.Equal(t, 2, traces[0].Len())
	assert.Equal(t, entry.SpanID, traces[0].Spans()[0].ParentID)
}

func TestSpanAfterCloseIsDropped(t *testing.T) {
	tracer, q := newTestTracer(t)

	entry, ctx := tracer.StartSpan(context.Background(), "rack")
	late, _ := tracer.StartSpan(tracer.Fork(ctx), "late")
	entry.Finish()
	late.Finish()

	traces := q.all()
	require.Len(t, traces, 1)
	assert.Equal(t, 1, traces[0].Len())
	assert.True(t, traces[0].Closed())
}

func TestDoubleFinish(t *testing.T) {
	tracer, q := newTestTracer(t)

	span, _ := tracer.StartSpan(context.Background(), "rack")
	span.Finish()
	d := span.Duration
	span.Finish()

	assert.Equal(t, d, span.Duration)
	assert.Len(t, q.all(), 1)
}

func TestFinishedSpanIgnoresMutation(t *testing.T) {
	tracer, _ := newTestTracer(t)

	span, _ := tracer.StartSpan(context.Background(), "rack")
	span.Finish()
	span.SetTag("k", "v")
	span.SetData(map[string]any{"k": "v"})
	span.SetBaggageItem("k", "v")

	assert.Nil(t, span.Tag("k"))
	assert.Nil(t, span.Data["k"])
	assert.Nil(t, span.BaggageItem("k"))
}

func TestNilSpanIsSafe(t *testing.T) {
	var span *Span
	assert.NotPanics(t, func() {
		span.SetTag("k", 1)
		span.SetBaggageItem("k", 1)
		span.SetData(map[string]any{"k": 1})
		span.RecordError(errors.New("x"))
		span.Finish()
		_ = span.Context()
		_ = span.Clone()
		_ = span.IsRoot()
	})
}

func TestRemoteParentContinuation(t *testing.T) {
	tracer, q := newTestTracer(t)

	remote := SpanContext{TraceID: "0123456789abcdef", SpanID: "fedcba9876543210"}
	ctx := ContextWithRemoteParent(context.Background(), remote)

	entry, ctx := tracer.StartSpan(ctx, "rack")
	child, _ := tracer.StartSpan(ctx, "work")
	child.Finish()
	entry.Finish()

	assert.Equal(t, remote.TraceID, entry.TraceID)
	assert.Equal(t, remote.SpanID, entry.ParentID)
	assert.True(t, entry.IsRoot())

	traces := q.all()
	require.Len(t, traces, 1)
	assert.True(t, traces[0].Valid())
	assert.Equal(t, remote.SpanID, traces[0].RemoteParentID())
}

func TestTraceIDWidth(t *testing.T) {
	tracer, _ := newTestTracer(t, WithTraceIDWidth(2))

	span, _ := tracer.StartSpan(context.Background(), "rack")
	assert.Len(t, span.TraceID, 32)
	assert.Len(t, span.SpanID, 16)
	assert.Len(t, span.Context().TraceIDHeader(), 16)
}

func TestKindRegistry(t *testing.T) {
	tracer, _ := newTestTracer(t, WithEntrySpans("job"), WithExitSpans("mongo"))

	entry, ctx := tracer.StartSpan(context.Background(), "job")
	exit, _ := tracer.StartSpan(ctx, "mongo")
	other, _ := tracer.StartSpan(ctx, "compute")

	assert.Equal(t, KindEntry, entry.Kind)
	assert.Equal(t, KindExit, exit.Kind)
	assert.Equal(t, KindIntermediate, other.Kind)
}

func TestServiceNameOnEntrySpans(t *testing.T) {
	tracer := New("shop", &recordingQueue{}, zap.NewNop())

	entry, ctx := tracer.StartSpan(context.Background(), "rack")
	exit, _ := tracer.StartSpan(ctx, "sql")

	assert.Equal(t, "shop", entry.Data["service"])
	assert.Nil(t, exit.Data["service"])
}

// panickingQueue makes the tracer hit an internal failure
type panickingQueue struct{}

func (panickingQueue) Enqueue(*Trace) { panic("queue exploded") }

func TestInternalFailureIsContained(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	tracer := New("", panickingQueue{}, zap.New(core))

	span, _ := tracer.StartSpan(context.Background(), "rack")
	assert.NotPanics(t, func() { span.Finish() })

	assert.Equal(t, 1, logs.FilterMessage("tracer internal error").Len())
}

func TestTraceJSON(t *testing.T) {
	tracer, q := newTestTracer(t)

	span, _ := tracer.StartSpan(context.Background(), "rack")
	span.Finish()

	raw, err := q.all()[0].MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"valid":true`)
	assert.Contains(t, string(raw), `"n":"rack"`)
	assert.Contains(t, string(raw), `"k":1`)
}

func TestSharedContextStartsSiblings(t *testing.T) {
	tracer, q := newTestTracer(t)

	entry, ctx := tracer.StartSpan(context.Background(), "rack")

	// the first child stays open while the second starts from the same ctx
	first, _ := tracer.StartSpan(ctx, "http-client")
	started := make(chan *Span)
	go func() {
		span, _ := tracer.StartSpan(ctx, "sql")
		started <- span
	}()
	second := <-started

	assert.Equal(t, entry.SpanID, first.ParentID)
	assert.Equal(t, entry.SpanID, second.ParentID)
	assert.Same(t, entry, tracer.CurrentSpan(ctx))

	second.Finish()
	first.Finish()
	entry.Finish()

	traces := q.all()
	require.Len(t, traces, 1)
	assert.True(t, traces[0].Valid())
	assert.Equal(t, 3, traces[0].Len())
}

func TestConcurrentChildrenOfSharedContext(t *testing.T) {
	tracer, q := newTestTracer(t)

	entry, ctx := tracer.StartSpan(context.Background(), "rack")

	const workers, perWorker = 8, 200
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				child, childCtx := tracer.StartSpan(ctx, "work")
				tracer.LogError(childCtx, errors.New("retry"))
				tracer.SetBaggageItem(childCtx, "attempt", j)
				child.Finish()
			}
		}()
	}
	wg.Wait()
	entry.Finish()

	traces := q.all()
	require.Len(t, traces, 1)
	trace := traces[0]
	assert.True(t, trace.Valid())
	assert.Equal(t, workers*perWorker+1, trace.Len())
	for _, s := range trace.Spans() {
		if s != entry {
			assert.Equal(t, entry.SpanID, s.ParentID)
		}
	}
}

func TestClosedTraceIsNotContinued(t *testing.T) {
	tracer, q := newTestTracer(t)

	entry, ctx := tracer.StartSpan(context.Background(), "rack")
	leaked, leakedCtx := tracer.StartSpan(ctx, "render")
	entry.Finish()

	require.Len(t, q.all(), 1)
	assert.False(t, leaked.Finished())
	assert.False(t, tracer.Tracing(leakedCtx))

	next, _ := tracer.StartSpan(leakedCtx, "job")
	next.Finish()

	traces := q.all()
	require.Len(t, traces, 2)
	assert.NotEqual(t, entry.TraceID, next.TraceID)
	assert.Empty(t, next.ParentID)
	assert.True(t, next.IsRoot())
	assert.True(t, traces[1].Valid())
}
