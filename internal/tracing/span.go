package tracing

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind classifies a span for the backend
type Kind int

const (
	KindEntry        Kind = 1
	KindExit         Kind = 2
	KindIntermediate Kind = 3
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindEntry:
		return "entry"
	case KindExit:
		return "exit"
	case KindIntermediate:
		return "intermediate"
	default:
		return "unknown"
	}
}

// From identifies the process and host agent a span was reported by
type From struct {
	EntityID string `json:"e"`
	HostID   string `json:"h,omitempty"`
}

// Span is one timed operation of a trace. Exported fields carry the wire
// representation; after Finish only redaction of a delivery copy changes it.
// Mutators may be called from any goroutine holding the span.
type Span struct {
	TraceID    string         `json:"t"`
	SpanID     string         `json:"s"`
	ParentID   string         `json:"p,omitempty"`
	Name       string         `json:"n"`
	Kind       Kind           `json:"k"`
	Timestamp  int64          `json:"ts"`
	Duration   int64          `json:"d"`
	Error      bool           `json:"error"`
	ErrorCount int            `json:"ec,omitempty"`
	Data       map[string]any `json:"data"`
	From       *From          `json:"f,omitempty"`

	mu       sync.Mutex
	tags     map[string]any
	baggage  map[string]any
	start    time.Time
	finished atomic.Bool

	trace *Trace
	// local parent, nil for roots and remote continuations
	parent *Span
	tracer *Tracer
}

// SetTag sets a tag on the span. Ignored once the span is finished.
func (s *Span) SetTag(key string, value any) {
	if s == nil || s.finished.Load() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tags == nil {
		s.tags = make(map[string]any)
	}
	s.tags[key] = value
}

// SetTags merges tags into the span
func (s *Span) SetTags(tags map[string]any) {
	for k, v := range tags {
		s.SetTag(k, v)
	}
}

// Tag returns the tag stored under key
func (s *Span) Tag(key string) any {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tags[key]
}

// Tags returns a copy of all tags
func (s *Span) Tags() map[string]any {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyMap(s.tags)
}

// SetBaggageItem sets a baggage item on this span. Contexts captured earlier
// and spans created earlier are not affected; spans started from this one
// afterwards inherit the item.
func (s *Span) SetBaggageItem(key string, value any) {
	if s == nil || s.finished.Load() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := copyMap(s.baggage)
	if next == nil {
		next = make(map[string]any, 1)
	}
	next[key] = copyValue(value)
	s.baggage = next
}

// BaggageItem returns the baggage item stored under key, or nil
func (s *Span) BaggageItem(key string) any {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyValue(s.baggage[key])
}

// Baggage returns a copy of the span's baggage
func (s *Span) Baggage() map[string]any {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyMap(s.baggage)
}

// Context returns a snapshot of the span's identity and baggage
func (s *Span) Context() SpanContext {
	if s == nil {
		return SpanContext{}
	}
	return SpanContext{
		TraceID: s.TraceID,
		SpanID:  s.SpanID,
		Baggage: s.Baggage(),
		trace:   s.trace,
		span:    s,
	}
}

// SetData deep-merges payload into the span's data
func (s *Span) SetData(payload map[string]any) {
	if s == nil || s.finished.Load() || len(payload) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Data == nil {
		s.Data = make(map[string]any, len(payload))
	}
	mergeMap(s.Data, payload)
}

// RecordError marks the span as errored
func (s *Span) RecordError(err error) {
	if s == nil || s.finished.Load() || err == nil {
		return
	}
	s.mu.Lock()
	s.Error = true
	s.ErrorCount++
	s.mu.Unlock()
	s.SetData(map[string]any{
		"log": map[string]any{
			"message":    err.Error(),
			"parameters": errorClass(err),
		},
	})
}

// Finish ends the span now
func (s *Span) Finish() {
	if s == nil || s.tracer == nil {
		return
	}
	s.tracer.Finish(s)
}

// FinishAt ends the span at t. Finishing twice is a no-op.
func (s *Span) FinishAt(t time.Time) {
	if s == nil || s.finished.Load() || s.tracer == nil {
		return
	}
	s.tracer.FinishAt(s, t)
}

// Finished reports whether the span has been finished
func (s *Span) Finished() bool {
	return s != nil && s.finished.Load()
}

// IsRoot reports whether the span is the local root of its trace
func (s *Span) IsRoot() bool {
	return s != nil && s.trace != nil && s.trace.Root() == s
}

// StartTime returns when the span started
func (s *Span) StartTime() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.start
}

// Clone returns a detached deep copy carrying only the wire fields, with
// tags folded into data.sdk.custom.tags
func (s *Span) Clone() *Span {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c := &Span{
		TraceID:    s.TraceID,
		SpanID:     s.SpanID,
		ParentID:   s.ParentID,
		Name:       s.Name,
		Kind:       s.Kind,
		Timestamp:  s.Timestamp,
		Duration:   s.Duration,
		Error:      s.Error,
		ErrorCount: s.ErrorCount,
		Data:       copyMap(s.Data),
	}
	if c.Data == nil {
		c.Data = make(map[string]any)
	}
	if len(s.tags) > 0 {
		mergeMap(c.Data, map[string]any{
			"sdk": map[string]any{
				"custom": map[string]any{"tags": copyMap(s.tags)},
			},
		})
	}
	if s.From != nil {
		f := *s.From
		c.From = &f
	}
	return c
}

// toMillis truncates t to whole milliseconds since the epoch
func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}
