package tracing

import (
	"encoding/json"
	"sync"
)

// Trace groups the spans of one logical request inside this process. Spans
// are recorded in the order they finish. The trace is closed, and handed to
// the queue, when its root span finishes.
type Trace struct {
	id           string
	remoteParent string

	mu     sync.Mutex
	root   *Span
	spans  []*Span
	closed bool
}

func newTrace(traceID, remoteParent string) *Trace {
	return &Trace{
		id:           traceID,
		remoteParent: remoteParent,
	}
}

// ID returns the trace id
func (t *Trace) ID() string {
	if t == nil {
		return ""
	}
	return t.id
}

// RemoteParentID returns the inbound parent span id this trace continues, if any
func (t *Trace) RemoteParentID() string {
	if t == nil {
		return ""
	}
	return t.remoteParent
}

// Root returns the local root span
func (t *Trace) Root() *Span {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.root
}

// Spans returns the finished spans in finish order
func (t *Trace) Spans() []*Span {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Span(nil), t.spans...)
}

// Len returns the number of finished spans
func (t *Trace) Len() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.spans)
}

// Closed reports whether the root has finished
func (t *Trace) Closed() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Valid reports whether the finished spans form a single tree: exactly one
// root and every other span's parent present in the trace.
func (t *Trace) Valid() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make(map[string]struct{}, len(t.spans))
	for _, s := range t.spans {
		ids[s.SpanID] = struct{}{}
	}

	roots := 0
	for _, s := range t.spans {
		if s.ParentID == t.remoteParent {
			roots++
			if s != t.root {
				return false
			}
			continue
		}
		if _, ok := ids[s.ParentID]; !ok {
			return false
		}
	}
	return roots == 1
}

// setRoot records the first span of the trace
func (t *Trace) setRoot(s *Span) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.root == nil {
		t.root = s
	}
}

// record appends a finished span. It reports whether the trace accepted the
// span and whether the span closed it.
func (t *Trace) record(s *Span) (accepted, closed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false, false
	}
	t.spans = append(t.spans, s)
	if s == t.root {
		t.closed = true
		return true, true
	}
	return true, false
}

// View is the JSON form of a trace served to operators
type View struct {
	ID    string  `json:"id"`
	Valid bool    `json:"valid"`
	Spans []*Span `json:"spans"`
}

// View returns detached copies of the finished spans. When redact is set it
// is applied to every copy's data.
func (t *Trace) View(redact func(map[string]any) map[string]any) View {
	spans := t.Spans()
	wire := make([]*Span, len(spans))
	for i, s := range spans {
		wire[i] = s.Clone()
		if redact != nil {
			wire[i].Data = redact(wire[i].Data)
		}
	}
	return View{ID: t.ID(), Valid: t.Valid(), Spans: wire}
}

// MarshalJSON renders the trace without redaction
func (t *Trace) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.View(nil))
}
