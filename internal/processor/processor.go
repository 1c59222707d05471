package processor

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/GriffinCanCode/AgentOS/sensor/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/sensor/internal/secrets"
	"github.com/GriffinCanCode/AgentOS/sensor/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/sensor/internal/tracing"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrStopped is returned by Flush after Stop
var ErrStopped = errors.New("processor stopped")

// Defaults
const (
	DefaultQueueSize       = 1000
	DefaultBatchSize       = 100
	DefaultFlushInterval   = time.Second
	DefaultDeliveryTimeout = 5 * time.Second
)

// Backend is where completed traces are delivered
type Backend interface {
	Ready() bool
	ReportPID() int
	AgentUUID() string
	SecretValues() secrets.Config
	ReportTraces(ctx context.Context, spans []*tracing.Span) error
}

// Processor queues completed traces and delivers them from a single
// background loop. Enqueue never blocks; delivery is at most once.
type Processor struct {
	backend Backend
	logger  *zap.Logger
	metrics *monitoring.Metrics

	queueSize int
	batchSize int
	interval  time.Duration
	timeout   time.Duration

	mu    sync.Mutex
	queue []*tracing.Trace

	wake     chan struct{}
	flushReq chan chan struct{}
	stop     chan struct{}
	done     chan struct{}

	lifecycle sync.Mutex
	running   bool
	stopped   bool

	dropLog rate.Sometimes
}

// Option configures a Processor
type Option func(*Processor)

// WithQueueSize bounds the number of queued traces
func WithQueueSize(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// WithBatchSize sets how many traces go into one delivery and the queue
// length that triggers an early flush
func WithBatchSize(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithFlushInterval sets the periodic delivery interval
func WithFlushInterval(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithDeliveryTimeout bounds one delivery call
func WithDeliveryTimeout(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithMetrics records queue and delivery metrics
func WithMetrics(m *monitoring.Metrics) Option {
	return func(p *Processor) {
		p.metrics = m
	}
}

// New creates a processor delivering to backend
func New(backend Backend, logger *zap.Logger, opts ...Option) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Processor{
		backend:   backend,
		logger:    logger,
		queueSize: DefaultQueueSize,
		batchSize: DefaultBatchSize,
		interval:  DefaultFlushInterval,
		timeout:   DefaultDeliveryTimeout,
		wake:      make(chan struct{}, 1),
		flushReq:  make(chan chan struct{}),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		dropLog:   rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// ============================================================================
// Queue
// ============================================================================

// Enqueue adds a completed trace. When the queue is full the incoming trace
// is dropped.
func (p *Processor) Enqueue(trace *tracing.Trace) {
	if trace == nil {
		return
	}

	p.mu.Lock()
	if len(p.queue) >= p.queueSize {
		p.mu.Unlock()
		p.recordDrop(trace)
		return
	}
	p.queue = append(p.queue, trace)
	depth := len(p.queue)
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.RecordEnqueued(depth)
	}

	if depth >= p.batchSize {
		p.Kick()
	}
}

func (p *Processor) recordDrop(trace *tracing.Trace) {
	if p.metrics != nil {
		p.metrics.RecordDropped(monitoring.DropQueueFull, 1)
	}
	p.dropLog.Do(func() {
		p.logger.Warn("trace queue full, dropping trace",
			zap.String("trace_id", trace.ID()),
			zap.Int("queue_size", p.queueSize),
		)
	})
}

// QueuedTraces returns a snapshot of the traces waiting for delivery
func (p *Processor) QueuedTraces() []*tracing.Trace {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*tracing.Trace(nil), p.queue...)
}

// Len returns the number of queued traces
func (p *Processor) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Clear discards all queued traces
func (p *Processor) Clear() {
	p.mu.Lock()
	p.queue = nil
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.SetQueueDepth(0)
	}
}

func (p *Processor) drain() []*tracing.Trace {
	p.mu.Lock()
	defer p.mu.Unlock()

	batch := p.queue
	p.queue = nil
	return batch
}

// ============================================================================
// Delivery Loop
// ============================================================================

// Start launches the delivery loop. Calling it again has no effect.
func (p *Processor) Start() {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if p.running || p.stopped {
		return
	}
	p.running = true
	go p.run()
}

// Kick asks the loop for a delivery pass without waiting for it
func (p *Processor) Kick() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Stop ends the delivery loop after a final delivery pass
func (p *Processor) Stop(ctx context.Context) error {
	p.lifecycle.Lock()
	if p.stopped {
		p.lifecycle.Unlock()
		return nil
	}
	p.stopped = true
	running := p.running
	p.lifecycle.Unlock()

	if !running {
		p.deliver()
		return nil
	}

	close(p.stop)
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush runs a delivery pass and waits for it. Without a running loop the
// pass runs on the caller's goroutine.
func (p *Processor) Flush(ctx context.Context) error {
	p.lifecycle.Lock()
	running, stopped := p.running, p.stopped
	p.lifecycle.Unlock()

	if stopped {
		return ErrStopped
	}
	if !running {
		p.deliver()
		return nil
	}

	ack := make(chan struct{})
	select {
	case p.flushReq <- ack:
	case <-p.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Processor) run() {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.deliver()
		case <-p.wake:
			p.deliver()
		case ack := <-p.flushReq:
			p.deliver()
			close(ack)
		case <-p.stop:
			p.deliver()
			return
		}
	}
}

// deliver sends everything queued while the backend is ready. Traces stay
// queued while it is not.
func (p *Processor) deliver() {
	if !p.backend.Ready() {
		return
	}

	batch := p.drain()
	if p.metrics != nil {
		p.metrics.SetQueueDepth(p.Len())
	}
	if len(batch) == 0 {
		return
	}

	redactor := secrets.New(p.backend.SecretValues())
	from := &tracing.From{
		EntityID: pidString(p.backend.ReportPID()),
		HostID:   p.backend.AgentUUID(),
	}

	for start := 0; start < len(batch); start += p.batchSize {
		end := min(start+p.batchSize, len(batch))
		p.send(batch[start:end], redactor, from)
	}
}

func (p *Processor) send(traces []*tracing.Trace, redactor *secrets.Redactor, from *tracing.From) {
	spans := make([]*tracing.Span, 0, len(traces))
	for _, trace := range traces {
		for _, span := range trace.Spans() {
			wire := span.Clone()
			wire.Data = redactor.Redact(wire.Data)
			f := *from
			wire.From = &f
			spans = append(spans, wire)
		}
	}

	batchID := id.NewBatchID()

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	timer := monitoring.NewTimer(p.metrics)
	err := p.backend.ReportTraces(ctx, spans)
	elapsed := timer.Stop(len(spans), err)

	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordDropped(monitoring.DropDeliveryFailed, len(traces))
		}
		p.logger.Warn("trace delivery failed, dropping batch",
			zap.String("batch_id", batchID),
			zap.Int("traces", len(traces)),
			zap.Int("spans", len(spans)),
			zap.Error(err),
		)
		return
	}

	p.logger.Debug("trace batch delivered",
		zap.String("batch_id", batchID),
		zap.Int("traces", len(traces)),
		zap.Int("spans", len(spans)),
		zap.Duration("duration", elapsed),
	)
}

func pidString(pid int) string {
	if pid == 0 {
		return ""
	}
	return strconv.Itoa(pid)
}
