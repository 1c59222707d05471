package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/GriffinCanCode/AgentOS/sensor/internal/discovery"
	"github.com/GriffinCanCode/AgentOS/sensor/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/sensor/internal/secrets"
	"github.com/GriffinCanCode/AgentOS/sensor/internal/tracing"
	"go.uber.org/zap"
)

// ErrNotReady is returned when traces are reported before an agent is known
var ErrNotReady = errors.New("host agent not ready")

// Config configures the agent facade
type Config struct {
	Host           string
	Port           int
	Timeout        time.Duration
	ReportInterval time.Duration
	RPS            float64
	Gzip           bool
	TestMode       bool
}

// Agent is the sensor's view of its host agent
type Agent struct {
	cfg    Config
	logger *zap.Logger

	cell       *discovery.Cell
	client     *Client
	activation *ActivationObserver
	reporting  *ReportingObserver

	ctx       context.Context
	cancel    context.CancelFunc
	setupOnce sync.Once
}

// Option configures an Agent
type Option func(*Agent)

// WithMetrics records discovery metrics
func WithMetrics(m *monitoring.Metrics) Option {
	return func(a *Agent) {
		a.activation.metrics = m
		a.reporting.metrics = m
	}
}

// WithActivationHook runs fn synchronously each time an agent becomes ready.
// fn must not block or swap the discovery cell.
func WithActivationHook(fn func(*discovery.State)) Option {
	return func(a *Agent) {
		a.activation.hooks = append(a.activation.hooks, fn)
	}
}

// WithBackOff replaces the retry policy used by lookup, announce and
// readiness checks
func WithBackOff(factory BackOffFactory) Option {
	return func(a *Agent) {
		a.activation.backoff = factory
		if l, ok := a.activation.lookup.(*HostAgentLookup); ok {
			l.backoff = factory
		}
	}
}

// WithLookup replaces the host agent lookup
func WithLookup(l Lookup) Option {
	return func(a *Agent) {
		a.activation.lookup = l
	}
}

// WithEntitySnapshot replaces the periodic entity payload
func WithEntitySnapshot(fn func(pid int) any) Option {
	return func(a *Agent) {
		a.reporting.snapshot = fn
	}
}

// New creates an agent facade. Discovery starts with Setup and
// SpawnBackground.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	cell := discovery.NewCell()
	client := NewClient(ClientConfig{Timeout: cfg.Timeout, RPS: cfg.RPS, Gzip: cfg.Gzip}, logger)

	a := &Agent{
		cfg:    cfg,
		logger: logger,
		cell:   cell,
		client: client,
		ctx:    ctx,
		cancel: cancel,
	}

	a.activation = &ActivationObserver{
		ctx:      ctx,
		cell:     cell,
		lookup:   NewHostAgentLookup(client, cfg.Host, cfg.Port, logger),
		client:   client,
		backoff:  DefaultBackOff,
		announce: announcement,
		logger:   logger,
	}
	a.reporting = &ReportingObserver{
		ctx:      ctx,
		cell:     cell,
		client:   client,
		interval: cfg.ReportInterval,
		snapshot: runtimeSnapshot,
		logger:   logger,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Setup registers the discovery observers. In test mode discovery is skipped.
func (a *Agent) Setup() {
	if a.cfg.TestMode {
		a.logger.Info("test mode enabled, skipping host agent discovery")
		return
	}

	a.setupOnce.Do(func() {
		a.cell.WithObserver(a.activation).WithObserver(a.reporting)
	})
}

// SpawnBackground clears the discovery state, which starts activation, and
// returns the state held before
func (a *Agent) SpawnBackground() *discovery.State {
	return a.cell.Set(nil)
}

// Discovery returns the discovery cell
func (a *Agent) Discovery() *discovery.Cell {
	return a.cell
}

// Ready reports whether traces can be delivered
func (a *Agent) Ready() bool {
	return a.cfg.TestMode || a.cell.Ready()
}

// ReportPID returns the pid the agent knows this process by
func (a *Agent) ReportPID() int {
	if s := a.cell.Value(); s != nil {
		return s.PID
	}
	return 0
}

// AgentUUID returns the host agent's id
func (a *Agent) AgentUUID() string {
	if s := a.cell.Value(); s != nil {
		return s.AgentUUID
	}
	return ""
}

// ExtraHeaders returns the request headers the agent wants captured
func (a *Agent) ExtraHeaders() []string {
	if s := a.cell.Value(); s != nil {
		return append([]string(nil), s.ExtraHeaders...)
	}
	return nil
}

// SecretValues returns the current redaction config
func (a *Agent) SecretValues() secrets.Config {
	if s := a.cell.Value(); s != nil {
		return s.Clone().Secrets
	}
	return secrets.Config{}
}

// ReportTraces delivers spans to the active agent. In test mode without an
// agent it does nothing.
func (a *Agent) ReportTraces(ctx context.Context, spans []*tracing.Span) error {
	state := a.cell.Value()
	if state == nil {
		if a.cfg.TestMode {
			return nil
		}
		return ErrNotReady
	}
	return a.client.ReportTraces(ctx, state.Endpoint, state.PID, spans)
}

// Shutdown stops discovery and reporting
func (a *Agent) Shutdown(ctx context.Context) error {
	a.cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.reporting.Stop()
		a.activation.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
