package sensor

import (
	"context"
	"fmt"

	"github.com/GriffinCanCode/AgentOS/sensor/internal/agent"
	"github.com/GriffinCanCode/AgentOS/sensor/internal/discovery"
	"github.com/GriffinCanCode/AgentOS/sensor/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/sensor/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/sensor/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/sensor/internal/infrastructure/server"
	"github.com/GriffinCanCode/AgentOS/sensor/internal/processor"
	"github.com/GriffinCanCode/AgentOS/sensor/internal/tracing"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sensor wires the tracer, the trace processor and the host agent together
type Sensor struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *monitoring.Metrics

	tracer    *tracing.Tracer
	processor *processor.Processor
	agent     *agent.Agent
	status    *server.Server
}

// Option configures a Sensor
type Option func(*options)

type options struct {
	logger     *zap.Logger
	agentOpts  []agent.Option
	tracerOpts []tracing.Option
}

// WithLogger replaces the logger built from configuration
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithAgentOptions passes options to the agent facade
func WithAgentOptions(opts ...agent.Option) Option {
	return func(o *options) { o.agentOpts = append(o.agentOpts, opts...) }
}

// WithTracerOptions passes options to the tracer
func WithTracerOptions(opts ...tracing.Option) Option {
	return func(o *options) { o.tracerOpts = append(o.tracerOpts, opts...) }
}

// New builds a sensor from cfg. Nothing runs until Start.
func New(cfg *config.Config, opts ...Option) (*Sensor, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sensor config: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = logging.NewOrNop(logging.Config{
			Level:       cfg.Logging.Level,
			Development: cfg.Logging.Development,
		})
	}

	logger.Info("Initializing sensor",
		zap.String("agent_host", cfg.Agent.Host),
		zap.Int("agent_port", cfg.Agent.Port),
		zap.Bool("test_mode", cfg.TestMode),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewMetrics(registry)

	s := &Sensor{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  metrics,
	}

	agentOpts := append([]agent.Option{
		agent.WithMetrics(metrics),
		agent.WithActivationHook(s.onActivate),
	}, o.agentOpts...)

	s.agent = agent.New(agent.Config{
		Host:           cfg.Agent.Host,
		Port:           cfg.Agent.Port,
		Timeout:        cfg.Agent.Timeout,
		ReportInterval: cfg.Agent.ReportInterval,
		RPS:            cfg.Agent.RPS,
		Gzip:           cfg.Agent.Gzip,
		TestMode:       cfg.TestMode,
	}, logger.Named("agent"), agentOpts...)

	s.processor = processor.New(s.agent, logger.Named("processor"),
		processor.WithQueueSize(cfg.Queue.Size),
		processor.WithBatchSize(cfg.Queue.BatchSize),
		processor.WithFlushInterval(cfg.Queue.FlushInterval),
		processor.WithDeliveryTimeout(cfg.Agent.Timeout),
		processor.WithMetrics(metrics),
	)

	tracerOpts := append([]tracing.Option{
		tracing.WithMetrics(metrics),
		tracing.WithTraceIDWidth(cfg.Tracer.TraceIDWidth),
	}, o.tracerOpts...)
	s.tracer = tracing.New(cfg.Tracer.ServiceName, s.processor, logger.Named("tracer"), tracerOpts...)

	if cfg.Status.Enabled {
		s.status = server.New(cfg.Status.Addr, cfg.Logging.Development, server.Deps{
			Queue:    s.processor,
			Ready:    s.agent.Ready,
			Secrets:  s.agent.SecretValues,
			Metrics:  metrics,
			Gatherer: registry,
			Logger:   logger.Named("status"),
		})
	}

	return s, nil
}

// onActivate delivers traces queued while no agent was known
func (s *Sensor) onActivate(*discovery.State) {
	s.processor.Kick()
}

// Start begins discovery and delivery. In test mode traces stay queued for
// inspection.
func (s *Sensor) Start() {
	s.agent.Setup()

	if s.cfg.TestMode {
		s.logger.Info("Sensor started in test mode")
	} else {
		s.processor.Start()
		s.agent.SpawnBackground()
	}

	if s.status != nil {
		go func() {
			if err := s.status.Run(); err != nil {
				s.logger.Error("Status server failed", zap.Error(err))
			}
		}()
	}
}

// Shutdown delivers what is queued, then stops discovery and the status
// server
func (s *Sensor) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down sensor...")

	if err := s.processor.Stop(ctx); err != nil {
		s.logger.Warn("Trace processor did not stop cleanly", zap.Error(err))
	}

	var g errgroup.Group
	g.Go(func() error {
		return s.agent.Shutdown(ctx)
	})
	if s.status != nil {
		g.Go(func() error {
			return s.status.Shutdown(ctx)
		})
	}
	err := g.Wait()

	_ = s.logger.Sync()
	return err
}

// Tracer returns the sensor's tracer
func (s *Sensor) Tracer() *tracing.Tracer {
	return s.tracer
}

// Processor returns the trace processor
func (s *Sensor) Processor() *processor.Processor {
	return s.processor
}

// Agent returns the host agent facade
func (s *Sensor) Agent() *agent.Agent {
	return s.agent
}

// Registry returns the sensor's metrics registry
func (s *Sensor) Registry() *prometheus.Registry {
	return s.registry
}

// Middleware returns Gin middleware tracing inbound requests and capturing
// the headers the agent asks for
func (s *Sensor) Middleware() gin.HandlerFunc {
	return tracing.HTTPMiddleware(s.tracer, tracing.CaptureHeaders(s.agent.ExtraHeaders))
}
