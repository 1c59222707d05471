package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/GriffinCanCode/AgentOS/sensor/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/sensor/internal/secrets"
	"github.com/GriffinCanCode/AgentOS/sensor/internal/tracing"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// TraceQueue is the queue inspection surface exposed over HTTP
type TraceQueue interface {
	QueuedTraces() []*tracing.Trace
	Clear()
}

// Deps holds what the status server reports on
type Deps struct {
	Queue    TraceQueue
	Ready    func() bool
	// Secrets returns the matcher queued traces are redacted with. The
	// default secrets config applies when it is nil or returns a zero config.
	Secrets  func() secrets.Config
	Metrics  *monitoring.Metrics
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// Server is the sensor's local status endpoint
type Server struct {
	router *gin.Engine
	http   *http.Server
	deps   Deps
	logger *zap.Logger
}

// New creates a status server listening on addr
func New(addr string, development bool, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	if !development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	if deps.Metrics != nil {
		router.Use(monitoring.Middleware(deps.Metrics))
	}

	s := &Server{
		router: router,
		deps:   deps,
		logger: logger,
		http: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	router.GET("/health", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	router.GET("/traces", s.listTraces)
	router.DELETE("/traces", s.clearTraces)

	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until Shutdown
func (s *Server) Run() error {
	s.logger.Info("Starting status server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down status server...")
	return s.http.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	ready := s.deps.Ready != nil && s.deps.Ready()

	status := "waiting"
	if ready {
		status = "ok"
	}

	body := gin.H{
		"status":      status,
		"agent_ready": ready,
		"queued":      len(s.deps.Queue.QueuedTraces()),
	}
	if s.deps.Metrics != nil {
		body["metrics"] = s.deps.Metrics.Snapshot()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) listTraces(c *gin.Context) {
	redactor := secrets.New(s.secretsConfig())

	traces := s.deps.Queue.QueuedTraces()
	views := make([]tracing.View, 0, len(traces))
	for _, t := range traces {
		views = append(views, t.View(redactor.Redact))
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) secretsConfig() secrets.Config {
	if s.deps.Secrets != nil {
		if cfg := s.deps.Secrets(); !cfg.IsZero() {
			return cfg
		}
	}
	return secrets.DefaultConfig()
}

func (s *Server) clearTraces(c *gin.Context) {
	s.deps.Queue.Clear()
	s.logger.Info("queued traces cleared via status server")
	c.Status(http.StatusNoContent)
}
