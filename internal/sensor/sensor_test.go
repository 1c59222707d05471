package sensor

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/AgentOS/sensor/internal/agent"
	"github.com/GriffinCanCode/AgentOS/sensor/internal/infrastructure/config"
	"github.com/cenkalti/backoff/v4"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Queue.FlushInterval = 10 * time.Millisecond
	cfg.Agent.ReportInterval = time.Hour
	cfg.Agent.Timeout = time.Second
	return cfg
}

func shutdown(t *testing.T, s *Sensor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}

func TestSensorTestModeKeepsTracesQueued(t *testing.T) {
	cfg := testConfig()
	cfg.TestMode = true

	s, err := New(cfg, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	s.Start()
	defer shutdown(t, s)

	assert.True(t, s.Agent().Ready())

	s.Processor().Clear()
	tracer := s.Tracer()
	for i := 0; i < 3; i++ {
		entry, ctx := tracer.StartSpan(context.Background(), "rack")
		child, _ := tracer.StartSpan(ctx, "action_controller")
		child.Finish()
		entry.Finish()
	}

	queued := s.Processor().QueuedTraces()
	require.Len(t, queued, 3)
	for _, trace := range queued {
		assert.True(t, trace.Valid())
		assert.Equal(t, 2, trace.Len())
	}
}

func TestSensorMiddleware(t *testing.T) {
	cfg := testConfig()
	cfg.TestMode = true
	cfg.Tracer.ServiceName = "shop"

	s, err := New(cfg, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	s.Start()
	defer shutdown(t, s)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(s.Middleware())
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))

	queued := s.Processor().QueuedTraces()
	require.Len(t, queued, 1)
	assert.Equal(t, "shop", queued[0].Root().Data["service"])
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Tracer.TraceIDWidth = 4

	_, err := New(cfg)
	assert.Error(t, err)
}

// agentStub answers discovery and records trace deliveries
type agentStub struct {
	*httptest.Server

	mu     sync.Mutex
	spans  []map[string]any
	header http.Header
}

func newAgentStub(t *testing.T) *agentStub {
	t.Helper()
	a := &agentStub{}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", agent.AgentServerHeader)
	})
	mux.HandleFunc("/com.instana.plugin.golang.discovery", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"pid":       77,
			"agentUuid": "host-1",
			"secrets":   map[string]any{"matcher": "contains-ignore-case", "list": []string{"secret"}},
		})
	})
	mux.HandleFunc("/com.instana.plugin.golang/traces.77", func(w http.ResponseWriter, r *http.Request) {
		var spans []map[string]any
		_ = json.NewDecoder(r.Body).Decode(&spans)
		a.mu.Lock()
		a.spans = append(a.spans, spans...)
		a.header = r.Header.Clone()
		a.mu.Unlock()
	})

	a.Server = httptest.NewServer(mux)
	t.Cleanup(a.Close)
	return a
}

func (a *agentStub) received() []map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]map[string]any(nil), a.spans...)
}

func TestSensorDeliversRedactedTraces(t *testing.T) {
	stub := newAgentStub(t)
	u, err := url.Parse(stub.URL)
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Agent.Host = host
	cfg.Agent.Port, err = strconv.Atoi(port)
	require.NoError(t, err)

	s, err := New(cfg,
		WithLogger(zap.NewNop()),
		WithAgentOptions(agent.WithBackOff(func() backoff.BackOff {
			return backoff.NewConstantBackOff(5 * time.Millisecond)
		})),
	)
	require.NoError(t, err)

	// traces finished before the agent is found wait in the queue
	tracer := s.Tracer()
	span, _ := tracer.StartSpan(context.Background(), "rack")
	span.SetData(map[string]any{"http": map[string]any{"url": "/cart?client_secret=abc&item=3"}})
	span.Finish()
	require.Equal(t, 1, s.Processor().Len())

	s.Start()
	defer shutdown(t, s)

	require.Eventually(t, func() bool { return len(stub.received()) == 1 }, 3*time.Second, 5*time.Millisecond)

	wire := stub.received()[0]
	assert.Equal(t, span.TraceID, wire["t"])
	assert.Equal(t, "/cart?client_secret=<redacted>&item=3", wire["data"].(map[string]any)["http"].(map[string]any)["url"])
	assert.Equal(t, map[string]any{"e": "77", "h": "host-1"}, wire["f"])
	assert.Equal(t, 77, s.Agent().ReportPID())
}
