package monitoring

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordEnqueued(1)
	m.RecordEnqueued(2)
	m.RecordDropped(DropQueueFull, 1)
	m.RecordDropped(DropDeliveryFailed, 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TracesEnqueued))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.QueueDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TracesDropped.WithLabelValues(DropQueueFull)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.TracesDropped.WithLabelValues(DropDeliveryFailed)))

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.TracesEnqueued)
	assert.Equal(t, int64(4), snap.TracesDropped)
	assert.Equal(t, int64(2), snap.QueueDepth)
}

func TestDeliveryTimer(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	NewTimer(m).Stop(5, nil)
	NewTimer(m).Stop(2, errors.New("refused"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchesDelivered))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.SpansDelivered))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeliveryFailures))

	// nil metrics is tolerated
	assert.GreaterOrEqual(t, NewTimer(nil).Stop(1, nil), time.Duration(0))
}

func TestAgentReadyGauge(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SetAgentReady(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AgentReady))
	assert.True(t, m.Snapshot().AgentReady)

	m.SetAgentReady(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.AgentReady))
}

func TestSeparateRegistries(t *testing.T) {
	require.NotPanics(t, func() {
		NewMetrics(prometheus.NewRegistry())
		NewMetrics(prometheus.NewRegistry())
	})
}

func TestMiddlewareCountsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics(prometheus.NewRegistry())

	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 2; i++ {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	}
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.StatusRequests.WithLabelValues("GET", "/health", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StatusRequests.WithLabelValues("GET", "unmatched", "404")))
}
