package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware counting status server requests
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordStatusRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()))
	}
}

// Timer measures one batch delivery
type Timer struct {
	start   time.Time
	metrics *Metrics
}

// NewTimer creates a new timer. A nil metrics makes Stop a no-op.
func NewTimer(metrics *Metrics) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
	}
}

// Stop records the delivery of spans and returns the elapsed time
func (t *Timer) Stop(spans int, err error) time.Duration {
	duration := time.Since(t.start)
	if t.metrics != nil {
		t.metrics.RecordDelivery(spans, duration, err)
	}
	return duration
}
