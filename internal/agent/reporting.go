package agent

import (
	"context"
	"sync"
	"time"

	"github.com/GriffinCanCode/AgentOS/sensor/internal/discovery"
	"github.com/GriffinCanCode/AgentOS/sensor/internal/infrastructure/monitoring"
	"go.uber.org/zap"
)

// maxReportFailures consecutive entity report failures clear the discovery
// state so the process announces again
const maxReportFailures = 3

// ReportingObserver reports a process snapshot to the active agent at a fixed
// interval while the cell holds a state
type ReportingObserver struct {
	ctx      context.Context
	cell     *discovery.Cell
	client   *Client
	interval time.Duration
	snapshot func(pid int) any
	metrics  *monitoring.Metrics
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Update implements discovery.Observer
func (o *ReportingObserver) Update(_, next *discovery.State, t discovery.Transition) {
	switch t {
	case discovery.Activated, discovery.Updated:
		o.arm(next)
	case discovery.Deactivated, discovery.Reset:
		o.disarm()
	}
}

func (o *ReportingObserver) arm(state *discovery.State) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cancel != nil {
		o.cancel()
	}
	ctx, cancel := context.WithCancel(o.ctx)
	o.cancel = cancel

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.loop(ctx, state)
	}()
}

// disarm stops the loop without waiting; Update runs inside a swap the loop
// may itself be waiting on
func (o *ReportingObserver) disarm() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
}

// Stop disarms and waits for the loop to exit
func (o *ReportingObserver) Stop() {
	o.disarm()
	o.wg.Wait()
}

func (o *ReportingObserver) loop(ctx context.Context, state *discovery.State) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := o.client.ReportEntity(ctx, state.Endpoint, state.PID, o.snapshot(state.PID))
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			failures = 0
			o.recordReport("success")
			continue
		}

		failures++
		o.recordReport("failure")
		o.logger.Debug("entity report failed",
			zap.String("endpoint", state.Endpoint),
			zap.Int("consecutive_failures", failures),
			zap.Error(err),
		)

		if failures >= maxReportFailures {
			o.logger.Warn("host agent stopped accepting reports",
				zap.String("endpoint", state.Endpoint),
				zap.Int("failures", failures),
			)
			o.cell.CompareAndSet(state, nil)
			return
		}
	}
}

func (o *ReportingObserver) recordReport(status string) {
	if o.metrics != nil {
		o.metrics.RecordEntityReport(status)
	}
}
