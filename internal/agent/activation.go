package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/AgentOS/sensor/internal/discovery"
	"github.com/GriffinCanCode/AgentOS/sensor/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/sensor/internal/secrets"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Lookup locates a host agent and returns its endpoint
type Lookup interface {
	Call(ctx context.Context) (string, error)
}

// ActivationObserver announces the process whenever the cell loses its
// agent, and runs activation hooks once a new agent is published
type ActivationObserver struct {
	ctx      context.Context
	cell     *discovery.Cell
	lookup   Lookup
	client   *Client
	backoff  BackOffFactory
	announce func() AnnounceRequest
	hooks    []func(*discovery.State)
	metrics  *monitoring.Metrics
	logger   *zap.Logger

	running atomic.Bool
	wg      sync.WaitGroup
}

// Update implements discovery.Observer
func (o *ActivationObserver) Update(prev, next *discovery.State, t discovery.Transition) {
	switch t {
	case discovery.Reset, discovery.Deactivated:
		if o.metrics != nil {
			o.metrics.SetAgentReady(false)
		}
		if t == discovery.Deactivated {
			o.logger.Warn("host agent lost, re-announcing", zap.Int("pid", prev.PID))
		}
		o.start()
	case discovery.Activated:
		if o.metrics != nil {
			o.metrics.SetAgentReady(true)
		}
		o.logger.Info("host agent ready",
			zap.String("endpoint", next.Endpoint),
			zap.Int("pid", next.PID),
			zap.String("agent_uuid", next.AgentUUID),
		)
		for _, hook := range o.hooks {
			hook(next)
		}
	}
}

// start runs one activation at a time
func (o *ActivationObserver) start() {
	if !o.running.CompareAndSwap(false, true) {
		return
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.activate()
	}()
}

// Wait blocks until a running activation has returned
func (o *ActivationObserver) Wait() {
	o.wg.Wait()
}

func (o *ActivationObserver) activate() {
	state, err := o.discover(o.ctx)
	o.running.Store(false)
	if err != nil {
		o.logger.Debug("host agent activation stopped", zap.Error(err))
		return
	}

	if !o.cell.CompareAndSet(nil, state) {
		o.logger.Debug("discovery state already set, discarding activation")
	}
}

func (o *ActivationObserver) discover(ctx context.Context) (*discovery.State, error) {
	endpoint, err := o.lookup.Call(ctx)
	if err != nil {
		return nil, err
	}

	req := o.announce()
	resp, err := backoff.RetryNotifyWithData(
		func() (*AnnounceResponse, error) {
			resp, err := o.client.Announce(ctx, endpoint, req)
			o.recordAnnouncement(err)
			return resp, err
		},
		backoff.WithContext(o.backoff(), ctx),
		func(err error, _ time.Duration) {
			o.logger.Debug("announce failed, retrying", zap.String("endpoint", endpoint), zap.Error(err))
		},
	)
	if err != nil {
		return nil, err
	}

	pid := resp.PID
	if pid == 0 {
		pid = req.PID
	}

	o.client.Breaker().Reset()
	err = backoff.Retry(
		func() error { return o.client.CheckReady(ctx, endpoint, pid) },
		backoff.WithContext(o.backoff(), ctx),
	)
	if err != nil {
		return nil, err
	}

	cfg := resp.Secrets
	if cfg.IsZero() {
		cfg = secrets.DefaultConfig()
	}

	return &discovery.State{
		PID:          pid,
		AgentUUID:    resp.AgentUUID,
		ExtraHeaders: append([]string(nil), resp.ExtraHeaders...),
		Secrets:      cfg,
		Endpoint:     endpoint,
	}, nil
}

func (o *ActivationObserver) recordAnnouncement(err error) {
	if o.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	o.metrics.RecordAnnouncement(status)
}
