package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/GriffinCanCode/AgentOS/sensor/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/sensor/internal/secrets"
	"github.com/GriffinCanCode/AgentOS/sensor/internal/tracing"
	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Agent endpoints
const (
	AgentServerHeader = "Instana Agent"
	discoveryPath     = "/com.instana.plugin.golang.discovery"
	entityPathPrefix  = "/com.instana.plugin.golang."
	tracesPathPrefix  = "/com.instana.plugin.golang/traces."
)

var (
	// ErrNotAgent is returned when a probed address is not a host agent
	ErrNotAgent = errors.New("not an instana host agent")
	// ErrUnexpectedStatus is returned for any non-2xx agent response
	ErrUnexpectedStatus = errors.New("unexpected agent response status")
)

// AnnounceRequest is the process description sent to the agent
type AnnounceRequest struct {
	PID               int      `json:"pid"`
	Name              string   `json:"name"`
	Args              []string `json:"args"`
	CPUSetFileContent string   `json:"cpuSetFileContent,omitempty"`
	SensorID          string   `json:"sensorId"`
}

// AnnounceResponse is the agent's answer to an announcement
type AnnounceResponse struct {
	PID          int            `json:"pid"`
	AgentUUID    string         `json:"agentUuid"`
	ExtraHeaders []string       `json:"extraHeaders"`
	Secrets      secrets.Config `json:"secrets"`
}

// ClientConfig configures the agent client
type ClientConfig struct {
	Timeout time.Duration
	RPS     float64
	Gzip    bool
}

// Client talks to a host agent over HTTP. It never retries; callers decide.
type Client struct {
	resty   *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	gzip    bool
	logger  *zap.Logger
}

// NewClient creates an agent client with a pooled transport, rate limiter
// and circuit breaker
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	// pooled transport only; retries stay off
	pooled := retryablehttp.NewClient()
	pooled.Logger = nil

	restyClient := resty.New().
		SetTransport(pooled.HTTPClient.Transport).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal).
		SetLogger(logger.Sugar()).
		SetHeader("User-Agent", "AgentOS-Sensor/1.0")

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), max(1, int(cfg.RPS)))
	}

	breaker := resilience.New("host-agent", resilience.Settings{
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Info("agent circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})

	return &Client{
		resty:   restyClient,
		limiter: limiter,
		breaker: breaker,
		gzip:    cfg.Gzip,
		logger:  logger,
	}
}

// Endpoint builds the base URL of an agent
func Endpoint(host string, port int) string {
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// Breaker exposes the breaker guarding established-agent calls
func (c *Client) Breaker() *resilience.Breaker {
	return c.breaker
}

// Probe checks whether endpoint is a host agent
func (c *Client) Probe(ctx context.Context, endpoint string) error {
	req, err := c.request(ctx)
	if err != nil {
		return err
	}

	resp, err := req.Get(endpoint + "/")
	if err != nil {
		return fmt.Errorf("probe %s: %w", endpoint, err)
	}
	if resp.Header().Get("Server") != AgentServerHeader {
		return fmt.Errorf("probe %s: %w", endpoint, ErrNotAgent)
	}
	return nil
}

// Announce registers this process with the agent
func (c *Client) Announce(ctx context.Context, endpoint string, announce AnnounceRequest) (*AnnounceResponse, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}

	var out AnnounceResponse
	resp, err := req.
		SetHeader("Content-Type", "application/json").
		SetBody(announce).
		SetResult(&out).
		Put(endpoint + discoveryPath)
	if err != nil {
		return nil, fmt.Errorf("announce: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, fmt.Errorf("announce: %w", err)
	}
	return &out, nil
}

// CheckReady asks the agent whether it accepts data for pid
func (c *Client) CheckReady(ctx context.Context, endpoint string, pid int) error {
	return c.guarded(ctx, http.MethodHead, endpoint+entityPathPrefix+strconv.Itoa(pid), nil)
}

// ReportEntity sends a process snapshot for pid
func (c *Client) ReportEntity(ctx context.Context, endpoint string, pid int, entity any) error {
	return c.guarded(ctx, http.MethodPost, endpoint+entityPathPrefix+strconv.Itoa(pid), entity)
}

// ReportTraces delivers a batch of wire spans for pid
func (c *Client) ReportTraces(ctx context.Context, endpoint string, pid int, spans []*tracing.Span) error {
	return c.guarded(ctx, http.MethodPost, endpoint+tracesPathPrefix+strconv.Itoa(pid), spans)
}

func (c *Client) request(ctx context.Context) (*resty.Request, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}
	return c.resty.R().SetContext(ctx), nil
}

// guarded runs a call against an announced agent through the breaker
func (c *Client) guarded(ctx context.Context, method, url string, body any) error {
	req, err := c.request(ctx)
	if err != nil {
		return err
	}

	return c.breaker.Do(func() error {
		if body != nil {
			if err := c.setBody(req, body); err != nil {
				return err
			}
		}

		resp, err := req.Execute(method, url)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, url, err)
		}
		return checkStatus(resp)
	})
}

func (c *Client) setBody(req *resty.Request, body any) error {
	req.SetHeader("Content-Type", "application/json")
	if !c.gzip {
		req.SetBody(body)
		return nil
	}

	data, err := sonic.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode body: %w", err)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return fmt.Errorf("compress body: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compress body: %w", err)
	}

	req.SetHeader("Content-Encoding", "gzip")
	req.SetBody(buf.Bytes())
	return nil
}

func checkStatus(resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}
	return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode())
}
