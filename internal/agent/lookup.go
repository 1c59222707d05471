package agent

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// ErrAgentNotFound is returned when no candidate address answers as an agent
var ErrAgentNotFound = errors.New("host agent not found")

// BackOffFactory creates a fresh backoff policy for one retry sequence
type BackOffFactory func() backoff.BackOff

// DefaultBackOff retries with exponential backoff and never gives up on its own
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	return b
}

// HostAgentLookup finds the host agent: first at the configured host, then at
// the default gateway
type HostAgentLookup struct {
	client  *Client
	host    string
	port    int
	gateway func() (string, error)
	backoff BackOffFactory
	logger  *zap.Logger
}

// NewHostAgentLookup creates a lookup probing host:port and the default gateway
func NewHostAgentLookup(client *Client, host string, port int, logger *zap.Logger) *HostAgentLookup {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HostAgentLookup{
		client:  client,
		host:    host,
		port:    port,
		gateway: func() (string, error) { return defaultGateway(routeTable) },
		backoff: DefaultBackOff,
		logger:  logger,
	}
}

// Call probes the candidates until one answers or ctx is cancelled. It
// returns the agent endpoint.
func (l *HostAgentLookup) Call(ctx context.Context) (string, error) {
	attempt := 0
	return backoff.RetryNotifyWithData(
		func() (string, error) {
			attempt++
			return l.probe(ctx)
		},
		backoff.WithContext(l.backoff(), ctx),
		func(err error, wait time.Duration) {
			l.logger.Debug("host agent lookup failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		},
	)
}

func (l *HostAgentLookup) probe(ctx context.Context) (string, error) {
	candidates := []string{l.host}
	if gw, err := l.gateway(); err == nil && gw != "" && gw != l.host {
		candidates = append(candidates, gw)
	}

	for _, host := range candidates {
		endpoint := Endpoint(host, l.port)
		if err := l.client.Probe(ctx, endpoint); err != nil {
			l.logger.Debug("host agent probe failed", zap.String("endpoint", endpoint), zap.Error(err))
			continue
		}
		l.logger.Info("host agent found", zap.String("endpoint", endpoint))
		return endpoint, nil
	}

	return "", fmt.Errorf("%w: tried %s", ErrAgentNotFound, strings.Join(candidates, ", "))
}

const routeTable = "/proc/net/route"

// defaultGateway reads the default route from a Linux route table
func defaultGateway(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return parseDefaultGateway(bufio.NewScanner(f))
}

func parseDefaultGateway(sc *bufio.Scanner) (string, error) {
	// Iface Destination Gateway Flags ...
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 || fields[1] != "00000000" {
			continue
		}

		raw, err := hex.DecodeString(fields[2])
		if err != nil || len(raw) != 4 {
			continue
		}
		ip := make(net.IP, 4)
		binary.BigEndian.PutUint32(ip, binary.LittleEndian.Uint32(raw))
		return ip.String(), nil
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return "", errors.New("no default route")
}
