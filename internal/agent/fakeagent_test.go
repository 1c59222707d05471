package agent

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

const fakeAgentPID = 99

// fakeAgent is an in-process host agent
type fakeAgent struct {
	*httptest.Server

	announces    atomic.Int32
	readyChecks  atomic.Int32
	entities     atomic.Int32
	failEntities atomic.Bool

	mu       sync.Mutex
	announce AnnounceRequest
	traces   [][]map[string]any
	encoding string
}

func newFakeAgent(t *testing.T) *fakeAgent {
	t.Helper()
	a := &fakeAgent{}

	entityPath := entityPathPrefix + strconv.Itoa(fakeAgentPID)
	tracesPath := tracesPathPrefix + strconv.Itoa(fakeAgentPID)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", AgentServerHeader)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc(discoveryPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req AnnounceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		a.announces.Add(1)
		a.mu.Lock()
		a.announce = req
		a.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"pid":          fakeAgentPID,
			"agentUuid":    "agent-uuid-1",
			"extraHeaders": []string{"X-Tenant"},
			"secrets":      map[string]any{"matcher": "equals", "list": []string{"token"}},
		})
	})
	mux.HandleFunc(entityPath, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			a.readyChecks.Add(1)
			w.WriteHeader(http.StatusOK)
		case http.MethodPost:
			a.entities.Add(1)
			if a.failEntities.Load() {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusOK)
		}
	})
	mux.HandleFunc(tracesPath, func(w http.ResponseWriter, r *http.Request) {
		body := io.Reader(r.Body)
		if r.Header.Get("Content-Encoding") == "gzip" {
			zr, err := gzip.NewReader(r.Body)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			defer zr.Close()
			body = zr
		}

		var spans []map[string]any
		if err := json.NewDecoder(body).Decode(&spans); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		a.mu.Lock()
		a.traces = append(a.traces, spans)
		a.encoding = r.Header.Get("Content-Encoding")
		a.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})

	a.Server = httptest.NewServer(mux)
	t.Cleanup(a.Close)
	return a
}

func (a *fakeAgent) hostPort(t *testing.T) (string, int) {
	t.Helper()
	u, err := url.Parse(a.URL)
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return host, p
}

func (a *fakeAgent) lastAnnounce() AnnounceRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.announce
}

func (a *fakeAgent) deliveries() [][]map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([][]map[string]any(nil), a.traces...)
}

func fastBackOff() backoff.BackOff {
	return backoff.NewConstantBackOff(5 * time.Millisecond)
}
