package Adhoc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type regServer struct {
	mu   sync.Mutex
	reqs []RegisterRequest
	ok   bool
}

func (s *regServer) handler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/register" {
		http.NotFound(w, r)
		return
	}
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	ok := s.ok
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(RegisterResponse{Id: req.Id, Success: ok})
}

func (s *regServer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reqs)
}

func startRegServer(t *testing.T, ok bool) (*regServer, RegServerConfig) {
	s := &regServer{ok: ok}
	ts := httptest.NewServer(http.HandlerFunc(s.handler))
	t.Cleanup(ts.Close)
	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	cfg := RegServerConfig{Enabled: true, InstanceClass: "cuda", IntervalSeconds: 1}
	cfg.SetAddress(u.Hostname(), port)
	return s, cfg
}

func TestParseInstanceClass(t *testing.T) {
	c, ok := ParseInstanceClass("Rocm")
	assert.True(t, ok)
	assert.Equal(t, RocmInstance, c)

	c, ok = ParseInstanceClass("tpu")
	assert.False(t, ok)
	assert.Equal(t, CpuInstance, c)
}

func TestBeat(t *testing.T) {
	srv, cfg := startRegServer(t, true)
	hb := NewHeartbeat(cfg, "10.0.0.7", 50051, 8080)
	hb.Engines = func() int { return 3 }

	require.NoError(t, hb.Beat(context.Background()))
	require.Equal(t, 1, srv.count())
	got := srv.reqs[0]
	assert.Equal(t, hb.ID(), got.Id)
	assert.Equal(t, "spoofdet", got.Service)
	assert.Equal(t, "10.0.0.7", got.IP)
	assert.Equal(t, 50051, got.Port)
	assert.Equal(t, 8080, got.HTTPPort)
	assert.Equal(t, CudaInstance, got.InstanceClass)
	assert.Equal(t, 3, got.Engines)
}

func TestBeatRejected(t *testing.T) {
	_, cfg := startRegServer(t, false)
	assert.Error(t, NewHeartbeat(cfg, "127.0.0.1", 1, 2).Beat(context.Background()))

	cfg.Port = 1
	assert.Error(t, NewHeartbeat(cfg, "127.0.0.1", 1, 2).Beat(context.Background()))
}

func TestSendAliveMessageStops(t *testing.T) {
	srv, cfg := startRegServer(t, true)
	hb := NewHeartbeat(cfg, "127.0.0.1", 1, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hb.SendAliveMessage(ctx) }()

	require.Eventually(t, func() bool { return srv.count() >= 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat did not stop")
	}
}
