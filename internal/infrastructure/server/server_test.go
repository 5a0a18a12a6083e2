package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/webdelegate/internal/domain/session"
	"github.com/GriffinCanCode/webdelegate/internal/infrastructure/config"
	"github.com/GriffinCanCode/webdelegate/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webdelegate/internal/shared/id"
)

type failingProvisioner struct{}

func (failingProvisioner) Provision(context.Context, id.SessionID, session.Viewport) (session.BrowserSession, error) {
	return nil, errors.New("no browser in tests")
}

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.Capture.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}
	srv := newServer(cfg, logging.NewNop(), failingProvisioner{}, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Close(context.Background())
	})
	return srv, ts
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, nil)

	status, body := getJSON(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(0), body["sessions"])
	assert.Equal(t, false, body["capture"])
	assert.Equal(t, "closed", body["launch_breaker"])
}

func TestSessionsEmpty(t *testing.T) {
	_, ts := newTestServer(t, nil)

	status, body := getJSON(t, ts.URL+"/sessions")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(0), body["count"])
	assert.Empty(t, body["sessions"])
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, nil)

	// one request so the HTTP counters have a sample
	_, _ = getJSON(t, ts.URL+"/health")

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "webdelegate_http_requests_total")
	assert.Contains(t, string(raw), "webdelegate_sessions_active")
}

func TestRendererRejectsMissingParams(t *testing.T) {
	_, ts := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit.Enabled = false
	})

	status, body := getJSON(t, ts.URL+"/renderer")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["error"], "target_url")
}

func TestRendererRateLimited(t *testing.T) {
	_, ts := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit.RequestsPerSecond = 1
		cfg.RateLimit.Burst = 1
	})

	status, _ := getJSON(t, ts.URL+"/renderer")
	assert.Equal(t, http.StatusBadRequest, status)

	status, body := getJSON(t, ts.URL+"/renderer")
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "rate limit exceeded", body["error"])

	// other routes are not limited
	status, _ = getJSON(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, status)
}

func TestCustomWSPath(t *testing.T) {
	_, ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.WSPath = "/ws"
		cfg.RateLimit.Enabled = false
	})

	resp, err := http.Get(ts.URL + "/renderer")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	status, _ := getJSON(t, ts.URL+"/ws")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestServeStopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Capture.Enabled = false
	srv := newServer(cfg, logging.NewNop(), failingProvisioner{}, nil)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + lis.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServeCapsConnections(t *testing.T) {
	cfg := config.Default()
	cfg.Capture.Enabled = false
	cfg.Server.MaxConnections = 1
	srv := newServer(cfg, logging.NewNop(), failingProvisioner{}, nil)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	// hold the only slot open
	held, err := net.Dial("tcp", lis.Addr().String())
	require.NoError(t, err)

	client := &http.Client{Timeout: 200 * time.Millisecond}
	_, err = client.Get("http://" + lis.Addr().String() + "/health")
	assert.Error(t, err)

	require.NoError(t, held.Close())
	require.Eventually(t, func() bool {
		resp, err := client.Get("http://" + lis.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	client.CloseIdleConnections()
	cancel()
	require.NoError(t, <-done)
}
