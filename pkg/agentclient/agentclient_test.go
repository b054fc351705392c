package agentclient

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/orchestrator-core/pkg/types"
)

func agentFor(t *testing.T, srv *httptest.Server) *types.Agent {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return &types.Agent{ID: "agent-1", Hostname: host, PodIP: host, Port: port}
}

func TestStart_SucceedsOn2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/run", r.URL.Path)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := New()
	agent := agentFor(t, srv)
	job := &types.Job{ID: "job-1", Description: "do the thing"}

	err := client.Start(context.Background(), agent, job)
	assert.NoError(t, err)
}

func TestStart_RetriesThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New()
	agent := agentFor(t, srv)
	job := &types.Job{ID: "job-1"}

	err := client.Start(context.Background(), agent, job)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

func TestStart_ExhaustsRetriesAndFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := New()
	agent := agentFor(t, srv)
	job := &types.Job{ID: "job-1"}

	err := client.Start(context.Background(), agent, job)
	assert.Error(t, err)
}

func TestJitteredBackoff_WithinTolerance(t *testing.T) {
	for n := 0; n < 4; n++ {
		d := jitteredBackoff(n)
		base := float64(baseBackoff) * float64(int(1)<<uint(n))
		assert.InDelta(t, base, float64(d), base*0.21)
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := New()
	agent := agentFor(t, srv)
	job := &types.Job{ID: "job-1"}

	for i := 0; i < 3; i++ {
		_ = client.Start(context.Background(), agent, job)
	}

	start := time.Now()
	err := client.Start(context.Background(), agent, job)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), requestTimeout, "an open breaker must fail fast without retrying")
}
