// Package agentclient implements the Agent Client (C8): outbound HTTP
// calls to agent pods, with the timeout/retry policy of §4.8 and a
// per-agent circuit breaker.
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/cuemby/orchestrator-core/pkg/log"
	"github.com/cuemby/orchestrator-core/pkg/metrics"
	"github.com/cuemby/orchestrator-core/pkg/types"
)

const (
	connectTimeout = 2 * time.Second
	requestTimeout = 10 * time.Second
	maxRetries     = 3
	baseBackoff    = 250 * time.Millisecond
)

// Client is the subset of agent commands C8 exposes to the rest of the
// orchestrator.
type Client interface {
	Start(ctx context.Context, agent *types.Agent, job *types.Job) error
	Cancel(ctx context.Context, agent *types.Agent, jobID string) error
	Resume(ctx context.Context, agent *types.Agent, job *types.Job, feedback string) error
	Approve(ctx context.Context, agent *types.Agent, job *types.Job) error
}

// HTTPClient is the default Client implementation. It keeps one
// gobreaker.CircuitBreaker per agent ID so a pod that's clearly dead
// stops absorbing the full retry budget on every call.
type HTTPClient struct {
	httpClient *http.Client

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// New constructs an HTTPClient.
func New() *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
			},
		},
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (c *HTTPClient) breakerFor(agentID string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.breakers[agentID]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "agent-" + agentID,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				metrics.AgentClientBreakerOpenTotal.WithLabelValues(agentID).Inc()
				log.WithAgentID(agentID).Warn().Msg("agent circuit breaker open")
			}
		},
	})
	c.breakers[agentID] = b
	return b
}

type startBody struct {
	JobID        string `json:"job_id"`
	Prompt       string `json:"prompt"`
	UploadID     string `json:"upload_id,omitempty"`
	Instructions string `json:"instructions,omitempty"`
	Context      string `json:"context,omitempty"`
}

type commandBody struct {
	JobID    string `json:"job_id"`
	Feedback string `json:"feedback,omitempty"`
}

// Start implements POST {agent_base}/run.
func (c *HTTPClient) Start(ctx context.Context, agent *types.Agent, job *types.Job) error {
	return c.call(ctx, agent, "start", "/run", startBody{
		JobID:        job.ID,
		Prompt:       job.Description,
		UploadID:     job.UploadID,
		Instructions: job.Instructions,
		Context:      job.Context,
	})
}

// Cancel implements POST {agent_base}/cancel.
func (c *HTTPClient) Cancel(ctx context.Context, agent *types.Agent, jobID string) error {
	return c.call(ctx, agent, "cancel", "/cancel", commandBody{JobID: jobID})
}

// Resume implements POST {agent_base}/resume.
func (c *HTTPClient) Resume(ctx context.Context, agent *types.Agent, job *types.Job, feedback string) error {
	return c.call(ctx, agent, "resume", "/resume", commandBody{JobID: job.ID, Feedback: feedback})
}

// Approve implements POST {agent_base}/approve.
func (c *HTTPClient) Approve(ctx context.Context, agent *types.Agent, job *types.Job) error {
	return c.call(ctx, agent, "approve", "/approve", commandBody{JobID: job.ID})
}

func (c *HTTPClient) call(ctx context.Context, agent *types.Agent, command, path string, body interface{}) error {
	breaker := c.breakerFor(agent.ID)
	_, err := breaker.Execute(func() (interface{}, error) {
		return nil, c.doWithRetry(ctx, agent, command, path, body)
	})
	return err
}

func (c *HTTPClient) doWithRetry(ctx context.Context, agent *types.Agent, command, path string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", command, err)
	}

	url := fmt.Sprintf("http://%s:%d%s", agent.PodIP, agent.Port, path)
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := jitteredBackoff(attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		timer := metrics.NewTimer()
		lastErr = c.doOnce(ctx, url, payload)
		timer.ObserveDurationVec(metrics.AgentClientRequestDuration, command)
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("%s to agent %s: %w", command, agent.ID, lastErr)
}

func (c *HTTPClient) doOnce(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// jitteredBackoff implements 250ms * 2^n +/- 20% jitter.
func jitteredBackoff(n int) time.Duration {
	base := float64(baseBackoff) * float64(int(1)<<uint(n))
	jitter := base * 0.2
	delta := (rand.Float64()*2 - 1) * jitter
	return time.Duration(base + delta)
}
