package integration_test

import (
	"context"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/cuemby/orchestrator-core/pkg/agentclient"
	"github.com/cuemby/orchestrator-core/pkg/api"
	"github.com/cuemby/orchestrator-core/pkg/detector"
	"github.com/cuemby/orchestrator-core/pkg/dispatcher"
	"github.com/cuemby/orchestrator-core/pkg/events"
	"github.com/cuemby/orchestrator-core/pkg/jobstore"
	"github.com/cuemby/orchestrator-core/pkg/registry"
	"github.com/cuemby/orchestrator-core/pkg/review"
	"github.com/cuemby/orchestrator-core/pkg/storagetest"
	"github.com/cuemby/orchestrator-core/pkg/types"
)

// fastTick is short enough that Eventually(...) converges quickly
// without every spec needing its own Kick() choreography.
const fastTick = 10 * time.Millisecond

// fakeAgentClient is a scriptable agentclient.Client: it never makes a
// real HTTP call, so specs can assert on what the dispatcher/review
// coordinator asked an agent to do without a live agent pod.
type fakeAgentClient struct {
	mu sync.Mutex

	startFailures int // Start fails this many times before succeeding
	starts        []startCall
	cancels       []string
	resumes       []resumeCall
	approves      []string
}

type startCall struct {
	AgentID, JobID string
}

type resumeCall struct {
	AgentID, JobID, Feedback string
}

func (f *fakeAgentClient) Start(ctx context.Context, agent *types.Agent, job *types.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startFailures > 0 {
		f.startFailures--
		return agentclientErr{"agent unreachable"}
	}
	f.starts = append(f.starts, startCall{agent.ID, job.ID})
	return nil
}

func (f *fakeAgentClient) Cancel(ctx context.Context, agent *types.Agent, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, jobID)
	return nil
}

func (f *fakeAgentClient) Resume(ctx context.Context, agent *types.Agent, job *types.Job, feedback string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumes = append(f.resumes, resumeCall{agent.ID, job.ID, feedback})
	return nil
}

func (f *fakeAgentClient) Approve(ctx context.Context, agent *types.Agent, job *types.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approves = append(f.approves, job.ID)
	return nil
}

func (f *fakeAgentClient) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts)
}

type agentclientErr struct{ msg string }

func (e agentclientErr) Error() string { return e.msg }

var _ agentclient.Client = (*fakeAgentClient)(nil)

// harness wires C1-C9 the way cmd/orchestratord does, minus Postgres and
// HTTP agent pods: storagetest.Fake stands in for C1, fakeAgentClient
// stands in for the network half of C8.
type harness struct {
	store    *storagetest.Fake
	broker   *events.Broker
	agents   *registry.Registry
	jobs     *jobstore.JobStore
	client   *fakeAgentClient
	dispatch *dispatcher.Dispatcher
	detect   *detector.Detector
	review   *review.Coordinator
	server   *httptest.Server
}

func newHarness(detectorOpts ...detector.Option) *harness {
	store := storagetest.New()
	_ = store.UpsertAgentConfig(context.Background(), &types.AgentConfigSpec{Name: "writer", Image: "writer:latest"})
	_ = store.UpsertAgentConfig(context.Background(), &types.AgentConfigSpec{Name: "reviewer", Image: "reviewer:latest"})
	broker := events.NewBroker()
	broker.Start()

	agents := registry.New(store, broker)
	jobs := jobstore.New(store, broker)
	client := &fakeAgentClient{}

	disp := dispatcher.New(store, client, fastTick)
	opts := append([]detector.Option{detector.WithTickInterval(fastTick)}, detectorOpts...)
	det := detector.New(store, disp, opts...)
	coord := review.New(jobs, agents, client, broker, disp)

	srv := api.NewServer(api.Deps{
		Jobs:     jobs,
		Agents:   agents,
		Review:   coord,
		Detector: det,
		Store:    store,
		Client:   client,
		Broker:   broker,
		Prefix:   "/api",
	})

	h := &harness{
		store: store, broker: broker, agents: agents, jobs: jobs,
		client: client, dispatch: disp, detect: det, review: coord,
		server: httptest.NewServer(srv),
	}
	return h
}

func (h *harness) start() {
	h.dispatch.Start()
	h.detect.Start()
}

func (h *harness) stop() {
	h.detect.Stop()
	h.dispatch.Stop()
	h.broker.Stop()
	h.server.Close()
}

func (h *harness) url(path string) string {
	return h.server.URL + "/api" + path
}
