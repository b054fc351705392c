package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cuemby/orchestrator-core/pkg/detector"
	"github.com/cuemby/orchestrator-core/pkg/jobstore"
	"github.com/cuemby/orchestrator-core/pkg/registry"
	"github.com/cuemby/orchestrator-core/pkg/review"
	"github.com/cuemby/orchestrator-core/pkg/storagetest"
	"github.com/cuemby/orchestrator-core/pkg/types"
	"github.com/cuemby/orchestrator-core/pkg/upload"
)

type fakeClient struct{}

func (f *fakeClient) Start(ctx context.Context, agent *types.Agent, job *types.Job) error { return nil }
func (f *fakeClient) Cancel(ctx context.Context, agent *types.Agent, jobID string) error  { return nil }
func (f *fakeClient) Resume(ctx context.Context, agent *types.Agent, job *types.Job, feedback string) error {
	return nil
}
func (f *fakeClient) Approve(ctx context.Context, agent *types.Agent, job *types.Job) error {
	return nil
}

type fakeKicker struct{ kicked int }

func (f *fakeKicker) Kick() { f.kicked++ }

func newTestServer(t *testing.T) (*Server, *storagetest.Fake) {
	t.Helper()
	store := storagetest.New()
	jobs := jobstore.New(store, nil)
	agents := registry.New(store, nil)
	client := &fakeClient{}
	kicker := &fakeKicker{}
	coord := review.New(jobs, agents, client, nil, kicker)
	det := detector.New(store, kicker)
	up, err := upload.New(t.TempDir(), store)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.UpsertAgentConfig(context.Background(), &types.AgentConfigSpec{Name: "writer", Image: "writer:latest"}); err != nil {
		t.Fatal(err)
	}

	return NewServer(Deps{
		Jobs:     jobs,
		Agents:   agents,
		Review:   coord,
		Detector: det,
		Uploads:  up,
		Store:    store,
		Client:   client,
	}), store
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}
