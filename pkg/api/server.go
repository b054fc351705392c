// Package api implements the API Surface (C7): the HTTP/JSON interface
// used by the dashboard UI, agent pods, and operators, per §4.7.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"github.com/cuemby/orchestrator-core/pkg/agentclient"
	apimw "github.com/cuemby/orchestrator-core/pkg/api/middleware"
	"github.com/cuemby/orchestrator-core/pkg/detector"
	"github.com/cuemby/orchestrator-core/pkg/events"
	"github.com/cuemby/orchestrator-core/pkg/jobstore"
	"github.com/cuemby/orchestrator-core/pkg/metrics"
	"github.com/cuemby/orchestrator-core/pkg/registry"
	"github.com/cuemby/orchestrator-core/pkg/review"
	"github.com/cuemby/orchestrator-core/pkg/storage"
	"github.com/cuemby/orchestrator-core/pkg/tracing"
	"github.com/cuemby/orchestrator-core/pkg/upload"
)

var validate = validator.New()

// Server wires the component layer into chi routes.
type Server struct {
	jobs     *jobstore.JobStore
	agents   *registry.Registry
	review   *review.Coordinator
	detector *detector.Detector
	uploads  *upload.Store
	store    storage.Store
	client   agentclient.Client
	broker   *events.Broker

	router chi.Router

	// statsGroup coalesces concurrent requests for the same statistics
	// aggregation into a single store round trip, since §5 forbids a
	// cached view but says nothing against deduplicating identical
	// in-flight reads.
	statsGroup singleflight.Group
}

// Deps bundles the components a Server routes to.
type Deps struct {
	Jobs     *jobstore.JobStore
	Agents   *registry.Registry
	Review   *review.Coordinator
	Detector *detector.Detector
	Uploads  *upload.Store
	Store    storage.Store
	Client   agentclient.Client
	Broker   *events.Broker

	// Prefix is the base path every /jobs, /agents, /uploads, and
	// /statistics route is mounted under (default "/api"). /healthz,
	// /readyz, and /metrics are always mounted at the root regardless.
	Prefix string

	// CORSOrigins lists allowed origins for the dashboard UI.
	CORSOrigins []string
}

// NewServer constructs a Server and builds its routing table.
func NewServer(d Deps) *Server {
	s := &Server{
		jobs:     d.Jobs,
		agents:   d.Agents,
		review:   d.Review,
		detector: d.Detector,
		uploads:  d.Uploads,
		store:    d.Store,
		client:   d.Client,
		broker:   d.Broker,
	}
	s.router = s.buildRouter(d)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter(d Deps) chi.Router {
	prefix := d.Prefix
	if prefix == "" {
		prefix = "/api"
	}
	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(apimw.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(apimw.LoggingAndMetrics)
	r.Use(tracing.Middleware(routePattern))

	r.Get("/healthz", metrics.HealthHandler())
	r.Get("/readyz", metrics.ReadyHandler())
	r.Get("/livez", metrics.LivenessHandler())
	r.Handle("/metrics", metrics.Handler())

	r.Route(prefix, func(api chi.Router) {
		api.Route("/jobs", func(jr chi.Router) {
			jr.Post("/", s.createJob)
			jr.Get("/", s.listJobs)
			jr.Get("/{jobID}", s.getJob)
			jr.Delete("/{jobID}", s.deleteJob)
			jr.Post("/{jobID}/cancel", s.cancelJob)
			jr.Post("/{jobID}/resume", s.resumeJob)
			jr.Post("/{jobID}/approve", s.approveJob)
			jr.Post("/{jobID}/freeze", s.freezeJob)
			jr.Get("/{jobID}/audit", s.jobAudit)
			jr.Get("/{jobID}/progress", s.jobProgress)
		})

		api.Route("/agents", func(ar chi.Router) {
			ar.Post("/", s.registerAgent)
			ar.Get("/", s.listAgents)
			ar.Get("/{agentID}", s.getAgent)
			ar.Delete("/{agentID}", s.removeAgent)
			ar.Post("/{agentID}/heartbeat", s.heartbeatAgent)
		})

		api.Post("/uploads", s.createUpload)

		api.Route("/statistics", func(sr chi.Router) {
			sr.Get("/jobs", s.statisticsJobs)
			sr.Get("/agents", s.statisticsAgents)
			sr.Get("/daily", s.statisticsDaily)
			sr.Get("/stuck-jobs", s.statisticsStuckJobs)
		})
	})

	return r
}

// checkConfigName rejects a config_name absent from the agent config
// catalog as a ConstraintViolation (§3). An empty configName is
// allowed since config_name is optional on POST /jobs.
func (s *Server) checkConfigName(ctx context.Context, configName string) error {
	if configName == "" {
		return nil
	}
	if _, err := s.store.GetAgentConfig(ctx, configName); err != nil {
		if storage.IsNotFound(err) {
			return storage.NewError("api.checkConfigName", storage.KindConstraintViolation,
				fmt.Errorf("unknown config_name %q", configName))
		}
		return err
	}
	return nil
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
