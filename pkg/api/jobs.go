package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cuemby/orchestrator-core/pkg/review"
	"github.com/cuemby/orchestrator-core/pkg/storage"
	"github.com/cuemby/orchestrator-core/pkg/types"
)

// freezePayloadRequest mirrors review.FreezePayload as the wire body an
// agent posts to /jobs/{id}/freeze, defaulting frozen_at to now if
// the agent omits it.
type freezePayloadRequest struct {
	Summary      string   `json:"summary" validate:"required"`
	Deliverables []string `json:"deliverables,omitempty"`
	Confidence   float64  `json:"confidence,omitempty"`
	Notes        string   `json:"notes,omitempty"`
	PhaseNumber  int      `json:"phase_number,omitempty"`
	FrozenAt     time.Time `json:"frozen_at,omitempty"`
}

func (p freezePayloadRequest) toDomain() review.FreezePayload {
	frozenAt := p.FrozenAt
	if frozenAt.IsZero() {
		frozenAt = time.Now()
	}
	return review.FreezePayload{
		Summary:      p.Summary,
		Deliverables: p.Deliverables,
		Confidence:   p.Confidence,
		Notes:        p.Notes,
		PhaseNumber:  p.PhaseNumber,
		FrozenAt:     frozenAt,
	}
}

// createJobRequest is the body of POST /jobs.
type createJobRequest struct {
	Description  string `json:"description" validate:"required"`
	UploadID     string `json:"upload_id,omitempty"`
	ConfigName   string `json:"config_name,omitempty"`
	Context      string `json:"context,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "constraint_violation", "malformed request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "constraint_violation", err.Error())
		return
	}
	if err := s.checkConfigName(r.Context(), req.ConfigName); err != nil {
		writeStoreError(w, err)
		return
	}

	job, err := s.jobs.CreateJob(r.Context(), req.Description, req.ConfigName, req.UploadID, req.Context, req.Instructions)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	filter := storage.JobFilter{
		Status: types.JobStatus(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit", 0),
	}
	jobs, err := s.jobs.List(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.Delete(r.Context(), chi.URLParam(r, "jobID")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.jobs.Cancel(r.Context(), jobID); err != nil {
		writeStoreError(w, err)
		return
	}
	// Best-effort: tell the assigned agent to stop, if it had one.
	if job.AssignedAgentID != "" {
		if agent, agentErr := s.agents.Get(r.Context(), job.AssignedAgentID); agentErr == nil {
			_ = s.client.Cancel(r.Context(), agent, jobID)
		}
	}
	job, err = s.jobs.Get(r.Context(), jobID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type resumeJobRequest struct {
	Feedback string `json:"feedback,omitempty"`
}

func (s *Server) resumeJob(w http.ResponseWriter, r *http.Request) {
	var req resumeJobRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "constraint_violation", "malformed request body")
			return
		}
	}
	jobID := chi.URLParam(r, "jobID")
	if err := s.review.Resume(r.Context(), jobID, req.Feedback); err != nil {
		writeStoreError(w, err)
		return
	}
	job, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) approveJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := s.review.Approve(r.Context(), jobID); err != nil {
		writeStoreError(w, err)
		return
	}
	job, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) freezeJob(w http.ResponseWriter, r *http.Request) {
	var payload freezePayloadRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "constraint_violation", "malformed request body")
		return
	}
	if err := validate.Struct(payload); err != nil {
		writeError(w, http.StatusBadRequest, "constraint_violation", err.Error())
		return
	}

	jobID := chi.URLParam(r, "jobID")
	if err := s.review.Freeze(r.Context(), jobID, payload.toDomain()); err != nil {
		writeStoreError(w, err)
		return
	}
	job, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) jobAudit(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	events, err := s.store.ListAuditEvents(r.Context(), jobID, limit, offset)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}
