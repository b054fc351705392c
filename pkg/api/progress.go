package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cuemby/orchestrator-core/pkg/storage"
)

// progressResponse is the body of GET /jobs/{id}/progress.
type progressResponse struct {
	RequirementCounts storage.RequirementCounts `json:"requirement_counts"`
	ProgressPercent   float64                   `json:"progress_percent"`
	ETASeconds        *float64                  `json:"eta_seconds,omitempty"`
}

func (s *Server) jobProgress(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	counts, err := s.store.CountRequirementsByJob(r.Context(), jobID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	resp := progressResponse{
		RequirementCounts: counts,
		ProgressPercent:   progressPercent(counts),
	}
	if eta, ok := estimateETA(job.CreatedAt, counts); ok {
		resp.ETASeconds = &eta
	}
	writeJSON(w, http.StatusOK, resp)
}

// progressPercent implements §4.7's formula: integrated over the sum
// of every requirement status, clamped to [0, 1], or 0 with no
// requirements at all.
func progressPercent(c storage.RequirementCounts) float64 {
	total := c.Pending + c.Validating + c.Integrated + c.Rejected + c.Failed
	if total == 0 {
		return 0
	}
	pct := float64(c.Integrated) / float64(total)
	if pct < 0 {
		return 0
	}
	if pct > 1 {
		return 1
	}
	return pct
}

// estimateETA implements §4.7's ETA formula: once at least 3
// requirements have integrated, the elapsed time per integration
// (job lifetime so far divided by integrated count) times the number
// of remaining non-terminal (pending + validating) requirements.
// Absent otherwise.
func estimateETA(createdAt time.Time, c storage.RequirementCounts) (float64, bool) {
	if c.Integrated < 3 {
		return 0, false
	}
	elapsed := time.Since(createdAt)
	perIntegration := elapsed.Seconds() / float64(c.Integrated)
	remaining := c.Pending + c.Validating
	return perIntegration * float64(remaining), true
}
