package api

import (
	"net/http"
	"strconv"
	"time"
)

func (s *Server) statisticsJobs(w http.ResponseWriter, r *http.Request) {
	counts, err, _ := s.statsGroup.Do("jobs", func() (interface{}, error) {
		return s.store.JobStatusCounts(r.Context())
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) statisticsAgents(w http.ResponseWriter, r *http.Request) {
	counts, err, _ := s.statsGroup.Do("agents", func() (interface{}, error) {
		return s.store.AgentStatusCounts(r.Context())
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) statisticsDaily(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 30)
	key := "daily:" + strconv.Itoa(days)
	counts, err, _ := s.statsGroup.Do(key, func() (interface{}, error) {
		return s.store.DailyJobCounts(r.Context(), days)
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// stuckJobEntry is the wire shape of one detector.StuckJob.
type stuckJobEntry struct {
	JobID           string    `json:"job_id"`
	Status          string    `json:"status"`
	StaleForSeconds float64   `json:"stale_for_seconds"`
	WillEscalateAt  time.Time `json:"will_escalate_at"`
}

// statisticsStuckJobs serves the stuck-work report built by the
// detector's most recent sweep (§4.6/§4.7), rather than re-querying
// storage.Store.StuckJobs directly: the detector's in-memory report
// already carries the escalation-threshold math this endpoint exposes,
// and is the literal "stuck-work report from C6" §4.7 names.
func (s *Server) statisticsStuckJobs(w http.ResponseWriter, r *http.Request) {
	report := s.detector.StuckReport()
	out := make([]stuckJobEntry, len(report))
	for i, sj := range report {
		out[i] = stuckJobEntry{
			JobID:           sj.Job.ID,
			Status:          string(sj.Job.Status),
			StaleForSeconds: sj.StaleFor.Seconds(),
			WillEscalateAt:  sj.WillEscalateAt,
		}
	}
	writeJSON(w, http.StatusOK, out)
}
