package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/orchestrator-core/pkg/types"
)

func TestCreateJob_ReturnsCreatedJob(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/jobs", `{"description":"write a poem","config_name":"writer"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var job types.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, "write a poem", job.Description)
	assert.Equal(t, types.JobStatusCreated, job.Status)
}

func TestCreateJob_RejectsMissingDescription(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/jobs", `{"config_name":"writer"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJob_ReturnsNotFoundForUnknownID(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/jobs/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJobs_FiltersByStatus(t *testing.T) {
	s, _ := newTestServer(t)

	doRequest(t, s, http.MethodPost, "/api/jobs", `{"description":"a","config_name":"writer"}`)
	doRequest(t, s, http.MethodPost, "/api/jobs", `{"description":"b","config_name":"writer"}`)

	rec := doRequest(t, s, http.MethodGet, "/api/jobs?status=created", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var jobs []types.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	assert.Len(t, jobs, 2)
}

func TestCancelJob_TransitionsToCancelled(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/jobs", `{"description":"a","config_name":"writer"}`)
	var job types.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))

	rec = doRequest(t, s, http.MethodPost, "/api/jobs/"+job.ID+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var cancelled types.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cancelled))
	assert.Equal(t, types.JobStatusCancelled, cancelled.Status)
}

func TestDeleteJob_RequiresTerminalState(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/jobs", `{"description":"a","config_name":"writer"}`)
	var job types.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))

	rec = doRequest(t, s, http.MethodDelete, "/api/jobs/"+job.ID, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	doRequest(t, s, http.MethodPost, "/api/jobs/"+job.ID+"/cancel", "")
	rec = doRequest(t, s, http.MethodDelete, "/api/jobs/"+job.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
