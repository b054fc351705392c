package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatisticsJobs_ReflectsCreatedJob(t *testing.T) {
	s, _ := newTestServer(t)

	doRequest(t, s, http.MethodPost, "/api/jobs", `{"description":"a","config_name":"writer"}`)

	rec := doRequest(t, s, http.MethodGet, "/api/statistics/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var counts map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &counts))
	assert.Equal(t, 1, counts["created"])
}

func TestStatisticsStuckJobs_EmptyBeforeAnyDetectorSweep(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/statistics/stuck-jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []stuckJobEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	assert.Empty(t, entries)
}
