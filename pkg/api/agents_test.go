package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/orchestrator-core/pkg/types"
)

func TestRegisterAgent_ReturnsBootingAgent(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/agents",
		`{"config_name":"writer","hostname":"10.0.0.5","port":9000}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var agent types.Agent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agent))
	assert.Equal(t, types.AgentStatusBooting, agent.Status)
	assert.Equal(t, "writer", agent.ConfigName)
}

func TestRegisterAgent_RejectsMissingHostname(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/agents", `{"config_name":"writer","port":9000}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHeartbeatAgent_UpdatesStatus(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/agents",
		`{"config_name":"writer","hostname":"10.0.0.5","port":9000}`)
	var agent types.Agent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agent))

	rec = doRequest(t, s, http.MethodPost, "/api/agents/"+agent.ID+"/heartbeat", `{"status":"ready"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var updated types.Agent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, types.AgentStatusReady, updated.Status)
}

func TestRemoveAgent_RequiresNonWorkingState(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/agents",
		`{"config_name":"writer","hostname":"10.0.0.5","port":9000}`)
	var agent types.Agent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agent))

	rec = doRequest(t, s, http.MethodDelete, "/api/agents/"+agent.ID, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	doRequest(t, s, http.MethodPost, "/api/agents/"+agent.ID+"/heartbeat", `{"status":"failed"}`)
	rec = doRequest(t, s, http.MethodDelete, "/api/agents/"+agent.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
