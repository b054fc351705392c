package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cuemby/orchestrator-core/pkg/storage"
	"github.com/cuemby/orchestrator-core/pkg/types"
)

type registerAgentRequest struct {
	ConfigName string            `json:"config_name" validate:"required"`
	Hostname   string            `json:"hostname" validate:"required"`
	PodIP      string            `json:"pod_ip,omitempty"`
	Port       int               `json:"port" validate:"required,gt=0"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (s *Server) registerAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
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

	agent, err := s.agents.Register(r.Context(), req.ConfigName, req.Hostname, req.PodIP, req.Port, req.Metadata)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	filter := storage.AgentFilter{
		Status:     types.AgentStatus(r.URL.Query().Get("status")),
		ConfigName: r.URL.Query().Get("config_name"),
	}
	agents, err := s.agents.List(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.agents.Get(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) removeAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.agents.Remove(r.Context(), chi.URLParam(r, "agentID")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type heartbeatRequest struct {
	Status       types.AgentStatus `json:"status,omitempty"`
	CurrentJobID *string           `json:"current_job_id,omitempty"`
}

func (s *Server) heartbeatAgent(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "constraint_violation", "malformed request body")
			return
		}
	}
	agentID := chi.URLParam(r, "agentID")
	if err := s.agents.Heartbeat(r.Context(), agentID, req.Status, req.CurrentJobID); err != nil {
		writeStoreError(w, err)
		return
	}
	agent, err := s.agents.Get(r.Context(), agentID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}
