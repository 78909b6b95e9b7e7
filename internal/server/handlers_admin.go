package server

import (
	"context"
	"net/http"
	"strings"
	"time"
)

func (s *Server) handleAdminAgents(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	agents, err := s.mgr.ListAgents(ctx)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": nonNil(agents)})
}

type activateRequest struct {
	DepositTx string `json:"deposit_tx"`
}

func (s *Server) handleAdminActivate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := decodeBody(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	agent, err := s.mgr.Activate(ctx, pathParam(r, "name"), strings.TrimSpace(req.DepositTx))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "agent": agent})
}

func (s *Server) handleJobRunsList(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 1, 200)
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	runs, err := s.mgr.JobRuns(ctx, limit)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(runs))
}

type jobTriggerRequest struct {
	Trigger string `json:"trigger,omitempty"`
}

func (s *Server) handleJobFillsSyncNow(w http.ResponseWriter, r *http.Request) {
	var req jobTriggerRequest
	_ = decodeBody(r, &req)
	trigger := strings.TrimSpace(req.Trigger)
	if trigger == "" {
		trigger = "manual"
	}
	runID, err := s.mgr.StartFillSync(trigger)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "run_id": runID})
}
