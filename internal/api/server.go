package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/analytics"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/config"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/queue"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/store"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/syncer"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/telemetry"
)

// Server wires the connector management and analytics HTTP surface.
type Server struct {
	cfg        config.Config
	store      *store.Store
	queue      *queue.LaneQueue
	syncer     *syncer.Orchestrator
	aggregator *analytics.JobAggregator
}

func New(cfg config.Config, st *store.Store, q *queue.LaneQueue, orch *syncer.Orchestrator, agg *analytics.JobAggregator) *Server {
	return &Server{
		cfg:        cfg,
		store:      st,
		queue:      q,
		syncer:     orch,
		aggregator: agg,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/connectors", s.handleCreateConnector)
	r.Get("/connectors/{id}", s.handleGetConnector)
	r.Post("/connectors/{id}/sync/full", s.handleSync(true))
	r.Post("/connectors/{id}/sync/delta", s.handleSync(false))
	r.Post("/connectors/{id}/test", s.handleTestConnection)
	r.Get("/connectors/{id}/jobs/{jobID}/heatmap", s.handleHeatmap)
	r.Get("/dlq", s.handleDLQ)
	return r
}

type createConnectorRequest struct {
	Name      string `json:"name"`
	Subdomain string `json:"subdomain"`
	APIKey    string `json:"api_key"`
}

func (s *Server) handleCreateConnector(w http.ResponseWriter, r *http.Request) {
	var req createConnectorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.Subdomain == "" || req.APIKey == "" {
		http.Error(w, "name, subdomain and api_key are required", http.StatusBadRequest)
		return
	}
	conn, err := s.store.CreateConnector(r.Context(), req.Name, req.Subdomain, req.APIKey)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, conn)
}

func (s *Server) handleGetConnector(w http.ResponseWriter, r *http.Request) {
	conn, err := s.store.GetConnector(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrConnectorNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

type syncResponse struct {
	OK      bool   `json:"ok"`
	Status  int    `json:"status"`
	Message string `json:"message"`
	TaskID  string `json:"task_id,omitempty"`
	Result  any    `json:"result,omitempty"`
}

// handleSync triggers a full or delta sync. Failures answer with the same
// {ok, status, message} envelope as success so callers never have to parse
// two shapes.
func (s *Server) handleSync(full bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			writeJSON(w, http.StatusBadRequest, syncResponse{Status: 400, Message: "connector id is required"})
			return
		}
		inline := r.URL.Query().Get("inline") == "true"

		var (
			res    any
			taskID string
			err    error
		)
		if full {
			res, taskID, err = s.syncer.FullSync(r.Context(), id, inline)
		} else {
			res, taskID, err = s.syncer.DeltaSync(r.Context(), id, inline)
		}
		if err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, syncer.ErrSyncInProgress):
				status = http.StatusConflict
			case errors.Is(err, store.ErrConnectorNotFound):
				status = http.StatusNotFound
			}
			writeJSON(w, status, syncResponse{Status: status, Message: err.Error()})
			return
		}
		resp := syncResponse{OK: true, Status: http.StatusAccepted, Message: "sync enqueued", TaskID: taskID}
		if inline {
			resp.Status = http.StatusOK
			resp.Message = "sync complete"
			resp.Result = res
		}
		writeJSON(w, resp.Status, resp)
	}
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	status, err := s.syncer.TestConnection(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrConnectorNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	connectorID := chi.URLParam(r, "id")
	jobID := chi.URLParam(r, "jobID")
	cells, err := s.aggregator.ComputeJobHeatmap(r.Context(), jobID, connectorID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "cells": cells})
}

// handleDLQ returns the dead-letter queue contents.
func (s *Server) handleDLQ(w http.ResponseWriter, r *http.Request) {
	items, err := s.queue.DLQPeek(r.Context(), 100)
	if err != nil {
		http.Error(w, "failed to read dlq", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
