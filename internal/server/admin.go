package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"boardnotify/internal/delivery"
	"boardnotify/internal/scheduler"
	"boardnotify/internal/storage"
)

// handleStart starts the scheduler loop on the app context so it survives
// the request that triggered it.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.sched.Start(s.appCtx)
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.sched.Stop(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.Refresh(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("working set refresh failed")
		writeError(w, http.StatusInternalServerError, "refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, s.sched.Status())
}

// handleResetRule clears a rule's execution marker so a recurring rule can
// fire again today.
func (s *Server) handleResetRule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid rule id")
		return
	}
	if err := s.sched.ResetRule(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "rule not found")
			return
		}
		s.log.Error().Err(err).Int64("rule_id", id).Msg("rule reset failed")
		writeError(w, http.StatusInternalServerError, "reset failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "reset", "rule_id": id})
}

type statusResponse struct {
	Scheduler scheduler.Status `json:"scheduler"`
	Streams   delivery.Stats   `json:"streams"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Scheduler: s.sched.Status(),
		Streams:   s.registry.Stats(),
	})
}
