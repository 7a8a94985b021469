package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/parlance/internal/session"
)

type createSessionRequest struct {
	InputLanguage  string `json:"inputLanguage"`
	OutputLanguage string `json:"outputLanguage"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, "invalid_request", "request body is required")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	sess, err := s.sessions.StartSession(r.Context(), req.InputLanguage, req.OutputLanguage, session.Options{})
	if err != nil {
		s.respondSessionError(w, err)
		return
	}
	s.sessionEvent("started")
	respondJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, "", s.sessions.Get)
}

func (s *Server) handlePauseSession(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, "paused", s.sessions.Pause)
}

func (s *Server) handleResumeSession(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, "resumed", s.sessions.Resume)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, "ended", s.sessions.Stop)
}

func (s *Server) withSession(w http.ResponseWriter, r *http.Request, event string, op func(context.Context, string) (session.Session, error)) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}
	sess, err := op(r.Context(), id)
	if err != nil {
		s.respondSessionError(w, err)
		return
	}
	if event != "" {
		s.sessionEvent(event)
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) respondSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrValidation):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, session.ErrInvalidState):
		respondError(w, http.StatusConflict, "invalid_session_state", err.Error())
	default:
		s.logger.Error("session operation failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (s *Server) sessionEvent(event string) {
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues(event).Inc()
	}
}
