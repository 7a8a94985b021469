package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/parlance/internal/config"
	"github.com/ent0n29/parlance/internal/connections"
	"github.com/ent0n29/parlance/internal/health"
	"github.com/ent0n29/parlance/internal/observability"
	"github.com/ent0n29/parlance/internal/router"
	"github.com/ent0n29/parlance/internal/session"
)

// Deps are the collaborators the HTTP surface serves. Hub must be the
// transport the Registry was built with.
type Deps struct {
	Sessions *session.Manager
	Registry *connections.Registry
	Hub      *Hub
	Router   *router.Router
	Monitor  *health.Monitor
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	registry *connections.Registry
	hub      *Hub
	router   *router.Router
	monitor  *health.Monitor
	metrics  *observability.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hub := deps.Hub
	if hub == nil {
		hub = NewHub()
	}
	return &Server{
		cfg:      cfg,
		sessions: deps.Sessions,
		registry: deps.Registry,
		hub:      hub,
		router:   deps.Router,
		monitor:  deps.Monitor,
		metrics:  deps.Metrics,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/realtime/ws", s.handleRealtimeWS)
	r.Get("/v1/health", s.handleCapabilityHealth)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Post("/v1/sessions", s.handleCreateSession)
	r.Get("/v1/sessions/{id}", s.handleGetSession)
	r.Post("/v1/sessions/{id}/pause", s.handlePauseSession)
	r.Post("/v1/sessions/{id}/resume", s.handleResumeSession)
	r.Post("/v1/sessions/{id}/end", s.handleEndSession)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"attached_sockets":  s.hub.Len(),
		"capability_mode":   s.cfg.CapabilityMode,
		"persistence_store": s.storeMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "connection registry not configured")
		return
	}
	if err := s.registry.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store_unreachable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":            "ready",
		"persistence_store": s.storeMode(),
	})
}

func (s *Server) handleCapabilityHealth(w http.ResponseWriter, _ *http.Request) {
	if s.monitor == nil {
		respondJSON(w, http.StatusOK, map[string]any{"status": "unknown"})
		return
	}
	agg, ok := s.monitor.Latest()
	if !ok {
		respondJSON(w, http.StatusOK, map[string]any{"status": "unknown"})
		return
	}
	respondJSON(w, http.StatusOK, agg)
}

func (s *Server) storeMode() string {
	if strings.TrimSpace(s.cfg.DatabaseURL) == "" {
		return "in-memory"
	}
	return "postgres"
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
