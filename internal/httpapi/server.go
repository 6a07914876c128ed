package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/Kat-CeDe/ucr2-integration-requests/internal/history"
	"github.com/Kat-CeDe/ucr2-integration-requests/internal/logging"
	"github.com/Kat-CeDe/ucr2-integration-requests/internal/middleware"
	"github.com/Kat-CeDe/ucr2-integration-requests/internal/observability"
	"github.com/Kat-CeDe/ucr2-integration-requests/internal/ucapi"
)

// Integration is the framework surface the admin API exposes.
type Integration interface {
	AvailableEntities() *ucapi.Entities
	ConfiguredEntities() *ucapi.Entities
	DeviceState() ucapi.DeviceState
	ExecuteCommand(ctx context.Context, entityID, cmdID string, params map[string]any) ucapi.StatusCode
}

type HistoryLister interface {
	List(ctx context.Context, entityID string, limit int) ([]history.CommandRecord, error)
}

type Options struct {
	Integration Integration
	// History is optional; the history endpoint answers 503 without it.
	History HistoryLister
	// JWTSecret enables bearer token auth on /api when set.
	JWTSecret string
	Metrics   http.Handler
	Tracer    oteltrace.Tracer
	// CommandLimit wraps the command endpoint when set.
	CommandLimit func(http.Handler) http.Handler
	// AllowedOrigins enables CORS for browser dashboards.
	AllowedOrigins []string
}

type Server struct {
	opts Options
	log  *slog.Logger
}

func New(opts Options) *Server {
	return &Server{opts: opts, log: logging.Named("httpapi")}
}

type entityDTO struct {
	ID         string         `json:"entity_id"`
	Type       string         `json:"entity_type"`
	Name       string         `json:"name"`
	Features   []string       `json:"features"`
	Attributes map[string]any `json:"attributes"`
	Configured bool           `json:"configured"`
}

type commandRequest struct {
	CmdID  string         `json:"cmd_id"`
	Params map[string]any `json:"params"`
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	if len(s.opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.opts.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders: []string{"Trace-ID"},
			MaxAge:         300,
		}))
	}
	if s.opts.Tracer != nil {
		r.Use(observability.MetricsAndTracingMiddleware(s.opts.Tracer, "intg-requests"))
	}

	r.Get("/health", s.handleHealth)
	if s.opts.Metrics != nil {
		r.Handle("/metrics", s.opts.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		if s.opts.JWTSecret != "" {
			r.Use(middleware.JWTAuthMiddleware([]byte(s.opts.JWTSecret)))
			r.Use(middleware.RoleAtLeastMiddleware("resident"))
		} else {
			s.log.Warn("admin api running without authentication")
		}
		r.Get("/entities", s.handleListEntities)
		var guards []func(http.Handler) http.Handler
		if s.opts.JWTSecret != "" {
			guards = append(guards, middleware.RoleAtLeastMiddleware("admin"))
		}
		if s.opts.CommandLimit != nil {
			guards = append(guards, s.opts.CommandLimit)
		}
		r.With(guards...).Post("/entities/{id}/commands", s.handleCommand)
		r.Get("/history", s.handleHistory)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"device_state": s.opts.Integration.DeviceState(),
	})
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	configured := s.opts.Integration.ConfiguredEntities()
	available := s.opts.Integration.AvailableEntities().All()
	out := make([]entityDTO, 0, len(available))
	for _, e := range available {
		snap, ok := s.opts.Integration.AvailableEntities().Snapshot(e.ID)
		if !ok {
			continue
		}
		out = append(out, entityDTO{
			ID:         snap.ID,
			Type:       string(snap.Type),
			Name:       snap.Name,
			Features:   snap.Features,
			Attributes: snap.Attributes,
			Configured: configured.Contains(snap.ID),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": out})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req commandRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.CmdID) == "" {
		writeError(w, http.StatusBadRequest, "cmd_id is required")
		return
	}
	code := s.opts.Integration.ExecuteCommand(r.Context(), id, req.CmdID, req.Params)
	s.log.Info("admin command relayed", "entity_id", id, "cmd_id", req.CmdID, "status", code)
	status := http.StatusOK
	if code == ucapi.StatusNotFound {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]any{"code": int(code), "status": code.String()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		writeError(w, http.StatusServiceUnavailable, "history disabled")
		return
	}
	q := r.URL.Query()
	limit := 0
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	entityID := strings.TrimSpace(q.Get("entity_id"))
	rows, err := s.opts.History.List(r.Context(), entityID, limit)
	if err != nil {
		s.log.Error("history query failed", "entity_id", entityID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not query history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": rows})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg, "code": status})
}
