// Package api hosts the operational HTTP surface: health probes, the
// Prometheus scrape endpoint, and read-only session inspection.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wordcrawl/wordcrawl/internal/crawler"
	"github.com/wordcrawl/wordcrawl/internal/metrics"
	"github.com/wordcrawl/wordcrawl/internal/store"
)

const (
	defaultSessionLimit = 50
	maxSessionLimit     = 500
)

// Server wires the ops routes to the store.
type Server struct {
	router chi.Router
	store  store.Store
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(st store.Store, logger *zap.Logger) *Server {
	s := &Server{store: st, logger: logger}

	r := chi.NewRouter()
	r.Use(s.requestLogger)
	r.Use(recoverMiddleware(logger))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Get("/{session_id}", s.getSession)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// The store backs every route; a failing list means not ready.
	if _, err := s.store.ListSessions(r.Context(), 1); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	limit := defaultSessionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxSessionLimit {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	sessions, err := s.store.ListSessions(r.Context(), limit)
	if err != nil {
		s.logger.Error("list sessions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	out := make([]sessionView, 0, len(sessions))
	for i := range sessions {
		out = append(out, toSessionView(&sessions[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "session_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	rec, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("get session failed", zap.Error(err), zap.String("session", id.String()))
		writeError(w, http.StatusInternalServerError, "failed to fetch session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": toSessionView(rec)})
}

// sessionView is the JSON shape for one session row.
type sessionView struct {
	ID           string                `json:"id"`
	SeedURLs     []string              `json:"seed_urls"`
	Status       crawler.SessionStatus `json:"status"`
	StartedAt    time.Time             `json:"started_at"`
	EndedAt      *time.Time            `json:"ended_at,omitempty"`
	PagesCrawled int64                 `json:"pages_crawled"`
	PagesFailed  int64                 `json:"pages_failed"`
	PagesSkipped int64                 `json:"pages_skipped"`
	BytesTotal   int64                 `json:"bytes_total"`
	Errors       int64                 `json:"errors"`
	FatalError   string                `json:"fatal_error,omitempty"`
}

func toSessionView(rec *store.SessionRecord) sessionView {
	v := sessionView{
		ID:           rec.ID.String(),
		SeedURLs:     rec.SeedURLs,
		Status:       rec.Status,
		StartedAt:    rec.StartedAt,
		PagesCrawled: rec.PagesCrawled,
		PagesFailed:  rec.PagesFailed,
		PagesSkipped: rec.PagesSkipped,
		BytesTotal:   rec.BytesTotal,
		Errors:       rec.Errors,
		FatalError:   rec.FatalError,
	}
	if !rec.EndedAt.IsZero() {
		ended := rec.EndedAt
		v.EndedAt = &ended
	}
	return v
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
