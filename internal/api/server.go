package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"applybot/internal/ledger"
	"applybot/internal/metrics"
	"applybot/internal/progress/sinks"
	"applybot/internal/schedule"
)

const requestTimeout = 60 * time.Second

// LedgerReporter is the slice of the ledger the read-only endpoints need.
type LedgerReporter interface {
	Stats() (ledger.Stats, error)
	DuplicateEmails() ([]ledger.EmailGroup, error)
}

// StatusSource provides the progress snapshot served by the status endpoint.
type StatusSource interface {
	Snapshot() sinks.StatusReport
}

// StateSource reports whether a cycle is currently underway.
type StateSource interface {
	State() schedule.State
}

// Server wires the HTTP handlers to the ledger and progress snapshot.
type Server struct {
	router    chi.Router
	ledger    LedgerReporter
	status    StatusSource
	scheduler StateSource
	log       *zap.Logger
}

// NewServer constructs a Server with middleware and routes. The scheduler
// source may be nil when the bot runs one-shot cycles.
func NewServer(ledger LedgerReporter, status StatusSource, scheduler StateSource, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		ledger:    ledger,
		status:    status,
		scheduler: scheduler,
		log:       log.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(requestTimeout))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/status", s.getStatus)

	r.Route("/api/ledger", func(r chi.Router) {
		r.Get("/stats", s.getLedgerStats)
		r.Get("/duplicates", s.getLedgerDuplicates)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz proves the ledger file is readable, the one dependency the bot
// cannot run without.
func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.ledger == nil {
		s.writeError(w, http.StatusServiceUnavailable, "ledger unavailable")
		return
	}
	if _, err := s.ledger.Stats(); err != nil {
		s.log.Warn("readiness check failed", zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "ledger unreadable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// statusResponse joins the scheduler state with the progress snapshot.
type statusResponse struct {
	Scheduler string             `json:"scheduler"`
	Progress  sinks.StatusReport `json:"progress"`
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{Scheduler: "n/a"}
	if s.scheduler != nil {
		resp.Scheduler = string(s.scheduler.State())
	}
	if s.status != nil {
		resp.Progress = s.status.Snapshot()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getLedgerStats(w http.ResponseWriter, _ *http.Request) {
	if s.ledger == nil {
		s.writeError(w, http.StatusServiceUnavailable, "ledger unavailable")
		return
	}
	stats, err := s.ledger.Stats()
	if err != nil {
		s.log.Error("ledger stats failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to read ledger")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

func (s *Server) getLedgerDuplicates(w http.ResponseWriter, _ *http.Request) {
	if s.ledger == nil {
		s.writeError(w, http.StatusServiceUnavailable, "ledger unavailable")
		return
	}
	groups, err := s.ledger.DuplicateEmails()
	if err != nil {
		s.log.Error("ledger duplicates failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to read ledger")
		return
	}
	if groups == nil {
		groups = []ledger.EmailGroup{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"count":      len(groups),
		"duplicates": groups,
	})
}

type requestIDKey struct{}

func contextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := contextWithRequestID(r.Context(), reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.log.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.String("request_id", requestIDFrom(r)),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("panic recovered", zap.Any("panic", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
