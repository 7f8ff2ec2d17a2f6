// Package httpapi implements the one HTTP surface spec §6 calls back
// into scope: external POSTs to /monitor and /heartbeat that trigger
// the same internal effect as the in-process scheduler, behind a
// pre-shared header key. Router wiring follows jmylchreest-refyne-api's
// captcha-server cmd/main.go go-chi/chi/v5 idiom (a chi.Router plus the
// standard middleware chain), and the shared-secret check is a
// simplified, constant-time-compare version of that repo's
// internal/http/mw.Auth header-based gate — this trigger surface has no
// tiers/features/JWT, only one admin key.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/raceops/ingest/engine/internal/telemetry/logging"
)

// TriggerHeaderKey is the pre-shared header carrying the admin key.
const TriggerHeaderKey = "X-Raceops-Trigger-Key"

// MonitorRunner is satisfied by monitor.Monitor.
type MonitorRunner interface {
	RunPass(ctx context.Context) error
}

// RetryDrainer is satisfied by retryqueue.Queue.
type RetryDrainer interface {
	DrainOnce(ctx context.Context)
}

// Server is the chi-routed trigger surface.
type Server struct {
	router  chi.Router
	adminKey string
}

// Config wires the two trigger endpoints to their handlers.
type Config struct {
	AdminKey string
	Monitor  MonitorRunner
	Retry    RetryDrainer
	Log      logging.Logger
}

// New builds the router. /monitor runs one Endpoint Monitor pass;
// /heartbeat runs one Retry Queue drain pass — both idempotent,
// producing the same effect an in-process timer would.
func New(cfg Config) *Server {
	s := &Server{adminKey: cfg.AdminKey}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(45 * time.Second))
	r.Use(s.requireTriggerKey)

	r.Post("/monitor", s.handleMonitor(cfg.Monitor, cfg.Log))
	r.Post("/heartbeat", s.handleHeartbeat(cfg.Retry, cfg.Log))

	s.router = r
	return s
}

// ServeHTTP lets Server be mounted directly as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) requireTriggerKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(TriggerHeaderKey)
		if s.adminKey == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.adminKey)) != 1 {
			writeJSONError(w, http.StatusUnauthorized, "invalid or missing trigger key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleMonitor(runner MonitorRunner, log logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := runner.RunPass(r.Context()); err != nil {
			log.ErrorCtx(r.Context(), "httpapi: triggered monitor pass failed", "error", err)
			writeJSONError(w, http.StatusInternalServerError, "monitor pass failed")
			return
		}
		writeJSONOK(w)
	}
}

func (s *Server) handleHeartbeat(drainer RetryDrainer, log logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		drainer.DrainOnce(r.Context())
		writeJSONOK(w)
	}
}

func writeJSONOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
