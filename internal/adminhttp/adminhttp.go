// Package adminhttp exposes corewriter's health and metrics surface over
// chi, following marmos91-dittofs's pkg/controlplane/api.NewRouter: a
// middleware stack of RequestID/RealIP/custom-logger/Recoverer/Timeout,
// with unauthenticated /health routes since nothing behind them mutates
// writer state.
package adminhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// HealthResponse is the JSON body served from /health and /health/ready,
// decoded by rtpsctl's status subcommand.
type HealthResponse struct {
	Status  string `json:"status"`
	Started string `json:"started_at"`
	Uptime  string `json:"uptime"`
}

// Checker reports whether a dependency the admin surface cares about is
// currently healthy.
type Checker interface {
	Healthy() bool
}

// Ops exposes the mutating writer operations rtpsctl's operator
// subcommands trigger remotely. A nil Ops leaves /writer routes
// unmounted.
type Ops interface {
	AssertLiveliness() error
	ResetHistory() error
}

// Server wraps the admin HTTP surface's lifecycle.
type Server struct {
	httpServer *http.Server
	log        *zap.Logger
	startedAt  time.Time
}

// New builds a Server bound to addr, exposing /health, /health/ready,
// and, when metricsHandler is non-nil, the given path for Prometheus
// scraping. When ops is non-nil, it also mounts POST
// /writer/assert-liveliness and POST /writer/reset-history.
func New(addr string, log *zap.Logger, readiness Checker, metricsHandler http.Handler, metricsPath string, ops Ops) *Server {
	startedAt := time.Now()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Route("/health", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeHealth(w, http.StatusOK, startedAt, "healthy")
		})
		r.Get("/ready", func(w http.ResponseWriter, _ *http.Request) {
			if readiness != nil && !readiness.Healthy() {
				writeHealth(w, http.StatusServiceUnavailable, startedAt, "unready")
				return
			}
			writeHealth(w, http.StatusOK, startedAt, "ready")
		})
	})

	if metricsHandler != nil {
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		r.Handle(metricsPath, metricsHandler)
	}

	if ops != nil {
		r.Route("/writer", func(r chi.Router) {
			r.Post("/assert-liveliness", opsHandler(ops.AssertLiveliness))
			r.Post("/reset-history", opsHandler(ops.ResetHistory))
		})
	}

	return &Server{
		httpServer: &http.Server{Addr: addr, Handler: r},
		log:        log,
		startedAt:  startedAt,
	}
}

func opsHandler(fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if err := fn(); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

func writeHealth(w http.ResponseWriter, status int, startedAt time.Time, state string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HealthResponse{
		Status:  state,
		Started: startedAt.UTC().Format(time.RFC3339),
		Uptime:  time.Since(startedAt).Round(time.Second).String(),
	})
}

// ListenAndServe blocks serving the admin surface until the server is shut
// down; it returns nil on a clean Shutdown.
func (s *Server) ListenAndServe() error {
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the admin surface.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			fields := []zap.Field{
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
			}
			if r.URL.Path == "/health" || r.URL.Path == "/health/ready" {
				log.Debug("admin request", fields...)
			} else {
				log.Info("admin request", fields...)
			}
		})
	}
}
