// Package api exposes the operations surface of the engine: liveness and
// Prometheus metrics. Credit operations are called in-process.
package api

import (
	"context"
	mw "credit-engine/internal/api/middleware"
	"credit-engine/internal/config"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/traceid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

const healthTimeout = 2 * time.Second

// SetupRouter builds the ops router. checks are probed by /health; any
// failing check turns the response into 503.
func SetupRouter(cfg *config.Config, checks map[string]HealthChecker, logger *slog.Logger) *chi.Mux {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(traceid.Middleware)
	router.Use(mw.StructuredLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(mw.MetricsMiddleware())

	setupMetricsEndpoint(router, cfg, logger)
	router.Get("/health", healthHandler(checks, logger))
	return router
}

func setupMetricsEndpoint(router *chi.Mux, cfg *config.Config, logger *slog.Logger) {
	metricsPath := cfg.Metrics.Path
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	logger.Info("Setting up Prometheus metrics endpoint", "path", metricsPath)
	router.Handle(metricsPath, promhttp.Handler())
}

func healthHandler(checks map[string]HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		status := http.StatusOK
		body := map[string]string{"status": "ok"}
		for name, check := range checks {
			if err := check.Ping(ctx); err != nil {
				logger.WarnContext(ctx, "Health check failed", "dependency", name, "error", err)
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
				body[name] = "unreachable"
				continue
			}
			body[name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
