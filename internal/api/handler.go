// Package api serves the daemon's operational HTTP surface: dependency
// health and Prometheus metrics. The product CRUD endpoints live in the
// main application, not in this daemon.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/stablehq/farrier/internal/metrics"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds dependencies for the ops endpoints
type Handler struct {
	logger *zap.Logger
	mongo  Pinger
	redis  Pinger
}

// NewHandler creates an ops handler. The redis pinger may be nil when the
// daemon runs with process-local rate limiting only.
func NewHandler(logger *zap.Logger, mongo, redis Pinger) *Handler {
	return &Handler{
		logger: logger,
		mongo:  mongo,
		redis:  redis,
	}
}

// Health handles GET /health. It reports 503 with the name of the first
// unreachable dependency.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.mongo.Ping(r.Context()); err != nil {
		h.logger.Warn("health check failed",
			zap.String("dependency", "mongodb"),
			zap.Error(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("mongodb unreachable"))
		return
	}

	if h.redis != nil {
		if err := h.redis.Ping(r.Context()); err != nil {
			h.logger.Warn("health check failed",
				zap.String("dependency", "redis"),
				zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("redis unreachable"))
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// Router assembles the ops router with the standard middleware chain.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(RequestLogger(h.logger))

	r.Get("/health", h.Health)
	r.Handle("/metrics", metrics.Handler())

	return r
}
