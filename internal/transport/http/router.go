// Package httptransport is the thin HTTP layer. Handlers decode, validate,
// and delegate; every rule lives in the domain services so transport
// concerns stay isolated.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"organlink/internal/lifecycle"
	"organlink/internal/match"
	"organlink/internal/platform/metrics"
	"organlink/internal/platform/middleware"
	"organlink/internal/ranking"
)

// HealthCheck is one named dependency probe for /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Handler struct {
	lifecycle *lifecycle.Service
	ranking   *ranking.Service
	arbiter   *match.Arbiter
	validator middleware.TokenValidator
	logger    *slog.Logger
	metrics   *metrics.Metrics
	health    []HealthCheck
	timeout   time.Duration
}

type Option func(*Handler)

func WithHealthChecks(checks ...HealthCheck) Option {
	return func(h *Handler) { h.health = append(h.health, checks...) }
}

func WithTimeout(d time.Duration) Option {
	return func(h *Handler) { h.timeout = d }
}

func NewHandler(
	lifecycleSvc *lifecycle.Service,
	rankingSvc *ranking.Service,
	arbiter *match.Arbiter,
	validator middleware.TokenValidator,
	logger *slog.Logger,
	m *metrics.Metrics,
	opts ...Option,
) *Handler {
	h := &Handler{
		lifecycle: lifecycleSvc,
		ranking:   rankingSvc,
		arbiter:   arbiter,
		validator: validator,
		logger:    logger,
		metrics:   m,
		timeout:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router wires all endpoints. Operational endpoints are unauthenticated;
// the API routes require a bearer token and the admin subtree additionally
// requires the admin role.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", h.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Recovery(h.logger))
		r.Use(middleware.RequestID)
		r.Use(middleware.Logger(h.logger))
		r.Use(middleware.Timeout(h.timeout))
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.Latency(h.metrics))
		r.Use(middleware.RequireAuth(h.validator, h.logger))

		r.Post("/donations", h.handleSubmitDonation)

		r.Post("/requests", h.handleSubmitRequest)
		r.Get("/requests/{id}", h.handleGetRequest)
		r.Get("/requests/{id}/ranking", h.handleGetRanking)
		r.Post("/requests/{id}/match", h.handleCreateMatch)

		r.Get("/matches/{id}", h.handleGetMatch)

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole("admin", h.logger))
			r.Get("/donations", h.handleListDonations)
			r.Post("/donations/{id}/status", h.handleSetDonationStatus)
			r.Post("/matches/{id}/approve", h.handleApproveMatch)
			r.Post("/matches/{id}/reject", h.handleRejectMatch)
		})
	})

	return r
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	report := make(map[string]string, len(h.health)+1)
	report["status"] = "ok"
	for _, check := range h.health {
		if err := check.Check(ctx); err != nil {
			report[check.Name] = err.Error()
			report["status"] = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		report[check.Name] = "ok"
	}
	WriteJSON(w, status, report)
}
