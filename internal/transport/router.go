package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/quorumdocs/docflow/internal/config"
	"github.com/quorumdocs/docflow/internal/definition"
	"github.com/quorumdocs/docflow/internal/history"
	"github.com/quorumdocs/docflow/internal/lifecycle"
	"github.com/quorumdocs/docflow/internal/observability"
	"github.com/quorumdocs/docflow/internal/transition"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config           *config.Config
	Logger           *zap.Logger
	Authenticate     func(http.Handler) http.Handler
	Manager          *lifecycle.Manager
	Engine           *transition.Engine
	Recorder         *history.Recorder
	Registry         *definition.Registry
	Metrics          *observability.Metrics
	IdempotencyStore IdempotencyStore
	ReadinessChecks  observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Public routes — bypass authentication.
	r.Get("/healthz", observability.HandleHealth())
	r.Get("/readyz", observability.HandleReady(deps.ReadinessChecks))
	if deps.Config.Observability.Metrics.Enabled {
		path := deps.Config.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, observability.Handler())
	}

	// Authenticated routes — full middleware chain.
	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	idem := Idempotency(deps.IdempotencyStore, deps.Config.Idempotency.DefaultTTL)

	r.Group(func(r chi.Router) {
		r.Use(observability.TracingMiddleware)
		r.Use(auth)
		r.Use(BuildRequestContext)
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}

		r.Route("/api/documents/{documentId}/workflow", func(r chi.Router) {
			r.Get("/", handleWorkflowStatus(deps.Manager))
			r.Delete("/", handleWorkflowReset(deps.Manager, deps.Metrics))
			r.With(idem).Post("/", handleWorkflowCreateOrGet(deps.Manager, deps.Metrics))
			r.With(idem).Post("/start", handleWorkflowStart(deps.Manager, deps.Metrics))
			r.With(idem).Post("/advance", handleWorkflowAdvance(deps.Manager, deps.Metrics))
			r.With(idem).Post("/transition", handleWorkflowTransition(deps.Engine))
		})

		r.Route("/api/workflows", func(r chi.Router) {
			r.Get("/definitions", handleDefinitionsList(deps.Registry))
			r.With(idem).Post("/{instanceId}/transition", handleInstanceTransition(deps.Engine))
			r.With(idem).Post("/{instanceId}/backward", handleInstanceBackward(deps.Engine, deps.Metrics))
			r.Get("/{instanceId}/history", handleInstanceHistory(deps.Recorder))
			r.Get("/{instanceId}/permissions", handleInstancePermissions(deps.Engine))
		})

		r.Route("/admin/workflows", func(r chi.Router) {
			r.Post("/cleanup", handleAdminCleanup(deps.Manager, deps.Metrics))
			r.Get("/stats", handleAdminStats(deps.Manager))
		})
	})

	return r
}
