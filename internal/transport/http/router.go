// Package httptransport assembles the HTTP surface: the catalog write API whose
// mutations are audited, the audit read API, health and metrics.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	audithandler "wms/internal/audit/handler"
	"wms/internal/catalog"
	cataloghandler "wms/internal/catalog/handler"
	"wms/internal/platform/metrics"
	"wms/internal/platform/middleware"
	"wms/pkg/platform/httputil"
	"wms/pkg/platform/middleware/metadata"
	"wms/pkg/platform/middleware/requesttime"
)

const requestTimeout = 30 * time.Second

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Deps are the collaborators the router mounts.
type Deps struct {
	Logger     *slog.Logger
	Registry   *prometheus.Registry
	AuditStore audithandler.Reader
	Produtos   *catalog.Repository[*catalog.Produto]
	Parceiros  *catalog.Repository[*catalog.Parceiro]
	Checks     map[string]HealthCheck
}

// NewRouter wires every endpoint behind the shared middleware chain.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var httpMetrics *metrics.HTTP
	if deps.Registry != nil {
		httpMetrics = metrics.NewHTTP(deps.Registry)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(metadata.RequestMetadata)
	r.Use(requesttime.Middleware)
	r.Use(middleware.RequestLogger(logger, httpMetrics))
	r.Use(chimw.Timeout(requestTimeout))

	r.Get("/healthz", healthz(deps.Checks, logger))
	if deps.Registry != nil {
		r.Handle("/metrics", metrics.Handler(deps.Registry))
	}

	audithandler.New(deps.AuditStore, logger).Register(r)
	if deps.Produtos != nil {
		cataloghandler.NewResource[*catalog.Produto]("produto", deps.Produtos,
			func() *catalog.Produto { return &catalog.Produto{} }, logger,
		).Register(r, "/produtos")
	}
	if deps.Parceiros != nil {
		cataloghandler.NewResource[*catalog.Parceiro]("parceiro", deps.Parceiros,
			func() *catalog.Parceiro { return &catalog.Parceiro{} }, logger,
		).Register(r, "/parceiros")
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusNotFound, map[string]string{"error": httputil.CodeNotFound})
	})
	return r
}

func healthz(checks map[string]HealthCheck, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		result := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				logger.WarnContext(ctx, "health check failed", "check", name, "error", err)
				result[name] = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			result[name] = "ok"
		}
		httputil.WriteJSON(w, status, map[string]any{"checks": result})
	}
}
