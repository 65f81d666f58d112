// Package httptransport assembles the chi router: middleware chain, public
// verification routes, operator routes, and the operational endpoints.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"attestor/internal/verification/handler"
	"attestor/pkg/platform/httputil"
	"attestor/pkg/platform/middleware/auth"
	"attestor/pkg/platform/middleware/metadata"
	request "attestor/pkg/platform/middleware/request"
	"attestor/pkg/platform/middleware/requesttime"
)

// HealthChecker reports readiness of a backing dependency.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Deps carries everything the router mounts.
type Deps struct {
	Verifications *handler.Handler
	Store         HealthChecker
	Logger        *slog.Logger
	JWTSigningKey string
}

// NewRouter wires the middleware chain and all endpoints.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(request.Middleware)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/healthz", handleHealthz(deps.Store))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		deps.Verifications.Register(r)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(auth.RequireAdmin(deps.JWTSigningKey, deps.Logger))
		deps.Verifications.RegisterAdmin(r)
	})

	return r
}

func handleHealthz(store HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store != nil {
			if err := store.Ping(r.Context()); err != nil {
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unavailable",
				})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
		})
	}
}
