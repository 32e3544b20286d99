// Package httptransport assembles the HTTP surface: middleware chain, health
// and metrics endpoints, and the per-feature handlers.
package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"memberdir/pkg/platform/middleware/metadata"
	"memberdir/pkg/platform/middleware/requestid"
	"memberdir/pkg/platform/middleware/requesttime"
)

// Registerer is implemented by every feature handler.
type Registerer interface {
	Register(r chi.Router)
}

// NewRouter builds the application router. Handlers register their own
// routes; the router owns only cross-cutting middleware and the operational
// endpoints.
func NewRouter(handlers ...Registerer) http.Handler {
	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	for _, h := range handlers {
		h.Register(r)
	}
	return r
}
