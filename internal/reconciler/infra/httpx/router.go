package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jcmexdev/payment-reconciler/internal/pkg/metrics"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/infra/httpx/middlewares"
)

// NewRouter wires the routes. metricsHandler may be nil to leave /metrics
// unmounted.
func NewRouter(handler *Handler, m *metrics.Metrics, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middlewares.Tracing)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(middlewares.Latency(m))

		r.Post("/webhooks/transactions", handler.TransactionWebhook)
		r.Post("/checkout/callbacks", handler.CheckoutCallback)

		r.Get("/orders/{id}", handler.GetOrderByID)
		r.Post("/orders/{id}/status", handler.UpdateStatus)

		r.Post("/carts/{id}/estimates", handler.Estimate)
		r.Post("/carts/{id}/checkout", handler.CreateCheckout)
	})
	return r
}
