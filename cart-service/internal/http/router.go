package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouterConfig struct {
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	SecureCookies  bool
}

// NewRouter wires the cart API. The returned handler is traced with otelhttp.
func NewRouter(cfg RouterConfig, carts *CartHandler, inventory *InventoryHandler, log *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(log))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequestSize(cfg.MaxBodyBytes))

		r.With(middleware.Timeout(cfg.RequestTimeout)).Post("/inventory", inventory.Counts)

		r.Route("/cart", func(r chi.Router) {
			r.Use(SessionMiddleware(cfg.SecureCookies))

			// long lived, so outside the request timeout
			r.Get("/events", carts.Events)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(cfg.RequestTimeout))
				r.Use(middleware.Compress(5))

				r.Get("/", carts.GetCart)
				r.Delete("/", carts.ClearCart)
				r.Post("/items", carts.AddItem)
				r.Put("/items/{item_id}", carts.UpdateQuantity)
				r.Delete("/items/{item_id}", carts.RemoveItem)
				r.Post("/validate", carts.Validate)
				r.Post("/checkout", carts.Checkout)
			})
		})
	})

	return otelhttp.NewHandler(r, "cart-service")
}
