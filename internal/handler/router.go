package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/craftmarket-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса craftmarket.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.CreateOrder)
			r.Post("/lifecycle-sweep", h.LifecycleSweep)
			r.Get("/number/{number}", h.GetOrderByNumber)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetOrder)
				r.Post("/status", h.UpdateStatus)
				r.Post("/auto-deliver", h.AutoDeliver)
				r.Post("/auto-message", h.AutoMessage)
			})
		})

		r.Get("/users/{userID}/orders", h.ListOrders)

		r.Post("/notifications", h.CreateNotification)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
