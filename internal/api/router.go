/**
 * @description
 * HTTP router for the deal service. Applies the shared middleware stack and
 * maps the deal and customer routes to their handlers.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers the deal-service routes.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Deal service is healthy"))
	})

	r.Get("/customers", h.handleListCustomers)

	r.Route("/deals", func(r chi.Router) {
		r.Post("/", h.handleCreateDeal)
		r.Post("/{id}/assign", h.handleAssignDeal)
		r.Post("/{id}/push", h.handlePushDeal)
	})

	return r
}
