package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all results routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/runs", func(r chi.Router) {
		r.Get("/", h.HandleListRuns)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				h.HandleGetRun(w, r, chi.URLParam(r, "id"))
			})
			r.Get("/windows", func(w http.ResponseWriter, r *http.Request) {
				h.HandleGetWindows(w, r, chi.URLParam(r, "id"))
			})
			r.Get("/predictions", func(w http.ResponseWriter, r *http.Request) {
				h.HandleGetPredictions(w, r, chi.URLParam(r, "id"))
			})
		})
	})
}
