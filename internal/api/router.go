package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func Router(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Put("/credentials", h.PutCredentials)
		r.Get("/credentials", h.GetCredentials)

		r.Get("/templates", h.ListTemplates)

		r.Route("/contacts", func(r chi.Router) {
			r.Get("/", h.ListContacts)
			r.Delete("/", h.ClearContacts)
			r.Post("/import", h.ImportContacts)
			r.Get("/counts", h.ContactCounts)
			r.Get("/export", h.ExportContacts)
			r.Get("/{id}", h.GetContact)
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", h.StartJob)
			r.Post("/retry-failed", h.RetryFailed)
			r.Get("/current", h.CurrentJob)
			r.Post("/current/pause", h.PauseJob)
			r.Post("/current/resume", h.ResumeJob)
			r.Get("/{id}/contacts/{contactId}", h.JobContact)
			if h.results != nil {
				r.Get("/{id}/results", h.JobResults)
			}
		})

		r.Get("/events", h.Events)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("whatsapp-blast"))
	})

	return r
}
