package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/laguz/internal/account"
	"github.com/starford/laguz/internal/notesync"
)

// NewRouter creates a chi router with all gateway routes mounted.
// authEnabled controls whether Bearer token auth is enforced on the local
// surface. sseHandler, if non-nil, is mounted at GET /events.
func NewRouter(svc *notesync.Service, acct *account.Client, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc, acct)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Notes CRUD.
	r.Get("/notes", h.ListNotes)
	r.Post("/notes", h.CreateNote)
	r.Get("/notes/{id}", h.GetNote)
	r.Put("/notes/{id}", h.UpdateNote)
	r.Delete("/notes/{id}", h.DeleteNote)

	// Drafts.
	r.Put("/notes/{id}/draft", h.SaveDraft)
	r.Get("/notes/{id}/draft", h.GetDraft)
	r.Delete("/notes/{id}/draft", h.RemoveDraft)

	// Search and sync.
	r.Get("/search", h.Search)
	r.Post("/sync", h.Sync)

	// Auth pass-through.
	r.Post("/auth/login", h.Login)
	r.Post("/auth/register", h.Register)
	r.Post("/auth/verify-otp", h.VerifyOTP)
	r.Post("/auth/resend-otp", h.ResendOTP)
	r.Post("/auth/logout", h.Logout)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
