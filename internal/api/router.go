package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/neonwatty/meme-search-sub002/internal/api/middleware"
	"github.com/neonwatty/meme-search-sub002/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth *mw.ServiceAuth

	HealthHandler http.HandlerFunc
	EventsHandler http.HandlerFunc

	GenerateHandler http.HandlerFunc
	CancelHandler   http.HandlerFunc
	GetImageHandler http.HandlerFunc

	BulkGenerateHandler    http.HandlerFunc
	BulkProgressHandler    http.HandlerFunc
	BulkCancelHandler      http.HandlerFunc
	ActiveOperationHandler http.HandlerFunc

	StatusCallbackHandler      http.HandlerFunc
	DescriptionCallbackHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
// The callback endpoints are worker-only and sit behind the service token;
// everything else serves the local UI directly.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	r.Get("/api/v1/events", orNotImplemented(deps.EventsHandler))

	r.Post("/api/v1/images/{imageID}/generate", orNotImplemented(deps.GenerateHandler))
	r.Post("/api/v1/images/{imageID}/cancel", orNotImplemented(deps.CancelHandler))
	r.Get("/api/v1/images/{imageID}", orNotImplemented(deps.GetImageHandler))

	r.Post("/api/v1/bulk_generate", orNotImplemented(deps.BulkGenerateHandler))
	r.Get("/api/v1/bulk_progress/{operationID}", orNotImplemented(deps.BulkProgressHandler))
	r.Post("/api/v1/bulk_cancel/{operationID}", orNotImplemented(deps.BulkCancelHandler))
	r.Get("/api/v1/bulk_operations/active", orNotImplemented(deps.ActiveOperationHandler))

	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Require)

		r.Post("/api/v1/callbacks/status", orNotImplemented(deps.StatusCallbackHandler))
		r.Post("/api/v1/callbacks/description", orNotImplemented(deps.DescriptionCallbackHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
