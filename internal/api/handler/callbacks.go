package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/neonwatty/meme-search-sub002/internal/api/response"
	"github.com/neonwatty/meme-search-sub002/internal/callback"
	"github.com/neonwatty/meme-search-sub002/internal/generate"
	"github.com/neonwatty/meme-search-sub002/internal/store"
)

// CallbackApplier is the synchronizer side of the worker's push channel.
type CallbackApplier interface {
	ApplyStatus(ctx context.Context, payload callback.StatusPayload) error
	ApplyDescription(ctx context.Context, payload callback.DescriptionPayload) error
}

// NewStatusCallbackHandler returns the handler for
// POST /api/v1/callbacks/status. Stale and duplicate callbacks are
// acknowledged with a 200 so the worker never treats them as delivery
// failures.
func NewStatusCallbackHandler(applier CallbackApplier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var env struct {
			Data callback.StatusPayload `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if err := applier.ApplyStatus(r.Context(), env.Data); err != nil {
			switch {
			case errors.Is(err, generate.ErrStaleTransition):
				response.JSON(w, map[string]string{"result": "discarded"})
			case errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "IMAGE_NOT_FOUND", "Image does not exist", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.JSON(w, map[string]string{"result": "applied"})
	}
}

// NewDescriptionCallbackHandler returns the handler for
// POST /api/v1/callbacks/description.
func NewDescriptionCallbackHandler(applier CallbackApplier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var env struct {
			Data callback.DescriptionPayload `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if err := applier.ApplyDescription(r.Context(), env.Data); err != nil {
			switch {
			case errors.Is(err, generate.ErrStaleTransition):
				response.JSON(w, map[string]string{"result": "discarded"})
			case errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "IMAGE_NOT_FOUND", "Image does not exist", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.JSON(w, map[string]string{"result": "applied"})
	}
}
