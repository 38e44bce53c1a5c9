package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/neonwatty/meme-search-sub002/internal/api/response"
	"github.com/neonwatty/meme-search-sub002/internal/generate"
	"github.com/neonwatty/meme-search-sub002/internal/queue"
	"github.com/neonwatty/meme-search-sub002/internal/store"
	"github.com/neonwatty/meme-search-sub002/pkg/models"
)

// GenerationService defines the per-image lifecycle operations the image
// handlers depend on.
type GenerationService interface {
	TriggerGeneration(ctx context.Context, imageID uuid.UUID, modelID string) (*models.ImageItem, error)
	CancelGeneration(ctx context.Context, imageID uuid.UUID) (*models.ImageItem, error)
}

// ImageGetter reads current image state for the reconnect re-read.
type ImageGetter interface {
	GetImage(ctx context.Context, id uuid.UUID) (*models.ImageItem, error)
}

// NewGenerateHandler returns the handler for
// POST /api/v1/images/{imageID}/generate.
func NewGenerateHandler(svc GenerationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		imageID, ok := parseImageID(w, r)
		if !ok {
			return
		}

		var req struct {
			ModelID string `json:"model_id"`
		}
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
				return
			}
		}

		img, err := svc.TriggerGeneration(r.Context(), imageID, req.ModelID)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "IMAGE_NOT_FOUND", "Image does not exist", nil)
			case errors.Is(err, generate.ErrUnknownModel):
				response.Error(w, http.StatusBadRequest, "UNKNOWN_MODEL",
					"model_id is not in the model registry", nil)
			case errors.Is(err, generate.ErrImageBusy):
				response.Error(w, http.StatusConflict, "GENERATION_IN_PROGRESS",
					"Image already has an active generation", nil)
			case errors.Is(err, queue.ErrQueueUnreachable):
				response.Error(w, http.StatusBadGateway, "QUEUE_UNAVAILABLE",
					"The job queue is not reachable", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.Accepted(w, img)
	}
}

// NewCancelHandler returns the handler for
// POST /api/v1/images/{imageID}/cancel.
func NewCancelHandler(svc GenerationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		imageID, ok := parseImageID(w, r)
		if !ok {
			return
		}

		img, err := svc.CancelGeneration(r.Context(), imageID)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "IMAGE_NOT_FOUND", "Image does not exist", nil)
			case errors.Is(err, generate.ErrNotCancellable):
				response.Error(w, http.StatusConflict, "NOTHING_TO_CANCEL",
					"Image has no active generation", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.JSON(w, img)
	}
}

// NewGetImageHandler returns the handler for GET /api/v1/images/{imageID}.
func NewGetImageHandler(getter ImageGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		imageID, ok := parseImageID(w, r)
		if !ok {
			return
		}

		img, err := getter.GetImage(r.Context(), imageID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "IMAGE_NOT_FOUND", "Image does not exist", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.JSON(w, img)
	}
}

func parseImageID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	imageID, err := uuid.Parse(chi.URLParam(r, "imageID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "imageID must be a valid UUID", nil)
		return uuid.Nil, false
	}
	return imageID, true
}
