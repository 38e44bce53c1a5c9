package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/neonwatty/meme-search-sub002/internal/api/response"
	"github.com/neonwatty/meme-search-sub002/internal/bulk"
	"github.com/neonwatty/meme-search-sub002/internal/store"
	"github.com/neonwatty/meme-search-sub002/pkg/models"
)

// BulkCoordinator defines the batch operations the bulk handlers depend on.
type BulkCoordinator interface {
	StartBulk(ctx context.Context, filter bulk.Filter, modelID string) (*models.BulkOperation, error)
	Progress(ctx context.Context, operationID uuid.UUID) (models.BulkProgress, error)
	Cancel(ctx context.Context, operationID uuid.UUID) (models.BulkProgress, error)
	Active(ctx context.Context) (*models.BulkOperation, error)
}

// NewBulkGenerateHandler returns the handler for POST /api/v1/bulk_generate.
func NewBulkGenerateHandler(coord BulkCoordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Filter  bulk.Filter `json:"filter"`
			ModelID string      `json:"model_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		op, err := coord.StartBulk(r.Context(), req.Filter, req.ModelID)
		if err != nil {
			switch {
			case errors.Is(err, bulk.ErrInvalidFilter):
				response.Error(w, http.StatusBadRequest, "INVALID_FILTER", err.Error(), nil)
			case errors.Is(err, bulk.ErrNoImagesMatched):
				response.Error(w, http.StatusUnprocessableEntity, "NO_IMAGES_MATCHED",
					"The filter matched no eligible images", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.Created(w, op)
	}
}

// NewBulkProgressHandler returns the handler for
// GET /api/v1/bulk_progress/{operationID}, the polling fallback for clients
// without a live event stream.
func NewBulkProgressHandler(coord BulkCoordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		operationID, ok := parseOperationID(w, r)
		if !ok {
			return
		}

		progress, err := coord.Progress(r.Context(), operationID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "OPERATION_NOT_FOUND",
					"Bulk operation does not exist", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.JSON(w, progress)
	}
}

// NewBulkCancelHandler returns the handler for
// POST /api/v1/bulk_cancel/{operationID}.
func NewBulkCancelHandler(coord BulkCoordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		operationID, ok := parseOperationID(w, r)
		if !ok {
			return
		}

		progress, err := coord.Cancel(r.Context(), operationID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "OPERATION_NOT_FOUND",
					"Bulk operation does not exist", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.JSON(w, progress)
	}
}

// NewActiveOperationHandler returns the handler for
// GET /api/v1/bulk_operations/active. Reloading clients call this to
// re-attach to an operation that kept running while they were away.
func NewActiveOperationHandler(coord BulkCoordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		op, err := coord.Active(r.Context())
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NO_ACTIVE_OPERATION",
					"No bulk operation is currently running", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.JSON(w, op)
	}
}

func parseOperationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	operationID, err := uuid.Parse(chi.URLParam(r, "operationID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "operationID must be a valid UUID", nil)
		return uuid.Nil, false
	}
	return operationID, true
}
