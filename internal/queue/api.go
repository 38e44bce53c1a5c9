package queue

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/neonwatty/meme-search-sub002/internal/api/middleware"
	"github.com/neonwatty/meme-search-sub002/internal/api/response"
)

// NewRouter builds the worker's queue API. Every mutating route sits behind
// the shared service token; health stays public for probes.
func NewRouter(store *Store, auth *mw.ServiceAuth) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, map[string]any{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Require)

		r.Post("/add_job", addJobHandler(store))
		r.Delete("/remove_job/image/{imageID}", removeJobForImageHandler(store))
		r.Delete("/remove_job/{jobID}", removeJobHandler(store))
		r.Get("/check_queue", checkQueueHandler(store))
	})

	return r
}

type addJobRequest struct {
	ImageID                string `json:"image_id"`
	ImagePath              string `json:"image_path"`
	ModelID                string `json:"model_id"`
	Seq                    int64  `json:"seq"`
	CallbackStatusURL      string `json:"callback_status_url"`
	CallbackDescriptionURL string `json:"callback_description_url"`
}

func addJobHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		imageID, err := uuid.Parse(req.ImageID)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "image_id must be a UUID", nil)
			return
		}
		if req.ImagePath == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "image_path is required", nil)
			return
		}
		if req.ModelID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "model_id is required", nil)
			return
		}
		if req.CallbackStatusURL == "" || req.CallbackDescriptionURL == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "callback URLs are required", nil)
			return
		}

		job, err := store.AddJob(r.Context(), AddRequest{
			ImageID:                imageID,
			ImagePath:              req.ImagePath,
			ModelID:                req.ModelID,
			Seq:                    req.Seq,
			CallbackStatusURL:      req.CallbackStatusURL,
			CallbackDescriptionURL: req.CallbackDescriptionURL,
		})
		if err != nil {
			if errors.Is(err, ErrDuplicateJob) {
				response.Error(w, http.StatusConflict, "DUPLICATE_JOB",
					"An active job already exists for this image", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to enqueue job", nil)
			return
		}

		response.Created(w, map[string]any{"job_id": job.ID})
	}
}

func removeJobHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a UUID", nil)
			return
		}

		// Removal is idempotent: an already-removed or terminal job is a
		// no-op success.
		if err := store.RemoveJob(r.Context(), jobID); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to remove job", nil)
			return
		}

		response.JSON(w, map[string]any{"ok": true})
	}
}

func removeJobForImageHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		imageID, err := uuid.Parse(chi.URLParam(r, "imageID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "imageID must be a UUID", nil)
			return
		}

		jobID, found, err := store.RemoveActiveJobForImage(r.Context(), imageID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to remove job", nil)
			return
		}

		body := map[string]any{"ok": true}
		if found {
			body["job_id"] = jobID
		}
		response.JSON(w, body)
	}
}

func checkQueueHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := store.Snapshot(r.Context())
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to read queue", nil)
			return
		}
		response.JSON(w, snap)
	}
}
