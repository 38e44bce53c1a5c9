// Package generate owns the image description lifecycle on the application
// side: triggering and cancelling jobs against the worker's queue, and
// applying the worker's callbacks to the canonical image state machine.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/neonwatty/meme-search-sub002/internal/broadcast"
	"github.com/neonwatty/meme-search-sub002/internal/callback"
	"github.com/neonwatty/meme-search-sub002/internal/inference"
	"github.com/neonwatty/meme-search-sub002/internal/queue"
	"github.com/neonwatty/meme-search-sub002/internal/store"
	"github.com/neonwatty/meme-search-sub002/pkg/models"
)

// ErrStaleTransition marks a callback that lost a race with a newer
// generation: wrong sequence marker, repeated status, or an edge the state
// machine rejects. Handlers acknowledge these with a 200 and move on.
var ErrStaleTransition = errors.New("stale transition discarded")

// ErrImageBusy is returned when a trigger lands on an image that already
// has a live job.
var ErrImageBusy = errors.New("image already queued or processing")

// ErrNotCancellable is returned when a cancel lands on an image with no
// live job.
var ErrNotCancellable = errors.New("image has no active generation to cancel")

// ErrUnknownModel rejects model ids outside the registry.
var ErrUnknownModel = errors.New("unknown model id")

// Notifier is told about every committed status change, so the bulk
// coordinator can recompute progress for operations that contain the image.
type Notifier interface {
	OnImageStatusChanged(ctx context.Context, imageID uuid.UUID)
}

// Service is the status synchronizer and single-image trigger/cancel entry
// point.
type Service struct {
	store       store.Store
	queue       queue.Client
	broadcaster broadcast.Broadcaster
	// callbackBaseURL is this server's externally reachable base URL,
	// stamped into every enqueued job.
	callbackBaseURL string
	notifier        Notifier
	logger          *slog.Logger
}

func NewService(st store.Store, qc queue.Client, bc broadcast.Broadcaster, callbackBaseURL string, logger *slog.Logger) *Service {
	return &Service{
		store:           st,
		queue:           qc,
		broadcaster:     bc,
		callbackBaseURL: callbackBaseURL,
		logger:          logger,
	}
}

// SetNotifier wires the bulk coordinator in after construction; both sides
// reference each other so one of the edges has to be late-bound.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// TriggerGeneration enqueues a description job for one image. Allowed from
// not_started, failed, and done (regenerate). The image's sequence marker is
// bumped so callbacks from any earlier generation become stale.
func (s *Service) TriggerGeneration(ctx context.Context, imageID uuid.UUID, modelID string) (*models.ImageItem, error) {
	if modelID == "" {
		modelID = inference.DefaultModel
	}
	if !inference.ValidModel(modelID) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, modelID)
	}

	img, err := s.store.GetImage(ctx, imageID)
	if err != nil {
		return nil, err
	}

	switch img.Status {
	case models.StatusNotStarted, models.StatusFailed, models.StatusDone:
	default:
		return nil, fmt.Errorf("%w: status %s", ErrImageBusy, img.Status)
	}

	newSeq := img.StatusSeq + 1
	queued, err := s.store.CompareAndSwapStatus(ctx, imageID,
		img.Status, img.StatusSeq, models.StatusInQueue, newSeq, &modelID)
	if err != nil {
		if errors.Is(err, store.ErrStaleWrite) {
			return nil, fmt.Errorf("%w: concurrent trigger", ErrImageBusy)
		}
		return nil, err
	}

	_, err = s.queue.AddJob(ctx, queue.AddRequest{
		ImageID:                imageID,
		ImagePath:              img.Path,
		ModelID:                modelID,
		Seq:                    newSeq,
		CallbackStatusURL:      s.callbackBaseURL + "/api/v1/callbacks/status",
		CallbackDescriptionURL: s.callbackBaseURL + "/api/v1/callbacks/description",
	})
	if err != nil {
		if errors.Is(err, queue.ErrDuplicateJob) {
			// The worker already holds a live job for this image, and that
			// job echoes the pre-bump marker. Restore status and marker so
			// its callbacks still apply instead of being discarded as stale.
			s.logger.Warn("duplicate job on trigger", "image_id", imageID)
			rolled, rbErr := s.store.CompareAndSwapStatus(ctx, imageID,
				models.StatusInQueue, newSeq, img.Status, img.StatusSeq, img.ModelID)
			if rbErr != nil {
				s.logger.Error("rollback after duplicate job failed",
					"image_id", imageID, "error", rbErr)
				return queued, nil
			}
			return rolled, nil
		}
		// Enqueue failed, put the image back where it was. The bumped
		// sequence marker stays: nothing was enqueued under it.
		if _, rbErr := s.store.CompareAndSwapStatus(ctx, imageID,
			models.StatusInQueue, newSeq, img.Status, newSeq, img.ModelID); rbErr != nil {
			s.logger.Error("rollback after enqueue failure failed",
				"image_id", imageID, "error", rbErr)
		}
		return nil, fmt.Errorf("enqueueing job: %w", err)
	}

	s.publish(ctx, queued, nil)
	s.notify(ctx, imageID)
	return queued, nil
}

// CancelGeneration removes the image's live job and returns it to
// not_started. Safe to race with the worker: if the job finishes first the
// worker's compare-and-set loses and its callbacks are suppressed.
func (s *Service) CancelGeneration(ctx context.Context, imageID uuid.UUID) (*models.ImageItem, error) {
	img, err := s.store.GetImage(ctx, imageID)
	if err != nil {
		return nil, err
	}

	switch img.Status {
	case models.StatusInQueue, models.StatusProcessing:
	default:
		return nil, fmt.Errorf("%w: status %s", ErrNotCancellable, img.Status)
	}

	if _, err := s.store.CompareAndSwapStatus(ctx, imageID,
		img.Status, img.StatusSeq, models.StatusRemoving, img.StatusSeq, nil); err != nil {
		if errors.Is(err, store.ErrStaleWrite) {
			return nil, fmt.Errorf("%w: state changed concurrently", ErrNotCancellable)
		}
		return nil, err
	}

	if err := s.queue.RemoveJobForImage(ctx, imageID); err != nil {
		// The queue may be unreachable or the job already drained; the image
		// still comes back to not_started either way.
		s.logger.Warn("removing job failed during cancel", "image_id", imageID, "error", err)
	}

	// The reset bumps the sequence marker. The worker may have already
	// committed the job before the removal reached it; its callbacks carry
	// the old marker and are discarded, so nothing mutates the image after
	// the cancel commits.
	reset, err := s.store.CompareAndSwapStatus(ctx, imageID,
		models.StatusRemoving, img.StatusSeq, models.StatusNotStarted, img.StatusSeq+1, nil)
	if err != nil {
		return nil, fmt.Errorf("resetting cancelled image: %w", err)
	}

	s.publish(ctx, reset, nil)
	s.notify(ctx, imageID)
	return reset, nil
}

// ApplyStatus commits a worker status callback. Stale and duplicate updates
// come back as ErrStaleTransition and change nothing.
func (s *Service) ApplyStatus(ctx context.Context, payload callback.StatusPayload) error {
	if !models.ValidStatus(payload.Status) {
		return fmt.Errorf("%w: unknown status %q", ErrStaleTransition, payload.Status)
	}

	img, err := s.store.GetImage(ctx, payload.ImageID)
	if err != nil {
		return err
	}

	if payload.Seq != img.StatusSeq {
		s.logger.Info("discarding stale status callback",
			"image_id", payload.ImageID, "seq", payload.Seq, "current_seq", img.StatusSeq)
		return fmt.Errorf("%w: sequence %d behind %d", ErrStaleTransition, payload.Seq, img.StatusSeq)
	}

	if err := models.Transition(img.Status, payload.Status); err != nil {
		s.logger.Info("discarding rejected status callback",
			"image_id", payload.ImageID, "from", img.Status, "to", payload.Status)
		return fmt.Errorf("%w: %v", ErrStaleTransition, err)
	}

	updated, err := s.store.CompareAndSwapStatus(ctx, payload.ImageID,
		img.Status, img.StatusSeq, payload.Status, payload.Seq, nil)
	if err != nil {
		if errors.Is(err, store.ErrStaleWrite) {
			return fmt.Errorf("%w: lost commit race", ErrStaleTransition)
		}
		return err
	}

	s.publish(ctx, updated, nil)
	s.notify(ctx, payload.ImageID)
	return nil
}

// ApplyDescription attaches generated text, under the same staleness guard
// as status callbacks.
func (s *Service) ApplyDescription(ctx context.Context, payload callback.DescriptionPayload) error {
	img, err := s.store.GetImage(ctx, payload.ImageID)
	if err != nil {
		return err
	}
	if payload.Seq != img.StatusSeq {
		return fmt.Errorf("%w: sequence %d behind %d", ErrStaleTransition, payload.Seq, img.StatusSeq)
	}

	if err := s.store.SetDescription(ctx, payload.ImageID, payload.Description, payload.Seq); err != nil {
		if errors.Is(err, store.ErrStaleWrite) {
			return fmt.Errorf("%w: lost commit race", ErrStaleTransition)
		}
		return err
	}

	img.Description = &payload.Description
	s.publish(ctx, img, &payload.Description)
	return nil
}

func (s *Service) publish(ctx context.Context, img *models.ImageItem, description *string) {
	update := broadcast.ImageUpdate{
		ImageID:     img.ID,
		Status:      img.Status,
		Description: description,
	}
	if err := s.broadcaster.PublishImage(ctx, update); err != nil {
		s.logger.Warn("broadcasting image update failed", "image_id", img.ID, "error", err)
	}
}

func (s *Service) notify(ctx context.Context, imageID uuid.UUID) {
	if s.notifier != nil {
		s.notifier.OnImageStatusChanged(ctx, imageID)
	}
}
