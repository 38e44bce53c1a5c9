// Package bulk coordinates batch description runs: resolving a filter to a
// fixed set of images, fanning out enqueues, and aggregating per-image
// status into a single progress stream.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/neonwatty/meme-search-sub002/internal/broadcast"
	"github.com/neonwatty/meme-search-sub002/internal/cache"
	"github.com/neonwatty/meme-search-sub002/internal/generate"
	"github.com/neonwatty/meme-search-sub002/internal/inference"
	"github.com/neonwatty/meme-search-sub002/internal/store"
	"github.com/neonwatty/meme-search-sub002/pkg/models"
)

var ErrInvalidFilter = errors.New("invalid bulk filter")
var ErrNoImagesMatched = errors.New("no images matched the filter")

const (
	// progressTTL keeps polled snapshots fresh without hammering Postgres.
	progressTTL = 15 * time.Second
	// activeOpTTL outlives any realistic batch; the pointer is cleared
	// explicitly when the operation ends.
	activeOpTTL = 12 * time.Hour
)

// Filter selects the images a bulk run targets. Zero values mean "all".
type Filter struct {
	PathPrefix string          `json:"path_prefix"`
	Statuses   []models.Status `json:"statuses"`
}

// Triggerer is the per-image lifecycle entry point, satisfied by
// generate.Service.
type Triggerer interface {
	TriggerGeneration(ctx context.Context, imageID uuid.UUID, modelID string) (*models.ImageItem, error)
	CancelGeneration(ctx context.Context, imageID uuid.UUID) (*models.ImageItem, error)
}

// Coordinator owns bulk operation lifecycle and progress aggregation.
type Coordinator struct {
	store       store.Store
	cache       cache.Cache
	broadcaster broadcast.Broadcaster
	trigger     Triggerer
	logger      *slog.Logger
}

func NewCoordinator(st store.Store, c cache.Cache, bc broadcast.Broadcaster, trigger Triggerer, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:       st,
		cache:       c,
		broadcaster: bc,
		trigger:     trigger,
		logger:      logger,
	}
}

// StartBulk resolves the filter, enqueues a job per matching image, and
// records the operation. The target set is snapshotted from the images that
// actually got a job: images already busy with another generation are
// skipped, so the progress counts always sum to the total.
func (c *Coordinator) StartBulk(ctx context.Context, filter Filter, modelID string) (*models.BulkOperation, error) {
	if modelID == "" {
		modelID = inference.DefaultModel
	}
	if !inference.ValidModel(modelID) {
		return nil, fmt.Errorf("%w: unknown model %q", ErrInvalidFilter, modelID)
	}
	for _, s := range filter.Statuses {
		if !models.ValidStatus(s) {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidFilter, s)
		}
	}

	images, err := c.store.ListImages(ctx, store.ImageFilter{
		PathPrefix: filter.PathPrefix,
		Statuses:   filter.Statuses,
	})
	if err != nil {
		return nil, fmt.Errorf("resolving bulk filter: %w", err)
	}
	if len(images) == 0 {
		return nil, ErrNoImagesMatched
	}

	var members []uuid.UUID
	for _, img := range images {
		if _, err := c.trigger.TriggerGeneration(ctx, img.ID, modelID); err != nil {
			if errors.Is(err, generate.ErrImageBusy) {
				c.logger.Info("skipping busy image in bulk run", "image_id", img.ID)
				continue
			}
			c.logger.Warn("bulk enqueue failed for image", "image_id", img.ID, "error", err)
			continue
		}
		members = append(members, img.ID)
	}
	if len(members) == 0 {
		return nil, ErrNoImagesMatched
	}

	op := &models.BulkOperation{
		ID:        uuid.New(),
		ModelID:   modelID,
		ImageIDs:  members,
		StartedAt: time.Now().UTC(),
	}
	if err := c.store.CreateBulkOperation(ctx, op); err != nil {
		return nil, fmt.Errorf("recording bulk operation: %w", err)
	}

	if err := c.cache.SetActiveOperation(ctx, op.ID, activeOpTTL); err != nil {
		c.logger.Warn("caching active operation failed", "operation_id", op.ID, "error", err)
	}

	progress, err := c.computeProgress(ctx, op)
	if err != nil {
		c.logger.Warn("computing initial bulk progress failed", "operation_id", op.ID, "error", err)
	} else {
		c.publish(ctx, progress)
	}

	c.logger.Info("bulk operation started",
		"operation_id", op.ID, "model_id", modelID, "total", len(members))
	return op, nil
}

// Progress returns the aggregate counts for an operation, preferring the
// cached snapshot and falling back to an authoritative recount.
func (c *Coordinator) Progress(ctx context.Context, operationID uuid.UUID) (models.BulkProgress, error) {
	if cached, ok, err := c.cache.GetBulkProgress(ctx, operationID); err == nil && ok {
		return cached, nil
	} else if err != nil {
		c.logger.Warn("bulk progress cache read failed", "operation_id", operationID, "error", err)
	}

	op, err := c.store.GetBulkOperation(ctx, operationID)
	if err != nil {
		return models.BulkProgress{}, err
	}
	return c.computeProgress(ctx, op)
}

// Cancel stops a live operation: every still-queued or processing member is
// cancelled and the operation is marked off. Returns the final counts.
// Cancelling a finished or already-cancelled operation is a no-op.
func (c *Coordinator) Cancel(ctx context.Context, operationID uuid.UUID) (models.BulkProgress, error) {
	op, err := c.store.GetBulkOperation(ctx, operationID)
	if err != nil {
		return models.BulkProgress{}, err
	}
	if !op.Live() {
		return c.computeProgress(ctx, op)
	}

	// Mark cancelled before touching jobs so a concurrent completion cannot
	// stamp the operation finished underneath us.
	if err := c.store.SetBulkCancelled(ctx, operationID); err != nil {
		return models.BulkProgress{}, fmt.Errorf("marking operation cancelled: %w", err)
	}
	op.Cancelled = true

	for _, imageID := range op.ImageIDs {
		if _, err := c.trigger.CancelGeneration(ctx, imageID); err != nil {
			if errors.Is(err, generate.ErrNotCancellable) {
				continue
			}
			c.logger.Warn("cancelling bulk member failed", "image_id", imageID, "error", err)
		}
	}

	if err := c.cache.ClearActiveOperation(ctx); err != nil {
		c.logger.Warn("clearing active operation failed", "error", err)
	}

	progress, err := c.computeProgress(ctx, op)
	if err != nil {
		return models.BulkProgress{}, err
	}
	c.publish(ctx, progress)

	c.logger.Info("bulk operation cancelled", "operation_id", operationID)
	return progress, nil
}

// Active returns the operation a reconnecting client should re-attach to,
// or store.ErrNotFound when nothing is running.
func (c *Coordinator) Active(ctx context.Context) (*models.BulkOperation, error) {
	if id, ok, err := c.cache.GetActiveOperation(ctx); err == nil && ok {
		op, err := c.store.GetBulkOperation(ctx, id)
		if err == nil && op.Live() {
			return op, nil
		}
	} else if err != nil {
		c.logger.Warn("active operation cache read failed", "error", err)
	}
	return c.store.GetActiveBulkOperation(ctx)
}

// OnImageStatusChanged recomputes and republishes progress for the live
// operation containing the image, stamping the operation finished when the
// last member reaches a terminal state. Satisfies generate.Notifier.
func (c *Coordinator) OnImageStatusChanged(ctx context.Context, imageID uuid.UUID) {
	op, err := c.store.FindLiveOperationForImage(ctx, imageID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.logger.Warn("looking up bulk operation for image failed",
				"image_id", imageID, "error", err)
		}
		return
	}

	progress, err := c.computeProgress(ctx, op)
	if err != nil {
		c.logger.Warn("recomputing bulk progress failed", "operation_id", op.ID, "error", err)
		return
	}

	if progress.Settled() {
		now := time.Now().UTC()
		if err := c.store.SetBulkFinished(ctx, op.ID, now); err != nil {
			c.logger.Warn("stamping bulk operation finished failed",
				"operation_id", op.ID, "error", err)
		}
		if err := c.cache.ClearActiveOperation(ctx); err != nil {
			c.logger.Warn("clearing active operation failed", "error", err)
		}
		progress.Finished = true
		// Refresh the snapshot so the polling fallback agrees with the
		// final broadcast instead of serving a pre-stamp copy for a TTL.
		if err := c.cache.SetBulkProgress(ctx, progress, progressTTL); err != nil {
			c.logger.Warn("caching bulk progress failed", "operation_id", op.ID, "error", err)
		}
		c.logger.Info("bulk operation finished",
			"operation_id", op.ID, "done", progress.Done, "failed", progress.Failed)
	}

	c.publish(ctx, progress)
}

// computeProgress derives counts from the authoritative image statuses and
// refreshes the cached snapshot.
func (c *Coordinator) computeProgress(ctx context.Context, op *models.BulkOperation) (models.BulkProgress, error) {
	counts, err := c.store.CountStatuses(ctx, op.ImageIDs)
	if err != nil {
		return models.BulkProgress{}, fmt.Errorf("counting statuses: %w", err)
	}

	progress := models.BulkProgress{
		OperationID: op.ID,
		ModelID:     op.ModelID,
		Total:       len(op.ImageIDs),
		Done:        counts[models.StatusDone],
		Failed:      counts[models.StatusFailed],
		InQueue:     counts[models.StatusInQueue],
		Processing:  counts[models.StatusProcessing],
		Cancelled:   op.Cancelled,
		Finished:    op.FinishedAt != nil,
	}

	if err := c.cache.SetBulkProgress(ctx, progress, progressTTL); err != nil {
		c.logger.Warn("caching bulk progress failed", "operation_id", op.ID, "error", err)
	}
	return progress, nil
}

func (c *Coordinator) publish(ctx context.Context, progress models.BulkProgress) {
	if err := c.broadcaster.PublishBulkProgress(ctx, progress); err != nil {
		c.logger.Warn("broadcasting bulk progress failed",
			"operation_id", progress.OperationID, "error", err)
	}
}

var _ generate.Notifier = (*Coordinator)(nil)
