package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/neonwatty/meme-search-sub002/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrStaleWrite is returned when a compare-and-swap write finds the row
// changed underneath it; callers treat this as a stale transition.
var ErrStaleWrite = errors.New("stale write: row changed concurrently")

// Store is the application-side data access interface. The worker never
// touches these tables; it reports outcomes through callbacks instead.
type Store interface {
	Ping(ctx context.Context) error

	CreateImage(ctx context.Context, img *models.ImageItem) error
	GetImage(ctx context.Context, id uuid.UUID) (*models.ImageItem, error)
	ListImages(ctx context.Context, filter ImageFilter) ([]*models.ImageItem, error)

	// CompareAndSwapStatus commits a status transition only if the image is
	// still at (fromStatus, fromSeq). Returns ErrStaleWrite otherwise. The
	// state-machine validity of the edge is the caller's responsibility.
	CompareAndSwapStatus(ctx context.Context, id uuid.UUID, fromStatus models.Status, fromSeq int64, toStatus models.Status, toSeq int64, modelID *string) (*models.ImageItem, error)

	// SetDescription attaches generated text, guarded by the sequence marker.
	SetDescription(ctx context.Context, id uuid.UUID, description string, seq int64) error

	// CountStatuses buckets the given images by their current status.
	CountStatuses(ctx context.Context, ids []uuid.UUID) (map[models.Status]int, error)

	CreateBulkOperation(ctx context.Context, op *models.BulkOperation) error
	GetBulkOperation(ctx context.Context, id uuid.UUID) (*models.BulkOperation, error)
	// FindLiveOperationForImage returns the live operation whose target set
	// contains the image, or ErrNotFound.
	FindLiveOperationForImage(ctx context.Context, imageID uuid.UUID) (*models.BulkOperation, error)
	// GetActiveBulkOperation returns the most recently started live
	// operation, used by reconnecting clients to re-attach.
	GetActiveBulkOperation(ctx context.Context) (*models.BulkOperation, error)
	SetBulkCancelled(ctx context.Context, id uuid.UUID) error
	SetBulkFinished(ctx context.Context, id uuid.UUID, at time.Time) error
}

// ImageFilter narrows ListImages. Zero values mean "no constraint".
type ImageFilter struct {
	PathPrefix string
	Statuses   []models.Status
	Limit      int
}
