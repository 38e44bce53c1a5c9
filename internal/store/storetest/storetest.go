// Package storetest provides an in-memory store.Store for tests that do not
// need a real database. Semantics match the Postgres implementation,
// including the compare-and-swap guards.
package storetest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/neonwatty/meme-search-sub002/internal/store"
	"github.com/neonwatty/meme-search-sub002/pkg/models"
)

type MemStore struct {
	mu     sync.Mutex
	images map[uuid.UUID]*models.ImageItem
	ops    map[uuid.UUID]*models.BulkOperation
}

func New() *MemStore {
	return &MemStore{
		images: make(map[uuid.UUID]*models.ImageItem),
		ops:    make(map[uuid.UUID]*models.BulkOperation),
	}
}

func (m *MemStore) Ping(context.Context) error { return nil }

func (m *MemStore) CreateImage(_ context.Context, img *models.ImageItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if img.ID == uuid.Nil {
		img.ID = uuid.New()
	}
	for _, existing := range m.images {
		if existing.Path == img.Path {
			return store.ErrDuplicateKey
		}
	}
	if img.Status == "" {
		img.Status = models.StatusNotStarted
	}
	now := time.Now().UTC()
	img.CreatedAt = now
	img.UpdatedAt = now
	cp := *img
	m.images[img.ID] = &cp
	return nil
}

func (m *MemStore) GetImage(_ context.Context, id uuid.UUID) (*models.ImageItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.images[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *img
	return &cp, nil
}

func (m *MemStore) ListImages(_ context.Context, filter store.ImageFilter) ([]*models.ImageItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.ImageItem
	for _, img := range m.images {
		if filter.PathPrefix != "" && !strings.HasPrefix(img.Path, filter.PathPrefix) {
			continue
		}
		if len(filter.Statuses) > 0 {
			match := false
			for _, s := range filter.Statuses {
				if img.Status == s {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		cp := *img
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemStore) CompareAndSwapStatus(_ context.Context, id uuid.UUID, fromStatus models.Status, fromSeq int64, toStatus models.Status, toSeq int64, modelID *string) (*models.ImageItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.images[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if img.Status != fromStatus || img.StatusSeq != fromSeq {
		return nil, store.ErrStaleWrite
	}
	img.Status = toStatus
	img.StatusSeq = toSeq
	if modelID != nil {
		v := *modelID
		img.ModelID = &v
	}
	img.UpdatedAt = time.Now().UTC()
	cp := *img
	return &cp, nil
}

func (m *MemStore) SetDescription(_ context.Context, id uuid.UUID, description string, seq int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.images[id]
	if !ok {
		return store.ErrNotFound
	}
	if img.StatusSeq != seq {
		return store.ErrStaleWrite
	}
	img.Description = &description
	img.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemStore) CountStatuses(_ context.Context, ids []uuid.UUID) (map[models.Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[models.Status]int)
	for _, id := range ids {
		if img, ok := m.images[id]; ok {
			counts[img.Status]++
		}
	}
	return counts, nil
}

func (m *MemStore) CreateBulkOperation(_ context.Context, op *models.BulkOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if op.ID == uuid.Nil {
		op.ID = uuid.New()
	}
	if op.StartedAt.IsZero() {
		op.StartedAt = time.Now().UTC()
	}
	cp := *op
	cp.ImageIDs = append([]uuid.UUID(nil), op.ImageIDs...)
	m.ops[op.ID] = &cp
	return nil
}

func (m *MemStore) GetBulkOperation(_ context.Context, id uuid.UUID) (*models.BulkOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.ops[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *op
	cp.ImageIDs = append([]uuid.UUID(nil), op.ImageIDs...)
	return &cp, nil
}

func (m *MemStore) FindLiveOperationForImage(_ context.Context, imageID uuid.UUID) (*models.BulkOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range m.ops {
		if !op.Live() {
			continue
		}
		for _, id := range op.ImageIDs {
			if id == imageID {
				cp := *op
				cp.ImageIDs = append([]uuid.UUID(nil), op.ImageIDs...)
				return &cp, nil
			}
		}
	}
	return nil, store.ErrNotFound
}

func (m *MemStore) GetActiveBulkOperation(_ context.Context) (*models.BulkOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.BulkOperation
	for _, op := range m.ops {
		if !op.Live() {
			continue
		}
		if latest == nil || op.StartedAt.After(latest.StartedAt) {
			latest = op
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	cp := *latest
	cp.ImageIDs = append([]uuid.UUID(nil), latest.ImageIDs...)
	return &cp, nil
}

func (m *MemStore) SetBulkCancelled(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.ops[id]
	if !ok {
		return store.ErrNotFound
	}
	op.Cancelled = true
	return nil
}

func (m *MemStore) SetBulkFinished(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.ops[id]
	if !ok {
		return store.ErrNotFound
	}
	op.FinishedAt = &at
	return nil
}

var _ store.Store = (*MemStore)(nil)
