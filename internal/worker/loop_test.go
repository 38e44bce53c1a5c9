package worker_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/neonwatty/meme-search-sub002/internal/callback"
	"github.com/neonwatty/meme-search-sub002/internal/inference/mock"
	"github.com/neonwatty/meme-search-sub002/internal/queue"
	"github.com/neonwatty/meme-search-sub002/internal/worker"
	"github.com/neonwatty/meme-search-sub002/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSender captures callbacks in delivery order.
type recordingSender struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingSender) SendStatus(_ context.Context, _ string, p callback.StatusPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf("status:%s:%d", p.Status, p.Seq))
}

func (r *recordingSender) SendDescription(_ context.Context, _ string, p callback.DescriptionPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf("description:%s:%d", p.Description, p.Seq))
}

func (r *recordingSender) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newTestStore(t *testing.T) *queue.Store {
	t.Helper()
	store, err := queue.OpenStore(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func enqueue(t *testing.T, store *queue.Store, imageID uuid.UUID, seq int64) *models.Job {
	t.Helper()
	job, err := store.AddJob(context.Background(), queue.AddRequest{
		ImageID:                imageID,
		ImagePath:              "/memes/cat.png",
		ModelID:                "florence-2-base",
		Seq:                    seq,
		CallbackStatusURL:      "http://app/api/v1/callbacks/status",
		CallbackDescriptionURL: "http://app/api/v1/callbacks/description",
	})
	require.NoError(t, err)
	return job
}

func startLoop(t *testing.T, store *queue.Store, provider models.InferenceProvider, sender callback.Sender) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	loop := worker.New(store, provider, sender, 10*time.Millisecond, 5*time.Second, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestLoop_SuccessfulJob(t *testing.T) {
	store := newTestStore(t)
	sender := &recordingSender{}
	job := enqueue(t, store, uuid.New(), 3)

	startLoop(t, store, mock.NewProvider(), sender)

	require.Eventually(t, func() bool { return sender.count() == 3 },
		2*time.Second, 5*time.Millisecond)

	events := sender.snapshot()
	assert.Equal(t, "status:processing:3", events[0])
	assert.Equal(t, "description:mock description of /memes/cat.png by florence-2-base:3", events[1])
	assert.Equal(t, "status:done:3", events[2])

	require.Eventually(t, func() bool {
		_, err := store.GetJob(context.Background(), job.ID)
		return errors.Is(err, queue.ErrJobNotFound)
	}, 2*time.Second, 5*time.Millisecond, "terminal job should be drained")
}

func TestLoop_FailedJob(t *testing.T) {
	store := newTestStore(t)
	sender := &recordingSender{}
	job := enqueue(t, store, uuid.New(), 1)

	startLoop(t, store, mock.NewFailingProvider(errors.New("model exploded")), sender)

	require.Eventually(t, func() bool { return sender.count() == 3 },
		2*time.Second, 5*time.Millisecond)

	events := sender.snapshot()
	assert.Equal(t, "status:processing:1", events[0])
	assert.Equal(t, "status:failed:1", events[1])
	assert.Equal(t, "description:Error: model exploded:1", events[2])

	require.Eventually(t, func() bool {
		_, err := store.GetJob(context.Background(), job.ID)
		return errors.Is(err, queue.ErrJobNotFound)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestLoop_CancelledMidFlightSuppressesCallbacks(t *testing.T) {
	store := newTestStore(t)
	sender := &recordingSender{}
	imageID := uuid.New()
	job := enqueue(t, store, imageID, 7)

	release := make(chan struct{})
	startLoop(t, store, mock.NewBlockingProvider(release, "too late"), sender)

	// Wait until the job is claimed, then cancel it underneath the provider.
	require.Eventually(t, func() bool { return sender.count() >= 1 },
		2*time.Second, 5*time.Millisecond)

	_, removed, err := store.RemoveActiveJobForImage(context.Background(), imageID)
	require.NoError(t, err)
	require.True(t, removed)

	close(release)

	require.Eventually(t, func() bool {
		_, err := store.GetJob(context.Background(), job.ID)
		return errors.Is(err, queue.ErrJobNotFound)
	}, 2*time.Second, 5*time.Millisecond, "cancelled job should still be drained")

	events := sender.snapshot()
	require.Len(t, events, 1, "only the processing callback should have gone out")
	assert.Equal(t, "status:processing:7", events[0])
}

func TestLoop_PanickingProviderReportsFailure(t *testing.T) {
	store := newTestStore(t)
	sender := &recordingSender{}
	enqueue(t, store, uuid.New(), 2)

	provider := &mock.MockProvider{
		Name_: "mock-panic",
		DescribeFunc: func(context.Context, string, string) (string, error) {
			panic("segfault in the model runtime")
		},
	}
	startLoop(t, store, provider, sender)

	require.Eventually(t, func() bool { return sender.count() == 3 },
		2*time.Second, 5*time.Millisecond)

	events := sender.snapshot()
	assert.Equal(t, "status:failed:2", events[1])
	assert.Contains(t, events[2], "inference panic")
}
