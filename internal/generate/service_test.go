package generate_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/neonwatty/meme-search-sub002/internal/broadcast"
	"github.com/neonwatty/meme-search-sub002/internal/callback"
	"github.com/neonwatty/meme-search-sub002/internal/generate"
	"github.com/neonwatty/meme-search-sub002/internal/queue"
	"github.com/neonwatty/meme-search-sub002/internal/store"
	"github.com/neonwatty/meme-search-sub002/internal/store/storetest"
	"github.com/neonwatty/meme-search-sub002/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	mu        sync.Mutex
	added     []queue.AddRequest
	removed   []uuid.UUID
	addErr    error
	removeErr error
}

func (f *fakeQueue) AddJob(_ context.Context, req queue.AddRequest) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return uuid.Nil, f.addErr
	}
	f.added = append(f.added, req)
	return uuid.New(), nil
}

func (f *fakeQueue) RemoveJob(_ context.Context, _ uuid.UUID) error { return f.removeErr }

func (f *fakeQueue) RemoveJobForImage(_ context.Context, imageID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, imageID)
	return nil
}

func (f *fakeQueue) CheckQueue(_ context.Context) (*models.QueueSnapshot, error) {
	return &models.QueueSnapshot{ByStatus: map[string]int{}}, nil
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	images []broadcast.ImageUpdate
	bulk   []models.BulkProgress
}

func (f *fakeBroadcaster) PublishImage(_ context.Context, u broadcast.ImageUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images = append(f.images, u)
	return nil
}

func (f *fakeBroadcaster) PublishBulkProgress(_ context.Context, p models.BulkProgress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulk = append(f.bulk, p)
	return nil
}

func (f *fakeBroadcaster) imageStatuses() []models.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Status, len(f.images))
	for i, u := range f.images {
		out[i] = u.Status
	}
	return out
}

func newFixture(t *testing.T) (*generate.Service, *storetest.MemStore, *fakeQueue, *fakeBroadcaster) {
	t.Helper()
	st := storetest.New()
	q := &fakeQueue{}
	b := &fakeBroadcaster{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := generate.NewService(st, q, b, "http://app:8080", logger)
	return svc, st, q, b
}

func seedImage(t *testing.T, st *storetest.MemStore, status models.Status, seq int64) *models.ImageItem {
	t.Helper()
	img := &models.ImageItem{Path: "/memes/" + uuid.NewString() + ".png", Status: status, StatusSeq: seq}
	require.NoError(t, st.CreateImage(context.Background(), img))
	return img
}

func TestTriggerGeneration_EnqueuesAndBumpsSeq(t *testing.T) {
	svc, st, q, b := newFixture(t)
	img := seedImage(t, st, models.StatusNotStarted, 0)

	got, err := svc.TriggerGeneration(context.Background(), img.ID, "florence-2-large")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInQueue, got.Status)
	assert.Equal(t, int64(1), got.StatusSeq)
	require.NotNil(t, got.ModelID)
	assert.Equal(t, "florence-2-large", *got.ModelID)

	require.Len(t, q.added, 1)
	assert.Equal(t, img.ID, q.added[0].ImageID)
	assert.Equal(t, int64(1), q.added[0].Seq)
	assert.Equal(t, "http://app:8080/api/v1/callbacks/status", q.added[0].CallbackStatusURL)

	assert.Equal(t, []models.Status{models.StatusInQueue}, b.imageStatuses())
}

func TestTriggerGeneration_DefaultsModel(t *testing.T) {
	svc, st, q, _ := newFixture(t)
	img := seedImage(t, st, models.StatusNotStarted, 0)

	_, err := svc.TriggerGeneration(context.Background(), img.ID, "")
	require.NoError(t, err)
	require.Len(t, q.added, 1)
	assert.Equal(t, "florence-2-base", q.added[0].ModelID)
}

func TestTriggerGeneration_RejectsUnknownModel(t *testing.T) {
	svc, st, _, _ := newFixture(t)
	img := seedImage(t, st, models.StatusNotStarted, 0)

	_, err := svc.TriggerGeneration(context.Background(), img.ID, "clip-9000")
	assert.ErrorIs(t, err, generate.ErrUnknownModel)
}

func TestTriggerGeneration_RejectsBusyImage(t *testing.T) {
	svc, st, _, _ := newFixture(t)
	for _, status := range []models.Status{models.StatusInQueue, models.StatusProcessing, models.StatusRemoving} {
		img := seedImage(t, st, status, 1)
		_, err := svc.TriggerGeneration(context.Background(), img.ID, "")
		assert.ErrorIs(t, err, generate.ErrImageBusy, string(status))
	}
}

func TestTriggerGeneration_RegenerateFromDone(t *testing.T) {
	svc, st, q, _ := newFixture(t)
	img := seedImage(t, st, models.StatusDone, 4)

	got, err := svc.TriggerGeneration(context.Background(), img.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInQueue, got.Status)
	assert.Equal(t, int64(5), got.StatusSeq)
	require.Len(t, q.added, 1)
	assert.Equal(t, int64(5), q.added[0].Seq)
}

func TestTriggerGeneration_RollsBackOnEnqueueFailure(t *testing.T) {
	svc, st, q, _ := newFixture(t)
	q.addErr = queue.ErrQueueUnreachable
	img := seedImage(t, st, models.StatusNotStarted, 0)

	_, err := svc.TriggerGeneration(context.Background(), img.ID, "")
	require.ErrorIs(t, err, queue.ErrQueueUnreachable)

	after, err := st.GetImage(context.Background(), img.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNotStarted, after.Status)
}

func TestTriggerGeneration_DuplicateJobRestoresSeq(t *testing.T) {
	svc, st, _, _ := newFixture(t)
	q2 := &fakeQueue{addErr: queue.ErrDuplicateJob}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc = generate.NewService(st, q2, &fakeBroadcaster{}, "http://app:8080", logger)

	img := seedImage(t, st, models.StatusFailed, 4)
	got, err := svc.TriggerGeneration(context.Background(), img.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, int64(4), got.StatusSeq, "the live job's marker must stay current")

	// The pre-existing job keeps reporting with the old marker; its results
	// must still land rather than being discarded as stale.
	err = svc.ApplyDescription(context.Background(), callback.DescriptionPayload{
		ImageID: img.ID, Description: "from the live job", Seq: 4,
	})
	require.NoError(t, err)

	after, err := st.GetImage(context.Background(), img.ID)
	require.NoError(t, err)
	require.NotNil(t, after.Description)
	assert.Equal(t, "from the live job", *after.Description)
}

func TestTriggerGeneration_MissingImage(t *testing.T) {
	svc, _, _, _ := newFixture(t)
	_, err := svc.TriggerGeneration(context.Background(), uuid.New(), "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCancelGeneration_FromInQueue(t *testing.T) {
	svc, st, q, b := newFixture(t)
	img := seedImage(t, st, models.StatusInQueue, 2)

	got, err := svc.CancelGeneration(context.Background(), img.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNotStarted, got.Status)
	assert.Equal(t, int64(3), got.StatusSeq, "cancel must advance the sequence marker")
	assert.Equal(t, []uuid.UUID{img.ID}, q.removed)
	assert.Equal(t, []models.Status{models.StatusNotStarted}, b.imageStatuses())
}

func TestCancelGeneration_LateCallbacksAreStale(t *testing.T) {
	svc, st, q, _ := newFixture(t)
	q.removeErr = queue.ErrQueueUnreachable
	img := seedImage(t, st, models.StatusProcessing, 4)

	_, err := svc.CancelGeneration(context.Background(), img.ID)
	require.NoError(t, err)

	// The worker committed the job before the removal reached it; its
	// callbacks still carry the pre-cancel marker and must change nothing.
	err = svc.ApplyDescription(context.Background(), callback.DescriptionPayload{
		ImageID: img.ID, Description: "too late", Seq: 4,
	})
	assert.ErrorIs(t, err, generate.ErrStaleTransition)

	err = svc.ApplyStatus(context.Background(), callback.StatusPayload{
		ImageID: img.ID, Status: models.StatusDone, Seq: 4,
	})
	assert.ErrorIs(t, err, generate.ErrStaleTransition)

	after, err := st.GetImage(context.Background(), img.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNotStarted, after.Status)
	assert.Nil(t, after.Description)
}

func TestCancelGeneration_QueueUnreachableStillResets(t *testing.T) {
	svc, st, q, _ := newFixture(t)
	q.removeErr = queue.ErrQueueUnreachable
	img := seedImage(t, st, models.StatusProcessing, 3)

	got, err := svc.CancelGeneration(context.Background(), img.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNotStarted, got.Status)
}

func TestCancelGeneration_RejectsIdleImage(t *testing.T) {
	svc, st, _, _ := newFixture(t)
	for _, status := range []models.Status{models.StatusNotStarted, models.StatusDone, models.StatusFailed} {
		img := seedImage(t, st, status, 1)
		_, err := svc.CancelGeneration(context.Background(), img.ID)
		assert.ErrorIs(t, err, generate.ErrNotCancellable, string(status))
	}
}

func TestApplyStatus_CommitsValidTransition(t *testing.T) {
	svc, st, _, b := newFixture(t)
	img := seedImage(t, st, models.StatusInQueue, 1)

	err := svc.ApplyStatus(context.Background(), callback.StatusPayload{
		ImageID: img.ID, Status: models.StatusProcessing, Seq: 1,
	})
	require.NoError(t, err)

	after, err := st.GetImage(context.Background(), img.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, after.Status)
	assert.Equal(t, []models.Status{models.StatusProcessing}, b.imageStatuses())
}

func TestApplyStatus_DiscardsWrongSeq(t *testing.T) {
	svc, st, _, b := newFixture(t)
	img := seedImage(t, st, models.StatusInQueue, 5)

	err := svc.ApplyStatus(context.Background(), callback.StatusPayload{
		ImageID: img.ID, Status: models.StatusProcessing, Seq: 4,
	})
	assert.ErrorIs(t, err, generate.ErrStaleTransition)

	after, _ := st.GetImage(context.Background(), img.ID)
	assert.Equal(t, models.StatusInQueue, after.Status)
	assert.Empty(t, b.imageStatuses())
}

func TestApplyStatus_DiscardsDuplicate(t *testing.T) {
	svc, st, _, _ := newFixture(t)
	img := seedImage(t, st, models.StatusProcessing, 1)

	err := svc.ApplyStatus(context.Background(), callback.StatusPayload{
		ImageID: img.ID, Status: models.StatusProcessing, Seq: 1,
	})
	assert.ErrorIs(t, err, generate.ErrStaleTransition)
}

func TestApplyStatus_DiscardsRegression(t *testing.T) {
	svc, st, _, _ := newFixture(t)
	img := seedImage(t, st, models.StatusDone, 2)

	err := svc.ApplyStatus(context.Background(), callback.StatusPayload{
		ImageID: img.ID, Status: models.StatusProcessing, Seq: 2,
	})
	assert.ErrorIs(t, err, generate.ErrStaleTransition)

	after, _ := st.GetImage(context.Background(), img.ID)
	assert.Equal(t, models.StatusDone, after.Status)
}

func TestApplyDescription_AttachesText(t *testing.T) {
	svc, st, _, b := newFixture(t)
	img := seedImage(t, st, models.StatusProcessing, 1)

	err := svc.ApplyDescription(context.Background(), callback.DescriptionPayload{
		ImageID: img.ID, Description: "a cat wearing sunglasses", Seq: 1,
	})
	require.NoError(t, err)

	after, _ := st.GetImage(context.Background(), img.ID)
	require.NotNil(t, after.Description)
	assert.Equal(t, "a cat wearing sunglasses", *after.Description)
	require.Len(t, b.images, 1)
	require.NotNil(t, b.images[0].Description)
}

func TestApplyDescription_DiscardsStaleSeq(t *testing.T) {
	svc, st, _, _ := newFixture(t)
	img := seedImage(t, st, models.StatusProcessing, 3)

	err := svc.ApplyDescription(context.Background(), callback.DescriptionPayload{
		ImageID: img.ID, Description: "too late", Seq: 2,
	})
	assert.ErrorIs(t, err, generate.ErrStaleTransition)

	after, _ := st.GetImage(context.Background(), img.ID)
	assert.Nil(t, after.Description)
}

// Notifier hookup is observed through a recording stub.
type recordingNotifier struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (r *recordingNotifier) OnImageStatusChanged(_ context.Context, id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

func TestNotifierInvokedOnCommit(t *testing.T) {
	svc, st, _, _ := newFixture(t)
	n := &recordingNotifier{}
	svc.SetNotifier(n)

	img := seedImage(t, st, models.StatusInQueue, 1)
	require.NoError(t, svc.ApplyStatus(context.Background(), callback.StatusPayload{
		ImageID: img.ID, Status: models.StatusProcessing, Seq: 1,
	}))
	assert.Equal(t, []uuid.UUID{img.ID}, n.ids)
}
