package queue_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	mw "github.com/neonwatty/meme-search-sub002/internal/api/middleware"
	"github.com/neonwatty/meme-search-sub002/internal/queue"
	"github.com/neonwatty/meme-search-sub002/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testToken = "test-service-token"

// newTestAPI stands up the queue API over a temp store and returns an
// HTTP client wired against it.
func newTestAPI(t *testing.T) (*queue.Store, *httptest.Server, *queue.HTTPClient) {
	t.Helper()
	store, err := queue.OpenStore(filepath.Join(t.TempDir(), "job_queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	hash, err := bcrypt.GenerateFromPassword([]byte(testToken), bcrypt.MinCost)
	require.NoError(t, err)

	srv := httptest.NewServer(queue.NewRouter(store, mw.NewServiceAuth(string(hash))))
	t.Cleanup(srv.Close)

	client := queue.NewHTTPClient(srv.URL, testToken, 5*time.Second)
	return store, srv, client
}

func clientAddReq(imageID uuid.UUID) queue.AddRequest {
	return queue.AddRequest{
		ImageID:                imageID,
		ImagePath:              "memes/cat.jpg",
		ModelID:                "florence-2-base",
		Seq:                    1,
		CallbackStatusURL:      "http://app:8080/api/v1/callbacks/status",
		CallbackDescriptionURL: "http://app:8080/api/v1/callbacks/description",
	}
}

func TestQueueAPI_AddAndCheck(t *testing.T) {
	_, _, client := newTestAPI(t)
	ctx := context.Background()

	jobID, err := client.AddJob(ctx, clientAddReq(uuid.New()))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, jobID)

	snap, err := client.CheckQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Total)
	assert.Equal(t, 1, snap.ByStatus[models.JobStatusPending])
}

func TestQueueAPI_DuplicateJobConflict(t *testing.T) {
	_, _, client := newTestAPI(t)
	ctx := context.Background()
	imageID := uuid.New()

	_, err := client.AddJob(ctx, clientAddReq(imageID))
	require.NoError(t, err)

	_, err = client.AddJob(ctx, clientAddReq(imageID))
	assert.ErrorIs(t, err, queue.ErrDuplicateJob)

	snap, err := client.CheckQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Total)
}

func TestQueueAPI_RemoveJobIdempotent(t *testing.T) {
	_, _, client := newTestAPI(t)
	ctx := context.Background()

	jobID, err := client.AddJob(ctx, clientAddReq(uuid.New()))
	require.NoError(t, err)

	require.NoError(t, client.RemoveJob(ctx, jobID))
	require.NoError(t, client.RemoveJob(ctx, jobID))

	snap, err := client.CheckQueue(ctx)
	require.NoError(t, err)
	assert.Zero(t, snap.Total)
}

func TestQueueAPI_RemoveJobForImage(t *testing.T) {
	_, _, client := newTestAPI(t)
	ctx := context.Background()
	imageID := uuid.New()

	_, err := client.AddJob(ctx, clientAddReq(imageID))
	require.NoError(t, err)

	require.NoError(t, client.RemoveJobForImage(ctx, imageID))
	// No active job left; still a no-op success.
	require.NoError(t, client.RemoveJobForImage(ctx, imageID))

	snap, err := client.CheckQueue(ctx)
	require.NoError(t, err)
	assert.Zero(t, snap.Total)
}

func TestQueueAPI_RejectsMissingToken(t *testing.T) {
	_, srv, _ := newTestAPI(t)

	body, _ := json.Marshal(map[string]any{"image_id": uuid.New().String()})
	resp, err := http.Post(srv.URL+"/add_job", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestQueueAPI_ValidatesBody(t *testing.T) {
	_, srv, _ := newTestAPI(t)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/add_job",
		bytes.NewReader([]byte(`{"image_id":"not-a-uuid"}`)))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQueueAPI_HealthIsPublic(t *testing.T) {
	_, srv, _ := newTestAPI(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestQueueClient_UnreachableWorker(t *testing.T) {
	client := queue.NewHTTPClient("http://127.0.0.1:1", testToken, 500*time.Millisecond)

	_, err := client.CheckQueue(context.Background())
	assert.ErrorIs(t, err, queue.ErrQueueUnreachable)
}
