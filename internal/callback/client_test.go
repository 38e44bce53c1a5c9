package callback_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/neonwatty/meme-search-sub002/internal/callback"
	"github.com/neonwatty/meme-search-sub002/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendStatus_DeliversEnvelope(t *testing.T) {
	var got struct {
		Data callback.StatusPayload `json:"data"`
	}
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := callback.NewHTTPSender("tok", 2*time.Second)
	imageID := uuid.New()
	sender.SendStatus(context.Background(), srv.URL, callback.StatusPayload{
		ImageID: imageID,
		Status:  models.StatusDone,
		Seq:     3,
	})

	assert.Equal(t, "Bearer tok", auth)
	assert.Equal(t, imageID, got.Data.ImageID)
	assert.Equal(t, models.StatusDone, got.Data.Status)
	assert.EqualValues(t, 3, got.Data.Seq)
}

func TestSendDescription_DeliversEnvelope(t *testing.T) {
	var got struct {
		Data callback.DescriptionPayload `json:"data"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := callback.NewHTTPSender("tok", 2*time.Second)
	imageID := uuid.New()
	sender.SendDescription(context.Background(), srv.URL, callback.DescriptionPayload{
		ImageID:     imageID,
		Description: "a cat meme",
		Seq:         1,
	})

	assert.Equal(t, imageID, got.Data.ImageID)
	assert.Equal(t, "a cat meme", got.Data.Description)
}

func TestSend_FailuresAreSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sender := callback.NewHTTPSender("tok", 2*time.Second)

	// Neither a rejecting server nor an unreachable one may panic or block;
	// delivery is fire-and-forget.
	sender.SendStatus(context.Background(), srv.URL, callback.StatusPayload{
		ImageID: uuid.New(), Status: models.StatusFailed,
	})
	sender.SendDescription(context.Background(), "http://127.0.0.1:1", callback.DescriptionPayload{
		ImageID: uuid.New(), Description: "lost",
	})
}
