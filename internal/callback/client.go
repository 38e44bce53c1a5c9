// Package callback delivers job outcomes from the worker back to the
// application. Delivery is at-most-once and best-effort: a short timeout,
// no retries, failures logged and dropped. The job records and check_queue
// remain the source of truth if a push is lost.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/neonwatty/meme-search-sub002/pkg/models"
)

// StatusPayload reports a state-machine transition for an image.
type StatusPayload struct {
	ImageID uuid.UUID     `json:"image_id"`
	Status  models.Status `json:"status"`
	Seq     int64         `json:"seq"`
}

// DescriptionPayload attaches generated text to an image.
type DescriptionPayload struct {
	ImageID     uuid.UUID `json:"image_id"`
	Description string    `json:"description"`
	Seq         int64     `json:"seq"`
}

// Sender posts callbacks to the application.
type Sender interface {
	SendStatus(ctx context.Context, url string, payload StatusPayload)
	SendDescription(ctx context.Context, url string, payload DescriptionPayload)
}

// HTTPSender implements Sender over plain HTTP POSTs.
type HTTPSender struct {
	token  string
	client *http.Client
}

// NewHTTPSender creates a sender with the given per-delivery timeout.
func NewHTTPSender(token string, timeout time.Duration) *HTTPSender {
	return &HTTPSender{
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSender) SendStatus(ctx context.Context, url string, payload StatusPayload) {
	if err := s.post(ctx, url, payload); err != nil {
		slog.Error("status callback delivery failed",
			"image_id", payload.ImageID, "status", payload.Status, "error", err)
		return
	}
	slog.Info("status callback delivered",
		"image_id", payload.ImageID, "status", payload.Status, "seq", payload.Seq)
}

func (s *HTTPSender) SendDescription(ctx context.Context, url string, payload DescriptionPayload) {
	if err := s.post(ctx, url, payload); err != nil {
		slog.Error("description callback delivery failed",
			"image_id", payload.ImageID, "error", err)
		return
	}
	slog.Info("description callback delivered", "image_id", payload.ImageID, "seq", payload.Seq)
}

func (s *HTTPSender) post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(map[string]any{"data": payload})
	if err != nil {
		return fmt.Errorf("marshal callback: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback rejected with status %d", resp.StatusCode)
	}
	return nil
}

var _ Sender = (*HTTPSender)(nil)
