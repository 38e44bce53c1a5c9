package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/neonwatty/meme-search-sub002/pkg/models"
)

// Client is the application's view of the worker's queue API.
type Client interface {
	AddJob(ctx context.Context, req AddRequest) (uuid.UUID, error)
	RemoveJob(ctx context.Context, jobID uuid.UUID) error
	// RemoveJobForImage cancels whatever active job covers the image.
	RemoveJobForImage(ctx context.Context, imageID uuid.UUID) error
	CheckQueue(ctx context.Context) (*models.QueueSnapshot, error)
}

// HTTPClient implements Client against the worker's HTTP API.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a queue API client.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) AddJob(ctx context.Context, req AddRequest) (uuid.UUID, error) {
	body, err := json.Marshal(addJobRequest{
		ImageID:                req.ImageID.String(),
		ImagePath:              req.ImagePath,
		ModelID:                req.ModelID,
		Seq:                    req.Seq,
		CallbackStatusURL:      req.CallbackStatusURL,
		CallbackDescriptionURL: req.CallbackDescriptionURL,
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal add_job request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/add_job", bytes.NewReader(body))
	if err != nil {
		return uuid.Nil, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return uuid.Nil, classifyError(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
	case http.StatusConflict:
		return uuid.Nil, ErrDuplicateJob
	default:
		return uuid.Nil, fmt.Errorf("%w: add_job status %d", ErrQueueRequest, resp.StatusCode)
	}

	var env struct {
		Data struct {
			JobID uuid.UUID `json:"job_id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return uuid.Nil, fmt.Errorf("decoding add_job response: %w", err)
	}
	return env.Data.JobID, nil
}

func (c *HTTPClient) RemoveJob(ctx context.Context, jobID uuid.UUID) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		fmt.Sprintf("%s/remove_job/%s", c.baseURL, jobID), nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: remove_job status %d", ErrQueueRequest, resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) RemoveJobForImage(ctx context.Context, imageID uuid.UUID) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		fmt.Sprintf("%s/remove_job/image/%s", c.baseURL, imageID), nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: remove_job status %d", ErrQueueRequest, resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) CheckQueue(ctx context.Context) (*models.QueueSnapshot, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/check_queue", nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: check_queue status %d", ErrQueueRequest, resp.StatusCode)
	}

	var env struct {
		Data models.QueueSnapshot `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decoding check_queue response: %w", err)
	}
	return &env.Data, nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
}

func classifyError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrQueueUnreachable, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("%w: %v", ErrQueueUnreachable, err)
	}
	return fmt.Errorf("%w: %v", ErrQueueUnreachable, err)
}

var _ Client = (*HTTPClient)(nil)
