package mock

import (
	"context"
	"fmt"

	"github.com/neonwatty/meme-search-sub002/pkg/models"
)

// MockProvider satisfies models.InferenceProvider for testing.
type MockProvider struct {
	Name_        string
	DescribeFunc func(ctx context.Context, imagePath, modelID string) (string, error)
}

func (m *MockProvider) Name() string {
	if m.Name_ == "" {
		return "mock"
	}
	return m.Name_
}

func (m *MockProvider) Describe(ctx context.Context, imagePath, modelID string) (string, error) {
	if m.DescribeFunc != nil {
		return m.DescribeFunc(ctx, imagePath, modelID)
	}
	return fmt.Sprintf("mock description of %s by %s", imagePath, modelID), nil
}

// NewProvider returns a MockProvider with a canned response.
func NewProvider() *MockProvider {
	return &MockProvider{Name_: "mock"}
}

// NewFailingProvider returns a MockProvider that always returns err.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		DescribeFunc: func(_ context.Context, _, _ string) (string, error) {
			return "", err
		},
	}
}

// NewBlockingProvider returns a MockProvider that blocks until release is
// closed, then returns the given description. Used to stage cancellations
// while inference is "in flight".
func NewBlockingProvider(release <-chan struct{}, description string) *MockProvider {
	return &MockProvider{
		Name_: "mock-blocking",
		DescribeFunc: func(ctx context.Context, _, _ string) (string, error) {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-release:
				return description, nil
			}
		},
	}
}

var _ models.InferenceProvider = (*MockProvider)(nil)
