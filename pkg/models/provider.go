package models

import "context"

// InferenceProvider is the interface every vision-language model
// integration must implement. Callers inject this interface rather than a
// specific backend.
type InferenceProvider interface {
	// Describe generates a text description for the image at imagePath
	// using the named generation model.
	Describe(ctx context.Context, imagePath, modelID string) (string, error)
	// Name returns the provider identifier (e.g., "ollama", "vllm").
	Name() string
}
