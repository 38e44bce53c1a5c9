package inference_test

import (
	"testing"

	"github.com/neonwatty/meme-search-sub002/internal/config"
	"github.com/neonwatty/meme-search-sub002/internal/inference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider_KnownProviders(t *testing.T) {
	for _, name := range []string{"ollama", "vllm", "mock"} {
		p, err := inference.NewProvider(config.InferenceConfig{Provider: name})
		require.NoError(t, err, name)
		assert.Equal(t, name, p.Name())
	}
}

func TestNewProvider_Unknown(t *testing.T) {
	_, err := inference.NewProvider(config.InferenceConfig{Provider: "gpt-9"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gpt-9")
}

func TestValidModel(t *testing.T) {
	assert.True(t, inference.ValidModel("florence-2-base"))
	assert.True(t, inference.ValidModel("moondream2"))
	assert.False(t, inference.ValidModel("florence-3-ultra"))
	assert.False(t, inference.ValidModel(""))
}

func TestDefaultModelIsRegistered(t *testing.T) {
	assert.True(t, inference.ValidModel(inference.DefaultModel))
	assert.Contains(t, inference.Models(), inference.DefaultModel)
}
