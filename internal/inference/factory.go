package inference

import (
	"fmt"

	"github.com/neonwatty/meme-search-sub002/internal/config"
	"github.com/neonwatty/meme-search-sub002/internal/inference/mock"
	"github.com/neonwatty/meme-search-sub002/internal/inference/ollama"
	"github.com/neonwatty/meme-search-sub002/internal/inference/vllm"
	"github.com/neonwatty/meme-search-sub002/pkg/models"
)

// NewProvider constructs the configured inference provider.
// Called once at worker startup; the instance is injected into the loop,
// never held as process-wide mutable state.
func NewProvider(cfg config.InferenceConfig) (models.InferenceProvider, error) {
	switch cfg.Provider {
	case "ollama":
		return ollama.NewProvider(cfg.Ollama), nil
	case "vllm":
		return vllm.NewProvider(cfg.VLLM), nil
	case "mock":
		return mock.NewProvider(), nil
	default:
		return nil, fmt.Errorf("unknown inference provider %q: must be one of ollama, vllm, mock", cfg.Provider)
	}
}
