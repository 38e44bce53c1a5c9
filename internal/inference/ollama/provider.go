package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/neonwatty/meme-search-sub002/internal/config"
	"github.com/neonwatty/meme-search-sub002/pkg/models"
)

const describePrompt = "Describe this image in one or two sentences, focusing on its content and any visible text."

// maxImageBytes rejects oversized files before they reach the model.
const maxImageBytes = 10 << 20

// Provider implements models.InferenceProvider using Ollama's generate API.
type Provider struct {
	cfg    config.OllamaConfig
	client *http.Client
}

func NewProvider(cfg config.OllamaConfig) *Provider {
	// The caller bounds each call with a context; no client-level timeout.
	return &Provider{cfg: cfg, client: &http.Client{}}
}

func (p *Provider) Name() string { return "ollama" }

type generateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images"`
	Stream bool     `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

func (p *Provider) Describe(ctx context.Context, imagePath, modelID string) (string, error) {
	encoded, err := encodeImage(imagePath)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(generateRequest{
		Model:  modelID,
		Prompt: describePrompt,
		Images: []string{encoded},
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	var gen generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		return "", fmt.Errorf("decoding ollama response: %w", err)
	}

	description := strings.TrimSpace(gen.Response)
	if description == "" {
		return "", fmt.Errorf("ollama returned empty description")
	}
	return description, nil
}

func encodeImage(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat image %s: %w", path, err)
	}
	if info.Size() > maxImageBytes {
		return "", fmt.Errorf("image %s exceeds %d bytes", path, maxImageBytes)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image %s: %w", path, err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

var _ models.InferenceProvider = (*Provider)(nil)
