package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/carlmjohnson/requests"
)

// OllamaClient talks to a local Ollama daemon over its HTTP API.
type OllamaClient struct {
	baseURL string
	timeout time.Duration
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type ollamaTagsResponse struct {
	Models []OllamaModel `json:"models"`
}

// OllamaModel is one entry from the daemon's model list.
type OllamaModel struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	ModifiedAt string `json:"modified_at"`
}

type ollamaVersionResponse struct {
	Version string `json:"version"`
}

func NewOllamaClient(baseURL string) *OllamaClient {
	return &OllamaClient{
		baseURL: baseURL,
		timeout: 60 * time.Second,
	}
}

// Generate runs a non-streaming completion.
func (c *OllamaClient) Generate(ctx context.Context, model, prompt, system string, temperature float32) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := ollamaGenerateRequest{
		Model:  model,
		Prompt: prompt,
		System: system,
		Stream: false,
		Options: map[string]any{
			"temperature": temperature,
		},
	}
	var resp ollamaGenerateResponse
	err := requests.URL(c.baseURL).
		Path("/api/generate").
		BodyJSON(&req).
		ToJSON(&resp).
		Fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	return resp.Response, nil
}

// ListModels returns the models installed on the daemon.
func (c *OllamaClient) ListModels(ctx context.Context) ([]OllamaModel, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var resp ollamaTagsResponse
	err := requests.URL(c.baseURL).
		Path("/api/tags").
		ToJSON(&resp).
		Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("ollama list models: %w", err)
	}
	return resp.Models, nil
}

// Version returns the daemon version string.
func (c *OllamaClient) Version(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var resp ollamaVersionResponse
	err := requests.URL(c.baseURL).
		Path("/api/version").
		ToJSON(&resp).
		Fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("ollama version: %w", err)
	}
	return resp.Version, nil
}

// TestConnection checks reachability and reports version plus model count.
func (c *OllamaClient) TestConnection(ctx context.Context) (string, int, error) {
	version, err := c.Version(ctx)
	if err != nil {
		return "", 0, err
	}
	models, err := c.ListModels(ctx)
	if err != nil {
		return version, 0, err
	}
	return version, len(models), nil
}
