package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// minOllamaTimeout is the lower bound on the per-request timeout. Cold model
// loads on a local Ollama server routinely take tens of seconds.
const minOllamaTimeout = 60 * time.Second

// OllamaProvider implements Provider using the Ollama /api/embeddings
// endpoint, one request per text. It is safe for concurrent use. No API key
// is required since Ollama runs locally.
type OllamaProvider struct {
	// host is the Ollama server base URL (e.g. "http://localhost:11434").
	host string
	// model is the embedding model name (e.g. "nomic-embed-text").
	model string
	// client bounds every request with the configured timeout.
	client *http.Client
}

// OllamaConfig holds the settings for constructing an OllamaProvider.
type OllamaConfig struct {
	// Host is the Ollama server base URL (e.g. "http://localhost:11434").
	Host string
	// Model is the embedding model name (e.g. "nomic-embed-text").
	Model string
	// Timeout bounds each HTTP call. Values below 60s are raised to 60s.
	Timeout time.Duration
}

// NewOllamaProvider constructs an OllamaProvider from the given config.
func NewOllamaProvider(cfg *OllamaConfig) *OllamaProvider {
	timeout := cfg.Timeout
	if timeout < minOllamaTimeout {
		timeout = minOllamaTimeout
	}
	model := cfg.Model
	if model == "" {
		model = defaultOllamaModel
	}
	return &OllamaProvider{
		host:   strings.TrimRight(cfg.Host, "/"),
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

// ollamaEmbedRequest is the JSON body sent to the Ollama /api/embeddings endpoint.
type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// ollamaEmbedResponse is the JSON body returned from the Ollama /api/embeddings endpoint.
type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// Kind implements Provider.
func (e *OllamaProvider) Kind() Kind { return KindOllama }

// Model implements Provider.
func (e *OllamaProvider) Model() string { return e.model }

// Embed converts a batch of texts into their corresponding embeddings.
// The returned slice is parallel to the input slice. The first failing text
// fails the whole batch.
func (e *OllamaProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.embedOne(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// embedOne issues a single /api/embeddings call.
func (e *OllamaProvider) embedOne(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: marshal request: %w", err)
	}

	url := e.host + "/api/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: read response: %w", err)
	}

	var result ollamaEmbedResponse
	decodeErr := json.Unmarshal(body, &result)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if decodeErr == nil && result.Error != "" {
			msg = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, result.Error)
		}
		return nil, fmt.Errorf("ollama embedder: %s", msg)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("ollama embedder: decode response: %w", decodeErr)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("ollama embedder: response has no embedding for model %q", e.model)
	}

	vec := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

// Ping checks that the Ollama server answers on its root endpoint.
func (e *OllamaProvider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.host+"/", nil)
	if err != nil {
		return fmt.Errorf("ollama embedder: create ping request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama embedder: ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("ollama embedder: ping: HTTP %d", resp.StatusCode)
	}
	return nil
}
