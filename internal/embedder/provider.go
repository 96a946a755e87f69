// Package embedder turns text into dense vectors through an ordered chain of
// providers. The chain tries the configured provider first and, on any
// failure, retries the whole batch against each fallback in turn, ending in
// a deterministic hash embedding that needs no network or model weights.
package embedder

import (
	"context"
	"fmt"
	"strings"

	"github.com/54b3r/semdex-go/internal/rag"
)

// Kind names one of the supported embedding backends.
type Kind string

const (
	// KindLocal embeds with a static word-vector model loaded from disk.
	KindLocal Kind = "local"
	// KindOllama embeds through an Ollama server's /api/embeddings endpoint.
	KindOllama Kind = "ollama"
	// KindOpenAI embeds through the OpenAI embeddings API.
	KindOpenAI Kind = "openai"
	// KindHash is the deterministic fallback that never fails.
	KindHash Kind = "hash"
)

// Kinds lists every supported provider kind.
var Kinds = []Kind{KindLocal, KindOllama, KindOpenAI, KindHash}

// Default model names per backend.
const (
	defaultLocalModel  = "all-MiniLM-L6-v2"
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"
	defaultHashModel   = "sha256"
)

// ParseKind maps a provider name to a Kind. Matching is case-insensitive.
// Names outside the supported set return rag.ErrUnknownProvider.
func ParseKind(name string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("embedder: %q (valid: local, ollama, openai, hash): %w", name, rag.ErrUnknownProvider)
}

// DefaultModel returns the model a provider kind uses when none is configured.
func DefaultModel(k Kind) string {
	switch k {
	case KindLocal:
		return defaultLocalModel
	case KindOllama:
		return defaultOllamaModel
	case KindOpenAI:
		return defaultOpenAIModel
	default:
		return defaultHashModel
	}
}

// Provider is one embedding backend. Embed returns one vector per text in
// input order, all of the same length. Implementations must be safe for
// concurrent use.
type Provider interface {
	// Kind reports which backend this is.
	Kind() Kind
	// Model reports the model name in use.
	Model() string
	// Embed converts a batch of texts into vectors.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
