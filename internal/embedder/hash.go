package embedder

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strconv"

	"github.com/54b3r/semdex-go/internal/rag"
)

// DefaultHashDimensions is the vector length of the hash fallback.
const DefaultHashDimensions = 256

// emptyPlaceholder stands in for empty input so it still hashes to a
// stable, non-degenerate vector.
const emptyPlaceholder = "empty"

// HashEmbedding derives a deterministic dim-length vector from text.
// Successive SHA-256 digests of "{salt}:{text}" (salt = 0, 1, 2, ...) are
// concatenated and each byte b is mapped to (b/255)*2-1, so every element
// lies in [-1, 1]. A non-positive dim is a configuration error.
func HashEmbedding(text string, dim int) ([]float32, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("embedder: hash dimensions must be positive, got %d: %w", dim, rag.ErrConfiguration)
	}
	if text == "" {
		text = emptyPlaceholder
	}

	vec := make([]float32, 0, dim)
	for salt := 0; len(vec) < dim; salt++ {
		sum := sha256.Sum256([]byte(strconv.Itoa(salt) + ":" + text))
		for _, b := range sum {
			if len(vec) == dim {
				break
			}
			vec = append(vec, float32(float64(b)/255*2-1))
		}
	}
	return vec, nil
}

// HashProvider is the last-resort provider. It needs no network or model
// files and only fails when misconfigured.
type HashProvider struct {
	// dim is the output vector length.
	dim int
}

// NewHashProvider constructs a HashProvider producing dim-length vectors.
func NewHashProvider(dim int) *HashProvider {
	return &HashProvider{dim: dim}
}

// Kind implements Provider.
func (p *HashProvider) Kind() Kind { return KindHash }

// Model implements Provider.
func (p *HashProvider) Model() string { return defaultHashModel + "-" + strconv.Itoa(p.dim) }

// Embed implements Provider.
func (p *HashProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := HashEmbedding(t, p.dim)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
