package embedder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"unicode"
)

// modelExt is the file extension of static word-vector models.
const modelExt = ".vec"

// StaticModel is an in-memory word-vector table in the word2vec/fastText
// text format: an optional "count dim" header line followed by one
// "token v1 ... vD" line per token.
type StaticModel struct {
	// dim is the length of every vector in the table.
	dim int
	// vectors maps lowercase tokens to their vectors.
	vectors map[string][]float32
}

// LoadStaticModel parses a word-vector table from r.
func LoadStaticModel(r io.Reader) (*StaticModel, error) {
	m := &StaticModel{vectors: make(map[string][]float32)}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if line == 1 && len(fields) == 2 {
			if _, err := strconv.Atoi(fields[0]); err == nil {
				if d, err := strconv.Atoi(fields[1]); err == nil {
					m.dim = d
					continue
				}
			}
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("local embedder: line %d: want token and values", line)
		}
		vec := make([]float32, len(fields)-1)
		for i, f := range fields[1:] {
			v, err := strconv.ParseFloat(f, 32)
			if err != nil {
				return nil, fmt.Errorf("local embedder: line %d: %w", line, err)
			}
			vec[i] = float32(v)
		}
		if m.dim == 0 {
			m.dim = len(vec)
		}
		if len(vec) != m.dim {
			return nil, fmt.Errorf("local embedder: line %d: want %d values, got %d", line, m.dim, len(vec))
		}
		m.vectors[strings.ToLower(fields[0])] = vec
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("local embedder: read model: %w", err)
	}
	if len(m.vectors) == 0 {
		return nil, fmt.Errorf("local embedder: model has no vectors")
	}
	return m, nil
}

// Dim returns the vector length.
func (m *StaticModel) Dim() int { return m.dim }

// Encode returns the L2-normalised mean of the vectors of every known token
// in text. A text with no known tokens yields the zero vector.
func (m *StaticModel) Encode(text string) []float32 {
	out := make([]float32, m.dim)
	n := 0
	for _, tok := range tokenize(text) {
		v, ok := m.vectors[tok]
		if !ok {
			continue
		}
		for i, x := range v {
			out[i] += x
		}
		n++
	}
	if n == 0 {
		return out
	}
	for i := range out {
		out[i] /= float32(n)
	}
	l2normalize(out)
	return out
}

// tokenize lowercases text and splits it on anything that is not a letter
// or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// l2normalize scales v to unit length in place. A zero vector is left as is.
func l2normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// ModelCache holds loaded models for the lifetime of the process, keyed by
// model name. Entries are never evicted. The lock is held across the miss
// path so two concurrent first loads of the same model cannot both run.
type ModelCache struct {
	mu     sync.Mutex
	models map[string]*StaticModel
}

// NewModelCache returns an empty cache.
func NewModelCache() *ModelCache {
	return &ModelCache{models: make(map[string]*StaticModel)}
}

// Put seeds the cache with a model, replacing nothing if the name is taken.
func (c *ModelCache) Put(name string, m *StaticModel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.models[name]; !ok {
		c.models[name] = m
	}
}

// Get returns the cached model for name, calling load on a miss. A failed
// load is not cached.
func (c *ModelCache) Get(name string, load func() (*StaticModel, error)) (*StaticModel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.models[name]; ok {
		return m, nil
	}
	m, err := load()
	if err != nil {
		return nil, err
	}
	c.models[name] = m
	return m, nil
}

// Len returns the number of cached models.
func (c *ModelCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.models)
}

// LocalProvider implements Provider with a static word-vector model read
// from {dir}/{model}.vec and held in a shared ModelCache.
type LocalProvider struct {
	dir   string
	model string
	cache *ModelCache
}

// NewLocalProvider constructs a LocalProvider. A nil cache gets a private one.
func NewLocalProvider(dir, model string, cache *ModelCache) *LocalProvider {
	if cache == nil {
		cache = NewModelCache()
	}
	if model == "" {
		model = defaultLocalModel
	}
	return &LocalProvider{dir: dir, model: model, cache: cache}
}

// Kind implements Provider.
func (p *LocalProvider) Kind() Kind { return KindLocal }

// Model implements Provider.
func (p *LocalProvider) Model() string { return p.model }

// Embed implements Provider. The model is loaded on first use.
func (p *LocalProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	m, err := p.cache.Get(p.model, p.load)
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = m.Encode(t)
	}
	return out, nil
}

// load reads the model file for p.model.
func (p *LocalProvider) load() (*StaticModel, error) {
	path := filepath.Join(p.dir, p.model+modelExt)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("local embedder: open model %q: %w", p.model, err)
	}
	defer f.Close()
	return LoadStaticModel(f)
}
