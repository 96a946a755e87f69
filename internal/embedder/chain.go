package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/54b3r/semdex-go/internal/rag"
)

// ProviderFunc builds the provider for one hop of the chain. Returning an
// error counts as that provider failing.
type ProviderFunc func(kind Kind, model string) (Provider, error)

// Option configures a Chain.
type Option func(*Chain)

// WithLogger sets the logger used for fallback events.
func WithLogger(log *slog.Logger) Option {
	return func(c *Chain) {
		if log != nil {
			c.log = log
		}
	}
}

// WithModelCache injects the cache shared by local providers.
func WithModelCache(cache *ModelCache) Option {
	return func(c *Chain) {
		if cache != nil {
			c.cache = cache
		}
	}
}

// WithRegisterer registers the chain's request and fallback counters on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Chain) {
		if reg != nil {
			c.metrics = newChainMetrics(reg)
		}
	}
}

// WithProviderFunc replaces the built-in provider constructors.
func WithProviderFunc(fn ProviderFunc) Option {
	return func(c *Chain) {
		if fn != nil {
			c.build = fn
		}
	}
}

// chainMetrics holds the Prometheus counters owned by a Chain.
type chainMetrics struct {
	// requests counts provider calls partitioned by provider and outcome.
	requests *prometheus.CounterVec
	// fallbacks counts downgrades from one provider to the next.
	fallbacks *prometheus.CounterVec
}

func newChainMetrics(reg prometheus.Registerer) *chainMetrics {
	factory := promauto.With(reg)
	return &chainMetrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semdex",
			Subsystem: "embedder",
			Name:      "requests_total",
			Help:      "Embedding provider calls, partitioned by provider and outcome.",
		}, []string{"provider", "outcome"}),
		fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semdex",
			Subsystem: "embedder",
			Name:      "fallbacks_total",
			Help:      "Batches retried on the next provider after a failure.",
		}, []string{"from", "to"}),
	}
}

// Chain implements rag.Embedder. Each call resolves an ordered list of
// providers, the configured (or overridden) one first, then the configured
// fallbacks, then the hash fallback, and sends the whole batch to each in
// turn until one succeeds. It is safe for concurrent use.
type Chain struct {
	cfg     Config
	cache   *ModelCache
	log     *slog.Logger
	metrics *chainMetrics
	build   ProviderFunc
}

// NewChain constructs a Chain from cfg.
func NewChain(cfg Config, opts ...Option) *Chain {
	cfg = cfg.withDefaults()
	c := &Chain{
		cfg:   cfg,
		cache: NewModelCache(),
		log:   slog.Default(),
	}
	c.build = c.newProvider
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// hop is one step of a resolved chain.
type hop struct {
	name  string
	model string
}

// hops resolves the ordered, de-duplicated provider list for ov. The list
// ends at the first hash entry, so a hash primary ignores the fallbacks and
// its error is returned as-is.
func (c *Chain) hops(ov rag.Override) []hop {
	primary := c.cfg.Provider
	if ov.Provider != "" {
		primary = ov.Provider
	}
	if primary == "" {
		primary = string(KindLocal)
	}
	model := c.cfg.Model
	if ov.Model != "" {
		model = ov.Model
	}

	names := append([]string{primary}, c.cfg.Fallbacks...)
	names = append(names, string(KindHash))

	seen := make(map[string]bool, len(names))
	out := make([]hop, 0, len(names))
	for i, n := range names {
		key := strings.ToLower(strings.TrimSpace(n))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		h := hop{name: key}
		if i == 0 {
			h.model = model
		}
		if h.model == "" {
			h.model = DefaultModel(Kind(key))
		}
		out = append(out, h)
		// hash cannot fail over, so nothing after it is reachable.
		if key == string(KindHash) {
			break
		}
	}
	return out
}

// Providers returns the provider names tried for a call without overrides,
// in order.
func (c *Chain) Providers() []string {
	hops := c.hops(rag.Override{})
	names := make([]string, len(hops))
	for i, h := range hops {
		names[i] = h.name
	}
	return names
}

// EmbedDocuments implements rag.Embedder.
func (c *Chain) EmbedDocuments(ctx context.Context, texts []string, ov rag.Override) (*rag.Embeddings, error) {
	hops := c.hops(ov)
	if len(texts) == 0 {
		return &rag.Embeddings{Vectors: [][]float32{}, Provider: hops[0].name, Model: hops[0].model}, nil
	}

	var errs []error
	for i, h := range hops {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		vecs, p, err := c.try(ctx, h, texts)
		if err == nil {
			c.observe(string(p.Kind()), "ok")
			return &rag.Embeddings{Vectors: vecs, Provider: string(p.Kind()), Model: p.Model()}, nil
		}

		c.observe(metricLabel(h.name), "error")
		errs = append(errs, err)
		if i == len(hops)-1 {
			break
		}
		next := hops[i+1].name
		c.log.Warn("embedder: provider failed, falling back",
			slog.String("from", h.name),
			slog.String("to", next),
			slog.String("model", h.model),
			slog.String("error", err.Error()),
		)
		if c.metrics != nil {
			c.metrics.fallbacks.WithLabelValues(metricLabel(h.name), metricLabel(next)).Inc()
		}
	}

	if len(errs) == 1 {
		return nil, errs[0]
	}
	return nil, fmt.Errorf("embedder: all providers failed: %w", errors.Join(errs...))
}

// EmbedQuery implements rag.Embedder.
func (c *Chain) EmbedQuery(ctx context.Context, text string, ov rag.Override) ([]float32, error) {
	out, err := c.EmbedDocuments(ctx, []string{text}, ov)
	if err != nil {
		return nil, err
	}
	return out.Vectors[0], nil
}

// try runs one hop and validates its output.
func (c *Chain) try(ctx context.Context, h hop, texts []string) ([][]float32, Provider, error) {
	kind, err := ParseKind(h.name)
	if err != nil {
		return nil, nil, &rag.ProviderError{Provider: h.name, Model: h.model, Err: err}
	}
	p, err := c.build(kind, h.model)
	if err != nil {
		return nil, nil, &rag.ProviderError{Provider: h.name, Model: h.model, Err: err}
	}
	vecs, err := p.Embed(ctx, texts)
	if err == nil {
		err = checkVectors(vecs, len(texts))
	}
	if err != nil {
		return nil, nil, &rag.ProviderError{Provider: string(p.Kind()), Model: p.Model(), Err: err}
	}
	return vecs, p, nil
}

// checkVectors rejects short batches and batches of mixed dimensionality.
func checkVectors(vecs [][]float32, want int) error {
	if len(vecs) != want {
		return fmt.Errorf("expected %d vectors, got %d", want, len(vecs))
	}
	dim := len(vecs[0])
	if dim == 0 {
		return fmt.Errorf("provider returned an empty vector")
	}
	for i, v := range vecs {
		if len(v) != dim {
			return fmt.Errorf("vector %d has %d dimensions, want %d", i, len(v), dim)
		}
	}
	return nil
}

// newProvider is the default ProviderFunc.
func (c *Chain) newProvider(kind Kind, model string) (Provider, error) {
	switch kind {
	case KindLocal:
		return NewLocalProvider(c.cfg.ModelsDir, model, c.cache), nil
	case KindOllama:
		return NewOllamaProvider(&OllamaConfig{Host: c.cfg.BaseURL, Model: model, Timeout: c.cfg.Timeout}), nil
	case KindOpenAI:
		p, err := NewOpenAIProvider(&OpenAIConfig{
			APIKey:  c.cfg.OpenAIAPIKey,
			BaseURL: c.cfg.OpenAIBaseURL,
			Model:   model,
			Timeout: c.cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	case KindHash:
		return NewHashProvider(c.cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("embedder: %q: %w", kind, rag.ErrUnknownProvider)
	}
}

func (c *Chain) observe(provider, outcome string) {
	if c.metrics != nil {
		c.metrics.requests.WithLabelValues(provider, outcome).Inc()
	}
}

// metricLabel bounds label cardinality to the known kinds.
func metricLabel(name string) string {
	if k, err := ParseKind(name); err == nil {
		return string(k)
	}
	return "unknown"
}

var _ rag.Embedder = (*Chain)(nil)
