package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/retriever"
)

// DefaultCollection is the collection used when a query names none.
const DefaultCollection = "documents"

// defaultLimit is the result count used when QueryConfig.Limit is not positive.
const defaultLimit = 5

// engineType names the Engine in eino callback run info.
const engineType = "SemdexEngine"

// QueryConfig is the input to Engine.Query.
type QueryConfig struct {
	// Text is the natural language query. Must contain non-whitespace.
	Text string

	// Limit is the maximum number of results. Defaults to 5 when <= 0.
	Limit int

	// Override optionally replaces the embedding provider and/or model.
	Override Override

	// Collection is the collection to search. Defaults to DefaultCollection.
	Collection string
}

// Result is one ranked match returned by Engine.Query.
type Result struct {
	// ID is the record id.
	ID string `json:"id"`
	// Content is the chunk text.
	Content string `json:"content"`
	// Similarity is 1 - cosine distance; 0 when the distance is unknown.
	Similarity float64 `json:"similarity"`
	// Metadata is the stored record metadata.
	Metadata Metadata `json:"metadata"`
}

// Engine embeds a query and asks a CollectionStore for its nearest neighbours.
// It is safe for concurrent use when its embedder and store are.
type Engine struct {
	// embedder converts query text to a dense vector.
	embedder Embedder

	// store resolves collection handles.
	store CollectionStore

	// log receives debug output for each query.
	log *slog.Logger
}

// NewEngine constructs an Engine from the given Embedder and CollectionStore.
func NewEngine(embedder Embedder, store CollectionStore, log *slog.Logger) (*Engine, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{embedder: embedder, store: store, log: log}, nil
}

// Query returns the records nearest to cfg.Text in the order given by the
// store. An empty or all-whitespace query is rejected with ErrValidation
// before the embedder or store is touched.
//
// Each call reports eino retriever callbacks, so a global handler such as the
// Langfuse tracer sees every query.
func (e *Engine) Query(ctx context.Context, cfg QueryConfig) ([]Result, error) {
	// The engine always reports under its own run info, even inside a parent
	// graph, while keeping the parent's handlers.
	ctx = callbacks.ReuseHandlers(ctx, &callbacks.RunInfo{
		Name:      engineType,
		Type:      engineType,
		Component: components.ComponentOfRetriever,
	})
	ctx = callbacks.OnStart(ctx, &retriever.CallbackInput{
		Query: cfg.Text,
		TopK:  cfg.Limit,
		Extra: map[string]any{"collection": cfg.Collection},
	})

	results, err := e.query(ctx, cfg)
	if err != nil {
		callbacks.OnError(ctx, err)
		return nil, err
	}
	callbacks.OnEnd(ctx, &retriever.CallbackOutput{Docs: toDocuments(results, nil)})
	return results, nil
}

func (e *Engine) query(ctx context.Context, cfg QueryConfig) ([]Result, error) {
	if strings.TrimSpace(cfg.Text) == "" {
		return nil, fmt.Errorf("rag: query text must not be empty: %w", ErrValidation)
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	name := cfg.Collection
	if name == "" {
		name = DefaultCollection
	}

	vector, err := e.embedder.EmbedQuery(ctx, cfg.Text, cfg.Override)
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}

	coll, err := e.store.GetOrCreate(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("rag: open collection %q: %w", name, err)
	}

	res, err := coll.Query(ctx, vector, limit, IncludeDocuments, IncludeMetadatas, IncludeDistances)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}

	results := make([]Result, 0, res.Len())
	for i := range res.IDs {
		r := Result{ID: res.IDs[i]}
		if i < len(res.Documents) {
			r.Content = res.Documents[i]
		}
		if i < len(res.Metadatas) {
			r.Metadata = res.Metadatas[i]
		}
		if i < len(res.Distances) {
			r.Similarity = Similarity(res.Distances[i])
		}
		results = append(results, r)
	}

	e.log.Debug("rag: query complete",
		slog.String("collection", name),
		slog.Int("limit", limit),
		slog.Int("results", len(results)),
	)
	return results, nil
}

// Similarity converts a cosine distance into a similarity score (1 - d).
// A nil distance yields 0.
func Similarity(distance *float64) float64 {
	if distance == nil {
		return 0
	}
	return 1 - *distance
}
