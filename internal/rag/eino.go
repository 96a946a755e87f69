package rag

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
)

// EinoRetriever exposes an Engine as an eino retriever.Retriever so it can be
// composed into eino chains and graphs.
type EinoRetriever struct {
	// engine performs the actual query.
	engine *Engine
	// collection is the default collection; retriever.WithIndex overrides it.
	collection string
	// topK is the default result count; retriever.WithTopK overrides it.
	topK int
}

// NewEinoRetriever wraps engine. collection and topK are the defaults used
// when the caller passes no eino options.
func NewEinoRetriever(engine *Engine, collection string, topK int) (*EinoRetriever, error) {
	if engine == nil {
		return nil, fmt.Errorf("rag: engine must not be nil")
	}
	if collection == "" {
		collection = DefaultCollection
	}
	if topK <= 0 {
		topK = defaultLimit
	}
	return &EinoRetriever{engine: engine, collection: collection, topK: topK}, nil
}

// Retrieve implements retriever.Retriever.
func (r *EinoRetriever) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	collection := r.collection
	topK := r.topK
	o := retriever.GetCommonOptions(&retriever.Options{Index: &collection, TopK: &topK}, opts...)

	cfg := QueryConfig{Text: query, Collection: r.collection, Limit: r.topK}
	if o.Index != nil && *o.Index != "" {
		cfg.Collection = *o.Index
	}
	if o.TopK != nil {
		cfg.Limit = *o.TopK
	}

	results, err := r.engine.Query(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return toDocuments(results, o.ScoreThreshold), nil
}

// toDocuments converts results to eino documents scored by similarity,
// dropping those below threshold when it is set.
func toDocuments(results []Result, threshold *float64) []*schema.Document {
	docs := make([]*schema.Document, 0, len(results))
	for _, res := range results {
		if threshold != nil && res.Similarity < *threshold {
			continue
		}
		meta := make(map[string]any, len(res.Metadata))
		for k, v := range res.Metadata {
			meta[k] = v
		}
		doc := &schema.Document{ID: res.ID, Content: res.Content, MetaData: meta}
		docs = append(docs, doc.WithScore(res.Similarity))
	}
	return docs
}

// EinoEmbedder exposes an Embedder as an eino embedding.Embedder.
// embedding.WithModel maps onto a model Override.
type EinoEmbedder struct {
	// embedder is the wrapped chain.
	embedder Embedder
}

// NewEinoEmbedder wraps e.
func NewEinoEmbedder(e Embedder) *EinoEmbedder {
	return &EinoEmbedder{embedder: e}
}

// EmbedStrings implements embedding.Embedder.
func (e *EinoEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	o := embedding.GetCommonOptions(&embedding.Options{}, opts...)
	var ov Override
	if o.Model != nil {
		ov.Model = *o.Model
	}

	out, err := e.embedder.EmbedDocuments(ctx, texts, ov)
	if err != nil {
		return nil, err
	}

	vecs := make([][]float64, len(out.Vectors))
	for i, v := range out.Vectors {
		f := make([]float64, len(v))
		for j, x := range v {
			f[j] = float64(x)
		}
		vecs[i] = f
	}
	return vecs, nil
}

var (
	_ retriever.Retriever = (*EinoRetriever)(nil)
	_ embedding.Embedder  = (*EinoEmbedder)(nil)
)
