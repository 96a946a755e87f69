// Package rag defines the shared domain types and interfaces for the
// indexing and retrieval core: records, collections, embedders, and the
// query engine that joins them.
// Concrete implementations (SQLite, Qdrant, embedding providers) satisfy
// these interfaces so the ingestion and query paths never depend on a
// specific backend.
package rag

import (
	"context"
)

// Metadata holds the per-record key-value pairs. Values are restricted to
// strings and numbers so every backend can persist them losslessly.
type Metadata map[string]any

// Record is the atomic unit stored in and retrieved from a collection.
type Record struct {
	// ID is unique within a collection. Writing an existing ID replaces it.
	ID string

	// Text is the chunk text.
	Text string

	// Metadata carries source path, chunk index, provider and model names.
	Metadata Metadata

	// Vector is the embedding of Text.
	Vector []float32
}

// Include selects which fields a collection query returns.
type Include string

const (
	// IncludeDocuments requests the stored chunk text.
	IncludeDocuments Include = "documents"
	// IncludeMetadatas requests the stored metadata.
	IncludeMetadatas Include = "metadatas"
	// IncludeDistances requests the cosine distance of each match.
	IncludeDistances Include = "distances"
)

// QueryResult holds parallel slices returned by Collection.Query, already
// sorted nearest-first. Slices for fields that were not requested are nil.
type QueryResult struct {
	// IDs is always populated.
	IDs []string
	// Documents holds the chunk text of each match.
	Documents []string
	// Metadatas holds the metadata of each match.
	Metadatas []Metadata
	// Distances holds the cosine distance of each match. A nil element or
	// a short slice means the distance is unknown.
	Distances []*float64
}

// Len returns the number of matches in the result.
func (r *QueryResult) Len() int {
	if r == nil {
		return 0
	}
	return len(r.IDs)
}

// Collection is a handle to a named, independently queryable set of
// records sharing one metric (cosine) and one vector dimensionality.
// Implementations must be safe to call from multiple goroutines.
type Collection interface {
	// Name returns the collection name.
	Name() string

	// Add upserts records by id. All four slices must have the same length.
	Add(ctx context.Context, ids, texts []string, metadatas []Metadata, vectors [][]float32) error

	// Query returns the nResults nearest records to vector, nearest first.
	Query(ctx context.Context, vector []float32, nResults int, include ...Include) (*QueryResult, error)

	// Count returns the current number of records.
	Count(ctx context.Context) (int, error)

	// Delete removes records by id. Unknown ids are ignored.
	Delete(ctx context.Context, ids []string) error
}

// CollectionStore opens and resets named collections inside one durable
// backing store. Implementations must be safe to call from multiple goroutines.
type CollectionStore interface {
	// GetOrCreate returns a handle to the named collection, creating it on
	// first access. Repeated calls with the same name share storage.
	GetOrCreate(ctx context.Context, name string) (Collection, error)

	// Reset deletes the named collection if present and drops any cached
	// handle so the next GetOrCreate starts from empty.
	Reset(ctx context.Context, name string) error

	// Close releases any resources held by the store.
	Close() error
}

// Override replaces the configured embedding provider and/or model for a
// single call. Empty fields keep the configured default.
type Override struct {
	// Provider is the provider name (e.g. "local", "ollama", "hash").
	Provider string
	// Model is the model name passed to the provider.
	Model string
}

// Embeddings is the result of embedding a batch of texts.
type Embeddings struct {
	// Vectors is parallel to the input texts.
	Vectors [][]float32
	// Provider is the name of the provider that produced Vectors. It differs
	// from the requested provider when the chain fell back.
	Provider string
	// Model is the model name of the producing provider.
	Model string
}

// Embedder converts text into dense vectors.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// EmbedDocuments returns one vector per text, in input order.
	EmbedDocuments(ctx context.Context, texts []string, ov Override) (*Embeddings, error)

	// EmbedQuery embeds a single query string.
	EmbedQuery(ctx context.Context, text string, ov Override) ([]float32, error)
}
