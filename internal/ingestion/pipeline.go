// Package ingestion implements the document ingestion pipeline.
// It resolves files under configured roots, reads and chunks their text,
// embeds the chunks in batches, and upserts the results into a named
// collection. This pipeline is invoked by the `semdex ingest` CLI command
// and the server's ingest endpoint.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/54b3r/semdex-go/internal/chunker"
	"github.com/54b3r/semdex-go/internal/rag"
)

// DefaultBatchSize is the number of chunks embedded and written per call
// when a Config leaves BatchSize unset.
const DefaultBatchSize = 64

// Config holds the configuration for one ingestion run.
type Config struct {
	// Roots are files or directories to ingest. Relative roots resolve
	// against BaseDir.
	Roots []string

	// Patterns are glob patterns matched inside directory roots.
	// Defaults to DefaultPatterns if empty.
	Patterns []string

	// BaseDir anchors relative roots and record source names.
	// Defaults to the working directory if empty.
	BaseDir string

	// ChunkSize is the window length in characters. Defaults to 1000.
	ChunkSize int

	// ChunkOverlap is the number of characters shared by consecutive
	// windows. Zero selects 200 and NoOverlap disables it. The result is
	// clamped against ChunkSize.
	ChunkOverlap int

	// BatchSize is the number of chunks embedded per provider call.
	// Defaults to DefaultBatchSize if zero.
	BatchSize int

	// Provider and Model override the embedder defaults for this run.
	Provider string
	Model    string

	// Collection is the target collection. Defaults to rag.DefaultCollection.
	Collection string

	// Reset deletes the collection before ingesting.
	Reset bool

	// MaxFiles caps the number of resolved files. Zero means no cap.
	MaxFiles int

	// UniqueIDs appends a random suffix to every record id so repeated runs
	// add records instead of replacing them.
	UniqueIDs bool
}

// NoOverlap is the ChunkOverlap value for windows that share no characters.
const NoOverlap = -1

// withDefaults returns a copy of cfg with zero values filled in.
func (cfg Config) withDefaults() Config {
	if cfg.ChunkOverlap == 0 {
		cfg.ChunkOverlap = chunker.DefaultOverlap
	}
	cfg.ChunkSize, cfg.ChunkOverlap = chunker.Clamp(cfg.ChunkSize, cfg.ChunkOverlap)
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Collection == "" {
		cfg.Collection = rag.DefaultCollection
	}
	if cfg.BaseDir == "" {
		cfg.BaseDir = "."
	}
	return cfg
}

// Summary reports the outcome of an ingestion run.
type Summary struct {
	FilesProcessed int    `json:"files_processed"`
	ChunksAdded    int    `json:"chunks_added"`
	FilesSkipped   int    `json:"files_skipped"`
	Collection     string `json:"collection"`
	Provider       string `json:"provider"`
	Model          string `json:"model"`
}

// Document is an already-read input. Source becomes the record source name.
type Document struct {
	Source string
	Text   string
}

// Pipeline orchestrates the resolve → read → chunk → embed → write flow.
type Pipeline struct {
	// embedder converts chunk text into dense vectors.
	embedder rag.Embedder

	// store holds the target collections.
	store rag.CollectionStore

	log *slog.Logger
}

// NewPipeline constructs a Pipeline from the provided dependencies.
// A nil logger falls back to slog.Default().
func NewPipeline(embedder rag.Embedder, store rag.CollectionStore, log *slog.Logger) (*Pipeline, error) {
	if embedder == nil {
		return nil, errors.New("ingestion: embedder must not be nil")
	}
	if store == nil {
		return nil, errors.New("ingestion: store must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{embedder: embedder, store: store, log: log}, nil
}

// Ingest resolves cfg.Roots, reads every matching file and writes its chunks
// to cfg.Collection. Missing roots and unreadable files are skipped with a
// warning and never fail the run. An embedding or store failure for any
// batch aborts the run and is returned. No matching files is not an error.
func (p *Pipeline) Ingest(ctx context.Context, cfg Config) (*Summary, error) {
	cfg = cfg.withDefaults()
	if err := p.reset(ctx, cfg); err != nil {
		return nil, err
	}

	files := resolveFiles(cfg.BaseDir, cfg.Roots, cfg.Patterns, cfg.MaxFiles, p.log)
	skipped := 0
	docs := func(yield func(Document) bool) {
		for _, f := range files {
			text, err := readDocument(f.path, p.log)
			if err != nil {
				skipped++
				p.log.Warn("ingestion: skipping unreadable file",
					slog.String("path", f.source),
					slog.String("error", err.Error()),
				)
				continue
			}
			if !yield(Document{Source: f.source, Text: text}) {
				return
			}
		}
	}

	sum, err := p.run(ctx, cfg, docs)
	if err != nil {
		return nil, err
	}
	sum.FilesSkipped = skipped
	p.logSummary(sum)
	return sum, nil
}

// IngestDocuments writes the chunks of docs to cfg.Collection. Roots,
// Patterns, BaseDir and MaxFiles are ignored.
func (p *Pipeline) IngestDocuments(ctx context.Context, cfg Config, docs []Document) (*Summary, error) {
	cfg = cfg.withDefaults()
	if err := p.reset(ctx, cfg); err != nil {
		return nil, err
	}
	seq := func(yield func(Document) bool) {
		for _, d := range docs {
			if !yield(d) {
				return
			}
		}
	}
	sum, err := p.run(ctx, cfg, seq)
	if err != nil {
		return nil, err
	}
	p.logSummary(sum)
	return sum, nil
}

func (p *Pipeline) reset(ctx context.Context, cfg Config) error {
	if !cfg.Reset {
		return nil
	}
	if err := p.store.Reset(ctx, cfg.Collection); err != nil {
		return fmt.Errorf("ingestion: reset %q: %w", cfg.Collection, err)
	}
	return nil
}

// run chunks docs and flushes full batches as they fill. The collection is
// opened on the first flush so a run with nothing to write never touches
// the store.
func (p *Pipeline) run(ctx context.Context, cfg Config, docs iter.Seq[Document]) (*Summary, error) {
	sum := &Summary{
		Collection: cfg.Collection,
		Provider:   cfg.Provider,
		Model:      cfg.Model,
	}
	b := &batch{pipeline: p, cfg: cfg, sum: sum}

	for doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("ingestion: %w", err)
		}
		sum.FilesProcessed++
		meta := InferMetadata(doc.Source)
		i := 0
		for text := range chunker.Chunk(doc.Text, cfg.ChunkSize, cfg.ChunkOverlap) {
			b.add(recordID(doc.Source, i, cfg.UniqueIDs), text, rag.Metadata{
				MetaSource:     doc.Source,
				MetaChunkIndex: i,
				MetaExtension:  meta.Extension,
				MetaDocType:    meta.DocType,
			})
			i++
			if b.len() >= cfg.BatchSize {
				if err := b.flush(ctx); err != nil {
					return nil, err
				}
			}
		}
	}
	if err := b.flush(ctx); err != nil {
		return nil, err
	}
	return sum, nil
}

func (p *Pipeline) logSummary(sum *Summary) {
	p.log.Info("ingestion: complete",
		slog.Int("files_processed", sum.FilesProcessed),
		slog.Int("files_skipped", sum.FilesSkipped),
		slog.Int("chunks_added", sum.ChunksAdded),
		slog.String("collection", sum.Collection),
		slog.String("provider", sum.Provider),
		slog.String("model", sum.Model),
	)
}

// batch accumulates pending records between flushes.
type batch struct {
	pipeline *Pipeline
	cfg      Config
	sum      *Summary
	coll     rag.Collection

	ids   []string
	texts []string
	metas []rag.Metadata
}

func (b *batch) add(id, text string, meta rag.Metadata) {
	b.ids = append(b.ids, id)
	b.texts = append(b.texts, text)
	b.metas = append(b.metas, meta)
}

func (b *batch) len() int { return len(b.ids) }

// flush embeds the pending texts in one call and writes them in one call.
// Provider and model metadata come from the embedder's answer so they name
// the provider that actually produced the vectors.
func (b *batch) flush(ctx context.Context) error {
	if b.len() == 0 {
		return nil
	}
	p := b.pipeline
	start := time.Now()

	emb, err := p.embedder.EmbedDocuments(ctx, b.texts, rag.Override{Provider: b.cfg.Provider, Model: b.cfg.Model})
	if err != nil {
		return fmt.Errorf("ingestion: embed batch of %d: %w", b.len(), err)
	}
	if len(emb.Vectors) != b.len() {
		return fmt.Errorf("ingestion: embedder returned %d vectors for %d texts", len(emb.Vectors), b.len())
	}
	for _, m := range b.metas {
		m[MetaProvider] = emb.Provider
		m[MetaModel] = emb.Model
		m[MetaEmbeddedBy] = emb.Provider + "/" + emb.Model
	}

	if b.coll == nil {
		coll, err := p.store.GetOrCreate(ctx, b.cfg.Collection)
		if err != nil {
			return fmt.Errorf("ingestion: open collection %q: %w", b.cfg.Collection, err)
		}
		b.coll = coll
	}
	if err := b.coll.Add(ctx, b.ids, b.texts, b.metas, emb.Vectors); err != nil {
		return fmt.Errorf("ingestion: write batch of %d: %w", b.len(), err)
	}

	b.sum.ChunksAdded += b.len()
	b.sum.Provider = emb.Provider
	b.sum.Model = emb.Model
	p.log.Debug("ingestion: batch written",
		slog.Int("records", b.len()),
		slog.String("collection", b.cfg.Collection),
		slog.String("provider", emb.Provider),
		slog.String("model", emb.Model),
		slog.Duration("duration", time.Since(start)),
	)

	b.ids, b.texts, b.metas = nil, nil, nil
	return nil
}
