package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/54b3r/semdex-go/internal/embedder"
	"github.com/54b3r/semdex-go/internal/rag"
	"github.com/54b3r/semdex-go/internal/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingEmbedder returns fixed 2-dim vectors and records batch sizes.
type recordingEmbedder struct {
	mu      sync.Mutex
	batches []int
	err     error
}

func (r *recordingEmbedder) EmbedDocuments(_ context.Context, texts []string, ov rag.Override) (*rag.Embeddings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.batches = append(r.batches, len(texts))
	vecs := make([][]float32, len(texts))
	for i := range vecs {
		vecs[i] = []float32{1, float32(i)}
	}
	provider := ov.Provider
	if provider == "" {
		provider = "stub"
	}
	return &rag.Embeddings{Vectors: vecs, Provider: provider, Model: "stub-model"}, nil
}

func (r *recordingEmbedder) EmbedQuery(ctx context.Context, text string, ov rag.Override) ([]float32, error) {
	out, err := r.EmbedDocuments(ctx, []string{text}, ov)
	if err != nil {
		return nil, err
	}
	return out.Vectors[0], nil
}

// memCollection keeps records in insertion order.
type memCollection struct {
	name  string
	mu    sync.Mutex
	order []string
	texts map[string]string
	metas map[string]rag.Metadata
}

func (c *memCollection) Name() string { return c.name }

func (c *memCollection) Add(_ context.Context, ids, texts []string, metadatas []rag.Metadata, _ [][]float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, id := range ids {
		if _, ok := c.texts[id]; !ok {
			c.order = append(c.order, id)
		}
		c.texts[id] = texts[i]
		c.metas[id] = metadatas[i]
	}
	return nil
}

func (c *memCollection) Query(context.Context, []float32, int, ...rag.Include) (*rag.QueryResult, error) {
	return &rag.QueryResult{}, nil
}

func (c *memCollection) Count(context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order), nil
}

func (c *memCollection) Delete(context.Context, []string) error { return nil }

// chunks returns the stored texts in insertion order.
func (c *memCollection) chunks() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.order))
	for i, id := range c.order {
		out[i] = c.texts[id]
	}
	return out
}

type memStore struct {
	mu     sync.Mutex
	opens  int
	resets []string
	colls  map[string]*memCollection
}

func newMemStore() *memStore { return &memStore{colls: make(map[string]*memCollection)} }

func (s *memStore) GetOrCreate(_ context.Context, name string) (rag.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	c, ok := s.colls[name]
	if !ok {
		c = &memCollection{name: name, texts: make(map[string]string), metas: make(map[string]rag.Metadata)}
		s.colls[name] = c
	}
	return c, nil
}

func (s *memStore) Reset(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets = append(s.resets, name)
	delete(s.colls, name)
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) collection(name string) *memCollection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.colls[name]
}

func newTestPipeline(t *testing.T, e rag.Embedder, s rag.CollectionStore) *Pipeline {
	t.Helper()
	p, err := NewPipeline(e, s, quietLogger())
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestIngestDocuments_WindowedChunks(t *testing.T) {
	t.Parallel()
	s := newMemStore()
	p := newTestPipeline(t, &recordingEmbedder{}, s)

	sum, err := p.IngestDocuments(context.Background(), Config{ChunkSize: 8, ChunkOverlap: 2, Collection: "docs"},
		[]Document{{Source: "inline", Text: "AAAA BBBB CCCC DDDD"}})
	if err != nil {
		t.Fatalf("IngestDocuments: %v", err)
	}
	if sum.FilesProcessed != 1 || sum.ChunksAdded != 4 {
		t.Fatalf("summary = %+v, want 1 file and 4 chunks", sum)
	}

	want := []string{"AAAA BBB", "BBB CCCC", "CC DDDD", "D"}
	got := s.collection("docs").chunks()
	if len(got) != len(want) {
		t.Fatalf("chunks = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("chunk %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestConfig_WithDefaultsOverlap(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		size        int
		overlap     int
		wantSize    int
		wantOverlap int
	}{
		{name: "all unset", wantSize: 1000, wantOverlap: 200},
		{name: "size set overlap unset", size: 500, wantSize: 500, wantOverlap: 200},
		{name: "explicit overlap", size: 500, overlap: 50, wantSize: 500, wantOverlap: 50},
		{name: "no overlap", size: 500, overlap: NoOverlap, wantSize: 500, wantOverlap: 0},
		{name: "default overlap clamped to small window", size: 100, wantSize: 100, wantOverlap: 25},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Config{ChunkSize: tc.size, ChunkOverlap: tc.overlap}.withDefaults()
			if got.ChunkSize != tc.wantSize || got.ChunkOverlap != tc.wantOverlap {
				t.Errorf("withDefaults() = size %d overlap %d, want %d/%d",
					got.ChunkSize, got.ChunkOverlap, tc.wantSize, tc.wantOverlap)
			}
		})
	}
}

func TestIngestDocuments_Metadata(t *testing.T) {
	t.Parallel()
	s := newMemStore()
	p := newTestPipeline(t, &recordingEmbedder{}, s)

	_, err := p.IngestDocuments(context.Background(), Config{ChunkSize: 100, Provider: "ollama"},
		[]Document{{Source: "docs/guide.md", Text: "hello world"}})
	if err != nil {
		t.Fatalf("IngestDocuments: %v", err)
	}

	c := s.collection(rag.DefaultCollection)
	if c == nil {
		t.Fatalf("default collection %q not written", rag.DefaultCollection)
	}
	meta, ok := c.metas["docs/guide.md#0"]
	if !ok {
		t.Fatalf("record ids = %v, want docs/guide.md#0", c.order)
	}
	want := rag.Metadata{
		MetaSource:     "docs/guide.md",
		MetaChunkIndex: 0,
		MetaProvider:   "ollama",
		MetaModel:      "stub-model",
		MetaExtension:  ".md",
		MetaDocType:    "markdown",
		MetaEmbeddedBy: "ollama/stub-model",
	}
	for k, v := range want {
		if meta[k] != v {
			t.Errorf("metadata[%q] = %v, want %v", k, meta[k], v)
		}
	}
}

func TestIngest_BatchesAcrossFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	for _, name := range []string{"a.md", "b.md", "c.md", "d.md", "e.md"} {
		writeFile(t, filepath.Join(dir, name), "short text")
	}

	e := &recordingEmbedder{}
	s := newMemStore()
	p := newTestPipeline(t, e, s)

	sum, err := p.Ingest(context.Background(), Config{Roots: []string{dir}, BatchSize: 2})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if sum.FilesProcessed != 5 || sum.ChunksAdded != 5 {
		t.Fatalf("summary = %+v", sum)
	}
	want := []int{2, 2, 1}
	if len(e.batches) != len(want) {
		t.Fatalf("batches = %v, want %v", e.batches, want)
	}
	for i := range want {
		if e.batches[i] != want[i] {
			t.Errorf("batch %d size = %d, want %d", i, e.batches[i], want[i])
		}
	}
	if sum.Provider != "stub" || sum.Model != "stub-model" {
		t.Errorf("summary provider/model = %q/%q", sum.Provider, sum.Model)
	}
}

func TestIngest_ZeroFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "image.png"), "not matched")

	e := &recordingEmbedder{}
	s := newMemStore()
	p := newTestPipeline(t, e, s)

	sum, err := p.Ingest(context.Background(), Config{Roots: []string{dir, filepath.Join(dir, "missing")}})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if sum.FilesProcessed != 0 || sum.ChunksAdded != 0 {
		t.Errorf("summary = %+v, want zero counts", sum)
	}
	if len(e.batches) != 0 {
		t.Errorf("embedder called %d times, want 0", len(e.batches))
	}
	if s.opens != 0 {
		t.Errorf("store opened %d times, want 0", s.opens)
	}
}

func TestIngest_SkipsMissingAndUnreadable(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "ok.md"), "fine")
	writeFile(t, filepath.Join(dir, "broken.pdf"), "this is not a pdf")

	s := newMemStore()
	p := newTestPipeline(t, &recordingEmbedder{}, s)

	sum, err := p.Ingest(context.Background(), Config{
		BaseDir:  dir,
		Roots:    []string{"nope", "ok.md", "broken.pdf"},
		Patterns: []string{"*.md", "*.pdf"},
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if sum.FilesProcessed != 1 || sum.FilesSkipped != 1 || sum.ChunksAdded != 1 {
		t.Errorf("summary = %+v, want 1 processed, 1 skipped, 1 chunk", sum)
	}
	if _, ok := s.collection(rag.DefaultCollection).texts["ok.md#0"]; !ok {
		t.Errorf("ok.md#0 not written")
	}
}

// malformedPDF returns a PDF with a valid xref table whose page tree holds
// an unexpected delimiter, which the pdf package reports by panicking.
func malformedPDF() []byte {
	objects := []string{
		"1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n",
		"2 0 obj\n<< /Type /Pages /Count ) >>\nendobj\n",
	}
	var b strings.Builder
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = b.Len()
		b.WriteString(obj)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return []byte(b.String())
}

func TestIngest_SkipsMalformedPDF(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "plain text")
	writeFile(t, filepath.Join(dir, "bad.pdf"), string(malformedPDF()))

	s := newMemStore()
	p := newTestPipeline(t, &recordingEmbedder{}, s)

	sum, err := p.Ingest(context.Background(), Config{
		BaseDir:  dir,
		Roots:    []string{"."},
		Patterns: []string{"*.txt", "*.pdf"},
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if sum.FilesProcessed != 1 || sum.FilesSkipped != 1 {
		t.Errorf("summary = %+v, want 1 processed, 1 skipped", sum)
	}
	if _, ok := s.collection(rag.DefaultCollection).texts["a.txt#0"]; !ok {
		t.Errorf("a.txt#0 not written")
	}
}

func TestReadPDF_MalformedReturnsError(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bad.pdf")
	writeFile(t, path, string(malformedPDF()))

	text, err := readPDF(path)
	if err == nil {
		t.Fatalf("readPDF = %q, want error", text)
	}
	if !strings.Contains(err.Error(), "bad.pdf") {
		t.Errorf("err = %v, want it to name the file", err)
	}
}

func TestIngest_TolerantDecode(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "latin1.txt"), "caf\xe9 menu")

	s := newMemStore()
	p := newTestPipeline(t, &recordingEmbedder{}, s)

	sum, err := p.Ingest(context.Background(), Config{BaseDir: dir, Roots: []string{"."}})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if sum.FilesProcessed != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	got := s.collection(rag.DefaultCollection).texts["latin1.txt#0"]
	if !strings.Contains(got, "\uFFFD") || !strings.HasSuffix(got, " menu") {
		t.Errorf("decoded chunk = %q, want replacement char and intact suffix", got)
	}
}

func TestIngest_ResetFirst(t *testing.T) {
	t.Parallel()
	s := newMemStore()
	p := newTestPipeline(t, &recordingEmbedder{}, s)
	ctx := context.Background()

	if _, err := p.IngestDocuments(ctx, Config{}, []Document{{Source: "old", Text: "old text"}}); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if _, err := p.IngestDocuments(ctx, Config{Reset: true}, []Document{{Source: "new", Text: "new text"}}); err != nil {
		t.Fatalf("second ingest: %v", err)
	}

	if len(s.resets) != 1 || s.resets[0] != rag.DefaultCollection {
		t.Errorf("resets = %v", s.resets)
	}
	c := s.collection(rag.DefaultCollection)
	if len(c.order) != 1 || c.order[0] != "new#0" {
		t.Errorf("records after reset = %v, want [new#0]", c.order)
	}
}

func TestIngest_BatchFailurePropagates(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	s := newMemStore()
	p := newTestPipeline(t, &recordingEmbedder{err: boom}, s)

	_, err := p.IngestDocuments(context.Background(), Config{}, []Document{{Source: "a", Text: "text"}})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapping boom", err)
	}
	if s.opens != 0 {
		t.Errorf("store opened after failed embed")
	}
}

func TestIngest_CancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newTestPipeline(t, &recordingEmbedder{}, newMemStore())
	_, err := p.IngestDocuments(ctx, Config{}, []Document{{Source: "a", Text: "text"}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestNewPipeline_NilDependencies(t *testing.T) {
	t.Parallel()
	if _, err := NewPipeline(nil, newMemStore(), nil); err == nil {
		t.Error("nil embedder accepted")
	}
	if _, err := NewPipeline(&recordingEmbedder{}, nil, nil); err == nil {
		t.Error("nil store accepted")
	}
}

func TestRecordID(t *testing.T) {
	t.Parallel()
	if got := recordID("docs/a.md", 3, false); got != "docs/a.md#3" {
		t.Errorf("recordID = %q", got)
	}
	a := recordID("docs/a.md", 3, true)
	b := recordID("docs/a.md", 3, true)
	if a == b {
		t.Errorf("unique ids collided: %q", a)
	}
	if !strings.HasPrefix(a, "docs/a.md#3#") {
		t.Errorf("unique id %q lacks deterministic prefix", a)
	}
}

// hashStack returns a pipeline and engine backed by the hash provider and an
// in-memory SQLite store.
func hashStack(t *testing.T) (*Pipeline, *rag.Engine, *store.SQLiteStore) {
	t.Helper()
	s, err := store.Open(":memory:", quietLogger())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	chain := embedder.NewChain(embedder.Config{Provider: "hash"}, embedder.WithLogger(quietLogger()))
	p := newTestPipeline(t, chain, s)
	engine, err := rag.NewEngine(chain, s, quietLogger())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return p, engine, s
}

func TestIngestAndQuery_HashDeterministic(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "red.md"), "the roof is red")
	writeFile(t, filepath.Join(dir, "blue.md"), "the sky is blue")

	p, engine, _ := hashStack(t)
	ctx := context.Background()

	sum, err := p.Ingest(ctx, Config{BaseDir: dir, Roots: []string{"."}})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if sum.FilesProcessed != 2 || sum.ChunksAdded != 2 {
		t.Fatalf("summary = %+v", sum)
	}
	if sum.Provider != "hash" {
		t.Errorf("provider = %q, want hash", sum.Provider)
	}

	first, err := engine.Query(ctx, rag.QueryConfig{Text: "roof color"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	second, err := engine.Query(ctx, rag.QueryConfig{Text: "roof color"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("results = %d and %d, want 2", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID || first[i].Similarity != second[i].Similarity {
			t.Errorf("result %d differs between runs: %+v vs %+v", i, first[i], second[i])
		}
		if first[i].Similarity < -1-1e-6 || first[i].Similarity > 1+1e-6 {
			t.Errorf("similarity %v out of range", first[i].Similarity)
		}
	}
	if first[0].Similarity < first[1].Similarity {
		t.Errorf("results not nearest first: %v then %v", first[0].Similarity, first[1].Similarity)
	}

	// An exact text match has distance 0 and therefore similarity 1.
	exact, err := engine.Query(ctx, rag.QueryConfig{Text: "the roof is red", Limit: 1})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(exact) != 1 || exact[0].Content != "the roof is red" {
		t.Fatalf("exact = %+v", exact)
	}
	if math.Abs(exact[0].Similarity-1) > 1e-6 {
		t.Errorf("exact similarity = %v, want 1", exact[0].Similarity)
	}
	if exact[0].Metadata[MetaSource] != "red.md" {
		t.Errorf("source = %v, want red.md", exact[0].Metadata[MetaSource])
	}
}

func TestIngest_ReingestIsIdempotent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "notes.txt"), strings.Repeat("lorem ipsum ", 50))

	p, _, s := hashStack(t)
	ctx := context.Background()
	cfg := Config{BaseDir: dir, Roots: []string{"."}, ChunkSize: 100, ChunkOverlap: 10}

	first, err := p.Ingest(ctx, cfg)
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if _, err := p.Ingest(ctx, cfg); err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	c, err := s.GetOrCreate(ctx, rag.DefaultCollection)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	n, err := c.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != first.ChunksAdded {
		t.Errorf("count after re-ingest = %d, want %d", n, first.ChunksAdded)
	}

	cfg.UniqueIDs = true
	if _, err := p.Ingest(ctx, cfg); err != nil {
		t.Fatalf("unique ingest: %v", err)
	}
	n, _ = c.Count(ctx)
	if n != 2*first.ChunksAdded {
		t.Errorf("count after unique ingest = %d, want %d", n, 2*first.ChunksAdded)
	}
}
