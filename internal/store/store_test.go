package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"

	"github.com/54b3r/semdex-go/internal/rag"
)

// openTestStore opens an in-memory SQLiteStore for use in tests.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:", quietLogger())
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustAdd(t *testing.T, c rag.Collection, ids []string, texts []string, vecs [][]float32) {
	t.Helper()
	metas := make([]rag.Metadata, len(ids))
	for i := range metas {
		metas[i] = rag.Metadata{"source": ids[i], "chunk_index": i}
	}
	if err := c.Add(context.Background(), ids, texts, metas, vecs); err != nil {
		t.Fatalf("add: %v", err)
	}
}

func Test_Store_GetOrCreateSharesStorage(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	a, err := s.GetOrCreate(ctx, "docs")
	if err != nil {
		t.Fatalf("get a: %v", err)
	}
	b, err := s.GetOrCreate(ctx, "docs")
	if err != nil {
		t.Fatalf("get b: %v", err)
	}
	mustAdd(t, a, []string{"x"}, []string{"hello"}, [][]float32{{1, 0}})

	n, err := b.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("second handle sees %d records, want 1", n)
	}
}

func Test_Store_UpsertReplaces(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	c, _ := s.GetOrCreate(ctx, "docs")

	mustAdd(t, c, []string{"x"}, []string{"old"}, [][]float32{{1, 0}})
	mustAdd(t, c, []string{"x"}, []string{"new"}, [][]float32{{0, 1}})

	n, _ := c.Count(ctx)
	if n != 1 {
		t.Fatalf("want 1 record after upsert, got %d", n)
	}
	res, err := c.Query(ctx, []float32{0, 1}, 1, rag.IncludeDocuments, rag.IncludeDistances)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Documents[0] != "new" {
		t.Errorf("document = %q, want new", res.Documents[0])
	}
	if *res.Distances[0] > 1e-9 {
		t.Errorf("distance = %v, want 0 for replaced vector", *res.Distances[0])
	}
}

func Test_Store_QueryOrdering(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	c, _ := s.GetOrCreate(ctx, "docs")

	mustAdd(t, c,
		[]string{"far", "near", "mid", "tie"},
		[]string{"f", "n", "m", "t"},
		[][]float32{{-1, 0}, {1, 0}, {0, 1}, {2, 0}},
	)

	res, err := c.Query(ctx, []float32{1, 0}, 3, rag.IncludeDocuments, rag.IncludeMetadatas, rag.IncludeDistances)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	wantIDs := []string{"near", "tie", "mid"}
	if res.Len() != 3 {
		t.Fatalf("want 3 results, got %d", res.Len())
	}
	for i, id := range wantIDs {
		if res.IDs[i] != id {
			t.Errorf("IDs[%d] = %q, want %q", i, res.IDs[i], id)
		}
	}
	wantDist := []float64{0, 0, 1}
	for i, d := range wantDist {
		if math.Abs(*res.Distances[i]-d) > 1e-6 {
			t.Errorf("Distances[%d] = %v, want %v", i, *res.Distances[i], d)
		}
	}
	if res.Metadatas[0]["source"] != "near" {
		t.Errorf("metadata = %v", res.Metadatas[0])
	}
	// JSON numbers come back as float64.
	if res.Metadatas[0]["chunk_index"] != float64(1) {
		t.Errorf("chunk_index = %#v", res.Metadatas[0]["chunk_index"])
	}

	all, _ := c.Query(ctx, []float32{1, 0}, 10, rag.IncludeDistances)
	if all.Len() != 4 || math.Abs(*all.Distances[3]-2) > 1e-6 {
		t.Errorf("opposite vector should be last with distance 2, got %+v", all)
	}
	if all.Documents != nil {
		t.Error("documents were not requested")
	}
}

func Test_Store_DimensionMismatch(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	c, _ := s.GetOrCreate(ctx, "docs")

	mustAdd(t, c, []string{"a"}, []string{"a"}, [][]float32{{1, 2, 3}})

	err := c.Add(ctx, []string{"b"}, []string{"b"}, []rag.Metadata{{}}, [][]float32{{1, 2}})
	if !errors.Is(err, rag.ErrDimensionMismatch) {
		t.Fatalf("add: want ErrDimensionMismatch, got %v", err)
	}
	if _, err := c.Query(ctx, []float32{1}, 1); !errors.Is(err, rag.ErrDimensionMismatch) {
		t.Fatalf("query: want ErrDimensionMismatch, got %v", err)
	}
	mixed := c.Add(ctx, []string{"c", "d"}, []string{"c", "d"}, []rag.Metadata{{}, {}}, [][]float32{{1, 2, 3}, {1}})
	if !errors.Is(mixed, rag.ErrDimensionMismatch) {
		t.Fatalf("mixed batch: want ErrDimensionMismatch, got %v", mixed)
	}
}

func Test_Store_AddValidatesLengths(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	c, _ := s.GetOrCreate(context.Background(), "docs")

	err := c.Add(context.Background(), []string{"a", "b"}, []string{"a"}, []rag.Metadata{{}}, [][]float32{{1}})
	if !errors.Is(err, rag.ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}
}

func Test_Store_ResetStartsEmpty(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	c, _ := s.GetOrCreate(ctx, "docs")
	mustAdd(t, c, []string{"a"}, []string{"a"}, [][]float32{{1, 2, 3}})

	if err := s.Reset(ctx, "docs"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := s.Reset(ctx, "never-created"); err != nil {
		t.Fatalf("reset unknown: %v", err)
	}

	c2, _ := s.GetOrCreate(ctx, "docs")
	n, _ := c2.Count(ctx)
	if n != 0 {
		t.Errorf("want 0 records after reset, got %d", n)
	}
	// The dimension is forgotten too.
	mustAdd(t, c2, []string{"b"}, []string{"b"}, [][]float32{{1, 2}})
}

func Test_Store_CollectionIsolation(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	x, _ := s.GetOrCreate(ctx, "x")
	y, _ := s.GetOrCreate(ctx, "y")

	mustAdd(t, x, []string{"1"}, []string{"from x"}, [][]float32{{1, 0}})
	mustAdd(t, y, []string{"1"}, []string{"from y"}, [][]float32{{1, 0, 0}})

	if err := s.Reset(ctx, "x"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	n, _ := y.Count(ctx)
	if n != 1 {
		t.Errorf("reset of x touched y: count=%d", n)
	}
}

func Test_Store_Delete(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	c, _ := s.GetOrCreate(ctx, "docs")
	mustAdd(t, c, []string{"a", "b", "c"}, []string{"a", "b", "c"}, [][]float32{{1}, {1}, {1}})

	if err := c.Delete(ctx, []string{"a", "missing"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	n, _ := c.Count(ctx)
	if n != 2 {
		t.Errorf("want 2 records, got %d", n)
	}
}

func Test_Store_QueryEmptyCollection(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	c, _ := s.GetOrCreate(context.Background(), "empty")

	res, err := c.Query(context.Background(), []float32{1, 2}, 5, rag.IncludeDocuments)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Len() != 0 {
		t.Errorf("want no results, got %d", res.Len())
	}
}

func Test_Store_DurableAcrossReopen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir, quietLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	c, _ := s.GetOrCreate(ctx, "docs")
	mustAdd(t, c, []string{"a", "b"}, []string{"alpha", "beta"}, [][]float32{{1, 0}, {0, 1}})
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := Open(dir, quietLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = s2.Close() })

	c2, _ := s2.GetOrCreate(ctx, "docs")
	n, _ := c2.Count(ctx)
	if n != 2 {
		t.Fatalf("want 2 records after reopen, got %d", n)
	}
	res, err := c2.Query(ctx, []float32{0, 1}, 1, rag.IncludeDocuments)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Documents[0] != "beta" {
		t.Errorf("document = %q, want beta", res.Documents[0])
	}
	if err := s2.Ping(ctx); err != nil {
		t.Errorf("ping: %v", err)
	}
}

func Test_Store_ConcurrentGetOrCreate(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	var wg sync.WaitGroup
	handles := make([]rag.Collection, 8)
	for i := range handles {
		wg.Go(func() {
			h, err := s.GetOrCreate(context.Background(), "shared")
			if err != nil {
				t.Errorf("get: %v", err)
				return
			}
			handles[i] = h
		})
	}
	wg.Wait()
	for i := 1; i < len(handles); i++ {
		if handles[i] != handles[0] {
			t.Fatal("concurrent GetOrCreate returned different handles")
		}
	}
}

func TestVectorRoundTrip(t *testing.T) {
	t.Parallel()

	in := []float32{0, -1.5, 3.25, float32(math.Pi)}
	out, err := decodeVector(encodeVector(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("element %d: %v != %v", i, in[i], out[i])
		}
	}
	if _, err := decodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("want error for truncated blob")
	}
}

func TestCosineDistance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"same", []float32{1, 1}, []float32{2, 2}, 0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 1},
		{"opposite", []float32{1, 0}, []float32{-3, 0}, 2},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 1},
	}
	for _, tc := range tests {
		if got := cosineDistance(tc.a, tc.b); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestPointIDStable(t *testing.T) {
	t.Parallel()

	if pointID("a.md#0") != pointID("a.md#0") {
		t.Error("pointID must be deterministic")
	}
	if pointID("a.md#0") == pointID("a.md#1") {
		t.Error("distinct record ids must map to distinct point ids")
	}
}
