package store

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/54b3r/semdex-go/internal/rag"
)

// sqliteCollection is a handle to one named collection in a SQLiteStore.
type sqliteCollection struct {
	db   *sql.DB
	name string
}

// Name implements rag.Collection.
func (c *sqliteCollection) Name() string { return c.name }

// Add implements rag.Collection. The first write fixes the collection's
// dimensionality; later vectors of any other length are rejected.
func (c *sqliteCollection) Add(ctx context.Context, ids, texts []string, metadatas []rag.Metadata, vectors [][]float32) error {
	if err := checkBatch(ids, texts, metadatas, vectors); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return rag.StoreError("store: add begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := ensureCollection(ctx, tx, c.name); err != nil {
		return err
	}
	var dim int
	if err := tx.QueryRowContext(ctx, `SELECT dimension FROM collections WHERE name = ?`, c.name).Scan(&dim); err != nil {
		return rag.StoreError("store: add dimension", err)
	}
	if dim == 0 {
		dim = len(vectors[0])
		if _, err := tx.ExecContext(ctx, `UPDATE collections SET dimension = ? WHERE name = ?`, dim, c.name); err != nil {
			return rag.StoreError("store: add set dimension", err)
		}
	}
	if got := len(vectors[0]); got != dim {
		return fmt.Errorf("store: collection %q has dimension %d, got %d: %w", c.name, dim, got, rag.ErrDimensionMismatch)
	}

	const q = `INSERT INTO records (collection, id, document, metadata, embedding) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(collection, id) DO UPDATE SET
    document  = excluded.document,
    metadata  = excluded.metadata,
    embedding = excluded.embedding`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return rag.StoreError("store: add prepare", err)
	}
	defer stmt.Close()

	for i, id := range ids {
		meta := metadatas[i]
		if meta == nil {
			meta = rag.Metadata{}
		}
		raw, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("store: encode metadata for %q: %w", id, err)
		}
		if _, err := stmt.ExecContext(ctx, c.name, id, texts[i], string(raw), encodeVector(vectors[i])); err != nil {
			return rag.StoreError("store: add "+id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return rag.StoreError("store: add commit", err)
	}
	return nil
}

// scored is one candidate during a query scan.
type scored struct {
	id       string
	document string
	metadata string
	distance float64
}

// Query implements rag.Collection with an exact scan. Distances are
// 1 - cosine similarity, ascending, ties broken by id.
func (c *sqliteCollection) Query(ctx context.Context, vector []float32, nResults int, include ...rag.Include) (*rag.QueryResult, error) {
	res := &rag.QueryResult{}
	if nResults <= 0 {
		return res, nil
	}

	var dim int
	err := c.db.QueryRowContext(ctx, `SELECT dimension FROM collections WHERE name = ?`, c.name).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && dim == 0) {
		return res, nil
	}
	if err != nil {
		return nil, rag.StoreError("store: query dimension", err)
	}
	if len(vector) != dim {
		return nil, fmt.Errorf("store: collection %q has dimension %d, query has %d: %w", c.name, dim, len(vector), rag.ErrDimensionMismatch)
	}

	rows, err := c.db.QueryContext(ctx, `SELECT id, document, metadata, embedding FROM records WHERE collection = ?`, c.name)
	if err != nil {
		return nil, rag.StoreError("store: query", err)
	}
	defer rows.Close()

	var hits []scored
	for rows.Next() {
		var h scored
		var blob []byte
		if err := rows.Scan(&h.id, &h.document, &h.metadata, &blob); err != nil {
			return nil, rag.StoreError("store: query scan", err)
		}
		v, err := decodeVector(blob)
		if err != nil {
			return nil, rag.StoreError("store: query decode "+h.id, err)
		}
		if len(v) != dim {
			return nil, rag.StoreError("store: query "+h.id, fmt.Errorf("stored vector has %d dimensions, collection has %d", len(v), dim))
		}
		h.distance = cosineDistance(vector, v)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, rag.StoreError("store: query rows", err)
	}

	slices.SortFunc(hits, func(a, b scored) int {
		if d := cmp.Compare(a.distance, b.distance); d != 0 {
			return d
		}
		return strings.Compare(a.id, b.id)
	})
	if len(hits) > nResults {
		hits = hits[:nResults]
	}

	want := includes(include)
	for _, h := range hits {
		res.IDs = append(res.IDs, h.id)
		if want[rag.IncludeDocuments] {
			res.Documents = append(res.Documents, h.document)
		}
		if want[rag.IncludeMetadatas] {
			var m rag.Metadata
			if err := json.Unmarshal([]byte(h.metadata), &m); err != nil {
				return nil, rag.StoreError("store: query metadata "+h.id, err)
			}
			res.Metadatas = append(res.Metadatas, m)
		}
		if want[rag.IncludeDistances] {
			d := h.distance
			res.Distances = append(res.Distances, &d)
		}
	}
	return res, nil
}

// Count implements rag.Collection.
func (c *sqliteCollection) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE collection = ?`, c.name).Scan(&n); err != nil {
		return 0, rag.StoreError("store: count", err)
	}
	return n, nil
}

// Delete implements rag.Collection.
func (c *sqliteCollection) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return rag.StoreError("store: delete begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM records WHERE collection = ? AND id = ?`)
	if err != nil {
		return rag.StoreError("store: delete prepare", err)
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, c.name, id); err != nil {
			return rag.StoreError("store: delete "+id, err)
		}
	}
	return rag.StoreError("store: delete commit", tx.Commit())
}

// checkBatch validates the parallel Add slices.
func checkBatch(ids, texts []string, metadatas []rag.Metadata, vectors [][]float32) error {
	n := len(ids)
	if len(texts) != n || len(metadatas) != n || len(vectors) != n {
		return fmt.Errorf("store: add needs equal lengths, got ids=%d texts=%d metadatas=%d vectors=%d: %w",
			n, len(texts), len(metadatas), len(vectors), rag.ErrValidation)
	}
	if n == 0 {
		return nil
	}
	dim := len(vectors[0])
	if dim == 0 {
		return fmt.Errorf("store: empty vector for %q: %w", ids[0], rag.ErrValidation)
	}
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("store: vector %q has %d dimensions, batch has %d: %w", ids[i], len(v), dim, rag.ErrDimensionMismatch)
		}
	}
	return nil
}

// includes turns the variadic include list into a set.
func includes(include []rag.Include) map[rag.Include]bool {
	set := make(map[rag.Include]bool, len(include))
	for _, inc := range include {
		set[inc] = true
	}
	return set
}

// encodeVector packs v as little-endian float32.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

// decodeVector reverses encodeVector.
func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

// cosineDistance returns 1 - cos(a, b). A zero vector is treated as
// orthogonal to everything (distance 1).
func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
