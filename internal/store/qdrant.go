package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/semdex-go/internal/rag"
)

// Payload keys used for every Qdrant point.
const (
	payloadRecordID = "record_id"
	payloadDocument = "document"
	payloadMetadata = "metadata"
)

// pointNamespace seeds the UUIDv5 point ids derived from record ids, since
// Qdrant only accepts integers or UUIDs as point ids.
var pointNamespace = uuid.MustParse("6f1e2a4c-8d3b-5e7f-9a0b-1c2d3e4f5a6b")

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements rag.CollectionStore backed by a Qdrant instance.
// Each named collection maps to one Qdrant collection using cosine distance.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// mu guards handles.
	mu sync.Mutex
	// handles caches one collection handle per name.
	handles map[string]*qdrantCollection
}

// NewQdrantStore creates a QdrantStore. No collection is created until the
// first Add, because the vector size is only known then.
func NewQdrantStore(cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, rag.StoreError("qdrant: failed to create client", err)
	}
	return &QdrantStore{client: client, handles: make(map[string]*qdrantCollection)}, nil
}

// Client exposes the underlying gRPC client for health probes.
func (s *QdrantStore) Client() *qdrant.Client { return s.client }

// GetOrCreate implements rag.CollectionStore.
func (s *QdrantStore) GetOrCreate(_ context.Context, name string) (rag.Collection, error) {
	if name == "" {
		return nil, fmt.Errorf("qdrant: collection name must not be empty: %w", rag.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.handles[name]; ok {
		return h, nil
	}
	h := &qdrantCollection{client: s.client, name: name}
	s.handles[name] = h
	return h, nil
}

// Reset implements rag.CollectionStore. A missing collection is a no-op.
func (s *QdrantStore) Reset(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return rag.StoreError("qdrant: failed to check collection existence", err)
	}
	if exists {
		if err := s.client.DeleteCollection(ctx, name); err != nil {
			return rag.StoreError(fmt.Sprintf("qdrant: failed to delete collection %q", name), err)
		}
	}
	delete(s.handles, name)
	return nil
}

// Ping calls the Qdrant HealthCheck RPC.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return rag.StoreError("qdrant: health check failed", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// qdrantCollection is a handle to one Qdrant collection.
type qdrantCollection struct {
	client *qdrant.Client
	name   string

	// mu guards dim.
	mu sync.Mutex
	// dim is the collection's vector size once known, 0 before.
	dim uint64
}

// Name implements rag.Collection.
func (c *qdrantCollection) Name() string { return c.name }

// dimension returns the collection's vector size, creating the collection
// with size want when it does not exist yet. It returns 0 when want is 0
// and the collection is missing.
func (c *qdrantCollection) dimension(ctx context.Context, want uint64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dim != 0 {
		return c.dim, nil
	}

	exists, err := c.client.CollectionExists(ctx, c.name)
	if err != nil {
		return 0, rag.StoreError("qdrant: failed to check collection existence", err)
	}
	if !exists {
		if want == 0 {
			return 0, nil
		}
		err = c.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: c.name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     want,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return 0, rag.StoreError(fmt.Sprintf("qdrant: failed to create collection %q", c.name), err)
		}
		c.dim = want
		return c.dim, nil
	}

	info, err := c.client.GetCollectionInfo(ctx, c.name)
	if err != nil {
		return 0, rag.StoreError(fmt.Sprintf("qdrant: failed to read collection %q", c.name), err)
	}
	c.dim = info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
	return c.dim, nil
}

// forget drops the cached dimension, e.g. after the collection vanished.
func (c *qdrantCollection) forget() {
	c.mu.Lock()
	c.dim = 0
	c.mu.Unlock()
}

// Add implements rag.Collection.
func (c *qdrantCollection) Add(ctx context.Context, ids, texts []string, metadatas []rag.Metadata, vectors [][]float32) error {
	if err := checkBatch(ids, texts, metadatas, vectors); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	dim, err := c.dimension(ctx, uint64(len(vectors[0])))
	if err != nil {
		return err
	}
	if got := uint64(len(vectors[0])); got != dim {
		return fmt.Errorf("qdrant: collection %q has dimension %d, got %d: %w", c.name, dim, got, rag.ErrDimensionMismatch)
	}

	points := make([]*qdrant.PointStruct, 0, len(ids))
	for i, id := range ids {
		meta := make(map[string]any, len(metadatas[i]))
		for k, v := range metadatas[i] {
			meta[k] = v
		}
		payload, err := qdrant.TryValueMap(map[string]any{
			payloadRecordID: id,
			payloadDocument: texts[i],
			payloadMetadata: meta,
		})
		if err != nil {
			return fmt.Errorf("qdrant: encode payload for %q: %w", id, err)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(id)),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: payload,
		})
	}

	_, err = c.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: c.name,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		c.forget()
		return rag.StoreError("qdrant: upsert failed", err)
	}
	return nil
}

// Query implements rag.Collection. Distances are 1 - cosine score.
func (c *qdrantCollection) Query(ctx context.Context, vector []float32, nResults int, include ...rag.Include) (*rag.QueryResult, error) {
	res := &rag.QueryResult{}
	if nResults <= 0 {
		return res, nil
	}
	dim, err := c.dimension(ctx, 0)
	if err != nil {
		return nil, err
	}
	if dim == 0 {
		return res, nil
	}
	if uint64(len(vector)) != dim {
		return nil, fmt.Errorf("qdrant: collection %q has dimension %d, query has %d: %w", c.name, dim, len(vector), rag.ErrDimensionMismatch)
	}

	limit := uint64(nResults)
	points, err := c.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: c.name,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, rag.StoreError("qdrant: search failed", err)
	}

	want := includes(include)
	for _, p := range points {
		payload := p.GetPayload()
		res.IDs = append(res.IDs, payload[payloadRecordID].GetStringValue())
		if want[rag.IncludeDocuments] {
			res.Documents = append(res.Documents, payload[payloadDocument].GetStringValue())
		}
		if want[rag.IncludeMetadatas] {
			m := rag.Metadata{}
			for k, v := range payload[payloadMetadata].GetStructValue().GetFields() {
				m[k] = fromValue(v)
			}
			res.Metadatas = append(res.Metadatas, m)
		}
		if want[rag.IncludeDistances] {
			d := 1 - float64(p.GetScore())
			res.Distances = append(res.Distances, &d)
		}
	}
	return res, nil
}

// Count implements rag.Collection.
func (c *qdrantCollection) Count(ctx context.Context) (int, error) {
	dim, err := c.dimension(ctx, 0)
	if err != nil || dim == 0 {
		return 0, err
	}
	n, err := c.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: c.name,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, rag.StoreError("qdrant: count failed", err)
	}
	return int(n), nil
}

// Delete implements rag.Collection.
func (c *qdrantCollection) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	dim, err := c.dimension(ctx, 0)
	if err != nil || dim == 0 {
		return err
	}
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDUUID(pointID(id)))
	}

	_, err = c.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: c.name,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return rag.StoreError("qdrant: delete failed", err)
	}
	return nil
}

// pointID derives a stable UUID from a record id.
func pointID(recordID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(recordID)).String()
}

// fromValue converts a Qdrant payload value to a plain Go value.
func fromValue(v *qdrant.Value) any {
	switch k := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_IntegerValue:
		return k.IntegerValue
	case *qdrant.Value_DoubleValue:
		return k.DoubleValue
	case *qdrant.Value_BoolValue:
		return k.BoolValue
	default:
		return nil
	}
}

var _ rag.CollectionStore = (*QdrantStore)(nil)
