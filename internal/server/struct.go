package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/semdex-go/internal/ingestion"
	"github.com/54b3r/semdex-go/internal/rag"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	// Ingestion of a large tree can run for minutes.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [slog.Default] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained per-IP rate on POST /api/query
	// (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the per-IP burst on POST /api/query. Defaults to 20 if zero.
	RateBurst int
	// IngestRateLimit is the sustained per-IP rate on POST /api/ingest.
	// Defaults to 0.5 if zero.
	IngestRateLimit float64
	// IngestRateBurst is the per-IP burst on POST /api/ingest. Defaults to 3
	// if zero.
	IngestRateBurst int
	// StoreBackend and Providers are reported by GET /api/ready.
	StoreBackend string
	Providers    []string
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// BaseDir confines ingest roots. Requests naming paths outside it are
	// rejected. Defaults to the working directory.
	BaseDir string
	// Ingest holds defaults applied to every ingest request.
	Ingest ingestion.Config
	// MetricsRegistry receives the server metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// querier answers semantic queries. *rag.Engine satisfies it; tests inject
// a fake.
type querier interface {
	Query(ctx context.Context, cfg rag.QueryConfig) ([]rag.Result, error)
}

// ingester runs ingestion. *ingestion.Pipeline satisfies it; tests inject
// a fake.
type ingester interface {
	Ingest(ctx context.Context, cfg ingestion.Config) (*ingestion.Summary, error)
}

// Server is the HTTP server that exposes the query engine and ingestion
// pipeline as a JSON API.
type Server struct {
	// querier handles POST /api/query.
	querier querier
	// ingester handles POST /api/ingest.
	ingester ingester
	// store backs the collection reset and count endpoints.
	store rag.CollectionStore
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// queryRequest is the JSON body for POST /api/query.
type queryRequest struct {
	// Query is the natural language query text.
	Query string `json:"query"`
	// Limit is the maximum number of results (default 5).
	Limit int `json:"limit,omitempty"`
	// Collection is the collection to search.
	Collection string `json:"collection,omitempty"`
	// Provider and Model override the embedding defaults.
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

// queryResponse is the JSON response for POST /api/query.
type queryResponse struct {
	Collection string       `json:"collection"`
	Results    []rag.Result `json:"results"`
}

// ingestRequest is the JSON body for POST /api/ingest. Zero fields keep the
// server defaults. A negative chunk_overlap disables overlap.
type ingestRequest struct {
	// Paths are files or directories, relative to the server base directory
	// or absolute inside it.
	Paths        []string `json:"paths"`
	Patterns     []string `json:"patterns,omitempty"`
	Collection   string   `json:"collection,omitempty"`
	Provider     string   `json:"provider,omitempty"`
	Model        string   `json:"model,omitempty"`
	ChunkSize    int      `json:"chunk_size,omitempty"`
	ChunkOverlap int      `json:"chunk_overlap,omitempty"`
	BatchSize    int      `json:"batch_size,omitempty"`
	MaxFiles     int      `json:"max_files,omitempty"`
	Reset        bool     `json:"reset,omitempty"`
	UniqueIDs    bool     `json:"unique_ids,omitempty"`
}

// countResponse is the JSON response for GET /api/collections/{name}/count.
type countResponse struct {
	Collection string `json:"collection"`
	Count      int    `json:"count"`
}

// resetResponse is the JSON response for POST /api/collections/{name}/reset.
type resetResponse struct {
	Collection string `json:"collection"`
	Reset      bool   `json:"reset"`
}
