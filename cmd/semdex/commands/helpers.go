package commands

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/semdex-go/internal/embedder"
	"github.com/54b3r/semdex-go/internal/ingestion"
	"github.com/54b3r/semdex-go/internal/rag"
	"github.com/54b3r/semdex-go/internal/server"
	"github.com/54b3r/semdex-go/internal/store"
)

// Store backends selectable via STORE_BACKEND.
const (
	backendSQLite = "sqlite"
	backendQdrant = "qdrant"
)

// buildEmbedder validates the environment embedding config and constructs
// the provider chain. reg may be nil to skip chain metrics.
func buildEmbedder(log *slog.Logger, reg prometheus.Registerer) (*embedder.Chain, embedder.Config, error) {
	cfg := embedder.ConfigFromEnv()
	if err := embedder.Validate(cfg, log); err != nil {
		return nil, cfg, err
	}

	opts := []embedder.Option{embedder.WithLogger(log)}
	if reg != nil {
		opts = append(opts, embedder.WithRegisterer(reg))
	}
	log.Debug("embedder initialised",
		slog.String("provider", cfg.Provider),
		slog.Any("fallbacks", cfg.Fallbacks),
	)
	return embedder.NewChain(cfg, opts...), cfg, nil
}

// buildStore opens the collection store selected by STORE_BACKEND:
//
//	sqlite (default)  STORE_DIR, default ~/.semdex/store
//	qdrant            QDRANT_HOST, QDRANT_PORT, QDRANT_API_KEY, QDRANT_TLS
//
// The returned Pinger probes the store for GET /api/ready.
func buildStore(log *slog.Logger) (rag.CollectionStore, server.Pinger, error) {
	switch backend := getEnvOrDefault("STORE_BACKEND", backendSQLite); backend {
	case backendSQLite:
		dir := os.Getenv("STORE_DIR")
		if dir == "" {
			var err error
			if dir, err = store.DefaultDir(); err != nil {
				return nil, nil, err
			}
		}
		s, err := store.Open(dir, log)
		if err != nil {
			return nil, nil, err
		}
		log.Debug("sqlite store ready", slog.String("dir", dir))
		return s, server.NewDependencyPinger("store", s), nil

	case backendQdrant:
		host := getEnvOrDefault("QDRANT_HOST", "localhost")
		port := getEnvInt("QDRANT_PORT", 6334)
		s, err := store.NewQdrantStore(&store.QdrantConfig{
			Host:   host,
			Port:   port,
			APIKey: os.Getenv("QDRANT_API_KEY"),
			UseTLS: getEnvBool("QDRANT_TLS"),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", host, port, err)
		}
		log.Debug("qdrant store ready", slog.String("host", host), slog.Int("port", port))
		return s, server.NewQdrantPinger(s.Client()), nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown STORE_BACKEND %q (valid values: sqlite, qdrant)", rag.ErrConfiguration, backend)
	}
}

// ingestDefaultsFromEnv returns the ingestion defaults configured through
// the environment. Zero fields fall through to the pipeline defaults.
func ingestDefaultsFromEnv() ingestion.Config {
	return ingestion.Config{
		Collection:   os.Getenv("COLLECTION_NAME"),
		ChunkSize:    getEnvInt("CHUNK_SIZE", 0),
		ChunkOverlap: envOverlap(),
		BatchSize:    getEnvInt("BATCH_SIZE", 0),
		BaseDir:      os.Getenv("INGEST_BASE_DIR"),
		Patterns:     embedder.SplitList(os.Getenv("INGEST_PATTERNS")),
		MaxFiles:     getEnvInt("INGEST_MAX_FILES", 0),
	}
}

// collectionOrDefault resolves the collection a command targets: the flag
// when set, then COLLECTION_NAME, then rag.DefaultCollection.
func collectionOrDefault(flag string) string {
	if flag != "" {
		return flag
	}
	return getEnvOrDefault("COLLECTION_NAME", rag.DefaultCollection)
}

// buildPingers returns the readiness probes for serve: the store first,
// then Ollama when the chain can reach it.
func buildPingers(storePinger server.Pinger, cfg embedder.Config) []server.Pinger {
	pingers := []server.Pinger{storePinger}
	names := append([]string{cfg.Provider}, cfg.Fallbacks...)
	if slices.Contains(names, string(embedder.KindOllama)) {
		model := ""
		if cfg.Provider == string(embedder.KindOllama) {
			model = cfg.Model
		}
		pingers = append(pingers, server.NewDependencyPinger("ollama", embedder.NewOllamaProvider(&embedder.OllamaConfig{
			Host:    cfg.BaseURL,
			Model:   model,
			Timeout: cfg.Timeout,
		})))
	}
	return pingers
}

// explicitOverlap maps a user-supplied overlap of 0 to ingestion.NoOverlap,
// since a zero ChunkOverlap selects the default.
func explicitOverlap(n int) int {
	if n == 0 {
		return ingestion.NoOverlap
	}
	return n
}

// envOverlap reads CHUNK_OVERLAP. Unset or unparseable keeps the default.
func envOverlap() int {
	n, err := strconv.Atoi(os.Getenv("CHUNK_OVERLAP"))
	if err != nil {
		return 0
	}
	return explicitOverlap(n)
}
