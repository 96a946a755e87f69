// Package server implements the HTTP server that exposes the semdex query
// engine and ingestion pipeline as a JSON API.
// The server is started by the `semdex serve` CLI command.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/semdex-go/internal/ingestion"
	"github.com/54b3r/semdex-go/internal/rag"
)

// New constructs a Server from the query engine, ingestion pipeline, store
// and config.
func New(engine *rag.Engine, pipeline *ingestion.Pipeline, store rag.CollectionStore, cfg *Config) (*Server, error) {
	if engine == nil {
		return nil, errors.New("server: engine must not be nil")
	}
	if pipeline == nil {
		return nil, errors.New("server: pipeline must not be nil")
	}
	if store == nil {
		return nil, errors.New("server: store must not be nil")
	}
	return newServer(engine, pipeline, store, cfg)
}

// newServer wires routes around the given dependencies. Tests call it with
// fakes.
func newServer(q querier, ing ingester, store rag.CollectionStore, cfg *Config) (*Server, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.IngestRateLimit == 0 {
		cfg.IngestRateLimit = defaultIngestRateLimit
	}
	if cfg.IngestRateBurst == 0 {
		cfg.IngestRateBurst = defaultIngestRateBurst
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
	if cfg.BaseDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("server: resolve base dir: %w", err)
		}
		cfg.BaseDir = wd
	}
	base, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("server: resolve base dir: %w", err)
	}
	cfg.BaseDir = base

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		querier:  q,
		ingester: ing,
		store:    store,
		cfg:      cfg,
		log:      log,
		pingers:  cfg.Pingers,
		metrics:  newServerMetrics(cfg.MetricsRegistry),
	}

	rl, stop := newRateLimiter(map[string]routeLimit{
		"query":  {rps: cfg.RateLimit, burst: cfg.RateBurst},
		"ingest": {rps: cfg.IngestRateLimit, burst: cfg.IngestRateBurst},
	}, s.metrics.rateLimitedTotal)
	s.stopRL = stop

	protect := func(h http.Handler) http.Handler { return authMiddleware(cfg.APIKey, h) }
	limited := func(route string, h http.Handler) http.Handler { return protect(rl.limit(route, h)) }

	mux := http.NewServeMux()
	mux.Handle("POST /api/query", s.instrument("query", limited("query", http.HandlerFunc(s.handleQuery))))
	mux.Handle("POST /api/ingest", s.instrument("ingest", limited("ingest", http.HandlerFunc(s.handleIngest))))
	mux.Handle("POST /api/collections/{name}/reset", s.instrument("reset", protect(http.HandlerFunc(s.handleReset))))
	mux.Handle("GET /api/collections/{name}/count", s.instrument("count", protect(http.HandlerFunc(s.handleCount))))
	mux.Handle("GET /api/health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	if cfg.APIKey == "" {
		log.Warn("server: SEMDEX_API_KEY not set, API authentication disabled")
	}

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:      requestLogger(log, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the root handler including middleware.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		s.log.Info("server: stopped")
		return nil
	}
}
