package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/semdex-go/internal/ingestion"
	"github.com/54b3r/semdex-go/internal/logging"
	"github.com/54b3r/semdex-go/internal/rag"
	"github.com/54b3r/semdex-go/internal/server"
	"github.com/54b3r/semdex-go/internal/tracing"
)

// NewServeCmd constructs the `semdex serve` command, which starts the HTTP
// JSON API over the query engine and ingestion pipeline.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the semdex HTTP API",
		Long: `Start the semdex HTTP server on localhost.

Endpoints:
  POST /api/query                      semantic search
  POST /api/ingest                     ingest paths under the base directory
  POST /api/collections/{name}/reset   delete a collection
  GET  /api/collections/{name}/count   record count
  GET  /api/health                     liveness
  GET  /api/ready                      store and embedding provider readiness
  GET  /metrics                        Prometheus metrics

Set SEMDEX_API_KEY to require a Bearer token on /api/query, /api/ingest and
the collection routes. Per-IP limits default to 10 req/s (burst 20) for query
and 0.5 req/s (burst 3) for ingest; override with SEMDEX_QUERY_RATE_LIMIT,
SEMDEX_QUERY_RATE_BURST, SEMDEX_INGEST_RATE_LIMIT and SEMDEX_INGEST_RATE_BURST.

Examples:
  semdex serve
  semdex serve --port 9090
  EMBEDDING_PROVIDER=ollama semdex serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.FromContext(ctx)

			// Langfuse tracing is opt-in and a no-op if keys are absent.
			flush, traced := tracing.Enable()
			defer flush()
			log.Debug("langfuse tracing", slog.Bool("enabled", traced))

			// Env is read here, after .env and the config file were applied.
			if !cmd.Flags().Changed("host") {
				host = getEnvOrDefault("SEMDEX_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = getEnvInt("SEMDEX_PORT", port)
			}

			emb, embCfg, err := buildEmbedder(log, prometheus.DefaultRegisterer)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			backend := getEnvOrDefault("STORE_BACKEND", backendSQLite)
			log.Info("serve starting",
				slog.String("provider", embCfg.Provider),
				slog.String("store", backend),
			)

			st, storePinger, err := buildStore(log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer st.Close()

			engine, err := rag.NewEngine(emb, st, log)
			if err != nil {
				return fmt.Errorf("serve: failed to create engine: %w", err)
			}
			pipeline, err := ingestion.NewPipeline(emb, st, log)
			if err != nil {
				return fmt.Errorf("serve: failed to create pipeline: %w", err)
			}

			ingestDefaults := ingestDefaultsFromEnv()
			srv, err := server.New(engine, pipeline, st, &server.Config{
				Host:    host,
				Port:    port,
				Logger:  log,
				Pingers:         buildPingers(storePinger, embCfg),
				RateLimit:       getEnvFloat("SEMDEX_QUERY_RATE_LIMIT", 0),
				RateBurst:       getEnvInt("SEMDEX_QUERY_RATE_BURST", 0),
				IngestRateLimit: getEnvFloat("SEMDEX_INGEST_RATE_LIMIT", 0),
				IngestRateBurst: getEnvInt("SEMDEX_INGEST_RATE_BURST", 0),
				StoreBackend:    backend,
				Providers:       emb.Providers(),
				APIKey:          os.Getenv("SEMDEX_API_KEY"),
				BaseDir:         ingestDefaults.BaseDir,
				Ingest:          ingestDefaults,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (env: SEMDEX_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (env: SEMDEX_PORT)")

	return cmd
}
