package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/semdex-go/internal/ingestion"
	"github.com/54b3r/semdex-go/internal/logging"
)

// NewIngestCmd constructs the `semdex ingest` command, which chunks, embeds
// and stores the matching files under the given paths.
func NewIngestCmd() *cobra.Command {
	var (
		patterns     []string
		chunkSize    int
		chunkOverlap int
		batchSize    int
		collection   string
		provider     string
		model        string
		reset        bool
		maxFiles     int
		uniqueIDs    bool
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "ingest [paths...]",
		Short: "Ingest local documents into a collection",
		Long: `Resolve files under the given paths, split their text into overlapping
chunks, embed the chunks and upsert them into a named collection.

Paths may be files or directories and default to the current directory.
Directories are searched recursively for --pattern globs; VCS metadata,
dependency caches and build output are always skipped. Missing paths and
unreadable files are skipped with a warning.

Environment variables:
  STORE_BACKEND        sqlite (default) or qdrant
  STORE_DIR            SQLite store directory (default: ~/.semdex/store)
  COLLECTION_NAME      Default collection (default: documents)
  CHUNK_SIZE           Chunk window in characters (default: 1000)
  CHUNK_OVERLAP        Characters shared by consecutive chunks (default: 200)
  BATCH_SIZE           Chunks embedded per provider call (default: 64)
  INGEST_BASE_DIR      Base directory for relative paths and source names
  EMBEDDING_*          Provider chain settings (see README)

Examples:
  semdex ingest docs/
  semdex ingest . --pattern '**/*.go' --pattern '*.md'
  semdex ingest notes --collection notes --reset`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			emb, _, err := buildEmbedder(log, nil)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			st, _, err := buildStore(log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer st.Close()

			pipeline, err := ingestion.NewPipeline(emb, st, log)
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			cfg := ingestDefaultsFromEnv()
			cfg.Roots = args
			if len(cfg.Roots) == 0 {
				cfg.Roots = []string{"."}
			}
			flags := cmd.Flags()
			if flags.Changed("pattern") {
				cfg.Patterns = patterns
			}
			if flags.Changed("chunk-size") {
				cfg.ChunkSize = chunkSize
			}
			if flags.Changed("chunk-overlap") {
				cfg.ChunkOverlap = explicitOverlap(chunkOverlap)
			}
			if flags.Changed("batch-size") {
				cfg.BatchSize = batchSize
			}
			if flags.Changed("max-files") {
				cfg.MaxFiles = maxFiles
			}
			cfg.Collection = collectionOrDefault(collection)
			cfg.Provider = provider
			cfg.Model = model
			cfg.Reset = reset
			cfg.UniqueIDs = uniqueIDs

			sum, err := pipeline.Ingest(ctx, cfg)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(sum)
			}
			fmt.Fprintf(out, "%d files processed, %d chunks added\n", sum.FilesProcessed, sum.ChunksAdded)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringArrayVar(&patterns, "pattern", nil, "Glob pattern matched inside directories (repeatable, default: "+strings.Join(ingestion.DefaultPatterns, ", ")+")")
	f.IntVar(&chunkSize, "chunk-size", 0, "Chunk window in characters (default: 1000)")
	f.IntVar(&chunkOverlap, "chunk-overlap", 0, "Characters shared by consecutive chunks, 0 for none (default: 200)")
	f.IntVar(&batchSize, "batch-size", 0, "Chunks embedded per provider call (default: 64)")
	f.StringVarP(&collection, "collection", "c", "", "Target collection (default: $COLLECTION_NAME or documents)")
	f.StringVar(&provider, "provider", "", "Embedding provider override for this run")
	f.StringVar(&model, "model", "", "Embedding model override for this run")
	f.BoolVar(&reset, "reset", false, "Delete the collection before ingesting")
	f.IntVar(&maxFiles, "max-files", 0, "Maximum number of files to ingest (0 means no limit)")
	f.BoolVar(&uniqueIDs, "unique-ids", false, "Append a random suffix to record ids so re-ingesting adds instead of replacing")
	f.BoolVar(&asJSON, "json", false, "Print the ingestion summary as JSON")

	return cmd
}
