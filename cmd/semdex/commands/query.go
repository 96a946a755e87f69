package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/semdex-go/internal/ingestion"
	"github.com/54b3r/semdex-go/internal/logging"
	"github.com/54b3r/semdex-go/internal/rag"
	"github.com/54b3r/semdex-go/internal/tracing"
)

// snippetLen bounds the content preview printed per result.
const snippetLen = 240

// NewQueryCmd constructs the `semdex query` command, which embeds the query
// text and prints the nearest chunks in a collection.
func NewQueryCmd() *cobra.Command {
	var (
		limit      int
		provider   string
		model      string
		collection string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   `query "text"`,
		Short: "Search a collection by meaning",
		Long: `Embed the query text with the provider chain and print the nearest chunks
in the collection, most similar first. Similarity is 1 minus the cosine
distance, so 1.0 is an exact match.

Query with the same provider and model the collection was ingested with;
vectors from different models are not comparable.

Examples:
  semdex query "how are retries configured"
  semdex query "rate limiting" --limit 10 --json
  semdex query "deploy steps" --collection notes --provider ollama`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			// Langfuse tracing is opt-in and a no-op if keys are absent.
			flush, traced := tracing.Enable()
			defer flush()
			log.Debug("langfuse tracing", slog.Bool("enabled", traced))

			emb, _, err := buildEmbedder(log, nil)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			st, _, err := buildStore(log)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			defer st.Close()

			engine, err := rag.NewEngine(emb, st, log)
			if err != nil {
				return fmt.Errorf("query: failed to create engine: %w", err)
			}

			results, err := engine.Query(ctx, rag.QueryConfig{
				Text:       strings.Join(args, " "),
				Limit:      limit,
				Collection: collectionOrDefault(collection),
				Override:   rag.Override{Provider: provider, Model: model},
			})
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if results == nil {
					results = []rag.Result{}
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}
			printResults(out, results)
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVarP(&limit, "limit", "n", 5, "Maximum number of results")
	f.StringVar(&provider, "provider", "", "Embedding provider override")
	f.StringVar(&model, "model", "", "Embedding model override")
	f.StringVarP(&collection, "collection", "c", "", "Collection to search (default: $COLLECTION_NAME or documents)")
	f.BoolVar(&asJSON, "json", false, "Print results as JSON")

	return cmd
}

// printResults writes a ranked, human-readable listing of results.
func printResults(w io.Writer, results []rag.Result) {
	if len(results) == 0 {
		fmt.Fprintln(w, "no results")
		return
	}
	for i, r := range results {
		source, _ := r.Metadata[ingestion.MetaSource].(string)
		if source == "" {
			source = r.ID
		}
		fmt.Fprintf(w, "%d. [%.4f] %s\n", i+1, r.Similarity, source)
		fmt.Fprintf(w, "   %s\n", snippet(r.Content))
	}
}

// snippet collapses whitespace and truncates s to snippetLen runes.
func snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > snippetLen {
		return string(r[:snippetLen]) + "..."
	}
	return s
}
