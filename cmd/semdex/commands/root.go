// Package commands defines all Cobra CLI commands for the semdex binary.
package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/54b3r/semdex-go/internal/audit"
	"github.com/54b3r/semdex-go/internal/config"
	"github.com/54b3r/semdex-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "semdex",
		Short: "semdex indexes local documents for semantic search",
		Long: `semdex chunks local documents, embeds the chunks and stores them in a
named collection so they can be searched by meaning rather than keywords.

The embedding provider is selected via EMBEDDING_PROVIDER (local, ollama,
openai, hash) or a YAML config file (~/.semdex/config.yaml). When a provider
fails, the chain falls through EMBEDDING_FALLBACKS and finally to the
deterministic hash embedding, so ingestion never stops for lack of a model.
See 'semdex --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// A .env in the working directory never overrides the environment.
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to load .env: %w", err)
			}

			log := logging.NewFromEnv()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// LOG_LEVEL and LOG_FORMAT may have come from the config file.
			log = logging.NewFromEnv()
			slog.SetDefault(log)
			cmd.SetContext(logging.WithLogger(cmd.Context(), log))

			audit.LogCommandStart(cmd.Context(), log, cmd.Name(), loadedConfigPath)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.semdex/config.yaml)")

	root.AddCommand(
		NewIngestCmd(),
		NewQueryCmd(),
		NewResetCmd(),
		NewStatsCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}
