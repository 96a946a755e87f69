package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/semdex-go/internal/logging"
)

// NewResetCmd constructs the `semdex reset` command, which deletes every
// record in a collection.
func NewResetCmd() *cobra.Command {
	var collection string

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete a collection and all of its records",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, _, err := buildStore(logging.FromContext(ctx))
			if err != nil {
				return fmt.Errorf("reset: %w", err)
			}
			defer st.Close()

			name := collectionOrDefault(collection)
			if err := st.Reset(ctx, name); err != nil {
				return fmt.Errorf("reset: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "collection %q reset\n", name)
			return nil
		},
	}

	cmd.Flags().StringVarP(&collection, "collection", "c", "", "Collection to reset (default: $COLLECTION_NAME or documents)")
	return cmd
}

// NewStatsCmd constructs the `semdex stats` command, which prints the record
// count of a collection.
func NewStatsCmd() *cobra.Command {
	var collection string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print the number of records in a collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, _, err := buildStore(logging.FromContext(ctx))
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			defer st.Close()

			name := collectionOrDefault(collection)
			coll, err := st.GetOrCreate(ctx, name)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			n, err := coll.Count(ctx)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d records\n", name, n)
			return nil
		},
	}

	cmd.Flags().StringVarP(&collection, "collection", "c", "", "Collection to inspect (default: $COLLECTION_NAME or documents)")
	return cmd
}
