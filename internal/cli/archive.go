package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/lazypower/permanence/internal/client"
)

var archiveLimit int

var archiveCmd = &cobra.Command{
	Use:   "archive USER",
	Short: "List a user's permanent archive, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) (any, error) {
			return c.Archive(ctx, args[0], archiveLimit)
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show item counts per lifecycle state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) (any, error) {
			return c.Stats(ctx)
		})
	},
}

func init() {
	archiveCmd.Flags().IntVarP(&archiveLimit, "limit", "n", 100, "Maximum number of items")
}
