package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/permanence/internal/api"
	"github.com/lazypower/permanence/internal/client"
)

const clientTimeout = 30 * time.Second

var (
	itemUser      string
	itemID        string
	itemCreatedAt string
	itemAt        string
	itemLimit     int
)

var itemCmd = &cobra.Command{
	Use:   "item",
	Short: "Create and inspect items on a running server",
}

var itemCreateCmd = &cobra.Command{
	Use:   "create KIND",
	Short: "Register a newly published item (routine, tip, achievement, milestone)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		createdAt, err := parseTimeFlag("created-at", itemCreatedAt)
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, c *client.Client) (any, error) {
			return c.CreateItem(ctx, api.CreateItemRequest{
				ID:        itemID,
				UserID:    itemUser,
				Kind:      args[0],
				CreatedAt: createdAt,
			})
		})
	},
}

var itemGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show an item's visibility state, evaluated now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) (any, error) {
			return c.Visibility(ctx, args[0])
		})
	},
}

var itemExplainCmd = &cobra.Command{
	Use:   "explain ID",
	Short: "Show the score breakdown and the rule that decides the item's state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		at, err := parseTimeFlag("at", itemAt)
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, c *client.Client) (any, error) {
			return c.Explain(ctx, args[0], at)
		})
	},
}

var itemEventsCmd = &cobra.Command{
	Use:   "events ID",
	Short: "List an item's most recent engagement events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) (any, error) {
			return c.Events(ctx, args[0], itemLimit)
		})
	},
}

var itemArchiveCmd = &cobra.Command{
	Use:   "archive ID",
	Short: "Archive an item that has met the permanence criteria",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		at, err := parseTimeFlag("at", itemAt)
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, c *client.Client) (any, error) {
			return c.ForceArchive(ctx, args[0], at)
		})
	},
}

func init() {
	itemCreateCmd.Flags().StringVar(&itemUser, "user", "", "Owning user id (required)")
	itemCreateCmd.Flags().StringVar(&itemID, "id", "", "Item id (default generated)")
	itemCreateCmd.Flags().StringVar(&itemCreatedAt, "created-at", "", "Publish time (RFC 3339, default now)")
	itemCreateCmd.MarkFlagRequired("user")

	itemExplainCmd.Flags().StringVar(&itemAt, "at", "", "Explain as of this time (RFC 3339, default now)")
	itemArchiveCmd.Flags().StringVar(&itemAt, "at", "", "Evaluation time (RFC 3339, default now)")
	itemEventsCmd.Flags().IntVarP(&itemLimit, "limit", "n", 20, "Maximum number of events")

	itemCmd.AddCommand(itemCreateCmd, itemGetCmd, itemExplainCmd, itemEventsCmd, itemArchiveCmd)
}
