package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lazypower/permanence/internal/api"
	"github.com/lazypower/permanence/internal/client"
	"github.com/lazypower/permanence/internal/eventlog"
)

var (
	eventRatio  float64
	eventWeight float64
	eventAt     string

	ingestContinue bool
)

var eventCmd = &cobra.Command{
	Use:   "event ID TYPE",
	Short: "Record an engagement event (view, like, comment, share, watch_time)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		at, err := parseTimeFlag("at", eventAt)
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, c *client.Client) (any, error) {
			return c.RecordEvent(ctx, args[0], api.EventRequest{
				Type:   args[1],
				Ratio:  eventRatio,
				Weight: eventWeight,
				At:     at,
			})
		})
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest FILE",
	Short: "Replay items and engagement events from a JSONL file",
	Long: "Each line either creates an item (it has a kind) or records an event (it has a type). " +
		"Lines are applied in order against a running server.",
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	eventCmd.Flags().Float64Var(&eventRatio, "ratio", 0, "Watched fraction in [0,1] for watch_time")
	eventCmd.Flags().Float64Var(&eventWeight, "weight", 0, "Number of identical events (default 1)")
	eventCmd.Flags().StringVar(&eventAt, "at", "", "Event time (RFC 3339, default now)")

	ingestCmd.Flags().BoolVar(&ingestContinue, "continue", true, "Keep going past rejected lines")
}

func runIngest(cmd *cobra.Command, args []string) error {
	res, err := eventlog.ParseFile(args[0])
	if err != nil {
		return err
	}
	for _, skip := range res.Skipped {
		fmt.Fprintf(os.Stderr, "skipped %v\n", skip)
	}

	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	var items, events, rejected int
	for _, rec := range res.Records {
		if err := ingestRecord(ctx, c, rec); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !ingestContinue {
				return fmt.Errorf("line %d: %w", rec.Line, err)
			}
			rejected++
			fmt.Fprintf(os.Stderr, "line %d: %v\n", rec.Line, err)
			continue
		}
		if rec.IsItem() {
			items++
		} else {
			events++
		}
	}

	fmt.Printf("ingested %d items and %d events (%d rejected, %d malformed)\n",
		items, events, rejected, len(res.Skipped))
	return nil
}

func ingestRecord(ctx context.Context, c *client.Client, rec eventlog.Record) error {
	if rec.IsItem() {
		_, err := c.CreateItem(ctx, api.CreateItemRequest{
			ID:        rec.ItemID,
			UserID:    rec.UserID,
			Kind:      rec.Kind,
			CreatedAt: rec.CreatedAt,
		})
		return err
	}
	ev, err := rec.Event()
	if err != nil {
		return err
	}
	_, err = c.RecordEvent(ctx, rec.ItemID, api.EventRequest{
		Type:   string(ev.Type),
		Ratio:  ev.Ratio,
		Weight: ev.Weight,
		At:     ev.At,
	})
	return err
}

// withClient runs fn against the configured server and prints its result.
func withClient(fn func(ctx context.Context, c *client.Client) (any, error)) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), clientTimeout)
	defer cancel()

	if !c.Healthy(ctx) {
		return fmt.Errorf("server not reachable; start it with: permanence serve")
	}
	out, err := fn(ctx, c)
	if err != nil {
		return err
	}
	return printJSON(out)
}
