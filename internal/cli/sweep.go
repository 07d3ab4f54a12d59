package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	sweepNow    string
	sweepResume string
	sweepRemote bool

	purgeRetention time.Duration
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Evaluate every active and fading item once",
	Long: "Run one sweep against the local database. Interrupting it (Ctrl-C) leaves a " +
		"resumable run; pass its id to --resume to continue at the original evaluation time. " +
		"Use --remote to ask a running server to sweep instead.",
	Args: cobra.NoArgs,
	RunE: runSweep,
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete expired items past the retention window",
	Args:  cobra.NoArgs,
	RunE:  runPurge,
}

func init() {
	sweepCmd.Flags().StringVar(&sweepNow, "now", "", "Evaluation time (RFC 3339, default now)")
	sweepCmd.Flags().StringVar(&sweepResume, "resume", "", "Resume the interrupted run with this id")
	sweepCmd.Flags().BoolVar(&sweepRemote, "remote", false, "Run the sweep on the server")

	purgeCmd.Flags().DurationVar(&purgeRetention, "retention", 0, "Keep expired items evaluated within this window (default from config)")
}

// signalContext is cancelled on the first interrupt.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runSweep(cmd *cobra.Command, args []string) error {
	now, err := parseTimeFlag("now", sweepNow)
	if err != nil {
		return err
	}
	if sweepResume != "" && !now.IsZero() {
		return fmt.Errorf("--now and --resume are mutually exclusive; a resumed run keeps its evaluation time")
	}

	ctx, cancel := signalContext()
	defer cancel()

	if sweepRemote {
		c, err := newClient()
		if err != nil {
			return err
		}
		if sweepResume != "" {
			report, err := c.ResumeSweep(ctx, sweepResume)
			if err != nil {
				return err
			}
			return printJSON(report)
		}
		report, err := c.Sweep(ctx, now)
		if err != nil {
			return err
		}
		return printJSON(report)
	}

	rt, err := openInstance()
	if err != nil {
		return err
	}
	defer rt.close()

	if sweepResume != "" {
		report, err := rt.engine.ResumeSweep(ctx, sweepResume)
		if err != nil {
			return err
		}
		return printJSON(report)
	}
	if now.IsZero() {
		now = rt.engine.Now()
	}
	report, err := rt.engine.Sweep(ctx, now)
	if report != nil {
		if perr := printJSON(report); perr != nil {
			return perr
		}
	}
	if err != nil {
		return err
	}
	if report.Interrupted {
		fmt.Fprintf(os.Stderr, "sweep interrupted; resume with: permanence sweep --resume %s\n", report.RunID)
	}
	return nil
}

func runPurge(cmd *cobra.Command, args []string) error {
	rt, err := openInstance()
	if err != nil {
		return err
	}
	defer rt.close()

	retention := purgeRetention
	if retention <= 0 {
		retention = rt.cfg.Sweep.ExpiredRetention
	}
	if retention <= 0 {
		return fmt.Errorf("no retention configured; pass --retention")
	}

	ctx, cancel := signalContext()
	defer cancel()

	n, err := rt.engine.Purge(ctx, retention)
	if err != nil {
		return err
	}
	fmt.Printf("purged %d expired items (retention %s)\n", n, retention)
	return nil
}
