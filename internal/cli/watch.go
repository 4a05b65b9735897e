package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Interval time.Duration
	Count    int
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Validate consistency periodically",
		Long: `Compare the primary and secondary stores on a fixed interval until
interrupted. Each round updates the consistency gauges, which are served
on the Prometheus endpoint when telemetry is enabled in the config.

Examples:
  crosstx watch --interval 30s
  crosstx watch --interval 1m --count 5 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Interval, "interval", 30*time.Second, "time between validations")
	cmd.Flags().IntVar(&opts.Count, "count", 0, "stop after this many rounds (0 runs until interrupted)")

	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	if opts.Interval <= 0 {
		return fail(formatter, ExitCommandError, ErrCodeGeneric, "--interval must be positive", nil)
	}

	ctx := cmd.Context()
	env, err := OpenEnv(ctx, opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeOpen, "failed to open crosstx", err)
	}
	defer env.Close()

	if env.Replica == nil {
		env.Logger.Warn("no secondary store; every round will report it disabled")
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	w := cmd.OutOrStdout()
	for round := 1; ; round++ {
		report, err := env.Manager.ValidateConsistency(ctx)
		switch {
		case err != nil:
			// A failed round is retried on the next tick.
			env.Logger.Error("consistency check failed", "round", round, "error", err)
		case formatter.JSON():
			if err := formatter.Success(report); err != nil {
				return err
			}
		default:
			fmt.Fprintf(w, "%s round %d: %d inconsistencies (secondary enabled: %t)\n",
				report.ValidatedAt.Format(time.RFC3339), round, report.TotalInconsistencies, report.SecondaryEnabled)
		}

		if opts.Count > 0 && round >= opts.Count {
			return nil
		}
		select {
		case <-ctx.Done():
			formatter.VerboseLog("watch stopped after %d round(s)", round)
			return nil
		case <-ticker.C:
		}
	}
}
