package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/crosstx/internal/txlog"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Limit int
	Ops   bool
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent transactions",
		Long: `List the most recent finished transactions from the log, newest first.

Examples:
  crosstx history
  crosstx history --limit 10 --ops
  crosstx history --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", txlog.DefaultLimit, "maximum number of transactions")
	cmd.Flags().BoolVar(&opts.Ops, "ops", false, "show each transaction's operations")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	env, err := OpenEnv(cmd.Context(), opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeOpen, "failed to open crosstx", err)
	}
	defer env.Close()

	entries, err := env.Manager.History(cmd.Context(), opts.Limit)
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeGeneric, "failed to read history", err)
	}

	if formatter.JSON() {
		return formatter.Success(entries)
	}
	writeHistory(cmd.OutOrStdout(), entries, opts.Ops)
	return nil
}

func writeHistory(w io.Writer, entries []txlog.Entry, withOps bool) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No transactions recorded.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTXN\tSTATE\tOPS\tSEC FAIL\tCMP FAIL\tDURATION\tRECORDED\tERROR")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\t%s\t%s\t%s\n",
			e.Seq, e.TxnID, e.State, e.OperationCount,
			e.SecondaryFailures, e.CompensationFailures,
			e.Duration.Round(time.Microsecond), e.RecordedAt.Format(time.RFC3339), e.ErrorCode)
		if !withOps {
			continue
		}
		for _, op := range e.Operations {
			fmt.Fprintf(tw, "\t  #%d %s/%s\tprimary=%s\tsecondary=%s\tcompensated=%t\t\t\t\t%s\n",
				op.Seq, op.Kind, op.EntityID, op.Primary, op.Secondary, op.Compensated, op.CompensationError)
		}
	}
	tw.Flush()
}
