package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/crosstx/internal/txlog"
)

// RedriveResult is the outcome of one redrive.
type RedriveResult struct {
	TxnID     string   `json:"txn_id"`
	Pending   int      `json:"pending"`
	Succeeded int      `json:"succeeded"`
	Errors    []string `json:"errors,omitempty"`
}

// NewRedriveCommand creates the redrive command.
func NewRedriveCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "redrive <txn-id>",
		Short: "Retry failed compensations of a failed transaction",
		Long: `Re-run every compensation that failed during a transaction's rollback,
newest first. The log entry is left untouched; run it again until it
reports no errors.

Exit codes:
  0 - Every pending compensation succeeded (or none were pending)
  1 - At least one compensation failed again
  2 - Command error (unknown transaction, transaction not failed)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRedrive(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runRedrive(opts *RootOptions, txnID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	ctx := cmd.Context()

	env, err := OpenEnv(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeOpen, "failed to open crosstx", err)
	}
	defer env.Close()

	entry, err := env.Log.Get(ctx, txnID)
	if errors.Is(err, txlog.ErrNotFound) {
		return fail(formatter, ExitCommandError, ErrCodeNotFound, fmt.Sprintf("transaction %s not found", txnID), nil)
	}
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeGeneric, "failed to read transaction", err)
	}
	if entry.State != txlog.StateFailed {
		return fail(formatter, ExitCommandError, ErrCodeGeneric,
			fmt.Sprintf("transaction %s is %s; only failed transactions can be redriven", txnID, entry.State), nil)
	}

	result := RedriveResult{TxnID: txnID, Pending: len(entry.FailedCompensations())}
	formatter.VerboseLog("redriving %d compensation(s) for %s", result.Pending, txnID)

	result.Succeeded, err = env.Manager.Redrive(ctx, txnID)
	if err != nil {
		for _, e := range unjoin(err) {
			result.Errors = append(result.Errors, e.Error())
		}
		msg := fmt.Sprintf("%d of %d compensation(s) still failing", result.Pending-result.Succeeded, result.Pending)
		if formatter.JSON() {
			_ = formatter.Failure(ErrCodeRedrive, msg, result)
		} else {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "✗ %s: %s\n", txnID, msg)
			for _, e := range result.Errors {
				fmt.Fprintf(w, "  %s\n", e)
			}
		}
		return WrapExitError(ExitFailure, msg, err)
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	if result.Pending == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "✓ %s: no failed compensations to redrive\n", txnID)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s: %d compensation(s) redriven\n", txnID, result.Succeeded)
	return nil
}

// unjoin splits an errors.Join result back into its parts.
func unjoin(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}
