package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/crosstx/internal/reconcile"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	Missing   bool
	ScanLimit int
}

// MissingRecord is a primary record absent from the secondary.
type MissingRecord struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// ValidateResult is the JSON payload of the validate command.
type ValidateResult struct {
	*reconcile.Report
	Missing []MissingRecord `json:"missing,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Compare record counts between primary and secondary",
		Long: `Count every entity kind in the primary and secondary stores and report
the differences. With --missing, list the primary records of each drifted
kind that the secondary does not hold.

Exit codes:
  0 - Stores agree, or no secondary is configured
  1 - Stores disagree
  2 - Command error (bad config, store unreachable)`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Missing, "missing", false, "list primary records absent from the secondary")
	cmd.Flags().IntVar(&opts.ScanLimit, "scan-limit", 1000, "maximum primary records scanned per drifted kind")

	return cmd
}

func runValidate(rootOpts *RootOptions, opts *ValidateOptions, cmd *cobra.Command) error {
	formatter := newFormatter(rootOpts, cmd)

	env, err := OpenEnv(cmd.Context(), rootOpts, cmd.ErrOrStderr())
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeOpen, "failed to open crosstx", err)
	}
	defer env.Close()

	report, err := env.Manager.ValidateConsistency(cmd.Context())
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeGeneric, "failed to validate consistency", err)
	}

	result := ValidateResult{Report: report}
	if opts.Missing && !report.Consistent() {
		result.Missing, err = findMissing(cmd.Context(), env, report, opts.ScanLimit)
		if err != nil {
			return fail(formatter, ExitCommandError, ErrCodeGeneric, "failed to list missing records", err)
		}
		formatter.VerboseLog("scanned drifted kinds, %d records missing from secondary", len(result.Missing))
	}

	if !report.Consistent() {
		msg := fmt.Sprintf("%d inconsistencies between primary and secondary", report.TotalInconsistencies)
		if formatter.JSON() {
			_ = formatter.Failure(ErrCodeInconsistent, msg, result)
		} else {
			writeReport(cmd.OutOrStdout(), report)
			writeMissing(cmd.OutOrStdout(), result.Missing)
		}
		return NewExitError(ExitFailure, msg)
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	writeReport(cmd.OutOrStdout(), report)
	return nil
}

// findMissing walks up to limit primary records of each drifted kind and
// keeps those the secondary has no copy of.
func findMissing(ctx context.Context, env *Env, report *reconcile.Report, limit int) ([]MissingRecord, error) {
	if env.Replica == nil || !env.Replica.Enabled() {
		return nil, nil
	}
	var missing []MissingRecord
	for _, kc := range report.Kinds {
		if kc.Delta == 0 {
			continue
		}
		rows, err := env.Primary.List(ctx, kc.Kind, limit)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			_, found, err := env.Replica.Get(ctx, row.Kind, row.ID)
			if err != nil {
				return nil, fmt.Errorf("read %s/%s from secondary: %w", row.Kind, row.ID, err)
			}
			if !found {
				missing = append(missing, MissingRecord{Kind: string(row.Kind), ID: row.ID})
			}
		}
	}
	return missing, nil
}

func writeMissing(w io.Writer, missing []MissingRecord) {
	for _, m := range missing {
		fmt.Fprintf(w, "  missing from secondary: %s/%s\n", m.Kind, m.ID)
	}
}

func writeReport(w io.Writer, r *reconcile.Report) {
	if !r.SecondaryEnabled {
		fmt.Fprintln(w, "Secondary store disabled; nothing to compare.")
		return
	}
	for _, kc := range r.Kinds {
		mark := "✓"
		if kc.Delta != 0 {
			mark = "✗"
		}
		fmt.Fprintf(w, "%s %-14s primary=%d secondary=%d delta=%+d\n", mark, kc.Kind, kc.Primary, kc.Secondary, kc.Delta)
	}
	fmt.Fprintf(w, "Total inconsistencies: %d\n", r.TotalInconsistencies)
}
