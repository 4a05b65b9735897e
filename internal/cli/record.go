package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/crosstx/internal/txn"
	"github.com/roach88/crosstx/internal/usage"
)

// RecordOptions holds flags for the record command.
type RecordOptions struct {
	*RootOptions
	User             string
	Tokens           int64
	PromptTokens     int64
	CompletionTokens int64
	Model            string
	Conversation     string
}

// NewRecordCommand creates the record command.
func NewRecordCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a usage event",
		Long: `Save one usage record and the user's updated totals in a single
transaction.

Examples:
  crosstx record --user alice --tokens 150 --model small
  crosstx record --user alice --prompt-tokens 100 --completion-tokens 50`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.User, "user", "", "user ID (required)")
	_ = cmd.MarkFlagRequired("user")
	cmd.Flags().Int64Var(&opts.Tokens, "tokens", 0, "billed tokens (defaults to prompt + completion)")
	cmd.Flags().Int64Var(&opts.PromptTokens, "prompt-tokens", 0, "prompt tokens")
	cmd.Flags().Int64Var(&opts.CompletionTokens, "completion-tokens", 0, "completion tokens")
	cmd.Flags().StringVar(&opts.Model, "model", "", "model name")
	cmd.Flags().StringVar(&opts.Conversation, "conversation", "", "conversation ID")

	return cmd
}

func runRecord(opts *RecordOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	if opts.Tokens < 0 || opts.PromptTokens < 0 || opts.CompletionTokens < 0 {
		return fail(formatter, ExitCommandError, ErrCodeGeneric, "token counts must not be negative", nil)
	}

	env, err := OpenEnv(cmd.Context(), opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeOpen, "failed to open crosstx", err)
	}
	defer env.Close()

	tracker := usage.NewTracker(env.Manager, env.Primary)
	stats, err := tracker.Record(cmd.Context(), usage.Event{
		UserID:           opts.User,
		Model:            opts.Model,
		ConversationID:   opts.Conversation,
		PromptTokens:     opts.PromptTokens,
		CompletionTokens: opts.CompletionTokens,
		Tokens:           opts.Tokens,
	})
	if err != nil {
		code := ExitFailure
		if txn.IsValidationError(err) {
			code = ExitCommandError
		}
		return fail(formatter, code, ErrCodeWriteFailed, "failed to record usage", err)
	}

	if formatter.JSON() {
		return formatter.Success(stats)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s: %d tokens over %d requests\n", stats.UserID, stats.TotalTokens, stats.RequestCount)
	return nil
}
