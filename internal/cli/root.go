package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the crosstx CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "crosstx",
		Short: "crosstx - atomic writes across a primary and a replica store",
		Long: `Operate a crosstx deployment: inspect the transaction log, check the
replica against the primary, redrive failed compensations and run
transaction scenarios.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				f := newFormatter(&RootOptions{Format: "text"}, cmd)
				return fail(f, ExitCommandError, ErrCodeGeneric,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats), nil)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to crosstx.yaml (defaults apply when empty)")

	// Add subcommands
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewRedriveCommand(opts))
	cmd.AddCommand(NewRecordCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}
