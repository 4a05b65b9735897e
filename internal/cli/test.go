package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/crosstx/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	GoldenDir string // compare snapshots against {GoldenDir}/{name}.golden
	Update    bool   // regenerate golden files
	Filter    string // scenario filter (glob pattern)
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenario.yaml|dir>...",
		Short: "Run transaction scenarios",
		Long: `Run YAML transaction scenarios against in-memory stores.

Each scenario runs its transactions in order, injecting the faults it
names, then checks its expectations and assertions. With --golden-dir the
outcome snapshot is also compared against a golden file.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  crosstx test ./scenarios
  crosstx test ./scenarios --filter "usage-*"
  crosstx test ./scenarios --golden-dir ./golden --update
  crosstx test rollback.yaml --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.GoldenDir, "golden-dir", "", "directory of golden snapshots")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files (requires --golden-dir)")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runTests(opts *TestOptions, paths []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	if opts.Update && opts.GoldenDir == "" {
		return fail(formatter, ExitCommandError, ErrCodeGeneric, "--update requires --golden-dir", nil)
	}

	var scenarioFiles []string
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return fail(formatter, ExitCommandError, ErrCodeNotFound, fmt.Sprintf("scenario path not found: %s", p), nil)
		}
		files, err := findScenarioFiles(p, opts.Filter)
		if err != nil {
			return fail(formatter, ExitCommandError, ErrCodeGeneric, "failed to find scenarios", err)
		}
		scenarioFiles = append(scenarioFiles, files...)
	}

	result := TestResult{
		Scenarios: make([]ScenarioResult, 0, len(scenarioFiles)),
		Total:     len(scenarioFiles),
	}
	if len(scenarioFiles) == 0 {
		if formatter.JSON() {
			return formatter.Success(result)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}

	for _, scenarioFile := range scenarioFiles {
		scenResult := runScenario(scenarioFile, opts, cmd)
		result.Scenarios = append(result.Scenarios, scenResult)

		if scenResult.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if formatter.JSON() {
		if result.Failed > 0 {
			_ = formatter.Failure(ErrCodeGeneric, fmt.Sprintf("%d scenario(s) failed", result.Failed), result)
		} else if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

// findScenarioFiles finds all YAML scenario files under path. A file path
// is returned as is, regardless of the filter.
func findScenarioFiles(path string, filter string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			return nil
		}

		// Only process .yaml and .yml files
		ext := filepath.Ext(p)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		// Apply filter if specified
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(p), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		files = append(files, p)
		return nil
	})

	return files, err
}

// runScenario executes a single scenario and returns the result.
func runScenario(scenarioFile string, opts *TestOptions, cmd *cobra.Command) ScenarioResult {
	w := cmd.OutOrStdout()
	text := opts.Format != "json"

	failed := func(name string, errs ...string) ScenarioResult {
		if text {
			fmt.Fprintf(w, "✗ %s\n", name)
			for _, e := range errs {
				fmt.Fprintf(w, "  %s\n", e)
			}
		}
		return ScenarioResult{Name: name, Pass: false, Errors: errs}
	}

	scenario, err := harness.LoadScenario(scenarioFile)
	if err != nil {
		return failed(filepath.Base(scenarioFile), fmt.Sprintf("failed to load scenario: %v", err))
	}

	result, err := harness.Run(cmd.Context(), scenario)
	if err != nil {
		return failed(scenario.Name, fmt.Sprintf("execution failed: %v", err))
	}

	errs := result.Errors
	if opts.GoldenDir != "" {
		if gerr := checkGolden(opts, scenario, result); gerr != nil {
			errs = append(errs, gerr.Error())
		}
	}
	if len(errs) > 0 {
		return failed(scenario.Name, errs...)
	}

	if text {
		suffix := ""
		if opts.Update {
			suffix = " (golden updated)"
		}
		fmt.Fprintf(w, "✓ %s%s\n", scenario.Name, suffix)
	}
	return ScenarioResult{Name: scenario.Name, Pass: true}
}

// checkGolden compares the scenario snapshot with its golden file, or
// rewrites the file in update mode.
func checkGolden(opts *TestOptions, scenario *harness.Scenario, result *harness.Result) error {
	current, err := harness.Snapshot(scenario.Name, result)
	if err != nil {
		return fmt.Errorf("failed to snapshot: %w", err)
	}
	goldenPath := filepath.Join(opts.GoldenDir, scenario.Name+".golden")

	if opts.Update {
		if err := os.MkdirAll(opts.GoldenDir, 0o755); err != nil {
			return fmt.Errorf("failed to create golden directory: %w", err)
		}
		if err := os.WriteFile(goldenPath, current, 0o644); err != nil {
			return fmt.Errorf("failed to write golden file: %w", err)
		}
		return nil
	}

	golden, err := os.ReadFile(goldenPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("golden file missing: %s (run with --update to create)", goldenPath)
	}
	if err != nil {
		return fmt.Errorf("failed to read golden file: %w", err)
	}
	if !bytes.Equal(golden, current) {
		return fmt.Errorf("snapshot does not match %s (run with --update to regenerate)", goldenPath)
	}
	return nil
}
