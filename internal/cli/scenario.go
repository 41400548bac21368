package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/till/internal/harness"
	"github.com/roach88/till/internal/logging"
)

// ScenarioOptions holds flags for the scenario run command.
type ScenarioOptions struct {
	*RootOptions
	Update    bool   // regenerate golden files
	Filter    string // scenario filter (glob pattern)
	GoldenDir string
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// SuiteResult holds the overall result of a scenario run.
type SuiteResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewScenarioCommand creates the scenario command group.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Run ledger scenarios against a scratch ledger",
		Long: `Run YAML ledger scenarios against a scratch ledger.

Each scenario gets its own temporary database, a fake clock and an
in-process remote, so runs are deterministic and never touch the
configured ledger.`,
	}
	cmd.AddCommand(
		newScenarioRunCommand(rootOpts),
		newScenarioValidateCommand(rootOpts),
		newScenarioActionsCommand(rootOpts),
	)
	return cmd
}

func newScenarioRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScenarioOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenarios-dir>",
		Short: "Run scenarios and compare them with their golden files",
		Long: `Run scenarios, check their expectations and assertions, and compare
each run with its golden file when one exists.

Golden files live in a "golden" directory next to the scenarios
directory, named <scenario>.golden.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  till scenario run ./testdata/scenarios
  till scenario run ./testdata/scenarios --filter "void_*"
  till scenario run ./testdata/scenarios --update
  till scenario run ./testdata/scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().StringVar(&opts.GoldenDir, "golden", "", "golden file directory (default ../golden)")

	return cmd
}

func runScenarios(opts *ScenarioOptions, dir string, cmd *cobra.Command) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", dir))
	}
	files, err := findScenarioFiles(dir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}
	goldenDir := opts.GoldenDir
	if goldenDir == "" {
		goldenDir = filepath.Join(filepath.Dir(filepath.Clean(dir)), "golden")
	}

	log := zap.NewNop()
	if opts.Verbose {
		if log, err = logging.New("debug", "console"); err != nil {
			return WrapExitError(ExitCommandError, "failed to build logger", err)
		}
	}

	result := SuiteResult{Scenarios: make([]ScenarioResult, 0, len(files)), Total: len(files)}
	for _, file := range files {
		r := runScenario(cmd, opts, file, goldenDir, log)
		result.Scenarios = append(result.Scenarios, r)
		if r.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}
	return outputSuite(cmd, opts.RootOptions, result)
}

// findScenarioFiles finds the YAML scenario files in dir, sorted by name.
func findScenarioFiles(dir, filter string) ([]string, error) {
	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		for _, path := range matches {
			if filter != "" {
				name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
				matched, err := filepath.Match(filter, name)
				if err != nil {
					return nil, fmt.Errorf("invalid filter pattern: %w", err)
				}
				if !matched {
					continue
				}
			}
			files = append(files, path)
		}
	}
	sort.Strings(files)
	return files, nil
}

// runScenario executes a single scenario and returns the result.
func runScenario(cmd *cobra.Command, opts *ScenarioOptions, file, goldenDir string, log *zap.Logger) ScenarioResult {
	res := ScenarioResult{Name: strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))}
	defer func() {
		if opts.Format != "json" {
			reportScenario(cmd.OutOrStdout(), res, opts.Update)
		}
	}()

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		res.Errors = []string{fmt.Sprintf("failed to load scenario: %v", err)}
		return res
	}
	res.Name = scenario.Name

	run, err := harness.RunContext(cmd.Context(), scenario, log.With(zap.String("scenario", scenario.Name)))
	if err != nil {
		res.Errors = []string{fmt.Sprintf("execution failed: %v", err)}
		return res
	}
	res.Errors = run.Errors

	data, err := harness.NewSnapshot(scenario.Name, run).Marshal()
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("failed to build snapshot: %v", err))
		return res
	}
	goldenPath := filepath.Join(goldenDir, scenario.Name+".golden")

	if opts.Update {
		if err := os.MkdirAll(goldenDir, 0o755); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("failed to create golden directory: %v", err))
			return res
		}
		if err := os.WriteFile(goldenPath, data, 0o644); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("failed to update golden file: %v", err))
			return res
		}
	} else if golden, err := os.ReadFile(goldenPath); err == nil {
		if !bytes.Equal(golden, data) {
			res.Errors = append(res.Errors, "run does not match golden file (run with --update to regenerate)")
		}
	} else if !os.IsNotExist(err) {
		res.Errors = append(res.Errors, fmt.Sprintf("failed to read golden file: %v", err))
	}

	res.Pass = run.Pass && len(res.Errors) == 0
	return res
}

func reportScenario(w io.Writer, r ScenarioResult, updated bool) {
	if r.Pass {
		if updated {
			fmt.Fprintf(w, "✓ %s (golden updated)\n", r.Name)
			return
		}
		fmt.Fprintf(w, "✓ %s\n", r.Name)
		return
	}
	fmt.Fprintf(w, "✗ %s\n", r.Name)
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

func outputSuite(cmd *cobra.Command, opts *RootOptions, result SuiteResult) error {
	if opts.Format == "json" {
		response := CLIResponse{Status: "ok", Data: result}
		if result.Failed > 0 {
			response.Status = "error"
			response.Error = &CLIError{
				Code:    "E_SCENARIO_FAILED",
				Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
			}
		}
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		if result.Total == 0 {
			fmt.Fprintln(w, "No scenarios found.")
		} else {
			fmt.Fprintf(w, "\n%d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
		}
	}

	if result.Failed > 0 {
		// Scenario failures = exit code 1, already reported
		return &ExitError{Code: ExitFailure, Err: fmt.Errorf("%d scenario(s) failed", result.Failed)}
	}
	return nil
}

func newScenarioValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "validate <scenarios-dir>",
		Short:         "Check scenario files without running them",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			scenarios, err := harness.LoadDir(args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "invalid scenario", err)
			}
			names := make([]string, 0, len(scenarios))
			for _, s := range scenarios {
				names = append(names, s.Name)
			}
			out := newOutput(cmd, rootOpts)
			return out.Result(map[string]any{"valid": true, "scenarios": names}, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "%d scenario(s) valid\n", len(names))
				return err
			})
		},
	}
}

func newScenarioActionsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "actions",
		Short:         "List the actions a scenario step can invoke",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			actions := harness.Actions()
			out := newOutput(cmd, rootOpts)
			return out.Result(actions, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, strings.Join(actions, "\n"))
				return err
			})
		},
	}
}
