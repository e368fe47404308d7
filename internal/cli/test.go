package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/vaultharness/internal/harness"
)

// goldenDirName is the directory under the scenarios directory that holds
// golden traces.
const goldenDirName = "golden"

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name    string   `json:"name"`
	File    string   `json:"file"`
	RunID   string   `json:"run_id,omitempty"`
	Pass    bool     `json:"pass"`
	Code    string   `json:"code,omitempty"`
	Errors  []string `json:"errors,omitempty"`
	Golden  string   `json:"golden,omitempty"` // "match", "updated" or "none"
	Aborted bool     `json:"aborted,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Backend   string           `json:"backend"`
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <fixtures-dir> <scenarios-dir>",
		Short: "Run the scenario suite",
		Long: `Run every scenario in a directory against the configured backend.

Each scenario's fixture is looked up by file name in the fixtures
directory. Scenarios that fix a run_id are compared against their golden
trace in <scenarios-dir>/golden; --update rewrites those files instead.
Every run is recorded in the run log (--db).

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, bad configuration, etc.)

Examples:
  vaultharness test ./testdata/fixtures ./testdata/scenarios
  vaultharness test ./fixtures ./scenarios --filter "sweep*"
  vaultharness test ./fixtures ./scenarios --update
  vaultharness test ./fixtures ./scenarios --backend rpc --rpc-url http://127.0.0.1:8545`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runTests(opts *TestOptions, fixturesDir, scenariosDir string, cmd *cobra.Command) error {
	if lerr := checkDir(fixturesDir, "fixtures"); lerr != nil {
		return NewExitError(ExitCommandError, lerr.Message)
	}
	if lerr := checkDir(scenariosDir, "scenarios"); lerr != nil {
		return NewExitError(ExitCommandError, lerr.Message)
	}
	if opts.Filter != "" {
		if _, err := filepath.Match(opts.Filter, ""); err != nil {
			return WrapExitError(ExitCommandError, "invalid filter pattern", err)
		}
	}

	cfg, err := opts.settings(cmd)
	if err != nil {
		return err
	}

	files, loadErrs := LoadScenarios(scenariosDir, opts.Filter, LoadModeCollectAll)

	result := TestResult{
		Backend:   cfg.Backend,
		Scenarios: make([]ScenarioResult, 0, len(files)+len(loadErrs)),
	}

	// Files that do not load are failures, not command errors.
	for _, lerr := range loadErrs {
		sr := ScenarioResult{Pass: false, Code: ErrCodeInvalidScenario, Errors: []string{lerr.Error()}}
		var le *LoadError
		if errors.As(lerr, &le) {
			sr.File, sr.Code, sr.Errors = le.Path, le.Code, []string{le.Message}
			sr.Name = filepath.Base(le.Path)
		}
		result.add(sr)
		if opts.Format != "json" {
			fmt.Fprintf(cmd.OutOrStdout(), "✗ %s\n  %s\n", sr.Name, sr.Errors[0])
		}
	}

	if len(files) == 0 && len(loadErrs) == 0 {
		if opts.Format == "json" {
			return outputTestJSON(opts.formatter(cmd), result)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}

	logger := opts.logger(cmd.ErrOrStderr())
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	sess, err := openSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sess.close()

	runOpts, err := sess.runOptions(fixturesDir)
	if err != nil {
		return err
	}

	for _, sf := range files {
		sr := runScenario(ctx, sess, sf, scenariosDir, runOpts, opts)
		result.add(sr)
		if opts.Format != "json" {
			printScenarioResult(cmd, sr)
		}
		if ctx.Err() != nil {
			return WrapExitError(ExitCommandError, "interrupted", ctx.Err())
		}
	}

	if opts.Format == "json" {
		return outputTestJSON(opts.formatter(cmd), result)
	}
	return outputTestText(cmd, result)
}

func (r *TestResult) add(sr ScenarioResult) {
	r.Scenarios = append(r.Scenarios, sr)
	r.Total++
	if sr.Pass {
		r.Passed++
	} else {
		r.Failed++
	}
}

// runScenario executes one scenario and checks its golden trace.
func runScenario(ctx context.Context, sess *session, sf ScenarioFile, scenariosDir string, runOpts []harness.Option, opts *TestOptions) ScenarioResult {
	scenario := sf.Scenario
	sr := ScenarioResult{Name: scenario.Name, File: sf.Path, Golden: "none"}

	if err := sess.forget(ctx, scenario); err != nil {
		sr.Code = ErrCodeGeneric
		sr.Errors = []string{fmt.Sprintf("failed to clear previous run: %v", err)}
		return sr
	}

	result, err := harness.Run(ctx, sess.backend, scenario, runOpts...)
	if result != nil {
		sr.RunID = result.RunID
	}
	if err != nil {
		sr.Code = ErrCodeScenarioAborted
		sr.Aborted = true
		sr.Errors = []string{err.Error()}
		return sr
	}
	if !result.Pass {
		sr.Code = ErrCodeScenarioFailed
		sr.Errors = result.Errors
		return sr
	}

	if scenario.RunID == "" {
		// Step ids derive from the run id, so only fixed ids compare.
		sess.logger.Debug("no golden comparison without a fixed run_id", "scenario", scenario.Name)
		sr.Pass = true
		return sr
	}

	goldenPath := goldenFilePath(scenariosDir, scenario.Name)
	data, err := harness.TraceJSON(scenario.Name, result.RunID, result.Trace)
	if err != nil {
		sr.Code = ErrCodeGeneric
		sr.Errors = []string{fmt.Sprintf("failed to render trace: %v", err)}
		return sr
	}

	if opts.Update {
		if err := writeGoldenFile(goldenPath, data); err != nil {
			sr.Code = ErrCodeWriteFailed
			sr.Errors = []string{err.Error()}
			return sr
		}
		sr.Golden = "updated"
		sr.Pass = true
		return sr
	}

	want, err := os.ReadFile(goldenPath)
	if errors.Is(err, fs.ErrNotExist) {
		// No golden file - assertions alone decide
		sr.Pass = true
		return sr
	}
	if err != nil {
		sr.Code = ErrCodeGeneric
		sr.Errors = []string{fmt.Sprintf("failed to read golden file: %v", err)}
		return sr
	}
	if !bytes.Equal(want, data) {
		sr.Code = ErrCodeGoldenMismatch
		sr.Golden = "mismatch"
		sr.Errors = []string{"trace does not match golden file (run with --update to regenerate)"}
		return sr
	}

	sr.Golden = "match"
	sr.Pass = true
	return sr
}

// goldenFilePath returns the golden trace file of a scenario.
func goldenFilePath(scenariosDir, name string) string {
	return filepath.Join(scenariosDir, goldenDirName, name+".golden")
}

func writeGoldenFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

func printScenarioResult(cmd *cobra.Command, sr ScenarioResult) {
	w := cmd.OutOrStdout()
	if sr.Pass {
		switch sr.Golden {
		case "updated":
			fmt.Fprintf(w, "✓ %s (golden updated)\n", sr.Name)
		default:
			fmt.Fprintf(w, "✓ %s\n", sr.Name)
		}
		return
	}
	fmt.Fprintf(w, "✗ %s\n", sr.Name)
	for _, e := range sr.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

// outputTestJSON outputs the test result as JSON.
func outputTestJSON(f *OutputFormatter, result TestResult) error {
	if result.Failed == 0 {
		return f.Report(result, "", "")
	}
	message := fmt.Sprintf("%d scenario(s) failed", result.Failed)
	if err := f.Report(result, ErrCodeScenarioFailed, message); err != nil {
		return err
	}
	return NewExitError(ExitFailure, message)
}

// outputTestText outputs the test summary as text.
func outputTestText(cmd *cobra.Command, result TestResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total (backend %s)\n", result.Passed, result.Failed, result.Total, result.Backend)

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}

	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}
