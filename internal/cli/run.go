package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/vaultharness/internal/harness"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Fixtures string // fixtures directory, default next to the scenario
	RunID    string // override the scenario's run id
}

// RunOutput is the JSON payload of the run command.
type RunOutput struct {
	Scenario string          `json:"scenario"`
	Backend  string          `json:"backend"`
	Result   *harness.Result `json:"result"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario-file>",
		Short: "Run a single scenario and print its trace",
		Long: `Run one scenario against the configured backend.

Prints every inspect step as it happens, then the trace and any failed
expectations. The run is recorded in the run log (--db).

Example:
  vaultharness run ./testdata/scenarios/airdrop_want.yaml
  vaultharness run ./scenarios/sweep.yaml --fixtures ./fixtures --db runs.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioFile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Fixtures, "fixtures", "", "fixtures directory (default: relative to the scenario file)")
	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "run id to record under, overriding the scenario's")

	return cmd
}

func runScenarioFile(opts *RunOptions, path string, cmd *cobra.Command) error {
	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}
	if opts.RunID != "" {
		scenario.RunID = opts.RunID
	}

	cfg, err := opts.settings(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := opts.logger(cmd.ErrOrStderr())

	sess, err := openSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sess.close()

	runOpts, err := sess.runOptions(opts.Fixtures)
	if err != nil {
		return err
	}
	if opts.Format != "json" {
		runOpts = append(runOpts, harness.WithInspectOutput(cmd.OutOrStdout()))
	}

	if err := sess.forget(ctx, scenario); err != nil {
		return WrapExitError(ExitCommandError, "failed to clear previous run", err)
	}

	result, runErr := harness.Run(ctx, sess.backend, scenario, runOpts...)
	if result == nil {
		return WrapExitError(ExitCommandError, "scenario could not run", runErr)
	}

	if opts.Format == "json" {
		f := opts.formatter(cmd)
		if err := f.Success(RunOutput{Scenario: scenario.Name, Backend: cfg.Backend, Result: result}); err != nil {
			return err
		}
	} else {
		printTrace(cmd.OutOrStdout(), result.Trace)
		fmt.Fprintln(cmd.OutOrStdout())
		if result.Pass {
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s (run %s)\n", scenario.Name, result.RunID)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "✗ %s (run %s)\n", scenario.Name, result.RunID)
			for _, e := range result.Errors {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", e)
			}
		}
	}

	if runErr != nil {
		return WrapExitError(ExitFailure, "scenario aborted", runErr)
	}
	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", scenario.Name))
	}
	return nil
}

// printTrace writes one line per trace event.
func printTrace(w io.Writer, trace []harness.TraceEvent) {
	for _, ev := range trace {
		fmt.Fprintln(w, formatEvent(ev.Seq, ev.Phase, ev.Kind, ev.Action, ev.From, ev.Args, ev.Outcome, ev.Reason, ev.Result))
	}
}

// formatEvent renders a step as "seq phase action(args) from -> outcome".
func formatEvent(seq int64, phase, kind, action, from string, args []string, outcome, reason, result string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%3d %-5s %-7s %s(%s)", seq, phase, kind, action, strings.Join(args, ", "))
	if from != "" {
		fmt.Fprintf(&b, " from %s", from)
	}
	fmt.Fprintf(&b, " -> %s", outcome)
	switch {
	case reason != "":
		fmt.Fprintf(&b, " %q", reason)
	case result != "":
		fmt.Fprintf(&b, " %s", result)
	}
	return b.String()
}
