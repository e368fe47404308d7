package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/vaultharness/internal/harness"
	"github.com/roach88/vaultharness/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Fixtures string
}

// StepDiff describes the first step where a replay differs.
type StepDiff struct {
	Seq      int64  `json:"seq"`
	Recorded string `json:"recorded,omitempty"`
	Replayed string `json:"replayed,omitempty"`
}

// ReplayResult holds the outcome of a replay.
type ReplayResult struct {
	RunID         string    `json:"run_id"`
	Scenario      string    `json:"scenario"`
	Steps         int       `json:"steps"`
	Deterministic bool      `json:"deterministic"`
	Diff          *StepDiff `json:"diff,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <run-id> <scenario-file>",
		Short: "Re-run a recorded scenario and verify determinism",
		Long: `Run a scenario again under a recorded run id and compare the new
trace with the steps recorded in the run log.

The replay does not write to the run log. Step ids derive from the run id
and the step content, so a deterministic scenario reproduces them exactly.

Exit codes:
  0 - The replay matches the recording
  1 - The traces differ
  2 - Command error (run not found, scenario mismatch, etc.)

Examples:
  vaultharness replay operation ./testdata/scenarios/operation.yaml --db runs.db
  vaultharness replay 0192f0c4-... ./scenarios/sweep.yaml --db runs.db --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Fixtures, "fixtures", "", "fixtures directory (default: relative to the scenario file)")

	return cmd
}

func runReplay(opts *ReplayOptions, runID, scenarioPath string, cmd *cobra.Command) error {
	cfg, err := opts.settings(cmd)
	if err != nil {
		return err
	}
	if store.IsMemory(cfg.DB) {
		return NewExitError(ExitCommandError, "replay needs a run log file: set --db")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	recorded, err := readRecordedRun(ctx, cfg.DB, runID)
	if errors.Is(err, store.ErrRunNotFound) {
		return opts.formatter(cmd).Fail(ExitCommandError, ErrCodeRunNotFound, fmt.Sprintf("run not found: %s", runID))
	}
	if err != nil {
		return err
	}

	scenario, err := harness.LoadScenario(scenarioPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}
	if scenario.Name != recorded.run.Scenario {
		return NewExitError(ExitCommandError,
			fmt.Sprintf("run %s recorded scenario %q, not %q", runID, recorded.run.Scenario, scenario.Name))
	}
	scenario.RunID = runID

	// The replay records into a scratch log so final_state assertions
	// still have one.
	replayCfg := *cfg
	replayCfg.DB = store.MemoryPath
	sess, err := openSession(ctx, &replayCfg, opts.logger(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer sess.close()

	runOpts, err := sess.runOptions(opts.Fixtures)
	if err != nil {
		return err
	}

	result, runErr := harness.Run(ctx, sess.backend, scenario, runOpts...)
	if result == nil {
		return WrapExitError(ExitCommandError, "scenario could not run", runErr)
	}

	out := ReplayResult{
		RunID:    runID,
		Scenario: scenario.Name,
		Steps:    len(recorded.steps),
		Diff:     diffSteps(recorded.steps, result.Trace),
	}
	out.Deterministic = out.Diff == nil

	f := opts.formatter(cmd)
	if opts.Format == "json" {
		code := ""
		if !out.Deterministic {
			code = ErrCodeNonDeterministic
		}
		if err := f.Report(out, code, fmt.Sprintf("replay of %s is not deterministic", runID)); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		if out.Deterministic {
			fmt.Fprintf(w, "✓ %s: %d steps replayed identically\n", runID, out.Steps)
		} else {
			fmt.Fprintf(w, "✗ %s: replay differs at seq %d\n", runID, out.Diff.Seq)
			fmt.Fprintf(w, "  recorded: %s\n", orNone(out.Diff.Recorded))
			fmt.Fprintf(w, "  replayed: %s\n", orNone(out.Diff.Replayed))
		}
	}

	if !out.Deterministic {
		return NewExitError(ExitFailure, fmt.Sprintf("replay of %s is not deterministic", runID))
	}
	return nil
}

type recordedRun struct {
	run   store.Run
	steps []store.Step
}

func readRecordedRun(ctx context.Context, path, runID string) (*recordedRun, error) {
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open run log", err)
	}
	defer st.Close()

	run, err := st.ReadRun(ctx, runID)
	if errors.Is(err, store.ErrRunNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read run", err)
	}
	steps, err := st.ReadSteps(ctx, runID)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read steps", err)
	}
	return &recordedRun{run: run, steps: steps}, nil
}

// diffSteps returns the first step where the traces differ, or nil.
func diffSteps(recorded []store.Step, replayed []harness.TraceEvent) *StepDiff {
	n := max(len(recorded), len(replayed))
	for i := range n {
		var rec, rep string
		var seq int64
		if i < len(recorded) {
			s := recorded[i]
			seq = s.Seq
			rec = formatEvent(s.Seq, s.Phase, s.Kind, s.Action, s.Sender, s.Args, s.Outcome, s.Reason, s.Result)
		}
		if i < len(replayed) {
			ev := replayed[i]
			seq = ev.Seq
			rep = formatEvent(ev.Seq, ev.Phase, ev.Kind, ev.Action, ev.From, ev.Args, ev.Outcome, ev.Reason, ev.Result)
		}
		if rec != rep || !sameStepID(recorded, replayed, i) {
			return &StepDiff{Seq: seq, Recorded: rec, Replayed: rep}
		}
	}
	return nil
}

func sameStepID(recorded []store.Step, replayed []harness.TraceEvent, i int) bool {
	return i < len(recorded) && i < len(replayed) && recorded[i].ID == replayed[i].ID
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
