package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/vaultharness/internal/harness"
	"github.com/roach88/vaultharness/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Action string // optional - filter to specific action
}

// TraceStep is one recorded step in the timeline.
type TraceStep struct {
	Seq     int64    `json:"seq"`
	ID      string   `json:"id"`
	Phase   string   `json:"phase"`
	Kind    string   `json:"kind"`
	Action  string   `json:"action"`
	From    string   `json:"from,omitempty"`
	Args    []string `json:"args,omitempty"`
	Outcome string   `json:"outcome"`
	Reason  string   `json:"reason,omitempty"`
	Result  string   `json:"result,omitempty"`
}

// TraceSnapshot is one inspector reading of the run.
type TraceSnapshot struct {
	Seq     int64             `json:"seq"`
	Label   string            `json:"label"`
	Metrics map[string]string `json:"metrics"`
}

// TraceResult holds the complete trace output of one run.
type TraceResult struct {
	Run       RunSummary      `json:"run"`
	Timeline  []TraceStep     `json:"timeline"`
	Snapshots []TraceSnapshot `json:"snapshots"`
	Stats     TraceStats      `json:"stats"`
}

// TraceStats holds summary statistics for the run.
type TraceStats struct {
	TotalSteps int `json:"total_steps"`
	Invokes    int `json:"invokes"`
	Calls      int `json:"calls"`
	Reverts    int `json:"reverts"`
	Snapshots  int `json:"snapshots"`
}

// RunSummary is one row of the run list.
type RunSummary struct {
	ID       string `json:"id"`
	Scenario string `json:"scenario"`
	Fixture  string `json:"fixture"`
	Backend  string `json:"backend"`
	Status   string `json:"status"`
	Errors   int    `json:"errors"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace [run-id]",
		Short: "Show recorded runs from the run log",
		Long: `Query the run log.

Without a run id, lists every recorded run with its status. With one,
prints the run's steps in order, its inspector snapshots and a summary.

Examples:
  vaultharness trace --db runs.db
  vaultharness trace operation --db runs.db
  vaultharness trace operation --db runs.db --action strategy.harvest
  vaultharness trace operation --db runs.db --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := ""
			if len(args) == 1 {
				runID = args[0]
			}
			return runTrace(opts, runID, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Action, "action", "", "filter to a specific action, e.g. strategy.harvest")

	return cmd
}

func runTrace(opts *TraceOptions, runID string, cmd *cobra.Command) error {
	cfg, err := opts.settings(cmd)
	if err != nil {
		return err
	}
	if store.IsMemory(cfg.DB) {
		return NewExitError(ExitCommandError, "trace needs a run log file: set --db")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := store.Open(cfg.DB)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open run log", err)
	}
	defer st.Close()

	if runID == "" {
		return listRuns(ctx, opts, st, cmd)
	}

	run, err := st.ReadRun(ctx, runID)
	if errors.Is(err, store.ErrRunNotFound) {
		return opts.formatter(cmd).Fail(ExitCommandError, ErrCodeRunNotFound, fmt.Sprintf("run not found: %s", runID))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}

	steps, err := st.ReadSteps(ctx, runID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read steps", err)
	}
	snaps, err := st.ReadSnapshots(ctx, runID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read snapshots", err)
	}

	result := TraceResult{
		Run:       summarize(run),
		Timeline:  buildTimeline(steps, opts.Action),
		Snapshots: buildSnapshots(snaps),
	}
	result.Stats = buildStats(result.Timeline, len(result.Snapshots))

	if opts.Format == "json" {
		return opts.formatter(cmd).Report(result, "", "")
	}
	return outputTraceText(cmd, result, opts.Verbose)
}

func listRuns(ctx context.Context, opts *TraceOptions, st *store.Store, cmd *cobra.Command) error {
	runs, err := st.ListRuns(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}
	summaries := make([]RunSummary, len(runs))
	for i, r := range runs {
		summaries[i] = summarize(r)
	}

	if opts.Format == "json" {
		return opts.formatter(cmd).Success(summaries)
	}

	w := cmd.OutOrStdout()
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}
	fmt.Fprintf(w, "%-38s %-20s %-10s %-8s %s\n", "RUN", "SCENARIO", "FIXTURE", "BACKEND", "STATUS")
	for _, r := range summaries {
		status := r.Status
		if r.Errors > 0 {
			status = fmt.Sprintf("%s (%d errors)", status, r.Errors)
		}
		fmt.Fprintf(w, "%-38s %-20s %-10s %-8s %s\n", r.ID, r.Scenario, r.Fixture, r.Backend, status)
	}
	return nil
}

func summarize(r store.Run) RunSummary {
	return RunSummary{ID: r.ID, Scenario: r.Scenario, Fixture: r.Fixture, Backend: r.Backend, Status: r.Status, Errors: r.Errors}
}

// buildTimeline converts recorded steps to timeline entries, keeping only
// steps of action when it is set.
func buildTimeline(steps []store.Step, action string) []TraceStep {
	timeline := []TraceStep{}
	for _, s := range steps {
		if action != "" && s.Action != action {
			continue
		}
		timeline = append(timeline, TraceStep{
			Seq: s.Seq, ID: s.ID, Phase: s.Phase, Kind: s.Kind, Action: s.Action,
			From: s.Sender, Args: s.Args, Outcome: s.Outcome, Reason: s.Reason, Result: s.Result,
		})
	}
	return timeline
}

func buildSnapshots(snaps []store.SnapshotRecord) []TraceSnapshot {
	out := make([]TraceSnapshot, len(snaps))
	for i, s := range snaps {
		out[i] = TraceSnapshot{Seq: s.Seq, Label: s.Label, Metrics: s.Metrics}
	}
	return out
}

func buildStats(timeline []TraceStep, snapshots int) TraceStats {
	stats := TraceStats{TotalSteps: len(timeline), Snapshots: snapshots}
	for _, s := range timeline {
		switch s.Kind {
		case harness.KindInvoke:
			stats.Invokes++
		case harness.KindCall:
			stats.Calls++
		}
		if s.Outcome == harness.OutcomeRevert {
			stats.Reverts++
		}
	}
	return stats
}

// outputTraceText outputs the trace result as text. Verbose mode adds step
// ids and every snapshot metric.
func outputTraceText(cmd *cobra.Command, result TraceResult, verbose bool) error {
	w := cmd.OutOrStdout()
	r := result.Run

	fmt.Fprintf(w, "Run: %s\n", r.ID)
	fmt.Fprintf(w, "Scenario: %s (fixture %s, backend %s)\n", r.Scenario, r.Fixture, r.Backend)
	fmt.Fprintf(w, "Status: %s, %d error(s)\n", r.Status, r.Errors)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Timeline:")
	for _, s := range result.Timeline {
		fmt.Fprintf(w, "  %s\n", formatEvent(s.Seq, s.Phase, s.Kind, s.Action, s.From, s.Args, s.Outcome, s.Reason, s.Result))
		if verbose {
			fmt.Fprintf(w, "      id %s\n", s.ID)
		}
	}

	if len(result.Snapshots) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Snapshots:")
		for _, snap := range result.Snapshots {
			fmt.Fprintf(w, "  %3d %s (%d metrics)\n", snap.Seq, snap.Label, len(snap.Metrics))
			if !verbose {
				continue
			}
			names := make([]string, 0, len(snap.Metrics))
			for name := range snap.Metrics {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(w, "      %-24s %s\n", name+":", snap.Metrics[name])
			}
		}
	}

	st := result.Stats
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Stats: %d steps (%d invokes, %d calls, %d reverts), %d snapshots\n",
		st.TotalSteps, st.Invokes, st.Calls, st.Reverts, st.Snapshots)
	return nil
}
