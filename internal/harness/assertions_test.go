package harness

import (
	"context"
	"testing"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vaultharness/internal/store"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Seq: 1, Phase: PhaseSetup, Kind: KindInvoke, Action: "want.approve", From: "user", Args: []string{"vault", "10000000000000000000"}, Outcome: OutcomeOK},
		{Seq: 2, Phase: PhaseFlow, Kind: KindInvoke, Action: "vault.deposit", From: "user", Args: []string{"10000000000000000000"}, Outcome: OutcomeOK},
		{Seq: 3, Phase: PhaseFlow, Kind: KindInvoke, Action: "strategy.harvest", From: "strategist", Outcome: OutcomeOK},
		{Seq: 4, Phase: PhaseFlow, Kind: KindInvoke, Action: "strategy.sweep", From: "user", Args: []string{"rook"}, Outcome: OutcomeRevert, Reason: "!authorized"},
		{Seq: 5, Phase: PhaseFlow, Kind: KindInvoke, Action: "strategy.harvest", From: "gov", Outcome: OutcomeOK},
	}
}

func TestAssertTraceContains(t *testing.T) {
	ev := newTestEvaluator(t)
	actx := &AssertionContext{Ctx: context.Background(), Eval: ev}
	trace := sampleTrace()

	tests := []struct {
		name      string
		assertion Assertion
		wantErr   bool
	}{
		{"action only", Assertion{Type: AssertTraceContains, Action: "vault.deposit"}, false},
		{"action and sender", Assertion{Type: AssertTraceContains, Action: "strategy.harvest", From: "gov"}, false},
		{"wrong sender", Assertion{Type: AssertTraceContains, Action: "vault.deposit", From: "gov"}, true},
		{"args by expression", Assertion{Type: AssertTraceContains, Action: "vault.deposit", Args: []string{"amount"}}, false},
		{"args as prefix", Assertion{Type: AssertTraceContains, Action: "want.approve", Args: []string{"vault"}}, false},
		{"wrong args", Assertion{Type: AssertTraceContains, Action: "vault.deposit", Args: []string{"amount / 2"}}, true},
		{"too many args", Assertion{Type: AssertTraceContains, Action: "vault.deposit", Args: []string{"amount", "1"}}, true},
		{"revert reason", Assertion{Type: AssertTraceContains, Action: "strategy.sweep", Reason: "!authorized"}, false},
		{"reason on success", Assertion{Type: AssertTraceContains, Action: "strategy.harvest", Reason: "!authorized"}, true},
		{"missing action", Assertion{Type: AssertTraceContains, Action: "vault.withdraw"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertTraceContains(trace, tt.assertion, actx)
			if tt.wantErr {
				require.Error(t, err)
				var ae *AssertionError
				require.ErrorAs(t, err, &ae)
				assert.Equal(t, AssertTraceContains, ae.Type)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAssertTraceContains_ArgsNeedEvaluator(t *testing.T) {
	err := assertTraceContains(sampleTrace(), Assertion{Type: AssertTraceContains, Action: "vault.deposit", Args: []string{"amount"}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "require an evaluator")
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleTrace()

	err := assertTraceOrder(trace, Assertion{Actions: []string{"want.approve", "vault.deposit", "strategy.sweep"}})
	assert.NoError(t, err)

	err = assertTraceOrder(trace, Assertion{Actions: []string{"vault.deposit", "want.approve"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "should be before")

	err = assertTraceOrder(trace, Assertion{Actions: []string{"vault.deposit", "vault.withdraw"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing action: vault.withdraw")

	// first occurrences decide: harvest at 3 precedes sweep at 4
	err = assertTraceOrder(trace, Assertion{Actions: []string{"strategy.sweep", "strategy.harvest"}})
	require.Error(t, err)
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceCount(trace, Assertion{Action: "strategy.harvest", Count: 2}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Action: "vault.withdraw", Count: 0}))

	err := assertTraceCount(trace, Assertion{Action: "strategy.harvest", Count: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 occurrences")
}

func TestAssertValue(t *testing.T) {
	ev := newTestEvaluator(t)
	actx := &AssertionContext{
		Ctx:       context.Background(),
		Eval:      ev,
		Tolerance: math.LegacyMustNewDecFromStr("0.01"),
	}

	tests := []struct {
		name      string
		assertion Assertion
		wantErr   bool
	}{
		{"equal", Assertion{Type: AssertEqual, Actual: "amount", Expected: "units(10)"}, false},
		{"not equal", Assertion{Type: AssertEqual, Actual: "amount", Expected: "units(9)"}, true},
		{"approx within default", Assertion{Type: AssertApprox, Actual: "amount", Expected: "amount + amount / 200"}, false},
		{"approx outside default", Assertion{Type: AssertApprox, Actual: "amount", Expected: "amount * 2"}, true},
		{"approx own tolerance", Assertion{Type: AssertApprox, Actual: "amount", Expected: "amount * 2", Tolerance: "0.5"}, false},
		{"greater", Assertion{Type: AssertGreater, Actual: "amount", Expected: "0"}, false},
		{"not greater", Assertion{Type: AssertGreater, Actual: "amount", Expected: "amount"}, true},
		{"less", Assertion{Type: AssertLess, Actual: "1", Expected: "amount"}, false},
		{"addresses", Assertion{Type: AssertEqual, Actual: "gov", Expected: "owner"}, false},
		{"approx needs integers", Assertion{Type: AssertApprox, Actual: "user", Expected: "gov"}, true},
		{"bad expression", Assertion{Type: AssertEqual, Actual: "missing", Expected: "1"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertValue(actx, tt.assertion)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEvaluateAssertions_CollectsFailures(t *testing.T) {
	result := NewResult("run-1")
	result.Trace = sampleTrace()

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceCount, Action: "strategy.harvest", Count: 2},
		{Type: AssertTraceContains, Action: "vault.withdraw"},
		{Type: AssertEqual, Actual: "1", Expected: "1"},
		{Type: AssertFinalState, Table: "steps", Expect: map[string]any{"seq": 1}},
	}, &AssertionContext{Ctx: context.Background()})

	require.Len(t, errs, 3)
	assert.Contains(t, errs[0], "vault.withdraw")
	assert.Contains(t, errs[1], "requires an evaluator")
	assert.Contains(t, errs[2], "final_state requires database context")
}

func seedRunLog(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	for _, id := range []string{"run-a", "run-b"} {
		require.NoError(t, st.WriteRun(ctx, store.Run{ID: id, Scenario: "sweep", Fixture: "inverse", Backend: "sim"}))
		require.NoError(t, st.WriteStep(ctx, store.Step{
			ID: id + "-1", RunID: id, Seq: 1, Phase: PhaseFlow, Kind: KindInvoke,
			Action: "strategy.sweep", Sender: "user", Args: []string{"rook"},
			Outcome: OutcomeRevert, Reason: "!authorized",
		}))
		require.NoError(t, st.WriteStep(ctx, store.Step{
			ID: id + "-2", RunID: id, Seq: 2, Phase: PhaseFlow, Kind: KindInvoke,
			Action: "strategy.sweep", Sender: "gov", Args: []string{"rook"},
			Outcome: OutcomeOK,
		}))
	}
	require.NoError(t, st.FinishRun(ctx, "run-a", store.StatusPass, 0))
	return st
}

func TestAssertFinalState(t *testing.T) {
	st := seedRunLog(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		runID     string
		assertion Assertion
		wantErr   string
	}{
		{
			name:  "scoped to run",
			runID: "run-a",
			assertion: Assertion{
				Table:  "steps",
				Where:  map[string]any{"seq": 1},
				Expect: map[string]any{"outcome": "revert", "reason": "!authorized", "sender": "user"},
			},
		},
		{
			name:  "float from YAML",
			runID: "run-a",
			assertion: Assertion{
				Table:  "steps",
				Where:  map[string]any{"seq": float64(2)},
				Expect: map[string]any{"outcome": "ok", "seq": 2},
			},
		},
		{
			name:  "runs row",
			runID: "run-a",
			assertion: Assertion{
				Table:  "runs",
				Expect: map[string]any{"status": "pass", "errors": 0},
			},
		},
		{
			name: "unscoped is ambiguous",
			assertion: Assertion{
				Table:  "steps",
				Where:  map[string]any{"seq": 1},
				Expect: map[string]any{"outcome": "revert"},
			},
			wantErr: "multiple rows matched",
		},
		{
			name:  "explicit run id wins",
			runID: "run-a",
			assertion: Assertion{
				Table:  "runs",
				Where:  map[string]any{"id": "run-b"},
				Expect: map[string]any{"status": "running"},
			},
		},
		{
			name:  "no row",
			runID: "run-a",
			assertion: Assertion{
				Table:  "steps",
				Where:  map[string]any{"seq": 9},
				Expect: map[string]any{"outcome": "ok"},
			},
			wantErr: "row not found",
		},
		{
			name:  "wrong value",
			runID: "run-a",
			assertion: Assertion{
				Table:  "steps",
				Where:  map[string]any{"seq": 2},
				Expect: map[string]any{"sender": "user"},
			},
			wantErr: `field "sender" = gov`,
		},
		{
			name:  "unknown column",
			runID: "run-a",
			assertion: Assertion{
				Table:  "steps",
				Where:  map[string]any{"seq": 2},
				Expect: map[string]any{"gas": 1},
			},
			wantErr: `field "gas" not present`,
		},
		{
			name:  "injected table",
			runID: "run-a",
			assertion: Assertion{
				Table:  "steps; DROP TABLE runs",
				Expect: map[string]any{"seq": 1},
			},
			wantErr: "invalid table name",
		},
		{
			name:  "injected column",
			runID: "run-a",
			assertion: Assertion{
				Table:  "steps",
				Where:  map[string]any{"seq = 1 OR 1": 1},
				Expect: map[string]any{"seq": 1},
			},
			wantErr: "invalid column name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertFinalState(ctx, st, tt.runID, tt.assertion)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	// the runs table survives the injection attempt
	runs, err := st.ListRuns(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestBuildWhereClause(t *testing.T) {
	sql, args, err := buildWhereClause(map[string]any{"seq": float64(3), "action": "vault.deposit", "run_id": "r"})
	require.NoError(t, err)
	assert.Equal(t, "action = ? AND run_id = ? AND seq = ?", sql)
	assert.Equal(t, []any{"vault.deposit", "r", int64(3)}, args)

	sql, args, err = buildWhereClause(nil)
	require.NoError(t, err)
	assert.Empty(t, sql)
	assert.Nil(t, args)
}

func TestStateValuesEqual(t *testing.T) {
	assert.True(t, stateValuesEqual("ok", []byte("ok")))
	assert.True(t, stateValuesEqual(7, int64(7)))
	assert.True(t, stateValuesEqual("7", int64(7)))
	assert.True(t, stateValuesEqual(true, int64(1)))
	assert.False(t, stateValuesEqual(false, int64(1)))
	assert.False(t, stateValuesEqual(7, "7"))
	assert.True(t, stateValuesEqual(nil, nil))
	assert.False(t, stateValuesEqual("x", nil))
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertTraceContains,
		Expected: "action vault.withdraw",
		Actual:   "not found in trace",
		Trace:    sampleTrace()[3:4],
	}
	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: trace_contains")
	assert.Contains(t, msg, `[4] strategy.sweep from user [rook] reverted "!authorized"`)
}
