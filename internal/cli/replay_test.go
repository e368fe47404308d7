package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vaultharness/internal/harness"
	"github.com/roach88/vaultharness/internal/store"
)

var operationScenario = filepath.Join(testScenariosDir, "operation.yaml")

// recordOperation runs the operation scenario into a run log file.
func recordOperation(t *testing.T) string {
	t.Helper()
	root, db := dbRoot(t)
	_, err := execute(t, root, "run", operationScenario, "--db", db)
	require.NoError(t, err)
	return db
}

func TestReplayMissingArgs(t *testing.T) {
	_, err := execute(t, NewReplayCommand(&RootOptions{Format: "text"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 2 arg")
}

func TestReplayNeedsDatabase(t *testing.T) {
	_, err := execute(t, NewReplayCommand(&RootOptions{Format: "text"}), "operation", operationScenario)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "replay needs a run log file")
}

func TestReplayDeterministic(t *testing.T) {
	db := recordOperation(t)

	out, err := execute(t, NewRootCommand(), "replay", "operation", operationScenario, "--db", db)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ operation:")
	assert.Contains(t, out, "steps replayed identically")

	out, err = execute(t, NewRootCommand(), "replay", "operation", operationScenario, "--db", db, "--format", "json")
	require.NoError(t, err)
	var resp struct {
		Data ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Data.Deterministic)
	assert.Equal(t, "operation", resp.Data.Scenario)
	assert.Positive(t, resp.Data.Steps)
	assert.Nil(t, resp.Data.Diff)

	// the replay leaves the recording alone
	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()
	runs, err := st.ListRuns(context.Background())
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestReplayDetectsDivergence(t *testing.T) {
	db := recordOperation(t)

	st, err := store.Open(db)
	require.NoError(t, err)
	_, err = st.DB().Exec(`UPDATE steps SET result = '1' WHERE run_id = ? AND kind = ? AND seq = 1`, "operation", harness.KindCall)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := execute(t, NewRootCommand(), "replay", "operation", operationScenario, "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "replay differs at seq 1")
	assert.Contains(t, out, "recorded:")
	assert.Contains(t, out, "-> ok 1\n")
}

func TestReplayRunNotFound(t *testing.T) {
	db := recordOperation(t)

	_, err := execute(t, NewRootCommand(), "replay", "nope", operationScenario, "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "run not found: nope")
}

func TestReplayScenarioMismatch(t *testing.T) {
	db := recordOperation(t)

	_, err := execute(t, NewRootCommand(), "replay", "operation", filepath.Join(testScenariosDir, "triggers.yaml"), "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `recorded scenario "operation", not "triggers"`)
}

func TestDiffSteps(t *testing.T) {
	recorded := []store.Step{
		{ID: "a", Seq: 1, Phase: "flow", Kind: "invoke", Action: "strategy.harvest", Sender: "strategist", Outcome: "ok"},
		{ID: "b", Seq: 2, Phase: "flow", Kind: "call", Action: "vault.totalAssets", Outcome: "ok", Result: "10"},
	}
	same := []harness.TraceEvent{
		{ID: "a", Seq: 1, Phase: "flow", Kind: "invoke", Action: "strategy.harvest", From: "strategist", Outcome: "ok"},
		{ID: "b", Seq: 2, Phase: "flow", Kind: "call", Action: "vault.totalAssets", Outcome: "ok", Result: "10"},
	}
	assert.Nil(t, diffSteps(recorded, same))

	// same content, different id
	changedID := append([]harness.TraceEvent(nil), same...)
	changedID[1].ID = "c"
	diff := diffSteps(recorded, changedID)
	require.NotNil(t, diff)
	assert.Equal(t, int64(2), diff.Seq)

	// replay stops early
	diff = diffSteps(recorded, same[:1])
	require.NotNil(t, diff)
	assert.Equal(t, int64(2), diff.Seq)
	assert.Empty(t, diff.Replayed)

	assert.Equal(t, "(none)", orNone(""))
}
