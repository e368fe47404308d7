package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testResponse struct {
	Status string     `json:"status"`
	Data   TestResult `json:"data"`
	Error  *CLIError  `json:"error"`
}

func decodeTestJSON(t *testing.T, out string) testResponse {
	t.Helper()
	var resp testResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp
}

func TestTestCommandMissingArgs(t *testing.T) {
	cmd := NewTestCommand(&RootOptions{Format: "text"})
	_, err := execute(t, cmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 2 arg")
}

func TestTestCommandNonExistentFixturesDir(t *testing.T) {
	cmd := NewTestCommand(&RootOptions{Format: "text"})
	_, err := execute(t, cmd, "/nonexistent/fixtures", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "fixtures directory not found")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	cmd := NewTestCommand(&RootOptions{Format: "text"})
	_, err := execute(t, cmd, testFixturesDir, "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommandInvalidFilter(t *testing.T) {
	cmd := NewTestCommand(&RootOptions{Format: "text"})
	_, err := execute(t, cmd, testFixturesDir, t.TempDir(), "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandEmptyScenariosDir(t *testing.T) {
	cmd := NewTestCommand(&RootOptions{Format: "text"})
	out, err := execute(t, cmd, testFixturesDir, t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found")
}

func TestTestCommandEmptyScenariosDirJSON(t *testing.T) {
	cmd := NewTestCommand(&RootOptions{Format: "json"})
	out, err := execute(t, cmd, testFixturesDir, t.TempDir())
	require.NoError(t, err)

	resp := decodeTestJSON(t, out)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 0, resp.Data.Total)
	assert.Empty(t, resp.Data.Scenarios)
}

func TestTestCommandSuite(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join(testScenariosDir, "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	cmd := NewTestCommand(&RootOptions{Format: "json"})
	out, err := execute(t, cmd, testFixturesDir, testScenariosDir)
	require.NoError(t, err, out)

	resp := decodeTestJSON(t, out)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "sim", resp.Data.Backend)
	assert.Equal(t, len(paths), resp.Data.Total)
	assert.Equal(t, len(paths), resp.Data.Passed)
	for _, sr := range resp.Data.Scenarios {
		assert.True(t, sr.Pass, "%s: %v", sr.Name, sr.Errors)
		assert.NotEmpty(t, sr.RunID, sr.Name)
	}
}

func TestTestCommandCommittedGoldens(t *testing.T) {
	goldens, err := filepath.Glob(filepath.Join(testScenariosDir, goldenDirName, "*.golden"))
	require.NoError(t, err)
	require.NotEmpty(t, goldens)

	out, err := execute(t, NewTestCommand(&RootOptions{Format: "json"}), testFixturesDir, testScenariosDir)
	require.NoError(t, err, out)
	resp := decodeTestJSON(t, out)

	byName := make(map[string]ScenarioResult, len(resp.Data.Scenarios))
	for _, sr := range resp.Data.Scenarios {
		byName[sr.Name] = sr
	}
	for _, path := range goldens {
		name := strings.TrimSuffix(filepath.Base(path), ".golden")
		sr, ok := byName[name]
		require.True(t, ok, "golden %s has no scenario", name)
		assert.Equal(t, "match", sr.Golden, name)
	}
}

func TestTestCommandGoldenLifecycle(t *testing.T) {
	scenarios := copyScenarios(t, "operation")
	goldenPath := filepath.Join(scenarios, "golden", "operation.golden")

	// First run writes the golden file.
	out, err := execute(t, NewTestCommand(&RootOptions{Format: "text"}), testFixturesDir, scenarios, "--update")
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ operation (golden updated)")
	golden, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"scenario_name":"operation"`)

	// A second run matches it.
	out, err = execute(t, NewTestCommand(&RootOptions{Format: "json"}), testFixturesDir, scenarios)
	require.NoError(t, err, out)
	resp := decodeTestJSON(t, out)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "match", resp.Data.Scenarios[0].Golden)

	// A tampered golden file fails with exit code 1.
	require.NoError(t, os.WriteFile(goldenPath, []byte(`{"trace":[]}`), 0644))
	out, err = execute(t, NewTestCommand(&RootOptions{Format: "text"}), testFixturesDir, scenarios)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ operation")
	assert.Contains(t, out, "trace does not match golden file")
	assert.Contains(t, out, "Test Summary: 0 passed, 1 failed, 1 total (backend sim)")
}

func TestTestCommandFilter(t *testing.T) {
	scenarios := copyScenarios(t, "operation", "sweep")

	out, err := execute(t, NewTestCommand(&RootOptions{Format: "json"}), testFixturesDir, scenarios, "--filter", "swe*")
	require.NoError(t, err, out)

	resp := decodeTestJSON(t, out)
	require.Equal(t, 1, resp.Data.Total)
	assert.Equal(t, "sweep", resp.Data.Scenarios[0].Name)
}

func TestTestCommandFailingScenario(t *testing.T) {
	scenarios := t.TempDir()
	writeFile(t, scenarios, "failing.yaml", failingScenario)

	out, err := execute(t, NewTestCommand(&RootOptions{Format: "json"}), testFixturesDir, scenarios)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	resp := decodeTestJSON(t, out)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "1 scenario(s) failed", resp.Error.Message)
	require.Len(t, resp.Data.Scenarios, 1)
	sr := resp.Data.Scenarios[0]
	assert.False(t, sr.Pass)
	assert.Equal(t, ErrCodeScenarioFailed, sr.Code)
	assert.NotEmpty(t, sr.Errors)
}

func TestTestCommandInvalidScenarioFile(t *testing.T) {
	scenarios := copyScenarios(t, "triggers")
	writeFile(t, scenarios, "broken.yaml", "name: broken\nflow: []\n")

	out, err := execute(t, NewTestCommand(&RootOptions{Format: "json"}), testFixturesDir, scenarios)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	resp := decodeTestJSON(t, out)
	assert.Equal(t, 2, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Passed)
	assert.Equal(t, 1, resp.Data.Failed)

	var broken *ScenarioResult
	for i := range resp.Data.Scenarios {
		if resp.Data.Scenarios[i].Name == "broken.yaml" {
			broken = &resp.Data.Scenarios[i]
		}
	}
	require.NotNil(t, broken)
	assert.Equal(t, ErrCodeInvalidScenario, broken.Code)
	assert.Contains(t, broken.Errors[0], "description is required")
}

func TestTestCommandAbortedScenario(t *testing.T) {
	scenarios := t.TempDir()
	writeFile(t, scenarios, "aborts.yaml", `name: aborts
description: "sweeping want is not allowed"
fixture: inverse.cue
flow:
  - invoke: strategy.sweep
    from: gov
    args: [want]
`)

	out, err := execute(t, NewTestCommand(&RootOptions{Format: "json"}), testFixturesDir, scenarios)
	require.Error(t, err)

	resp := decodeTestJSON(t, out)
	require.Len(t, resp.Data.Scenarios, 1)
	sr := resp.Data.Scenarios[0]
	assert.True(t, sr.Aborted)
	assert.Equal(t, ErrCodeScenarioAborted, sr.Code)
	assert.Contains(t, sr.Errors[0], "!want")
	// no fixed run id: one is generated
	assert.NotEmpty(t, sr.RunID)
}

func TestTestCommandRecordsRuns(t *testing.T) {
	root, db := dbRoot(t)
	scenarios := copyScenarios(t, "triggers")

	_, err := execute(t, root, "test", testFixturesDir, scenarios, "--db", db)
	require.NoError(t, err)

	// Running again replaces the recording of the fixed run id.
	root = NewRootCommand()
	_, err = execute(t, root, "test", testFixturesDir, scenarios, "--db", db)
	require.NoError(t, err)

	root = NewRootCommand()
	out, err := execute(t, root, "trace", "--db", db, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Data []RunSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "triggers", resp.Data[0].ID)
	assert.Equal(t, "pass", resp.Data[0].Status)
	assert.Equal(t, "sim", resp.Data[0].Backend)
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t, filepath.Join("scenarios", "golden", "sweep.golden"), goldenFilePath("scenarios", "sweep"))
}
