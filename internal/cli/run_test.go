package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCommand_Text(t *testing.T) {
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	out, err := execute(t, cmd, filepath.Join(testScenariosDir, "operation.yaml"))
	require.NoError(t, err, out)

	// inspect steps print as they run
	assert.Contains(t, out, "----- State of Strat -----")
	assert.Contains(t, out, "----- State of Vault -----")
	assert.Contains(t, out, "setup invoke  vault.deposit(10000000000000000000) from user -> ok")
	assert.Contains(t, out, "✓ operation (run operation)")
}

func TestRunCommand_JSON(t *testing.T) {
	cmd := NewRunCommand(&RootOptions{Format: "json"})
	out, err := execute(t, cmd, filepath.Join(testScenariosDir, "triggers.yaml"), "--run-id", "custom")
	require.NoError(t, err, out)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Scenario string `json:"scenario"`
			Backend  string `json:"backend"`
			Result   struct {
				RunID string `json:"run_id"`
				Pass  bool   `json:"pass"`
				Trace []struct {
					Action string `json:"action"`
				} `json:"trace"`
			} `json:"result"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "triggers", resp.Data.Scenario)
	assert.Equal(t, "sim", resp.Data.Backend)
	assert.Equal(t, "custom", resp.Data.Result.RunID)
	assert.True(t, resp.Data.Result.Pass)
	assert.NotEmpty(t, resp.Data.Result.Trace)
	// inspector output stays out of the JSON stream
	assert.NotContains(t, out, "State of Strat")
}

func TestRunCommand_FixturesDir(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "failing.yaml", failingScenario)

	// inverse.cue is not next to the scenario
	_, err := execute(t, NewRunCommand(&RootOptions{Format: "text"}), path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenario could not run")

	out, err := execute(t, NewRunCommand(&RootOptions{Format: "text"}), path, "--fixtures", testFixturesDir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ failing (run failing)")
}

func TestRunCommand_Aborted(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "aborts.yaml", `name: aborts
description: "sweeping vault shares is not allowed"
fixture: inverse.cue
flow:
  - invoke: strategy.sweep
    from: gov
    args: [vault]
`)

	out, err := execute(t, NewRunCommand(&RootOptions{Format: "text"}), path, "--fixtures", testFixturesDir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenario aborted")
	assert.Contains(t, out, `-> revert "!shares"`)
}

func TestRunCommand_MissingFile(t *testing.T) {
	_, err := execute(t, NewRunCommand(&RootOptions{Format: "text"}), "nope.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load scenario")
}

func TestFormatEvent(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{
			name: "invoke",
			got:  formatEvent(3, "flow", "invoke", "strategy.harvest", "strategist", nil, "ok", "", ""),
			want: "  3 flow  invoke  strategy.harvest() from strategist -> ok",
		},
		{
			name: "revert",
			got:  formatEvent(12, "flow", "invoke", "strategy.sweep", "gov", []string{"want"}, "revert", "!want", ""),
			want: ` 12 flow  invoke  strategy.sweep(want) from gov -> revert "!want"`,
		},
		{
			name: "call with result",
			got:  formatEvent(1, "setup", "call", "want.balanceOf", "", []string{"user"}, "ok", "", "10000000000000000000"),
			want: "  1 setup call    want.balanceOf(user) -> ok 10000000000000000000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}
