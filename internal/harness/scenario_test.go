package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_ValidFile(t *testing.T) {
	dir := t.TempDir()
	scenarioPath := filepath.Join(dir, "test.yaml")

	content := `
name: test_scenario
description: "Test scenario for validation"
fixture: fixtures/inverse.cue
setup:
  - invoke: want.approve
    from: user
    args: [vault, amount]
flow:
  - invoke: vault.deposit
    from: user
    args: [amount]
  - call: vault.totalAssets
    save: total
assertions:
  - type: trace_contains
    action: vault.deposit
`
	require.NoError(t, os.WriteFile(scenarioPath, []byte(content), 0644))

	scenario, err := LoadScenario(scenarioPath)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, "Test scenario for validation", scenario.Description)
	assert.Equal(t, dir, scenario.Dir)
	assert.Len(t, scenario.Setup, 1)
	assert.Len(t, scenario.Flow, 2)
	assert.Len(t, scenario.Assertions, 1)
	assert.Equal(t, "vault.deposit", scenario.Flow[0].Invoke)
	assert.Equal(t, []string{"amount"}, scenario.Flow[0].Args)
	assert.Equal(t, "total", scenario.Flow[1].Save)
	assert.Equal(t, filepath.Join(dir, "fixtures", "inverse.cue"), scenario.FixturePath(""))
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_NumbersAsExpressions(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: numbers
description: "YAML numbers arrive as expression text"
fixture: f.cue
flow:
  - sleep: 86400
  - invoke: strategy.setBorrowLimit
    from: strategist
    args: [1000e18]
  - call: strategy.targetCollateralFactor
    expect:
      value: 30e16
`))
	require.NoError(t, err)
	assert.Equal(t, "86400", scenario.Flow[0].Sleep)
	assert.Equal(t, []string{"1000e18"}, scenario.Flow[1].Args)
	assert.Equal(t, "30e16", scenario.Flow[2].Expect.Value)
}

func TestParseScenario_UnknownField(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: typo
description: "assertion instead of assertions"
fixture: f.cue
flow:
  - mine: 1
assertion:
  - type: trace_count
    action: mine
    count: 1
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "missing name",
			yaml: `
description: d
fixture: f.cue
flow: [{mine: 1}]
`,
			wantErr: "name is required",
		},
		{
			name: "missing description",
			yaml: `
name: n
fixture: f.cue
flow: [{mine: 1}]
`,
			wantErr: "description is required",
		},
		{
			name: "missing fixture",
			yaml: `
name: n
description: d
flow: [{mine: 1}]
`,
			wantErr: "fixture is required",
		},
		{
			name: "empty flow",
			yaml: `
name: n
description: d
fixture: f.cue
flow: []
`,
			wantErr: "flow list is required",
		},
		{
			name: "two kinds in one step",
			yaml: `
name: n
description: d
fixture: f.cue
flow:
  - sleep: 1
    mine: 1
`,
			wantErr: "step has both sleep and mine",
		},
		{
			name: "no kind",
			yaml: `
name: n
description: d
fixture: f.cue
flow:
  - from: user
`,
			wantErr: "step has no kind",
		},
		{
			name: "invoke without sender",
			yaml: `
name: n
description: d
fixture: f.cue
flow:
  - invoke: strategy.harvest
`,
			wantErr: "from is required",
		},
		{
			name: "call with sender",
			yaml: `
name: n
description: d
fixture: f.cue
flow:
  - call: vault.totalAssets
    from: user
`,
			wantErr: "from only applies to invoke steps",
		},
		{
			name: "action without method",
			yaml: `
name: n
description: d
fixture: f.cue
flow:
  - invoke: harvest
    from: gov
`,
			wantErr: "must be target.method",
		},
		{
			name: "revert and value",
			yaml: `
name: n
description: d
fixture: f.cue
flow:
  - call: strategy.emergencyExit
    expect:
      revert: "!authorized"
      value: "true"
`,
			wantErr: "expect",
		},
		{
			name: "save on invoke",
			yaml: `
name: n
description: d
fixture: f.cue
flow:
  - invoke: strategy.harvest
    from: gov
    save: x
`,
			wantErr: "save",
		},
		{
			name: "expect on sleep",
			yaml: `
name: n
description: d
fixture: f.cue
flow:
  - sleep: 60
    expect:
      revert: "!authorized"
`,
			wantErr: "expect only applies to invoke and call steps",
		},
		{
			name: "setup expecting revert",
			yaml: `
name: n
description: d
fixture: f.cue
setup:
  - invoke: strategy.sweep
    from: gov
    args: [want]
    expect:
      revert: "!want"
flow: [{mine: 1}]
`,
			wantErr: "setup steps may not expect a revert",
		},
		{
			name: "unknown comparison",
			yaml: `
name: n
description: d
fixture: f.cue
flow:
  - assert: roughly
    actual: "1"
    expected: "1"
`,
			wantErr: "roughly",
		},
		{
			name: "bind without kind",
			yaml: `
name: n
description: d
fixture: f.cue
flow:
  - bind: other
    address: user
`,
			wantErr: "kind and address are required",
		},
		{
			name: "unknown assertion",
			yaml: `
name: n
description: d
fixture: f.cue
flow: [{mine: 1}]
assertions:
  - type: eventually
`,
			wantErr: `unknown assertion type "eventually"`,
		},
		{
			name: "final_state without expect",
			yaml: `
name: n
description: d
fixture: f.cue
flow: [{mine: 1}]
assertions:
  - type: final_state
    table: steps
`,
			wantErr: "expect is required for final_state",
		},
		{
			name: "approx without expected",
			yaml: `
name: n
description: d
fixture: f.cue
flow: [{mine: 1}]
assertions:
  - type: approx
    actual: amount
`,
			wantErr: "actual and expected are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFixturePath(t *testing.T) {
	s := &Scenario{Fixture: "../fixtures/inverse.cue", Dir: "/suite/scenarios"}

	assert.Equal(t, "/suite/fixtures/inverse.cue", s.FixturePath(""))
	assert.Equal(t, "/other/inverse.cue", s.FixturePath("/other"))

	s.Fixture = "/abs/inverse.cue"
	assert.Equal(t, "/abs/inverse.cue", s.FixturePath("/other"))
}

func TestSplitAction(t *testing.T) {
	target, method, err := splitAction("delegated_vault.withdrawalQueue")
	require.NoError(t, err)
	assert.Equal(t, "delegated_vault", target)
	assert.Equal(t, "withdrawalQueue", method)

	for _, bad := range []string{"harvest", ".harvest", "strategy."} {
		_, _, err := splitAction(bad)
		assert.Error(t, err, bad)
	}
}

func TestLoadScenario_Suite(t *testing.T) {
	paths, err := filepath.Glob("../../testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	names := make(map[string]bool)
	for _, path := range paths {
		scenario, err := LoadScenario(path)
		require.NoError(t, err, path)
		assert.False(t, names[scenario.Name], "duplicate scenario name %s", scenario.Name)
		names[scenario.Name] = true
		assert.NotEmpty(t, scenario.RunID, "%s needs a fixed run_id for golden traces", scenario.Name)
		assert.FileExists(t, scenario.FixturePath(""))
	}
}
