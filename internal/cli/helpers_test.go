package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const (
	testFixturesDir  = "../../testdata/fixtures"
	testScenariosDir = "../../testdata/scenarios"
)

// execute runs cmd with args and returns what it wrote to stdout.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// copyScenarios copies the named suite scenarios into a fresh directory.
func copyScenarios(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(testScenariosDir, name+".yaml"))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), data, 0644))
	}
	return dir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// dbRoot returns a root command whose run log is a file in a temp dir.
func dbRoot(t *testing.T) (*cobra.Command, string) {
	t.Helper()
	db := filepath.Join(t.TempDir(), "runs.db")
	return NewRootCommand(), db
}

const failingScenario = `name: failing
description: "an assertion that cannot hold"
fixture: inverse.cue
run_id: failing
flow:
  - call: want.balanceOf
    args: [user]
    expect:
      value: 0
`
