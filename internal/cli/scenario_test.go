package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioDir = "../harness/testdata/scenarios"

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestScenarioRun_MatchesGolden(t *testing.T) {
	out, err := runRoot(t, "scenario", "run", scenarioDir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ paid_sale")
	assert.Contains(t, out, "✓ void_approval")
	assert.Contains(t, out, "✓ shift_close")
	assert.Contains(t, out, "3 passed, 0 failed, 3 total")
}

func TestScenarioRun_Filter(t *testing.T) {
	out, err := runRoot(t, "--format", "json", "scenario", "run", scenarioDir, "--filter", "void_*")
	require.NoError(t, err, out)

	var resp struct {
		Status string      `json:"status"`
		Data   SuiteResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Total)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "void_approval", resp.Data.Scenarios[0].Name)
}

func TestScenarioRun_UpdateThenGoldenMismatch(t *testing.T) {
	dir := t.TempDir()
	scenarios := filepath.Join(dir, "scenarios")
	require.NoError(t, os.MkdirAll(scenarios, 0o755))
	body := `name: quick
description: open a shift
flow:
  - invoke: shift.open
    expect:
      case: ok
assertions:
  - type: trace_count
    action: shift.open
    count: 1
`
	require.NoError(t, os.WriteFile(filepath.Join(scenarios, "quick.yaml"), []byte(body), 0o644))

	out, err := runRoot(t, "scenario", "run", scenarios, "--update")
	require.NoError(t, err, out)
	assert.Contains(t, out, "golden updated")
	golden := filepath.Join(dir, "golden", "quick.golden")
	assert.FileExists(t, golden)

	out, err = runRoot(t, "scenario", "run", scenarios)
	require.NoError(t, err, out)

	require.NoError(t, os.WriteFile(golden, []byte("{}\n"), 0o644))
	out, err = runRoot(t, "scenario", "run", scenarios)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "does not match golden file")
}

func TestScenarioRun_FailingExpectation(t *testing.T) {
	dir := t.TempDir()
	body := `name: wrong
description: a ticket needs an open shift
flow:
  - invoke: ticket.open
    expect:
      case: ok
assertions:
  - type: trace_count
    action: ticket.open
    count: 1
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong.yaml"), []byte(body), 0o644))

	out, err := runRoot(t, "--format", "json", "scenario", "run", dir, "--golden", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_SCENARIO_FAILED", resp.Error.Code)
}

func TestScenarioRun_MissingDir(t *testing.T) {
	_, err := runRoot(t, "scenario", "run", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestScenarioValidate(t *testing.T) {
	out, err := runRoot(t, "scenario", "validate", scenarioDir)
	require.NoError(t, err)
	assert.Contains(t, out, "3 scenario(s) valid")

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("name: bad\ndescription: typo\nbogus: 1\n"), 0o644))
	_, err = runRoot(t, "scenario", "validate", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestScenarioActions(t *testing.T) {
	out, err := runRoot(t, "scenario", "actions")
	require.NoError(t, err)
	assert.Contains(t, out, "ticket.pay")
	assert.Contains(t, out, "void.approve")
}
