package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWorkflow = `
id: wf-cli
trigger:
  amount: 5
nodes:
  - id: start
    type: trigger
    label: Start
  - id: big
    type: action
    label: Big
    config:
      actionType: Condition
      condition: "{{@start:Start.amount}} > 10"
  - id: after
    type: action
    config:
      actionType: Run Code
      code: "return 'ran'"
edges:
  - {source: start, target: big}
  - {source: big, target: after}
`

func writeWorkflow(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wf.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRunCommand(t *testing.T) {
	path := writeWorkflow(t, testWorkflow)

	stdout, _, err := execute(t, "run", path, "--execution-id", "exec-cli")
	require.NoError(t, err)

	var out struct {
		Success bool                      `json:"success"`
		Results map[string]map[string]any `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.True(t, out.Success)
	assert.Equal(t, true, out.Results["big"]["success"])
	assert.NotContains(t, out.Results, "after")

	stdout, _, err = execute(t, "run", path, "--input", `{"amount": 50}`)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, "ran", out.Results["after"]["data"].(map[string]any)["result"])
}

func TestRunCommandFailure(t *testing.T) {
	path := writeWorkflow(t, `
nodes:
  - {id: t, type: trigger}
  - {id: a, type: action, config: {actionType: Run Code, code: "throw new Error('bad')"}}
edges:
  - {source: t, target: a}
`)
	stdout, _, err := execute(t, "run", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `workflow failed: node "a": Script error: [runtime_error] Error: bad`)
	assert.Contains(t, stdout, `"success":false`)
}

func TestRunCommandBadInput(t *testing.T) {
	path := writeWorkflow(t, testWorkflow)
	_, _, err := execute(t, "run", path, "--input", "[1]")
	assert.ErrorContains(t, err, "trigger input must be a JSON object")

	_, _, err = execute(t, "run", path, "--input", "{}", "--input-file", "x.json")
	assert.ErrorContains(t, err, "mutually exclusive")
}

func TestValidateCommand(t *testing.T) {
	stdout, _, err := execute(t, "validate", writeWorkflow(t, testWorkflow))
	require.NoError(t, err)
	assert.Contains(t, stdout, "3 nodes, 2 edges, ok")

	_, stderr, err := execute(t, "validate", writeWorkflow(t, `
nodes:
  - {id: a, type: action, config: {actionType: Send Fax}}
`))
	require.Error(t, err)
	assert.Contains(t, stderr, `node "a" uses unknown action type "Send Fax"`)
}

func TestActionsCommand(t *testing.T) {
	stdout, _, err := execute(t, "actions")
	require.NoError(t, err)
	for _, want := range []string{"CATEGORY", "Database Query", "Get Value", "Find Documents", "Blob Upload", "Run Code"} {
		assert.Contains(t, stdout, want)
	}
}
