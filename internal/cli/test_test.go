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

const passingScenario = `
name: insert_fanout
description: "An insert reaches the other replica"
replicas: [a, b]
steps:
  - replica: a
    insert: { name: Alice, dob: "1990-01-01" }
    as: alice
assertions:
  - type: view
    replica: b
    id: $alice
    expect: { name: Alice }
`

const failingScenario = `
name: wrong_count
replicas: [a, b]
steps:
  - replica: a
    insert: { name: Alice, dob: "1990-01-01" }
assertions:
  - type: trace_count
    event: patientInserted
    count: 5
`

func writeScenarioFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestTestCommandMissingArgs(t *testing.T) {
	isolate(t)

	_, _, err := execute(t, "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	isolate(t)

	_, _, err := execute(t, "test", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommandEmptyScenariosDir(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	out, _, err := execute(t, "test", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found")

	out, _, err = execute(t, "--format", "json", "test", dir)
	require.NoError(t, err)
	var response CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &response))
	assert.Equal(t, "ok", response.Status)
}

func TestTestCommandPassingScenario(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeScenarioFile(t, dir, "insert_fanout.yaml", passingScenario)

	out, _, err := execute(t, "test", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ insert_fanout")
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestTestCommandFailingScenario(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeScenarioFile(t, dir, "insert_fanout.yaml", passingScenario)
	writeScenarioFile(t, dir, "wrong_count.yaml", failingScenario)

	out, _, err := execute(t, "--format", "json", "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var response struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &response))
	assert.Equal(t, "error", response.Status)
	assert.Equal(t, "TEST_FAILED", response.Error.Code)
	assert.Equal(t, 1, response.Data.Passed)
	assert.Equal(t, 1, response.Data.Failed)

	var failed ScenarioResult
	for _, s := range response.Data.Scenarios {
		if !s.Pass {
			failed = s
		}
	}
	assert.Equal(t, "wrong_count", failed.Name)
	require.NotEmpty(t, failed.Errors)
	assert.Contains(t, failed.Errors[0], "5 occurrences of patientInserted")
}

func TestTestCommandLoadError(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeScenarioFile(t, dir, "broken.yaml", "name: broken\nreplicas: [a]\nstepz: []\n")

	out, _, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
}

func TestTestCommandGoldenLifecycle(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeScenarioFile(t, dir, "insert_fanout.yaml", passingScenario)
	goldenPath := filepath.Join(dir, "golden", "insert_fanout.golden")

	// --update writes the golden file.
	_, _, err := execute(t, "test", dir, "--update")
	require.NoError(t, err)
	golden, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"scenario_name": "insert_fanout"`)
	assert.Contains(t, string(golden), `"id": "a-0001"`)

	// A matching golden file passes.
	_, _, err = execute(t, "test", dir)
	require.NoError(t, err)

	// A stale golden file fails.
	stale := strings.Replace(string(golden), "a-0001", "a-0002", 1)
	require.NoError(t, os.WriteFile(goldenPath, []byte(stale), 0644))
	out, _, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommandFilter(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeScenarioFile(t, dir, "insert_fanout.yaml", passingScenario)
	writeScenarioFile(t, dir, "wrong_count.yaml", failingScenario)

	out, _, err := execute(t, "test", dir, "--filter", "insert*")
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestFindScenarioFiles(t *testing.T) {
	tmpDir := t.TempDir()
	subDir := filepath.Join(tmpDir, "subdir")
	goldenDir := filepath.Join(tmpDir, "golden")
	require.NoError(t, os.MkdirAll(subDir, 0755))
	require.NoError(t, os.MkdirAll(goldenDir, 0755))

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "test1.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "test2.yml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "ignore.txt"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(subDir, "sub.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(goldenDir, "skipped.yaml"), []byte(""), 0644))

	files, err := findScenarioFiles(tmpDir, "")
	require.NoError(t, err)
	assert.Len(t, files, 3)

	files, err = findScenarioFiles(tmpDir, "test*")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	_, err = findScenarioFiles(tmpDir, "[")
	require.Error(t, err)
}

func TestGoldenFilePath(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		{"/path/to/scenario.yaml", "/path/to/golden/scenario.golden"},
		{"/path/to/scenario.yml", "/path/to/golden/scenario.golden"},
		{"scenarios/test.yaml", "scenarios/golden/test.golden"},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, goldenFilePath(tc.input))
	}
}
