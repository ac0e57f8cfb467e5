package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/patientdb/internal/patient"
)

// syncBuffer is a bytes.Buffer safe for a command writing on one goroutine
// while the test reads on another.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return executeContext(t, context.Background(), args...)
}

func executeContext(t *testing.T, ctx context.Context, args ...string) (string, string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}

// isolate runs the test in an empty directory with no PATIENTDB_ overrides
// and returns a database path inside it.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, key := range []string{"PATIENTDB_DB", "PATIENTDB_MEDIUM", "PATIENTDB_CHANNEL", "PATIENTDB_LOG_FORMAT", "PATIENTDB_LOG_LEVEL"} {
		t.Setenv(key, "")
	}
	return filepath.Join(dir, "patients.db")
}

type recordResponse struct {
	Status string          `json:"status"`
	Data   patient.Patient `json:"data"`
	Error  *CLIError       `json:"error"`
}

func decodeRecord(t *testing.T, out string) recordResponse {
	t.Helper()
	var resp recordResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp
}

// insertAlice inserts a patient through the CLI and returns it.
func insertAlice(t *testing.T, db string) patient.Patient {
	t.Helper()
	out, _, err := execute(t, "--db", db, "--format", "json",
		"insert", "--name", "Alice Smith", "--dob", "1990-01-01", "--email", "alice@example.com")
	require.NoError(t, err)
	resp := decodeRecord(t, out)
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}
