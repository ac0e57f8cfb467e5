package store

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/patientdb/internal/patient"
	"github.com/roach88/patientdb/internal/testutil"
)

// createTestStore creates a new file-backed store with a stepping clock
// (one second per call, starting at testutil.Epoch) and sequential ids.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	defaults := []Option{
		WithClock(testutil.NewStepClock(testutil.Epoch, time.Second).Now),
		WithIDGenerator(testutil.NewSequenceIDGenerator("p")),
	}
	s, err := Open(path, append(defaults, opts...)...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func aliceInput() patient.Input {
	return patient.Input{Name: "Alice", DOB: "1990-01-01"}
}

// getTableColumns returns the column names of a table.
func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		t.Fatalf("table_info(%s) failed: %v", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan column: %v", err)
		}
		cols = append(cols, name)
	}
	return cols
}
