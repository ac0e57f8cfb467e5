package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
)

// Result is the outcome of an ad-hoc query: ordered rows keyed by column
// name plus the row count.
type Result struct {
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}

// Query runs an ad-hoc parameterized statement on a read-only connection.
//
// The connection is switched to PRAGMA query_only and the statement runs
// inside a transaction that is always rolled back, so neither writes nor
// transaction control (BEGIN, SAVEPOINT) outlive the call. Both fail with
// SQLite's own error. Engine errors are returned unwrapped so callers can
// surface the message verbatim.
//
// If the connection cannot be made writable again it is discarded instead
// of being returned to the pool.
func (s *Store) Query(ctx context.Context, query string, args ...any) (result *Result, err error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		return nil, fmt.Errorf("enable query_only: %w", err)
	}
	// Runs before conn.Close (LIFO) so the pooled connection is writable again.
	defer func() {
		if _, rerr := conn.ExecContext(context.Background(), "PRAGMA query_only = OFF"); rerr != nil {
			discard(conn)
			err = errors.Join(err, fmt.Errorf("reset query_only: %w", rerr))
		}
	}()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	// The statement may have ended this transaction itself (COMMIT or
	// ROLLBACK). A failed Rollback is retried directly and tolerated only
	// when nothing is left open.
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			if _, xerr := conn.ExecContext(context.Background(), "ROLLBACK"); xerr != nil && !isNoTransaction(xerr) {
				discard(conn)
			}
		}
	}()

	return collect(ctx, tx, query, args)
}

// collect runs query on tx and reads every row.
func collect(ctx context.Context, tx *sql.Tx, query string, args []any) (*Result, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &Result{Columns: cols, Rows: []map[string]any{}}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(cols))
		for i, col := range cols {
			// TEXT may come back as []byte depending on declared type
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result.RowCount = len(result.Rows)
	return result, nil
}

// discard closes conn's driver connection so the pool never reuses it.
func discard(conn *sql.Conn) {
	_ = conn.Raw(func(any) error { return driver.ErrBadConn })
}

func isNoTransaction(err error) bool {
	return strings.Contains(err.Error(), "no transaction is active")
}
