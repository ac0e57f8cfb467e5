package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/patientdb/internal/patient"
)

// maxIDAttempts bounds regeneration when a generated id collides with a
// live or retired identity.
const maxIDAttempts = 3

// InsertPatient inserts a validated input and returns the materialized record
// with store-assigned id and timestamps (created_at == updated_at).
//
// The input is expected to be validated already; NOT NULL and CHECK
// constraints still guard the table.
func (s *Store) InsertPatient(ctx context.Context, in patient.Input) (patient.Patient, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return patient.Patient{}, fmt.Errorf("insert patient: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	id, err := s.freshID(ctx, tx)
	if err != nil {
		return patient.Patient{}, fmt.Errorf("insert patient: %w", err)
	}

	now := formatTime(commitTime(s.now()))
	row := tx.QueryRowContext(ctx, `
		INSERT INTO patients (id, name, dob, email, phone, address, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING `+patientColumns,
		id,
		in.Name,
		in.DOB,
		nullable(in.Email),
		nullable(in.Phone),
		nullable(in.Address),
		now,
		now,
	)

	rec, err := scanPatient(row)
	if err != nil {
		return patient.Patient{}, fmt.Errorf("insert patient: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return patient.Patient{}, fmt.Errorf("insert patient: commit: %w", err)
	}
	return rec, nil
}

// freshID draws ids until one is neither live nor retired.
func (s *Store) freshID(ctx context.Context, tx *sql.Tx) (string, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := s.ids.Generate()

		var taken int
		err := tx.QueryRowContext(ctx, `
			SELECT
				(SELECT COUNT(*) FROM patients WHERE id = ?) +
				(SELECT COUNT(*) FROM retired_ids WHERE id = ?)
		`, id, id).Scan(&taken)
		if err != nil {
			return "", fmt.Errorf("check id: %w", err)
		}
		if taken == 0 {
			return id, nil
		}
	}
	return "", fmt.Errorf("no unused id after %d attempts", maxIDAttempts)
}

// UpdatePatient applies a validated partial to the record with the given id
// and returns the full post-update record. updated_at is refreshed inside the
// same transaction even when the partial is empty.
//
// Returns ErrNotFound if no record matches.
func (s *Store) UpdatePatient(ctx context.Context, id string, p patient.Partial) (patient.Patient, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return patient.Patient{}, fmt.Errorf("update patient: begin tx: %w", err)
	}
	defer tx.Rollback()

	var prevUpdated string
	err = tx.QueryRowContext(ctx, `SELECT updated_at FROM patients WHERE id = ?`, id).Scan(&prevUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return patient.Patient{}, ErrNotFound
	}
	if err != nil {
		return patient.Patient{}, fmt.Errorf("update patient: read current: %w", err)
	}

	prev, err := parseTime(prevUpdated)
	if err != nil {
		return patient.Patient{}, fmt.Errorf("update patient: %w", err)
	}

	// updated_at must move forward even when the clock has not ticked.
	next := commitTime(s.now())
	if !next.After(prev) {
		next = prev.Add(commitResolution)
	}

	// Column names come from this fixed list, never from caller input.
	var (
		sets []string
		args []any
	)
	if p.Name != nil {
		sets, args = append(sets, "name = ?"), append(args, *p.Name)
	}
	if p.DOB != nil {
		sets, args = append(sets, "dob = ?"), append(args, *p.DOB)
	}
	if p.Email != nil {
		sets, args = append(sets, "email = ?"), append(args, nullable(*p.Email))
	}
	if p.Phone != nil {
		sets, args = append(sets, "phone = ?"), append(args, nullable(*p.Phone))
	}
	if p.Address != nil {
		sets, args = append(sets, "address = ?"), append(args, nullable(*p.Address))
	}
	sets, args = append(sets, "updated_at = ?"), append(args, formatTime(next))
	args = append(args, id)

	row := tx.QueryRowContext(ctx,
		"UPDATE patients SET "+strings.Join(sets, ", ")+" WHERE id = ? RETURNING "+patientColumns,
		args...,
	)
	rec, err := scanPatient(row)
	if err != nil {
		return patient.Patient{}, fmt.Errorf("update patient: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return patient.Patient{}, fmt.Errorf("update patient: commit: %w", err)
	}
	return rec, nil
}

// DeletePatient removes the record with the given id and retires the id.
// Returns existed=false (and no error) when the record was already absent.
func (s *Store) DeletePatient(ctx context.Context, id string) (existed bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("delete patient: begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM patients WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete patient: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete patient: rows affected: %w", err)
	}

	if rowsAffected > 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO retired_ids (id, retired_at)
			VALUES (?, ?)
			ON CONFLICT(id) DO NOTHING
		`, id, formatTime(commitTime(s.now())))
		if err != nil {
			return false, fmt.Errorf("delete patient: retire id: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("delete patient: commit: %w", err)
	}
	return rowsAffected > 0, nil
}

// IsRetired reports whether id belonged to a deleted record.
func (s *Store) IsRetired(ctx context.Context, id string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM retired_ids WHERE id = ?`, id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check retired id: %w", err)
	}
	return count > 0, nil
}
