package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/patientdb/internal/patient"
)

// GetPatient retrieves a single record by id.
// Returns ErrNotFound if absent.
func (s *Store) GetPatient(ctx context.Context, id string) (patient.Patient, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE id = ?
	`, id)

	p, err := scanPatient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return patient.Patient{}, ErrNotFound
	}
	if err != nil {
		return patient.Patient{}, fmt.Errorf("get patient: %w", err)
	}
	return p, nil
}

// ListPatients returns every record, newest first. Ties on created_at are
// broken by id so results are deterministic.
//
// Returns an empty slice (not nil) when the table is empty.
func (s *Store) ListPatients(ctx context.Context) ([]patient.Patient, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		ORDER BY created_at DESC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query patients: %w", err)
	}
	defer rows.Close()

	patients := []patient.Patient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		patients = append(patients, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patients: %w", err)
	}

	return patients, nil
}

// CountPatients returns the number of live records.
func (s *Store) CountPatients(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM patients`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count patients: %w", err)
	}
	return n, nil
}
