package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/patientdb/internal/patient"
)

// TimestampLayout is the on-disk timestamp format. Fixed width with
// microsecond precision so string comparison orders chronologically.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// commitResolution is the smallest step between two stored timestamps.
const commitResolution = time.Microsecond

// patientColumns is the column list every read uses, in scan order.
const patientColumns = "id, name, dob, email, phone, address, created_at, updated_at"

// formatTime converts t to the on-disk representation.
func formatTime(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// parseTime parses an on-disk timestamp.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// commitTime truncates t to storage precision.
func commitTime(t time.Time) time.Time {
	return t.UTC().Truncate(commitResolution)
}

// nullable maps an empty optional field to NULL.
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanPatient scans a row selected with patientColumns.
func scanPatient(row rowScanner) (patient.Patient, error) {
	var (
		p                    patient.Patient
		email, phone, addr   sql.NullString
		createdAt, updatedAt string
	)

	if err := row.Scan(&p.ID, &p.Name, &p.DOB, &email, &phone, &addr, &createdAt, &updatedAt); err != nil {
		return patient.Patient{}, err
	}

	p.Email = email.String
	p.Phone = phone.String
	p.Address = addr.String

	var err error
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return patient.Patient{}, fmt.Errorf("scan patient %s: %w", p.ID, err)
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return patient.Patient{}, fmt.Errorf("scan patient %s: %w", p.ID, err)
	}
	return p, nil
}
