// Package pgstore provides a PostgreSQL implementation of patient.Store.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/triagedesk/internal/patient"
)

var tracer = otel.Tracer("github.com/linnemanlabs/triagedesk/internal/patient/pgstore")

//go:embed schema.sql
var schema string

// Store persists patients in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New verifies the pool, applies the schema, and returns a ready Store.
// The caller owns the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

const patientColumns = `id, name, age, gender, arrival, patient_summary, triage_level,
	COALESCE(heart_rate, 0), COALESCE(respiratory_rate, 0), COALESCE(pain_level, 1),
	status, COALESCE(ai_summary, ''), COALESCE(assigned_nurse, ''), created_at, updated_at`

// Insert writes one patient row and returns the stored representation.
func (s *Store) Insert(ctx context.Context, r *patient.Record) (*patient.Record, error) {
	ctx, span := startSpan(ctx, "pgstore.Insert", "INSERT")
	defer span.End()

	row := patient.ToRow(r)

	query := `INSERT INTO patients (
		id, name, age, gender, arrival, patient_summary, triage_level,
		heart_rate, respiratory_rate, pain_level, status, ai_summary, assigned_nurse
	) VALUES ($1, $2, $3, $4, $5::timestamptz, $6, $7, $8, $9, $10, $11, $12, $13)
	RETURNING ` + patientColumns

	stored, err := scanPatient(s.pool.QueryRow(ctx, query,
		row.ID, row.Name, row.Age, row.Gender, row.Arrival, row.PatientSummary, row.TriageLevel,
		row.HeartRate, row.RespiratoryRate, row.PainLevel, row.Status,
		nullable(row.AISummary), nullable(row.AssignedNurse),
	))
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("insert patient: %w", err)
	}
	if stored == nil {
		err := errors.New("insert patient: no row returned")
		fail(span, err)
		return nil, err
	}
	return stored, nil
}

// List returns all patients ordered by severity then arrival.
func (s *Store) List(ctx context.Context) ([]*patient.Record, error) {
	ctx, span := startSpan(ctx, "pgstore.List", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT `+patientColumns+` FROM patients ORDER BY triage_level, arrival`)
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("query patients: %w", err)
	}
	defer rows.Close()

	var out []*patient.Record
	for rows.Next() {
		r, err := scanPatient(rows)
		if err != nil {
			fail(span, err)
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		fail(span, err)
		return nil, fmt.Errorf("iterate patients: %w", err)
	}
	span.SetAttributes(attribute.Int("db.response.returned_rows", len(out)))
	return out, nil
}

// UpdateStatus sets a patient's status and bumps updated_at.
func (s *Store) UpdateStatus(ctx context.Context, id string, status patient.Status) (*patient.Record, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.UpdateStatus", "UPDATE")
	defer span.End()

	query := `UPDATE patients SET status = $2, updated_at = now() WHERE id = $1 RETURNING ` + patientColumns
	r, err := scanPatient(s.pool.QueryRow(ctx, query, id, string(status)))
	if err != nil {
		fail(span, err)
		return nil, false, fmt.Errorf("update status: %w", err)
	}
	if r == nil {
		return nil, false, nil
	}
	return r, true, nil
}

// Delete removes a patient. Reports whether a row was deleted.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Delete", "DELETE")
	defer span.End()

	tag, err := s.pool.Exec(ctx, `DELETE FROM patients WHERE id = $1`, id)
	if err != nil {
		fail(span, err)
		return false, fmt.Errorf("delete patient: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// scanPatient scans a single row into a patient.Record.
// Returns (nil, nil) when no row is found.
func scanPatient(row pgx.Row) (*patient.Record, error) {
	var (
		r       patient.Row
		arrival time.Time
	)

	err := row.Scan(
		&r.ID, &r.Name, &r.Age, &r.Gender, &arrival, &r.PatientSummary, &r.TriageLevel,
		&r.HeartRate, &r.RespiratoryRate, &r.PainLevel,
		&r.Status, &r.AISummary, &r.AssignedNurse, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}
	r.Arrival = arrival.UTC().Format(time.RFC3339Nano)

	return patient.FromRow(r), nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
		attribute.String("db.collection.name", "patients"),
	))
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
