package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alejandrodnm/polysizer/internal/domain"
)

// SaveHealth hace upsert del record completo de un source.
func (s *Store) SaveHealth(ctx context.Context, rec domain.SourceHealthRecord) error {
	var openUntil *string
	if rec.CircuitOpenUntil != nil {
		t := rec.CircuitOpenUntil.UTC().Format(time.RFC3339)
		openUntil = &t
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO source_health
			(source, last_success, last_failure, last_error, consecutive_failures,
			 total_successes, total_failures, latency_ema_ms, circuit_open_until)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source) DO UPDATE SET
			last_success         = excluded.last_success,
			last_failure         = excluded.last_failure,
			last_error           = excluded.last_error,
			consecutive_failures = excluded.consecutive_failures,
			total_successes      = excluded.total_successes,
			total_failures       = excluded.total_failures,
			latency_ema_ms       = excluded.latency_ema_ms,
			circuit_open_until   = excluded.circuit_open_until`,
		rec.Source,
		nullTime(rec.LastSuccess),
		nullTime(rec.LastFailure),
		rec.LastError,
		rec.ConsecutiveFailures,
		rec.TotalSuccesses,
		rec.TotalFailures,
		float64(rec.LatencyEMA)/float64(time.Millisecond),
		openUntil,
	)
	if err != nil {
		return fmt.Errorf("storage.SaveHealth: %s: %w", rec.Source, err)
	}
	return nil
}

// LoadHealth devuelve todos los records persistidos.
func (s *Store) LoadHealth(ctx context.Context) ([]domain.SourceHealthRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source, last_success, last_failure, last_error, consecutive_failures,
		       total_successes, total_failures, latency_ema_ms, circuit_open_until
		FROM source_health`)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadHealth: query: %w", err)
	}
	defer rows.Close()

	var recs []domain.SourceHealthRecord
	for rows.Next() {
		var rec domain.SourceHealthRecord
		var lastSuccess, lastFailure, openUntil sql.NullString
		var emaMs float64
		if err := rows.Scan(
			&rec.Source, &lastSuccess, &lastFailure, &rec.LastError,
			&rec.ConsecutiveFailures, &rec.TotalSuccesses, &rec.TotalFailures,
			&emaMs, &openUntil,
		); err != nil {
			return nil, fmt.Errorf("storage.LoadHealth: scan: %w", err)
		}
		rec.LastSuccess = parseTime(lastSuccess)
		rec.LastFailure = parseTime(lastFailure)
		rec.LatencyEMA = time.Duration(emaMs * float64(time.Millisecond))
		if openUntil.Valid {
			if t := parseTime(openUntil); !t.IsZero() {
				rec.CircuitOpenUntil = &t
			}
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// --- helpers compartidos por el paquete ---

func nullTime(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func parseTime(ns sql.NullString) time.Time {
	if !ns.Valid || ns.String == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339, ns.String)
	return t
}
