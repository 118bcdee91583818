package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alejandrodnm/polysizer/internal/domain"
)

// SavePrediction añade una fila sin resolver al ledger.
func (s *Store) SavePrediction(ctx context.Context, p domain.SignalPrediction) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO predictions (source, market_id, side, confidence, price, archetype, created_at, resolved)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
		p.Source, p.MarketID, string(p.Side), p.Confidence, p.Price,
		string(p.Archetype), p.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("storage.SavePrediction: %s/%s: %w", p.Source, p.MarketID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("storage.SavePrediction: last id: %w", err)
	}
	return id, nil
}

// ResolveMarket marca como resueltas todas las filas sin resolver del
// mercado. Idempotente: la segunda llamada toca 0 filas.
func (s *Store) ResolveMarket(ctx context.Context, marketID string, outcome float64, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE predictions SET resolved = 1, outcome = ?, resolved_at = ?
		WHERE market_id = ? AND resolved = 0`,
		outcome, at.UTC().Format(time.RFC3339), marketID,
	)
	if err != nil {
		return 0, fmt.Errorf("storage.ResolveMarket: %s: %w", marketID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("storage.ResolveMarket: rows affected: %w", err)
	}
	return n, nil
}

// ResolvedBySource devuelve las filas resueltas de un source desde la fecha
// dada, más antiguas primero.
func (s *Store) ResolvedBySource(ctx context.Context, source string, since time.Time) ([]domain.SignalPrediction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, market_id, side, confidence, price, archetype,
		       created_at, outcome, resolved_at
		FROM predictions
		WHERE source = ? AND resolved = 1 AND created_at >= ?
		ORDER BY created_at`,
		source, since.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("storage.ResolvedBySource: query %s: %w", source, err)
	}
	defer rows.Close()

	var preds []domain.SignalPrediction
	for rows.Next() {
		var p domain.SignalPrediction
		var side, archetype string
		var createdAt, resolvedAt sql.NullString
		var outcome sql.NullFloat64
		if err := rows.Scan(&p.ID, &p.Source, &p.MarketID, &side, &p.Confidence,
			&p.Price, &archetype, &createdAt, &outcome, &resolvedAt); err != nil {
			return nil, fmt.Errorf("storage.ResolvedBySource: scan: %w", err)
		}
		p.Side = domain.Side(side)
		p.Archetype = domain.Archetype(archetype)
		p.CreatedAt = parseTime(createdAt)
		p.ResolvedAt = parseTime(resolvedAt)
		p.Resolved = true
		p.Outcome = outcome.Float64
		preds = append(preds, p)
	}
	return preds, rows.Err()
}

// Sources devuelve los sources con al menos una predicción registrada.
func (s *Store) Sources(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT source FROM predictions ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("storage.Sources: query: %w", err)
	}
	defer rows.Close()

	var sources []string
	for rows.Next() {
		var src string
		if err := rows.Scan(&src); err != nil {
			return nil, fmt.Errorf("storage.Sources: scan: %w", err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// BucketStats acumula wins/total resueltos no-void para un bucket.
// Un win es "el lado predicho acabó en el lado correcto": YES con outcome 1,
// NO con outcome 0. Side o zone vacíos no restringen.
func (s *Store) BucketStats(ctx context.Context, arch domain.Archetype, side domain.Side, zone domain.PriceZone) (domain.BucketStats, error) {
	query := `
		SELECT
			COALESCE(SUM(CASE
				WHEN (side = 'YES' AND outcome = 1.0) OR (side = 'NO' AND outcome = 0.0)
				THEN 1 ELSE 0 END), 0),
			COUNT(*)
		FROM predictions
		WHERE resolved = 1 AND outcome != 0.5 AND archetype = ?`
	args := []any{string(arch)}
	if side != "" {
		query += " AND side = ?"
		args = append(args, string(side))
	}
	if zone != "" {
		lo, hi := zoneBounds(zone)
		query += " AND price >= ? AND price < ?"
		args = append(args, lo, hi)
	}

	var stats domain.BucketStats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&stats.Wins, &stats.Total); err != nil {
		return domain.BucketStats{}, fmt.Errorf("storage.BucketStats: %s: %w", arch, err)
	}
	return stats, nil
}

// TotalResolved cuenta todas las predicciones resueltas no-void.
func (s *Store) TotalResolved(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM predictions WHERE resolved = 1 AND outcome != 0.5`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage.TotalResolved: %w", err)
	}
	return n, nil
}

// zoneBounds traduce la PriceZone a su rango [lo, hi) de precio YES.
func zoneBounds(zone domain.PriceZone) (float64, float64) {
	switch zone {
	case domain.ZoneGarbage:
		return 0, 0.30
	case domain.ZoneLow:
		return 0.30, 0.40
	case domain.ZoneCoinflip:
		return 0.40, 0.50
	case domain.ZoneMid:
		return 0.50, 0.65
	case domain.ZoneSweetSpot:
		return 0.65, 0.75
	case domain.ZoneHigh:
		return 0.75, 0.85
	default:
		return 0.85, 1.01
	}
}
