package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alejandrodnm/polysizer/internal/domain"
	"github.com/alejandrodnm/polysizer/internal/ports"
)

// ErrPositionExists indica que el mercado ya tiene una posición OPEN.
var ErrPositionExists = errors.New("open position already exists for market")

// ErrNoOpenPosition indica que no hay posición OPEN que cerrar.
var ErrNoOpenPosition = ports.ErrNoOpenPosition

// InsertPosition abre una posición. El unique index parcial sobre
// (market_id, status=OPEN) garantiza el invariante a nivel de schema.
func (s *Store) InsertPosition(ctx context.Context, pos domain.PaperPosition) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO positions
			(market_id, platform, side, entry_price, stake, potential_payout,
			 confidence, edge, archetype, status, opened_at, end_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'OPEN', ?, ?)`,
		pos.MarketID, pos.Platform, string(pos.Side), pos.EntryPrice, pos.Stake,
		pos.PotentialPayout, pos.Confidence, pos.Edge, string(pos.Archetype),
		pos.OpenedAt.UTC().Format(time.RFC3339), nullTime(pos.EndDate),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return 0, fmt.Errorf("storage.InsertPosition: %s: %w", pos.MarketID, ErrPositionExists)
		}
		return 0, fmt.Errorf("storage.InsertPosition: %s: %w", pos.MarketID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("storage.InsertPosition: last id: %w", err)
	}
	return id, nil
}

// SettlePosition cierra la posición OPEN del mercado y devuelve la fila
// cerrada. Error duro si no existe — el caller decide qué hacer.
func (s *Store) SettlePosition(ctx context.Context, marketID string, status domain.PositionStatus, pnl float64, at time.Time) (domain.PaperPosition, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE positions SET status = ?, realized_pnl = ?, closed_at = ?
		WHERE market_id = ? AND status = 'OPEN'`,
		string(status), pnl, at.UTC().Format(time.RFC3339), marketID,
	)
	if err != nil {
		return domain.PaperPosition{}, fmt.Errorf("storage.SettlePosition: %s: %w", marketID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.PaperPosition{}, fmt.Errorf("storage.SettlePosition: rows affected: %w", err)
	}
	if n == 0 {
		return domain.PaperPosition{}, fmt.Errorf("storage.SettlePosition: %s: %w", marketID, ErrNoOpenPosition)
	}

	row := s.db.QueryRowContext(ctx,
		selectPosition+` WHERE market_id = ? AND status = ? ORDER BY id DESC LIMIT 1`,
		marketID, string(status),
	)
	return scanPosition(row)
}

// OpenPositions devuelve todas las posiciones con status OPEN.
func (s *Store) OpenPositions(ctx context.Context) ([]domain.PaperPosition, error) {
	return s.queryPositions(ctx, selectPosition+` WHERE status = 'OPEN' ORDER BY opened_at`)
}

// StalePositions devuelve posiciones OPEN cuyo end_date ya pasó.
func (s *Store) StalePositions(ctx context.Context, now time.Time) ([]domain.PaperPosition, error) {
	return s.queryPositions(ctx,
		selectPosition+` WHERE status = 'OPEN' AND end_date IS NOT NULL AND end_date < ?`,
		now.UTC().Format(time.RFC3339),
	)
}

// AppendSnapshot añade una fila al ledger del portfolio.
func (s *Store) AppendSnapshot(ctx context.Context, snap domain.PortfolioSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO portfolio_history
			(bankroll, cumulative_pnl, trades, wins, losses, peak_bankroll,
			 drawdown, sharpe_rolling, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.Bankroll, snap.CumulativePnL, snap.Trades, snap.Wins, snap.Losses,
		snap.PeakBankroll, snap.Drawdown, snap.SharpeRolling,
		snap.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("storage.AppendSnapshot: %w", err)
	}
	return nil
}

// LatestSnapshot devuelve la fila más reciente del ledger.
func (s *Store) LatestSnapshot(ctx context.Context) (domain.PortfolioSnapshot, bool, error) {
	var snap domain.PortfolioSnapshot
	var createdAt sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, bankroll, cumulative_pnl, trades, wins, losses, peak_bankroll,
		       drawdown, sharpe_rolling, created_at
		FROM portfolio_history ORDER BY id DESC LIMIT 1`,
	).Scan(&snap.ID, &snap.Bankroll, &snap.CumulativePnL, &snap.Trades, &snap.Wins,
		&snap.Losses, &snap.PeakBankroll, &snap.Drawdown, &snap.SharpeRolling, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PortfolioSnapshot{}, false, nil
	}
	if err != nil {
		return domain.PortfolioSnapshot{}, false, fmt.Errorf("storage.LatestSnapshot: %w", err)
	}
	snap.CreatedAt = parseTime(createdAt)
	return snap, true, nil
}

// ClosedReturns devuelve los returns (P&L/stake) de las últimas posiciones
// cerradas, más antiguos primero. limit ≤ 0 = todas.
func (s *Store) ClosedReturns(ctx context.Context, limit int) ([]float64, error) {
	query := `
		SELECT realized_pnl, stake
		FROM (
			SELECT id, realized_pnl, stake FROM positions
			WHERE status IN ('WON', 'LOST') AND stake > 0
			ORDER BY id DESC %s
		) ORDER BY id`
	if limit > 0 {
		query = fmt.Sprintf(query, fmt.Sprintf("LIMIT %d", limit))
	} else {
		query = fmt.Sprintf(query, "")
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("storage.ClosedReturns: query: %w", err)
	}
	defer rows.Close()

	var returns []float64
	for rows.Next() {
		var pnl, stake float64
		if err := rows.Scan(&pnl, &stake); err != nil {
			return nil, fmt.Errorf("storage.ClosedReturns: scan: %w", err)
		}
		returns = append(returns, pnl/stake)
	}
	return returns, rows.Err()
}

// RecentOutcomes devuelve won/lost de las últimas posiciones cerradas,
// más recientes primero. EXPIRED no cuenta: no dice nada del skill.
func (s *Store) RecentOutcomes(ctx context.Context, limit int) ([]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status FROM positions
		WHERE status IN ('WON', 'LOST')
		ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.RecentOutcomes: query: %w", err)
	}
	defer rows.Close()

	var outcomes []bool
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return nil, fmt.Errorf("storage.RecentOutcomes: scan: %w", err)
		}
		outcomes = append(outcomes, status == string(domain.PositionWon))
	}
	return outcomes, rows.Err()
}

// --- helpers ---

const selectPosition = `
	SELECT id, market_id, platform, side, entry_price, stake, potential_payout,
	       confidence, edge, archetype, status, opened_at, closed_at,
	       realized_pnl, end_date
	FROM positions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (domain.PaperPosition, error) {
	var pos domain.PaperPosition
	var side, archetype, status string
	var openedAt, closedAt, endDate sql.NullString
	err := row.Scan(&pos.ID, &pos.MarketID, &pos.Platform, &side, &pos.EntryPrice,
		&pos.Stake, &pos.PotentialPayout, &pos.Confidence, &pos.Edge, &archetype,
		&status, &openedAt, &closedAt, &pos.RealizedPnL, &endDate)
	if err != nil {
		return domain.PaperPosition{}, fmt.Errorf("storage: scan position: %w", err)
	}
	pos.Side = domain.Side(side)
	pos.Archetype = domain.Archetype(archetype)
	pos.Status = domain.PositionStatus(status)
	pos.OpenedAt = parseTime(openedAt)
	pos.EndDate = parseTime(endDate)
	if closedAt.Valid {
		if t := parseTime(closedAt); !t.IsZero() {
			pos.ClosedAt = &t
		}
	}
	return pos, nil
}

func (s *Store) queryPositions(ctx context.Context, query string, args ...any) ([]domain.PaperPosition, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.PaperPosition
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}
