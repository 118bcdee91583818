package portfolio

// positions.go — apertura y cierre de posiciones paper y el ledger del
// portfolio. Las mutaciones fallan con error duro: perder una fila aquí es
// perder contabilidad de dinero.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/polysizer/internal/domain"
	"github.com/alejandrodnm/polysizer/internal/ports"
)

// OpenPosition abre una posición paper a partir de una decisión elegible.
// El invariante de una sola posición OPEN por mercado lo refuerza el store.
func (m *Manager) OpenPosition(ctx context.Context, sig domain.Signal, d domain.Decision) (domain.PaperPosition, error) {
	if !d.Eligible {
		return domain.PaperPosition{}, fmt.Errorf("portfolio.OpenPosition: decision %s not eligible: %s", d.ID, d.Reason)
	}

	now := m.now().UTC()
	cost := sig.CostBasis()
	pos := domain.PaperPosition{
		MarketID:        sig.MarketID,
		Platform:        sig.Platform,
		Side:            sig.Side,
		EntryPrice:      sig.Price,
		Stake:           d.BetSize,
		PotentialPayout: d.BetSize / cost,
		Confidence:      d.Empirical.Confidence,
		Edge:            d.Edge,
		Archetype:       d.Empirical.Archetype,
		Status:          domain.PositionOpen,
		OpenedAt:        now,
		EndDate:         now.Add(time.Duration(sig.DaysToClose * 24 * float64(time.Hour))),
	}

	id, err := m.store.InsertPosition(ctx, pos)
	if err != nil {
		return domain.PaperPosition{}, fmt.Errorf("portfolio.OpenPosition: %s: %w", sig.MarketID, err)
	}
	pos.ID = id

	slog.Info("position opened",
		"market", sig.MarketID, "side", sig.Side, "stake", pos.Stake,
		"entry", pos.EntryPrice, "payout", pos.PotentialPayout)
	return pos, nil
}

// ClosePosition liquida la posición OPEN del mercado contra el outcome
// (0 NO, 0.5 void, 1 YES), calcula el P&L realizado y añade un snapshot
// nuevo al ledger del portfolio.
func (m *Manager) ClosePosition(ctx context.Context, marketID string, outcome float64) (domain.PaperPosition, error) {
	if outcome != domain.OutcomeNo && outcome != domain.OutcomeVoid && outcome != domain.OutcomeYes {
		return domain.PaperPosition{}, fmt.Errorf("portfolio.ClosePosition: outcome %.2f not in {0, 0.5, 1}", outcome)
	}

	open, err := m.store.OpenPositions(ctx)
	if err != nil {
		return domain.PaperPosition{}, fmt.Errorf("portfolio.ClosePosition: %w", err)
	}
	var pos domain.PaperPosition
	found := false
	for _, p := range open {
		if p.MarketID == marketID {
			pos, found = p, true
			break
		}
	}
	if !found {
		return domain.PaperPosition{}, fmt.Errorf("portfolio.ClosePosition: %s: %w", marketID, ports.ErrNoOpenPosition)
	}

	pnl := pos.SettlePnL(outcome)
	status := domain.PositionLost
	switch {
	case outcome == domain.OutcomeVoid:
		// Mercado anulado: stake devuelto, ni win ni loss.
		status = domain.PositionExpired
	case pnl > 0:
		status = domain.PositionWon
	}

	closed, err := m.store.SettlePosition(ctx, marketID, status, pnl, m.now().UTC())
	if err != nil {
		return domain.PaperPosition{}, fmt.Errorf("portfolio.ClosePosition: settle %s: %w", marketID, err)
	}

	if err := m.appendSnapshot(ctx, closed); err != nil {
		return closed, fmt.Errorf("portfolio.ClosePosition: snapshot after %s: %w", marketID, err)
	}

	slog.Info("position closed",
		"market", marketID, "status", status, "pnl", pnl)
	return closed, nil
}

// ExpireStale cierra como EXPIRED las posiciones abiertas cuyo mercado ya
// pasó su fecha de resolución sin outcome. El stake vuelve al bankroll.
// Devuelve cuántas posiciones expiró.
func (m *Manager) ExpireStale(ctx context.Context) (int, error) {
	stale, err := m.store.StalePositions(ctx, m.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("portfolio.ExpireStale: %w", err)
	}

	expired := 0
	for _, p := range stale {
		closed, err := m.store.SettlePosition(ctx, p.MarketID, domain.PositionExpired, 0, m.now().UTC())
		if err != nil {
			return expired, fmt.Errorf("portfolio.ExpireStale: settle %s: %w", p.MarketID, err)
		}
		if err := m.appendSnapshot(ctx, closed); err != nil {
			return expired, fmt.Errorf("portfolio.ExpireStale: snapshot %s: %w", p.MarketID, err)
		}
		slog.Warn("position expired without resolution", "market", p.MarketID, "stake", p.Stake)
		expired++
	}
	return expired, nil
}

// Snapshot devuelve el estado actual del portfolio: la fila más reciente
// del ledger o, con el ledger vacío, el estado inicial sintetizado.
func (m *Manager) Snapshot(ctx context.Context) (domain.PortfolioSnapshot, error) {
	snap, ok, err := m.store.LatestSnapshot(ctx)
	if err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("portfolio.Snapshot: %w", err)
	}
	if !ok {
		return domain.PortfolioSnapshot{
			Bankroll:     m.cfg.InitialBankroll,
			PeakBankroll: m.cfg.InitialBankroll,
		}, nil
	}
	return snap, nil
}

// OpenPositions devuelve las posiciones actualmente abiertas.
func (m *Manager) OpenPositions(ctx context.Context) ([]domain.PaperPosition, error) {
	return m.store.OpenPositions(ctx)
}

// appendSnapshot deriva el snapshot post-cierre a partir del anterior y lo
// persiste. El Sharpe rueda sobre los últimos 20 returns cerrados con
// desviación muestral (corrección de Bessel).
func (m *Manager) appendSnapshot(ctx context.Context, closed domain.PaperPosition) error {
	prev, err := m.Snapshot(ctx)
	if err != nil {
		return err
	}

	next := domain.PortfolioSnapshot{
		Bankroll:      prev.Bankroll + closed.RealizedPnL,
		CumulativePnL: prev.CumulativePnL + closed.RealizedPnL,
		Trades:        prev.Trades + 1,
		Wins:          prev.Wins,
		Losses:        prev.Losses,
		PeakBankroll:  prev.PeakBankroll,
		CreatedAt:     m.now().UTC(),
	}
	switch closed.Status {
	case domain.PositionWon:
		next.Wins++
	case domain.PositionLost:
		next.Losses++
	}
	if next.Bankroll > next.PeakBankroll {
		next.PeakBankroll = next.Bankroll
	}
	if next.PeakBankroll > 0 {
		next.Drawdown = (next.PeakBankroll - next.Bankroll) / next.PeakBankroll
	}

	returns, err := m.store.ClosedReturns(ctx, 20)
	if err != nil {
		return err
	}
	if len(returns) >= 2 {
		if sd := domain.StdDev(returns); sd > 0 {
			next.SharpeRolling = domain.Mean(returns) / sd
		}
	}

	return m.store.AppendSnapshot(ctx, next)
}
