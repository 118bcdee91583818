package domain

import "time"

// PositionStatus represents the lifecycle of a paper position.
type PositionStatus string

const (
	PositionOpen    PositionStatus = "OPEN"
	PositionWon     PositionStatus = "WON"
	PositionLost    PositionStatus = "LOST"
	PositionExpired PositionStatus = "EXPIRED"
)

// PaperPosition is a simulated position opened by the sizing engine.
// Invariant: at most one OPEN position per market id.
type PaperPosition struct {
	ID              int64
	MarketID        string
	Platform        string
	Side            Side
	EntryPrice      float64 // YES price at entry
	Stake           float64
	PotentialPayout float64
	Confidence      float64 // calibrated, at entry
	Edge            float64 // at entry
	Archetype       Archetype
	Status          PositionStatus
	OpenedAt        time.Time
	ClosedAt        *time.Time
	RealizedPnL     float64
	EndDate         time.Time
}

// CostBasis devuelve el coste por share del lado apostado.
func (p PaperPosition) CostBasis() float64 {
	if p.Side == SideNo {
		return 1 - p.EntryPrice
	}
	return p.EntryPrice
}

// SettlePnL calcula el P&L realizado para un outcome YES (1), NO (0)
// o void (0.5, devuelve el stake → P&L cero).
func (p PaperPosition) SettlePnL(outcome float64) float64 {
	if outcome == OutcomeVoid {
		return 0
	}
	won := (p.Side == SideYes && outcome == OutcomeYes) ||
		(p.Side == SideNo && outcome == OutcomeNo)
	if won {
		cost := p.CostBasis()
		if cost <= 0 {
			return 0
		}
		return p.Stake * (1 - cost) / cost
	}
	return -p.Stake
}

// ReturnFraction es el P&L realizado relativo al stake, para la serie de
// returns históricos que alimenta el haircut de Kelly.
func (p PaperPosition) ReturnFraction() float64 {
	if p.Stake <= 0 {
		return 0
	}
	return p.RealizedPnL / p.Stake
}
