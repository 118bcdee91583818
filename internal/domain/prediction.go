package domain

import "time"

// Resolution outcomes for a binary market. Void (0.5) markets count as
// resolved for IC purposes but carry no directional information.
const (
	OutcomeNo   = 0.0
	OutcomeVoid = 0.5
	OutcomeYes  = 1.0
)

// SignalPrediction is one row of the IC ledger: what a source claimed at
// emission time, frozen so it can later be scored against reality.
// Immutable once resolved except for the resolution fields, which transition
// exactly once from unset to set.
type SignalPrediction struct {
	ID         int64
	Source     string
	MarketID   string
	Side       Side
	Confidence float64 // at emission, [0,1]
	Price      float64 // at emission
	Archetype  Archetype
	CreatedAt  time.Time
	Resolved   bool
	Outcome    float64 // 0 / 0.5 / 1, meaningless until Resolved
	ResolvedAt time.Time
}

// BucketStats is the resolved win/loss tally for a historical bucket
// (archetype, optionally narrowed by side and price zone). Void outcomes
// are excluded — they say nothing about directional skill.
type BucketStats struct {
	Wins  int
	Total int
}

// Rate is the realized win rate of the bucket, 0 when empty.
func (b BucketStats) Rate() float64 {
	if b.Total == 0 {
		return 0
	}
	return float64(b.Wins) / float64(b.Total)
}

// Won reports whether the predicted side ended on the right side of the
// outcome. Void resolutions are neither a win nor a loss.
func (p SignalPrediction) Won() bool {
	if !p.Resolved || p.Outcome == OutcomeVoid {
		return false
	}
	if p.Side == SideYes {
		return p.Outcome == OutcomeYes
	}
	return p.Outcome == OutcomeNo
}

// Return is the realized per-unit return of the prediction: what $1 staked
// on the predicted side at the recorded price would have made.
func (p SignalPrediction) Return() float64 {
	if !p.Resolved || p.Outcome == OutcomeVoid {
		return 0
	}
	cost := p.Price
	if p.Side == SideNo {
		cost = 1 - p.Price
	}
	if cost <= 0 {
		return 0
	}
	if p.Won() {
		return (1 - cost) / cost
	}
	return -1
}
