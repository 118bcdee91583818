package domain

import (
	"errors"
	"fmt"
	"time"
)

// Side is the direction of a binary market bet.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Signal is a directional trading signal emitted by an upstream detector.
// Upstream confidence arrives either in [0,1] or in [0,100] depending on the
// detector; Normalize folds both into [0,1] exactly once at ingestion.
type Signal struct {
	Source      string    `json:"source"`
	MarketID    string    `json:"market_id"`
	MarketTitle string    `json:"market_title"`
	Side        Side      `json:"side"`
	Confidence  float64   `json:"confidence"` // [0,1] after Normalize
	Price       float64   `json:"price"`      // YES price in [0,1]
	Volume24h   float64   `json:"volume"`
	DaysToClose float64   `json:"days_to_close"`
	Platform    string    `json:"platform"`
	ReceivedAt  time.Time `json:"received_at,omitempty"`
}

var (
	ErrInvalidSide  = errors.New("side must be YES or NO")
	ErrInvalidPrice = errors.New("price must be in (0, 1)")
)

// Normalize valida el signal y normaliza la confidence a [0,1].
// Debe llamarse una sola vez, en el punto de entrada — ningún consumidor
// posterior vuelve a adivinar unidades.
func (s *Signal) Normalize() error {
	if s.Side != SideYes && s.Side != SideNo {
		return fmt.Errorf("domain.Signal.Normalize: %q: %w", s.Side, ErrInvalidSide)
	}
	if s.Price <= 0 || s.Price >= 1 {
		return fmt.Errorf("domain.Signal.Normalize: %.4f: %w", s.Price, ErrInvalidPrice)
	}
	if s.Confidence > 1 {
		s.Confidence /= 100
	}
	if s.Confidence < 0 {
		s.Confidence = 0
	}
	if s.Confidence > 1 {
		return fmt.Errorf("domain.Signal.Normalize: confidence %.4f out of range", s.Confidence)
	}
	if s.ReceivedAt.IsZero() {
		s.ReceivedAt = time.Now().UTC()
	}
	return nil
}

// CostBasis devuelve el coste por share del bet: el precio YES para YES,
// 1-precio para NO.
func (s Signal) CostBasis() float64 {
	if s.Side == SideNo {
		return 1 - s.Price
	}
	return s.Price
}

// ImpliedProbability es la probabilidad implícita del lado apostado.
// Coincide con el coste: un NO a precio YES 0.80 implica 20% de probabilidad.
func (s Signal) ImpliedProbability() float64 {
	return s.CostBasis()
}

// Odds devuelve las odds decimales netas (b en la fórmula de Kelly).
func (s Signal) Odds() float64 {
	cost := s.CostBasis()
	if cost <= 0 {
		return 0
	}
	return 1/cost - 1
}
