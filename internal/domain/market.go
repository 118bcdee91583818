package domain

import "time"

// MarketSnapshot es el último estado conocido de un mercado binario.
// Lo mantiene el state.Store; todo lo derivado (liquidez, hot watchlist)
// se calcula, nunca se almacena.
type MarketSnapshot struct {
	MarketID   string
	Title      string
	YesPrice   float64
	NoPrice    float64
	Volume24h  float64
	Liquidity  float64
	EndDate    time.Time
	Category   string
	BestBid    float64 // top-of-book cacheado
	BestAsk    float64
	UpdatedAt  time.Time
}

// IsLiquid devuelve true si el volumen 24h supera el floor dado.
func (m MarketSnapshot) IsLiquid(minVolume float64) bool {
	return m.Volume24h >= minVolume
}

// IsContested devuelve true si el precio YES está en la zona disputada
// [0.30, 0.70] — donde un edge informacional todavía puede existir.
func (m MarketSnapshot) IsContested() bool {
	return m.YesPrice >= 0.30 && m.YesPrice <= 0.70
}

// IsExpiringSoon devuelve true si quedan ≤48h para la resolución.
func (m MarketSnapshot) IsExpiringSoon(now time.Time) bool {
	if m.EndDate.IsZero() {
		return false
	}
	left := m.EndDate.Sub(now)
	return left >= 0 && left <= 48*time.Hour
}

// IsHighValueTarget es la conjunción de los tres predicados: líquido,
// disputado y cerca de resolver.
func (m MarketSnapshot) IsHighValueTarget(minVolume float64, now time.Time) bool {
	return m.IsLiquid(minVolume) && m.IsContested() && m.IsExpiringSoon(now)
}

// MarketPatch es una actualización parcial de un snapshot. Los punteros nil
// significan "no tocar este campo".
type MarketPatch struct {
	Title     *string
	YesPrice  *float64
	NoPrice   *float64
	Volume24h *float64
	Liquidity *float64
	EndDate   *time.Time
	Category  *string
	BestBid   *float64
	BestAsk   *float64
}

// SignalScore es la puntuación de un source para un mercado. Una fila por
// par (market, source) — un segundo update reemplaza, nunca acumula.
type SignalScore struct {
	MarketID        string
	Source          string
	Side            Side
	RawConfidence   float64
	BayesianConf    float64
	CategoryMult    float64
	FinalConfidence float64
	Rationale       string
	UpdatedAt       time.Time
}
