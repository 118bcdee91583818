package domain

import "time"

// PortfolioSnapshot es una fila del ledger append-only del portfolio.
// El estado actual es siempre "la fila más reciente".
type PortfolioSnapshot struct {
	ID           int64
	Bankroll     float64
	CumulativePnL float64
	Trades       int
	Wins         int
	Losses       int
	PeakBankroll float64
	Drawdown     float64 // fracción [0,1] desde el peak
	SharpeRolling float64
	CreatedAt    time.Time
}

// WinRate devuelve el win rate acumulado, 0 si no hay trades cerrados.
func (s PortfolioSnapshot) WinRate() float64 {
	decided := s.Wins + s.Losses
	if decided == 0 {
		return 0
	}
	return float64(s.Wins) / float64(decided)
}

// KellyRegime es el régimen del sizing dinámico según performance reciente.
type KellyRegime string

const (
	RegimePaused    KellyRegime = "paused"    // drawdown ≥ límite → stake 0
	RegimeBootstrap KellyRegime = "bootstrap" // pocos trades cerrados → 1/8 Kelly
	RegimeCold      KellyRegime = "cold"      // win rate reciente bajo → medio Kelly
	RegimeNormal    KellyRegime = "normal"
)

// Decision es el resultado de evaluar un signal: o un stake accionable o un
// rechazo estructurado con su razón. Los rechazos NO son errores.
type Decision struct {
	ID          string // uuid, para correlacionar logs
	Eligible    bool
	Reason      string
	Edge        float64
	KellyPct    float64 // fracción raw edge/odds antes de modifiers
	BetSize     float64
	Regime      KellyRegime
	Empirical   EmpiricalBreakdown
	VolumeSpike VolumeSpikeInfo
	TimeDecay   TimeDecayInfo
	Modifiers   []string // trail legible de cada ajuste aplicado
}

// EmpiricalBreakdown expone los intermedios del confidence engine para
// auditar cada decisión.
type EmpiricalBreakdown struct {
	Archetype        Archetype
	Zone             PriceZone
	Killed           bool
	KillReason       string
	BucketWinRate    float64
	BucketSamples    int
	ArchetypeWinRate float64
	SmoothedRate     float64
	ZoneMultiplier   float64
	Confidence       float64 // final, clamped [0.08, 0.92]
}

// VolumeSpikeInfo describe el estado del detector de spikes de volumen.
type VolumeSpikeInfo struct {
	Ratio   float64 // volumen actual / baseline
	Spiking bool
}

// TimeDecayInfo describe el modifier por tiempo a resolución.
type TimeDecayInfo struct {
	DaysToClose float64
	Bucket      string
	Multiplier  float64
}
