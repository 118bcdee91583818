package confidence

// engine.go — convierte la confidence auto-reportada del detector en una
// probabilidad de win honesta, sacada del histórico de outcomes.
//
// Pipeline por signal: classify → kill → smooth → zone → clamp.
// Un signal matado devuelve confidence 0 y nunca se dimensiona — las kill
// rules son absolutas, independientes del sample size.

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/polysizer/internal/domain"
)

// History es la vista del ledger de predicciones que necesita el engine.
type History interface {
	BucketStats(ctx context.Context, arch domain.Archetype, side domain.Side, zone domain.PriceZone) (domain.BucketStats, error)
	TotalResolved(ctx context.Context) (int, error)
}

// Config controla las kill rules y el clamp.
type Config struct {
	PriceFloor      float64 // precio absoluto por debajo → kill
	CheapAboveYes   float64 // price_above + YES + precio bajo este → kill
	ClampMin        float64
	ClampMax        float64
	MinZoneSamples  int // muestras para aplicar el segundo pass de smoothing
}

// DefaultConfig devuelve la configuración empírica de producción.
func DefaultConfig() Config {
	return Config{
		PriceFloor:     0.25,
		CheapAboveYes:  0.40,
		ClampMin:       0.08,
		ClampMax:       0.92,
		MinZoneSamples: 2,
	}
}

// killedArchetypes son los archetypes históricamente imposibles de ganar.
// Se matan siempre, da igual cuánta confidence declare el detector.
var killedArchetypes = map[domain.Archetype]string{
	domain.ArchetypeIntradayUpDown: "intraday up/down is a coinflip with fees",
	domain.ArchetypePriceRange:     "price-range binaries lose to volatility",
	domain.ArchetypeLongshot:       "directional longshots never pay their implied odds",
	domain.ArchetypeOther:          "unclassified archetype has no historical basis",
}

// zoneMultipliers son los ajustes empíricos por banda de precio. La banda
// sub-30¢ hunde la confidence; la sweet spot 65-75¢ la sube.
var zoneMultipliers = map[domain.PriceZone]float64{
	domain.ZoneGarbage:   0.25,
	domain.ZoneLow:       0.85,
	domain.ZoneCoinflip:  0.95,
	domain.ZoneMid:       1.00,
	domain.ZoneSweetSpot: 1.15,
	domain.ZoneHigh:      1.05,
	domain.ZoneNearLock:  0.90,
}

// Engine produce la win probability empírica de un signal.
type Engine struct {
	hist History
	cfg  Config
}

// New crea un Engine sobre el histórico dado.
func New(cfg Config, hist History) *Engine {
	if cfg.ClampMax <= 0 {
		cfg = DefaultConfig()
	}
	return &Engine{hist: hist, cfg: cfg}
}

// Evaluate corre el pipeline completo y devuelve el breakdown auditable.
// El signal debe venir normalizado.
func (e *Engine) Evaluate(ctx context.Context, sig domain.Signal) (domain.EmpiricalBreakdown, error) {
	bd := domain.EmpiricalBreakdown{
		Archetype: domain.ClassifyTitle(sig.MarketTitle),
		Zone:      domain.ZoneForPrice(sig.Price),
	}

	if reason, killed := e.killCheck(sig, bd.Archetype); killed {
		bd.Killed = true
		bd.KillReason = reason
		return bd, nil
	}

	total, err := e.hist.TotalResolved(ctx)
	if err != nil {
		return bd, fmt.Errorf("confidence.Evaluate: total resolved: %w", err)
	}
	prior := priorWeight(total)

	archStats, err := e.hist.BucketStats(ctx, bd.Archetype, "", "")
	if err != nil {
		return bd, fmt.Errorf("confidence.Evaluate: archetype bucket: %w", err)
	}
	bucketStats, err := e.hist.BucketStats(ctx, bd.Archetype, sig.Side, "")
	if err != nil {
		return bd, fmt.Errorf("confidence.Evaluate: side bucket: %w", err)
	}

	// Sin histórico del archetype, el prior es la confidence del detector —
	// no hay nada mejor hacia lo que encoger.
	archRate := sig.Confidence
	if archStats.Total > 0 {
		archRate = archStats.Rate()
	}
	bd.ArchetypeWinRate = archRate
	bd.BucketWinRate = bucketStats.Rate()
	bd.BucketSamples = bucketStats.Total

	// Smoothing jerárquico: el bucket (archetype, side) se encoge hacia el
	// rate del archetype con peso inverso al histórico total.
	smoothed := (float64(bucketStats.Wins) + prior*archRate) / (float64(bucketStats.Total) + prior)

	// Segundo pass hacia el bucket fino (archetype, side, zone) si tiene
	// muestras suficientes.
	zoneStats, err := e.hist.BucketStats(ctx, bd.Archetype, sig.Side, bd.Zone)
	if err != nil {
		return bd, fmt.Errorf("confidence.Evaluate: zone bucket: %w", err)
	}
	if zoneStats.Total >= e.cfg.MinZoneSamples {
		smoothed = (float64(zoneStats.Wins) + prior*smoothed) / (float64(zoneStats.Total) + prior)
	}
	bd.SmoothedRate = smoothed

	bd.ZoneMultiplier = zoneMultipliers[bd.Zone]
	bd.Confidence = clamp(smoothed*bd.ZoneMultiplier, e.cfg.ClampMin, e.cfg.ClampMax)
	return bd, nil
}

// Clamp acota una confidence a los mismos límites del engine. Cualquier
// ajuste posterior al pipeline (calibración incluida) tiene que pasar por
// aquí: nada se trata como certeza.
func (e *Engine) Clamp(v float64) float64 {
	return clamp(v, e.cfg.ClampMin, e.cfg.ClampMax)
}

// Edge devuelve el edge honesto: confidence calibrada menos cost basis.
func Edge(bd domain.EmpiricalBreakdown, sig domain.Signal) float64 {
	if bd.Killed {
		return 0
	}
	return bd.Confidence - sig.CostBasis()
}

func (e *Engine) killCheck(sig domain.Signal, arch domain.Archetype) (string, bool) {
	if sig.Price < e.cfg.PriceFloor {
		return fmt.Sprintf("price %.2f below absolute floor %.2f", sig.Price, e.cfg.PriceFloor), true
	}
	if reason, ok := killedArchetypes[arch]; ok {
		return reason, true
	}
	if arch == domain.ArchetypePriceAbove && sig.Side == domain.SideYes && sig.Price < e.cfg.CheapAboveYes {
		return "cheap price-above YES bets are lottery tickets", true
	}
	return "", false
}

// priorWeight es el peso del prior en el smoothing: con poco histórico el
// prior domina; con mucho, el bucket manda. Step function 10/5/3/1 según
// el total resuelto cruza 30/100/300.
func priorWeight(totalResolved int) float64 {
	switch {
	case totalResolved < 30:
		return 10
	case totalResolved < 100:
		return 5
	case totalResolved < 300:
		return 3
	default:
		return 1
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
