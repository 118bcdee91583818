package ic

// tracker.go — mide si cada source aporta información predictiva real.
//
// El IC (information coefficient) es la correlación de rangos de Spearman
// entre la confidence declarada al emitir y el outcome final del mercado.
// Un source con |IC| ≈ 0 es ruido aunque "acierte" a veces: sus confidences
// no ordenan los outcomes mejor que el azar.

import (
	"context"
	"fmt"
	"time"

	"github.com/alejandrodnm/polysizer/internal/domain"
	"github.com/alejandrodnm/polysizer/internal/ports"
)

// Status clasifica la calidad de un source. No es un error — los callers
// hacen match sobre el valor.
type Status string

const (
	StatusInsufficientData Status = "insufficient_data"
	StatusKill             Status = "kill" // |IC| < kill threshold
	StatusWarn             Status = "warn"
	StatusOK               Status = "ok"
)

// Config controla los umbrales del tracker.
type Config struct {
	MinSamples    int     // mínimo de filas resueltas para calcular IC
	KillThreshold float64 // |IC| por debajo → kill
	WarnThreshold float64
	WindowDays    int
}

// DefaultConfig devuelve los umbrales de producción.
func DefaultConfig() Config {
	return Config{MinSamples: 10, KillThreshold: 0.03, WarnThreshold: 0.05, WindowDays: 30}
}

// Result es el IC de un source en la ventana pedida.
type Result struct {
	Source  string
	IC      float64
	Samples int
	Status  Status
}

// Report agrega el IC de todos los sources con recomendación accionable.
type Report struct {
	Sources         []Result
	OverallIC       float64 // promedio sobre sources con datos suficientes
	Recommendations []string
}

// Tracker registra predicciones y las resuelve contra outcomes reales.
type Tracker struct {
	store ports.PredictionStore
	cfg   Config
	now   func() time.Time
}

// New crea un Tracker sobre el prediction store dado.
func New(cfg Config, store ports.PredictionStore) *Tracker {
	if cfg.MinSamples <= 0 {
		cfg = DefaultConfig()
	}
	return &Tracker{store: store, cfg: cfg, now: time.Now}
}

// Record añade una fila sin resolver al ledger, congelando la confidence
// y el precio del momento de emisión.
func (t *Tracker) Record(ctx context.Context, p domain.SignalPrediction) error {
	if p.Source == "" || p.MarketID == "" {
		return fmt.Errorf("ic.Record: source and market id required")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = t.now().UTC()
	}
	if p.Archetype == "" {
		p.Archetype = domain.ArchetypeOther
	}
	if _, err := t.store.SavePrediction(ctx, p); err != nil {
		return fmt.Errorf("ic.Record: %w", err)
	}
	return nil
}

// Resolve marca todas las filas sin resolver del mercado con el outcome.
// Outcome ∈ {0, 0.5, 1} para NO/void/YES. Idempotente: devuelve cuántas
// filas tocó, 0 si ya estaba resuelto.
func (t *Tracker) Resolve(ctx context.Context, marketID string, outcome float64) (int64, error) {
	if outcome != domain.OutcomeNo && outcome != domain.OutcomeVoid && outcome != domain.OutcomeYes {
		return 0, fmt.Errorf("ic.Resolve: outcome %.2f not in {0, 0.5, 1}", outcome)
	}
	n, err := t.store.ResolveMarket(ctx, marketID, outcome, t.now())
	if err != nil {
		return 0, fmt.Errorf("ic.Resolve: %w", err)
	}
	return n, nil
}

// IC calcula el Spearman IC del source sobre la ventana de días dada
// (0 = la ventana por defecto de la config).
func (t *Tracker) IC(ctx context.Context, source string, windowDays int) (Result, error) {
	if windowDays <= 0 {
		windowDays = t.cfg.WindowDays
	}
	since := t.now().UTC().AddDate(0, 0, -windowDays)

	preds, err := t.store.ResolvedBySource(ctx, source, since)
	if err != nil {
		return Result{}, fmt.Errorf("ic.IC: %s: %w", source, err)
	}

	res := Result{Source: source, Samples: len(preds)}
	if len(preds) < t.cfg.MinSamples {
		res.Status = StatusInsufficientData
		return res, nil
	}

	confs := make([]float64, len(preds))
	outcomes := make([]float64, len(preds))
	for i, p := range preds {
		confs[i] = p.Confidence
		outcomes[i] = p.Outcome
	}
	res.IC = domain.Spearman(confs, outcomes)
	res.Status = t.classify(res.IC)
	return res, nil
}

func (t *Tracker) classify(ic float64) Status {
	abs := ic
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs < t.cfg.KillThreshold:
		return StatusKill
	case abs < t.cfg.WarnThreshold:
		return StatusWarn
	default:
		return StatusOK
	}
}

// Report calcula el IC de cada source conocido y agrega recomendaciones.
// Siempre degrada con gracia: un source sin datos aparece como
// insufficient_data, nunca rompe el reporte.
func (t *Tracker) Report(ctx context.Context) (Report, error) {
	sources, err := t.store.Sources(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("ic.Report: %w", err)
	}

	var rep Report
	var sum float64
	var counted int
	for _, src := range sources {
		res, err := t.IC(ctx, src, 0)
		if err != nil {
			return Report{}, err
		}
		rep.Sources = append(rep.Sources, res)

		switch res.Status {
		case StatusKill:
			rep.Recommendations = append(rep.Recommendations,
				fmt.Sprintf("KILL %s: IC %.3f over %d signals — no predictive information, disable it", src, res.IC, res.Samples))
		case StatusWarn:
			rep.Recommendations = append(rep.Recommendations,
				fmt.Sprintf("WARN %s: IC %.3f over %d signals — deweight until it proves out", src, res.IC, res.Samples))
		}
		if res.Status != StatusInsufficientData {
			sum += res.IC
			counted++
		}
	}
	if counted > 0 {
		rep.OverallIC = sum / float64(counted)
	}
	return rep, nil
}
