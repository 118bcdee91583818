package calibration

// calibrator.go — curvas de calibración por source, pesos relativos por IC²
// y decay del edge por tiempo hasta resolución.
//
// La pregunta que responde este paquete es simple: cuando un source dice
// "70% de confianza", ¿gana de verdad el 70% de las veces? La curva compara
// lo predicho contra lo realizado por bins y la ECE resume el desajuste.

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/alejandrodnm/polysizer/internal/domain"
	"github.com/alejandrodnm/polysizer/internal/ic"
	"github.com/alejandrodnm/polysizer/internal/ports"
)

// Config controla el binning y la ventana de lookup.
type Config struct {
	Bins             int // bins de ancho uniforme sobre [0,1]
	MinPerBin        int // bins con menos samples no cuentan
	MinTotal         int // por debajo → insufficient_data
	LookupWindowDays int // ventana para Calibrate
}

// DefaultConfig devuelve la configuración de producción.
func DefaultConfig() Config {
	return Config{Bins: 5, MinPerBin: 5, MinTotal: 20, LookupWindowDays: 7}
}

// Calibrator construye curvas sobre el ledger de predicciones y deriva
// multiplicadores de ajuste. No muta el ledger.
type Calibrator struct {
	store   ports.PredictionStore
	tracker *ic.Tracker
	cfg     Config
	now     func() time.Time
}

// New crea un Calibrator sobre el ledger y el tracker dados.
func New(cfg Config, store ports.PredictionStore, tracker *ic.Tracker) *Calibrator {
	if cfg.Bins <= 0 {
		cfg = DefaultConfig()
	}
	return &Calibrator{store: store, tracker: tracker, cfg: cfg, now: time.Now}
}

// Curve construye la curva de calibración completa de un source sobre todo
// su histórico resuelto. Los outcomes void se excluyen.
func (c *Calibrator) Curve(ctx context.Context, source string) (domain.CalibrationCurve, error) {
	rows, err := c.store.ResolvedBySource(ctx, source, time.Time{})
	if err != nil {
		return domain.CalibrationCurve{}, fmt.Errorf("calibration.Curve: %w", err)
	}

	curve := domain.CalibrationCurve{Source: source}
	bins, total := c.binPredictions(rows)
	curve.Bins = bins
	curve.Total = total

	if total < c.cfg.MinTotal {
		curve.Verdict = "insufficient_data"
		return curve, nil
	}

	// ECE ponderada por samples, en puntos porcentuales.
	var weighted float64
	var counted int
	for _, b := range bins {
		weighted += float64(b.Samples) * abs(b.MeanPredicted-b.RealizedRate)
		counted += b.Samples
	}
	if counted > 0 {
		curve.ECE = weighted / float64(counted) * 100
	}
	curve.Verdict = verdict(curve.ECE)
	return curve, nil
}

// Calibrate reescala una confidence cruda por el ratio realizado/predicho
// del bin correspondiente dentro de la ventana reciente. Sin bin con
// suficientes samples devuelve el valor crudo tal cual.
func (c *Calibrator) Calibrate(ctx context.Context, source string, raw float64) (float64, error) {
	since := c.now().AddDate(0, 0, -c.cfg.LookupWindowDays)
	rows, err := c.store.ResolvedBySource(ctx, source, since)
	if err != nil {
		return raw, fmt.Errorf("calibration.Calibrate: %w", err)
	}

	bins, _ := c.binPredictions(rows)
	for _, b := range bins {
		if raw >= b.Low && raw < b.High || (raw == 1 && b.High == 1) {
			adjusted := raw * b.Adjustment()
			if adjusted < 0 {
				adjusted = 0
			}
			if adjusted > 1 {
				adjusted = 1
			}
			return adjusted, nil
		}
	}
	return raw, nil
}

// SourceWeights reparte peso relativo proporcional al IC al cuadrado.
// Solo participan sources con IC positivo y datos suficientes; el cuadrado
// castiga a los sources mediocres más que un reparto lineal.
func (c *Calibrator) SourceWeights(ctx context.Context) (map[string]float64, error) {
	report, err := c.tracker.Report(ctx)
	if err != nil {
		return nil, fmt.Errorf("calibration.SourceWeights: %w", err)
	}

	weights := make(map[string]float64)
	var sum float64
	for _, r := range report.Sources {
		if r.Status == ic.StatusInsufficientData || r.IC <= 0 {
			continue
		}
		w := r.IC * r.IC
		weights[r.Source] = w
		sum += w
	}
	if sum == 0 {
		return map[string]float64{}, nil
	}
	for s, w := range weights {
		weights[s] = w / sum
	}
	return weights, nil
}

// decayBuckets en orden de urgencia. El límite superior es exclusivo.
var decayBuckets = []struct {
	label string
	max   time.Duration
}{
	{"<6h", 6 * time.Hour},
	{"6-24h", 24 * time.Hour},
	{"1-3d", 72 * time.Hour},
	{"3-7d", 7 * 24 * time.Hour},
	{"7-30d", 30 * 24 * time.Hour},
}

// SignalDecay calcula el IC de un source por bucket de tiempo hasta
// resolución. Un source cuyo IC se desploma pasadas 24h pide ejecución
// rápida; uno estable puede esperar mejor precio.
func (c *Calibrator) SignalDecay(ctx context.Context, source string) ([]domain.DecayBucket, error) {
	rows, err := c.store.ResolvedBySource(ctx, source, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("calibration.SignalDecay: %w", err)
	}

	confs := make([][]float64, len(decayBuckets))
	outcomes := make([][]float64, len(decayBuckets))
	for _, p := range rows {
		age := p.ResolvedAt.Sub(p.CreatedAt)
		if age < 0 {
			continue
		}
		for i, b := range decayBuckets {
			if age < b.max {
				confs[i] = append(confs[i], p.Confidence)
				outcomes[i] = append(outcomes[i], p.Outcome)
				break
			}
		}
	}

	out := make([]domain.DecayBucket, len(decayBuckets))
	for i, b := range decayBuckets {
		out[i] = domain.DecayBucket{
			Label:   b.label,
			Samples: len(confs[i]),
			IC:      domain.Spearman(confs[i], outcomes[i]),
		}
	}
	return out, nil
}

// binPredictions agrupa filas resueltas no-void en bins de ancho uniforme
// y descarta los que no llegan al mínimo de samples. Devuelve los bins
// supervivientes ordenados y el total de filas consideradas.
func (c *Calibrator) binPredictions(rows []domain.SignalPrediction) ([]domain.CalibrationBin, int) {
	width := 1.0 / float64(c.cfg.Bins)
	sums := make([]float64, c.cfg.Bins)
	wins := make([]int, c.cfg.Bins)
	counts := make([]int, c.cfg.Bins)

	total := 0
	for _, p := range rows {
		if !p.Resolved || p.Outcome == domain.OutcomeVoid {
			continue
		}
		idx := int(p.Confidence / width)
		if idx >= c.cfg.Bins {
			idx = c.cfg.Bins - 1
		}
		sums[idx] += p.Confidence
		counts[idx]++
		if p.Won() {
			wins[idx]++
		}
		total++
	}

	var bins []domain.CalibrationBin
	for i := 0; i < c.cfg.Bins; i++ {
		if counts[i] < c.cfg.MinPerBin {
			continue
		}
		mean := sums[i] / float64(counts[i])
		realized := float64(wins[i]) / float64(counts[i])
		bins = append(bins, domain.CalibrationBin{
			Low:           float64(i) * width,
			High:          float64(i+1) * width,
			Samples:       counts[i],
			MeanPredicted: mean,
			RealizedRate:  realized,
			Overconfident: mean > realized,
		})
	}
	sort.Slice(bins, func(a, b int) bool { return bins[a].Low < bins[b].Low })
	return bins, total
}

func verdict(ece float64) string {
	switch {
	case ece < 3:
		return "excellent"
	case ece < 8:
		return "good"
	case ece < 15:
		return "fair"
	default:
		return "poor"
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
