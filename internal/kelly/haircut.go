package kelly

// haircut.go — encoge la fracción de Kelly según la incertidumbre del edge.
//
// Kelly asume que conoces tu edge. No lo conoces: lo estimas de una serie
// corta de trades. El haircut cuantifica esa incertidumbre con bootstrap
// (CV de las medias remuestreadas) y después simula equity paths para que
// el drawdown de cola quede bajo el techo configurado. El resultado nunca
// sube: cada etapa solo puede recortar.

import (
	"fmt"
	"math/rand"

	"github.com/alejandrodnm/polysizer/internal/domain"
)

// Config controla el bootstrap y la simulación Monte Carlo.
type Config struct {
	MinTrades       int     // por debajo → haircut fijo, sin bootstrap
	FlatHaircut     float64 // recorte fijo con histórico corto
	BootstrapIters  int
	CVFloor         float64
	CVCap           float64
	MonteCarloPaths int
	MinSteps        int
	DrawdownCeiling float64 // p95 de max drawdown tolerado
	SearchIters     int     // iteraciones del binary search
}

// DefaultConfig devuelve la configuración de producción.
func DefaultConfig() Config {
	return Config{
		MinTrades:       15,
		FlatHaircut:     0.30,
		BootstrapIters:  1000,
		CVFloor:         0.10,
		CVCap:           0.60,
		MonteCarloPaths: 10_000,
		MinSteps:        50,
		DrawdownCeiling: 0.20,
		SearchIters:     10,
	}
}

// Result reporta cada ajuste aplicado, auditable de principio a fin.
type Result struct {
	RawKelly      float64
	AdjustedKelly float64 // tras el CV haircut
	FinalKelly    float64 // tras el drawdown override, ≤ AdjustedKelly
	CV            float64
	DrawdownP50   float64
	DrawdownP95   float64
	DrawdownP99   float64
	Trail         []string
}

// Haircut aplica el pipeline completo a una fracción raw de Kelly dada la
// serie de returns históricos por trade. El rng inyectado hace el resultado
// determinista en tests.
func Haircut(cfg Config, raw float64, returns []float64, rng *rand.Rand) Result {
	res := Result{RawKelly: raw}
	res.Trail = append(res.Trail, fmt.Sprintf("raw kelly %.4f", raw))

	if raw <= 0 {
		res.Trail = append(res.Trail, "raw kelly non-positive, nothing to size")
		return res
	}

	// Con histórico corto el bootstrap solo mediría ruido: recorte fijo.
	if len(returns) < cfg.MinTrades {
		res.AdjustedKelly = raw * (1 - cfg.FlatHaircut)
		res.FinalKelly = res.AdjustedKelly
		res.Trail = append(res.Trail, fmt.Sprintf(
			"only %d resolved trades (<%d): flat %.0f%% haircut → %.4f",
			len(returns), cfg.MinTrades, cfg.FlatHaircut*100, res.FinalKelly))
		return res
	}

	res.CV = bootstrapCV(cfg, returns, rng)
	res.AdjustedKelly = raw * (1 - res.CV)
	res.Trail = append(res.Trail, fmt.Sprintf(
		"bootstrap CV %.3f → adjusted kelly %.4f", res.CV, res.AdjustedKelly))

	dd := simulateDrawdowns(cfg, res.AdjustedKelly, returns, rng)
	res.DrawdownP50 = domain.Percentile(dd, 50)
	res.DrawdownP95 = domain.Percentile(dd, 95)
	res.DrawdownP99 = domain.Percentile(dd, 99)
	res.Trail = append(res.Trail, fmt.Sprintf(
		"simulated drawdown p50 %.1f%% p95 %.1f%% p99 %.1f%%",
		res.DrawdownP50*100, res.DrawdownP95*100, res.DrawdownP99*100))

	res.FinalKelly = res.AdjustedKelly
	if res.DrawdownP95 > cfg.DrawdownCeiling {
		res.FinalKelly = searchSafeFraction(cfg, res.AdjustedKelly, returns, rng)
		res.Trail = append(res.Trail, fmt.Sprintf(
			"p95 drawdown %.1f%% over ceiling %.1f%%: searched down to %.4f",
			res.DrawdownP95*100, cfg.DrawdownCeiling*100, res.FinalKelly))
	}
	return res
}

// bootstrapCV remuestrea la serie con reemplazo y devuelve el coeficiente
// de variación de las medias, clamped a [CVFloor, CVCap].
func bootstrapCV(cfg Config, returns []float64, rng *rand.Rand) float64 {
	n := len(returns)
	means := make([]float64, cfg.BootstrapIters)
	sample := make([]float64, n)
	for i := 0; i < cfg.BootstrapIters; i++ {
		for j := 0; j < n; j++ {
			sample[j] = returns[rng.Intn(n)]
		}
		means[i] = domain.Mean(sample)
	}

	mean := domain.Mean(returns)
	if mean == 0 {
		return cfg.CVCap
	}
	cv := domain.StdDev(means) / abs(mean)

	if cv < cfg.CVFloor {
		cv = cfg.CVFloor
	}
	if cv > cfg.CVCap {
		cv = cfg.CVCap
	}
	return cv
}

// simulateDrawdowns genera equity paths muestreando returns históricos con
// la fracción dada y devuelve el max drawdown de cada path.
func simulateDrawdowns(cfg Config, fraction float64, returns []float64, rng *rand.Rand) []float64 {
	steps := len(returns)
	if steps < cfg.MinSteps {
		steps = cfg.MinSteps
	}
	n := len(returns)

	drawdowns := make([]float64, cfg.MonteCarloPaths)
	for p := 0; p < cfg.MonteCarloPaths; p++ {
		balance, peak, maxDD := 1.0, 1.0, 0.0
		for s := 0; s < steps; s++ {
			r := returns[rng.Intn(n)]
			balance *= 1 + fraction*r
			if balance < 1e-6 {
				balance = 1e-6 // ruina: el path queda plano en el suelo
			}
			if balance > peak {
				peak = balance
			}
			if dd := (peak - balance) / peak; dd > maxDD {
				maxDD = dd
			}
		}
		drawdowns[p] = maxDD
	}
	return drawdowns
}

// searchSafeFraction busca por bisección la mayor fracción ≤ upper cuyo
// p95 de drawdown queda bajo el techo. Nunca devuelve más que upper.
func searchSafeFraction(cfg Config, upper float64, returns []float64, rng *rand.Rand) float64 {
	lo, hi := 0.0, upper
	best := 0.0
	for i := 0; i < cfg.SearchIters; i++ {
		mid := (lo + hi) / 2
		p95 := domain.Percentile(simulateDrawdowns(cfg, mid, returns, rng), 95)
		if p95 <= cfg.DrawdownCeiling {
			best = mid
			lo = mid
		} else {
			hi = mid
		}
	}
	return best
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
