package calibration_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polysizer/internal/adapters/storage"
	"github.com/alejandrodnm/polysizer/internal/calibration"
	"github.com/alejandrodnm/polysizer/internal/domain"
	"github.com/alejandrodnm/polysizer/internal/ic"
)

func newCalibrator(t *testing.T) (*calibration.Calibrator, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	tracker := ic.New(ic.DefaultConfig(), store)
	return calibration.New(calibration.DefaultConfig(), store, tracker), store
}

// seedBin graba n predicciones YES del source con la misma confidence y
// resuelve `wins` de ellas como YES. Las fechas controlan ventana y decay.
func seedBin(t *testing.T, store *storage.Store, source string, conf float64, n, wins int, created, resolved time.Time) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		marketID := fmt.Sprintf("%s-%.2f-%d", source, conf, i)
		_, err := store.SavePrediction(ctx, domain.SignalPrediction{
			Source: source, MarketID: marketID, Side: domain.SideYes,
			Confidence: conf, Price: 0.5, Archetype: domain.ArchetypeOther,
			CreatedAt: created,
		})
		require.NoError(t, err)
		outcome := domain.OutcomeNo
		if i < wins {
			outcome = domain.OutcomeYes
		}
		_, err = store.ResolveMarket(ctx, marketID, outcome, resolved)
		require.NoError(t, err)
	}
}

func TestCalibrator_Curve_InsufficientData(t *testing.T) {
	cal, store := newCalibrator(t)
	now := time.Now()
	seedBin(t, store, "nuevo", 0.7, 10, 5, now, now)

	curve, err := cal.Curve(context.Background(), "nuevo")
	require.NoError(t, err)
	assert.Equal(t, "insufficient_data", curve.Verdict)
	assert.Equal(t, 10, curve.Total)
}

func TestCalibrator_Curve_FlagsOverconfidence(t *testing.T) {
	cal, store := newCalibrator(t)
	now := time.Now()
	// Bin [0.6,0.8): predice 70%, acierta 50%. Bin [0.2,0.4): clavado.
	seedBin(t, store, "bragger", 0.70, 20, 10, now, now)
	seedBin(t, store, "bragger", 0.30, 10, 3, now, now)

	curve, err := cal.Curve(context.Background(), "bragger")
	require.NoError(t, err)
	require.Len(t, curve.Bins, 2)
	assert.Equal(t, 30, curve.Total)

	low, high := curve.Bins[0], curve.Bins[1]
	assert.False(t, low.Overconfident)
	assert.True(t, high.Overconfident)
	assert.InDelta(t, 0.5/0.7, high.Adjustment(), 1e-9)

	// ECE = (20·|0.7−0.5| + 10·|0.3−0.3|) / 30 · 100 ≈ 13.3 puntos
	assert.InDelta(t, 13.33, curve.ECE, 0.1)
	assert.Equal(t, "fair", curve.Verdict)
}

func TestCalibrator_Curve_DropsSparseBins(t *testing.T) {
	cal, store := newCalibrator(t)
	now := time.Now()
	seedBin(t, store, "lumpy", 0.70, 19, 13, now, now)
	seedBin(t, store, "lumpy", 0.10, 3, 0, now, now) // < MinPerBin

	curve, err := cal.Curve(context.Background(), "lumpy")
	require.NoError(t, err)
	require.Len(t, curve.Bins, 1)
	assert.Equal(t, 22, curve.Total)
	assert.InDelta(t, 0.7, curve.Bins[0].MeanPredicted, 1e-9)
}

func TestCalibrator_Calibrate_RescalesByRealizedRatio(t *testing.T) {
	cal, store := newCalibrator(t)
	now := time.Now()
	seedBin(t, store, "bragger", 0.70, 20, 10, now.Add(-time.Hour), now)

	adjusted, err := cal.Calibrate(context.Background(), "bragger", 0.70)
	require.NoError(t, err)
	assert.InDelta(t, 0.50, adjusted, 1e-9)
}

func TestCalibrator_Calibrate_FallsBackToRaw(t *testing.T) {
	cal, store := newCalibrator(t)

	// Sin datos: raw tal cual.
	adjusted, err := cal.Calibrate(context.Background(), "ghost", 0.65)
	require.NoError(t, err)
	assert.Equal(t, 0.65, adjusted)

	// Datos fuera de la ventana de 7 días: también raw.
	old := time.Now().AddDate(0, 0, -30)
	seedBin(t, store, "stale", 0.70, 20, 10, old, old)
	adjusted, err = cal.Calibrate(context.Background(), "stale", 0.70)
	require.NoError(t, err)
	assert.Equal(t, 0.70, adjusted)
}

func TestCalibrator_SourceWeights_SquaredPositiveIC(t *testing.T) {
	cal, store := newCalibrator(t)
	now := time.Now()
	ctx := context.Background()

	// sharp: confidence ordena outcomes perfectamente → IC alto positivo.
	for i := 0; i < 12; i++ {
		conf := 0.1 + 0.8*float64(i)/11
		marketID := fmt.Sprintf("sharp-%d", i)
		_, err := store.SavePrediction(ctx, domain.SignalPrediction{
			Source: "sharp", MarketID: marketID, Side: domain.SideYes,
			Confidence: conf, Price: 0.5, CreatedAt: now,
		})
		require.NoError(t, err)
		outcome := domain.OutcomeNo
		if i >= 6 {
			outcome = domain.OutcomeYes
		}
		_, err = store.ResolveMarket(ctx, marketID, outcome, now)
		require.NoError(t, err)
	}
	// contrarian: orden invertido → IC negativo, queda fuera del reparto.
	for i := 0; i < 12; i++ {
		conf := 0.1 + 0.8*float64(i)/11
		marketID := fmt.Sprintf("contrarian-%d", i)
		_, err := store.SavePrediction(ctx, domain.SignalPrediction{
			Source: "contrarian", MarketID: marketID, Side: domain.SideYes,
			Confidence: conf, Price: 0.5, CreatedAt: now,
		})
		require.NoError(t, err)
		outcome := domain.OutcomeYes
		if i >= 6 {
			outcome = domain.OutcomeNo
		}
		_, err = store.ResolveMarket(ctx, marketID, outcome, now)
		require.NoError(t, err)
	}
	seedBin(t, store, "nuevo", 0.6, 4, 2, now, now) // insufficient_data

	weights, err := cal.SourceWeights(ctx)
	require.NoError(t, err)
	require.Len(t, weights, 1)
	assert.InDelta(t, 1.0, weights["sharp"], 1e-9)
}

func TestCalibrator_SignalDecay_BucketsByAge(t *testing.T) {
	cal, store := newCalibrator(t)
	base := time.Now().AddDate(0, 0, -10)
	ctx := context.Background()

	// Resueltas a las 2h: confidence ordena outcomes → IC alto.
	for i := 0; i < 8; i++ {
		conf := 0.2 + 0.6*float64(i)/7
		marketID := fmt.Sprintf("fast-%d", i)
		_, err := store.SavePrediction(ctx, domain.SignalPrediction{
			Source: "decaying", MarketID: marketID, Side: domain.SideYes,
			Confidence: conf, Price: 0.5, CreatedAt: base,
		})
		require.NoError(t, err)
		outcome := domain.OutcomeNo
		if i >= 4 {
			outcome = domain.OutcomeYes
		}
		_, err = store.ResolveMarket(ctx, marketID, outcome, base.Add(2*time.Hour))
		require.NoError(t, err)
	}
	// Resueltas a los 2 días: puro ruido → IC cerca de cero.
	for i := 0; i < 8; i++ {
		conf := []float64{0.2, 0.8}[i%2]
		marketID := fmt.Sprintf("slow-%d", i)
		_, err := store.SavePrediction(ctx, domain.SignalPrediction{
			Source: "decaying", MarketID: marketID, Side: domain.SideYes,
			Confidence: conf, Price: 0.5, CreatedAt: base,
		})
		require.NoError(t, err)
		outcome := []float64{domain.OutcomeNo, domain.OutcomeYes}[(i/2)%2]
		_, err = store.ResolveMarket(ctx, marketID, outcome, base.Add(48*time.Hour))
		require.NoError(t, err)
	}

	buckets, err := cal.SignalDecay(ctx, "decaying")
	require.NoError(t, err)
	require.Len(t, buckets, 5)

	assert.Equal(t, "<6h", buckets[0].Label)
	assert.Equal(t, 8, buckets[0].Samples)
	assert.Greater(t, buckets[0].IC, 0.8)

	assert.Equal(t, "1-3d", buckets[2].Label)
	assert.Equal(t, 8, buckets[2].Samples)
	assert.InDelta(t, 0.0, buckets[2].IC, 0.2)

	assert.Equal(t, 0, buckets[1].Samples)
	assert.Equal(t, 0, buckets[4].Samples)
}
