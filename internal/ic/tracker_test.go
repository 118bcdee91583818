package ic_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polysizer/internal/adapters/storage"
	"github.com/alejandrodnm/polysizer/internal/domain"
	"github.com/alejandrodnm/polysizer/internal/ic"
)

func newTracker(t *testing.T) (*ic.Tracker, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return ic.New(ic.DefaultConfig(), store), store
}

// seedResolved graba n predicciones del source y las resuelve de forma que
// la confidence ordene los outcomes perfectamente (o al revés).
func seedResolved(t *testing.T, tr *ic.Tracker, source string, n int, reversed bool) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		conf := 0.1 + 0.8*float64(i)/float64(n-1)
		marketID := fmt.Sprintf("%s-mkt-%d", source, i)
		require.NoError(t, tr.Record(ctx, domain.SignalPrediction{
			Source: source, MarketID: marketID, Side: domain.SideYes,
			Confidence: conf, Price: 0.5,
		}))
		outcome := domain.OutcomeNo
		if (i >= n/2) != reversed {
			outcome = domain.OutcomeYes
		}
		_, err := tr.Resolve(ctx, marketID, outcome)
		require.NoError(t, err)
	}
}

func TestTracker_IC_RankPreservingSource(t *testing.T) {
	tr, _ := newTracker(t)
	seedResolved(t, tr, "sharp", 12, false)

	res, err := tr.IC(context.Background(), "sharp", 0)
	require.NoError(t, err)
	assert.Equal(t, ic.StatusOK, res.Status)
	assert.Equal(t, 12, res.Samples)
	assert.Greater(t, res.IC, 0.8)
}

func TestTracker_IC_ReversedSourceStillHasInformation(t *testing.T) {
	tr, _ := newTracker(t)
	seedResolved(t, tr, "contrarian", 12, true)

	res, err := tr.IC(context.Background(), "contrarian", 0)
	require.NoError(t, err)
	// IC negativo fuerte: |IC| alto → no es kill, es señal invertida
	assert.Less(t, res.IC, -0.8)
	assert.Equal(t, ic.StatusOK, res.Status)
}

func TestTracker_IC_InsufficientData(t *testing.T) {
	tr, _ := newTracker(t)
	seedResolved(t, tr, "nuevo", 5, false)

	res, err := tr.IC(context.Background(), "nuevo", 0)
	require.NoError(t, err)
	assert.Equal(t, ic.StatusInsufficientData, res.Status)
	assert.Equal(t, 0.0, res.IC)
}

func TestTracker_Resolve_RejectsBadOutcome(t *testing.T) {
	tr, _ := newTracker(t)
	_, err := tr.Resolve(context.Background(), "mkt", 0.7)
	assert.Error(t, err)
}

func TestTracker_Resolve_Idempotent(t *testing.T) {
	tr, _ := newTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.Record(ctx, domain.SignalPrediction{
		Source: "whales", MarketID: "mkt-1", Side: domain.SideNo, Confidence: 0.6, Price: 0.4,
	}))

	n, err := tr.Resolve(ctx, "mkt-1", domain.OutcomeNo)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = tr.Resolve(ctx, "mkt-1", domain.OutcomeYes)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "segunda resolución no toca filas")
}

func TestTracker_Report(t *testing.T) {
	tr, _ := newTracker(t)
	ctx := context.Background()

	seedResolved(t, tr, "sharp", 12, false)
	seedResolved(t, tr, "nuevo", 4, false)

	// source de puro ruido: confidence alta y baja reparten outcomes igual
	for i := 0; i < 12; i++ {
		marketID := fmt.Sprintf("noise-mkt-%d", i)
		conf := []float64{0.2, 0.8}[i%2]
		require.NoError(t, tr.Record(ctx, domain.SignalPrediction{
			Source: "noise", MarketID: marketID, Side: domain.SideYes,
			Confidence: conf, Price: 0.5,
		}))
		outcome := []float64{domain.OutcomeNo, domain.OutcomeYes}[(i/2)%2]
		_, err := tr.Resolve(ctx, marketID, outcome)
		require.NoError(t, err)
	}

	rep, err := tr.Report(ctx)
	require.NoError(t, err)
	require.Len(t, rep.Sources, 3)

	bySource := map[string]ic.Result{}
	for _, r := range rep.Sources {
		bySource[r.Source] = r
	}
	assert.Equal(t, ic.StatusOK, bySource["sharp"].Status)
	assert.Equal(t, ic.StatusInsufficientData, bySource["nuevo"].Status)
	assert.Equal(t, ic.StatusKill, bySource["noise"].Status)

	require.NotEmpty(t, rep.Recommendations)
	assert.Contains(t, rep.Recommendations[0], "noise")
}
