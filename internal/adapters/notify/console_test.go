package notify_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polysizer/internal/adapters/notify"
	"github.com/alejandrodnm/polysizer/internal/domain"
	"github.com/alejandrodnm/polysizer/internal/ic"
)

func makeDecision(eligible bool) (domain.Signal, domain.Decision) {
	sig := domain.Signal{
		Source: "whales", MarketID: "mkt-1",
		MarketTitle: "Will GPT-5 be #1 on the leaderboard?",
		Side:        domain.SideYes, Confidence: 0.6, Price: 0.40,
	}
	dec := domain.Decision{
		ID: "dec-1", Eligible: eligible, Reason: "eligible",
		Edge: 0.17, KellyPct: 0.113, BetSize: 99.17,
		Regime: domain.RegimeBootstrap,
		Empirical: domain.EmpiricalBreakdown{
			Archetype: domain.ArchetypeModelRanking, Zone: domain.ZoneCoinflip,
			SmoothedRate: 0.60, ZoneMultiplier: 0.95, Confidence: 0.57,
		},
		Modifiers: []string{"flat 30% haircut"},
	}
	if !eligible {
		dec.Reason = "price 0.20 below floor 0.25"
		dec.BetSize = 0
	}
	return sig, dec
}

func TestConsole_NotifyDecision_Eligible(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, false)

	sig, dec := makeDecision(true)
	require.NoError(t, c.NotifyDecision(context.Background(), sig, dec))

	out := buf.String()
	assert.Contains(t, out, "BET $99.17")
	assert.Contains(t, out, "YES")
	assert.Contains(t, out, "bootstrap")
}

func TestConsole_NotifyDecision_RejectedShowsReason(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, false)

	sig, dec := makeDecision(false)
	require.NoError(t, c.NotifyDecision(context.Background(), sig, dec))

	out := buf.String()
	assert.Contains(t, out, "SKIP")
	assert.Contains(t, out, "below floor")
}

func TestConsole_NotifyDecision_ValidateMode(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, true)

	sig, dec := makeDecision(true)
	require.NoError(t, c.NotifyDecision(context.Background(), sig, dec))

	out := buf.String()
	assert.Contains(t, out, "VALIDATION")
	assert.Contains(t, out, "model_ranking")
	assert.Contains(t, out, "flat 30% haircut")
	assert.Contains(t, out, "STAKE: $99.17")
}

func TestConsole_PrintHealthReport(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, false)

	c.PrintHealthReport(nil, 5)
	assert.Contains(t, buf.String(), "No sources tracked")

	buf.Reset()
	c.PrintHealthReport([]domain.SourceHealthRecord{
		{Source: "whales", LastSuccess: time.Now(), TotalSuccesses: 42, LatencyEMA: 120 * time.Millisecond},
		{Source: "flaky", ConsecutiveFailures: 3, TotalFailures: 9},
	}, 5)

	out := buf.String()
	assert.Contains(t, out, "whales")
	assert.Contains(t, out, "healthy")
	assert.Contains(t, out, "warning")
}

func TestConsole_PrintICReport(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, false)

	c.PrintICReport(ic.Report{})
	assert.Contains(t, buf.String(), "No predictions recorded")

	buf.Reset()
	c.PrintICReport(ic.Report{
		Sources: []ic.Result{
			{Source: "sharp", IC: 0.42, Samples: 30, Status: ic.StatusOK},
			{Source: "nuevo", Samples: 4, Status: ic.StatusInsufficientData},
		},
		OverallIC:       0.42,
		Recommendations: []string{"KILL noise: |IC| below threshold"},
	})

	out := buf.String()
	assert.Contains(t, out, "0.4200")
	assert.Contains(t, out, "insufficient_data")
	assert.Contains(t, out, "KILL noise")
}

func TestConsole_PrintCalibrationCurve(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, false)

	c.PrintCalibrationCurve(domain.CalibrationCurve{
		Source: "nuevo", Total: 8, Verdict: "insufficient_data",
	})
	assert.Contains(t, buf.String(), "Insufficient data")

	buf.Reset()
	c.PrintCalibrationCurve(domain.CalibrationCurve{
		Source: "bragger", Total: 30, ECE: 13.3, Verdict: "fair",
		Bins: []domain.CalibrationBin{
			{Low: 0.6, High: 0.8, Samples: 20, MeanPredicted: 0.70, RealizedRate: 0.50, Overconfident: true},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "OVER")
	assert.Contains(t, out, "FAIR")
}

func TestConsole_PrintPortfolio(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, false)

	snap := domain.PortfolioSnapshot{
		Bankroll: 10_150, PeakBankroll: 10_200, Drawdown: 0.0049,
		Trades: 3, Wins: 2, Losses: 1, CumulativePnL: 150,
	}
	c.PrintPortfolio(snap, nil)
	assert.Contains(t, buf.String(), "No open positions")

	buf.Reset()
	c.PrintPortfolio(snap, []domain.PaperPosition{{
		MarketID: "mkt-ai", Side: domain.SideYes, EntryPrice: 0.40,
		Stake: 99, PotentialPayout: 247.5, Confidence: 0.57, Edge: 0.17,
		EndDate: time.Now().Add(72 * time.Hour),
	}})

	out := buf.String()
	assert.Contains(t, out, "mkt-ai")
	assert.Contains(t, out, "$99.00")
}
