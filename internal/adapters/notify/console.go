package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/polysizer/internal/domain"
	"github.com/alejandrodnm/polysizer/internal/ic"
)

// Console implementa ports.Notifier e imprime los reportes del operador.
type Console struct {
	out      io.Writer
	validate bool
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(validate bool) *Console {
	return &Console{out: os.Stdout, validate: validate}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, validate bool) *Console {
	return &Console{out: w, validate: validate}
}

// NotifyDecision imprime el resultado de evaluar un signal: una línea
// compacta siempre, el desglose paso a paso en modo validate.
func (c *Console) NotifyDecision(_ context.Context, sig domain.Signal, dec domain.Decision) error {
	now := time.Now().Format("15:04:05")

	if !dec.Eligible {
		fmt.Fprintf(c.out, "[%s] SKIP %s %s @%.2f — %s\n",
			now, sig.Side, compactName(sig.MarketTitle, 40), sig.Price, dec.Reason)
		return nil
	}

	fmt.Fprintf(c.out, "[%s] BET $%.2f %s %s @%.2f | edge %.3f | kelly %.3f | %s\n",
		now, dec.BetSize, sig.Side, compactName(sig.MarketTitle, 40), sig.Price,
		dec.Edge, dec.KellyPct, dec.Regime)

	if c.validate {
		c.printValidation(sig, dec)
	}
	return nil
}

// printValidation imprime el cálculo completo de la decisión, intermedio a
// intermedio, para poder verificarlo a mano.
func (c *Console) printValidation(sig domain.Signal, dec domain.Decision) {
	bd := dec.Empirical

	fmt.Fprintf(c.out, "\n=== VALIDATION — decision %s ===\n", dec.ID)
	fmt.Fprintf(c.out, "  Market: %s [%s]\n", sig.MarketTitle, sig.MarketID)

	fmt.Fprintf(c.out, "\n  1. EMPIRICAL CONFIDENCE:\n")
	fmt.Fprintf(c.out, "     archetype=%s  zone=%s\n", bd.Archetype, bd.Zone)
	fmt.Fprintf(c.out, "     bucket: %.4f win rate (%d samples)  archetype: %.4f\n",
		bd.BucketWinRate, bd.BucketSamples, bd.ArchetypeWinRate)
	fmt.Fprintf(c.out, "     smoothed=%.4f × zone %.2f → confidence %.4f\n",
		bd.SmoothedRate, bd.ZoneMultiplier, bd.Confidence)

	fmt.Fprintf(c.out, "\n  2. EDGE & KELLY:\n")
	fmt.Fprintf(c.out, "     cost=%.4f  edge=%.4f  raw kelly=%.4f\n",
		sig.CostBasis(), dec.Edge, dec.KellyPct)
	fmt.Fprintf(c.out, "     regime=%s\n", dec.Regime)

	if len(dec.Modifiers) > 0 {
		fmt.Fprintf(c.out, "\n  3. ADJUSTMENTS:\n")
		for _, mod := range dec.Modifiers {
			fmt.Fprintf(c.out, "     - %s\n", mod)
		}
	}
	fmt.Fprintf(c.out, "\n  >>> STAKE: $%.2f\n\n", dec.BetSize)
}

// PrintHealthReport imprime la tabla de salud de los data sources.
func (c *Console) PrintHealthReport(records []domain.SourceHealthRecord, degradedThreshold int) {
	if len(records) == 0 {
		fmt.Fprintln(c.out, "\n  No sources tracked yet.")
		return
	}

	fmt.Fprintf(c.out, "\n=== SOURCE HEALTH ===\n")
	table := tablewriter.NewWriter(c.out)
	table.Header("Source", "Status", "Fails", "OK/Total", "Latency", "Last success")

	now := time.Now()
	for _, r := range records {
		lastOK := "never"
		if !r.LastSuccess.IsZero() {
			lastOK = now.Sub(r.LastSuccess).Round(time.Second).String() + " ago"
		}
		total := r.TotalSuccesses + r.TotalFailures
		table.Append(
			r.Source,
			string(r.Status(now, degradedThreshold)),
			fmt.Sprintf("%d", r.ConsecutiveFailures),
			fmt.Sprintf("%d/%d", r.TotalSuccesses, total),
			r.LatencyEMA.Round(time.Millisecond).String(),
			lastOK,
		)
	}
	table.Render()
}

// PrintICReport imprime el reporte de information coefficient por source.
func (c *Console) PrintICReport(rep ic.Report) {
	if len(rep.Sources) == 0 {
		fmt.Fprintln(c.out, "\n  No predictions recorded yet.")
		return
	}

	fmt.Fprintf(c.out, "\n=== IC REPORT — overall %.4f ===\n", rep.OverallIC)
	table := tablewriter.NewWriter(c.out)
	table.Header("Source", "IC", "Samples", "Status")

	for _, r := range rep.Sources {
		icLabel := fmt.Sprintf("%.4f", r.IC)
		if r.Status == ic.StatusInsufficientData {
			icLabel = "-"
		}
		table.Append(r.Source, icLabel, fmt.Sprintf("%d", r.Samples), string(r.Status))
	}
	table.Render()

	for _, rec := range rep.Recommendations {
		fmt.Fprintf(c.out, "  >> %s\n", rec)
	}
}

// PrintCalibrationCurve imprime la curva predicho vs realizado de un source.
func (c *Console) PrintCalibrationCurve(curve domain.CalibrationCurve) {
	fmt.Fprintf(c.out, "\n=== CALIBRATION — %s ===\n", curve.Source)
	if curve.Verdict == "insufficient_data" {
		fmt.Fprintf(c.out, "  Insufficient data (%d resolved, need more).\n", curve.Total)
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Bin", "Samples", "Predicted", "Realized", "Adj", "Flag")

	for _, b := range curve.Bins {
		flag := "ok"
		if b.Overconfident {
			flag = "OVER"
		} else if b.RealizedRate > b.MeanPredicted {
			flag = "under"
		}
		table.Append(
			fmt.Sprintf("%.0f-%.0f%%", b.Low*100, b.High*100),
			fmt.Sprintf("%d", b.Samples),
			fmt.Sprintf("%.1f%%", b.MeanPredicted*100),
			fmt.Sprintf("%.1f%%", b.RealizedRate*100),
			fmt.Sprintf("×%.2f", b.Adjustment()),
			flag,
		)
	}
	table.Render()

	fmt.Fprintf(c.out, "  ECE: %.1f points — %s (%d resolved)\n",
		curve.ECE, strings.ToUpper(curve.Verdict), curve.Total)
}

// PrintPortfolio imprime las posiciones abiertas y el resumen del ledger.
func (c *Console) PrintPortfolio(snap domain.PortfolioSnapshot, open []domain.PaperPosition) {
	fmt.Fprintf(c.out, "\n=== PORTFOLIO ===\n")
	fmt.Fprintf(c.out, "  Bankroll: $%.2f (peak $%.2f, drawdown %.1f%%)\n",
		snap.Bankroll, snap.PeakBankroll, snap.Drawdown*100)
	fmt.Fprintf(c.out, "  Closed: %d trades, %d W / %d L (%.0f%% win rate) | PnL $%.2f | Sharpe %.2f\n",
		snap.Trades, snap.Wins, snap.Losses, snap.WinRate()*100,
		snap.CumulativePnL, snap.SharpeRolling)

	if len(open) == 0 {
		fmt.Fprintln(c.out, "  No open positions.")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Market", "Side", "Entry", "Stake", "Payout", "Conf", "Edge", "Ends")

	for _, p := range open {
		ends := "-"
		if !p.EndDate.IsZero() {
			ends = p.EndDate.Format("01-02 15:04")
		}
		table.Append(
			compactName(p.MarketID, 24),
			string(p.Side),
			fmt.Sprintf("%.2f", p.EntryPrice),
			fmt.Sprintf("$%.2f", p.Stake),
			fmt.Sprintf("$%.2f", p.PotentialPayout),
			fmt.Sprintf("%.0f%%", p.Confidence*100),
			fmt.Sprintf("%.3f", p.Edge),
			ends,
		)
	}
	table.Render()
}

func compactName(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := s[:maxLen]
	if idx := strings.LastIndex(cut, " "); idx > maxLen/2 {
		cut = cut[:idx]
	}
	return cut + "…"
}
