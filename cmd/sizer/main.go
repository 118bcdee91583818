package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/alejandrodnm/polysizer/config"
	"github.com/alejandrodnm/polysizer/internal/adapters/notify"
	"github.com/alejandrodnm/polysizer/internal/adapters/storage"
	"github.com/alejandrodnm/polysizer/internal/calibration"
	"github.com/alejandrodnm/polysizer/internal/confidence"
	"github.com/alejandrodnm/polysizer/internal/domain"
	"github.com/alejandrodnm/polysizer/internal/health"
	"github.com/alejandrodnm/polysizer/internal/ic"
	"github.com/alejandrodnm/polysizer/internal/kelly"
	"github.com/alejandrodnm/polysizer/internal/portfolio"
	"github.com/alejandrodnm/polysizer/internal/ports"
	"github.com/alejandrodnm/polysizer/internal/state"
)

func main() {
	configPath := flag.String("config", "", "path to config file (empty: defaults)")
	dbPath := flag.String("db", "", "sqlite path (overrides config)")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	report := flag.Bool("report", false, "print health + IC + calibration + portfolio reports")
	evaluate := flag.String("evaluate", "", "signal JSON file to evaluate ('-' for stdin)")
	open := flag.Bool("open", false, "with -evaluate: open a paper position if eligible")
	resolve := flag.String("resolve", "", "resolve a market: market_id=outcome (0|0.5|1)")
	expire := flag.Bool("expire", false, "expire open positions past their end date")
	validate := flag.Bool("validate", false, "print step-by-step calculation for each decision")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *dbPath != "" {
		cfg.Storage.DSN = *dbPath
	}
	setupLogger(cfg.Log)

	slog.Info("polysizer starting", "config", *configPath, "db", cfg.Storage.DSN)

	store, err := storage.Open(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	app := buildApp(cfg, store, *validate)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch {
	case *report:
		if err := app.runReport(ctx); err != nil {
			slog.Error("report failed", "err", err)
			os.Exit(1)
		}
	case *evaluate != "":
		if err := app.runEvaluate(ctx, *evaluate, *open); err != nil {
			slog.Error("evaluate failed", "err", err)
			os.Exit(1)
		}
	case *resolve != "":
		if err := app.runResolve(ctx, *resolve); err != nil {
			slog.Error("resolve failed", "err", err)
			os.Exit(1)
		}
	case *expire:
		n, err := app.manager.ExpireStale(ctx)
		if err != nil {
			slog.Error("expire failed", "err", err)
			os.Exit(1)
		}
		slog.Info("expiry sweep done", "expired", n)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

// app agrupa los componentes ya cableados.
type app struct {
	cfg      *config.Config
	store    *storage.Store
	registry *health.Registry
	tracker  *ic.Tracker
	cal      *calibration.Calibrator
	manager  *portfolio.Manager
	console  *notify.Console
}

func buildApp(cfg *config.Config, store *storage.Store, validate bool) *app {
	registry := health.NewRegistry(health.Config{
		CircuitBreakerThreshold: cfg.Health.CircuitBreakerThreshold,
		CircuitCooldown:         cfg.Health.CircuitCooldown,
		CallsPerSecond:          cfg.Health.CallsPerSecond,
	}, store)

	tracker := ic.New(ic.Config{
		MinSamples:    cfg.IC.MinSamples,
		KillThreshold: cfg.IC.KillThreshold,
		WarnThreshold: cfg.IC.WarnThreshold,
		WindowDays:    cfg.IC.WindowDays,
	}, store)

	cal := calibration.New(calibration.Config{
		Bins:             cfg.Calibration.Bins,
		MinPerBin:        cfg.Calibration.MinPerBin,
		MinTotal:         cfg.Calibration.MinTotal,
		LookupWindowDays: int(cfg.Calibration.LookupWindow.Hours() / 24),
	}, store, tracker)

	engine := confidence.New(confidence.DefaultConfig(), store)

	stateStore := state.New(state.Config{
		MinLiquidVolume: cfg.Sizing.MinLiquidVolume,
		SpikeRatio:      state.DefaultConfig().SpikeRatio,
	})

	kellyCfg := kelly.Config{
		MinTrades:       cfg.Kelly.MinTrades,
		FlatHaircut:     cfg.Kelly.FlatHaircut,
		BootstrapIters:  cfg.Kelly.BootstrapIters,
		CVFloor:         cfg.Kelly.CVFloor,
		CVCap:           cfg.Kelly.CVCap,
		MonteCarloPaths: cfg.Kelly.MonteCarloPaths,
		MinSteps:        cfg.Kelly.MinSteps,
		DrawdownCeiling: cfg.Kelly.DrawdownCeiling,
		SearchIters:     cfg.Kelly.SearchIters,
	}

	manager := portfolio.New(portfolio.Config{
		InitialBankroll:   cfg.Sizing.InitialBankroll,
		PriceFloor:        cfg.Sizing.PriceFloor,
		PriceCeiling:      cfg.Sizing.PriceCeiling,
		MinConfidence:     cfg.Sizing.MinConfidence,
		MinEdge:           cfg.Sizing.MinEdge,
		MinImpliedNo:      cfg.Sizing.MinImpliedNo,
		MaxPositions:      cfg.Sizing.MaxPositions,
		MaxPerGroup:       cfg.Sizing.MaxPerGroup,
		MinBet:            cfg.Sizing.MinBet,
		MaxBet:            cfg.Sizing.MaxBet,
		PauseDrawdown:     cfg.Sizing.PauseDrawdown,
		BootstrapTrades:   cfg.Sizing.BootstrapTrades,
		BootstrapWinRate:  cfg.Sizing.BootstrapWinRate,
		ColdWinRate:       cfg.Sizing.ColdWinRate,
		KellyNormal:       cfg.Sizing.KellyNormal,
		KellyBootstrap:    cfg.Sizing.KellyBootstrap,
		StalenessLimit:    cfg.Health.StalenessLimit,
		CorrelationGroups: cfg.Sizing.CorrelationGroups,
		BlockedArchetypes: cfg.Sizing.BlockedArchetypes,
		ArchetypeBoosts:   cfg.Sizing.ArchetypeBoosts,
	}, kellyCfg, store, registry, stateStore, engine, cal, nil)

	return &app{
		cfg:      cfg,
		store:    store,
		registry: registry,
		tracker:  tracker,
		cal:      cal,
		manager:  manager,
		console:  notify.NewConsole(validate),
	}
}

// runReport imprime los cuatro reportes del operador.
func (a *app) runReport(ctx context.Context) error {
	a.console.PrintHealthReport(a.registry.Report(), a.cfg.Health.CircuitBreakerThreshold)

	rep, err := a.tracker.Report(ctx)
	if err != nil {
		return fmt.Errorf("ic report: %w", err)
	}
	a.console.PrintICReport(rep)

	sources, err := a.store.Sources(ctx)
	if err != nil {
		return fmt.Errorf("list sources: %w", err)
	}
	for _, src := range sources {
		curve, err := a.cal.Curve(ctx, src)
		if err != nil {
			return fmt.Errorf("calibration curve %s: %w", src, err)
		}
		a.console.PrintCalibrationCurve(curve)
	}

	snap, err := a.manager.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("portfolio snapshot: %w", err)
	}
	open, err := a.manager.OpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("open positions: %w", err)
	}
	a.console.PrintPortfolio(snap, open)
	return nil
}

// runEvaluate lee un signal JSON, lo evalúa y opcionalmente abre la posición.
func (a *app) runEvaluate(ctx context.Context, path string, open bool) error {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open signal file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var sig domain.Signal
	if err := json.NewDecoder(r).Decode(&sig); err != nil {
		return fmt.Errorf("decode signal JSON: %w", err)
	}

	dec, err := a.manager.Evaluate(ctx, sig)
	if err != nil {
		return err
	}
	if err := a.console.NotifyDecision(ctx, sig, dec); err != nil {
		return err
	}

	// Grabamos la predicción siempre: el IC necesita también los rechazos
	// para medir el skill del source, no solo lo que apostamos.
	if !dec.Empirical.Killed {
		if err := a.tracker.Record(ctx, domain.SignalPrediction{
			Source: sig.Source, MarketID: sig.MarketID, Side: sig.Side,
			Confidence: dec.Empirical.Confidence, Price: sig.Price,
			Archetype: dec.Empirical.Archetype,
		}); err != nil {
			return fmt.Errorf("record prediction: %w", err)
		}
	}

	if open && dec.Eligible {
		pos, err := a.manager.OpenPosition(ctx, sig, dec)
		if err != nil {
			return err
		}
		slog.Info("paper position opened", "id", pos.ID, "market", pos.MarketID)
	}
	return nil
}

// runResolve parsea "market_id=outcome" y liquida predicciones y posición.
func (a *app) runResolve(ctx context.Context, arg string) error {
	marketID, outcomeStr, ok := strings.Cut(arg, "=")
	if !ok || marketID == "" {
		return fmt.Errorf("resolve: expected market_id=outcome, got %q", arg)
	}
	outcome, err := strconv.ParseFloat(outcomeStr, 64)
	if err != nil {
		return fmt.Errorf("resolve: bad outcome %q: %w", outcomeStr, err)
	}

	n, err := a.tracker.Resolve(ctx, marketID, outcome)
	if err != nil {
		return err
	}
	slog.Info("predictions resolved", "market", marketID, "rows", n)

	pos, err := a.manager.ClosePosition(ctx, marketID, outcome)
	if errors.Is(err, ports.ErrNoOpenPosition) {
		// Sin posición abierta no pasa nada: muchos signals nunca se apuestan.
		slog.Debug("no position to close", "market", marketID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("close position %s: %w", marketID, err)
	}
	slog.Info("position settled", "market", marketID, "status", pos.Status, "pnl", pos.RealizedPnL)
	return nil
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
