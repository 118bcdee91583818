package portfolio

// manager.go — el orquestador: evalúa signals contra todos los filtros y
// caps, calcula el stake final y decide el régimen de Kelly.
//
// El pipeline corta en el primer filtro que falla. Un rechazo no es un
// error: es una Decision con eligible=false y la razón estructurada, para
// que el operador sepa exactamente qué gate mató el signal.

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/polysizer/internal/calibration"
	"github.com/alejandrodnm/polysizer/internal/confidence"
	"github.com/alejandrodnm/polysizer/internal/domain"
	"github.com/alejandrodnm/polysizer/internal/health"
	"github.com/alejandrodnm/polysizer/internal/kelly"
	"github.com/alejandrodnm/polysizer/internal/ports"
	"github.com/alejandrodnm/polysizer/internal/state"
)

// Config son los filtros, caps y regímenes del position manager.
type Config struct {
	InitialBankroll  float64
	PriceFloor       float64
	PriceCeiling     float64
	MinConfidence    float64
	MinEdge          float64
	MinImpliedNo     float64 // prob implícita mínima para bets NO
	MaxPositions     int
	MaxPerGroup      int
	MinBet           float64
	MaxBet           float64
	PauseDrawdown    float64
	BootstrapTrades  int
	BootstrapWinRate float64
	ColdWinRate      float64
	KellyNormal      float64
	KellyBootstrap   float64
	StalenessLimit   time.Duration

	// CorrelationGroups mapea archetype → grupo. Los mercados del mismo
	// grupo comparten el cap MaxPerGroup.
	CorrelationGroups map[string]string
	BlockedArchetypes []string

	// ArchetypeBoosts aplica un multiplicador de stake por archetype.
	// Archetypes ausentes quedan en ×1.
	ArchetypeBoosts map[string]float64
}

// DefaultConfig devuelve la configuración de producción del manager.
func DefaultConfig() Config {
	return Config{
		InitialBankroll:  10_000,
		PriceFloor:       0.25,
		PriceCeiling:     0.97,
		MinConfidence:    0.55,
		MinEdge:          0.05,
		MinImpliedNo:     0.35,
		MaxPositions:     10,
		MaxPerGroup:      3,
		MinBet:           10,
		MaxBet:           500,
		PauseDrawdown:    0.15,
		BootstrapTrades:  20,
		BootstrapWinRate: 0.58,
		ColdWinRate:      0.55,
		KellyNormal:      0.25,
		KellyBootstrap:   0.125,
		StalenessLimit:   time.Hour,
		CorrelationGroups: map[string]string{
			"price_above":          "crypto_price",
			"price_range":          "crypto_price",
			"intraday_updown":      "crypto_price",
			"directional_longshot": "crypto_price",
			"model_ranking":        "ai_models",
		},
		ArchetypeBoosts: map[string]float64{
			// Los price_above que sobreviven el kill de YES baratos pagan
			// históricamente mejor que su bucket.
			"price_above": 1.10,
		},
	}
}

// Manager es el único consumidor del resto de componentes: health registry,
// state store, confidence engine, calibrator y kelly haircut.
type Manager struct {
	cfg      Config
	kellyCfg kelly.Config
	store    ports.PositionStore
	health   *health.Registry
	state    *state.Store
	conf     *confidence.Engine
	cal      *calibration.Calibrator
	rng      *rand.Rand
	now      func() time.Time
}

// New crea un Manager. health, state y cal pueden ser nil — el gate
// correspondiente se omite (útil en tests y en modo evaluate offline).
func New(cfg Config, kellyCfg kelly.Config, store ports.PositionStore,
	reg *health.Registry, st *state.Store, conf *confidence.Engine,
	cal *calibration.Calibrator, rng *rand.Rand) *Manager {

	if cfg.InitialBankroll <= 0 {
		cfg = DefaultConfig()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Manager{
		cfg: cfg, kellyCfg: kellyCfg, store: store,
		health: reg, state: st, conf: conf, cal: cal,
		rng: rng, now: time.Now,
	}
}

// Evaluate corre el pipeline completo de filtros sobre un signal y devuelve
// la decisión de sizing. Solo los fallos de storage devuelven error.
func (m *Manager) Evaluate(ctx context.Context, sig domain.Signal) (domain.Decision, error) {
	d := domain.Decision{ID: uuid.NewString(), Regime: domain.RegimeNormal}

	if err := sig.Normalize(); err != nil {
		return m.reject(d, sig, fmt.Sprintf("invalid signal: %v", err)), nil
	}

	// Sanity de precio antes de tocar nada más.
	if sig.Price < m.cfg.PriceFloor {
		return m.reject(d, sig, fmt.Sprintf("price %.2f below floor %.2f", sig.Price, m.cfg.PriceFloor)), nil
	}
	if sig.Price > m.cfg.PriceCeiling {
		return m.reject(d, sig, fmt.Sprintf("price %.2f above ceiling %.2f", sig.Price, m.cfg.PriceCeiling)), nil
	}

	// Un source que lleva más de una hora sin reportar datos frescos no
	// puede respaldar una apuesta.
	if m.health != nil {
		last, ok := m.health.LastSuccess(sig.Source)
		if !ok {
			return m.reject(d, sig, fmt.Sprintf("source %s has no recorded success", sig.Source)), nil
		}
		if age := m.now().Sub(last); age > m.cfg.StalenessLimit {
			return m.reject(d, sig, fmt.Sprintf("source %s stale: last success %s ago", sig.Source, age.Round(time.Minute))), nil
		}
	}

	bd, err := m.conf.Evaluate(ctx, sig)
	if err != nil {
		return d, fmt.Errorf("portfolio.Evaluate: %w", err)
	}
	d.Empirical = bd
	if bd.Killed {
		return m.reject(d, sig, bd.KillReason), nil
	}

	conf := bd.Confidence
	if m.cal != nil {
		calibrated, err := m.cal.Calibrate(ctx, sig.Source, conf)
		if err != nil {
			return d, fmt.Errorf("portfolio.Evaluate: calibrate: %w", err)
		}
		// La calibración puede empujar por encima del clamp cuando un bin
		// resolvió mejor de lo que predijo; los límites del engine mandan.
		calibrated = m.conf.Clamp(calibrated)
		if calibrated != conf {
			d.Modifiers = append(d.Modifiers, fmt.Sprintf("calibration %.3f → %.3f", conf, calibrated))
			conf = calibrated
		}
	}

	if conf < m.cfg.MinConfidence {
		return m.reject(d, sig, fmt.Sprintf("confidence %.2f below minimum %.2f", conf, m.cfg.MinConfidence)), nil
	}
	d.Edge = conf - sig.CostBasis()
	if d.Edge < m.cfg.MinEdge {
		return m.reject(d, sig, fmt.Sprintf("edge %.3f below minimum %.3f", d.Edge, m.cfg.MinEdge)), nil
	}

	for _, blocked := range m.cfg.BlockedArchetypes {
		if string(bd.Archetype) == blocked {
			return m.reject(d, sig, fmt.Sprintf("archetype %s blocked by config", bd.Archetype)), nil
		}
	}

	if sig.Side == domain.SideNo && sig.ImpliedProbability() < m.cfg.MinImpliedNo {
		return m.reject(d, sig, fmt.Sprintf("NO bet implied prob %.2f below %.2f", sig.ImpliedProbability(), m.cfg.MinImpliedNo)), nil
	}

	open, err := m.store.OpenPositions(ctx)
	if err != nil {
		return d, fmt.Errorf("portfolio.Evaluate: open positions: %w", err)
	}
	for _, p := range open {
		if p.MarketID == sig.MarketID {
			return m.reject(d, sig, "position already open for market"), nil
		}
	}
	if len(open) >= m.cfg.MaxPositions {
		return m.reject(d, sig, fmt.Sprintf("max concurrent positions (%d) reached", m.cfg.MaxPositions)), nil
	}
	if reason, capped := m.groupCapped(bd.Archetype, open); capped {
		return m.reject(d, sig, reason), nil
	}

	snap, err := m.Snapshot(ctx)
	if err != nil {
		return d, fmt.Errorf("portfolio.Evaluate: snapshot: %w", err)
	}
	regime, fraction, err := m.regime(ctx, snap)
	if err != nil {
		return d, fmt.Errorf("portfolio.Evaluate: regime: %w", err)
	}
	d.Regime = regime
	if regime == domain.RegimePaused {
		return m.reject(d, sig, fmt.Sprintf("trading paused: drawdown %.1f%% over limit", snap.Drawdown*100)), nil
	}

	// Kelly crudo sobre el edge calibrado, con haircut por incertidumbre.
	odds := sig.Odds()
	if odds <= 0 {
		return m.reject(d, sig, "degenerate odds"), nil
	}
	d.KellyPct = d.Edge / odds

	// En bootstrap no hay track record propio: el Kelly crudo no puede
	// superar el que implica el win rate sembrado del pipeline.
	raw := d.KellyPct
	if regime == domain.RegimeBootstrap {
		seeded := m.cfg.BootstrapWinRate - (1-m.cfg.BootstrapWinRate)/odds
		if seeded > 0 && raw > seeded {
			d.Modifiers = append(d.Modifiers,
				fmt.Sprintf("bootstrap seed cap: kelly %.3f → %.3f (win rate %.2f)", raw, seeded, m.cfg.BootstrapWinRate))
			raw = seeded
		}
	}

	returns, err := m.store.ClosedReturns(ctx, 0)
	if err != nil {
		return d, fmt.Errorf("portfolio.Evaluate: closed returns: %w", err)
	}
	hc := kelly.Haircut(m.kellyCfg, raw, returns, m.rng)
	d.Modifiers = append(d.Modifiers, hc.Trail...)

	bankroll := m.available(snap, open)
	stake := bankroll * hc.FinalKelly * fraction

	stake, vetoed, reason := m.applyModifiers(&d, sig, stake)
	if vetoed {
		return m.reject(d, sig, reason), nil
	}

	// Clamp final a [min, max] y al bankroll disponible.
	if stake > m.cfg.MaxBet {
		stake = m.cfg.MaxBet
	}
	if stake < m.cfg.MinBet {
		stake = m.cfg.MinBet
	}
	if stake > bankroll {
		return m.reject(d, sig, fmt.Sprintf("insufficient bankroll: %.2f available", bankroll)), nil
	}

	d.Eligible = true
	d.Reason = "eligible"
	d.BetSize = math.Round(stake*100) / 100

	slog.Info("signal eligible",
		"decision", d.ID, "market", sig.MarketID, "source", sig.Source,
		"side", sig.Side, "edge", d.Edge, "regime", d.Regime, "stake", d.BetSize)
	return d, nil
}

// reject cierra la decisión como no elegible con la razón dada.
func (m *Manager) reject(d domain.Decision, sig domain.Signal, reason string) domain.Decision {
	d.Eligible = false
	d.Reason = reason
	d.BetSize = 0
	slog.Debug("signal rejected",
		"decision", d.ID, "market", sig.MarketID, "source", sig.Source, "reason", reason)
	return d
}

// groupCapped comprueba el cap de posiciones simultáneas por grupo
// correlacionado. Mercados del mismo grupo suben y bajan juntos: tres
// posiciones crypto son una posición crypto apalancada.
func (m *Manager) groupCapped(arch domain.Archetype, open []domain.PaperPosition) (string, bool) {
	group, ok := m.cfg.CorrelationGroups[string(arch)]
	if !ok {
		return "", false
	}
	count := 0
	for _, p := range open {
		if m.cfg.CorrelationGroups[string(p.Archetype)] == group {
			count++
		}
	}
	if count >= m.cfg.MaxPerGroup {
		return fmt.Sprintf("correlation group %s at cap (%d open)", group, count), true
	}
	return "", false
}

// regime decide el régimen de Kelly según el performance reciente y
// devuelve la fracción a aplicar.
func (m *Manager) regime(ctx context.Context, snap domain.PortfolioSnapshot) (domain.KellyRegime, float64, error) {
	if snap.Drawdown >= m.cfg.PauseDrawdown {
		return domain.RegimePaused, 0, nil
	}
	if snap.Trades < m.cfg.BootstrapTrades {
		return domain.RegimeBootstrap, m.cfg.KellyBootstrap, nil
	}

	outcomes, err := m.store.RecentOutcomes(ctx, m.cfg.BootstrapTrades)
	if err != nil {
		return domain.RegimeNormal, 0, err
	}
	wins := 0
	for _, won := range outcomes {
		if won {
			wins++
		}
	}
	if len(outcomes) > 0 && float64(wins)/float64(len(outcomes)) < m.cfg.ColdWinRate {
		return domain.RegimeCold, m.cfg.KellyNormal / 2, nil
	}
	return domain.RegimeNormal, m.cfg.KellyNormal, nil
}

// timeDecayBuckets: mercados que resuelven pronto tienen menos tiempo para
// que el edge se evapore; los lejanos pagan descuento.
var timeDecayBuckets = []struct {
	label string
	maxD  float64
	mult  float64
}{
	{"<1d", 1, 1.10},
	{"1-3d", 3, 1.05},
	{"3-7d", 7, 1.00},
	{"7-30d", 30, 0.90},
	{">30d", math.Inf(1), 0.75},
}

// applyModifiers aplica los ajustes multiplicativos independientes sobre el
// stake. Devuelve vetoed=true cuando un modifier mata la apuesta entera.
func (m *Manager) applyModifiers(d *domain.Decision, sig domain.Signal, stake float64) (float64, bool, string) {
	for _, b := range timeDecayBuckets {
		if sig.DaysToClose < b.maxD {
			d.TimeDecay = domain.TimeDecayInfo{DaysToClose: sig.DaysToClose, Bucket: b.label, Multiplier: b.mult}
			break
		}
	}
	if d.TimeDecay.Multiplier != 0 && d.TimeDecay.Multiplier != 1 {
		stake *= d.TimeDecay.Multiplier
		d.Modifiers = append(d.Modifiers, fmt.Sprintf("time to close %s: ×%.2f", d.TimeDecay.Bucket, d.TimeDecay.Multiplier))
	}

	// Boost o descuento por archetype, encima del smoothing empírico.
	if mult, ok := m.cfg.ArchetypeBoosts[string(d.Empirical.Archetype)]; ok && mult > 0 && mult != 1 {
		stake *= mult
		d.Modifiers = append(d.Modifiers, fmt.Sprintf("archetype %s: ×%.2f", d.Empirical.Archetype, mult))
	}

	if m.state == nil {
		return stake, false, ""
	}

	// Spike de volumen: el retail entrando en masa suele perseguir el YES.
	// Para un NO es viento de cola; para un YES no tocamos nada.
	d.VolumeSpike = m.state.VolumeSpike(sig.MarketID)
	if d.VolumeSpike.Spiking && sig.Side == domain.SideNo {
		stake *= 1.15
		d.Modifiers = append(d.Modifiers, fmt.Sprintf("volume spike ×%.1f, fading FOMO: ×1.15", d.VolumeSpike.Ratio))
	}

	// Momentum del precio YES. Cayendo favorece al NO; subiendo fuerte en
	// contra del NO es un veto, no un descuento.
	if sig.Side == domain.SideNo {
		mom := m.state.Momentum(sig.MarketID)
		switch {
		case mom >= 0.10:
			return stake, true, fmt.Sprintf("YES momentum +%.2f against NO bet", mom)
		case mom <= -0.05:
			stake *= 1.10
			d.Modifiers = append(d.Modifiers, fmt.Sprintf("price momentum %.2f favors NO: ×1.10", mom))
		}
	}

	// Acuerdo entre estrategias: otro source independiente puntuando alto
	// el mismo mercado refuerza; un composite tibio recorta a la mitad.
	if composite := m.state.CompositeScore(sig.MarketID); composite > 0 {
		if composite >= m.cfg.MinConfidence {
			stake *= 1.05
			d.Modifiers = append(d.Modifiers, fmt.Sprintf("cross-strategy agreement %.2f: ×1.05", composite))
		} else {
			stake *= 0.5
			d.Modifiers = append(d.Modifiers, fmt.Sprintf("cross-strategy disagreement %.2f: ×0.5", composite))
		}
	}
	return stake, false, ""
}

// available es el bankroll no comprometido en posiciones abiertas.
func (m *Manager) available(snap domain.PortfolioSnapshot, open []domain.PaperPosition) float64 {
	b := snap.Bankroll
	for _, p := range open {
		b -= p.Stake
	}
	if b < 0 {
		return 0
	}
	return b
}
