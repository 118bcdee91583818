package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del sizing engine.
type Config struct {
	Health      HealthConfig  `yaml:"health"`
	IC          ICConfig      `yaml:"ic"`
	Calibration CalibConfig   `yaml:"calibration"`
	Kelly       KellyConfig   `yaml:"kelly"`
	Sizing      SizingConfig  `yaml:"sizing"`
	Storage     StorageConfig `yaml:"storage"`
	Log         LogConfig     `yaml:"log"`
}

// HealthConfig controla el circuit breaker y el resilient call wrapper.
type HealthConfig struct {
	CircuitBreakerThreshold int           `yaml:"circuit_breaker_threshold"` // fallos consecutivos
	CircuitCooldown         time.Duration `yaml:"circuit_cooldown"`
	Retries                 int           `yaml:"retries"`
	BackoffBase             float64       `yaml:"backoff_base"` // segundos; delay = base^attempt + jitter
	MaxBackoff              time.Duration `yaml:"max_backoff"`
	CallsPerSecond          float64       `yaml:"calls_per_second"` // rate limit por source
	StalenessLimit          time.Duration `yaml:"staleness_limit"`  // último éxito más viejo → signal rechazado
}

// ICConfig controla los umbrales del information coefficient.
type ICConfig struct {
	MinSamples    int     `yaml:"min_samples"`
	KillThreshold float64 `yaml:"kill_threshold"` // |IC| por debajo → KILL
	WarnThreshold float64 `yaml:"warn_threshold"`
	WindowDays    int     `yaml:"window_days"`
}

// CalibConfig controla el auto-calibrator.
type CalibConfig struct {
	Bins         int           `yaml:"bins"`
	MinPerBin    int           `yaml:"min_per_bin"`
	MinTotal     int           `yaml:"min_total"`
	LookupWindow time.Duration `yaml:"lookup_window"` // ventana para Calibrate()
}

// KellyConfig controla el haircut CV y la simulación Monte Carlo.
type KellyConfig struct {
	MinTrades       int     `yaml:"min_trades"`       // por debajo → haircut fijo
	FlatHaircut     float64 `yaml:"flat_haircut"`     // 0.30
	BootstrapIters  int     `yaml:"bootstrap_iters"`  // 1000
	CVFloor         float64 `yaml:"cv_floor"`         // 0.10
	CVCap           float64 `yaml:"cv_cap"`           // 0.60
	MonteCarloPaths int     `yaml:"monte_carlo_paths"` // 10000
	MinSteps        int     `yaml:"min_steps"`        // 50
	DrawdownCeiling float64 `yaml:"drawdown_ceiling"` // p95 máximo tolerado
	SearchIters     int     `yaml:"search_iters"`     // binary search del override
}

// SizingConfig controla los filtros y caps del position manager.
type SizingConfig struct {
	InitialBankroll  float64 `yaml:"initial_bankroll"`
	PriceFloor       float64 `yaml:"price_floor"`
	PriceCeiling     float64 `yaml:"price_ceiling"`
	MinConfidence    float64 `yaml:"min_confidence"`
	MinEdge          float64 `yaml:"min_edge"`
	MinImpliedNo     float64 `yaml:"min_implied_no"` // prob implícita mínima para bets NO
	MaxPositions     int     `yaml:"max_positions"`
	MaxPerGroup      int     `yaml:"max_per_group"`
	MinBet           float64 `yaml:"min_bet"`
	MaxBet           float64 `yaml:"max_bet"`
	PauseDrawdown    float64 `yaml:"pause_drawdown"`    // 0.15
	BootstrapTrades  int     `yaml:"bootstrap_trades"`  // 20
	BootstrapWinRate float64 `yaml:"bootstrap_win_rate"`
	ColdWinRate      float64 `yaml:"cold_win_rate"` // sobre los últimos 20 cerrados
	KellyNormal      float64 `yaml:"kelly_normal"`
	KellyBootstrap   float64 `yaml:"kelly_bootstrap"` // octavo de Kelly
	MinLiquidVolume  float64 `yaml:"min_liquid_volume"`

	// CorrelationGroups mapea archetype → grupo correlacionado. Los grupos
	// comparten el cap MaxPerGroup de posiciones abiertas simultáneas.
	CorrelationGroups map[string]string `yaml:"correlation_groups"`

	// ArchetypeBoosts multiplica el stake final por archetype. Ausente = ×1.
	ArchetypeBoosts map[string]float64 `yaml:"archetype_boosts"`

	// BlockedArchetypes rechaza siempre estos archetypes en el manager,
	// además de los kill rules del confidence engine.
	BlockedArchetypes []string `yaml:"blocked_archetypes"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el .env si existe.
// Path vacío devuelve la configuración por defecto.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)
	return &cfg, nil
}

// Default devuelve la configuración por defecto sin tocar disco.
func Default() *Config {
	var cfg Config
	setDefaults(&cfg)
	return &cfg
}

// applyEnvOverrides sobreescribe valores con variables de entorno.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("POLYSIZER_DB"); v != "" {
		cfg.Storage.DSN = v
	}
}

// setDefaults asegura que todos los knobs tengan valores sensatos.
// Los números vienen del análisis empírico del histórico de señales.
func setDefaults(cfg *Config) {
	h := &cfg.Health
	if h.CircuitBreakerThreshold <= 0 {
		h.CircuitBreakerThreshold = 5
	}
	if h.CircuitCooldown <= 0 {
		h.CircuitCooldown = 30 * time.Minute
	}
	if h.Retries <= 0 {
		h.Retries = 3
	}
	if h.BackoffBase <= 0 {
		h.BackoffBase = 2.0
	}
	if h.MaxBackoff <= 0 {
		h.MaxBackoff = 30 * time.Second
	}
	if h.CallsPerSecond <= 0 {
		h.CallsPerSecond = 10
	}
	if h.StalenessLimit <= 0 {
		h.StalenessLimit = time.Hour
	}

	ic := &cfg.IC
	if ic.MinSamples <= 0 {
		ic.MinSamples = 10
	}
	if ic.KillThreshold <= 0 {
		ic.KillThreshold = 0.03
	}
	if ic.WarnThreshold <= 0 {
		ic.WarnThreshold = 0.05
	}
	if ic.WindowDays <= 0 {
		ic.WindowDays = 30
	}

	c := &cfg.Calibration
	if c.Bins <= 0 {
		c.Bins = 5
	}
	if c.MinPerBin <= 0 {
		c.MinPerBin = 5
	}
	if c.MinTotal <= 0 {
		c.MinTotal = 20
	}
	if c.LookupWindow <= 0 {
		c.LookupWindow = 7 * 24 * time.Hour
	}

	k := &cfg.Kelly
	if k.MinTrades <= 0 {
		k.MinTrades = 15
	}
	if k.FlatHaircut <= 0 {
		k.FlatHaircut = 0.30
	}
	if k.BootstrapIters <= 0 {
		k.BootstrapIters = 1000
	}
	if k.CVFloor <= 0 {
		k.CVFloor = 0.10
	}
	if k.CVCap <= 0 {
		k.CVCap = 0.60
	}
	if k.MonteCarloPaths <= 0 {
		k.MonteCarloPaths = 10000
	}
	if k.MinSteps <= 0 {
		k.MinSteps = 50
	}
	if k.DrawdownCeiling <= 0 {
		k.DrawdownCeiling = 0.20
	}
	if k.SearchIters <= 0 {
		k.SearchIters = 10
	}

	s := &cfg.Sizing
	if s.InitialBankroll <= 0 {
		s.InitialBankroll = 10_000
	}
	if s.PriceFloor <= 0 {
		s.PriceFloor = 0.25
	}
	if s.PriceCeiling <= 0 {
		s.PriceCeiling = 0.97
	}
	if s.MinConfidence <= 0 {
		s.MinConfidence = 0.55
	}
	if s.MinEdge <= 0 {
		s.MinEdge = 0.05
	}
	if s.MinImpliedNo <= 0 {
		s.MinImpliedNo = 0.35
	}
	if s.MaxPositions <= 0 {
		s.MaxPositions = 10
	}
	if s.MaxPerGroup <= 0 {
		s.MaxPerGroup = 3
	}
	if s.MinBet <= 0 {
		s.MinBet = 10
	}
	if s.MaxBet <= 0 {
		s.MaxBet = 500
	}
	if s.PauseDrawdown <= 0 {
		s.PauseDrawdown = 0.15
	}
	if s.BootstrapTrades <= 0 {
		s.BootstrapTrades = 20
	}
	if s.BootstrapWinRate <= 0 {
		s.BootstrapWinRate = 0.58 // win rate histórico del pipeline, seed conservador
	}
	if s.ColdWinRate <= 0 {
		s.ColdWinRate = 0.55
	}
	if s.KellyNormal <= 0 {
		s.KellyNormal = 0.25 // quarter Kelly como fracción "full"
	}
	if s.KellyBootstrap <= 0 {
		s.KellyBootstrap = 0.125
	}
	if s.MinLiquidVolume <= 0 {
		s.MinLiquidVolume = 10_000
	}
	if s.CorrelationGroups == nil {
		s.CorrelationGroups = map[string]string{
			"price_above":          "crypto_price",
			"price_range":          "crypto_price",
			"intraday_updown":      "crypto_price",
			"directional_longshot": "crypto_price",
			"model_ranking":        "ai_models",
		}
	}
	if s.ArchetypeBoosts == nil {
		s.ArchetypeBoosts = map[string]float64{
			"price_above": 1.10,
		}
	}

	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "polysizer.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
