package state

// store.go — cache concurrente del último estado por mercado.
//
// Un único mutex por instancia: cada mutación y cada lectura multi-key lo
// toma entero, así las operaciones son atómicas entre sí. La contención es
// baja (decenas de updates/segundo) — la simplicidad gana.
//
// Todo lo que sale del store son copias; nadie fuera muta un snapshot.

import (
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/polysizer/internal/domain"
)

const (
	// volDecay es la EMA del baseline de volumen para el spike detector.
	volDecay = 0.9
	// priceHistLen es cuántos precios retiene el tracker de momentum.
	priceHistLen = 12
)

// Config controla los derivados del store.
type Config struct {
	MinLiquidVolume float64
	SpikeRatio      float64 // volumen/baseline por encima → spike
}

// DefaultConfig devuelve la configuración de producción.
func DefaultConfig() Config {
	return Config{MinLiquidVolume: 10_000, SpikeRatio: 2.0}
}

// Store es la cache en memoria de snapshots y signal scores.
type Store struct {
	mu          sync.Mutex
	cfg         Config
	markets     map[string]domain.MarketSnapshot
	signals     map[string]map[string]domain.SignalScore // marketID → source
	composite   map[string]float64
	hot         map[string]bool
	volBaseline map[string]float64
	priceHist   map[string][]float64
	now         func() time.Time
}

// New crea un Store vacío.
func New(cfg Config) *Store {
	s := &Store{cfg: cfg, now: time.Now}
	s.reset()
	return s
}

// UpdateMarket aplica un patch parcial al snapshot del mercado y recalcula
// la hot watchlist como efecto de cada mutación. Los mercados nunca se
// borran, solo se sobreescriben.
func (s *Store) UpdateMarket(id string, patch domain.MarketPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.markets[id]
	m.MarketID = id
	applyPatch(&m, patch)
	m.UpdatedAt = s.now().UTC()
	s.markets[id] = m

	// derivados para spike/momentum
	if patch.Volume24h != nil {
		base := s.volBaseline[id]
		if base == 0 {
			base = *patch.Volume24h
		}
		s.volBaseline[id] = volDecay*base + (1-volDecay)**patch.Volume24h
	}
	if patch.YesPrice != nil {
		hist := append(s.priceHist[id], *patch.YesPrice)
		if len(hist) > priceHistLen {
			hist = hist[len(hist)-priceHistLen:]
		}
		s.priceHist[id] = hist
	}

	s.hot[id] = m.IsHighValueTarget(s.cfg.MinLiquidVolume, s.now())
}

// UpdateSignal hace upsert del score (market, source) y recalcula el
// composite del mercado como el máximo final confidence entre sources.
func (s *Store) UpdateSignal(score domain.SignalScore) {
	s.mu.Lock()
	defer s.mu.Unlock()

	score.UpdatedAt = s.now().UTC()
	bySource, ok := s.signals[score.MarketID]
	if !ok {
		bySource = make(map[string]domain.SignalScore)
		s.signals[score.MarketID] = bySource
	}
	bySource[score.Source] = score // reemplaza, nunca acumula

	best := 0.0
	for _, sc := range bySource {
		if sc.FinalConfidence > best {
			best = sc.FinalConfidence
		}
	}
	s.composite[score.MarketID] = best
}

// GetMarket devuelve una copia del snapshot. ok=false si no existe.
func (s *Store) GetMarket(id string) (domain.MarketSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	return m, ok
}

// CompositeScore devuelve el máximo final confidence del mercado.
func (s *Store) CompositeScore(id string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.composite[id]
}

// HotWatchlist devuelve los mercados líquidos, disputados y cerca de
// resolver, ordenados por composite score desc.
func (s *Store) HotWatchlist() []domain.MarketSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.MarketSnapshot
	for id, isHot := range s.hot {
		if isHot {
			out = append(out, s.markets[id])
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return s.composite[out[i].MarketID] > s.composite[out[j].MarketID]
	})
	return out
}

// LiquidMarkets devuelve los mercados con volumen sobre el floor.
func (s *Store) LiquidMarkets() []domain.MarketSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.MarketSnapshot
	for _, m := range s.markets {
		if m.IsLiquid(s.cfg.MinLiquidVolume) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return out
}

// TopSignals devuelve los mejores scores por final confidence.
func (s *Store) TopSignals(limit int) []domain.SignalScore {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.SignalScore
	for _, bySource := range s.signals {
		for _, sc := range bySource {
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FinalConfidence > out[j].FinalConfidence
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// VolumeSpike compara el volumen actual del mercado con su baseline EMA.
func (s *Store) VolumeSpike(id string) domain.VolumeSpikeInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	base := s.volBaseline[id]
	if !ok || base <= 0 {
		return domain.VolumeSpikeInfo{Ratio: 1}
	}
	ratio := m.Volume24h / base
	return domain.VolumeSpikeInfo{Ratio: ratio, Spiking: ratio >= s.cfg.SpikeRatio}
}

// Momentum devuelve el delta de precio YES sobre la ventana retenida.
// Positivo = el precio sube. 0 si hay menos de 2 puntos.
func (s *Store) Momentum(id string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	hist := s.priceHist[id]
	if len(hist) < 2 {
		return 0
	}
	return hist[len(hist)-1] - hist[0]
}

// Reset limpia todo el estado. Es el único camino de borrado masivo.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

func (s *Store) reset() {
	s.markets = make(map[string]domain.MarketSnapshot)
	s.signals = make(map[string]map[string]domain.SignalScore)
	s.composite = make(map[string]float64)
	s.hot = make(map[string]bool)
	s.volBaseline = make(map[string]float64)
	s.priceHist = make(map[string][]float64)
}

func applyPatch(m *domain.MarketSnapshot, p domain.MarketPatch) {
	if p.Title != nil {
		m.Title = *p.Title
	}
	if p.YesPrice != nil {
		m.YesPrice = *p.YesPrice
	}
	if p.NoPrice != nil {
		m.NoPrice = *p.NoPrice
	}
	if p.Volume24h != nil {
		m.Volume24h = *p.Volume24h
	}
	if p.Liquidity != nil {
		m.Liquidity = *p.Liquidity
	}
	if p.EndDate != nil {
		m.EndDate = *p.EndDate
	}
	if p.Category != nil {
		m.Category = *p.Category
	}
	if p.BestBid != nil {
		m.BestBid = *p.BestBid
	}
	if p.BestAsk != nil {
		m.BestAsk = *p.BestAsk
	}
}
