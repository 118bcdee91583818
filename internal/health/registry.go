package health

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/polysizer/internal/domain"
	"github.com/alejandrodnm/polysizer/internal/ports"
)

const (
	// emaDecay: new = 0.8·old + 0.2·latest
	emaDecay = 0.8

	defaultThreshold = 5
	defaultCooldown  = 30 * time.Minute
)

// Config controla el registry y el circuit breaker.
type Config struct {
	CircuitBreakerThreshold int           // fallos consecutivos que abren el circuito
	CircuitCooldown         time.Duration // cuánto queda abierto
	CallsPerSecond          float64       // rate limit por source
}

// DefaultConfig devuelve la configuración de producción.
func DefaultConfig() Config {
	return Config{
		CircuitBreakerThreshold: defaultThreshold,
		CircuitCooldown:         defaultCooldown,
		CallsPerSecond:          10,
	}
}

// Registry mantiene el estado de salud de cada data source: contadores de
// éxito/fallo, EMA de latencia y el estado del circuit breaker. La copia en
// memoria es la autoritativa; cada mutación se persiste al store.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	store    ports.HealthStore // nil = solo memoria (tests)
	records  map[string]*domain.SourceHealthRecord
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

// NewRegistry crea un Registry y precarga los records persistidos.
func NewRegistry(cfg Config, store ports.HealthStore) *Registry {
	if cfg.CircuitBreakerThreshold <= 0 {
		cfg.CircuitBreakerThreshold = defaultThreshold
	}
	if cfg.CircuitCooldown <= 0 {
		cfg.CircuitCooldown = defaultCooldown
	}
	if cfg.CallsPerSecond <= 0 {
		cfg.CallsPerSecond = 10
	}

	r := &Registry{
		cfg:      cfg,
		store:    store,
		records:  make(map[string]*domain.SourceHealthRecord),
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}

	if store != nil {
		recs, err := store.LoadHealth(context.Background())
		if err != nil {
			slog.Warn("health: could not preload records", "err", err)
			return r
		}
		for _, rec := range recs {
			copied := rec
			r.records[rec.Source] = &copied
		}
	}
	return r
}

// RecordSuccess registra un éxito: resetea el contador de fallos, cierra el
// circuito si estaba abierto y actualiza la EMA de latencia.
func (r *Registry) RecordSuccess(ctx context.Context, source string, latency time.Duration) {
	r.mu.Lock()
	rec := r.record(source)
	rec.LastSuccess = r.now().UTC()
	rec.ConsecutiveFailures = 0
	rec.TotalSuccesses++
	rec.CircuitOpenUntil = nil
	if rec.LatencyEMA == 0 {
		rec.LatencyEMA = latency
	} else {
		rec.LatencyEMA = time.Duration(emaDecay*float64(rec.LatencyEMA) + (1-emaDecay)*float64(latency))
	}
	snapshot := *rec
	r.mu.Unlock()

	r.persist(ctx, snapshot)
}

// RecordFailure registra un fallo y abre el circuito al llegar al umbral.
func (r *Registry) RecordFailure(ctx context.Context, source string, callErr error) {
	r.mu.Lock()
	rec := r.record(source)
	rec.LastFailure = r.now().UTC()
	if callErr != nil {
		rec.LastError = callErr.Error()
	}
	rec.ConsecutiveFailures++
	rec.TotalFailures++
	now := r.now().UTC()
	if rec.ConsecutiveFailures >= r.cfg.CircuitBreakerThreshold && !rec.CircuitOpen(now) {
		until := now.Add(r.cfg.CircuitCooldown)
		rec.CircuitOpenUntil = &until
		slog.Warn("health: circuit opened",
			"source", source,
			"consecutive_failures", rec.ConsecutiveFailures,
			"until", until,
		)
	}
	snapshot := *rec
	r.mu.Unlock()

	r.persist(ctx, snapshot)
}

// CircuitOpen devuelve true si el circuito del source está abierto ahora.
func (r *Registry) CircuitOpen(source string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[source]
	return ok && rec.CircuitOpen(r.now())
}

// Status clasifica el source: circuit_open > degraded > warning > healthy > unknown.
func (r *Registry) Status(source string) domain.SourceStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[source]
	if !ok {
		return domain.StatusUnknown
	}
	return rec.Status(r.now(), r.cfg.CircuitBreakerThreshold)
}

// LastSuccess devuelve el último éxito del source. ok=false si nunca hubo.
func (r *Registry) LastSuccess(source string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[source]
	if !ok || rec.LastSuccess.IsZero() {
		return time.Time{}, false
	}
	return rec.LastSuccess, true
}

// Report devuelve una copia de todos los records, ordenados por source.
func (r *Registry) Report() []domain.SourceHealthRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.SourceHealthRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// limiter devuelve el rate limiter del source, creándolo si no existe.
func (r *Registry) limiter(source string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[source]
	if !ok {
		l = rate.NewLimiter(rate.Limit(r.cfg.CallsPerSecond), 1)
		r.limiters[source] = l
	}
	return l
}

// record devuelve el record del source, creándolo si no existe.
// Caller debe tener el lock.
func (r *Registry) record(source string) *domain.SourceHealthRecord {
	rec, ok := r.records[source]
	if !ok {
		rec = &domain.SourceHealthRecord{Source: source}
		r.records[source] = rec
	}
	return rec
}

// persist escribe el record al store. Un fallo aquí degrada el reporting
// pero no bloquea la operación — la copia en memoria manda.
func (r *Registry) persist(ctx context.Context, rec domain.SourceHealthRecord) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveHealth(ctx, rec); err != nil {
		slog.Warn("health: persist failed", "source", rec.Source, "err", err)
	}
}
