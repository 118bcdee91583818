package health

// resilient.go — el único boundary donde ocurren llamadas externas.
//
// Call envuelve cualquier fetch con retry + backoff exponencial + circuit
// breaker, reportando cada intento al Registry. Los callers lo tratan como
// una caja negra que siempre devuelve: o el resultado o el fallback.

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Outcome clasifica cómo terminó una llamada resiliente. No es un error:
// los callers hacen match sobre el valor.
type Outcome string

const (
	OutcomeOK          Outcome = "ok"
	OutcomeCircuitOpen Outcome = "circuit_open"
	OutcomeExhausted   Outcome = "exhausted"
)

// CallConfig controla los reintentos de una llamada concreta.
type CallConfig struct {
	Retries     int           // intentos extra tras el primero
	BackoffBase float64       // segundos; delay = base^attempt + jitter
	MaxBackoff  time.Duration // cap del crecimiento exponencial
}

// DefaultCallConfig es razonable para APIs públicas de prediction markets.
func DefaultCallConfig() CallConfig {
	return CallConfig{Retries: 3, BackoffBase: 2.0, MaxBackoff: 30 * time.Second}
}

// Result describe el desenlace de la llamada para logging y tests.
type Result struct {
	Outcome  Outcome
	Attempts int
	Err      error // último error observado, nil en OutcomeOK
}

// Call ejecuta op con hasta Retries+1 intentos. Si el circuito del source
// está abierto devuelve el fallback inmediatamente sin invocar op. Cada
// fallo y cada éxito se registran en el Registry; entre intentos espera
// backoff exponencial con jitter, nunca tras el último.
func Call[T any](ctx context.Context, reg *Registry, source string, cfg CallConfig, fallback T, op func(context.Context) (T, error)) (T, Result) {
	if reg.CircuitOpen(source) {
		return fallback, Result{Outcome: OutcomeCircuitOpen}
	}

	var lastErr error
	attempts := cfg.Retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if err := reg.limiter(source).Wait(ctx); err != nil {
			return fallback, Result{Outcome: OutcomeExhausted, Attempts: attempt, Err: err}
		}

		start := reg.now()
		result, err := op(ctx)
		elapsed := reg.now().Sub(start)

		if err == nil {
			reg.RecordSuccess(ctx, source, elapsed)
			return result, Result{Outcome: OutcomeOK, Attempts: attempt + 1}
		}

		lastErr = err
		reg.RecordFailure(ctx, source, err)

		if attempt < attempts-1 {
			if !sleep(ctx, backoff(cfg, attempt)) {
				break
			}
		}
	}
	return fallback, Result{Outcome: OutcomeExhausted, Attempts: attempts, Err: lastErr}
}

// backoff devuelve base^attempt segundos + jitter, con cap.
func backoff(cfg CallConfig, attempt int) time.Duration {
	base := cfg.BackoffBase
	if base <= 1 {
		base = 2
	}
	wait := time.Duration(math.Pow(base, float64(attempt)) * float64(time.Second))
	wait += time.Duration(rand.Int63n(int64(500 * time.Millisecond)))
	if cfg.MaxBackoff > 0 && wait > cfg.MaxBackoff {
		wait = cfg.MaxBackoff
	}
	return wait
}

// sleep espera respetando el contexto. false si el contexto se canceló.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
