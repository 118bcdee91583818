package domain

import "time"

// SourceStatus clasifica la salud de un data source para reporting.
// El orden importa: circuit_open > degraded > warning > healthy > unknown.
type SourceStatus string

const (
	StatusCircuitOpen SourceStatus = "circuit_open"
	StatusDegraded    SourceStatus = "degraded" // ≥5 fallos consecutivos
	StatusWarning     SourceStatus = "warning"  // ≥2 fallos consecutivos
	StatusHealthy     SourceStatus = "healthy"
	StatusUnknown     SourceStatus = "unknown" // nunca visto un éxito
)

// SourceHealthRecord es el estado persistido de un data source.
type SourceHealthRecord struct {
	Source              string
	LastSuccess         time.Time
	LastFailure         time.Time
	LastError           string
	ConsecutiveFailures int
	TotalSuccesses      int64
	TotalFailures       int64
	LatencyEMA          time.Duration
	CircuitOpenUntil    *time.Time // nil = circuito cerrado
}

// CircuitOpen devuelve true si el circuito está abierto en el instante dado.
func (r SourceHealthRecord) CircuitOpen(now time.Time) bool {
	return r.CircuitOpenUntil != nil && now.Before(*r.CircuitOpenUntil)
}

// Status clasifica el record según el orden de severidad documentado.
func (r SourceHealthRecord) Status(now time.Time, degradedThreshold int) SourceStatus {
	switch {
	case r.CircuitOpen(now):
		return StatusCircuitOpen
	case r.ConsecutiveFailures >= degradedThreshold:
		return StatusDegraded
	case r.ConsecutiveFailures >= 2:
		return StatusWarning
	case !r.LastSuccess.IsZero():
		return StatusHealthy
	default:
		return StatusUnknown
	}
}
