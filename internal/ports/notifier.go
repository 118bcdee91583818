package ports

import (
	"context"

	"github.com/alejandrodnm/polysizer/internal/domain"
)

// Notifier presenta decisiones y reportes al operador.
type Notifier interface {
	// NotifyDecision muestra el resultado de evaluar un signal.
	NotifyDecision(ctx context.Context, sig domain.Signal, dec domain.Decision) error
}
