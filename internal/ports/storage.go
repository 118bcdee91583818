package ports

import (
	"context"
	"errors"
	"time"

	"github.com/alejandrodnm/polysizer/internal/domain"
)

// ErrNoOpenPosition indica que no hay posición OPEN que liquidar para el
// mercado. Es el único fallo de mutación tolerable para los callers: todo
// lo demás se propaga.
var ErrNoOpenPosition = errors.New("no open position for market")

// HealthStore persiste los health records de los data sources.
type HealthStore interface {
	// SaveHealth hace upsert del record completo de un source.
	SaveHealth(ctx context.Context, rec domain.SourceHealthRecord) error

	// LoadHealth devuelve todos los records persistidos.
	LoadHealth(ctx context.Context) ([]domain.SourceHealthRecord, error)
}

// PredictionStore persiste el ledger de predicciones del IC tracker.
type PredictionStore interface {
	// SavePrediction añade una fila sin resolver y devuelve su id.
	SavePrediction(ctx context.Context, p domain.SignalPrediction) (int64, error)

	// ResolveMarket marca como resueltas todas las filas sin resolver del
	// mercado. Devuelve cuántas filas tocó — 0 en la segunda llamada.
	ResolveMarket(ctx context.Context, marketID string, outcome float64, at time.Time) (int64, error)

	// ResolvedBySource devuelve las filas resueltas de un source desde la
	// fecha dada, ordenadas por created_at.
	ResolvedBySource(ctx context.Context, source string, since time.Time) ([]domain.SignalPrediction, error)

	// Sources devuelve los sources con al menos una predicción registrada.
	Sources(ctx context.Context) ([]string, error)

	// BucketStats acumula wins/total resueltos para un bucket. Side y zone
	// vacíos agregan sobre todas las filas del archetype.
	BucketStats(ctx context.Context, arch domain.Archetype, side domain.Side, zone domain.PriceZone) (domain.BucketStats, error)

	// TotalResolved cuenta todas las predicciones resueltas no-void.
	TotalResolved(ctx context.Context) (int, error)
}

// PositionStore persiste posiciones paper y el ledger del portfolio.
// Las mutaciones fallan con error duro — perder estado de dinero en
// silencio no es aceptable.
type PositionStore interface {
	// InsertPosition abre una posición. Falla si ya existe una OPEN para
	// el mismo mercado.
	InsertPosition(ctx context.Context, pos domain.PaperPosition) (int64, error)

	// SettlePosition cierra la posición OPEN del mercado con el estado y
	// P&L dados. Devuelve la posición cerrada.
	SettlePosition(ctx context.Context, marketID string, status domain.PositionStatus, pnl float64, at time.Time) (domain.PaperPosition, error)

	// OpenPositions devuelve todas las posiciones con status OPEN.
	OpenPositions(ctx context.Context) ([]domain.PaperPosition, error)

	// StalePositions devuelve posiciones OPEN cuyo end_date ya pasó.
	StalePositions(ctx context.Context, now time.Time) ([]domain.PaperPosition, error)

	// AppendSnapshot añade una fila al ledger del portfolio.
	AppendSnapshot(ctx context.Context, s domain.PortfolioSnapshot) error

	// LatestSnapshot devuelve la fila más reciente del ledger.
	// ok=false si el ledger está vacío.
	LatestSnapshot(ctx context.Context) (s domain.PortfolioSnapshot, ok bool, err error)

	// ClosedReturns devuelve los returns (P&L/stake) de las últimas
	// posiciones cerradas, más antiguos primero. limit ≤ 0 = todas.
	ClosedReturns(ctx context.Context, limit int) ([]float64, error)

	// RecentOutcomes devuelve won/lost de las últimas posiciones cerradas
	// (EXPIRED excluido), más recientes primero.
	RecentOutcomes(ctx context.Context, limit int) ([]bool, error)
}
