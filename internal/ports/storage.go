package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/binex/internal/domain"
)

// TradeStore persiste fills y posiciones. La memoria del exchange es la fuente
// de verdad; esto es un journal.
type TradeStore interface {
	// SaveFills persiste los fills de una orden en una transacción.
	SaveFills(ctx context.Context, fills []domain.Fill) error

	// SavePosition hace upsert de la posición.
	SavePosition(ctx context.Context, pos domain.Position) error

	// GetPosition devuelve ok=false si no existe.
	GetPosition(ctx context.Context, userID, marketID string) (domain.Position, bool, error)

	// FillsByMarket devuelve los fills de un mercado en orden de creación.
	FillsByMarket(ctx context.Context, marketID string) ([]domain.Fill, error)

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}

// IntentStore persiste el outbox de settlement.
type IntentStore interface {
	// SaveIntent inserta o reemplaza un intent.
	SaveIntent(ctx context.Context, intent domain.SettlementIntent) error

	// PendingIntents devuelve intents PENDING actualizados antes de olderThan.
	PendingIntents(ctx context.Context, olderThan time.Time, limit int) ([]domain.SettlementIntent, error)
}
