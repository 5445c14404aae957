package ports

import (
	"context"

	"github.com/alejandrodnm/binex/internal/domain"
)

// MarketDirectory lista los mercados del exchange.
type MarketDirectory interface {
	// GetActiveMarkets devuelve los mercados que pasan el filtro.
	GetActiveMarkets(ctx context.Context, filter domain.MarketFilter) ([]domain.Market, error)
}

// PriceSource devuelve el último precio spot conocido de un activo.
type PriceSource interface {
	// GetPrice devuelve ok=false si no hay precio para el activo (no es error).
	GetPrice(ctx context.Context, asset string) (domain.PriceQuote, bool, error)
}

// PositionSource devuelve la posición de un usuario en un mercado.
type PositionSource interface {
	Position(ctx context.Context, userID, marketID string) (domain.Position, error)
}

// BookSource devuelve la foto de un libro (para reporting).
type BookSource interface {
	Snapshot(marketID string, outcome domain.Outcome, depth int) (domain.BookSnapshot, error)
}
