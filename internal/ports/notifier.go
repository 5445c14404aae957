package ports

import (
	"context"

	"github.com/alejandrodnm/binex/internal/domain"
)

// Reporter presenta el estado del market maker y de los libros.
type Reporter interface {
	// Report muestra el estado de cotización por mercado.
	// En la implementación de consola, imprime una tabla formateada.
	Report(ctx context.Context, quotes []domain.MarketQuoteStatus, books []domain.BookSnapshot) error
}
