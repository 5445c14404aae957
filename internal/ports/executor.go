package ports

import (
	"context"

	"github.com/alejandrodnm/binex/internal/domain"
)

// OrderGateway envía y cancela órdenes en el exchange.
type OrderGateway interface {
	// SubmitOrder valida y ejecuta la orden. Los rechazos de matching
	// (self-trade, FOK sin liquidez) vuelven en el resultado, no como error.
	SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)

	// CancelOrder saca la orden del libro si pertenece a ownerID.
	// Devuelve false si ya no estaba en el libro.
	CancelOrder(ctx context.Context, orderID, ownerID string) (bool, error)
}

// SettlementDispatcher liquida fills en la plataforma. Las llamadas deben ser
// idempotentes: el outbox puede reintentarlas.
type SettlementDispatcher interface {
	// ExecuteMatch abre posición: mint de YES/NO contra colateral.
	ExecuteMatch(ctx context.Context, fill domain.Fill, marketRef, makerAddr, takerAddr string) (domain.SettlementResult, error)

	// ExecuteClose transfiere shares existentes del vendedor al comprador.
	ExecuteClose(ctx context.Context, fill domain.Fill, marketRef, buyerAddr, sellerAddr string) (domain.SettlementResult, error)
}

// SettlementQueue recibe intents de settlement del core.
type SettlementQueue interface {
	Enqueue(ctx context.Context, intent domain.SettlementIntent) error
}
