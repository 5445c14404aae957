package settlement

import (
	"context"
	"log/slog"

	"github.com/alejandrodnm/binex/internal/domain"
)

// LogDispatcher no liquida nada: loguea cada fill. Se usa en dry-run.
type LogDispatcher struct{}

// ExecuteMatch implementa ports.SettlementDispatcher.
func (LogDispatcher) ExecuteMatch(_ context.Context, f domain.Fill, marketRef, makerAddr, takerAddr string) (domain.SettlementResult, error) {
	slog.Info("settlement[dry-run]: match",
		"market", marketRef,
		"outcome", f.Outcome,
		"price", f.Price,
		"size", f.Size,
		"maker", makerAddr,
		"taker", takerAddr,
	)
	return domain.SettlementResult{TxRef: "dry-run:" + f.ID, Status: "SIMULATED"}, nil
}

// ExecuteClose implementa ports.SettlementDispatcher.
func (LogDispatcher) ExecuteClose(_ context.Context, f domain.Fill, marketRef, buyerAddr, sellerAddr string) (domain.SettlementResult, error) {
	slog.Info("settlement[dry-run]: close",
		"market", marketRef,
		"outcome", f.Outcome,
		"price", f.Price,
		"size", f.Size,
		"buyer", buyerAddr,
		"seller", sellerAddr,
	)
	return domain.SettlementResult{TxRef: "dry-run:" + f.ID, Status: "SIMULATED"}, nil
}
