package domain

import "time"

// SettlementKind distingue una apertura (mint) de un cierre (transferencia de shares).
type SettlementKind string

const (
	SettlementOpen  SettlementKind = "OPEN"
	SettlementClose SettlementKind = "CLOSE"
)

// IntentStatus del outbox de settlement.
type IntentStatus string

const (
	IntentPending IntentStatus = "PENDING"
	IntentSettled IntentStatus = "SETTLED"
)

// SettlementIntent es un fill pendiente de liquidar en la plataforma.
// OPEN usa MakerAddr/TakerAddr, CLOSE usa BuyerAddr/SellerAddr.
type SettlementIntent struct {
	ID         string
	Kind       SettlementKind
	Fill       Fill
	MarketRef  string
	MakerAddr  string
	TakerAddr  string
	BuyerAddr  string
	SellerAddr string
	Status     IntentStatus
	Attempts   int
	LastError  string
	TxRef      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SettlementResult es la respuesta del relayer.
type SettlementResult struct {
	TxRef  string
	Status string
}
