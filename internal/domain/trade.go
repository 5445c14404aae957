package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fill es una ejecución entre una orden maker (en el libro) y una taker.
// Price es siempre el precio del maker.
type Fill struct {
	ID           string
	MarketID     string
	Outcome      Outcome
	MakerOrderID string
	TakerOrderID string
	MakerUserID  string
	TakerUserID  string
	MakerSide    Side
	TakerSide    Side
	Price        float64
	Size         float64
	MakerFee     decimal.Decimal // USDC, 6 decimales
	TakerFee     decimal.Decimal
	Aggregated   int // >1 si es la suma de varios fills contra el market maker
	CreatedAt    time.Time
}

// Notional devuelve price × size en USDC.
func (f Fill) Notional() decimal.Decimal {
	return decimal.NewFromFloat(f.Price).Mul(decimal.NewFromFloat(f.Size)).Round(6)
}

// SideOf devuelve el lado con el que userID participó en el fill.
func (f Fill) SideOf(userID string) (Side, bool) {
	switch userID {
	case f.MakerUserID:
		return f.MakerSide, true
	case f.TakerUserID:
		return f.TakerSide, true
	}
	return "", false
}
