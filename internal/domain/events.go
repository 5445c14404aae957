package domain

import "time"

// Event es un evento entrante para el market maker. Unión cerrada:
// PriceTick, FillEvent y BookDelta son las únicas implementaciones.
type Event interface {
	isEvent()
}

// PriceTick es un precio spot del feed.
type PriceTick struct {
	Asset     string
	Price     float64
	Timestamp time.Time
}

// FillEvent notifica un fill del exchange.
type FillEvent struct {
	Fill Fill
}

// BookDelta avisa que un libro cambió (solo informativo para el MM).
type BookDelta struct {
	MarketID string
	Outcome  Outcome
	Sequence int64
}

func (PriceTick) isEvent() {}
func (FillEvent) isEvent() {}
func (BookDelta) isEvent() {}
