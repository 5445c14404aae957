package domain

import (
	"slices"
	"time"
)

// MarketStatus es el estado del ciclo de vida de un mercado.
type MarketStatus string

const (
	MarketPending  MarketStatus = "PENDING" // creado, strike todavía sin fijar
	MarketOpen     MarketStatus = "OPEN"
	MarketClosed   MarketStatus = "CLOSED"
	MarketResolved MarketStatus = "RESOLVED"
)

// TradingCloseBuffer: el trading se corta este tiempo antes del vencimiento.
const TradingCloseBuffer = 30 * time.Second

// Market es un mercado binario "¿el activo cierra por encima del strike?".
// Inmutable salvo Status, Strike (activación) y Outcome (resolución).
type Market struct {
	ID        string
	Asset     string  // "BTC", "ETH", ...
	Strike    float64 // 0 = pendiente de activación
	CreatedAt time.Time
	ExpiresAt time.Time
	Status    MarketStatus
	Outcome   Outcome // vacío hasta RESOLVED
}

// StrikeSet devuelve true si el mercado ya tiene strike (condición para cotizar).
func (m Market) StrikeSet() bool {
	return m.Strike > 0
}

// TradingOpen indica si se aceptan órdenes en now.
func (m Market) TradingOpen(now time.Time) bool {
	if m.Status != MarketOpen {
		return false
	}
	return now.Before(m.ExpiresAt.Add(-TradingCloseBuffer))
}

// TimeRemaining devuelve el tiempo hasta el vencimiento (0 si ya venció).
func (m Market) TimeRemaining(now time.Time) time.Duration {
	d := m.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// TimeRemainingPct es la fracción de vida que le queda al mercado, en [0,1].
func (m Market) TimeRemainingPct(now time.Time) float64 {
	total := m.ExpiresAt.Sub(m.CreatedAt)
	if total <= 0 {
		return 0
	}
	pct := float64(m.TimeRemaining(now)) / float64(total)
	if pct > 1 {
		return 1
	}
	return pct
}

// MarketFilter filtra el directorio de mercados. Campos vacíos no filtran.
type MarketFilter struct {
	Assets   []string
	Statuses []MarketStatus
}

// Match devuelve true si el mercado pasa el filtro.
func (f MarketFilter) Match(m Market) bool {
	if len(f.Assets) > 0 && !slices.Contains(f.Assets, m.Asset) {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, m.Status) {
		return false
	}
	return true
}

// PriceQuote es un precio spot observado para un activo.
type PriceQuote struct {
	Asset     string
	Price     float64
	Timestamp time.Time
}
