package domain

import "time"

// Quote es un nivel de cotización del market maker.
type Quote struct {
	Price float64
	Size  float64
}

// QuoteSet es la escalera completa para un mercado en un ciclo de refresh.
// Efímero: se recalcula en cada ciclo.
type QuoteSet struct {
	FairYes float64
	FairNo  float64
	Spread  float64
	Skew    float64
	YesBids []Quote
	YesAsks []Quote
	NoBids  []Quote
	NoAsks  []Quote
}

// Len devuelve el número total de cotizaciones.
func (q QuoteSet) Len() int {
	return len(q.YesBids) + len(q.YesAsks) + len(q.NoBids) + len(q.NoAsks)
}

// MarketQuoteStatus es el estado del market maker en un mercado, para reporting.
type MarketQuoteStatus struct {
	MarketID    string
	Asset       string
	Strike      float64
	Spot        float64
	FairYes     float64
	Spread      float64
	Skew        float64
	YesPosition float64
	NoPosition  float64
	Resting     int
	Closed      bool // dentro de la ventana de cierre, sin cotizar
	LastRefresh time.Time
}
