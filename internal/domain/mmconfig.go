package domain

import "time"

// MMConfig son los parámetros del market maker. Se cargan al inicio y no cambian.
type MMConfig struct {
	UserID string   // identidad del market maker en el exchange
	Assets []string // activos a cotizar

	BaseSpread float64
	MinSpread  float64
	MaxSpread  float64

	BaseSize float64
	MinSize  float64
	MaxSize  float64

	Levels       int
	LevelSpacing float64

	MaxImbalance         float64
	MaxPositionPerMarket float64
	SkewFactor           float64

	// Fracciones de vida transcurrida a partir de las cuales el skew se
	// multiplica por 2 y por 4.
	RebalanceStartPct    float64
	CriticalRebalancePct float64
	// Por debajo de esta fracción de vida restante se dejan de comprar perdedores.
	StopQuotingLoserPct float64

	QuoteInterval      time.Duration
	MarketSyncInterval time.Duration
	CloseBeforeExpiry  time.Duration
	PriceCacheTTL      time.Duration
	PriceMoveThreshold float64 // movimiento relativo que dispara un refresh

	Volatility        map[string]float64 // vol anual por activo
	DefaultVolatility float64

	EventBuffer          int
	PlacementConcurrency int
}

// VolatilityFor devuelve la vol anual configurada para el activo.
func (c MMConfig) VolatilityFor(asset string) float64 {
	if v, ok := c.Volatility[asset]; ok && v > 0 {
		return v
	}
	return c.DefaultVolatility
}

// DefaultMMConfig devuelve valores razonables para mercados de 15 minutos a 1 día.
func DefaultMMConfig() MMConfig {
	return MMConfig{
		UserID:               "market-maker",
		Assets:               []string{"BTC", "ETH", "SOL"},
		BaseSpread:           0.04,
		MinSpread:            0.02,
		MaxSpread:            0.20,
		BaseSize:             50,
		MinSize:              5,
		MaxSize:              200,
		Levels:               3,
		LevelSpacing:         0.01,
		MaxImbalance:         500,
		MaxPositionPerMarket: 1000,
		SkewFactor:           0.02,
		RebalanceStartPct:    0.5,
		CriticalRebalancePct: 0.8,
		StopQuotingLoserPct:  0.2,
		QuoteInterval:        5 * time.Second,
		MarketSyncInterval:   30 * time.Second,
		CloseBeforeExpiry:    60 * time.Second,
		PriceCacheTTL:        500 * time.Millisecond,
		PriceMoveThreshold:   0.0005,
		Volatility:           map[string]float64{"BTC": 0.5, "ETH": 0.65, "SOL": 0.8},
		DefaultVolatility:    0.6,
		EventBuffer:          1024,
		PlacementConcurrency: 1,
	}
}
