package strategy

import (
	"math"

	"github.com/alejandrodnm/binex/internal/domain"
)

// Límites de la escalera. Un bid nunca por encima de 0.98 y un ask nunca por
// debajo de 0.02, así siempre queda un tick entre ambos.
const (
	minBid = 0.01
	maxBid = 0.98
	minAsk = 0.02
	maxAsk = 0.99

	// loserThreshold: fair value por debajo del cual un outcome se considera perdido.
	loserThreshold = 0.15
)

// GenerateQuotes construye la escalera de cotizaciones YES/NO para un mercado.
//
// El skew está expresado en precio YES: skew positivo (largo YES) baja todos
// los precios YES y sube los NO para atraer flujo que compense.
func GenerateQuotes(fairYes, timeRemainingPct, yesPos, noPos float64, cfg domain.MMConfig) domain.QuoteSet {
	fairNo := 1 - fairYes
	imbalance := yesPos - noPos

	skew := computeSkew(imbalance, timeRemainingPct, cfg)
	spread := computeSpread(fairYes, timeRemainingPct, imbalance, cfg)
	baseSize := levelSize(fairYes, timeRemainingPct, cfg)

	// tamaño por lado: las cotizaciones que acumulan en la dirección ya sesgada se achican
	yesSideSize, noSideSize := baseSize, baseSize
	if cfg.MaxPositionPerMarket > 0 {
		ratio := math.Abs(imbalance) / cfg.MaxPositionPerMarket
		if ratio > 0.5 {
			scale := math.Max(0.1, 1-ratio)
			if imbalance > 0 {
				yesSideSize *= scale
			} else {
				noSideSize *= scale
			}
		}
	}
	yesSideSize = finalSize(yesSideSize, cfg)
	noSideSize = finalSize(noSideSize, cfg)

	// stop-quoting-loser: nunca se suprimen asks
	quoteYesBids, quoteNoBids := true, true
	if timeRemainingPct <= cfg.StopQuotingLoserPct {
		quoteYesBids = fairYes >= loserThreshold
		quoteNoBids = fairNo >= loserThreshold
	}

	qs := domain.QuoteSet{
		FairYes: fairYes,
		FairNo:  fairNo,
		Spread:  spread,
		Skew:    skew,
	}
	half := spread / 2

	for i := 0; i < cfg.Levels; i++ {
		off := float64(i) * cfg.LevelSpacing

		// acumulan YES: bid YES y ask NO. Acumulan NO: bid NO y ask YES.
		if quoteYesBids {
			qs.YesBids = appendBid(qs.YesBids, fairYes-half-off-skew, fairYes, yesSideSize)
		}
		qs.YesAsks = appendAsk(qs.YesAsks, fairYes+half+off-skew, fairYes, noSideSize)
		if quoteNoBids {
			qs.NoBids = appendBid(qs.NoBids, fairNo-half-off+skew, fairNo, noSideSize)
		}
		qs.NoAsks = appendAsk(qs.NoAsks, fairNo+half+off+skew, fairNo, yesSideSize)
	}
	return qs
}

func computeSkew(imbalance, timeRemainingPct float64, cfg domain.MMConfig) float64 {
	if cfg.MaxImbalance <= 0 {
		return 0
	}
	mult := 1.0
	switch {
	case timeRemainingPct < 1-cfg.CriticalRebalancePct:
		mult = 4
	case timeRemainingPct < 1-cfg.RebalanceStartPct:
		mult = 2
	}
	limit := cfg.SkewFactor * 2.5
	skew := imbalance / cfg.MaxImbalance * cfg.SkewFactor * mult
	return math.Max(-limit, math.Min(limit, skew))
}

func computeSpread(fairYes, timeRemainingPct, imbalance float64, cfg domain.MMConfig) float64 {
	spread := cfg.BaseSpread

	dist := math.Abs(fairYes - 0.5)
	switch {
	case dist > 0.35:
		spread *= 1.5
	case dist > 0.25:
		spread *= 1.25
	}

	switch {
	case timeRemainingPct < 0.10:
		spread *= 2
	case timeRemainingPct < 0.20:
		spread *= 1.5
	}

	if cfg.MaxImbalance > 0 {
		ratio := math.Abs(imbalance) / cfg.MaxImbalance
		if ratio > 0.5 {
			spread *= 1 + math.Min(1, ratio)*0.5
		}
	}
	return math.Max(cfg.MinSpread, math.Min(cfg.MaxSpread, spread))
}

// levelSize aplica la reducción por confianza o cercanía al vencimiento.
// Cuando aplican las dos, gana la más fuerte.
func levelSize(fairYes, timeRemainingPct float64, cfg domain.MMConfig) float64 {
	dist := math.Abs(fairYes - 0.5)
	factor := 1.0
	switch {
	case dist > 0.35 || timeRemainingPct < 0.10:
		factor = 0.25
	case dist > 0.25 || timeRemainingPct < 0.20:
		factor = 0.5
	}
	return cfg.BaseSize * factor
}

func finalSize(size float64, cfg domain.MMConfig) float64 {
	return math.Round(math.Max(cfg.MinSize, math.Min(cfg.MaxSize, size)))
}

// appendBid redondea al centavo, deja el bid estrictamente por debajo del
// fair value y lo descarta fuera de [0.01, 0.98] o si repite el nivel anterior.
func appendBid(qs []domain.Quote, raw, fair, size float64) []domain.Quote {
	price := math.Min(domain.RoundPrice(raw), centBelow(fair))
	if price < minBid-1e-9 || price > maxBid+1e-9 || size <= 0 {
		return qs
	}
	if n := len(qs); n > 0 && domain.PriceToTick(qs[n-1].Price) == domain.PriceToTick(price) {
		return qs
	}
	return append(qs, domain.Quote{Price: price, Size: size})
}

// appendAsk es el espejo de appendBid: estrictamente por encima del fair, en [0.02, 0.99].
func appendAsk(qs []domain.Quote, raw, fair, size float64) []domain.Quote {
	price := math.Max(domain.RoundPrice(raw), centAbove(fair))
	if price < minAsk-1e-9 || price > maxAsk+1e-9 || size <= 0 {
		return qs
	}
	if n := len(qs); n > 0 && domain.PriceToTick(qs[n-1].Price) == domain.PriceToTick(price) {
		return qs
	}
	return append(qs, domain.Quote{Price: price, Size: size})
}

// centBelow devuelve el mayor precio en centavos estrictamente menor que p.
func centBelow(p float64) float64 {
	return (math.Ceil(p*100-1e-9) - 1) / 100
}

// centAbove devuelve el menor precio en centavos estrictamente mayor que p.
func centAbove(p float64) float64 {
	return (math.Floor(p*100+1e-9) + 1) / 100
}
