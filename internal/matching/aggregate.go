package matching

import (
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/binex/internal/domain"
)

// Aggregate colapsa los fills de una pasada en los que el maker es el market
// maker y comparten la orden taker. El precio es el promedio ponderado por
// tamaño; tamaño y fees se conservan exactos. El resto de fills pasa igual.
// El fill agregado ocupa la posición del primero de su grupo.
func Aggregate(fills []domain.Fill, mmUserID string) []domain.Fill {
	if mmUserID == "" || len(fills) < 2 {
		return fills
	}

	type group struct {
		idx      int
		size     decimal.Decimal
		notional decimal.Decimal
		makerFee decimal.Decimal
		takerFee decimal.Decimal
		count    int
	}

	out := make([]domain.Fill, 0, len(fills))
	groups := make(map[string]*group)

	for _, f := range fills {
		if f.MakerUserID != mmUserID {
			out = append(out, f)
			continue
		}
		key := f.TakerOrderID + "|" + string(f.Outcome)
		size := decimal.NewFromFloat(f.Size)
		g, ok := groups[key]
		if !ok {
			g = &group{idx: len(out)}
			groups[key] = g
			out = append(out, f)
		}
		g.size = g.size.Add(size)
		g.notional = g.notional.Add(decimal.NewFromFloat(f.Price).Mul(size))
		g.makerFee = g.makerFee.Add(f.MakerFee)
		g.takerFee = g.takerFee.Add(f.TakerFee)
		g.count++
	}

	for _, g := range groups {
		if g.count < 2 {
			continue
		}
		agg := out[g.idx]
		agg.Size = g.size.InexactFloat64()
		agg.Price = g.notional.Div(g.size).Round(6).InexactFloat64()
		agg.MakerFee = g.makerFee
		agg.TakerFee = g.takerFee
		agg.Aggregated = g.count
		out[g.idx] = agg
	}
	return out
}
