package matching

import (
	"github.com/shopspring/decimal"
)

var bpsDenominator = decimal.NewFromInt(10_000)

// FeeSchedule son las comisiones maker/taker en basis points sobre el nocional.
type FeeSchedule struct {
	MakerBps int64
	TakerBps int64
}

// Fees calcula las comisiones de un fill. Se truncan a 6 decimales (micro-USDC).
func (f FeeSchedule) Fees(price, size float64) (maker, taker decimal.Decimal) {
	notional := decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(size))
	maker = notional.Mul(decimal.NewFromInt(f.MakerBps)).Div(bpsDenominator).Truncate(6)
	taker = notional.Mul(decimal.NewFromInt(f.TakerBps)).Div(bpsDenominator).Truncate(6)
	return maker, taker
}
