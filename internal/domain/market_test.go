package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testMarket() Market {
	return Market{
		ID: "m1", Asset: "BTC", Strike: 100_000,
		CreatedAt: t0, ExpiresAt: t0.Add(time.Hour),
		Status: MarketOpen,
	}
}

func TestMarket_TradingOpen(t *testing.T) {
	m := testMarket()
	assert.True(t, m.TradingOpen(t0))
	assert.True(t, m.TradingOpen(m.ExpiresAt.Add(-31*time.Second)))
	assert.False(t, m.TradingOpen(m.ExpiresAt.Add(-30*time.Second)))

	m.Status = MarketPending
	assert.False(t, m.TradingOpen(t0))
}

func TestMarket_TimeRemainingPct(t *testing.T) {
	m := testMarket()
	assert.InDelta(t, 1.0, m.TimeRemainingPct(t0), 1e-9)
	assert.InDelta(t, 0.25, m.TimeRemainingPct(t0.Add(45*time.Minute)), 1e-9)
	assert.Equal(t, 0.0, m.TimeRemainingPct(t0.Add(2*time.Hour)))
	assert.Equal(t, 1.0, m.TimeRemainingPct(t0.Add(-time.Hour)))
}

func TestMarketFilter_Match(t *testing.T) {
	m := testMarket()
	assert.True(t, MarketFilter{}.Match(m))
	assert.True(t, MarketFilter{Assets: []string{"ETH", "BTC"}}.Match(m))
	assert.False(t, MarketFilter{Assets: []string{"ETH"}}.Match(m))
	assert.False(t, MarketFilter{Statuses: []MarketStatus{MarketClosed}}.Match(m))
}

func TestPosition_Apply(t *testing.T) {
	p := Position{}
	p.Apply(SideBid, OutcomeYes, 0.40, 100)
	assert.Equal(t, 100.0, p.YesShares)
	assert.InDelta(t, 40.0, p.YesCost, 1e-9)

	// vende 60 de los 100 que tiene: cierre a costo medio
	p.Apply(SideAsk, OutcomeYes, 0.55, 60)
	assert.Equal(t, 40.0, p.YesShares)
	assert.InDelta(t, 16.0, p.YesCost, 1e-9)

	// vende 50 teniendo 40: cierra 40 y abre 10 NO a 0.45
	p.Apply(SideAsk, OutcomeYes, 0.55, 50)
	assert.Equal(t, 0.0, p.YesShares)
	assert.Equal(t, 10.0, p.NoShares)
	assert.InDelta(t, 4.5, p.NoCost, 1e-9)
	assert.InDelta(t, -10.0, p.Imbalance(), 1e-9)
}
