package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func limitReq(price, size float64) OrderRequest {
	return OrderRequest{
		MarketID: "m1", OwnerID: "alice",
		Side: SideBid, Outcome: OutcomeYes, Type: OrderLimit,
		Price: price, Size: size,
	}
}

func TestValidPrice(t *testing.T) {
	assert.True(t, ValidPrice(0.01))
	assert.True(t, ValidPrice(0.99))
	assert.True(t, ValidPrice(0.29))
	assert.False(t, ValidPrice(0))
	assert.False(t, ValidPrice(1))
	assert.False(t, ValidPrice(0.505))
}

func TestOrderRequest_Validate_Limit(t *testing.T) {
	assert.NoError(t, limitReq(0.50, 10).Validate(t0))
	assert.ErrorIs(t, limitReq(0.505, 10).Validate(t0), ErrInvalidPrice)
	assert.ErrorIs(t, limitReq(1.2, 10).Validate(t0), ErrInvalidPrice)
	assert.ErrorIs(t, limitReq(0.50, 0).Validate(t0), ErrInvalidSize)
	assert.ErrorIs(t, limitReq(0.50, MaxOrderSize+1).Validate(t0), ErrInvalidSize)
}

func TestOrderRequest_Validate_Expired(t *testing.T) {
	r := limitReq(0.50, 10)
	r.ExpiresAt = t0.Add(-time.Second)
	assert.ErrorIs(t, r.Validate(t0), ErrOrderExpired)
}

func TestOrderRequest_Validate_DollarAndSell(t *testing.T) {
	d := OrderRequest{MarketID: "m1", OwnerID: "a", Side: SideBid, Outcome: OutcomeYes, Type: OrderMarketDollar, DollarAmount: 50}
	assert.NoError(t, d.Validate(t0))

	d.DollarAmount = 0
	assert.ErrorIs(t, d.Validate(t0), ErrInvalidSize)

	d.DollarAmount, d.Side = 50, SideAsk
	assert.ErrorIs(t, d.Validate(t0), ErrInvalidOrderType)

	s := OrderRequest{MarketID: "m1", OwnerID: "a", Side: SideAsk, Outcome: OutcomeNo, Type: OrderSell, Size: 5, MinPrice: 0.333}
	assert.ErrorIs(t, s.Validate(t0), ErrInvalidPrice)
}

func TestNewOrder_Defaults(t *testing.T) {
	m := NewOrder("o1", OrderRequest{Side: SideAsk, Type: OrderMarket, Size: 3}, t0)
	assert.Equal(t, MinPrice, m.Price)
	assert.Equal(t, 3.0, m.Remaining)

	d := NewOrder("o2", OrderRequest{Side: SideBid, Type: OrderMarketDollar, DollarAmount: 20}, t0)
	assert.Equal(t, MaxPrice, d.MaxPrice)
	assert.Equal(t, 0.0, d.Size)

	s := NewOrder("o3", OrderRequest{Side: SideAsk, Type: OrderSell, Size: 3}, t0)
	assert.Equal(t, MinPrice, s.MinPrice)
	assert.Equal(t, StatusNew, s.Status)
}

func TestOrder_Expired(t *testing.T) {
	o := &Order{}
	assert.False(t, o.Expired(t0))
	o.ExpiresAt = t0
	assert.True(t, o.Expired(t0))
}
