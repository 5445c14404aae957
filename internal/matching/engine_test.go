package matching_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/binex/internal/domain"
	"github.com/alejandrodnm/binex/internal/matching"
)

var now = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newEngine(fees matching.FeeSchedule) *matching.Engine {
	n := 0
	return matching.NewEngine(fees,
		matching.WithClock(func() time.Time { return now }),
		matching.WithIDs(func() string { n++; return fmt.Sprintf("f%d", n) }),
	)
}

func takerOrder(owner string, side domain.Side, typ domain.OrderType, price, size float64) *domain.Order {
	return domain.NewOrder("t-"+owner, domain.OrderRequest{
		MarketID: "m1", OwnerID: owner,
		Side: side, Outcome: domain.OutcomeYes, Type: typ,
		Price: price, Size: size,
	}, now)
}

func seed(t *testing.T, book *matching.OrderBook, orders ...*domain.Order) {
	t.Helper()
	for _, o := range orders {
		_, err := book.AddOrder(o)
		require.NoError(t, err)
	}
}

func TestProcessOrder_MarketBidTakesSingleAsk(t *testing.T) {
	eng := newEngine(matching.FeeSchedule{})
	book := matching.NewOrderBook("m1", domain.OutcomeYes, nil)
	seed(t, book, restingOrder("a1", "maker", domain.SideAsk, 0.40, 100))

	taker := takerOrder("taker", domain.SideBid, domain.OrderMarket, 0, 100)
	res := eng.ProcessOrder(book, taker)

	require.Len(t, res.Fills, 1)
	assert.Equal(t, 0.40, res.Fills[0].Price)
	assert.Equal(t, 100.0, res.Fills[0].Size)
	assert.Equal(t, domain.StatusFilled, res.Status)
	assert.False(t, res.AddedToBook)
	_, ok := book.BestAsk()
	assert.False(t, ok)
	_, ok = book.Get("a1")
	assert.False(t, ok)
}

func TestProcessOrder_DollarWalk(t *testing.T) {
	eng := newEngine(matching.FeeSchedule{})
	book := matching.NewOrderBook("m1", domain.OutcomeYes, nil)
	seed(t, book,
		restingOrder("a1", "maker", domain.SideAsk, 0.50, 40),
		restingOrder("a2", "maker", domain.SideAsk, 0.60, 100),
	)

	order := domain.NewOrder("d1", domain.OrderRequest{
		MarketID: "m1", OwnerID: "buyer", Side: domain.SideBid, Outcome: domain.OutcomeYes,
		Type: domain.OrderMarketDollar, DollarAmount: 50,
	}, now)
	res := eng.ProcessOrder(book, order)

	require.Len(t, res.Fills, 2)
	assert.Equal(t, 40.0, res.Fills[0].Size)
	assert.Equal(t, 0.50, res.Fills[0].Price)
	assert.Equal(t, 50.0, res.Fills[1].Size)
	assert.Equal(t, 0.60, res.Fills[1].Price)
	assert.True(t, res.TotalSpent.Equal(decimal.NewFromInt(50)))
	assert.True(t, res.TotalContracts.Equal(decimal.NewFromInt(90)))
	assert.True(t, res.Unfilled.IsZero())
	assert.Equal(t, domain.StatusFilled, res.Status)

	rest, ok := book.Get("a2")
	require.True(t, ok)
	assert.Equal(t, 50.0, rest.Remaining)
}

func TestProcessOrder_DollarWalkRespectsMaxPriceAndSkipsSelf(t *testing.T) {
	eng := newEngine(matching.FeeSchedule{})
	book := matching.NewOrderBook("m1", domain.OutcomeYes, nil)
	seed(t, book,
		restingOrder("own", "buyer", domain.SideAsk, 0.30, 100),
		restingOrder("a1", "maker", domain.SideAsk, 0.30, 10),
		restingOrder("a2", "maker", domain.SideAsk, 0.70, 100),
	)

	order := domain.NewOrder("d1", domain.OrderRequest{
		MarketID: "m1", OwnerID: "buyer", Side: domain.SideBid, Outcome: domain.OutcomeYes,
		Type: domain.OrderMarketDollar, DollarAmount: 20, MaxPrice: 0.50,
	}, now)
	res := eng.ProcessOrder(book, order)

	require.Len(t, res.Fills, 1)
	assert.Equal(t, "a1", res.Fills[0].MakerOrderID)
	assert.True(t, res.TotalSpent.Equal(decimal.RequireFromString("3")))
	assert.True(t, res.Unfilled.Equal(decimal.NewFromInt(20).Sub(res.TotalSpent)))
	assert.Equal(t, domain.StatusDiscarded, res.Status)
	for _, f := range res.Fills {
		assert.LessOrEqual(t, f.Price, 0.50)
	}
	_, ok := book.Get("own")
	assert.True(t, ok)
}

func TestProcessOrder_DollarWalkFractionalContracts(t *testing.T) {
	eng := newEngine(matching.FeeSchedule{})
	book := matching.NewOrderBook("m1", domain.OutcomeYes, nil)
	seed(t, book, restingOrder("a1", "maker", domain.SideAsk, 0.30, 1000))

	order := domain.NewOrder("d1", domain.OrderRequest{
		MarketID: "m1", OwnerID: "buyer", Side: domain.SideBid, Outcome: domain.OutcomeYes,
		Type: domain.OrderMarketDollar, DollarAmount: 10,
	}, now)
	res := eng.ProcessOrder(book, order)

	require.Len(t, res.Fills, 1)
	assert.Equal(t, 33.33, res.Fills[0].Size)
	assert.True(t, res.TotalSpent.Equal(decimal.RequireFromString("9.999")))
	assert.True(t, res.Unfilled.Equal(decimal.RequireFromString("0.001")))
	assert.True(t, res.TotalSpent.LessThanOrEqual(decimal.NewFromInt(10)))
}

func TestMatchOrder_PriceThenTimePriority(t *testing.T) {
	eng := newEngine(matching.FeeSchedule{})
	book := matching.NewOrderBook("m1", domain.OutcomeYes, nil)
	seed(t, book,
		restingOrder("late-better", "m3", domain.SideAsk, 0.41, 5),
		restingOrder("first", "m1", domain.SideAsk, 0.40, 5),
		restingOrder("second", "m2", domain.SideAsk, 0.40, 5),
	)

	taker := takerOrder("taker", domain.SideBid, domain.OrderLimit, 0.45, 12)
	res := eng.ProcessOrder(book, taker)

	require.Len(t, res.Fills, 3)
	assert.Equal(t, "first", res.Fills[0].MakerOrderID)
	assert.Equal(t, "second", res.Fills[1].MakerOrderID)
	assert.Equal(t, "late-better", res.Fills[2].MakerOrderID)
	assert.Equal(t, 2.0, res.Fills[2].Size)

	left, ok := book.Get("late-better")
	require.True(t, ok)
	assert.Equal(t, 3.0, left.Remaining)
	assert.Equal(t, domain.StatusFilled, res.Status)
}

func TestMatchOrder_PartialMakerKeepsPriorityAndLevelSize(t *testing.T) {
	eng := newEngine(matching.FeeSchedule{})
	book := matching.NewOrderBook("m1", domain.OutcomeYes, nil)
	seed(t, book,
		restingOrder("first", "m1", domain.SideAsk, 0.40, 10),
		restingOrder("second", "m2", domain.SideAsk, 0.40, 5),
	)
	before := book.Sequence()

	res := eng.ProcessOrder(book, takerOrder("taker", domain.SideBid, domain.OrderIOC, 0.40, 4))
	require.Len(t, res.Fills, 1)

	head, ok := book.BestAsk()
	require.True(t, ok)
	assert.Equal(t, "first", head.ID)
	assert.Equal(t, 6.0, head.Remaining)
	assert.Greater(t, book.Sequence(), before)

	snap := book.Snapshot(1)
	require.Len(t, snap.Asks, 1)
	assert.Equal(t, 11.0, snap.Asks[0].Size)
	assert.Equal(t, 2, snap.Asks[0].Orders)
}

func TestProcessOrder_LimitRestsRemainder(t *testing.T) {
	eng := newEngine(matching.FeeSchedule{})
	book := matching.NewOrderBook("m1", domain.OutcomeYes, nil)
	seed(t, book, restingOrder("a1", "maker", domain.SideAsk, 0.40, 4))

	taker := takerOrder("taker", domain.SideBid, domain.OrderLimit, 0.42, 10)
	res := eng.ProcessOrder(book, taker)

	require.Len(t, res.Fills, 1)
	assert.True(t, res.AddedToBook)
	assert.Positive(t, res.SequenceID)
	assert.Equal(t, domain.StatusResting, res.Status)

	bid, ok := book.BestBid()
	require.True(t, ok)
	assert.Equal(t, taker.ID, bid.ID)
	assert.Equal(t, 6.0, bid.Remaining)
}

func TestProcessOrder_NoCrossRestsWithoutFills(t *testing.T) {
	eng := newEngine(matching.FeeSchedule{})
	book := matching.NewOrderBook("m1", domain.OutcomeYes, nil)
	seed(t, book, restingOrder("a1", "maker", domain.SideAsk, 0.60, 4))

	res := eng.ProcessOrder(book, takerOrder("taker", domain.SideBid, domain.OrderLimit, 0.55, 10))
	assert.Empty(t, res.Fills)
	assert.True(t, res.AddedToBook)
}

func TestProcessOrder_IOCDiscardsRemainder(t *testing.T) {
	eng := newEngine(matching.FeeSchedule{})
	book := matching.NewOrderBook("m1", domain.OutcomeYes, nil)
	seed(t, book, restingOrder("a1", "maker", domain.SideAsk, 0.40, 4))

	res := eng.ProcessOrder(book, takerOrder("taker", domain.SideBid, domain.OrderIOC, 0.42, 10))
	require.Len(t, res.Fills, 1)
	assert.False(t, res.AddedToBook)
	assert.Equal(t, domain.StatusDiscarded, res.Status)
	assert.Equal(t, 0, book.Len())

	res = eng.ProcessOrder(book, takerOrder("taker", domain.SideBid, domain.OrderIOC, 0.42, 10))
	assert.Equal(t, domain.StatusCancelled, res.Status)
}

func TestProcessOrder_SelfTradeStopsButKeepsPriorFills(t *testing.T) {
	eng := newEngine(matching.FeeSchedule{})
	book := matching.NewOrderBook("m1", domain.OutcomeYes, nil)
	seed(t, book,
		restingOrder("other", "bob", domain.SideAsk, 0.40, 5),
		restingOrder("mine", "alice", domain.SideAsk, 0.41, 5),
		restingOrder("after", "carol", domain.SideAsk, 0.42, 5),
	)

	res := eng.ProcessOrder(book, takerOrder("alice", domain.SideBid, domain.OrderLimit, 0.50, 15))

	require.Len(t, res.Fills, 1)
	assert.Equal(t, "other", res.Fills[0].MakerOrderID)
	assert.True(t, res.SelfTrade)
	assert.ErrorIs(t, res.Reject, domain.ErrSelfTradePrevented)
	assert.Equal(t, domain.StatusRejected, res.Status)
	assert.False(t, res.AddedToBook)
	_, ok := book.Get("mine")
	assert.True(t, ok)
	_, ok = book.Get("after")
	assert.True(t, ok)
}

func TestProcessOrder_SelfTradeNeverFillsAnyType(t *testing.T) {
	types := []domain.OrderType{domain.OrderLimit, domain.OrderMarket, domain.OrderIOC, domain.OrderFOK}
	for _, typ := range types {
		t.Run(string(typ), func(t *testing.T) {
			eng := newEngine(matching.FeeSchedule{})
			book := matching.NewOrderBook("m1", domain.OutcomeYes, nil)
			seed(t, book, restingOrder("mine", "alice", domain.SideAsk, 0.40, 5))

			res := eng.ProcessOrder(book, takerOrder("alice", domain.SideBid, typ, 0.50, 5))
			assert.Empty(t, res.Fills)
			assert.Equal(t, domain.StatusRejected, res.Status)
		})
	}

	eng := newEngine(matching.FeeSchedule{})
	book := matching.NewOrderBook("m1", domain.OutcomeYes, nil)
	seed(t, book, restingOrder("mine", "alice", domain.SideBid, 0.40, 5))
	sell := domain.NewOrder("s1", domain.OrderRequest{
		MarketID: "m1", OwnerID: "alice", Side: domain.SideAsk, Outcome: domain.OutcomeYes,
		Type: domain.OrderSell, Size: 5,
	}, now)
	res := eng.ProcessOrder(book, sell)
	assert.Empty(t, res.Fills)
}

func TestProcessOrder_FOKInsufficientLeavesBookUnchanged(t *testing.T) {
	eng := newEngine(matching.FeeSchedule{})
	book := matching.NewOrderBook("m1", domain.OutcomeYes, nil)
	seed(t, book,
		restingOrder("a1", "maker", domain.SideAsk, 0.40, 5),
		restingOrder("a2", "maker", domain.SideAsk, 0.45, 5),
		restingOrder("a3", "maker", domain.SideAsk, 0.60, 50),
	)
	before := book.Snapshot(0)

	res := eng.ProcessOrder(book, takerOrder("taker", domain.SideBid, domain.OrderFOK, 0.50, 11))

	assert.Empty(t, res.Fills)
	assert.ErrorIs(t, res.Reject, domain.ErrInsufficientLiquidity)
	assert.Equal(t, before, book.Snapshot(0))
}

func TestProcessOrder_FOKFillsCompletely(t *testing.T) {
	eng := newEngine(matching.FeeSchedule{})
	book := matching.NewOrderBook("m1", domain.OutcomeYes, nil)
	seed(t, book,
		restingOrder("a1", "maker", domain.SideAsk, 0.40, 5),
		restingOrder("a2", "maker", domain.SideAsk, 0.45, 5),
	)

	taker := takerOrder("taker", domain.SideBid, domain.OrderFOK, 0.50, 10)
	assert.Equal(t, 10.0, eng.AvailableMatchSize(book, taker))

	res := eng.ProcessOrder(book, taker)
	assert.Len(t, res.Fills, 2)
	assert.Equal(t, domain.StatusFilled, res.Status)
}

func TestProcessOrder_SellRespectsFloor(t *testing.T) {
	eng := newEngine(matching.FeeSchedule{})
	book := matching.NewOrderBook("m1", domain.OutcomeYes, nil)
	seed(t, book,
		restingOrder("b1", "x", domain.SideBid, 0.55, 3),
		restingOrder("own", "seller", domain.SideBid, 0.52, 10),
		restingOrder("b2", "y", domain.SideBid, 0.50, 3),
		restingOrder("b3", "z", domain.SideBid, 0.45, 10),
	)

	sell := domain.NewOrder("s1", domain.OrderRequest{
		MarketID: "m1", OwnerID: "seller", Side: domain.SideAsk, Outcome: domain.OutcomeYes,
		Type: domain.OrderSell, Size: 10, MinPrice: 0.50,
	}, now)
	res := eng.ProcessOrder(book, sell)

	require.Len(t, res.Fills, 2)
	assert.Equal(t, "b1", res.Fills[0].MakerOrderID)
	assert.Equal(t, "b2", res.Fills[1].MakerOrderID)
	for _, f := range res.Fills {
		assert.GreaterOrEqual(t, f.Price, 0.50)
		assert.Equal(t, domain.SideAsk, f.TakerSide)
	}
	assert.Equal(t, 4.0, res.Remaining)
	assert.Equal(t, domain.StatusDiscarded, res.Status)
}

func TestProcessOrder_FeesPerFill(t *testing.T) {
	eng := newEngine(matching.FeeSchedule{MakerBps: 10, TakerBps: 30})
	book := matching.NewOrderBook("m1", domain.OutcomeYes, nil)
	seed(t, book, restingOrder("a1", "maker", domain.SideAsk, 0.40, 100))

	res := eng.ProcessOrder(book, takerOrder("taker", domain.SideBid, domain.OrderLimit, 0.40, 50))

	require.Len(t, res.Fills, 1)
	// nocional 20 USDC
	assert.True(t, res.Fills[0].MakerFee.Equal(decimal.RequireFromString("0.02")))
	assert.True(t, res.Fills[0].TakerFee.Equal(decimal.RequireFromString("0.06")))
}

func TestMatchOrder_RemovesExpiredResting(t *testing.T) {
	eng := newEngine(matching.FeeSchedule{})
	book := matching.NewOrderBook("m1", domain.OutcomeYes, nil)
	stale := restingOrder("stale", "m1", domain.SideAsk, 0.40, 5)
	stale.ExpiresAt = now.Add(-time.Minute)
	seed(t, book, stale, restingOrder("fresh", "m2", domain.SideAsk, 0.41, 5))

	res := eng.MatchOrder(book, takerOrder("taker", domain.SideBid, domain.OrderLimit, 0.45, 5))

	require.Len(t, res.Fills, 1)
	assert.Equal(t, "fresh", res.Fills[0].MakerOrderID)
	require.Len(t, res.Expired, 1)
	assert.Equal(t, domain.StatusExpired, res.Expired[0].Status)
	assert.Equal(t, 0, book.Len())
}

func TestFeeSchedule_Truncates(t *testing.T) {
	maker, taker := matching.FeeSchedule{MakerBps: 7, TakerBps: 0}.Fees(0.33, 1.234567)
	// 0.33 * 1.234567 = 0.40740711 → * 7 / 10000 = 0.000285184977
	assert.True(t, maker.Equal(decimal.RequireFromString("0.000285")))
	assert.True(t, taker.IsZero())
}
