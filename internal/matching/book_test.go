package matching_test

import (
	"testing"

	"github.com/alejandrodnm/binex/internal/domain"
	"github.com/alejandrodnm/binex/internal/matching"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restingOrder(id, owner string, side domain.Side, price, size float64) *domain.Order {
	return &domain.Order{
		ID: id, MarketID: "m1", OwnerID: owner,
		Side: side, Outcome: domain.OutcomeYes, Type: domain.OrderLimit,
		Price: price, Size: size, Remaining: size,
		Status: domain.StatusResting,
	}
}

func TestOrderBook_AddOrder_SequenceAndBest(t *testing.T) {
	book := matching.NewOrderBook("m1", domain.OutcomeYes, nil)

	s1, err := book.AddOrder(restingOrder("b1", "alice", domain.SideBid, 0.40, 10))
	require.NoError(t, err)
	s2, err := book.AddOrder(restingOrder("b2", "bob", domain.SideBid, 0.45, 5))
	require.NoError(t, err)
	s3, err := book.AddOrder(restingOrder("a1", "carol", domain.SideAsk, 0.55, 7))
	require.NoError(t, err)
	assert.True(t, s1 < s2 && s2 < s3)

	bb, ok := book.BestBid()
	require.True(t, ok)
	assert.Equal(t, "b2", bb.ID)
	ba, ok := book.BestAsk()
	require.True(t, ok)
	assert.Equal(t, "a1", ba.ID)
}

func TestOrderBook_AddOrder_Rejects(t *testing.T) {
	book := matching.NewOrderBook("m1", domain.OutcomeYes, nil)

	_, err := book.AddOrder(restingOrder("x", "a", domain.SideBid, 0.455, 1))
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)

	_, err = book.AddOrder(restingOrder("y", "a", domain.SideBid, 0.45, 1))
	require.NoError(t, err)
	_, err = book.AddOrder(restingOrder("y", "a", domain.SideBid, 0.45, 1))
	assert.Error(t, err)
}

func TestOrderBook_SharedSequencer(t *testing.T) {
	seq := &matching.Sequencer{}
	yes := matching.NewOrderBook("m1", domain.OutcomeYes, seq)
	no := matching.NewOrderBook("m1", domain.OutcomeNo, seq)

	s1, _ := yes.AddOrder(restingOrder("y1", "a", domain.SideBid, 0.40, 1))
	s2, _ := no.AddOrder(restingOrder("n1", "a", domain.SideBid, 0.40, 1))
	assert.Equal(t, s1+1, s2)
	assert.Equal(t, s2, yes.Sequence())
}

func TestOrderBook_RemoveOrder_DropsLevelAndRecomputesBest(t *testing.T) {
	book := matching.NewOrderBook("m1", domain.OutcomeYes, nil)
	_, _ = book.AddOrder(restingOrder("a1", "a", domain.SideAsk, 0.52, 3))
	_, _ = book.AddOrder(restingOrder("a2", "b", domain.SideAsk, 0.60, 4))

	o, ok := book.RemoveOrder("a1")
	require.True(t, ok)
	assert.Equal(t, "a1", o.ID)

	ba, ok := book.BestAsk()
	require.True(t, ok)
	assert.Equal(t, "a2", ba.ID)

	_, ok = book.RemoveOrder("a1")
	assert.False(t, ok)

	book.RemoveOrder("a2")
	_, ok = book.BestAsk()
	assert.False(t, ok)
	assert.Empty(t, book.Snapshot(0).Asks)
}

func TestOrderBook_UpdateOrderSize_KeepsPriority(t *testing.T) {
	book := matching.NewOrderBook("m1", domain.OutcomeYes, nil)
	_, _ = book.AddOrder(restingOrder("b1", "a", domain.SideBid, 0.40, 10))
	_, _ = book.AddOrder(restingOrder("b2", "b", domain.SideBid, 0.40, 10))

	require.NoError(t, book.UpdateOrderSize("b1", 4))
	head, _ := book.BestBid()
	assert.Equal(t, "b1", head.ID)
	assert.Equal(t, 4.0, head.Remaining)

	snap := book.Snapshot(1)
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, 14.0, snap.Bids[0].Size)

	assert.ErrorIs(t, book.UpdateOrderSize("nope", 1), domain.ErrOrderNotFound)
	assert.ErrorIs(t, book.UpdateOrderSize("b2", 11), domain.ErrInvalidSize)

	require.NoError(t, book.UpdateOrderSize("b1", 0))
	assert.Equal(t, 1, book.Len())
}

func TestOrderBook_Snapshot_CumulativeTotals(t *testing.T) {
	book := matching.NewOrderBook("m1", domain.OutcomeYes, nil)
	_, _ = book.AddOrder(restingOrder("b1", "a", domain.SideBid, 0.40, 10))
	_, _ = book.AddOrder(restingOrder("b2", "b", domain.SideBid, 0.45, 5))
	_, _ = book.AddOrder(restingOrder("b3", "c", domain.SideBid, 0.45, 2))
	_, _ = book.AddOrder(restingOrder("b4", "c", domain.SideBid, 0.30, 1))
	_, _ = book.AddOrder(restingOrder("a1", "d", domain.SideAsk, 0.50, 3))
	_, _ = book.AddOrder(restingOrder("a2", "d", domain.SideAsk, 0.70, 6))

	snap := book.Snapshot(2)
	require.Len(t, snap.Bids, 2)
	assert.Equal(t, domain.BookLevel{Price: 0.45, Size: 7, Total: 7, Orders: 2}, snap.Bids[0])
	assert.Equal(t, domain.BookLevel{Price: 0.40, Size: 10, Total: 17, Orders: 1}, snap.Bids[1])
	require.Len(t, snap.Asks, 2)
	assert.Equal(t, 0.50, snap.Asks[0].Price)
	assert.Equal(t, 9.0, snap.Asks[1].Total)
	assert.Equal(t, book.Sequence(), snap.Sequence)
	assert.InDelta(t, 0.05, snap.Spread(), 1e-9)

	assert.Len(t, book.Snapshot(0).Bids, 3)
}

func TestOrderBook_Orders_PriceTimePriority(t *testing.T) {
	book := matching.NewOrderBook("m1", domain.OutcomeYes, nil)
	_, _ = book.AddOrder(restingOrder("a3", "a", domain.SideAsk, 0.60, 1))
	_, _ = book.AddOrder(restingOrder("a1", "a", domain.SideAsk, 0.55, 1))
	_, _ = book.AddOrder(restingOrder("a2", "a", domain.SideAsk, 0.55, 1))

	var ids []string
	for _, o := range book.Orders(domain.SideAsk) {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []string{"a1", "a2", "a3"}, ids)
}
