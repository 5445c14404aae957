package settlement_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/binex/internal/domain"
	"github.com/alejandrodnm/binex/internal/settlement"
)

type call struct {
	kind   domain.SettlementKind
	fillID string
	a, b   string
}

// mockDispatcher falla las primeras failN llamadas.
type mockDispatcher struct {
	mu    sync.Mutex
	failN int
	calls []call
}

func (d *mockDispatcher) record(c call) (domain.SettlementResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, c)
	if d.failN > 0 {
		d.failN--
		return domain.SettlementResult{}, errors.New("relayer unavailable")
	}
	return domain.SettlementResult{TxRef: "tx-" + c.fillID}, nil
}

func (d *mockDispatcher) ExecuteMatch(_ context.Context, f domain.Fill, _, maker, taker string) (domain.SettlementResult, error) {
	return d.record(call{domain.SettlementOpen, f.ID, maker, taker})
}

func (d *mockDispatcher) ExecuteClose(_ context.Context, f domain.Fill, _, buyer, seller string) (domain.SettlementResult, error) {
	return d.record(call{domain.SettlementClose, f.ID, buyer, seller})
}

func (d *mockDispatcher) setFail(n int) {
	d.mu.Lock()
	d.failN = n
	d.mu.Unlock()
}

func (d *mockDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func intent(id string, kind domain.SettlementKind) domain.SettlementIntent {
	return domain.SettlementIntent{
		ID: id, Kind: kind, MarketRef: "m1",
		Fill:      domain.Fill{ID: "f-" + id, Price: 0.4, Size: 10},
		MakerAddr: "maker", TakerAddr: "taker",
		BuyerAddr: "buyer", SellerAddr: "seller",
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
}

func fastConfig() settlement.Config {
	return settlement.Config{
		Workers:         1,
		MaxAttempts:     3,
		RetryBaseWait:   time.Millisecond,
		RetryMaxWait:    5 * time.Millisecond,
		RedriveInterval: time.Hour,
	}
}

func runOutbox(t *testing.T, ob *settlement.Outbox) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = ob.Run(ctx)
		close(done)
	}()
	return func() {
		cancel()
		<-done
	}
}

func settled(store *settlement.MemoryStore, id string) func() bool {
	return func() bool {
		in, ok := store.Get(id)
		return ok && in.Status == domain.IntentSettled
	}
}

func TestOutbox_DispatchesByKind(t *testing.T) {
	d := &mockDispatcher{}
	store := settlement.NewMemoryStore()
	ob := settlement.New(fastConfig(), d, store, nil)
	stop := runOutbox(t, ob)
	defer stop()

	ctx := context.Background()
	require.NoError(t, ob.Enqueue(ctx, intent("open", domain.SettlementOpen)))
	require.NoError(t, ob.Enqueue(ctx, intent("close", domain.SettlementClose)))

	require.Eventually(t, settled(store, "open"), time.Second, 2*time.Millisecond)
	require.Eventually(t, settled(store, "close"), time.Second, 2*time.Millisecond)

	d.mu.Lock()
	defer d.mu.Unlock()
	require.Len(t, d.calls, 2)
	assert.Equal(t, call{domain.SettlementOpen, "f-open", "maker", "taker"}, d.calls[0])
	assert.Equal(t, call{domain.SettlementClose, "f-close", "buyer", "seller"}, d.calls[1])

	in, _ := store.Get("open")
	assert.Equal(t, "tx-f-open", in.TxRef)
	assert.Equal(t, 1, in.Attempts)
}

func TestOutbox_RetriesWithBackoff(t *testing.T) {
	d := &mockDispatcher{failN: 2}
	store := settlement.NewMemoryStore()
	ob := settlement.New(fastConfig(), d, store, nil)
	stop := runOutbox(t, ob)
	defer stop()

	require.NoError(t, ob.Enqueue(context.Background(), intent("i1", domain.SettlementOpen)))
	require.Eventually(t, settled(store, "i1"), time.Second, 2*time.Millisecond)

	in, _ := store.Get("i1")
	assert.Equal(t, 3, in.Attempts)
	assert.Empty(t, in.LastError)
}

func TestOutbox_ExhaustedStaysPendingThenRedrives(t *testing.T) {
	d := &mockDispatcher{failN: 100}
	store := settlement.NewMemoryStore()
	cfg := fastConfig()
	cfg.MaxAttempts = 2
	ob := settlement.New(cfg, d, store, nil)
	stop := runOutbox(t, ob)
	defer stop()

	require.NoError(t, ob.Enqueue(context.Background(), intent("i1", domain.SettlementOpen)))
	require.Eventually(t, func() bool {
		in, _ := store.Get("i1")
		return in.Attempts == 2
	}, time.Second, 2*time.Millisecond)

	in, _ := store.Get("i1")
	assert.Equal(t, domain.IntentPending, in.Status)
	assert.Equal(t, "relayer unavailable", in.LastError)

	// el relayer vuelve y un outbox nuevo (reinicio) recoge el pendiente
	d.setFail(0)
	restarted := settlement.New(settlement.Config{RedriveInterval: 5 * time.Millisecond}, d, store, nil)
	require.Eventually(t, func() bool { return restarted.Redrive(context.Background()) == 1 }, time.Second, 2*time.Millisecond)
	stopRestarted := runOutbox(t, restarted)
	defer stopRestarted()

	require.Eventually(t, settled(store, "i1"), time.Second, 2*time.Millisecond)
}

func TestOutbox_FullQueueLeavesIntentForRedrive(t *testing.T) {
	d := &mockDispatcher{}
	store := settlement.NewMemoryStore()
	cfg := fastConfig()
	cfg.Buffer = 1
	ob := settlement.New(cfg, d, store, nil)

	ctx := context.Background()
	require.NoError(t, ob.Enqueue(ctx, intent("a", domain.SettlementOpen)))
	require.NoError(t, ob.Enqueue(ctx, intent("b", domain.SettlementOpen)))

	in, ok := store.Get("b")
	require.True(t, ok)
	assert.Equal(t, domain.IntentPending, in.Status)
	assert.Equal(t, 0, d.callCount())
}

func TestLogDispatcher(t *testing.T) {
	var d settlement.LogDispatcher
	res, err := d.ExecuteMatch(context.Background(), domain.Fill{ID: "f1"}, "m1", "a", "b")
	require.NoError(t, err)
	assert.Equal(t, "dry-run:f1", res.TxRef)

	res, err = d.ExecuteClose(context.Background(), domain.Fill{ID: "f2"}, "m1", "a", "b")
	require.NoError(t, err)
	assert.Equal(t, "SIMULATED", res.Status)
}
