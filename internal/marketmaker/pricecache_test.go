package marketmaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alejandrodnm/binex/internal/domain"
)

type countingSource struct {
	calls atomic.Int32
	delay time.Duration
	price float64
	err   error
}

func (s *countingSource) GetPrice(_ context.Context, asset string) (domain.PriceQuote, bool, error) {
	s.calls.Add(1)
	time.Sleep(s.delay)
	if s.err != nil {
		return domain.PriceQuote{}, false, s.err
	}
	return domain.PriceQuote{Asset: asset, Price: s.price}, true, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestPriceCache_SingleFetchInFlight(t *testing.T) {
	src := &countingSource{price: 3000, delay: 20 * time.Millisecond}
	clk := &fakeClock{now: time.Unix(0, 0)}
	pc := newPriceCache(src, 500*time.Millisecond, clk.Now)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, ok := pc.get(context.Background(), "ETH")
			assert.True(t, ok)
			assert.Equal(t, 3000.0, p)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestPriceCache_TTLAndStaleFallback(t *testing.T) {
	src := &countingSource{price: 3000}
	clk := &fakeClock{now: time.Unix(0, 0)}
	pc := newPriceCache(src, 500*time.Millisecond, clk.Now)
	ctx := context.Background()

	p, ok := pc.get(ctx, "ETH")
	assert.True(t, ok)
	assert.Equal(t, 3000.0, p)

	clk.Advance(100 * time.Millisecond)
	_, _ = pc.get(ctx, "ETH")
	assert.Equal(t, int32(1), src.calls.Load())

	// expirada y la fuente falla: se usa el último precio
	clk.Advance(time.Second)
	src.err = errors.New("feed down")
	p, ok = pc.get(ctx, "ETH")
	assert.True(t, ok)
	assert.Equal(t, 3000.0, p)
	assert.Equal(t, int32(2), src.calls.Load())

	// sin nada en cache no hay precio
	_, ok = pc.get(ctx, "SOL")
	assert.False(t, ok)
}

func TestPriceCache_PushedTicksAreFresh(t *testing.T) {
	src := &countingSource{price: 1}
	clk := &fakeClock{now: time.Unix(0, 0)}
	pc := newPriceCache(src, 500*time.Millisecond, clk.Now)

	pc.set("BTC", 101_000)
	p, ok := pc.get(context.Background(), "BTC")
	assert.True(t, ok)
	assert.Equal(t, 101_000.0, p)
	assert.Zero(t, src.calls.Load())
}

func TestShouldRequote(t *testing.T) {
	c := &Controller{cfg: domain.MMConfig{PriceMoveThreshold: 0.0005}}

	assert.True(t, c.shouldRequote(0, 100_000, 100_000), "sin precio previo")
	assert.False(t, c.shouldRequote(100_000, 100_040, 90_000))
	assert.True(t, c.shouldRequote(100_000, 100_060, 90_000))
	assert.True(t, c.shouldRequote(100_010, 99_990, 100_000), "cruza el strike")
}
