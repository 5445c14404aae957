package pricefeed_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/binex/internal/adapters/pricefeed"
	"github.com/alejandrodnm/binex/internal/domain"
)

var upgrader = websocket.Upgrader{}

// wsServer acepta conexiones, lee el subscribe y ejecuta script.
func wsServer(t *testing.T, conns *atomic.Int32, script func(*websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conns.Add(1)

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub map[string]any
		if json.Unmarshal(data, &sub) != nil || sub["op"] != "subscribe" {
			return
		}
		script(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

type sink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *sink) add(ev domain.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *sink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestFeed_DeliversTicksAndFills(t *testing.T) {
	var conns atomic.Int32
	url := wsServer(t, &conns, func(c *websocket.Conn) {
		for _, msg := range []string{
			`{"kind":"subscribed"}`,
			`{"kind":"price_tick","asset":"btc","price":"100500.25","ts":1772366400000}`,
			`{"kind":"heartbeat"}`,
			`{"kind":"bogus"}`,
			`{"kind":"fill","ts":1772366400000,"fill":{"id":"f1","market_id":"btc-1","outcome":"YES","maker_user_id":"mm","taker_user_id":"bob","maker_side":"BID","taker_side":"ASK","price":"0.48","size":"5"}}`,
		} {
			if c.WriteMessage(websocket.TextMessage, []byte(msg)) != nil {
				return
			}
		}
		// mantiene la sesión abierta hasta que el cliente cierre
		_, _, _ = c.ReadMessage()
	})

	s := &sink{}
	feed := pricefeed.New(pricefeed.Config{URL: url, Assets: []string{"BTC"}}, s.add)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	require.Eventually(t, func() bool { return s.len() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, feed.Connected())

	q, ok, err := feed.GetPrice(ctx, "BTC")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 100_500.25, q.Price)

	s.mu.Lock()
	tick, isTick := s.events[0].(domain.PriceTick)
	fill, isFill := s.events[1].(domain.FillEvent)
	s.mu.Unlock()
	require.True(t, isTick)
	require.True(t, isFill)
	assert.Equal(t, "BTC", tick.Asset)
	assert.Equal(t, "mm", fill.Fill.MakerUserID)
	assert.Equal(t, domain.SideBid, fill.Fill.MakerSide)
	assert.Equal(t, 5.0, fill.Fill.Size)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestFeed_GivesUpAfterMaxRetries(t *testing.T) {
	var conns atomic.Int32
	url := wsServer(t, &conns, func(*websocket.Conn) {
		// cierra sin mandar nada
	})

	feed := pricefeed.New(pricefeed.Config{
		URL:         url,
		MaxRetries:  2,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}, nil)

	err := feed.Run(context.Background())
	assert.True(t, errors.Is(err, pricefeed.ErrGaveUp))
	assert.Equal(t, int32(3), conns.Load())
	assert.False(t, feed.Connected())

	_, ok, _ := feed.GetPrice(context.Background(), "BTC")
	assert.False(t, ok)
}

type stubSource struct {
	q   domain.PriceQuote
	ok  bool
	err error
}

func (s stubSource) GetPrice(context.Context, string) (domain.PriceQuote, bool, error) {
	return s.q, s.ok, s.err
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	down := stubSource{err: errors.New("down")}
	empty := stubSource{}
	good := stubSource{q: domain.PriceQuote{Asset: "ETH", Price: 3000}, ok: true}

	q, ok, err := pricefeed.Chain{down, empty, good}.GetPrice(ctx, "ETH")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3000.0, q.Price)

	_, ok, err = pricefeed.Chain{empty, down}.GetPrice(ctx, "ETH")
	assert.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = pricefeed.Chain{down, down}.GetPrice(ctx, "ETH")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestFeed_ChainFallsBackWhenStreamIsDown(t *testing.T) {
	var conns atomic.Int32
	url := wsServer(t, &conns, func(c *websocket.Conn) {
		if conns.Load() == 1 {
			_ = c.WriteMessage(websocket.TextMessage, []byte(`{"kind":"price_tick","asset":"BTC","price":"100000","ts":1772366400000}`))
		}
	})

	s := &sink{}
	feed := pricefeed.New(pricefeed.Config{
		URL:         url,
		MaxRetries:  1,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}, s.add)

	// la primera sesión recibe el tick; después el servidor sólo corta
	err := feed.Run(context.Background())
	assert.ErrorIs(t, err, pricefeed.ErrGaveUp)
	assert.GreaterOrEqual(t, s.len(), 1)

	_, ok, err := feed.GetPrice(context.Background(), "BTC")
	require.NoError(t, err)
	assert.False(t, ok, "sin stream no se sirve el último tick")

	rest := stubSource{q: domain.PriceQuote{Asset: "BTC", Price: 120_000}, ok: true}
	q, ok, err := pricefeed.Chain{feed, rest}.GetPrice(context.Background(), "BTC")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 120_000.0, q.Price)
}

func TestFeed_StaleTickIsNotServed(t *testing.T) {
	var conns atomic.Int32
	url := wsServer(t, &conns, func(c *websocket.Conn) {
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"kind":"price_tick","asset":"ETH","price":"3000","ts":1772366400000}`))
		_, _, _ = c.ReadMessage()
	})

	s := &sink{}
	feed := pricefeed.New(pricefeed.Config{URL: url, MaxStaleness: 200 * time.Millisecond}, s.add)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = feed.Run(ctx) }()

	require.Eventually(t, func() bool { return s.len() == 1 }, 2*time.Second, 5*time.Millisecond)
	_, fresh, _ := feed.GetPrice(ctx, "ETH")
	assert.True(t, fresh)

	require.Eventually(t, func() bool {
		_, ok, _ := feed.GetPrice(ctx, "ETH")
		return !ok
	}, time.Second, 10*time.Millisecond)
	assert.True(t, feed.Connected())
}
