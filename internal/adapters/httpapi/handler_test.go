package httpapi_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/binex/internal/adapters/httpapi"
	"github.com/alejandrodnm/binex/internal/domain"
	"github.com/alejandrodnm/binex/internal/exchange"
	"github.com/alejandrodnm/binex/internal/matching"
	"github.com/alejandrodnm/binex/internal/metrics"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	m := metrics.New()
	x := exchange.New(exchange.Config{
		Fees:          matching.FeeSchedule{TakerBps: 100},
		MarketMakerID: "mm",
	}, exchange.WithClock(func() time.Time { return t0 }), exchange.WithMetrics(m))
	require.NoError(t, x.RegisterMarket(domain.Market{
		ID: "btc-1h", Asset: "BTC", Strike: 100_000,
		CreatedAt: t0, ExpiresAt: t0.Add(time.Hour),
	}))
	require.NoError(t, x.RegisterMarket(domain.Market{
		ID: "eth-1h", Asset: "ETH", Strike: 3_000,
		CreatedAt: t0, ExpiresAt: t0.Add(2 * time.Hour),
	}))
	return httpapi.NewRouter(x, m)
}

func do(r http.Handler, method, path, user string, body any) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(httpapi.HeaderUserID, user)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func order(side, outcome string, price, size float64) httpapi.SubmitOrderRequest {
	return httpapi.SubmitOrderRequest{MarketID: "btc-1h", Side: side, Outcome: outcome, Type: "LIMIT", Price: price, Size: size}
}

func decodeSubmit(t *testing.T, w *httptest.ResponseRecorder) httpapi.SubmitOrderResponse {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res httpapi.SubmitOrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return res
}

func TestSubmitOrder_RequiresUser(t *testing.T) {
	r := newRouter(t)
	w := do(r, http.MethodPost, "/v1/orders", "", order("BID", "YES", 0.5, 10))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSubmitOrder_RestsAndMatches(t *testing.T) {
	r := newRouter(t)

	rested := decodeSubmit(t, do(r, http.MethodPost, "/v1/orders", "alice", order("ask", "yes", 0.55, 10)))
	assert.Equal(t, "RESTING", rested.Status)
	assert.True(t, rested.AddedToBook)
	assert.Empty(t, rested.Fills)

	taken := decodeSubmit(t, do(r, http.MethodPost, "/v1/orders", "bob", order("BID", "YES", 0.60, 4)))
	assert.Equal(t, "FILLED", taken.Status)
	require.Len(t, taken.Fills, 1)
	assert.Equal(t, 0.55, taken.Fills[0].Price)
	assert.Equal(t, 4.0, taken.FilledSize)
	// 100 bps de 0.55·4
	assert.Equal(t, "0.022", taken.Fills[0].TakerFee)

	w := do(r, http.MethodGet, "/v1/markets/btc-1h/book?outcome=yes&depth=5", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var book httpapi.BookResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &book))
	require.Len(t, book.Asks, 1)
	assert.Equal(t, 0.55, book.Asks[0].Price)
	assert.Equal(t, 6.0, book.Asks[0].Size)
	assert.Empty(t, book.Bids)

	w = do(r, http.MethodGet, "/v1/positions/bob/btc-1h", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var pos map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pos))
	assert.Equal(t, 4.0, pos["yes_shares"])
}

func TestSubmitOrder_SelfTradeIsRejectedNotError(t *testing.T) {
	r := newRouter(t)
	decodeSubmit(t, do(r, http.MethodPost, "/v1/orders", "alice", order("ASK", "YES", 0.55, 10)))

	res := decodeSubmit(t, do(r, http.MethodPost, "/v1/orders", "alice", order("BID", "YES", 0.55, 10)))
	assert.Equal(t, "REJECTED", res.Status)
	assert.NotEmpty(t, res.Reason)
}

func TestSubmitOrder_ErrorCodes(t *testing.T) {
	r := newRouter(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"bad price", order("BID", "YES", 1.5, 10), http.StatusBadRequest},
		{"bad size", order("BID", "YES", 0.5, 0), http.StatusBadRequest},
		{"unknown market", httpapi.SubmitOrderRequest{MarketID: "nope", Side: "BID", Outcome: "YES", Price: 0.5, Size: 1}, http.StatusNotFound},
		{"missing fields", map[string]any{"price": 0.5}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/v1/orders", "alice", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), `"error"`)
		})
	}
}

func TestCancelOrder(t *testing.T) {
	r := newRouter(t)
	res := decodeSubmit(t, do(r, http.MethodPost, "/v1/orders", "alice", order("BID", "NO", 0.40, 10)))

	w := do(r, http.MethodDelete, "/v1/orders/"+res.OrderID, "bob", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(r, http.MethodDelete, "/v1/orders/"+res.OrderID, "alice", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodDelete, "/v1/orders/"+res.OrderID, "alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListMarkets(t *testing.T) {
	r := newRouter(t)

	w := do(r, http.MethodGet, "/v1/markets", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var all struct {
		Markets []httpapi.MarketResponse `json:"markets"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	require.Len(t, all.Markets, 2)
	assert.Equal(t, "btc-1h", all.Markets[0].ID)

	w = do(r, http.MethodGet, "/v1/markets?asset=eth", "", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	require.Len(t, all.Markets, 1)
	assert.Equal(t, "ETH", all.Markets[0].Asset)
}

func TestGetBook_BadRequests(t *testing.T) {
	r := newRouter(t)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/v1/markets/btc-1h/book?depth=-1", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/v1/markets/btc-1h/book?outcome=MAYBE", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/v1/markets/nope/book", "", nil).Code)
}

func TestMetricsAndHealth(t *testing.T) {
	r := newRouter(t)
	decodeSubmit(t, do(r, http.MethodPost, "/v1/orders", "alice", order("BID", "YES", 0.5, 1)))

	w := do(r, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "binex_exchange_orders_total")

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/healthz", "", nil).Code)
}
