// pricecache.go — precio spot con TTL corto y una sola petición en vuelo por activo.
package marketmaker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alejandrodnm/binex/internal/ports"
)

type cachedPrice struct {
	price     float64
	fetchedAt time.Time
}

type priceCache struct {
	src ports.PriceSource
	ttl time.Duration
	now func() time.Time

	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]cachedPrice
}

func newPriceCache(src ports.PriceSource, ttl time.Duration, now func() time.Time) *priceCache {
	return &priceCache{
		src:     src,
		ttl:     ttl,
		now:     now,
		entries: make(map[string]cachedPrice),
	}
}

// set guarda un precio recibido por push (ticks del feed).
func (pc *priceCache) set(asset string, price float64) {
	if price <= 0 {
		return
	}
	pc.mu.Lock()
	pc.entries[asset] = cachedPrice{price: price, fetchedAt: pc.now()}
	pc.mu.Unlock()
}

func (pc *priceCache) cached(asset string) (cachedPrice, bool) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	e, ok := pc.entries[asset]
	return e, ok
}

// get devuelve el precio del activo. Orden: cache fresca, fetch, cache vieja.
// ok=false si no hay ningún precio; el caller cae al strike.
func (pc *priceCache) get(ctx context.Context, asset string) (float64, bool) {
	e, hit := pc.cached(asset)
	if hit && pc.now().Sub(e.fetchedAt) < pc.ttl {
		return e.price, true
	}
	if pc.src == nil {
		return e.price, hit
	}

	v, err, _ := pc.group.Do(asset, func() (any, error) {
		q, ok, err := pc.src.GetPrice(ctx, asset)
		if err != nil || !ok || q.Price <= 0 {
			return 0.0, err
		}
		pc.set(asset, q.Price)
		return q.Price, nil
	})
	if err != nil {
		slog.Warn("mm: price fetch failed", "asset", asset, "err", err)
	}
	if p, _ := v.(float64); p > 0 {
		return p, true
	}
	return e.price, hit
}
