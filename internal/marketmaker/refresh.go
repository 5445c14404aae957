// refresh.go — sincronización de mercados y ciclo de cotización por mercado.
package marketmaker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/binex/internal/domain"
	"github.com/alejandrodnm/binex/internal/strategy"
)

// SyncMarkets trae los mercados abiertos de los activos configurados, empieza
// a seguir los elegibles y suelta (cancelando todo) los que dejaron de serlo.
func (c *Controller) SyncMarkets(ctx context.Context) error {
	if c.stopped.Load() {
		return ErrStopped
	}
	markets, err := c.deps.Markets.GetActiveMarkets(ctx, domain.MarketFilter{
		Assets:   c.cfg.Assets,
		Statuses: []domain.MarketStatus{domain.MarketOpen},
	})
	if err != nil {
		return fmt.Errorf("marketmaker.SyncMarkets: %w", err)
	}

	now := c.now()
	eligible := make(map[string]domain.Market, len(markets))
	for _, m := range markets {
		if m.StrikeSet() && m.TimeRemaining(now) > c.cfg.CloseBeforeExpiry {
			eligible[m.ID] = m
		}
	}

	added := 0
	for id, m := range eligible {
		c.mu.RLock()
		tm, ok := c.markets[id]
		c.mu.RUnlock()
		if ok {
			tm.mu.Lock()
			tm.market = m
			tm.mu.Unlock()
			continue
		}

		tm = &tracked{market: m}
		tm.yes, tm.no = c.seedInventory(ctx, id)
		c.mu.Lock()
		c.markets[id] = tm
		c.mu.Unlock()
		added++
		slog.Info("mm: tracking market", "market", id, "asset", m.Asset, "strike", m.Strike, "expires", m.ExpiresAt)
	}

	removed := 0
	for _, tm := range c.snapshot() {
		id := tm.marketID()
		if _, ok := eligible[id]; ok {
			continue
		}
		if _, err := c.quoter.CancelAll(ctx, id); err != nil {
			slog.Warn("mm: cancel on untrack failed", "market", id, "err", err)
		}
		c.mu.Lock()
		delete(c.markets, id)
		c.mu.Unlock()
		removed++
		slog.Info("mm: untracked market", "market", id)
	}

	c.metrics.SetTracked(c.trackedCount())
	if added > 0 || removed > 0 {
		slog.Info("mm: markets synced", "tracked", c.trackedCount(), "added", added, "removed", removed)
	}
	return nil
}

// seedInventory arranca el inventario desde la posición que ya tenga el MM.
func (c *Controller) seedInventory(ctx context.Context, marketID string) (yes, no float64) {
	if c.deps.Positions == nil {
		return 0, 0
	}
	pos, err := c.deps.Positions.Position(ctx, c.cfg.UserID, marketID)
	if err != nil {
		slog.Warn("mm: seed inventory failed", "market", marketID, "err", err)
		return 0, 0
	}
	return pos.YesShares, pos.NoShares
}

// RefreshMarket recalcula y reemplaza la escalera de un mercado. Si ya hay un
// refresh en curso para ese mercado devuelve ErrRefreshInProgress sin hacer nada.
func (c *Controller) RefreshMarket(ctx context.Context, marketID string) error {
	if c.stopped.Load() {
		return ErrStopped
	}
	c.mu.RLock()
	tm, ok := c.markets[marketID]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("marketmaker.RefreshMarket: %s: %w", marketID, domain.ErrMarketNotFound)
	}
	if !tm.refreshing.CompareAndSwap(false, true) {
		return ErrRefreshInProgress
	}
	defer tm.refreshing.Store(false)

	now := c.now()
	tm.mu.Lock()
	m, yes, no, closed := tm.market, tm.yes, tm.no, tm.closed
	tm.mu.Unlock()

	// ventana de cierre: se retira todo una vez y no se cotiza más
	if !m.TradingOpen(now) || m.TimeRemaining(now) <= c.cfg.CloseBeforeExpiry {
		if closed {
			return nil
		}
		if _, err := c.quoter.CancelAll(ctx, m.ID); err != nil {
			c.metrics.ObserveRefresh("error")
			return fmt.Errorf("marketmaker.RefreshMarket: close %s: %w", m.ID, err)
		}
		tm.mu.Lock()
		tm.closed = true
		tm.resting = 0
		tm.quotes = domain.QuoteSet{}
		tm.mu.Unlock()
		c.metrics.ObserveRefresh("closed")
		slog.Info("mm: closing window, quotes pulled", "market", m.ID, "remaining", m.TimeRemaining(now))
		return nil
	}

	spot, ok := c.prices.get(ctx, m.Asset)
	if !ok {
		spot = m.Strike
		slog.Debug("mm: no price, quoting at strike", "market", m.ID, "asset", m.Asset)
	}

	qs := c.strategy.Quote(strategy.Inputs{
		Spot:             spot,
		Strike:           m.Strike,
		SecondsToExpiry:  m.TimeRemaining(now).Seconds(),
		Volatility:       c.cfg.VolatilityFor(m.Asset),
		TimeRemainingPct: m.TimeRemainingPct(now),
		YesPosition:      yes,
		NoPosition:       no,
	}, c.cfg)

	placement, err := c.quoter.Replace(ctx, m, qs)
	for _, f := range placement.Fills {
		if f.TakerUserID == c.cfg.UserID {
			c.applyFill(m.ID, f.ID, f.TakerSide, f.Outcome, f.Size)
		}
	}
	if err != nil {
		c.metrics.ObserveRefresh("error")
		return fmt.Errorf("marketmaker.RefreshMarket: %s: %w", m.ID, err)
	}

	tm.mu.Lock()
	tm.spot = spot
	tm.quotes = qs
	tm.resting = placement.Resting
	tm.lastRefresh = now
	tm.mu.Unlock()

	c.metrics.ObserveRefresh("ok")
	slog.Debug("mm: quotes refreshed",
		"market", m.ID,
		"spot", spot,
		"fair_yes", qs.FairYes,
		"spread", qs.Spread,
		"skew", qs.Skew,
		"placed", placement.Placed,
		"failed", placement.Failed,
		"fills", len(placement.Fills),
	)
	return nil
}
