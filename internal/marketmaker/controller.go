// controller.go — market maker: sincroniza mercados, refresca cotizaciones
// por timer y por ticks, y lleva el inventario propio.
package marketmaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/binex/internal/domain"
	"github.com/alejandrodnm/binex/internal/metrics"
	"github.com/alejandrodnm/binex/internal/ports"
	"github.com/alejandrodnm/binex/internal/strategy"
)

var (
	// ErrRefreshInProgress indica que ya hay un refresh corriendo para el mercado.
	ErrRefreshInProgress = errors.New("refresh already in progress")

	// ErrStopped se devuelve después de Stop.
	ErrStopped = errors.New("market maker stopped")
)

const (
	reportDepth = 5

	// fills recordados por mercado para descartar entregas repetidas
	seenFillsCap = 4096
)

// Deps agrupa los puertos que usa el controller. Quoter, Strategy, Positions,
// Books, Reporter y Metrics son opcionales.
type Deps struct {
	Markets   ports.MarketDirectory
	Prices    ports.PriceSource
	Orders    ports.OrderGateway
	Positions ports.PositionSource
	Books     ports.BookSource
	Reporter  ports.Reporter
	Quoter    Quoter
	Strategy  strategy.Strategy
	Metrics   *metrics.Metrics
	Clock     func() time.Time
}

// tracked es el estado del MM en un mercado.
type tracked struct {
	refreshing atomic.Bool

	mu          sync.Mutex
	market      domain.Market
	yes, no     float64
	spot        float64
	quotes      domain.QuoteSet
	resting     int
	closed      bool
	lastRefresh time.Time

	seen      map[string]struct{}
	seenOrder []string
}

// markSeen registra el fill y devuelve false si ya se había aplicado.
// Llamar con tm.mu tomado.
func (tm *tracked) markSeen(fillID string) bool {
	if fillID == "" {
		return true
	}
	if _, dup := tm.seen[fillID]; dup {
		return false
	}
	if tm.seen == nil {
		tm.seen = make(map[string]struct{})
	}
	if len(tm.seenOrder) >= seenFillsCap {
		delete(tm.seen, tm.seenOrder[0])
		tm.seenOrder = tm.seenOrder[1:]
	}
	tm.seen[fillID] = struct{}{}
	tm.seenOrder = append(tm.seenOrder, fillID)
	return true
}

// Controller es el market maker. Se crea con New y se arranca con Start.
type Controller struct {
	cfg      domain.MMConfig
	deps     Deps
	strategy strategy.Strategy
	quoter   Quoter
	prices   *priceCache
	metrics  *metrics.Metrics
	now      func() time.Time

	mu      sync.RWMutex
	markets map[string]*tracked

	events  chan domain.Event
	done    chan struct{}
	started atomic.Bool
	stopped atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New crea el controller.
func New(cfg domain.MMConfig, deps Deps) *Controller {
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	st := deps.Strategy
	if st == nil {
		st = strategy.FairValueQuoting{}
	}
	q := deps.Quoter
	if q == nil {
		q = NewReplaceQuoter(deps.Orders, cfg.UserID)
	}
	buf := cfg.EventBuffer
	if buf <= 0 {
		buf = 1024
	}
	return &Controller{
		cfg:      cfg,
		deps:     deps,
		strategy: st,
		quoter:   q,
		prices:   newPriceCache(deps.Prices, cfg.PriceCacheTTL, now),
		metrics:  deps.Metrics,
		now:      now,
		markets:  make(map[string]*tracked),
		events:   make(chan domain.Event, buf),
		done:     make(chan struct{}),
	}
}

// Start sincroniza mercados, coloca la primera escalera y arranca los loops.
// No bloquea.
func (c *Controller) Start(ctx context.Context) error {
	if c.stopped.Load() {
		return ErrStopped
	}
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("marketmaker.Start: already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if err := c.SyncMarkets(runCtx); err != nil {
		slog.Warn("mm: initial market sync failed", "err", err)
	}
	c.refreshAll(runCtx)

	c.wg.Add(3)
	go c.eventLoop(runCtx)
	go c.every(runCtx, c.cfg.QuoteInterval, c.refreshAll)
	go c.every(runCtx, c.cfg.MarketSyncInterval, func(ctx context.Context) {
		if err := c.SyncMarkets(ctx); err != nil {
			slog.Warn("mm: market sync failed", "err", err)
		}
	})

	slog.Info("mm: started",
		"user", c.cfg.UserID,
		"strategy", c.strategy.Name(),
		"markets", c.trackedCount(),
	)
	return nil
}

// Stop frena los ciclos nuevos, espera a los que están en curso y retira
// todas las cotizaciones.
func (c *Controller) Stop(ctx context.Context) error {
	if !c.stopped.CompareAndSwap(false, true) {
		return nil
	}
	close(c.done)
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	var errs []error
	for _, tm := range c.snapshot() {
		id := tm.marketID()
		if _, err := c.quoter.CancelAll(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	slog.Info("mm: stopped", "markets", c.trackedCount())
	return errors.Join(errs...)
}

// Publish entrega un evento al loop del controller. Los ticks y deltas se
// descartan si el buffer está lleno; los fills esperan hueco porque mueven
// el inventario. Devuelve false si el evento no se entregó.
func (c *Controller) Publish(ev domain.Event) bool {
	if _, isFill := ev.(domain.FillEvent); isFill {
		select {
		case c.events <- ev:
			return true
		case <-c.done:
			return false
		}
	}
	select {
	case c.events <- ev:
		return true
	default:
		slog.Debug("mm: event dropped, buffer full", "event", fmt.Sprintf("%T", ev))
		return false
	}
}

func (c *Controller) every(ctx context.Context, d time.Duration, fn func(context.Context)) {
	defer c.wg.Done()
	if d <= 0 {
		return
	}
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (c *Controller) eventLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.events:
			c.dispatch(ctx, ev)
		}
	}
}

func (c *Controller) dispatch(ctx context.Context, ev domain.Event) {
	switch e := ev.(type) {
	case domain.PriceTick:
		c.onPriceTick(ctx, e)
	case domain.FillEvent:
		c.onFill(e.Fill)
	case domain.BookDelta:
		// informativo
	}
}

// onPriceTick actualiza la cache y refresca los mercados del activo si el
// precio se movió más del umbral o cruzó el strike.
func (c *Controller) onPriceTick(ctx context.Context, tick domain.PriceTick) {
	if tick.Price <= 0 {
		return
	}
	c.prices.set(tick.Asset, tick.Price)

	for _, tm := range c.snapshot() {
		tm.mu.Lock()
		m, last := tm.market, tm.spot
		tm.mu.Unlock()
		if m.Asset != tick.Asset || !c.shouldRequote(last, tick.Price, m.Strike) {
			continue
		}
		if c.stopped.Load() {
			return
		}
		c.wg.Add(1)
		go func(id string) {
			defer c.wg.Done()
			err := c.RefreshMarket(ctx, id)
			if err != nil && !errors.Is(err, ErrRefreshInProgress) && !errors.Is(err, ErrStopped) {
				slog.Warn("mm: tick refresh failed", "market", id, "err", err)
			}
		}(m.ID)
	}
}

func (c *Controller) shouldRequote(last, price, strike float64) bool {
	if last <= 0 {
		return true
	}
	if math.Abs(price-last)/last > c.cfg.PriceMoveThreshold {
		return true
	}
	return (last-strike)*(price-strike) < 0
}

// onFill aplica al inventario los fills donde el MM fue maker. Los fills como
// taker llegan con el resultado de la colocación. El mismo fill puede llegar
// por el exchange y por el stream; se aplica una sola vez.
func (c *Controller) onFill(f domain.Fill) {
	if f.MakerUserID != c.cfg.UserID {
		return
	}
	if !c.applyFill(f.MarketID, f.ID, f.MakerSide, f.Outcome, f.Size) {
		slog.Debug("mm: duplicate fill ignored", "fill", f.ID, "market", f.MarketID)
	}
}

// applyFill: un BID suma shares del outcome, un ASK suma del opuesto.
// Devuelve false si el mercado no se sigue o el fill ya estaba aplicado.
func (c *Controller) applyFill(marketID, fillID string, side domain.Side, outcome domain.Outcome, size float64) bool {
	c.mu.RLock()
	tm, ok := c.markets[marketID]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	if side == domain.SideAsk {
		outcome = outcome.Opposite()
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if !tm.markSeen(fillID) {
		return false
	}
	if outcome == domain.OutcomeYes {
		tm.yes = domain.RoundShares(tm.yes + size)
	} else {
		tm.no = domain.RoundShares(tm.no + size)
	}
	return true
}

// Inventory devuelve las shares YES y NO acumuladas por el MM en un mercado.
func (c *Controller) Inventory(marketID string) (yes, no float64, ok bool) {
	c.mu.RLock()
	tm, found := c.markets[marketID]
	c.mu.RUnlock()
	if !found {
		return 0, 0, false
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.yes, tm.no, true
}

func (c *Controller) snapshot() []*tracked {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*tracked, 0, len(c.markets))
	for _, tm := range c.markets {
		out = append(out, tm)
	}
	return out
}

func (c *Controller) trackedCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.markets)
}

func (tm *tracked) marketID() string {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.market.ID
}

// Status devuelve el estado de cotización por mercado, ordenado por ID.
func (c *Controller) Status() []domain.MarketQuoteStatus {
	tms := c.snapshot()
	out := make([]domain.MarketQuoteStatus, 0, len(tms))
	for _, tm := range tms {
		tm.mu.Lock()
		out = append(out, domain.MarketQuoteStatus{
			MarketID:    tm.market.ID,
			Asset:       tm.market.Asset,
			Strike:      tm.market.Strike,
			Spot:        tm.spot,
			FairYes:     tm.quotes.FairYes,
			Spread:      tm.quotes.Spread,
			Skew:        tm.quotes.Skew,
			YesPosition: tm.yes,
			NoPosition:  tm.no,
			Resting:     tm.resting,
			Closed:      tm.closed,
			LastRefresh: tm.lastRefresh,
		})
		tm.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return out
}

// Report pasa el estado actual y los libros al Reporter.
func (c *Controller) Report(ctx context.Context) error {
	if c.deps.Reporter == nil {
		return nil
	}
	status := c.Status()
	var books []domain.BookSnapshot
	if c.deps.Books != nil {
		for _, s := range status {
			for _, o := range []domain.Outcome{domain.OutcomeYes, domain.OutcomeNo} {
				snap, err := c.deps.Books.Snapshot(s.MarketID, o, reportDepth)
				if err != nil {
					slog.Debug("mm: snapshot failed", "market", s.MarketID, "err", err)
					continue
				}
				books = append(books, snap)
			}
		}
	}
	if err := c.deps.Reporter.Report(ctx, status, books); err != nil {
		return fmt.Errorf("marketmaker.Report: %w", err)
	}
	return nil
}

// refreshAll refresca todos los mercados. La concurrencia la limita
// PlacementConcurrency (1 = secuencial).
func (c *Controller) refreshAll(ctx context.Context) {
	if c.stopped.Load() {
		return
	}
	limit := c.cfg.PlacementConcurrency
	if limit <= 0 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for _, tm := range c.snapshot() {
		id := tm.marketID()
		g.Go(func() error {
			err := c.RefreshMarket(ctx, id)
			switch {
			case err == nil:
			case errors.Is(err, ErrRefreshInProgress):
				slog.Debug("mm: refresh skipped, in flight", "market", id)
			case errors.Is(err, ErrStopped), errors.Is(err, context.Canceled):
			default:
				slog.Warn("mm: refresh failed", "market", id, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
