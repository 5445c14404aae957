package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/binex/internal/domain"
	"github.com/alejandrodnm/binex/internal/matching"
)

// RegisterMarket da de alta un mercado. Sin strike queda PENDING.
func (x *Exchange) RegisterMarket(m domain.Market) error {
	if m.ID == "" || m.Asset == "" {
		return errors.New("exchange.RegisterMarket: id and asset are required")
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = x.now()
	}
	if !m.ExpiresAt.After(m.CreatedAt) {
		return fmt.Errorf("exchange.RegisterMarket: %s expires before it is created", m.ID)
	}
	m.Status = domain.MarketOpen
	if !m.StrikeSet() {
		m.Status = domain.MarketPending
	}

	seq := &matching.Sequencer{}
	mb := &marketBooks{
		market: m,
		books: map[domain.Outcome]*lockedBook{
			domain.OutcomeYes: {ob: matching.NewOrderBook(m.ID, domain.OutcomeYes, seq)},
			domain.OutcomeNo:  {ob: matching.NewOrderBook(m.ID, domain.OutcomeNo, seq)},
		},
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if _, dup := x.markets[m.ID]; dup {
		return fmt.Errorf("exchange.RegisterMarket: market %s already registered", m.ID)
	}
	x.markets[m.ID] = mb
	slog.Info("exchange: market registered", "market", m.ID, "asset", m.Asset, "strike", m.Strike, "status", m.Status, "expires", m.ExpiresAt)
	return nil
}

// ActivateMarket fija el strike de un mercado PENDING y lo abre.
func (x *Exchange) ActivateMarket(id string, strike float64) error {
	if strike <= 0 {
		return fmt.Errorf("exchange.ActivateMarket: strike %.2f: %w", strike, domain.ErrInvalidPrice)
	}
	mb, err := x.market(id)
	if err != nil {
		return fmt.Errorf("exchange.ActivateMarket: %w", err)
	}
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.market.Status != domain.MarketPending {
		return fmt.Errorf("exchange.ActivateMarket: market %s is %s: %w", id, mb.market.Status, domain.ErrMarketNotOpen)
	}
	mb.market.Strike = strike
	mb.market.Status = domain.MarketOpen
	slog.Info("exchange: market activated", "market", id, "strike", strike)
	return nil
}

// CloseMarket corta el trading y cancela todas las órdenes en reposo.
func (x *Exchange) CloseMarket(_ context.Context, id string) error {
	mb, err := x.market(id)
	if err != nil {
		return fmt.Errorf("exchange.CloseMarket: %w", err)
	}
	mb.mu.Lock()
	if mb.market.Status == domain.MarketClosed || mb.market.Status == domain.MarketResolved {
		mb.mu.Unlock()
		return nil
	}
	mb.market.Status = domain.MarketClosed
	mb.mu.Unlock()

	cancelled := 0
	for outcome, lb := range mb.books {
		lb.mu.Lock()
		for _, side := range []domain.Side{domain.SideBid, domain.SideAsk} {
			for _, o := range lb.ob.Orders(side) {
				lb.ob.RemoveOrder(o.ID)
				o.Status = domain.StatusCancelled
				x.untrack(o.ID)
				cancelled++
			}
		}
		seq := lb.ob.Sequence()
		lb.mu.Unlock()
		x.publish(domain.BookDelta{MarketID: id, Outcome: outcome, Sequence: seq})
	}
	x.metrics.AddResting(-cancelled)
	slog.Info("exchange: market closed", "market", id, "cancelled", cancelled)
	return nil
}

// ResolveMarket fija el outcome ganador. Cierra el mercado si seguía abierto.
func (x *Exchange) ResolveMarket(ctx context.Context, id string, outcome domain.Outcome) error {
	if !outcome.Valid() {
		return fmt.Errorf("exchange.ResolveMarket: outcome %q: %w", outcome, domain.ErrInvalidOrderType)
	}
	if err := x.CloseMarket(ctx, id); err != nil {
		return fmt.Errorf("exchange.ResolveMarket: %w", err)
	}
	mb, _ := x.market(id)
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.market.Status == domain.MarketResolved {
		return fmt.Errorf("exchange.ResolveMarket: market %s already resolved as %s", id, mb.market.Outcome)
	}
	mb.market.Status = domain.MarketResolved
	mb.market.Outcome = outcome
	slog.Info("exchange: market resolved", "market", id, "outcome", outcome)
	return nil
}

func (x *Exchange) untrack(orderID string) {
	x.ordersMu.Lock()
	delete(x.orders, orderID)
	x.ordersMu.Unlock()
}

// Sweep cierra los mercados que entraron en la ventana de cierre y saca del
// libro las órdenes vencidas. Devuelve cuántas órdenes venció.
func (x *Exchange) Sweep(ctx context.Context) int {
	now := x.now()

	x.mu.RLock()
	all := make([]*marketBooks, 0, len(x.markets))
	for _, mb := range x.markets {
		all = append(all, mb)
	}
	x.mu.RUnlock()

	expired := 0
	for _, mb := range all {
		m := mb.snapshot()
		if m.Status == domain.MarketOpen && !m.TradingOpen(now) {
			if err := x.CloseMarket(ctx, m.ID); err != nil {
				slog.Warn("exchange: close failed", "market", m.ID, "err", err)
			}
			continue
		}
		for outcome, lb := range mb.books {
			n := 0
			lb.mu.Lock()
			for _, side := range []domain.Side{domain.SideBid, domain.SideAsk} {
				for _, o := range lb.ob.Orders(side) {
					if o.Expired(now) {
						lb.ob.RemoveOrder(o.ID)
						o.Status = domain.StatusExpired
						x.untrack(o.ID)
						n++
					}
				}
			}
			seq := lb.ob.Sequence()
			lb.mu.Unlock()
			if n > 0 {
				expired += n
				x.publish(domain.BookDelta{MarketID: m.ID, Outcome: outcome, Sequence: seq})
			}
		}
	}
	x.metrics.AddResting(-expired)
	if expired > 0 {
		slog.Debug("exchange: expired orders swept", "count", expired)
	}
	return expired
}

// Run corre el sweep periódico y el journal hasta que ctx se cancele.
func (x *Exchange) Run(ctx context.Context) error {
	ticker := time.NewTicker(x.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			x.drainJournal()
			return nil
		case <-ticker.C:
			x.Sweep(ctx)
		case e := <-x.journal:
			x.persist(context.WithoutCancel(ctx), e)
		}
	}
}

// writeJournal encola el journal; si el buffer está lleno escribe en línea.
func (x *Exchange) writeJournal(ctx context.Context, e journalEntry) {
	if x.store == nil {
		return
	}
	select {
	case x.journal <- e:
	default:
		slog.Warn("exchange: journal buffer full, writing inline")
		x.persist(ctx, e)
	}
}

func (x *Exchange) drainJournal() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case e := <-x.journal:
			x.persist(ctx, e)
		default:
			return
		}
	}
}

func (x *Exchange) persist(ctx context.Context, e journalEntry) {
	if err := x.store.SaveFills(ctx, e.fills); err != nil {
		slog.Warn("exchange: journal fills failed", "count", len(e.fills), "err", err)
	}
	for _, p := range e.positions {
		if err := x.store.SavePosition(ctx, p); err != nil {
			slog.Warn("exchange: journal position failed", "user", p.UserID, "market", p.MarketID, "err", err)
		}
	}
}
