// quoter.go — coloca la escalera del market maker con cancel-and-replace.
package marketmaker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alejandrodnm/binex/internal/domain"
	"github.com/alejandrodnm/binex/internal/ports"
)

// Quoter reemplaza las cotizaciones de un mercado.
type Quoter interface {
	// Replace cancela lo que hubiera en el mercado y coloca qs.
	Replace(ctx context.Context, m domain.Market, qs domain.QuoteSet) (Placement, error)

	// CancelAll retira todas las cotizaciones del mercado.
	CancelAll(ctx context.Context, marketID string) (int, error)
}

// Placement resume una colocación.
type Placement struct {
	Placed  int
	Resting int
	Failed  int
	Fills   []domain.Fill // fills donde el MM cruzó como taker
}

// bulkCanceller lo implementa el exchange in-process.
type bulkCanceller interface {
	CancelAll(ctx context.Context, marketID, ownerID string) (int, error)
}

// ReplaceQuoter cancela todo y vuelve a colocar cada nivel como LIMIT, en orden.
type ReplaceQuoter struct {
	orders ports.OrderGateway
	userID string

	mu      sync.Mutex
	resting map[string][]string // marketID → order IDs
}

// NewReplaceQuoter crea un quoter que opera como userID.
func NewReplaceQuoter(orders ports.OrderGateway, userID string) *ReplaceQuoter {
	return &ReplaceQuoter{
		orders:  orders,
		userID:  userID,
		resting: make(map[string][]string),
	}
}

type leg struct {
	side    domain.Side
	outcome domain.Outcome
	quotes  []domain.Quote
}

// Replace implementa Quoter.
func (q *ReplaceQuoter) Replace(ctx context.Context, m domain.Market, qs domain.QuoteSet) (Placement, error) {
	var p Placement
	if _, err := q.CancelAll(ctx, m.ID); err != nil {
		return p, fmt.Errorf("marketmaker.Replace: %w", err)
	}

	legs := []leg{
		{domain.SideBid, domain.OutcomeYes, qs.YesBids},
		{domain.SideAsk, domain.OutcomeYes, qs.YesAsks},
		{domain.SideBid, domain.OutcomeNo, qs.NoBids},
		{domain.SideAsk, domain.OutcomeNo, qs.NoAsks},
	}

	var ids []string
	for _, l := range legs {
		for _, quote := range l.quotes {
			if err := ctx.Err(); err != nil {
				q.track(m.ID, ids)
				return p, fmt.Errorf("marketmaker.Replace: %w", err)
			}
			res, err := q.orders.SubmitOrder(ctx, domain.OrderRequest{
				MarketID: m.ID,
				OwnerID:  q.userID,
				Side:     l.side,
				Outcome:  l.outcome,
				Type:     domain.OrderLimit,
				Price:    quote.Price,
				Size:     quote.Size,
			})
			if err != nil {
				p.Failed++
				slog.Warn("mm: place failed",
					"market", m.ID,
					"side", l.side,
					"outcome", l.outcome,
					"price", quote.Price,
					"err", err,
				)
				continue
			}
			p.Fills = append(p.Fills, res.Fills...)
			if res.Status == domain.StatusRejected {
				p.Failed++
				slog.Debug("mm: quote rejected", "market", m.ID, "price", quote.Price, "reason", res.Reason())
				continue
			}
			p.Placed++
			if res.AddedToBook {
				p.Resting++
				ids = append(ids, res.OrderID)
			}
		}
	}
	q.track(m.ID, ids)
	return p, nil
}

func (q *ReplaceQuoter) track(marketID string, ids []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(ids) == 0 {
		delete(q.resting, marketID)
		return
	}
	q.resting[marketID] = ids
}

// CancelAll implementa Quoter. Si el gateway sabe cancelar por owner se usa eso,
// que también barre órdenes de una sesión anterior.
func (q *ReplaceQuoter) CancelAll(ctx context.Context, marketID string) (int, error) {
	q.mu.Lock()
	ids := q.resting[marketID]
	delete(q.resting, marketID)
	q.mu.Unlock()

	if bc, ok := q.orders.(bulkCanceller); ok {
		n, err := bc.CancelAll(ctx, marketID, q.userID)
		if err != nil {
			return n, fmt.Errorf("marketmaker.CancelAll: %s: %w", marketID, err)
		}
		return n, nil
	}

	n := 0
	for _, id := range ids {
		ok, err := q.orders.CancelOrder(ctx, id, q.userID)
		if err != nil {
			return n, fmt.Errorf("marketmaker.CancelAll: %s: %w", id, err)
		}
		if ok {
			n++
		}
	}
	return n, nil
}
