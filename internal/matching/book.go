// book.go — libro de órdenes de un (mercado, outcome).
//
// Los niveles viven en un array indexado por tick de centavo (1..99), cada uno
// con su cola FIFO. No es thread-safe: el exchange serializa cada libro.
package matching

import (
	"container/list"
	"fmt"
	"sync/atomic"

	"github.com/alejandrodnm/binex/internal/domain"
)

const numTicks = 100 // ticks válidos: 1..99

// Sequencer entrega números de secuencia monótonos por mercado.
// Lo comparten el libro YES y el NO del mismo mercado.
type Sequencer struct {
	n atomic.Int64
}

// Next incrementa y devuelve la secuencia.
func (s *Sequencer) Next() int64 { return s.n.Add(1) }

// Current devuelve la última secuencia emitida.
func (s *Sequencer) Current() int64 { return s.n.Load() }

type level struct {
	tick  int
	size  float64
	queue *list.List // de *domain.Order, en orden de llegada
}

// OrderBook mantiene bids (mayor a menor) y asks (menor a mayor) de un outcome.
type OrderBook struct {
	MarketID string
	Outcome  domain.Outcome

	bids    [numTicks]*level
	asks    [numTicks]*level
	bestBid int // 0 = vacío
	bestAsk int // 0 = vacío
	orders  map[string]*list.Element
	seq     *Sequencer
}

// NewOrderBook crea un libro vacío. Si seq es nil se crea uno propio.
func NewOrderBook(marketID string, outcome domain.Outcome, seq *Sequencer) *OrderBook {
	if seq == nil {
		seq = &Sequencer{}
	}
	return &OrderBook{
		MarketID: marketID,
		Outcome:  outcome,
		orders:   make(map[string]*list.Element),
		seq:      seq,
	}
}

func (b *OrderBook) side(s domain.Side) *[numTicks]*level {
	if s == domain.SideBid {
		return &b.bids
	}
	return &b.asks
}

// AddOrder inserta la orden al final de su nivel y devuelve la nueva secuencia.
func (b *OrderBook) AddOrder(o *domain.Order) (int64, error) {
	if !domain.ValidPrice(o.Price) {
		return 0, fmt.Errorf("matching.AddOrder: price %.4f: %w", o.Price, domain.ErrInvalidPrice)
	}
	if o.Remaining <= domain.SizeEpsilon {
		return 0, fmt.Errorf("matching.AddOrder: remaining %.6f: %w", o.Remaining, domain.ErrInvalidSize)
	}
	if _, dup := b.orders[o.ID]; dup {
		return 0, fmt.Errorf("matching.AddOrder: duplicate order %s", o.ID)
	}

	tick := domain.PriceToTick(o.Price)
	levels := b.side(o.Side)
	lv := levels[tick]
	if lv == nil {
		lv = &level{tick: tick, queue: list.New()}
		levels[tick] = lv
	}
	b.orders[o.ID] = lv.queue.PushBack(o)
	lv.size = domain.RoundShares(lv.size + o.Remaining)

	if o.Side == domain.SideBid && tick > b.bestBid {
		b.bestBid = tick
	}
	if o.Side == domain.SideAsk && (b.bestAsk == 0 || tick < b.bestAsk) {
		b.bestAsk = tick
	}
	return b.seq.Next(), nil
}

// RemoveOrder saca la orden del libro. Devuelve false si no estaba.
func (b *OrderBook) RemoveOrder(id string) (*domain.Order, bool) {
	e, ok := b.orders[id]
	if !ok {
		return nil, false
	}
	o := e.Value.(*domain.Order)
	tick := domain.PriceToTick(o.Price)
	levels := b.side(o.Side)
	lv := levels[tick]

	lv.queue.Remove(e)
	lv.size = domain.RoundShares(lv.size - o.Remaining)
	delete(b.orders, id)

	if lv.queue.Len() == 0 {
		levels[tick] = nil
		b.refreshBest(o.Side, tick)
	}
	b.seq.Next()
	return o, true
}

// UpdateOrderSize cambia el remanente en el lugar, sin perder prioridad.
// Un remanente cero elimina la orden.
func (b *OrderBook) UpdateOrderSize(id string, remaining float64) error {
	e, ok := b.orders[id]
	if !ok {
		return fmt.Errorf("matching.UpdateOrderSize: %s: %w", id, domain.ErrOrderNotFound)
	}
	o := e.Value.(*domain.Order)
	if remaining <= domain.SizeEpsilon {
		b.RemoveOrder(id)
		o.Remaining = 0
		return nil
	}
	if remaining > o.Size+domain.SizeEpsilon {
		return fmt.Errorf("matching.UpdateOrderSize: %.6f > size %.6f: %w", remaining, o.Size, domain.ErrInvalidSize)
	}

	b.reduce(o, remaining)
	return nil
}

// reduce fija el remanente de una orden que está en el libro y ajusta su nivel.
// El llamador garantiza 0 < remaining <= o.Size.
func (b *OrderBook) reduce(o *domain.Order, remaining float64) {
	lv := b.side(o.Side)[domain.PriceToTick(o.Price)]
	lv.size = domain.RoundShares(lv.size - o.Remaining + remaining)
	o.Remaining = domain.RoundShares(remaining)
	b.seq.Next()
}

// refreshBest busca el siguiente nivel no vacío si se vació el mejor.
func (b *OrderBook) refreshBest(s domain.Side, emptied int) {
	if s == domain.SideBid {
		if emptied != b.bestBid {
			return
		}
		b.bestBid = 0
		for t := emptied - 1; t > 0; t-- {
			if b.bids[t] != nil {
				b.bestBid = t
				return
			}
		}
		return
	}
	if emptied != b.bestAsk {
		return
	}
	b.bestAsk = 0
	for t := emptied + 1; t < numTicks; t++ {
		if b.asks[t] != nil {
			b.bestAsk = t
			return
		}
	}
}

// BestBid devuelve la primera orden del mejor nivel comprador.
func (b *OrderBook) BestBid() (*domain.Order, bool) {
	return b.head(domain.SideBid)
}

// BestAsk devuelve la primera orden del mejor nivel vendedor.
func (b *OrderBook) BestAsk() (*domain.Order, bool) {
	return b.head(domain.SideAsk)
}

func (b *OrderBook) head(s domain.Side) (*domain.Order, bool) {
	tick := b.bestAsk
	if s == domain.SideBid {
		tick = b.bestBid
	}
	if tick == 0 {
		return nil, false
	}
	return b.side(s)[tick].queue.Front().Value.(*domain.Order), true
}

// Get devuelve una orden en el libro por ID.
func (b *OrderBook) Get(id string) (*domain.Order, bool) {
	e, ok := b.orders[id]
	if !ok {
		return nil, false
	}
	return e.Value.(*domain.Order), true
}

// Len devuelve cuántas órdenes descansan en el libro.
func (b *OrderBook) Len() int {
	return len(b.orders)
}

// Sequence devuelve la secuencia actual del mercado.
func (b *OrderBook) Sequence() int64 {
	return b.seq.Current()
}

// walk recorre un lado en prioridad precio-tiempo. fn puede eliminar la orden
// que recibe; devolver false corta el recorrido.
func (b *OrderBook) walk(s domain.Side, fn func(o *domain.Order) bool) {
	levels := b.side(s)
	step, start := -1, b.bestBid
	if s == domain.SideAsk {
		step, start = 1, b.bestAsk
	}
	if start == 0 {
		return
	}
	for t := start; t > 0 && t < numTicks; t += step {
		lv := levels[t]
		if lv == nil {
			continue
		}
		for e := lv.queue.Front(); e != nil; {
			next := e.Next()
			if !fn(e.Value.(*domain.Order)) {
				return
			}
			e = next
		}
	}
}

// Orders devuelve las órdenes de un lado en prioridad (copia de punteros).
func (b *OrderBook) Orders(s domain.Side) []*domain.Order {
	var out []*domain.Order
	b.walk(s, func(o *domain.Order) bool {
		out = append(out, o)
		return true
	})
	return out
}

// Snapshot devuelve hasta depth niveles por lado con totales acumulados.
// depth <= 0 devuelve todos.
func (b *OrderBook) Snapshot(depth int) domain.BookSnapshot {
	return domain.BookSnapshot{
		MarketID: b.MarketID,
		Outcome:  b.Outcome,
		Bids:     b.levels(domain.SideBid, depth),
		Asks:     b.levels(domain.SideAsk, depth),
		Sequence: b.seq.Current(),
	}
}

func (b *OrderBook) levels(s domain.Side, depth int) []domain.BookLevel {
	levels := b.side(s)
	out := []domain.BookLevel{}
	var total float64

	visit := func(t int) bool {
		lv := levels[t]
		if lv == nil {
			return true
		}
		total = domain.RoundShares(total + lv.size)
		out = append(out, domain.BookLevel{
			Price:  domain.TickToPrice(t),
			Size:   lv.size,
			Total:  total,
			Orders: lv.queue.Len(),
		})
		return depth <= 0 || len(out) < depth
	}

	if s == domain.SideBid {
		for t := b.bestBid; t > 0; t-- {
			if !visit(t) {
				break
			}
		}
		return out
	}
	if b.bestAsk == 0 {
		return out
	}
	for t := b.bestAsk; t < numTicks; t++ {
		if !visit(t) {
			break
		}
	}
	return out
}
