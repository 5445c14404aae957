// engine.go — motor de matching precio-tiempo.
//
// El Engine no guarda estado de libros: opera sobre el OrderBook que recibe y
// el llamador es responsable de tener el libro serializado durante la pasada.
package matching

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/binex/internal/domain"
)

// minFill es la granularidad mínima de contratos en los recorridos por dólares.
var minFill = decimal.New(1, -2)

// Engine ejecuta órdenes contra un libro.
type Engine struct {
	fees  FeeSchedule
	now   func() time.Time
	newID func() string
}

// Option configura el Engine.
type Option func(*Engine)

// WithClock reemplaza el reloj (tests).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDs reemplaza el generador de IDs de fill (tests).
func WithIDs(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// NewEngine crea un motor con el esquema de comisiones dado.
func NewEngine(fees FeeSchedule, opts ...Option) *Engine {
	e := &Engine{fees: fees, now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Fees devuelve el esquema de comisiones.
func (e *Engine) Fees() FeeSchedule { return e.fees }

// MatchResult es el resultado de una pasada de matching.
type MatchResult struct {
	Fills     []domain.Fill
	Remaining float64
	SelfTrade bool
	// Órdenes en reposo que se encontraron vencidas y se sacaron del libro.
	Expired []*domain.Order

	// Solo para MARKET_DOLLAR.
	TotalSpent     decimal.Decimal
	TotalContracts decimal.Decimal
	Unfilled       decimal.Decimal
}

// ProcessResult es lo que ProcessOrder devuelve al exchange.
type ProcessResult struct {
	MatchResult
	Status      domain.OrderStatus
	Reject      error
	AddedToBook bool
	SequenceID  int64
}

// crosses indica si un taker a effectiveTick cruza contra un maker a makerTick.
func crosses(takerSide domain.Side, effectiveTick, makerTick int) bool {
	if takerSide == domain.SideBid {
		return effectiveTick >= makerTick
	}
	return effectiveTick <= makerTick
}

// MatchOrder cruza taker contra el lado opuesto mientras haya precio.
// Un self-trade corta el matching pero conserva los fills previos.
func (e *Engine) MatchOrder(book *OrderBook, taker *domain.Order) MatchResult {
	var res MatchResult
	now := e.now()
	effective := domain.PriceToTick(effectivePrice(taker))

	for taker.Remaining > domain.SizeEpsilon {
		maker, ok := e.best(book, taker.Side.Opposite())
		if !ok {
			break
		}
		if maker.Expired(now) {
			res.Expired = append(res.Expired, e.expire(book, maker))
			continue
		}
		if !crosses(taker.Side, effective, domain.PriceToTick(maker.Price)) {
			break
		}
		if maker.OwnerID == taker.OwnerID {
			res.SelfTrade = true
			break
		}

		size := min(taker.Remaining, maker.Remaining)
		res.Fills = append(res.Fills, e.fill(book, maker, taker, size, now))
		e.consume(book, maker, size)
		taker.Remaining = domain.RoundShares(taker.Remaining - size)
	}

	res.Remaining = taker.Remaining
	return res
}

// AvailableMatchSize es un dry-run: cuánto de taker se llenaría ahora mismo.
// No toca el libro. Se corta en la primera orden propia, igual que MatchOrder.
func (e *Engine) AvailableMatchSize(book *OrderBook, taker *domain.Order) float64 {
	now := e.now()
	effective := domain.PriceToTick(effectivePrice(taker))
	var avail float64

	book.walk(taker.Side.Opposite(), func(maker *domain.Order) bool {
		if maker.Expired(now) {
			return true
		}
		if !crosses(taker.Side, effective, domain.PriceToTick(maker.Price)) {
			return false
		}
		if maker.OwnerID == taker.OwnerID {
			return false
		}
		avail = domain.RoundShares(avail + maker.Remaining)
		return avail < taker.Remaining
	})
	return min(avail, taker.Remaining)
}

// MatchMarketOrderByDollar compra con un presupuesto en USDC recorriendo los
// asks desde el mejor, sin pasar de MaxPrice. Las órdenes propias se saltan.
// Los contratos se truncan a 0.01.
func (e *Engine) MatchMarketOrderByDollar(book *OrderBook, order *domain.Order) MatchResult {
	now := e.now()
	budget := decimal.NewFromFloat(order.DollarAmount)
	remaining := budget
	maxTick := domain.PriceToTick(order.MaxPrice)
	res := MatchResult{TotalSpent: decimal.Zero, TotalContracts: decimal.Zero}

	book.walk(domain.SideAsk, func(maker *domain.Order) bool {
		if domain.PriceToTick(maker.Price) > maxTick {
			return false
		}
		if maker.Expired(now) {
			res.Expired = append(res.Expired, e.expire(book, maker))
			return true
		}
		if maker.OwnerID == order.OwnerID {
			return true
		}

		price := decimal.NewFromFloat(maker.Price)
		if remaining.LessThan(price.Mul(minFill)) {
			return false
		}
		contracts := decimal.Min(remaining.Div(price), decimal.NewFromFloat(maker.Remaining)).Truncate(2)
		if contracts.LessThan(minFill) {
			return false
		}

		size := contracts.InexactFloat64()
		res.Fills = append(res.Fills, e.fill(book, maker, order, size, now))
		e.consume(book, maker, size)

		cost := contracts.Mul(price)
		remaining = remaining.Sub(cost)
		res.TotalSpent = res.TotalSpent.Add(cost)
		res.TotalContracts = res.TotalContracts.Add(contracts)
		return true
	})

	res.Unfilled = budget.Sub(res.TotalSpent)
	order.Size = res.TotalContracts.InexactFloat64()
	order.Remaining = 0
	return res
}

// MatchSellOrder vende contra los bids desde el mejor sin bajar de MinPrice.
// Las órdenes propias se saltan.
func (e *Engine) MatchSellOrder(book *OrderBook, order *domain.Order) MatchResult {
	var res MatchResult
	now := e.now()
	minTick := domain.PriceToTick(order.MinPrice)

	book.walk(domain.SideBid, func(maker *domain.Order) bool {
		if order.Remaining <= domain.SizeEpsilon {
			return false
		}
		if domain.PriceToTick(maker.Price) < minTick {
			return false
		}
		if maker.Expired(now) {
			res.Expired = append(res.Expired, e.expire(book, maker))
			return true
		}
		if maker.OwnerID == order.OwnerID {
			return true
		}

		size := min(order.Remaining, maker.Remaining)
		res.Fills = append(res.Fills, e.fill(book, maker, order, size, now))
		e.consume(book, maker, size)
		order.Remaining = domain.RoundShares(order.Remaining - size)
		return true
	})

	res.Remaining = order.Remaining
	return res
}

// ProcessOrder despacha por tipo de orden y deja el status final en order.
func (e *Engine) ProcessOrder(book *OrderBook, order *domain.Order) ProcessResult {
	var pr ProcessResult

	switch order.Type {
	case domain.OrderFOK:
		if avail := e.AvailableMatchSize(book, order); avail < order.Remaining-domain.SizeEpsilon {
			pr.Remaining = order.Remaining
			pr.Reject = domain.ErrInsufficientLiquidity
			pr.Status = domain.StatusRejected
			order.Status = pr.Status
			return pr
		}
		pr.MatchResult = e.MatchOrder(book, order)
	case domain.OrderMarketDollar:
		pr.MatchResult = e.MatchMarketOrderByDollar(book, order)
	case domain.OrderSell:
		pr.MatchResult = e.MatchSellOrder(book, order)
	default:
		pr.MatchResult = e.MatchOrder(book, order)
	}

	switch {
	case pr.SelfTrade:
		pr.Reject = domain.ErrSelfTradePrevented
		pr.Status = domain.StatusRejected
	case order.Type == domain.OrderMarketDollar:
		// lo que sobra por debajo de un contrato mínimo es polvo
		dust := minFill.Mul(decimal.NewFromFloat(order.MaxPrice))
		pr.Status = terminalStatus(len(pr.Fills) > 0, pr.Unfilled.LessThan(dust))
	case order.Remaining <= domain.SizeEpsilon:
		pr.Status = domain.StatusFilled
	case order.Type.Rests():
		seq, err := book.AddOrder(order)
		if err != nil {
			pr.Reject = err
			pr.Status = domain.StatusRejected
			break
		}
		pr.AddedToBook = true
		pr.SequenceID = seq
		pr.Status = domain.StatusResting
	default:
		pr.Status = terminalStatus(len(pr.Fills) > 0, false)
	}

	order.Status = pr.Status
	return pr
}

// terminalStatus para órdenes que nunca descansan.
func terminalStatus(anyFill, complete bool) domain.OrderStatus {
	switch {
	case anyFill && complete:
		return domain.StatusFilled
	case anyFill:
		return domain.StatusDiscarded
	default:
		return domain.StatusCancelled
	}
}

func effectivePrice(o *domain.Order) float64 {
	if o.Type != domain.OrderMarket {
		return o.Price
	}
	if o.Side == domain.SideBid {
		return domain.MaxPrice
	}
	return domain.MinPrice
}

func (e *Engine) best(book *OrderBook, s domain.Side) (*domain.Order, bool) {
	if s == domain.SideBid {
		return book.BestBid()
	}
	return book.BestAsk()
}

func (e *Engine) fill(book *OrderBook, maker, taker *domain.Order, size float64, now time.Time) domain.Fill {
	makerFee, takerFee := e.fees.Fees(maker.Price, size)
	return domain.Fill{
		ID:           e.newID(),
		MarketID:     book.MarketID,
		Outcome:      book.Outcome,
		MakerOrderID: maker.ID,
		TakerOrderID: taker.ID,
		MakerUserID:  maker.OwnerID,
		TakerUserID:  taker.OwnerID,
		MakerSide:    maker.Side,
		TakerSide:    taker.Side,
		Price:        maker.Price,
		Size:         size,
		MakerFee:     makerFee,
		TakerFee:     takerFee,
		Aggregated:   1,
		CreatedAt:    now,
	}
}

// consume descuenta size del maker; si se agota sale del libro como FILLED.
func (e *Engine) consume(book *OrderBook, maker *domain.Order, size float64) {
	left := domain.RoundShares(maker.Remaining - size)
	if left <= domain.SizeEpsilon {
		book.RemoveOrder(maker.ID)
		maker.Remaining = 0
		maker.Status = domain.StatusFilled
		return
	}
	// left < maker.Remaining: el maker sigue en el libro con su prioridad
	book.reduce(maker, left)
}

func (e *Engine) expire(book *OrderBook, o *domain.Order) *domain.Order {
	book.RemoveOrder(o.ID)
	o.Status = domain.StatusExpired
	return o
}
