// exchange.go — servicio del exchange: registro de mercados, un libro serializado
// por (mercado, outcome), posiciones, fees y despacho de settlement.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/binex/internal/domain"
	"github.com/alejandrodnm/binex/internal/matching"
	"github.com/alejandrodnm/binex/internal/metrics"
	"github.com/alejandrodnm/binex/internal/ports"
)

// Config del exchange.
type Config struct {
	Fees          matching.FeeSchedule
	MarketMakerID string        // identidad cuyos fills maker se agregan antes del settlement
	SweepInterval time.Duration // vencimiento de órdenes y cierre de mercados
	JournalBuffer int
}

// Exchange es seguro para uso concurrente. Libros distintos matchean en paralelo.
type Exchange struct {
	cfg     Config
	engine  *matching.Engine
	queue   ports.SettlementQueue
	store   ports.TradeStore
	metrics *metrics.Metrics
	now     func() time.Time
	newID   func() string

	mu      sync.RWMutex
	markets map[string]*marketBooks

	ordersMu sync.Mutex
	orders   map[string]orderRef

	posMu     sync.Mutex
	positions map[positionKey]*domain.Position
	reserved  map[reserveKey]float64 // BIDs en curso, todavía sin aplicar a la posición
	fees      decimal.Decimal

	subsMu sync.RWMutex
	subs   []func(domain.Event)

	journal chan journalEntry
}

type marketBooks struct {
	mu     sync.RWMutex
	market domain.Market
	books  map[domain.Outcome]*lockedBook
}

func (mb *marketBooks) snapshot() domain.Market {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return mb.market
}

type lockedBook struct {
	mu sync.Mutex
	ob *matching.OrderBook
}

type orderRef struct {
	marketID string
	outcome  domain.Outcome
	ownerID  string
}

type reserveKey struct {
	userID   string
	marketID string
	outcome  domain.Outcome
}

type positionKey struct {
	userID   string
	marketID string
}

type journalEntry struct {
	fills     []domain.Fill
	positions []domain.Position
}

// Option configura el Exchange.
type Option func(*Exchange)

// WithSettlement conecta la cola de settlement.
func WithSettlement(q ports.SettlementQueue) Option {
	return func(x *Exchange) { x.queue = q }
}

// WithStore activa el journal de fills y posiciones.
func WithStore(s ports.TradeStore) Option {
	return func(x *Exchange) { x.store = s }
}

// WithMetrics activa las métricas.
func WithMetrics(m *metrics.Metrics) Option {
	return func(x *Exchange) { x.metrics = m }
}

// WithClock reemplaza el reloj (tests).
func WithClock(now func() time.Time) Option {
	return func(x *Exchange) { x.now = now }
}

// New crea el exchange sin mercados.
func New(cfg Config, opts ...Option) *Exchange {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Second
	}
	if cfg.JournalBuffer <= 0 {
		cfg.JournalBuffer = 256
	}
	x := &Exchange{
		cfg:       cfg,
		now:       time.Now,
		newID:     uuid.NewString,
		markets:   make(map[string]*marketBooks),
		orders:    make(map[string]orderRef),
		positions: make(map[positionKey]*domain.Position),
		reserved:  make(map[reserveKey]float64),
		fees:      decimal.Zero,
		journal:   make(chan journalEntry, cfg.JournalBuffer),
	}
	for _, opt := range opts {
		opt(x)
	}
	x.engine = matching.NewEngine(cfg.Fees, matching.WithClock(x.now))
	return x
}

// Subscribe registra un callback para fills y cambios de libro.
// Se invoca fuera de los locks del libro; no debe bloquear.
func (x *Exchange) Subscribe(fn func(domain.Event)) {
	x.subsMu.Lock()
	x.subs = append(x.subs, fn)
	x.subsMu.Unlock()
}

func (x *Exchange) publish(ev domain.Event) {
	x.subsMu.RLock()
	defer x.subsMu.RUnlock()
	for _, fn := range x.subs {
		fn(ev)
	}
}

func (x *Exchange) market(id string) (*marketBooks, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	mb, ok := x.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", id, domain.ErrMarketNotFound)
	}
	return mb, nil
}

// SubmitOrder valida, ejecuta y liquida una orden.
// Los rechazos de matching vuelven en el resultado con Status REJECTED.
func (x *Exchange) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	now := x.now()
	if err := req.Validate(now); err != nil {
		return domain.OrderResult{}, fmt.Errorf("exchange.SubmitOrder: %w", err)
	}

	mb, err := x.market(req.MarketID)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("exchange.SubmitOrder: %w", err)
	}
	m := mb.snapshot()
	if !m.TradingOpen(now) {
		return domain.OrderResult{}, fmt.Errorf("exchange.SubmitOrder: market %s is %s: %w", m.ID, m.Status, domain.ErrMarketNotOpen)
	}
	if req.Side == domain.SideBid && req.Type != domain.OrderMarketDollar {
		release, err := x.reserve(req)
		if err != nil {
			return domain.OrderResult{}, fmt.Errorf("exchange.SubmitOrder: %w", err)
		}
		defer release()
	}

	order := domain.NewOrder(x.newID(), req, now)
	lb := mb.books[req.Outcome]

	lb.mu.Lock()
	pr := x.engine.ProcessOrder(lb.ob, order)
	x.reindex(lb.ob, order, pr)
	lb.mu.Unlock()

	x.metrics.ObserveOrder(string(order.Type), string(pr.Status))
	x.metrics.ObserveFills(len(pr.Fills), filledSize(pr.Fills))

	res := domain.OrderResult{
		OrderID:     order.ID,
		Status:      pr.Status,
		Reject:      pr.Reject,
		Fills:       pr.Fills,
		AddedToBook: pr.AddedToBook,
		SequenceID:  pr.SequenceID,
	}
	if order.Type == domain.OrderMarketDollar {
		res.TotalSpent = pr.TotalSpent.InexactFloat64()
		res.TotalContracts = pr.TotalContracts.InexactFloat64()
		res.UnfilledDollars = pr.Unfilled.InexactFloat64()
	}

	if len(pr.Fills) > 0 {
		x.afterFills(ctx, m, order, pr.Fills)
	}
	if len(pr.Fills) > 0 || pr.AddedToBook || len(pr.Expired) > 0 {
		x.publish(domain.BookDelta{MarketID: m.ID, Outcome: req.Outcome, Sequence: lb.ob.Sequence()})
	}

	if pr.Reject != nil {
		slog.Debug("exchange: order rejected", "order", order.ID, "market", m.ID, "reason", pr.Reject)
	}
	return res, nil
}

// reserve aparta req.Size contra el límite de posición hasta que la orden
// termine. Los fills se aplican a la posición antes de liberar la reserva.
func (x *Exchange) reserve(req domain.OrderRequest) (func(), error) {
	k := reserveKey{req.OwnerID, req.MarketID, req.Outcome}

	x.posMu.Lock()
	defer x.posMu.Unlock()
	held := 0.0
	if p, ok := x.positions[positionKey{req.OwnerID, req.MarketID}]; ok {
		held = p.Shares(req.Outcome)
	}
	if held+x.reserved[k]+req.Size > domain.MaxPositionSize {
		return nil, fmt.Errorf("holding %.2f, pending %.2f: %w", held, x.reserved[k], domain.ErrPositionLimit)
	}
	x.reserved[k] += req.Size

	return func() {
		x.posMu.Lock()
		defer x.posMu.Unlock()
		if x.reserved[k] -= req.Size; x.reserved[k] <= domain.SizeEpsilon {
			delete(x.reserved, k)
		}
	}, nil
}

// reindex mantiene el índice orderID → libro. Se llama con el lock del libro tomado.
func (x *Exchange) reindex(ob *matching.OrderBook, order *domain.Order, pr matching.ProcessResult) {
	x.ordersMu.Lock()
	defer x.ordersMu.Unlock()

	gone := 0
	for _, f := range pr.Fills {
		if _, resting := ob.Get(f.MakerOrderID); !resting {
			if _, tracked := x.orders[f.MakerOrderID]; tracked {
				delete(x.orders, f.MakerOrderID)
				gone++
			}
		}
	}
	for _, o := range pr.Expired {
		if _, tracked := x.orders[o.ID]; tracked {
			delete(x.orders, o.ID)
			gone++
		}
	}
	if pr.AddedToBook {
		x.orders[order.ID] = orderRef{marketID: order.MarketID, outcome: order.Outcome, ownerID: order.OwnerID}
		gone--
	}
	x.metrics.AddResting(-gone)
}

// afterFills actualiza posiciones y fees, encola el settlement, escribe el
// journal y avisa a los suscriptores. Corre sin el lock del libro.
func (x *Exchange) afterFills(ctx context.Context, m domain.Market, taker *domain.Order, fills []domain.Fill) {
	now := x.now()
	settle := matching.Aggregate(fills, x.cfg.MarketMakerID)

	x.posMu.Lock()
	// la clasificación open/close usa el saldo del taker ANTES de actualizar posiciones
	avail := x.positionLocked(taker.OwnerID, m.ID).Shares(taker.Outcome)
	intents := make([]domain.SettlementIntent, 0, len(settle))
	for _, f := range settle {
		intent := domain.SettlementIntent{
			ID:        x.newID(),
			Kind:      domain.SettlementOpen,
			Fill:      f,
			MarketRef: m.ID,
			MakerAddr: f.MakerUserID,
			TakerAddr: f.TakerUserID,
			Status:    domain.IntentPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if f.TakerSide == domain.SideAsk && avail >= f.Size-domain.SizeEpsilon {
			intent.Kind = domain.SettlementClose
			intent.BuyerAddr, intent.SellerAddr = f.MakerUserID, f.TakerUserID
			avail -= f.Size
		}
		intents = append(intents, intent)
	}

	touched := make(map[positionKey]*domain.Position)
	for _, f := range fills {
		maker := x.positionLocked(f.MakerUserID, m.ID)
		maker.Apply(f.MakerSide, f.Outcome, f.Price, f.Size)
		touched[positionKey{f.MakerUserID, m.ID}] = maker

		tk := x.positionLocked(f.TakerUserID, m.ID)
		tk.Apply(f.TakerSide, f.Outcome, f.Price, f.Size)
		touched[positionKey{f.TakerUserID, m.ID}] = tk

		x.fees = x.fees.Add(f.MakerFee).Add(f.TakerFee)
	}
	positions := make([]domain.Position, 0, len(touched))
	for _, p := range touched {
		positions = append(positions, *p)
	}
	x.posMu.Unlock()

	// el estado interno ya cambió: settlement y journal no dependen del caller
	ctx = context.WithoutCancel(ctx)
	if x.queue != nil {
		for _, in := range intents {
			if err := x.queue.Enqueue(ctx, in); err != nil {
				slog.Warn("exchange: settlement enqueue failed", "fill", in.Fill.ID, "kind", in.Kind, "err", err)
			}
		}
	}
	x.writeJournal(ctx, journalEntry{fills: fills, positions: positions})

	for _, f := range fills {
		x.publish(domain.FillEvent{Fill: f})
	}
}

func (x *Exchange) positionLocked(userID, marketID string) *domain.Position {
	k := positionKey{userID, marketID}
	p, ok := x.positions[k]
	if !ok {
		p = &domain.Position{UserID: userID, MarketID: marketID}
		x.positions[k] = p
	}
	return p
}

func (x *Exchange) positionSnapshot(userID, marketID string) domain.Position {
	x.posMu.Lock()
	defer x.posMu.Unlock()
	if p, ok := x.positions[positionKey{userID, marketID}]; ok {
		return *p
	}
	return domain.Position{UserID: userID, MarketID: marketID}
}

// Position implementa ports.PositionSource.
func (x *Exchange) Position(_ context.Context, userID, marketID string) (domain.Position, error) {
	return x.positionSnapshot(userID, marketID), nil
}

// FeesCollected devuelve el total de fees maker+taker cobradas.
func (x *Exchange) FeesCollected() decimal.Decimal {
	x.posMu.Lock()
	defer x.posMu.Unlock()
	return x.fees
}

// CancelOrder saca una orden del libro si pertenece a ownerID.
// Devuelve false sin error si la orden ya no está en el libro.
func (x *Exchange) CancelOrder(_ context.Context, orderID, ownerID string) (bool, error) {
	x.ordersMu.Lock()
	ref, ok := x.orders[orderID]
	x.ordersMu.Unlock()
	if !ok {
		return false, nil
	}
	if ref.ownerID != ownerID {
		return false, fmt.Errorf("exchange.CancelOrder: %s: %w", orderID, domain.ErrUnauthorized)
	}

	mb, err := x.market(ref.marketID)
	if err != nil {
		return false, fmt.Errorf("exchange.CancelOrder: %w", err)
	}
	lb := mb.books[ref.outcome]

	lb.mu.Lock()
	o, removed := lb.ob.RemoveOrder(orderID)
	if removed {
		o.Status = domain.StatusCancelled
		x.ordersMu.Lock()
		delete(x.orders, orderID)
		x.ordersMu.Unlock()
	}
	seq := lb.ob.Sequence()
	lb.mu.Unlock()

	if removed {
		x.metrics.AddResting(-1)
		x.publish(domain.BookDelta{MarketID: ref.marketID, Outcome: ref.outcome, Sequence: seq})
	}
	return removed, nil
}

// CancelAll cancela todas las órdenes de ownerID en un mercado.
func (x *Exchange) CancelAll(ctx context.Context, marketID, ownerID string) (int, error) {
	x.ordersMu.Lock()
	var ids []string
	for id, ref := range x.orders {
		if ref.marketID == marketID && ref.ownerID == ownerID {
			ids = append(ids, id)
		}
	}
	x.ordersMu.Unlock()

	n := 0
	for _, id := range ids {
		ok, err := x.CancelOrder(ctx, id, ownerID)
		if err != nil {
			return n, fmt.Errorf("exchange.CancelAll: %w", err)
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Snapshot devuelve la foto de un libro.
func (x *Exchange) Snapshot(marketID string, outcome domain.Outcome, depth int) (domain.BookSnapshot, error) {
	if !outcome.Valid() {
		return domain.BookSnapshot{}, fmt.Errorf("exchange.Snapshot: outcome %q: %w", outcome, domain.ErrInvalidOrderType)
	}
	mb, err := x.market(marketID)
	if err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("exchange.Snapshot: %w", err)
	}
	lb := mb.books[outcome]
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.ob.Snapshot(depth), nil
}

// GetActiveMarkets implementa ports.MarketDirectory. Ordena por vencimiento.
func (x *Exchange) GetActiveMarkets(_ context.Context, filter domain.MarketFilter) ([]domain.Market, error) {
	x.mu.RLock()
	out := make([]domain.Market, 0, len(x.markets))
	for _, mb := range x.markets {
		if m := mb.snapshot(); filter.Match(m) {
			out = append(out, m)
		}
	}
	x.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ExpiresAt.Before(out[j].ExpiresAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// RestingOrders devuelve cuántas órdenes hay en los libros.
func (x *Exchange) RestingOrders() int {
	x.ordersMu.Lock()
	defer x.ordersMu.Unlock()
	return len(x.orders)
}

func filledSize(fills []domain.Fill) float64 {
	var total float64
	for _, f := range fills {
		total += f.Size
	}
	return total
}
