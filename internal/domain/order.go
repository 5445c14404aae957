package domain

import (
	"fmt"
	"math"
	"time"
)

// Side del libro.
type Side string

const (
	SideBid Side = "BID"
	SideAsk Side = "ASK"
)

// Opposite devuelve el lado contrario.
func (s Side) Opposite() Side {
	if s == SideBid {
		return SideAsk
	}
	return SideBid
}

// Valid indica si s es BID o ASK.
func (s Side) Valid() bool {
	return s == SideBid || s == SideAsk
}

// Outcome es una de las dos piernas del mercado binario.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// Opposite devuelve la otra pierna.
func (o Outcome) Opposite() Outcome {
	if o == OutcomeYes {
		return OutcomeNo
	}
	return OutcomeYes
}

// Valid indica si o es YES o NO.
func (o Outcome) Valid() bool {
	return o == OutcomeYes || o == OutcomeNo
}

// OrderType define cómo se ejecuta una orden contra el libro.
type OrderType string

const (
	OrderLimit        OrderType = "LIMIT"         // cruza y el resto descansa en el libro
	OrderMarket       OrderType = "MARKET"        // cruza hasta el extremo, el resto se descarta
	OrderIOC          OrderType = "IOC"           // cruza a su precio, el resto se descarta
	OrderFOK          OrderType = "FOK"           // todo o nada
	OrderMarketDollar OrderType = "MARKET_DOLLAR" // compra por presupuesto en USDC
	OrderSell         OrderType = "SELL"          // vende contra bids con precio mínimo
)

// Rests devuelve true si el remanente de la orden puede quedar en el libro.
func (t OrderType) Rests() bool {
	return t == OrderLimit
}

// OrderStatus sigue el ciclo de vida de una orden.
type OrderStatus string

const (
	StatusNew       OrderStatus = "NEW"
	StatusResting   OrderStatus = "RESTING" // en el libro, con o sin fills parciales
	StatusFilled    OrderStatus = "FILLED"
	StatusDiscarded OrderStatus = "PARTIAL_DISCARDED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusExpired   OrderStatus = "EXPIRED"
	StatusRejected  OrderStatus = "REJECTED"
)

// Límites de precio y tamaño del exchange.
const (
	MinPrice        = 0.01
	MaxPrice        = 0.99
	TickSize        = 0.01
	MinOrderSize    = 0.01
	MaxOrderSize    = 100_000.0
	MaxPositionSize = 500_000.0

	// SizeEpsilon: por debajo de esto un remanente se considera cero.
	SizeEpsilon = 1e-9
)

// PriceToTick convierte un precio a ticks de $0.01.
func PriceToTick(p float64) int {
	return int(math.Round(p * 100))
}

// TickToPrice es la inversa de PriceToTick.
func TickToPrice(t int) float64 {
	return float64(t) / 100
}

// ValidPrice: dentro de [0.01, 0.99] y sobre la grilla de centavos.
func ValidPrice(p float64) bool {
	if math.IsNaN(p) || p < MinPrice-1e-9 || p > MaxPrice+1e-9 {
		return false
	}
	return math.Abs(p*100-math.Round(p*100)) < 1e-6
}

// RoundPrice redondea al centavo más cercano.
func RoundPrice(p float64) float64 {
	return math.Round(p*100) / 100
}

// RoundShares redondea a 6 decimales (unidad mínima de USDC y shares).
func RoundShares(x float64) float64 {
	return math.Round(x*1e6) / 1e6
}

// Order es una orden en el exchange. Para MARKET el precio es el extremo
// protector (0.99 para BID, 0.01 para ASK).
type Order struct {
	ID            string
	MarketID      string
	OwnerID       string
	Side          Side
	Outcome       Outcome
	Type          OrderType
	Price         float64
	Size          float64
	Remaining     float64
	DollarAmount  float64 // solo MARKET_DOLLAR
	MaxPrice      float64 // solo MARKET_DOLLAR
	MinPrice      float64 // solo SELL
	ClientOrderID string
	CreatedAt     time.Time
	ExpiresAt     time.Time // zero = sin vencimiento
	Status        OrderStatus
}

// Filled devuelve lo ejecutado hasta ahora.
func (o *Order) Filled() float64 {
	return RoundShares(o.Size - o.Remaining)
}

// Expired indica si la orden tiene vencimiento y ya pasó.
func (o *Order) Expired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && !now.Before(o.ExpiresAt)
}

// OrderRequest es lo que un cliente (o el market maker) envía al exchange.
type OrderRequest struct {
	MarketID      string
	OwnerID       string
	Side          Side
	Outcome       Outcome
	Type          OrderType
	Price         float64
	Size          float64
	DollarAmount  float64
	MaxPrice      float64
	MinPrice      float64
	ClientOrderID string
	ExpiresAt     time.Time
}

// Validate comprueba la petición antes de tocar ningún estado.
func (r OrderRequest) Validate(now time.Time) error {
	if r.MarketID == "" || r.OwnerID == "" {
		return fmt.Errorf("missing market or owner: %w", ErrInvalidOrderType)
	}
	if !r.Side.Valid() || !r.Outcome.Valid() {
		return fmt.Errorf("side %q outcome %q: %w", r.Side, r.Outcome, ErrInvalidOrderType)
	}
	if !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt) {
		return ErrOrderExpired
	}

	switch r.Type {
	case OrderLimit, OrderIOC, OrderFOK:
		if !ValidPrice(r.Price) {
			return fmt.Errorf("price %.4f: %w", r.Price, ErrInvalidPrice)
		}
		return validSize(r.Size)
	case OrderMarket:
		return validSize(r.Size)
	case OrderMarketDollar:
		if r.Side != SideBid {
			return fmt.Errorf("dollar orders buy: %w", ErrInvalidOrderType)
		}
		if r.DollarAmount <= 0 || math.IsNaN(r.DollarAmount) {
			return fmt.Errorf("dollar amount %.6f: %w", r.DollarAmount, ErrInvalidSize)
		}
		if r.MaxPrice != 0 && !ValidPrice(r.MaxPrice) {
			return fmt.Errorf("max price %.4f: %w", r.MaxPrice, ErrInvalidPrice)
		}
		return nil
	case OrderSell:
		if r.Side != SideAsk {
			return fmt.Errorf("sell orders sell: %w", ErrInvalidOrderType)
		}
		if r.MinPrice != 0 && !ValidPrice(r.MinPrice) {
			return fmt.Errorf("min price %.4f: %w", r.MinPrice, ErrInvalidPrice)
		}
		return validSize(r.Size)
	default:
		return fmt.Errorf("type %q: %w", r.Type, ErrInvalidOrderType)
	}
}

func validSize(size float64) error {
	if math.IsNaN(size) || size < MinOrderSize || size > MaxOrderSize {
		return fmt.Errorf("size %.6f: %w", size, ErrInvalidSize)
	}
	return nil
}

// NewOrder construye la orden a partir de una petición ya validada.
// Aplica los precios por defecto de cada tipo.
func NewOrder(id string, r OrderRequest, now time.Time) *Order {
	o := &Order{
		ID:            id,
		MarketID:      r.MarketID,
		OwnerID:       r.OwnerID,
		Side:          r.Side,
		Outcome:       r.Outcome,
		Type:          r.Type,
		Price:         RoundPrice(r.Price),
		Size:          r.Size,
		Remaining:     r.Size,
		DollarAmount:  r.DollarAmount,
		MaxPrice:      r.MaxPrice,
		MinPrice:      r.MinPrice,
		ClientOrderID: r.ClientOrderID,
		CreatedAt:     now,
		ExpiresAt:     r.ExpiresAt,
		Status:        StatusNew,
	}
	switch r.Type {
	case OrderMarket:
		if r.Side == SideBid {
			o.Price = MaxPrice
		} else {
			o.Price = MinPrice
		}
	case OrderMarketDollar:
		if o.MaxPrice == 0 {
			o.MaxPrice = MaxPrice
		}
		o.Price = o.MaxPrice
		o.Size, o.Remaining = 0, 0
	case OrderSell:
		if o.MinPrice == 0 {
			o.MinPrice = MinPrice
		}
		o.Price = o.MinPrice
	}
	return o
}

// OrderResult es la respuesta de SubmitOrder.
// Reject es nil salvo que Status sea REJECTED (self-trade, FOK sin liquidez).
type OrderResult struct {
	OrderID         string
	Status          OrderStatus
	Reject          error
	Fills           []Fill
	AddedToBook     bool
	SequenceID      int64
	TotalSpent      float64 // MARKET_DOLLAR
	TotalContracts  float64 // MARKET_DOLLAR
	UnfilledDollars float64 // MARKET_DOLLAR
}

// Reason devuelve el motivo de rechazo como texto (vacío si no hubo).
func (r OrderResult) Reason() string {
	if r.Reject == nil {
		return ""
	}
	return r.Reject.Error()
}

// FilledSize suma el tamaño de todos los fills.
func (r OrderResult) FilledSize() float64 {
	var total float64
	for _, f := range r.Fills {
		total += f.Size
	}
	return RoundShares(total)
}
