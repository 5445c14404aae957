// message.go — mensajes del stream. Unión cerrada por "kind".
package pricefeed

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alejandrodnm/binex/internal/domain"
)

const (
	kindPriceTick  = "price_tick"
	kindFill       = "fill"
	kindBookDelta  = "orderbook_delta"
	kindHeartbeat  = "heartbeat"
	kindSubscribed = "subscribed"
	kindError      = "error"
)

var (
	// ErrUnknownKind es un mensaje con un kind que no está en la unión.
	ErrUnknownKind = errors.New("unknown message kind")

	// ErrServer es un mensaje kind=error del servidor.
	ErrServer = errors.New("server error message")
)

// envelope cubre todos los kinds; cada uno usa un subconjunto de campos.
type envelope struct {
	Kind     string      `json:"kind"`
	Asset    string      `json:"asset,omitempty"`
	Price    json.Number `json:"price,omitempty"`
	TS       int64       `json:"ts,omitempty"` // unix ms
	MarketID string      `json:"market_id,omitempty"`
	Outcome  string      `json:"outcome,omitempty"`
	Sequence int64       `json:"sequence,omitempty"`
	Fill     *fillDTO    `json:"fill,omitempty"`
	Message  string      `json:"message,omitempty"`
}

type fillDTO struct {
	ID           string      `json:"id"`
	MarketID     string      `json:"market_id"`
	Outcome      string      `json:"outcome"`
	MakerOrderID string      `json:"maker_order_id"`
	TakerOrderID string      `json:"taker_order_id"`
	MakerUserID  string      `json:"maker_user_id"`
	TakerUserID  string      `json:"taker_user_id"`
	MakerSide    string      `json:"maker_side"`
	TakerSide    string      `json:"taker_side"`
	Price        json.Number `json:"price"`
	Size         json.Number `json:"size"`
}

// subscribeRequest es lo primero que se manda al conectar.
type subscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
	Assets   []string `json:"assets,omitempty"`
}

// decode convierte un frame en un evento. Devuelve (nil, nil) para los kinds
// de control (heartbeat, subscribed).
func decode(data []byte) (domain.Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	switch env.Kind {
	case kindPriceTick:
		price, err := env.Price.Float64()
		if err != nil || price <= 0 || env.Asset == "" {
			return nil, fmt.Errorf("decode: bad price_tick %q/%q", env.Asset, env.Price)
		}
		return domain.PriceTick{
			Asset:     strings.ToUpper(env.Asset),
			Price:     price,
			Timestamp: millis(env.TS),
		}, nil

	case kindFill:
		if env.Fill == nil {
			return nil, errors.New("decode: fill without payload")
		}
		f, err := env.Fill.toDomain(millis(env.TS))
		if err != nil {
			return nil, err
		}
		return domain.FillEvent{Fill: f}, nil

	case kindBookDelta:
		return domain.BookDelta{
			MarketID: env.MarketID,
			Outcome:  domain.Outcome(strings.ToUpper(env.Outcome)),
			Sequence: env.Sequence,
		}, nil

	case kindHeartbeat, kindSubscribed:
		return nil, nil

	case kindError:
		return nil, fmt.Errorf("%w: %s", ErrServer, env.Message)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
}

func (d fillDTO) toDomain(ts time.Time) (domain.Fill, error) {
	price, err := d.Price.Float64()
	if err != nil {
		return domain.Fill{}, fmt.Errorf("decode: fill %s price: %w", d.ID, err)
	}
	size, err := d.Size.Float64()
	if err != nil {
		return domain.Fill{}, fmt.Errorf("decode: fill %s size: %w", d.ID, err)
	}
	return domain.Fill{
		ID:           d.ID,
		MarketID:     d.MarketID,
		Outcome:      domain.Outcome(strings.ToUpper(d.Outcome)),
		MakerOrderID: d.MakerOrderID,
		TakerOrderID: d.TakerOrderID,
		MakerUserID:  d.MakerUserID,
		TakerUserID:  d.TakerUserID,
		MakerSide:    domain.Side(strings.ToUpper(d.MakerSide)),
		TakerSide:    domain.Side(strings.ToUpper(d.TakerSide)),
		Price:        price,
		Size:         size,
		CreatedAt:    ts,
	}, nil
}

func millis(ms int64) time.Time {
	if ms <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(ms).UTC()
}
