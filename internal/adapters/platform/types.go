package platform

import "encoding/json"

// DTOs raw del API de la plataforma. Solo se usan dentro de este paquete.
// La conversión a domain entities se hace en mapping.go.

// marketsResponse es la respuesta de GET /v1/markets.
type marketsResponse struct {
	Data []marketDTO `json:"data"`
}

// marketDTO es un mercado tal como lo sirve el API. Los números llegan como
// string o número según el endpoint.
type marketDTO struct {
	ID        string      `json:"id"`
	Asset     string      `json:"asset"`
	Strike    json.Number `json:"strike"`
	CreatedAt string      `json:"created_at"`
	ExpiresAt string      `json:"expires_at"`
	Status    string      `json:"status"`
	Outcome   string      `json:"outcome,omitempty"`
}

// priceDTO es la respuesta de GET /v1/prices/:asset.
type priceDTO struct {
	Asset     string      `json:"asset"`
	Price     json.Number `json:"price"`
	Timestamp int64       `json:"ts"` // unix ms
}

// matchRequest es el body de POST /v1/settlement/match.
type matchRequest struct {
	FillID    string `json:"fill_id"`
	MarketRef string `json:"market_ref"`
	Outcome   string `json:"outcome"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	MakerFee  string `json:"maker_fee"`
	TakerFee  string `json:"taker_fee"`
	Maker     string `json:"maker"`
	Taker     string `json:"taker"`
}

// closeRequest es el body de POST /v1/settlement/close.
type closeRequest struct {
	FillID    string `json:"fill_id"`
	MarketRef string `json:"market_ref"`
	Outcome   string `json:"outcome"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Buyer     string `json:"buyer"`
	Seller    string `json:"seller"`
}

// settlementResponse es la respuesta del relayer.
type settlementResponse struct {
	TxRef  string `json:"tx_ref"`
	Status string `json:"status"`
}
