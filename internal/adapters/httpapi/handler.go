// handler.go — API HTTP de entrada de órdenes.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alejandrodnm/binex/internal/domain"
)

// HeaderUserID identifica al dueño de la orden. La verificación de firma
// la hace el gateway delante de este servicio.
const HeaderUserID = "X-User-ID"

const (
	defaultDepth = 10
	maxDepth     = 99
)

// Exchange es lo que el API necesita del core.
type Exchange interface {
	SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)
	CancelOrder(ctx context.Context, orderID, ownerID string) (bool, error)
	Snapshot(marketID string, outcome domain.Outcome, depth int) (domain.BookSnapshot, error)
	GetActiveMarkets(ctx context.Context, filter domain.MarketFilter) ([]domain.Market, error)
	Position(ctx context.Context, userID, marketID string) (domain.Position, error)
}

// Handler agrupa los endpoints /v1.
type Handler struct {
	x Exchange
}

// NewHandler crea el handler.
func NewHandler(x Exchange) *Handler {
	return &Handler{x: x}
}

// RegisterRoutes monta los endpoints en r.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/orders", h.SubmitOrder)
	r.DELETE("/orders/:id", h.CancelOrder)
	r.GET("/markets", h.ListMarkets)
	r.GET("/markets/:id/book", h.GetBook)
	r.GET("/positions/:user/:market", h.GetPosition)
}

// SubmitOrderRequest es el body de POST /v1/orders.
type SubmitOrderRequest struct {
	MarketID      string     `json:"market_id" binding:"required"`
	Side          string     `json:"side" binding:"required"`
	Outcome       string     `json:"outcome" binding:"required"`
	Type          string     `json:"type"`
	Price         float64    `json:"price"`
	Size          float64    `json:"size"`
	DollarAmount  float64    `json:"dollar_amount"`
	MaxPrice      float64    `json:"max_price"`
	MinPrice      float64    `json:"min_price"`
	ClientOrderID string     `json:"client_order_id"`
	ExpiresAt     *time.Time `json:"expires_at"`
}

func (r SubmitOrderRequest) toDomain(owner string) domain.OrderRequest {
	typ := domain.OrderType(strings.ToUpper(r.Type))
	if typ == "" {
		typ = domain.OrderLimit
	}
	req := domain.OrderRequest{
		MarketID:      r.MarketID,
		OwnerID:       owner,
		Side:          domain.Side(strings.ToUpper(r.Side)),
		Outcome:       domain.Outcome(strings.ToUpper(r.Outcome)),
		Type:          typ,
		Price:         r.Price,
		Size:          r.Size,
		DollarAmount:  r.DollarAmount,
		MaxPrice:      r.MaxPrice,
		MinPrice:      r.MinPrice,
		ClientOrderID: r.ClientOrderID,
	}
	if r.ExpiresAt != nil {
		req.ExpiresAt = r.ExpiresAt.UTC()
	}
	return req
}

// FillResponse es un fill en las respuestas.
type FillResponse struct {
	ID        string  `json:"id"`
	Outcome   string  `json:"outcome"`
	Price     float64 `json:"price"`
	Size      float64 `json:"size"`
	MakerSide string  `json:"maker_side"`
	TakerSide string  `json:"taker_side"`
	TakerFee  string  `json:"taker_fee"`
	MakerFee  string  `json:"maker_fee"`
}

// SubmitOrderResponse es la respuesta de POST /v1/orders.
type SubmitOrderResponse struct {
	OrderID         string         `json:"order_id"`
	Status          string         `json:"status"`
	Reason          string         `json:"reason,omitempty"`
	AddedToBook     bool           `json:"added_to_book"`
	SequenceID      int64          `json:"sequence_id"`
	FilledSize      float64        `json:"filled_size"`
	Fills           []FillResponse `json:"fills"`
	TotalSpent      float64        `json:"total_spent,omitempty"`
	TotalContracts  float64        `json:"total_contracts,omitempty"`
	UnfilledDollars float64        `json:"unfilled_dollars,omitempty"`
}

func newSubmitResponse(res domain.OrderResult) SubmitOrderResponse {
	out := SubmitOrderResponse{
		OrderID:         res.OrderID,
		Status:          string(res.Status),
		Reason:          res.Reason(),
		AddedToBook:     res.AddedToBook,
		SequenceID:      res.SequenceID,
		FilledSize:      res.FilledSize(),
		Fills:           make([]FillResponse, 0, len(res.Fills)),
		TotalSpent:      res.TotalSpent,
		TotalContracts:  res.TotalContracts,
		UnfilledDollars: res.UnfilledDollars,
	}
	for _, f := range res.Fills {
		out.Fills = append(out.Fills, FillResponse{
			ID:        f.ID,
			Outcome:   string(f.Outcome),
			Price:     f.Price,
			Size:      f.Size,
			MakerSide: string(f.MakerSide),
			TakerSide: string(f.TakerSide),
			TakerFee:  f.TakerFee.String(),
			MakerFee:  f.MakerFee.String(),
		})
	}
	return out
}

func owner(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.GetHeader(HeaderUserID))
	if id == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing " + HeaderUserID + " header"})
		return "", false
	}
	return id, true
}

// SubmitOrder valida y ejecuta una orden. Los rechazos de matching
// (self-trade, FOK sin liquidez) vuelven 200 con status REJECTED.
func (h *Handler) SubmitOrder(c *gin.Context) {
	user, ok := owner(c)
	if !ok {
		return
	}
	var req SubmitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.x.SubmitOrder(c.Request.Context(), req.toDomain(user))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSubmitResponse(res))
}

// CancelOrder cancela una orden propia.
func (h *Handler) CancelOrder(c *gin.Context) {
	user, ok := owner(c)
	if !ok {
		return
	}
	id := c.Param("id")
	cancelled, err := h.x.CancelOrder(c.Request.Context(), id, user)
	if err != nil {
		writeError(c, err)
		return
	}
	if !cancelled {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not resting", "order_id": id})
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": id, "cancelled": true})
}

// MarketResponse es un mercado en GET /v1/markets.
type MarketResponse struct {
	ID        string    `json:"id"`
	Asset     string    `json:"asset"`
	Strike    float64   `json:"strike"`
	Status    string    `json:"status"`
	Outcome   string    `json:"outcome,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ListMarkets lista mercados. Filtros: ?asset=BTC,ETH&status=OPEN.
func (h *Handler) ListMarkets(c *gin.Context) {
	var filter domain.MarketFilter
	if v := c.Query("asset"); v != "" {
		filter.Assets = strings.Split(strings.ToUpper(v), ",")
	}
	if v := c.Query("status"); v != "" {
		for _, s := range strings.Split(strings.ToUpper(v), ",") {
			filter.Statuses = append(filter.Statuses, domain.MarketStatus(s))
		}
	}

	markets, err := h.x.GetActiveMarkets(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]MarketResponse, 0, len(markets))
	for _, m := range markets {
		out = append(out, MarketResponse{
			ID:        m.ID,
			Asset:     m.Asset,
			Strike:    m.Strike,
			Status:    string(m.Status),
			Outcome:   string(m.Outcome),
			CreatedAt: m.CreatedAt,
			ExpiresAt: m.ExpiresAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"markets": out})
}

// LevelResponse es un nivel del libro.
type LevelResponse struct {
	Price  float64 `json:"price"`
	Size   float64 `json:"size"`
	Total  float64 `json:"total"`
	Orders int     `json:"orders"`
}

// BookResponse es la respuesta de GET /v1/markets/:id/book.
type BookResponse struct {
	MarketID string          `json:"market_id"`
	Outcome  string          `json:"outcome"`
	Sequence int64           `json:"sequence"`
	Bids     []LevelResponse `json:"bids"`
	Asks     []LevelResponse `json:"asks"`
}

func levels(in []domain.BookLevel) []LevelResponse {
	out := make([]LevelResponse, 0, len(in))
	for _, l := range in {
		out = append(out, LevelResponse{Price: l.Price, Size: l.Size, Total: l.Total, Orders: l.Orders})
	}
	return out
}

// GetBook devuelve la foto de un libro. Query: ?outcome=YES&depth=10.
func (h *Handler) GetBook(c *gin.Context) {
	outcome := domain.Outcome(strings.ToUpper(c.DefaultQuery("outcome", string(domain.OutcomeYes))))
	depth := defaultDepth
	if v := c.Query("depth"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "depth must be a positive integer"})
			return
		}
		depth = min(n, maxDepth)
	}

	snap, err := h.x.Snapshot(c.Param("id"), outcome, depth)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, BookResponse{
		MarketID: snap.MarketID,
		Outcome:  string(snap.Outcome),
		Sequence: snap.Sequence,
		Bids:     levels(snap.Bids),
		Asks:     levels(snap.Asks),
	})
}

// GetPosition devuelve la posición de un usuario en un mercado.
func (h *Handler) GetPosition(c *gin.Context) {
	p, err := h.x.Position(c.Request.Context(), c.Param("user"), c.Param("market"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":    p.UserID,
		"market_id":  p.MarketID,
		"yes_shares": p.YesShares,
		"no_shares":  p.NoShares,
		"yes_cost":   p.YesCost,
		"no_cost":    p.NoCost,
	})
}

// writeError traduce los errores del dominio a códigos HTTP.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidPrice),
		errors.Is(err, domain.ErrInvalidSize),
		errors.Is(err, domain.ErrInvalidOrderType),
		errors.Is(err, domain.ErrOrderExpired),
		errors.Is(err, domain.ErrPositionLimit):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrMarketNotFound),
		errors.Is(err, domain.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrMarketNotOpen):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusForbidden
	}
	if status == http.StatusInternalServerError {
		slog.Error("httpapi: request failed", "path", c.FullPath(), "err", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
