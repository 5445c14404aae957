// relayer.go — settlement de fills a través del relayer de la plataforma.
package platform

import (
	"context"
	"fmt"
	"strconv"

	"github.com/alejandrodnm/binex/internal/domain"
)

// ExecuteMatch implementa ports.SettlementDispatcher (apertura: mint contra colateral).
func (c *Client) ExecuteMatch(ctx context.Context, fill domain.Fill, marketRef, makerAddr, takerAddr string) (domain.SettlementResult, error) {
	body := matchRequest{
		FillID:    fill.ID,
		MarketRef: marketRef,
		Outcome:   string(fill.Outcome),
		Price:     formatNum(fill.Price),
		Size:      formatNum(fill.Size),
		MakerFee:  fill.MakerFee.String(),
		TakerFee:  fill.TakerFee.String(),
		Maker:     makerAddr,
		Taker:     takerAddr,
	}
	var resp settlementResponse
	if err := c.post(ctx, c.settleLimiter, "/v1/settlement/match", "match:"+fill.ID, body, &resp); err != nil {
		return domain.SettlementResult{}, fmt.Errorf("platform.ExecuteMatch: fill %s: %w", fill.ID, err)
	}
	return domain.SettlementResult{TxRef: resp.TxRef, Status: resp.Status}, nil
}

// ExecuteClose implementa ports.SettlementDispatcher (cierre: transferencia de shares).
func (c *Client) ExecuteClose(ctx context.Context, fill domain.Fill, marketRef, buyerAddr, sellerAddr string) (domain.SettlementResult, error) {
	body := closeRequest{
		FillID:    fill.ID,
		MarketRef: marketRef,
		Outcome:   string(fill.Outcome),
		Price:     formatNum(fill.Price),
		Size:      formatNum(fill.Size),
		Buyer:     buyerAddr,
		Seller:    sellerAddr,
	}
	var resp settlementResponse
	if err := c.post(ctx, c.settleLimiter, "/v1/settlement/close", "close:"+fill.ID, body, &resp); err != nil {
		return domain.SettlementResult{}, fmt.Errorf("platform.ExecuteClose: fill %s: %w", fill.ID, err)
	}
	return domain.SettlementResult{TxRef: resp.TxRef, Status: resp.Status}, nil
}

func formatNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
