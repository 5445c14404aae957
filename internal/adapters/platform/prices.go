package platform

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/alejandrodnm/binex/internal/domain"
)

// GetPrice implementa ports.PriceSource contra GET /v1/prices/:asset.
// Un 404 significa que la plataforma no tiene precio: ok=false sin error.
func (c *Client) GetPrice(ctx context.Context, asset string) (domain.PriceQuote, bool, error) {
	var dto priceDTO
	err := c.get(ctx, c.readLimiter, "/v1/prices/"+url.PathEscape(strings.ToUpper(asset)), &dto)
	if isNotFound(err) {
		return domain.PriceQuote{}, false, nil
	}
	if err != nil {
		return domain.PriceQuote{}, false, fmt.Errorf("platform.GetPrice: %s: %w", asset, err)
	}

	price, err := dto.Price.Float64()
	if err != nil || price <= 0 {
		return domain.PriceQuote{}, false, nil
	}
	ts := c.now()
	if dto.Timestamp > 0 {
		ts = time.UnixMilli(dto.Timestamp).UTC()
	}
	return domain.PriceQuote{Asset: strings.ToUpper(asset), Price: price, Timestamp: ts}, true, nil
}
