package platform

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/alejandrodnm/binex/internal/domain"
)

// GetActiveMarkets implementa ports.MarketDirectory contra GET /v1/markets.
// El filtro se manda como query y se vuelve a aplicar en local.
func (c *Client) GetActiveMarkets(ctx context.Context, filter domain.MarketFilter) ([]domain.Market, error) {
	q := url.Values{}
	if len(filter.Assets) > 0 {
		q.Set("assets", strings.Join(filter.Assets, ","))
	}
	if len(filter.Statuses) > 0 {
		ss := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			ss[i] = string(s)
		}
		q.Set("status", strings.Join(ss, ","))
	}
	path := "/v1/markets"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}

	var resp marketsResponse
	if err := c.get(ctx, c.readLimiter, path, &resp); err != nil {
		return nil, fmt.Errorf("platform.GetActiveMarkets: %w", err)
	}

	all := mapMarkets(resp.Data)
	out := all[:0]
	for _, m := range all {
		if filter.Match(m) {
			out = append(out, m)
		}
	}
	return out, nil
}
