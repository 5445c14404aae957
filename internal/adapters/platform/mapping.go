package platform

import (
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/binex/internal/domain"
)

// mapMarkets convierte los DTOs a domain.Market, descartando los que no parsean.
func mapMarkets(raw []marketDTO) []domain.Market {
	markets := make([]domain.Market, 0, len(raw))
	for _, r := range raw {
		m, ok := mapMarket(r)
		if !ok {
			continue
		}
		markets = append(markets, m)
	}
	return markets
}

// mapMarket convierte un marketDTO. ok=false si falta el ID o la expiración.
func mapMarket(r marketDTO) (domain.Market, bool) {
	expires, ok := parseTime(r.ExpiresAt)
	if r.ID == "" || !ok {
		return domain.Market{}, false
	}
	created, _ := parseTime(r.CreatedAt)

	m := domain.Market{
		ID:        r.ID,
		Asset:     strings.ToUpper(r.Asset),
		CreatedAt: created,
		ExpiresAt: expires,
		Status:    domain.MarketStatus(strings.ToUpper(r.Status)),
		Outcome:   domain.Outcome(strings.ToUpper(r.Outcome)),
	}
	if v, err := r.Strike.Float64(); err == nil {
		m.Strike = v
	}
	if m.Status == "" {
		m.Status = domain.MarketOpen
	}
	if !m.StrikeSet() && m.Status == domain.MarketOpen {
		m.Status = domain.MarketPending
	}
	return m, true
}

// parseTime acepta RFC3339 (con o sin milisegundos) o unix en segundos.
func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.000Z",
		"2006-01-02T15:04:05Z",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), true
	}
	return time.Time{}, false
}
