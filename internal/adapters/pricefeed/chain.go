package pricefeed

import (
	"context"
	"errors"

	"github.com/alejandrodnm/binex/internal/domain"
	"github.com/alejandrodnm/binex/internal/ports"
)

// Chain prueba cada fuente en orden y devuelve el primer precio disponible.
// Se usa como feed push primero, API pull después.
type Chain []ports.PriceSource

// GetPrice implementa ports.PriceSource. Solo devuelve error si todas las
// fuentes fallaron.
func (c Chain) GetPrice(ctx context.Context, asset string) (domain.PriceQuote, bool, error) {
	var errs []error
	for _, src := range c {
		q, ok, err := src.GetPrice(ctx, asset)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			return q, true, nil
		}
	}
	if len(errs) == len(c) && len(errs) > 0 {
		return domain.PriceQuote{}, false, errors.Join(errs...)
	}
	return domain.PriceQuote{}, false, nil
}
