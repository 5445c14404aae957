// markets.go — importa el directorio de mercados de la plataforma al exchange.
package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/alejandrodnm/binex/internal/domain"
	"github.com/alejandrodnm/binex/internal/ports"
)

// marketRegistry es la parte del exchange que toca el importer.
type marketRegistry interface {
	RegisterMarket(m domain.Market) error
	ActivateMarket(id string, strike float64) error
}

type marketImporter struct {
	source   ports.MarketDirectory
	registry marketRegistry
	filter   domain.MarketFilter
	known    map[string]bool // id -> strike fijado
}

func newMarketImporter(source ports.MarketDirectory, registry marketRegistry, assets []string) *marketImporter {
	return &marketImporter{
		source:   source,
		registry: registry,
		filter: domain.MarketFilter{
			Assets:   assets,
			Statuses: []domain.MarketStatus{domain.MarketPending, domain.MarketOpen},
		},
		known: make(map[string]bool),
	}
}

// Run importa al arrancar y luego cada interval.
func (im *marketImporter) Run(ctx context.Context, interval time.Duration) error {
	im.sync(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			im.sync(ctx)
		}
	}
}

// sync registra mercados nuevos y activa los que recibieron strike.
// Devuelve cuántos mercados cambiaron.
func (im *marketImporter) sync(ctx context.Context) int {
	markets, err := im.source.GetActiveMarkets(ctx, im.filter)
	if err != nil {
		slog.Warn("markets: platform directory unavailable", "err", err)
		return 0
	}

	changed := 0
	for _, m := range markets {
		active, seen := im.known[m.ID]
		switch {
		case !seen:
			if err := im.registry.RegisterMarket(m); err != nil {
				slog.Warn("markets: register failed", "market", m.ID, "err", err)
				continue
			}
			im.known[m.ID] = m.StrikeSet()
			changed++
		case !active && m.StrikeSet():
			if err := im.registry.ActivateMarket(m.ID, m.Strike); err != nil {
				slog.Warn("markets: activate failed", "market", m.ID, "err", err)
				continue
			}
			im.known[m.ID] = true
			changed++
		}
	}
	if changed > 0 {
		slog.Info("markets: imported from platform", "changed", changed, "listed", len(markets))
	}
	return changed
}
