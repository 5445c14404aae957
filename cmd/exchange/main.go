package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/binex/config"
	"github.com/alejandrodnm/binex/internal/adapters/httpapi"
	"github.com/alejandrodnm/binex/internal/adapters/notify"
	"github.com/alejandrodnm/binex/internal/adapters/platform"
	"github.com/alejandrodnm/binex/internal/adapters/pricefeed"
	"github.com/alejandrodnm/binex/internal/adapters/storage"
	"github.com/alejandrodnm/binex/internal/domain"
	"github.com/alejandrodnm/binex/internal/exchange"
	"github.com/alejandrodnm/binex/internal/marketmaker"
	"github.com/alejandrodnm/binex/internal/matching"
	"github.com/alejandrodnm/binex/internal/metrics"
	"github.com/alejandrodnm/binex/internal/ports"
	"github.com/alejandrodnm/binex/internal/settlement"
)

// store es lo que necesitan el exchange (journal) y el outbox.
type store interface {
	ports.TradeStore
	ports.IntentStore
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	dryRun := flag.Bool("dry-run", false, "log settlements instead of calling the relayer, in-memory storage")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	noMM := flag.Bool("no-mm", false, "run the exchange without the market maker")
	report := flag.Duration("report", 10*time.Second, "market maker report interval (0 disables)")
	table := flag.Bool("table", false, "print full tables in reports (default: compact 1-line)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("binex starting",
		"config", *configPath,
		"dry_run", *dryRun,
		"mm", !*noMM,
		"http", cfg.HTTP.Addr,
		"storage", cfg.Storage.Driver,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *dryRun, *noMM, *report, *table); err != nil {
		slog.Error("binex exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("binex stopped")
}

func run(ctx context.Context, cfg *config.Config, dryRun, noMM bool, reportEvery time.Duration, table bool) error {
	m := metrics.New()

	st, err := openStore(ctx, cfg.Storage, dryRun)
	if err != nil {
		return err
	}
	defer st.Close()

	client, err := newPlatformClient(cfg.API)
	if err != nil {
		return err
	}

	var dispatcher ports.SettlementDispatcher = client
	if dryRun {
		dispatcher = settlement.LogDispatcher{}
	}
	outbox := settlement.New(settlement.Config{
		Workers:         cfg.Settlement.Workers,
		Buffer:          cfg.Settlement.Buffer,
		MaxAttempts:     cfg.Settlement.MaxAttempts,
		RetryBaseWait:   cfg.Settlement.RetryBaseWait,
		RetryMaxWait:    cfg.Settlement.RetryMaxWait,
		RedriveInterval: cfg.Settlement.RedriveInterval,
		RedriveBatch:    cfg.Settlement.RedriveBatch,
	}, dispatcher, st, m)

	mmCfg := cfg.MMConfig()
	x := exchange.New(exchange.Config{
		Fees:          matching.FeeSchedule{MakerBps: cfg.Exchange.MakerFeeBps, TakerBps: cfg.Exchange.TakerFeeBps},
		MarketMakerID: mmCfg.UserID,
		SweepInterval: cfg.Exchange.SweepInterval,
		JournalBuffer: cfg.Exchange.JournalBuffer,
	}, exchange.WithSettlement(outbox), exchange.WithStore(st), exchange.WithMetrics(m))

	for _, mc := range cfg.Markets {
		now := time.Now()
		err := x.RegisterMarket(domain.Market{
			ID: mc.ID, Asset: mc.Asset, Strike: mc.Strike,
			CreatedAt: now, ExpiresAt: now.Add(mc.ExpiresIn),
		})
		if err != nil {
			return err
		}
	}

	var ctrl *marketmaker.Controller
	publish := func(ev domain.Event) {
		if ctrl != nil {
			ctrl.Publish(ev)
		}
	}
	feed := pricefeed.New(pricefeed.Config{URL: cfg.API.PriceFeedURL, Assets: mmCfg.Assets}, publish)

	if !noMM {
		// el feed primero; el REST de la plataforma sólo si el stream no tiene precio
		ctrl = marketmaker.New(mmCfg, marketmaker.Deps{
			Markets:   x,
			Prices:    pricefeed.Chain{feed, client},
			Orders:    x,
			Positions: x,
			Books:     x,
			Reporter:  notify.NewConsole(table),
			Metrics:   m,
		})
		x.Subscribe(publish)
	}

	srv := httpapi.NewServer(cfg.HTTP.Addr, httpapi.NewRouter(x, m))
	importer := newMarketImporter(client, x, mmCfg.Assets)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return x.Run(gctx) })
	g.Go(func() error { return outbox.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error {
		err := feed.Run(gctx)
		if errors.Is(err, pricefeed.ErrGaveUp) {
			// sin stream el MM sigue con el REST de la plataforma
			slog.Error("pricefeed: stream unavailable, using REST prices", "err", err)
			return nil
		}
		return err
	})
	if !dryRun {
		g.Go(func() error { return importer.Run(gctx, mmCfg.MarketSyncInterval) })
	}

	if ctrl != nil {
		if err := ctrl.Start(gctx); err != nil {
			return err
		}
		if reportEvery > 0 {
			g.Go(func() error { return reportLoop(gctx, ctrl, reportEvery) })
		}
	}

	err = g.Wait()

	if ctrl != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if serr := ctrl.Stop(stopCtx); serr != nil {
			slog.Warn("mm: stop left quotes behind", "err", serr)
		}
	}
	slog.Info("exchange: shutdown", "fees_collected", x.FeesCollected().String(), "resting", x.RestingOrders())
	return err
}

func openStore(ctx context.Context, cfg config.StorageConfig, dryRun bool) (store, error) {
	if dryRun {
		return storage.NewSQLiteStorage(":memory:")
	}
	if cfg.Driver == "postgres" {
		return storage.NewPostgresStorage(ctx, cfg.DSN)
	}
	return storage.NewSQLiteStorage(cfg.DSN)
}

func newPlatformClient(cfg config.APIConfig) (*platform.Client, error) {
	var opts []platform.Option
	if cfg.OperatorKey != "" {
		signer, err := platform.NewSigner(cfg.OperatorKey)
		if err != nil {
			return nil, err
		}
		slog.Info("platform: operator signer loaded", "address", signer.Address())
		opts = append(opts, platform.WithSigner(signer))
	}
	return platform.NewClient(cfg.PlatformBase, opts...), nil
}

func reportLoop(ctx context.Context, ctrl *marketmaker.Controller, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := ctrl.Report(ctx); err != nil {
				slog.Warn("mm: report failed", "err", err)
			}
		}
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
