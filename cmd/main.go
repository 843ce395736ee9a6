package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"MarketDesk/api"
	"MarketDesk/internal/cache"
	"MarketDesk/internal/candle"
	"MarketDesk/internal/config"
	"MarketDesk/internal/core"
	"MarketDesk/internal/dispatch"
	"MarketDesk/internal/feed"
	"MarketDesk/internal/mock"
	"MarketDesk/internal/model"
	"MarketDesk/internal/service"
	"MarketDesk/internal/sim"
	"MarketDesk/internal/store"
	"MarketDesk/internal/wallet"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("service exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	symbols := cfg.SymbolList()
	timeframes := cfg.TimeframeList()

	// Core state.
	prices := cache.NewMemory()
	dispatcher := dispatch.New(logger)

	// Optional session journal.
	var journal *store.Journal
	if cfg.Postgres.Enabled {
		var err error
		journal, err = store.NewJournal(cfg.Postgres)
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		defer journal.Close()
		logger.Info("session journal enabled", "database", cfg.Postgres.Database)
	}

	emit := func(c model.Candle) {
		dispatcher.Candles.Broadcast(c)
		if journal != nil {
			if err := journal.SaveCandles(ctx, []model.Candle{c}); err != nil {
				logger.Warn("journal candle write failed", "error", err)
			}
		}
	}
	aggregator := candle.NewAggregator(timeframes, cfg.History.MaxCandles, emit, logger)

	ledger := wallet.NewLedger(cfg.StartingCash(), prices)
	notify := func(o model.Order) {
		dispatcher.Orders.Broadcast(o)
		dispatcher.Wallet.Broadcast(ledger.Snapshot())
		if journal != nil && o.Status != model.OrderPending {
			if err := journal.SaveOrder(ctx, o); err != nil {
				logger.Warn("journal order write failed", "order_id", o.ID, "error", err)
			}
		}
	}
	simulator := sim.NewSimulator(symbols, prices, ledger, notify, logger)

	// Optional shared price mirror.
	var mirror core.Mirror
	if cfg.Redis.Enabled {
		redisMirror, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			return fmt.Errorf("price mirror: %w", err)
		}
		defer redisMirror.Close()
		mirror = redisMirror
		logger.Info("price mirror enabled", "addr", cfg.Redis.Addr)
	}

	pipeline := core.NewPipeline(
		prices, aggregator, simulator, dispatcher, mirror,
		timeframes, cfg.Feed.BootstrapLimit, symbols[0], logger,
	)

	// Feed: real websocket stream with REST bootstrap, or the built-in
	// generator when running offline.
	var dialer feed.Dialer
	var bootstrap core.Bootstrapper
	if cfg.Feed.Mock {
		generator := mock.NewTickGenerator(mock.DefaultGeneratorConfig())
		dialer = generator
		bootstrap = generator
		logger.Info("running with mock feed")
	} else {
		dialer = feed.NewWSDialer(cfg.Feed.StreamURL, logger)
		bootstrap = feed.NewBootstrapClient(cfg.Feed.RESTURL)
	}

	pipeline.Bootstrap(ctx, bootstrap, symbols)

	source := feed.NewSource(dialer, cfg.Feed.MaxBackoff.Std(), pipeline.ReconnectHook(bootstrap), logger)
	for _, sym := range symbols {
		source.Subscribe(ctx, sym)
	}

	pipelineDone := make(chan struct{})
	go func() {
		pipeline.Run(ctx, source.Ticks())
		close(pipelineDone)
	}()

	// API server.
	marketService := service.NewMarketService(
		symbols, timeframes, aggregator, prices, simulator, ledger, pipeline,
	)
	apiHandler := api.NewAPIHandler(marketService, logger)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "port", cfg.Server.Port)
		serverErr <- apiHandler.StartServer(cfg.Server.Port)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	}

	// Shutdown order: stop the feed first so the tick channel drains and
	// closes, wait for the pipeline, then drop the subscribers.
	cancel()
	source.Close()
	<-pipelineDone
	dispatcher.Close()

	logger.Info("shutdown complete", "ticks_processed", pipeline.TicksProcessed())
	return nil
}
