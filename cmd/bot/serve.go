package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grafana/pyroscope-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_bot/internal/config"
	"github.com/vitos/crypto_trade_bot/internal/domain"
	"github.com/vitos/crypto_trade_bot/internal/hub"
	"github.com/vitos/crypto_trade_bot/internal/infrastructure/broker"
	"github.com/vitos/crypto_trade_bot/internal/infrastructure/cache"
	"github.com/vitos/crypto_trade_bot/internal/infrastructure/events"
	"github.com/vitos/crypto_trade_bot/internal/infrastructure/logger"
	"github.com/vitos/crypto_trade_bot/internal/infrastructure/simulator"
	"github.com/vitos/crypto_trade_bot/internal/infrastructure/storage"
	"github.com/vitos/crypto_trade_bot/internal/strategy"
	"github.com/vitos/crypto_trade_bot/internal/usecase"
	"github.com/vitos/crypto_trade_bot/internal/web"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the trading bot and the dashboard server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func serve(cfg *config.Config) error {
	log, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.Encoding)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Profiling.ServerAddress != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "crypto_trade_bot",
			ServerAddress:   cfg.Profiling.ServerAddress,
			Logger:          log.Sugar(),
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseSpace,
				pyroscope.ProfileInuseObjects,
			},
		})
		if err != nil {
			log.Error("Failed to start profiler", zap.Error(err))
		} else {
			defer func() { _ = profiler.Stop() }()
		}
	}

	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("init sqlite: %w", err)
	}
	defer store.Close()

	accounts, err := cache.NewAccountCache(cfg.Broker.AccountCacheTTL)
	if err != nil {
		return fmt.Errorf("init account cache: %w", err)
	}
	defer accounts.Close()

	var sink domain.EventSink = events.NopSink{}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink := events.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		defer kafkaSink.Close()
		sink = kafkaSink
		log.Info("Publishing events to Kafka", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	sessions := hub.New(log)
	market := usecase.NewMarketCache(cfg.MarketData.HistorySize)
	registry := strategy.NewRegistry()
	resolver := usecase.NewBrokerResolver(store, broker.NewFactory(cfg.Broker, market))
	journal := usecase.NewJournal(store, sessions, log)

	coordinator := usecase.NewSignalCoordinator(cfg.Trading, store, store, accounts, journal, sink, log)
	scheduler := usecase.NewBotScheduler(cfg.Scheduler, usecase.NewRealTicker, resolver, store, accounts, sessions, journal, log)
	pipeline := usecase.NewUpdatePipeline(market, sessions, sessions, store, resolver, registry, coordinator, scheduler, journal, sink, log, cfg.MarketData.RecentWindow)
	service := usecase.NewBotService(store, resolver, scheduler, pipeline, registry, market, sessions, journal, log)

	feed, err := newFeed(cfg.MarketData, log)
	if err != nil {
		return err
	}
	feed.OnTick(func(tick domain.Tick) {
		pipeline.Dispatch(ctx, tick)
	})
	if err := feed.Subscribe(cfg.MarketData.Symbols); err != nil {
		return fmt.Errorf("subscribe feed: %w", err)
	}

	feedErr := make(chan error, 1)
	go func() {
		feedErr <- feed.Run(ctx)
	}()

	resumed, err := service.ResumeActive(ctx)
	if err != nil {
		log.Error("Failed to resume active bots", zap.Error(err))
	}
	log.Info("Bots resumed", zap.Int("count", resumed))

	server := web.NewServer(cfg.Server.Port, service, sessions, cfg.Server.WriteTimeout, log)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			log.Error("Server failed", zap.Error(err))
		}
	case err := <-feedErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Market feed stopped", zap.Error(err))
		}
	}
	stop()

	log.Info("Shutting down...")
	service.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
	return nil
}

func newFeed(cfg config.MarketDataConfig, log *zap.Logger) (domain.MarketFeed, error) {
	switch cfg.Source {
	case "simulator":
		log.Info("Using simulated market feed", zap.Duration("interval", cfg.SimulatorInterval))
		return simulator.NewFeed(cfg.SimulatorInterval, time.Now().UnixNano()), nil
	case "broker":
		if cfg.APIKey == "" || cfg.APISecret == "" {
			return nil, errors.New("market_data.api_key and api_secret are required for the broker feed")
		}
		log.Info("Using broker market stream", zap.String("endpoint", cfg.WSEndpoint))
		return broker.NewAlpacaStream(cfg.APIKey, cfg.APISecret, cfg.WSEndpoint, log), nil
	default:
		return nil, fmt.Errorf("unknown market data source %q", cfg.Source)
	}
}
