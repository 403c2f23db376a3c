package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/prometheus/client_golang/prometheus"

	"market-snapshot/internal/api"
	"market-snapshot/internal/cache"
	"market-snapshot/internal/config"
	"market-snapshot/internal/forecast"
	"market-snapshot/internal/logging"
	"market-snapshot/internal/market"
	"market-snapshot/internal/metrics"
	"market-snapshot/internal/news"
	"market-snapshot/internal/snapshot"
)

func main() {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "configs/app.yaml"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		path = ""
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LoggingConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}

	rec := metrics.New(prometheus.DefaultRegisterer)

	registry, err := buildProviders(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("provider setup failed")
	}

	fc, err := forecast.New(cfg.ForecastClientConfig(),
		forecast.WithLogger(logger.With().Str("component", "forecast").Logger()),
		forecast.WithObserver(rec),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("forecast setup failed")
	}
	if cfg.Forecast.Enabled && cfg.Forecast.APIKey == "" {
		logger.Warn().Str("provider", cfg.Forecast.Provider).Msg("forecast enabled without api key; snapshots will carry no_credential")
	}

	agg := snapshot.New(registry,
		news.NewReader(cfg.News.Timeout, logger.With().Str("component", "news").Logger()),
		snapshot.WithForecaster(fc),
		snapshot.WithCache(cache.New(cache.WithObserver(rec))),
		snapshot.WithLogger(logger.With().Str("component", "snapshot").Logger()),
		snapshot.WithRecorder(rec),
	)
	live := snapshot.NewLive(agg, logger.With().Str("component", "live").Logger())
	base := cfg.SnapshotConfig()

	if cfg.Live.AutoStart {
		if err := live.Start(base); err != nil {
			logger.Fatal().Err(err).Msg("live refresh start failed")
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	h := server.Default(server.WithHostPorts(addr))
	h.OnShutdown = append(h.OnShutdown, func(ctx context.Context) {
		if live.State() != snapshot.StateRunning {
			return
		}
		if err := live.Stop(ctx); err != nil {
			logger.Warn().Err(err).Msg("live refresh stop")
		}
	})

	api.RegisterRoutes(h.Engine, api.NewService(agg, live, base, logger), prometheus.DefaultGatherer)

	logger.Info().
		Str("addr", addr).
		Int("symbols", len(base.Symbols)).
		Str("forecast", cfg.Forecast.Provider).
		Msg("server starting")
	h.Spin()
}

func buildProviders(cfg *config.Config) (*market.Registry, error) {
	equity, err := market.NewYahooProvider(cfg.YahooProviderConfig(market.KindEquity))
	if err != nil {
		return nil, err
	}
	commodity, err := market.NewYahooProvider(cfg.YahooProviderConfig(market.KindCommodity))
	if err != nil {
		return nil, err
	}
	crypto, err := market.NewCryptoProvider(cfg.ExchangeProviderConfig())
	if err != nil {
		return nil, err
	}
	return market.NewRegistry(equity, commodity, crypto)
}
