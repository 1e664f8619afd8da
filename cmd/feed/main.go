package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jc4p/dollar-payers-frame/internal/api"
	"github.com/jc4p/dollar-payers-frame/internal/cache"
	"github.com/jc4p/dollar-payers-frame/internal/chain/base"
	"github.com/jc4p/dollar-payers-frame/internal/chain/base/rpc"
	"github.com/jc4p/dollar-payers-frame/internal/chain/ratelimit"
	"github.com/jc4p/dollar-payers-frame/internal/config"
	"github.com/jc4p/dollar-payers-frame/internal/pipeline"
	"github.com/jc4p/dollar-payers-frame/internal/pipeline/aggregator"
	"github.com/jc4p/dollar-payers-frame/internal/profile"
	"github.com/jc4p/dollar-payers-frame/internal/tracing"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName     = "dollar-payers-feed"
	shutdownTimeout = 10 * time.Second

	// baseBlockTime is the nominal Base block interval.
	baseBlockTime = 2 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	logger.Info("starting "+serviceName,
		"target", cfg.Feed.TargetAddress,
		"token", cfg.Feed.TokenAddress,
		"rpc_configured", cfg.RPC.URL != "",
		"cache_backend", cfg.Cache.Backend,
		"profiles_configured", cfg.Profile.APIKey != "",
		"window_days", cfg.Feed.WindowDays,
		"lookback_blocks", cfg.Feed.LookbackBlocks,
	)

	warnWindowGap(cfg.Feed, logger)

	shutdownTracing, err := tracing.Init(context.Background(), serviceName, cfg.Tracing.Endpoint, cfg.Tracing.Insecure, cfg.Tracing.SampleRatio)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("feed exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("feed shut down gracefully")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	store, err := cache.Open(ctx, cacheOptions(cfg), logger)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer store.Close()
	logger.Info("cache ready", "backend", store.Backend())

	health := pipeline.NewFeedHealth()
	limiter := api.NewRateLimitMiddleware(logger)
	defer limiter.Stop()

	server := api.NewServer(store, buildAggregator(cfg, health, logger), logger,
		api.WithHealth(health),
		api.WithRateLimit(limiter),
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serveHTTP(gCtx, "api", cfg.Server.HTTPPort, server.Handler(), logger)
	})
	if cfg.Server.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())
		g.Go(func() error {
			return serveHTTP(gCtx, "metrics", cfg.Server.MetricsPort, mux, logger)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildAggregator returns nil when no node endpoint is configured; the
// server then serves cached results only.
func buildAggregator(cfg *config.Config, health *pipeline.FeedHealth, logger *slog.Logger) api.Aggregator {
	if cfg.RPC.URL == "" {
		logger.Warn("ALCHEMY_BASE_RPC_URL not set, only cached results will be served")
		return nil
	}

	client := rpc.NewClient(cfg.RPC.URL, logger,
		rpc.WithLimiter(ratelimit.NewLimiter(cfg.RPC.RateLimitRPS, cfg.RPC.RateLimitBurst)),
		rpc.WithTimeout(cfg.RPC.Timeout),
	)
	token := common.HexToAddress(cfg.Feed.TokenAddress)
	target := common.HexToAddress(cfg.Feed.TargetAddress)

	reader := base.NewReader(client, token, target, int64(cfg.Feed.LookbackBlocks), logger)
	balances := base.NewBalanceReader(client, token, int32(cfg.Feed.TokenDecimals), cfg.Feed.BalanceMaxAttempts, logger)
	profiles := profile.NewClient(profile.Config{
		BaseURL: cfg.Profile.BaseURL,
		APIKey:  cfg.Profile.APIKey,
	}, logger)

	return aggregator.New(reader, balances, profiles, aggregator.Config{
		Target:          target,
		Window:          cfg.Feed.Window(),
		MaxTransactions: cfg.Feed.MaxTransactions,
	}, logger, aggregator.WithHealth(health))
}

// warnWindowGap flags a block look-back that cannot reach back as far as the
// time window. Transfers in the uncovered span are silently missed.
func warnWindowGap(feed config.FeedConfig, logger *slog.Logger) bool {
	covered := time.Duration(feed.LookbackBlocks) * baseBlockTime
	if covered >= feed.Window() {
		return false
	}
	logger.Warn("block look-back covers less than the time window",
		"lookback_blocks", feed.LookbackBlocks,
		"approx_covered", covered.String(),
		"window", feed.Window().String(),
	)
	return true
}

func cacheOptions(cfg *config.Config) cache.Options {
	return cache.Options{
		Backend: cfg.Cache.Backend,
		KV: cache.KVConfig{
			BaseURL:     cfg.Cache.CloudflareBaseURL,
			AccountID:   cfg.Cache.AccountID,
			NamespaceID: cfg.Cache.NamespaceID,
			Token:       cfg.Cache.Token,
		},
		RedisURL: cfg.Cache.RedisURL,
	}
}

func newLogger(level string) *slog.Logger {
	logLevel := slog.LevelInfo
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}

func serveHTTP(ctx context.Context, name string, port int, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn(name+" server shutdown error", "error", err)
		}
	}()

	logger.Info(name+" server started", "port", port)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}
