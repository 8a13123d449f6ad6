// Command server runs the live trading engine: the regime service, the
// position monitor, the scan and backtest triggers and the control API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/stockpilot/engine/internal/api"
	"github.com/stockpilot/engine/internal/backtest"
	"github.com/stockpilot/engine/internal/cache"
	"github.com/stockpilot/engine/internal/config"
	"github.com/stockpilot/engine/internal/gateway"
	"github.com/stockpilot/engine/internal/metrics"
	"github.com/stockpilot/engine/internal/monitor"
	"github.com/stockpilot/engine/internal/regime"
	"github.com/stockpilot/engine/internal/scan"
	"github.com/stockpilot/engine/internal/store"
	"github.com/stockpilot/engine/internal/strategy"
	"github.com/stockpilot/engine/internal/trader"
	"github.com/stockpilot/engine/internal/workers"
)

func main() {
	var (
		configFile  = flag.String("config", "", "path to config file (optional)")
		addr        = flag.String("addr", ":8080", "api listen address")
		redisAddr   = flag.String("redis", "", "redis address (empty uses in-memory cache)")
		postgresDSN = flag.String("postgres", "", "postgres dsn (empty uses in-memory store)")
		indexSymbol = flag.String("index", "SPY", "benchmark index symbol")
		streamURL   = flag.String("stream", "", "websocket price stream url (optional)")
		paperCash   = flag.Float64("paper-cash", 1_000_000, "starting cash for the paper gateway")
		debug       = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	logger := setupLogger(*debug)
	defer logger.Sync()

	if err := run(logger, options{
		configFile:  *configFile,
		addr:        *addr,
		redisAddr:   *redisAddr,
		postgresDSN: *postgresDSN,
		indexSymbol: *indexSymbol,
		streamURL:   *streamURL,
		paperCash:   *paperCash,
	}); err != nil {
		logger.Fatal("engine exited", zap.Error(err))
	}
}

type options struct {
	configFile  string
	addr        string
	redisAddr   string
	postgresDSN string
	indexSymbol string
	streamURL   string
	paperCash   float64
}

func run(logger *zap.Logger, opts options) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader, err := config.NewLoader(logger, opts.configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := loader.Snapshot()

	var st store.Store
	if opts.postgresDSN != "" {
		pg, err := store.Connect(ctx, logger, opts.postgresDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pg.Close()
		st = pg
	} else {
		logger.Warn("no postgres dsn, using in-memory store")
		st = store.NewMemory()
	}

	var kv cache.Cache
	if opts.redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: opts.redisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		defer client.Close()
		kv = cache.NewRedis(logger, client)
	} else {
		logger.Warn("no redis address, using in-memory cache")
		kv = cache.NewMemory()
	}

	gw := gateway.NewPaper(logger, decimal.NewFromFloat(opts.paperCash))

	registry := prometheus.NewRegistry()
	engineMetrics := metrics.New(registry)

	detector := regime.NewDetector(logger, regime.DefaultDetectorConfig())
	regimes := regime.NewService(logger, detector, kv,
		indexSource{gw: gw, symbol: opts.indexSymbol}, cfg.RegimeTTL, engineMetrics)

	pool := workers.NewPool(logger, cfg.ScanWorkers)
	defer pool.Stop()

	trd := trader.New(trader.Deps{
		Logger:  logger,
		Config:  loader.Snapshot,
		Store:   st,
		Gateway: gw,
		Cache:   kv,
		Regimes: regimes,
		Metrics: engineMetrics,
	})

	mon := monitor.New(monitor.Deps{
		Logger:  logger,
		Config:  loader.Snapshot,
		Store:   st,
		Gateway: gw,
		Cache:   kv,
		Regimes: regimes,
		Trader:  trd,
		Metrics: engineMetrics,
	})

	runner := scan.New(scan.Deps{
		Logger:      logger,
		Config:      loader.Snapshot,
		Store:       st,
		Gateway:     gw,
		Cache:       kv,
		Regimes:     regimes,
		Scanner:     strategy.NewScanner(logger, strategy.NewSelector()),
		Pool:        pool,
		Trader:      trd,
		Metrics:     engineMetrics,
		IndexSymbol: opts.indexSymbol,
	})

	hub := api.NewHub(logger)
	server := api.NewServer(api.Config{
		Addr:         opts.addr,
		ReadTimeout:  api.DefaultConfig().ReadTimeout,
		WriteTimeout: api.DefaultConfig().WriteTimeout,
	}, api.Deps{
		Logger:    logger,
		Loader:    loader,
		Store:     st,
		Cache:     kv,
		Regimes:   regimes,
		Scan:      runner,
		Simulator: backtest.New(logger, cfg, pool),
		Hub:       hub,
		Gatherer:  registry,
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := mon.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("monitor exited", zap.Error(err))
		}
	}()

	if opts.streamURL != "" {
		stream := gateway.NewStream(logger, gateway.DefaultStreamConfig(opts.streamURL),
			func(tick gateway.Tick) { mon.OnTick(ctx, tick) })
		wg.Add(1)
		go func() {
			defer wg.Done()
			stream.Run(ctx)
		}()
	}

	err = server.Run(ctx)
	stop()
	wg.Wait()
	return err
}

// indexSource serves the benchmark close series from the gateway's daily
// history.
type indexSource struct {
	gw     gateway.Gateway
	symbol string
}

func (s indexSource) IndexCloses(ctx context.Context) ([]float64, error) {
	bars, err := s.gw.DailyBars(ctx, s.symbol, 60)
	if err != nil {
		return nil, err
	}
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close.InexactFloat64()
	}
	return closes, nil
}

func setupLogger(debug bool) *zap.Logger {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		level,
	)
	return zap.New(core)
}
