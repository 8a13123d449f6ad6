// Command backtest replays CSV daily bars through the engine pipeline and
// prints the performance summary.
//
// The data directory holds one CSV per symbol (SYMBOL.csv) with the header
// date,open,high,low,close,volume and ISO dates. One of the files is the
// benchmark index, named by -index. An optional sectors.csv (symbol,sector)
// assigns sectors; unlisted symbols fall into the default bucket.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/stockpilot/engine/internal/backtest"
	"github.com/stockpilot/engine/internal/config"
	"github.com/stockpilot/engine/internal/risk"
	"github.com/stockpilot/engine/pkg/types"
)

func main() {
	var (
		dataDir    = flag.String("data", "", "directory of per-symbol CSV bars (required)")
		indexName  = flag.String("index", "SPY", "symbol whose CSV is the benchmark index")
		configFile = flag.String("config", "", "path to config file (optional)")
		cash       = flag.Float64("cash", 1_000_000, "starting cash")
		warmup     = flag.Int("warmup", 25, "warmup sessions before trading starts")
		jsonOut    = flag.Bool("json", false, "print the full result as JSON")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	logger := setupLogger(*debug)
	defer logger.Sync()

	if *dataDir == "" {
		fmt.Fprintln(os.Stderr, "usage: backtest -data <dir> [-index SPY] [-cash 1000000]")
		os.Exit(2)
	}

	if err := run(logger, *dataDir, *indexName, *configFile, *cash, *warmup, *jsonOut); err != nil {
		logger.Fatal("backtest failed", zap.Error(err))
	}
}

func run(logger *zap.Logger, dataDir, indexName, configFile string, cash float64, warmup int, jsonOut bool) error {
	loader, err := config.NewLoader(logger, configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	bars, indexBars, err := loadBars(dataDir, indexName)
	if err != nil {
		return err
	}
	sectors, err := loadSectors(filepath.Join(dataDir, "sectors.csv"), bars)
	if err != nil {
		return err
	}

	sim := backtest.New(logger, loader.Snapshot(), nil)
	result, err := sim.Run(context.Background(), backtest.Input{
		Bars:         bars,
		IndexBars:    indexBars,
		Sectors:      sectors,
		StartingCash: decimal.NewFromFloat(cash),
		WarmupDays:   warmup,
	})
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(result)
	}

	s := result.Summary
	fmt.Printf("sessions:      %d\n", s.Sessions)
	fmt.Printf("starting cash: %s\n", s.StartingCash.StringFixed(2))
	fmt.Printf("final equity:  %s\n", s.FinalEquity.StringFixed(2))
	fmt.Printf("total return:  %.2f%%\n", s.TotalReturnPct)
	fmt.Printf("max drawdown:  %.2f%%\n", s.MaxDrawdownPct)
	fmt.Printf("buys/sells:    %d/%d\n", s.Buys, s.Sells)
	fmt.Printf("win rate:      %.1f%% (%d wins, %d losses)\n", s.WinRatePct, s.Wins, s.Losses)
	fmt.Printf("realized pnl:  %s\n", s.RealizedPnL.StringFixed(2))
	return nil
}

// loadBars reads every CSV in the directory; the index file is split out.
func loadBars(dir, indexName string) (map[string][]types.OHLCV, []types.OHLCV, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read data dir: %w", err)
	}

	bars := make(map[string][]types.OHLCV)
	var indexBars []types.OHLCV
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".csv") || name == "sectors.csv" {
			continue
		}
		symbol := strings.ToUpper(strings.TrimSuffix(name, ".csv"))
		series, err := loadCSV(filepath.Join(dir, name))
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", name, err)
		}
		if symbol == strings.ToUpper(indexName) {
			indexBars = series
			continue
		}
		bars[symbol] = series
	}
	if indexBars == nil {
		return nil, nil, fmt.Errorf("index file %s.csv not found in %s", indexName, dir)
	}
	if len(bars) == 0 {
		return nil, nil, fmt.Errorf("no instrument CSVs found in %s", dir)
	}
	return bars, indexBars, nil
}

func loadCSV(path string) ([]types.OHLCV, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("no data rows")
	}

	out := make([]types.OHLCV, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) < 6 {
			return nil, fmt.Errorf("row has %d columns, want 6", len(rec))
		}
		ts, err := time.Parse("2006-01-02", rec[0])
		if err != nil {
			return nil, fmt.Errorf("bad date %q: %w", rec[0], err)
		}
		bar := types.OHLCV{Timestamp: ts}
		for i, dst := range []*decimal.Decimal{&bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume} {
			v, err := decimal.NewFromString(strings.TrimSpace(rec[i+1]))
			if err != nil {
				return nil, fmt.Errorf("bad value %q: %w", rec[i+1], err)
			}
			*dst = v
		}
		out = append(out, bar)
	}
	return out, nil
}

// loadSectors reads symbol,sector pairs. A missing file is not an error;
// every symbol then classifies through the default seed map.
func loadSectors(path string, bars map[string][]types.OHLCV) (map[string]string, error) {
	classifier := risk.NewSectorClassifier(nil)

	if f, err := os.Open(path); err == nil {
		defer f.Close()
		records, err := csv.NewReader(f).ReadAll()
		if err != nil {
			return nil, fmt.Errorf("sectors.csv: %w", err)
		}
		for _, rec := range records {
			if len(rec) >= 2 {
				classifier.Register(strings.ToUpper(strings.TrimSpace(rec[0])), strings.TrimSpace(rec[1]))
			}
		}
	}

	sectors := make(map[string]string, len(bars))
	for symbol := range bars {
		sectors[symbol] = classifier.Classify(symbol)
	}
	return sectors, nil
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
		zapcore.AddSync(os.Stderr),
		level,
	)
	return zap.New(core)
}
