package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stockpilot/engine/pkg/types"
)

func TestPaperOrderLedger(t *testing.T) {
	p := NewPaper(zap.NewNop(), decimal.NewFromInt(100_000))
	ctx := context.Background()

	orderID, err := p.PlaceBuyOrder(ctx, "AAPL", 50, decimal.NewFromInt(1000))
	if err != nil {
		t.Fatal(err)
	}
	if orderID == "" {
		t.Fatal("empty order id")
	}

	cash, _ := p.CashBalance(ctx)
	if !cash.Equal(decimal.NewFromInt(50_000)) {
		t.Fatalf("cash = %s after buy, want 50000", cash)
	}

	if _, err := p.PlaceBuyOrder(ctx, "AAPL", 100, decimal.NewFromInt(1000)); err == nil {
		t.Fatal("want insufficient cash error")
	}

	if _, err := p.PlaceSellOrder(ctx, "AAPL", 50, decimal.NewFromInt(1100)); err != nil {
		t.Fatal(err)
	}
	cash, _ = p.CashBalance(ctx)
	if !cash.Equal(decimal.NewFromInt(105_000)) {
		t.Fatalf("cash = %s after round trip, want 105000", cash)
	}
}

func TestPaperMarketClosed(t *testing.T) {
	p := NewPaper(zap.NewNop(), decimal.NewFromInt(100_000))
	p.SetMarketOpen(false)
	ctx := context.Background()

	if _, err := p.PlaceBuyOrder(ctx, "AAPL", 1, decimal.NewFromInt(100)); !errors.Is(err, ErrMarketClosed) {
		t.Fatalf("err = %v, want ErrMarketClosed", err)
	}
	if _, err := p.PlaceSellOrder(ctx, "AAPL", 1, decimal.NewFromInt(100)); !errors.Is(err, ErrMarketClosed) {
		t.Fatalf("err = %v, want ErrMarketClosed", err)
	}
}

func TestPaperPriceSnapshot(t *testing.T) {
	p := NewPaper(zap.NewNop(), decimal.NewFromInt(100_000))
	ctx := context.Background()

	if _, err := p.PriceSnapshot(ctx, "AAPL"); !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("err = %v, want ErrPriceUnavailable", err)
	}

	p.SetLastClose("AAPL", decimal.NewFromInt(1234))
	quote, err := p.PriceSnapshot(ctx, "aapl") // Symbol normalization
	if err != nil {
		t.Fatal(err)
	}
	if !quote.Price.Equal(decimal.NewFromInt(1234)) {
		t.Fatalf("price = %s, want 1234", quote.Price)
	}
}

func TestPaperDailyBars(t *testing.T) {
	p := NewPaper(zap.NewNop(), decimal.NewFromInt(100_000))
	ctx := context.Background()

	if _, err := p.DailyBars(ctx, "AAPL", 10); err == nil {
		t.Fatal("want error for unknown symbol")
	}

	bars := make([]types.OHLCV, 30)
	for i := range bars {
		bars[i] = types.OHLCV{
			Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i),
			Close:     decimal.NewFromInt(int64(100 + i)),
		}
	}
	p.SetBars("AAPL", bars)

	got, err := p.DailyBars(ctx, "AAPL", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 10 {
		t.Fatalf("len = %d, want last 10", len(got))
	}
	if !got[9].Close.Equal(decimal.NewFromInt(129)) {
		t.Fatalf("last close = %s, want 129", got[9].Close)
	}

	// SetBars also seeds the last-close table.
	quote, err := p.PriceSnapshot(ctx, "AAPL")
	if err != nil {
		t.Fatal(err)
	}
	if !quote.Price.Equal(decimal.NewFromInt(129)) {
		t.Fatalf("snapshot price = %s, want 129", quote.Price)
	}
}
