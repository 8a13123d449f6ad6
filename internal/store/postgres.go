package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stockpilot/engine/pkg/types"
)

// Postgres is the production Store backed by a pgx connection pool.
//
// Expected schema (managed externally):
//
//	watchlist(symbol text primary key, sector text, score double precision,
//	          bear_hint text, last_close numeric, active boolean)
//	positions(symbol text primary key, sector text, quantity bigint,
//	          original_quantity bigint, avg_entry_price numeric,
//	          entry_at timestamptz, entry_atr numeric, initial_stop numeric,
//	          trailing_stop numeric, high_water_mark numeric,
//	          sold_fraction double precision, ever_up_pct double precision)
//	trade_log(id text primary key, order_id text, symbol text, side text,
//	          quantity bigint, price numeric, reason text, strategy text,
//	          signal text, regime text, risk jsonb, metrics jsonb,
//	          pnl numeric, executed_at timestamptz)
//
// A strict exactly-once order guarantee would need a unique constraint on
// trade_log(symbol, side, time bucket); the engine's duplicate check is
// advisory only.
type Postgres struct {
	logger *zap.Logger
	db     *pgxpool.Pool
}

// NewPostgres creates a store on an existing pool.
func NewPostgres(logger *zap.Logger, db *pgxpool.Pool) *Postgres {
	return &Postgres{logger: logger.Named("store"), db: db}
}

// Connect opens a pool from a DSN and pings it.
func Connect(ctx context.Context, logger *zap.Logger, dsn string) (*Postgres, error) {
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgres(logger, db), nil
}

// Close releases the pool.
func (p *Postgres) Close() { p.db.Close() }

func (p *Postgres) ActiveWatchlist(ctx context.Context) ([]types.WatchlistItem, error) {
	rows, err := p.db.Query(ctx, `
		SELECT symbol, COALESCE(sector, ''), COALESCE(score, 0),
		       COALESCE(bear_hint, ''), COALESCE(last_close::text, '0')
		FROM watchlist
		WHERE active
		ORDER BY score DESC`)
	if err != nil {
		return nil, fmt.Errorf("query watchlist: %w", err)
	}
	defer rows.Close()

	var items []types.WatchlistItem
	for rows.Next() {
		var item types.WatchlistItem
		var lastClose string
		if err := rows.Scan(&item.Symbol, &item.Sector, &item.Score, &item.BearHint, &lastClose); err != nil {
			return nil, fmt.Errorf("scan watchlist row: %w", err)
		}
		item.LastClose, _ = decimal.NewFromString(lastClose)
		items = append(items, item)
	}
	return items, rows.Err()
}

func (p *Postgres) ActivePortfolio(ctx context.Context) ([]*types.Position, error) {
	rows, err := p.db.Query(ctx, `
		SELECT symbol, COALESCE(sector, ''), quantity, original_quantity,
		       avg_entry_price::text, entry_at, entry_atr::text,
		       initial_stop::text, trailing_stop::text,
		       high_water_mark::text, sold_fraction, ever_up_pct
		FROM positions
		ORDER BY entry_at, symbol`)
	if err != nil {
		return nil, fmt.Errorf("query portfolio: %w", err)
	}
	defer rows.Close()

	var book []*types.Position
	for rows.Next() {
		var pos types.Position
		var entry, atr, stop, hwm string
		var trailing *string
		if err := rows.Scan(&pos.Symbol, &pos.Sector, &pos.Quantity, &pos.OriginalQuantity,
			&entry, &pos.EntryAt, &atr, &stop, &trailing, &hwm,
			&pos.SoldFraction, &pos.EverUpPct); err != nil {
			return nil, fmt.Errorf("scan position row: %w", err)
		}
		pos.AvgEntryPrice, _ = decimal.NewFromString(entry)
		pos.EntryATR, _ = decimal.NewFromString(atr)
		pos.InitialStop, _ = decimal.NewFromString(stop)
		pos.HighWaterMark, _ = decimal.NewFromString(hwm)
		if trailing != nil {
			d, err := decimal.NewFromString(*trailing)
			if err == nil {
				pos.TrailingStop = &d
			}
		}
		book = append(book, &pos)
	}
	return book, rows.Err()
}

func (p *Postgres) UpsertPosition(ctx context.Context, pos *types.Position) error {
	var trailing *string
	if pos.TrailingStop != nil {
		s := pos.TrailingStop.String()
		trailing = &s
	}
	_, err := p.db.Exec(ctx, `
		INSERT INTO positions (symbol, sector, quantity, original_quantity,
			avg_entry_price, entry_at, entry_atr, initial_stop,
			trailing_stop, high_water_mark, sold_fraction, ever_up_pct)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (symbol) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			trailing_stop = EXCLUDED.trailing_stop,
			high_water_mark = EXCLUDED.high_water_mark,
			sold_fraction = EXCLUDED.sold_fraction,
			ever_up_pct = EXCLUDED.ever_up_pct`,
		pos.Symbol, pos.Sector, pos.Quantity, pos.OriginalQuantity,
		pos.AvgEntryPrice.String(), pos.EntryAt, pos.EntryATR.String(),
		pos.InitialStop.String(), trailing, pos.HighWaterMark.String(),
		pos.SoldFraction, pos.EverUpPct)
	if err != nil {
		return fmt.Errorf("upsert position %s: %w", pos.Symbol, err)
	}
	return nil
}

func (p *Postgres) ClosePosition(ctx context.Context, symbol string) error {
	_, err := p.db.Exec(ctx, `DELETE FROM positions WHERE symbol = $1`, symbol)
	if err != nil {
		return fmt.Errorf("close position %s: %w", symbol, err)
	}
	return nil
}

func (p *Postgres) RecordTrade(ctx context.Context, entry *types.TradeLogEntry) error {
	risk, err := json.Marshal(entry.Risk)
	if err != nil {
		return fmt.Errorf("encode risk setting: %w", err)
	}
	metrics, err := json.Marshal(entry.Metrics)
	if err != nil {
		return fmt.Errorf("encode trade metrics: %w", err)
	}
	_, err = p.db.Exec(ctx, `
		INSERT INTO trade_log (id, order_id, symbol, side, quantity, price,
			reason, strategy, signal, regime, risk, metrics, pnl, executed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		entry.ID, entry.OrderID, entry.Symbol, string(entry.Side),
		entry.Quantity, entry.Price.String(), entry.Reason,
		string(entry.Strategy), string(entry.Signal), string(entry.Regime),
		risk, metrics, entry.PnL.String(), entry.ExecutedAt)
	if err != nil {
		return fmt.Errorf("record trade %s: %w", entry.Symbol, err)
	}
	return nil
}

func (p *Postgres) CheckDuplicateOrder(ctx context.Context, symbol string, side types.Side, window time.Duration) (bool, error) {
	var exists bool
	err := p.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM trade_log
			WHERE symbol = $1 AND side = $2 AND executed_at >= $3
		)`, symbol, string(side), time.Now().Add(-window)).Scan(&exists)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("duplicate check %s/%s: %w", symbol, side, err)
	}
	return exists, nil
}

func (p *Postgres) CountTradesSince(ctx context.Context, side types.Side, since time.Time) (int, error) {
	var count int
	err := p.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM trade_log
		WHERE side = $1 AND executed_at >= $2`, string(side), since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count trades: %w", err)
	}
	return count, nil
}

func (p *Postgres) RecentTrades(ctx context.Context, limit int) ([]*types.TradeLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.Query(ctx, `
		SELECT id, order_id, symbol, side, quantity, price::text, reason,
		       strategy, signal, regime, risk, metrics, pnl::text, executed_at
		FROM trade_log
		ORDER BY executed_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query trade log: %w", err)
	}
	defer rows.Close()

	var entries []*types.TradeLogEntry
	for rows.Next() {
		var e types.TradeLogEntry
		var side, strategy, signal, regime, price, pnl string
		var risk, metrics []byte
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Symbol, &side, &e.Quantity,
			&price, &e.Reason, &strategy, &signal, &regime,
			&risk, &metrics, &pnl, &e.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		e.Side = types.Side(side)
		e.Strategy = types.StrategyID(strategy)
		e.Signal = types.SignalKind(signal)
		e.Regime = types.Regime(regime)
		e.Price, _ = decimal.NewFromString(price)
		e.PnL, _ = decimal.NewFromString(pnl)
		if err := json.Unmarshal(risk, &e.Risk); err != nil {
			p.logger.Warn("trade log risk column unreadable",
				zap.String("trade_id", e.ID), zap.Error(err))
		}
		if err := json.Unmarshal(metrics, &e.Metrics); err != nil {
			p.logger.Warn("trade log metrics column unreadable",
				zap.String("trade_id", e.ID), zap.Error(err))
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
