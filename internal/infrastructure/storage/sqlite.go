package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/vitos/crypto_backtest/internal/domain"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) initSchema() error {
	// Prices are stored as TEXT to keep decimal values exact.
	queries := []string{
		`CREATE TABLE IF NOT EXISTS candles (
			symbol TEXT NOT NULL,
			resolution INTEGER NOT NULL,
			ts INTEGER NOT NULL,
			open TEXT NOT NULL,
			high TEXT NOT NULL,
			low TEXT NOT NULL,
			close TEXT NOT NULL,
			volume TEXT NOT NULL,
			PRIMARY KEY (symbol, resolution, ts)
		);`,
		`CREATE TABLE IF NOT EXISTS results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			strategy TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			finished_at DATETIME NOT NULL,
			final_money TEXT NOT NULL,
			final_quote TEXT NOT NULL,
			orders INTEGER NOT NULL,
			pending_orders INTEGER NOT NULL,
			canceled_orders INTEGER NOT NULL,
			rejected_orders INTEGER NOT NULL,
			executed_orders INTEGER NOT NULL,
			trades INTEGER NOT NULL,
			positions INTEGER NOT NULL,
			closed_positions INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS trades (
			result_id INTEGER NOT NULL,
			trade_id INTEGER NOT NULL,
			order_id INTEGER NOT NULL,
			side TEXT NOT NULL,
			kind TEXT NOT NULL,
			quantity TEXT NOT NULL,
			price TEXT NOT NULL,
			executed_at DATETIME NOT NULL,
			PRIMARY KEY (result_id, trade_id)
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	return nil
}

// CandleRepository implementation

func (s *SQLiteStore) SaveCandles(ctx context.Context, symbol string, resolution int, candles []*domain.Candle) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO candles
		(symbol, resolution, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.ExecContext(ctx, symbol, resolution, c.Time.Unix(),
			c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(), c.Volume.String())
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) LoadCandles(ctx context.Context, symbol string, resolution int, from, to time.Time, limit, offset int) ([]*domain.Candle, error) {
	query := `SELECT ts, open, high, low, close, volume FROM candles
		WHERE symbol = ? AND resolution = ? AND ts >= ? AND ts < ?
		ORDER BY ts ASC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, symbol, resolution, from.Unix(), to.Unix(), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candles []*domain.Candle
	for rows.Next() {
		var ts int64
		var open, high, low, closePrice, volume string
		if err := rows.Scan(&ts, &open, &high, &low, &closePrice, &volume); err != nil {
			return nil, err
		}
		c := &domain.Candle{Time: time.Unix(ts, 0).UTC()}
		if c.Open, err = decimal.NewFromString(open); err != nil {
			return nil, err
		}
		if c.High, err = decimal.NewFromString(high); err != nil {
			return nil, err
		}
		if c.Low, err = decimal.NewFromString(low); err != nil {
			return nil, err
		}
		if c.Close, err = decimal.NewFromString(closePrice); err != nil {
			return nil, err
		}
		if c.Volume, err = decimal.NewFromString(volume); err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

func (s *SQLiteStore) CountCandles(ctx context.Context, symbol string, resolution int, from, to time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM candles WHERE symbol = ? AND resolution = ? AND ts >= ? AND ts < ?`,
		symbol, resolution, from.Unix(), to.Unix()).Scan(&count)
	return count, err
}

// ResultRepository implementation

func (s *SQLiteStore) SaveResult(ctx context.Context, r *domain.Result) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO results
		(symbol, strategy, started_at, finished_at, final_money, final_quote,
		 orders, pending_orders, canceled_orders, rejected_orders, executed_orders,
		 trades, positions, closed_positions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Symbol, r.Strategy, r.StartedAt, r.FinishedAt,
		r.FinalMoney.String(), r.FinalQuote.String(),
		r.Stats.Orders, r.Stats.PendingOrders, r.Stats.CanceledOrders,
		r.Stats.RejectedOrders, r.Stats.ExecutedOrders,
		r.Stats.Trades, r.Stats.Positions, r.Stats.ClosedPositions)
	if err != nil {
		return err
	}
	r.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) ListResults(ctx context.Context) ([]*domain.Result, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, symbol, strategy, started_at, finished_at,
		final_money, final_quote, orders, pending_orders, canceled_orders, rejected_orders,
		executed_orders, trades, positions, closed_positions
		FROM results ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.Result
	for rows.Next() {
		r := &domain.Result{}
		var money, quote string
		if err := rows.Scan(&r.ID, &r.Symbol, &r.Strategy, &r.StartedAt, &r.FinishedAt,
			&money, &quote, &r.Stats.Orders, &r.Stats.PendingOrders, &r.Stats.CanceledOrders,
			&r.Stats.RejectedOrders, &r.Stats.ExecutedOrders, &r.Stats.Trades,
			&r.Stats.Positions, &r.Stats.ClosedPositions); err != nil {
			return nil, err
		}
		if r.FinalMoney, err = decimal.NewFromString(money); err != nil {
			return nil, err
		}
		if r.FinalQuote, err = decimal.NewFromString(quote); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// TradeRepository implementation

func (s *SQLiteStore) SaveTrades(ctx context.Context, resultID int64, trades []*domain.Trade) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO trades
		(result_id, trade_id, order_id, side, kind, quantity, price, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range trades {
		_, err := stmt.ExecContext(ctx, resultID, t.ID, t.Order.ID,
			string(t.Order.Side), string(t.Order.Kind),
			t.Quantity.String(), t.ExecutedPrice.String(), t.ExecutedTime)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListTrades(ctx context.Context, resultID int64) ([]*domain.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT trade_id, order_id, side, kind, quantity, price, executed_at
		FROM trades WHERE result_id = ? ORDER BY trade_id ASC`, resultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.TradeRecord
	for rows.Next() {
		r := &domain.TradeRecord{ResultID: resultID}
		var side, kind, quantity, price string
		if err := rows.Scan(&r.TradeID, &r.OrderID, &side, &kind, &quantity, &price, &r.ExecutedAt); err != nil {
			return nil, err
		}
		r.Side = domain.Side(side)
		r.Kind = domain.OrderKind(kind)
		if r.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, err
		}
		if r.Price, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

const defaultChunkSize = 4096

// CandleStream pages through stored candles in fixed-size chunks so large
// ranges never load fully into memory. The blocking chunk fetch happens
// inside Next only.
type CandleStream struct {
	ctx        context.Context
	store      *SQLiteStore
	symbol     string
	resolution int
	from, to   time.Time

	chunk   []*domain.Candle
	idx     int
	offset  int
	drained bool
}

// NewCandleStream opens a chunked stream over the stored range
// [from, to) for one symbol and resolution.
func (s *SQLiteStore) NewCandleStream(ctx context.Context, symbol string, resolution int, from, to time.Time) *CandleStream {
	return &CandleStream{
		ctx:        ctx,
		store:      s,
		symbol:     symbol,
		resolution: resolution,
		from:       from,
		to:         to,
	}
}

func (c *CandleStream) Next() (*domain.Candle, error) {
	if c.idx >= len(c.chunk) {
		if c.drained {
			return nil, nil
		}
		chunk, err := c.store.LoadCandles(c.ctx, c.symbol, c.resolution, c.from, c.to, defaultChunkSize, c.offset)
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			c.drained = true
			return nil, nil
		}
		c.offset += len(chunk)
		if len(chunk) < defaultChunkSize {
			c.drained = true
		}
		c.chunk = chunk
		c.idx = 0
	}
	candle := c.chunk[c.idx]
	c.idx++
	return candle, nil
}

// HasData reports whether more candles may be available; it never consumes
// one, so it can report true for a range whose final chunk turns out empty.
func (c *CandleStream) HasData() bool {
	return c.idx < len(c.chunk) || !c.drained
}
