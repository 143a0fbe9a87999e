// Package sqlite persists simulator snapshots and caches candles in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"spot-simulator/internal/model"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// WriterConfig configures the SQLite store.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/simulator.db"
}

// Store is the SQLite snapshot store and candle cache. A snapshot replaces
// the previous one atomically in a single transaction.
type Store struct {
	db  *sql.DB
	log *zap.Logger

	// Metrics hooks (optional, set externally)
	OnCommit func(d time.Duration)
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database with WAL mode and creates the schema.
func New(cfg WriterConfig, log *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	if log == nil {
		log = zap.NewNop()
	}
	log.Info("opened sqlite store", zap.String("path", cfg.DBPath))
	return &Store{db: db, log: log}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS portfolio (
			id         INTEGER PRIMARY KEY CHECK (id = 1),
			cash       TEXT    NOT NULL,
			coin       TEXT    NOT NULL,
			saved_at   INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS pending_orders (
			seq        INTEGER PRIMARY KEY,
			id         TEXT    NOT NULL UNIQUE,
			mode       TEXT    NOT NULL,
			side       TEXT    NOT NULL,
			price      TEXT    NOT NULL,
			amount     TEXT    NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS trades (
			seq         INTEGER PRIMARY KEY,
			opened_at   INTEGER NOT NULL,
			closed_at   INTEGER NOT NULL,
			entry_price TEXT    NOT NULL,
			exit_price  TEXT    NOT NULL,
			amount      TEXT    NOT NULL,
			pnl         TEXT    NOT NULL
		);

		CREATE TABLE IF NOT EXISTS position (
			id          INTEGER PRIMARY KEY CHECK (id = 1),
			entry_price TEXT    NOT NULL,
			amount      TEXT    NOT NULL,
			opened_at   INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS candles (
			tf         INTEGER NOT NULL,
			open_time  INTEGER NOT NULL,
			close      REAL    NOT NULL,
			PRIMARY KEY (tf, open_time)
		);
	`)
	return err
}

// Save replaces the stored snapshot in one transaction.
func (s *Store) Save(ctx context.Context, snap model.Snapshot) error {
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	if err := writeSnapshot(ctx, tx, snap); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit snapshot: %w", err)
	}
	if s.OnCommit != nil {
		s.OnCommit(time.Since(start))
	}
	return nil
}

func writeSnapshot(ctx context.Context, tx *sql.Tx, snap model.Snapshot) error {
	for _, table := range []string{"portfolio", "pending_orders", "trades", "position"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("sqlite clear %s: %w", table, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO portfolio (id, cash, coin, saved_at) VALUES (1, ?, ?, ?)`,
		snap.Portfolio.Cash.String(), snap.Portfolio.Coin.String(), snap.SavedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("sqlite insert portfolio: %w", err)
	}

	orderStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pending_orders (seq, id, mode, side, price, amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer orderStmt.Close()
	for i, o := range snap.PendingOrders {
		if _, err := orderStmt.ExecContext(ctx, i, o.ID, string(o.Mode), string(o.Side),
			o.Price.String(), o.Amount.String(), o.CreatedAt.UnixMilli()); err != nil {
			return fmt.Errorf("sqlite insert order %s: %w", o.ID, err)
		}
	}

	tradeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trades (seq, opened_at, closed_at, entry_price, exit_price, amount, pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer tradeStmt.Close()
	for i, t := range snap.Trades {
		if _, err := tradeStmt.ExecContext(ctx, i, t.OpenedAt.UnixMilli(), t.ClosedAt.UnixMilli(),
			t.EntryPrice.String(), t.ExitPrice.String(), t.Amount.String(), t.PnL.String()); err != nil {
			return fmt.Errorf("sqlite insert trade %d: %w", i, err)
		}
	}

	if p := snap.Position; p != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO position (id, entry_price, amount, opened_at) VALUES (1, ?, ?, ?)`,
			p.EntryPrice.String(), p.Amount.String(), p.OpenedAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("sqlite insert position: %w", err)
		}
	}
	return nil
}

type candleRow struct {
	minutes int
	candle  model.Candle
}

// RunCandles journals aggregated candles from the update stream into the
// candle cache using batched upserts. Later ticks of the same bucket replace
// the earlier close. Blocks until ctx is cancelled or the channel is closed.
func (s *Store) RunCandles(ctx context.Context, updates <-chan model.Update) {
	batch := make([]candleRow, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := s.insertBatch(batch); err != nil {
			s.log.Error("candle batch insert failed", zap.Error(err), zap.Int("count", len(batch)))
		} else {
			s.log.Debug("committed candles", zap.Int("count", len(batch)), zap.Duration("took", time.Since(start)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case u, ok := <-updates:
			if !ok {
				flush()
				return
			}
			if u.Kind != model.UpdateTick || u.Candle == nil || u.Timeframe == 0 {
				continue
			}
			batch = append(batch, candleRow{minutes: u.Timeframe, candle: u.Candle.Candle})
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}
		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

func (s *Store) insertBatch(rows []candleRow) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO candles (tf, open_time, close)
		VALUES (?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.Exec(r.minutes, r.candle.OpenTime, r.candle.Close); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// WriteCandles upserts candles for a timeframe in a single transaction.
func (s *Store) WriteCandles(ctx context.Context, minutes int, candles []model.Candle) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (tf, open_time, close)
		VALUES (?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, minutes, c.OpenTime, c.Close); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// GetLastOpenTime returns the newest cached open time for a timeframe.
// Returns 0 if no candles exist.
func (s *Store) GetLastOpenTime(ctx context.Context, minutes int) (int64, error) {
	var ts sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(open_time) FROM candles WHERE tf = ?`, minutes,
	).Scan(&ts)
	if err != nil {
		return 0, err
	}
	if !ts.Valid {
		return 0, nil
	}
	return ts.Int64, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func parseDecimal(field, v string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sqlite: bad %s %q: %w", field, v, err)
	}
	return d, nil
}

var errNoSnapshot = errors.New("no snapshot")
