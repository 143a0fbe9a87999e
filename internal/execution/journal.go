package execution

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"spot-simulator/internal/model"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Journal persists order fills and closed trades to SQLite for analysis and
// audit. It is written from the update bus, never from the simulator lock.
type Journal struct {
	mu  sync.Mutex
	db  *sql.DB
	log *zap.Logger
}

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dbPath string, log *zap.Logger) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS fills (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id    TEXT NOT NULL,
		mode        TEXT NOT NULL,
		side        TEXT NOT NULL,
		price       TEXT NOT NULL,
		amount      TEXT NOT NULL,
		filled_at   DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_fills_filled_at ON fills(filled_at);

	CREATE TABLE IF NOT EXISTS closed_trades (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		opened_at   DATETIME NOT NULL,
		closed_at   DATETIME NOT NULL,
		entry_price TEXT NOT NULL,
		exit_price  TEXT NOT NULL,
		amount      TEXT NOT NULL,
		pnl         TEXT NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	if log == nil {
		log = zap.NewNop()
	}
	log.Info("opened trade journal", zap.String("path", dbPath))
	return &Journal{db: db, log: log}, nil
}

// RecordFill persists a filled order.
func (j *Journal) RecordFill(ctx context.Context, o model.Order) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	filledAt := time.Now().UTC()
	if o.FilledAt != nil {
		filledAt = o.FilledAt.UTC()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO fills (order_id, mode, side, price, amount, filled_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		o.ID, string(o.Mode), string(o.Side),
		o.Price.String(), o.Amount.String(),
		filledAt.Format(time.RFC3339Nano),
	)
	return err
}

// RecordTrade persists a closed trade.
func (j *Journal) RecordTrade(ctx context.Context, t model.Trade) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO closed_trades (opened_at, closed_at, entry_price, exit_price, amount, pnl)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.OpenedAt.UTC().Format(time.RFC3339Nano),
		t.ClosedAt.UTC().Format(time.RFC3339Nano),
		t.EntryPrice.String(), t.ExitPrice.String(), t.Amount.String(), t.PnL.String(),
	)
	return err
}

// FillRecord represents a row from the fills table.
type FillRecord struct {
	ID       int64  `json:"id"`
	OrderID  string `json:"order_id"`
	Mode     string `json:"mode"`
	Side     string `json:"side"`
	Price    string `json:"price"`
	Amount   string `json:"amount"`
	FilledAt string `json:"filled_at"`
}

// Run journals fill and trade updates until ctx is cancelled or the channel
// is closed. Write failures are logged and the update is skipped.
func (j *Journal) Run(ctx context.Context, updates <-chan model.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			var err error
			switch {
			case u.Kind == model.UpdateFill && u.Order != nil:
				err = j.RecordFill(ctx, *u.Order)
			case u.Kind == model.UpdateTrade && u.Trade != nil:
				err = j.RecordTrade(ctx, *u.Trade)
			default:
				continue
			}
			if err != nil {
				j.log.Error("journal write failed", zap.String("kind", string(u.Kind)), zap.Error(err))
			}
		}
	}
}

// GetFills returns the last N fills, newest first.
func (j *Journal) GetFills(ctx context.Context, limit int) ([]FillRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, order_id, mode, side, price, amount, filled_at
		 FROM fills ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fills []FillRecord
	for rows.Next() {
		var f FillRecord
		if err := rows.Scan(&f.ID, &f.OrderID, &f.Mode, &f.Side, &f.Price, &f.Amount, &f.FilledAt); err != nil {
			j.log.Warn("skipping unreadable fill row", zap.Error(err))
			continue
		}
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// CountTrades returns the number of journaled closed trades.
func (j *Journal) CountTrades(ctx context.Context) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var n int
	err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM closed_trades`).Scan(&n)
	return n, err
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
