package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"spot-simulator/internal/model"
)

// Load reads the stored snapshot. Returns nil, nil when none was saved.
// Decoding failures are returned as errors; callers fall back to the
// default portfolio.
func (s *Store) Load(ctx context.Context) (*model.Snapshot, error) {
	snap, err := s.readSnapshot(ctx)
	if errors.Is(err, errNoSnapshot) {
		return nil, nil
	}
	return snap, err
}

func (s *Store) readSnapshot(ctx context.Context) (*model.Snapshot, error) {
	var (
		cash, coin string
		savedAt    int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT cash, coin, saved_at FROM portfolio WHERE id = 1`).
		Scan(&cash, &coin, &savedAt)
	if err == sql.ErrNoRows {
		return nil, errNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite read portfolio: %w", err)
	}

	snap := &model.Snapshot{
		PendingOrders: []model.Order{},
		Trades:        []model.Trade{},
		SavedAt:       time.UnixMilli(savedAt).UTC(),
	}
	if snap.Portfolio.Cash, err = parseDecimal("cash", cash); err != nil {
		return nil, err
	}
	if snap.Portfolio.Coin, err = parseDecimal("coin", coin); err != nil {
		return nil, err
	}

	if snap.PendingOrders, err = s.readOrders(ctx); err != nil {
		return nil, err
	}
	if snap.Trades, err = s.readTrades(ctx); err != nil {
		return nil, err
	}
	if snap.Position, err = s.readPosition(ctx); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *Store) readOrders(ctx context.Context) ([]model.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mode, side, price, amount, created_at
		FROM pending_orders ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query pending_orders: %w", err)
	}
	defer rows.Close()

	orders := []model.Order{}
	for rows.Next() {
		var (
			o             model.Order
			mode, side    string
			price, amount string
			createdAt     int64
		)
		if err := rows.Scan(&o.ID, &mode, &side, &price, &amount, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite scan pending_orders: %w", err)
		}
		o.Mode, o.Side, o.Status = model.Mode(mode), model.Side(side), model.StatusPending
		o.CreatedAt = time.UnixMilli(createdAt).UTC()
		if o.Price, err = parseDecimal("order price", price); err != nil {
			return nil, err
		}
		if o.Amount, err = parseDecimal("order amount", amount); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *Store) readTrades(ctx context.Context) ([]model.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT opened_at, closed_at, entry_price, exit_price, amount, pnl
		FROM trades ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query trades: %w", err)
	}
	defer rows.Close()

	trades := []model.Trade{}
	for rows.Next() {
		var (
			t                        model.Trade
			openedAt, closedAt       int64
			entry, exit, amount, pnl string
		)
		if err := rows.Scan(&openedAt, &closedAt, &entry, &exit, &amount, &pnl); err != nil {
			return nil, fmt.Errorf("sqlite scan trades: %w", err)
		}
		t.OpenedAt = time.UnixMilli(openedAt).UTC()
		t.ClosedAt = time.UnixMilli(closedAt).UTC()
		if t.EntryPrice, err = parseDecimal("entry price", entry); err != nil {
			return nil, err
		}
		if t.ExitPrice, err = parseDecimal("exit price", exit); err != nil {
			return nil, err
		}
		if t.Amount, err = parseDecimal("trade amount", amount); err != nil {
			return nil, err
		}
		if t.PnL, err = parseDecimal("pnl", pnl); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *Store) readPosition(ctx context.Context) (*model.Position, error) {
	var (
		entry, amount string
		openedAt      int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT entry_price, amount, opened_at FROM position WHERE id = 1`).
		Scan(&entry, &amount, &openedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite read position: %w", err)
	}
	p := &model.Position{OpenedAt: time.UnixMilli(openedAt).UTC()}
	if p.EntryPrice, err = parseDecimal("entry price", entry); err != nil {
		return nil, err
	}
	if p.Amount, err = parseDecimal("position amount", amount); err != nil {
		return nil, err
	}
	return p, nil
}

// ReadCandles reads cached candles for a timeframe with open time after
// afterMs, ordered by open time ascending for correct replay order.
func (s *Store) ReadCandles(ctx context.Context, minutes int, afterMs int64) ([]model.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT open_time, close
		FROM candles
		WHERE tf = ? AND open_time > ?
		ORDER BY open_time ASC
	`, minutes, afterMs)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		if err := rows.Scan(&c.OpenTime, &c.Close); err != nil {
			return nil, fmt.Errorf("sqlite scan candles: %w", err)
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}
