// Package simulator is the single owner of all trading state.
//
// Every mutation (tick, submit, cancel, reset, history reload) runs as one
// atomic step under the simulator lock. No I/O happens under the lock:
// snapshots go to the persister and updates to the bus through non-blocking
// sends after the lock is released.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"spot-simulator/internal/execution"
	"spot-simulator/internal/history"
	"spot-simulator/internal/indicator"
	"spot-simulator/internal/marketdata/agg"
	"spot-simulator/internal/model"
	"spot-simulator/internal/portfolio"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config holds the simulator parameters.
type Config struct {
	TimeframeMinutes int
	MaxCandles       int
	Indicators       indicator.Config
	InitialCash      decimal.Decimal
}

// DefaultConfig returns 5-minute candles, 60-candle window, SMA(10),
// EMA(10), RSI(14) and 10000 starting cash.
func DefaultConfig() Config {
	return Config{
		TimeframeMinutes: history.DefaultMinutes,
		MaxCandles:       agg.DefaultMaxCandles,
		Indicators:       indicator.DefaultConfig(),
		InitialCash:      model.DefaultCash,
	}
}

// SnapshotSink receives snapshots after every mutating operation.
// Enqueue must not block.
type SnapshotSink interface {
	Enqueue(snap model.Snapshot)
}

// Hooks are optional callbacks for metrics. They run outside the lock.
type Hooks struct {
	OnTick      func(aggregated bool)
	OnFill      func(o model.Order)
	OnReject    func(kind model.ValidationKind)
	OnRecompute func(d time.Duration)
	OnEvicted   func()
}

// Simulator serializes all state transitions.
type Simulator struct {
	mu sync.Mutex

	cfg       Config
	agg       *agg.Aggregator
	engine    *indicator.Engine
	series    indicator.Series
	book      *execution.OrderBook
	exec      *execution.Executor
	ledger    *portfolio.Ledger
	history   *portfolio.History
	price     decimal.Decimal
	connected bool
	reloadSeq uint64
	lastSnap  time.Time // SavedAt of the newest snapshot taken

	provider model.HistoryProvider
	sink     SnapshotSink
	updates  chan<- model.Update
	log      *zap.Logger
	now      func() time.Time

	Hooks Hooks
}

// New creates a simulator with a fresh default portfolio. It starts
// disconnected: trading is enabled once the feed reports a connection.
func New(cfg Config, log *zap.Logger) *Simulator {
	def := DefaultConfig()
	cfg.TimeframeMinutes = history.NormalizeMinutes(cfg.TimeframeMinutes)
	if cfg.MaxCandles < 1 {
		cfg.MaxCandles = def.MaxCandles
	}
	if !cfg.InitialCash.IsPositive() {
		cfg.InitialCash = def.InitialCash
	}
	if log == nil {
		log = zap.NewNop()
	}

	ledger := portfolio.NewLedger(cfg.InitialCash)
	hist := portfolio.NewHistory()
	s := &Simulator{
		cfg:     cfg,
		engine:  indicator.NewEngine(cfg.Indicators),
		book:    execution.NewOrderBook(),
		exec:    execution.NewExecutor(ledger, hist),
		ledger:  ledger,
		history: hist,
		log:     log,
		now:     time.Now,
	}
	s.cfg.Indicators = s.engine.Config()
	s.agg = s.newAggregator(cfg.TimeframeMinutes)
	s.series = s.engine.Compute(nil)
	return s
}

// SetHistoryProvider sets the source used by LoadHistory and ChangeTimeframe.
func (s *Simulator) SetHistoryProvider(p model.HistoryProvider) { s.provider = p }

// SetSnapshotSink sets where snapshots go after each mutation.
func (s *Simulator) SetSnapshotSink(sink SnapshotSink) { s.sink = sink }

// SetUpdates sets the channel updates are published on. Sends never block;
// a full channel drops the update.
func (s *Simulator) SetUpdates(ch chan<- model.Update) { s.updates = ch }

// SetClock overrides the time source (tests and replay).
func (s *Simulator) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	s.exec.SetClock(now)
}

func (s *Simulator) newAggregator(minutes int) *agg.Aggregator {
	a := agg.New(minutes, s.cfg.MaxCandles)
	a.OnEvicted = func() {
		if s.Hooks.OnEvicted != nil {
			s.Hooks.OnEvicted()
		}
	}
	return a
}

// ── Ticks ──

// TickResult describes what one tick changed.
type TickResult struct {
	Candle     model.CandleUpdate
	Aggregated bool // false for a late tick
	Fills      []model.Order
	Trades     []model.Trade
}

// OnTick processes one price tick: updates the reference price, folds it
// into the candle sequence (late ticks are skipped), recomputes indicators
// and fills every crossed limit order in submission order.
func (s *Simulator) OnTick(tick model.PriceTick) TickResult {
	var (
		res     TickResult
		pending []model.Update
		snap    *model.Snapshot
		dur     time.Duration
	)

	s.mu.Lock()
	s.price = tick.Price
	res.Candle, res.Aggregated = s.agg.OnTick(tick)
	if res.Aggregated {
		start := time.Now()
		s.series = s.engine.Compute(s.agg.Closes())
		dur = time.Since(start)
	}

	fills, trades, canceled := s.matchLocked(tick.Price)
	res.Fills, res.Trades = fills, trades

	at := s.now().UTC()
	upd := model.Update{
		Kind:      model.UpdateTick,
		At:        at,
		Price:     tick.Price,
		Timeframe: s.agg.Timeframe(),
		Connected: s.connected,
	}
	if res.Aggregated {
		c := res.Candle
		upd.Candle = &c
	}
	bal := s.ledger.Balances()
	pnl := s.ledger.UnrealizedPnL(tick.Price)
	upd.Portfolio = &bal
	upd.PnL = &pnl
	pending = append(pending, upd)
	pending = append(pending, fillUpdates(at, fills, trades, canceled)...)

	if len(fills) > 0 || len(canceled) > 0 {
		sn := s.snapshotLocked()
		snap = &sn
	}
	s.mu.Unlock()

	if s.Hooks.OnTick != nil {
		s.Hooks.OnTick(res.Aggregated)
	}
	if res.Aggregated && s.Hooks.OnRecompute != nil {
		s.Hooks.OnRecompute(dur)
	}
	for _, o := range fills {
		if s.Hooks.OnFill != nil {
			s.Hooks.OnFill(o)
		}
	}
	s.emit(pending, snap)
	return res
}

// matchLocked fills crossed limit orders at their limit price. An order that
// fails at fill time is canceled and logged.
func (s *Simulator) matchLocked(price decimal.Decimal) (fills []model.Order, trades []model.Trade, canceled []model.Order) {
	for _, o := range s.book.Match(price) {
		s.ledger.Release(o)
		trade, err := s.exec.Execute(o)
		if err != nil {
			o.Status = model.StatusCanceled
			canceled = append(canceled, *o)
			s.log.Error("limit order failed at fill time, canceled",
				zap.String("order_id", o.ID),
				zap.String("side", string(o.Side)),
				zap.String("price", o.Price.String()),
				zap.Error(err))
			continue
		}
		fills = append(fills, *o)
		if trade != nil {
			trades = append(trades, *trade)
		}
	}
	return fills, trades, canceled
}

func fillUpdates(at time.Time, fills []model.Order, trades []model.Trade, canceled []model.Order) []model.Update {
	out := make([]model.Update, 0, len(fills)+len(trades)+len(canceled))
	for i := range fills {
		o := fills[i]
		out = append(out, model.Update{Kind: model.UpdateFill, At: at, Price: o.Price, Order: &o})
	}
	for i := range trades {
		t := trades[i]
		out = append(out, model.Update{Kind: model.UpdateTrade, At: at, Price: t.ExitPrice, Trade: &t})
	}
	for i := range canceled {
		o := canceled[i]
		out = append(out, model.Update{Kind: model.UpdateCancel, At: at, Order: &o})
	}
	return out
}

// Run consumes ticks until ctx is cancelled or the channel closes.
func (s *Simulator) Run(ctx context.Context, ticks <-chan model.PriceTick) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-ticks:
			if !ok {
				return
			}
			s.OnTick(t)
		}
	}
}

// ── Orders ──

// Submit validates and places an order. Market orders execute immediately
// at the current reference price and the resulting trade (for a closing
// sell) is returned. Limit orders are escrowed and queued.
// Errors: model.ErrTradingDisabled, *model.ValidationError,
// *model.NoPositionError.
func (s *Simulator) Submit(req model.OrderRequest) (model.Order, *model.Trade, error) {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return model.Order{}, nil, model.ErrTradingDisabled
	}

	price, err := portfolio.CheckOrder(req, s.price, s.ledger)
	if err != nil {
		s.mu.Unlock()
		var ve *model.ValidationError
		if errors.As(err, &ve) && s.Hooks.OnReject != nil {
			s.Hooks.OnReject(ve.Kind)
		}
		return model.Order{}, nil, err
	}

	at := s.now().UTC()
	o := &model.Order{
		ID:        uuid.NewString(),
		Mode:      req.Mode,
		Side:      req.Side,
		Price:     price,
		Amount:    req.Amount,
		Status:    model.StatusPending,
		CreatedAt: at,
	}

	var (
		trade   *model.Trade
		pending []model.Update
	)
	if o.Mode == model.ModeMarket {
		trade, err = s.exec.Execute(o)
		if err != nil {
			s.mu.Unlock()
			return model.Order{}, nil, err
		}
		var trades []model.Trade
		if trade != nil {
			trades = append(trades, *trade)
		}
		pending = fillUpdates(at, []model.Order{*o}, trades, nil)
	} else {
		s.ledger.Hold(o)
		s.book.Add(o)
	}
	out := *o
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.log.Info("order accepted",
		zap.String("order_id", out.ID),
		zap.String("mode", string(out.Mode)),
		zap.String("side", string(out.Side)),
		zap.String("price", out.Price.String()),
		zap.String("amount", out.Amount.String()))
	if out.Status == model.StatusFilled && s.Hooks.OnFill != nil {
		s.Hooks.OnFill(out)
	}
	s.emit(pending, &snap)
	return out, trade, nil
}

// Cancel cancels a pending order and releases its escrow.
// Returns model.ErrOrderNotFound for unknown or already settled orders.
func (s *Simulator) Cancel(id string) (model.Order, error) {
	s.mu.Lock()
	o, err := s.book.Remove(id)
	if err != nil {
		s.mu.Unlock()
		return model.Order{}, err
	}
	s.ledger.Release(o)
	o.Status = model.StatusCanceled
	out := *o
	at := s.now().UTC()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.emit([]model.Update{{Kind: model.UpdateCancel, At: at, Order: &out}}, &snap)
	return out, nil
}

// ── Connection ──

// SetConnected records the feed connection state. Trading is disabled while
// disconnected.
func (s *Simulator) SetConnected(connected bool) {
	s.mu.Lock()
	changed := s.connected != connected
	s.connected = connected
	at := s.now().UTC()
	s.mu.Unlock()

	if !changed {
		return
	}
	s.log.Info("feed connection changed", zap.Bool("connected", connected))
	s.emit([]model.Update{{Kind: model.UpdateConnection, At: at, Connected: connected}}, nil)
}

// Connected reports whether trading is enabled.
func (s *Simulator) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// ── History ──

// LoadHistory reloads candles for the current timeframe.
func (s *Simulator) LoadHistory(ctx context.Context) error {
	s.mu.Lock()
	minutes := s.agg.Timeframe()
	s.mu.Unlock()
	return s.reload(ctx, minutes)
}

// ChangeTimeframe switches the candle width (unsupported widths fall back to
// 5 minutes) and reloads history. If history cannot be fetched the new
// timeframe starts with an empty series and the error is returned. A call
// overtaken by a later one returns model.ErrReloadSuperseded and changes
// nothing.
func (s *Simulator) ChangeTimeframe(ctx context.Context, minutes int) error {
	return s.reload(ctx, history.NormalizeMinutes(minutes))
}

// reload stages a seeded aggregator and its series off-lock and swaps them
// in atomically. A reload started later supersedes one still in flight.
func (s *Simulator) reload(ctx context.Context, minutes int) error {
	s.mu.Lock()
	s.reloadSeq++
	seq := s.reloadSeq
	s.mu.Unlock()

	staged := s.newAggregator(minutes)
	var fetchErr error
	if s.provider == nil {
		fetchErr = errors.New("no history provider")
	} else {
		candles, err := s.provider.Fetch(ctx, minutes)
		if err != nil {
			fetchErr = err
		} else {
			staged.Seed(candles)
		}
	}
	series := indicator.NewEngine(s.cfg.Indicators).Compute(staged.Closes())

	s.mu.Lock()
	if seq != s.reloadSeq {
		s.mu.Unlock()
		return fmt.Errorf("reload %dm: %w", minutes, model.ErrReloadSuperseded)
	}
	s.agg = staged
	s.series = series
	at := s.now().UTC()
	s.mu.Unlock()

	s.emit([]model.Update{{Kind: model.UpdateReload, At: at, Timeframe: minutes}}, nil)
	if fetchErr != nil {
		s.log.Warn("history load failed, starting with empty series",
			zap.Int("tf", minutes), zap.Error(fetchErr))
		return fmt.Errorf("load history %dm: %w", minutes, fetchErr)
	}
	s.log.Info("history loaded", zap.Int("tf", minutes), zap.Int("candles", staged.Len()))
	return nil
}

// ── Resets ──

// ResetPortfolio restores baseline cash and zero coin, closes the position
// and cancels all pending orders. Trade history is kept.
func (s *Simulator) ResetPortfolio() {
	s.mu.Lock()
	s.book.Clear()
	s.ledger.Reset()
	s.exec.RestorePosition(nil)
	s.mu.Unlock()
	s.afterReset("portfolio")
}

// ResetOrders cancels all pending orders and releases their escrow.
func (s *Simulator) ResetOrders() {
	s.mu.Lock()
	for _, o := range s.book.Clear() {
		s.ledger.Release(o)
	}
	s.mu.Unlock()
	s.afterReset("orders")
}

// ResetHistory clears the trade history.
func (s *Simulator) ResetHistory() {
	s.mu.Lock()
	s.history.Reset()
	s.mu.Unlock()
	s.afterReset("history")
}

func (s *Simulator) afterReset(what string) {
	s.mu.Lock()
	snap := s.snapshotLocked()
	at := s.now().UTC()
	bal := s.ledger.Balances()
	s.mu.Unlock()

	s.log.Info("reset", zap.String("what", what))
	s.emit([]model.Update{{Kind: model.UpdateReset, At: at, Portfolio: &bal}}, &snap)
}

// ── Snapshots ──

// Snapshot returns the persistable state.
func (s *Simulator) Snapshot() model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// snapshotLocked stamps snapshots with strictly increasing SavedAt so a
// sink can order them even when the clock does not advance between calls.
func (s *Simulator) snapshotLocked() model.Snapshot {
	at := s.now().UTC()
	if !at.After(s.lastSnap) {
		at = s.lastSnap.Add(time.Nanosecond)
	}
	s.lastSnap = at
	return model.Snapshot{
		Portfolio:     s.ledger.Balances(),
		PendingOrders: s.book.Pending(),
		Trades:        s.history.Trades(),
		Position:      s.exec.Position(),
		SavedAt:       at,
	}
}

// Restore replaces portfolio, pending orders, trades and position with a
// persisted snapshot. An invalid snapshot (including one whose pending
// orders would over-commit the balances) is rejected and the default state
// is used instead; the returned error says why.
func (s *Simulator) Restore(snap *model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap == nil {
		s.restoreLocked(model.DefaultSnapshot(s.cfg.InitialCash))
		return nil
	}
	if err := snap.Validate(); err != nil {
		s.restoreLocked(model.DefaultSnapshot(s.cfg.InitialCash))
		return err
	}
	s.restoreLocked(*snap)
	if s.ledger.AvailableCash().IsNegative() || s.ledger.AvailableCoin().IsNegative() {
		s.restoreLocked(model.DefaultSnapshot(s.cfg.InitialCash))
		return errors.New("snapshot: pending orders exceed balances")
	}
	return nil
}

func (s *Simulator) restoreLocked(snap model.Snapshot) {
	s.ledger.Restore(snap.Portfolio)
	s.book.Clear()
	for i := range snap.PendingOrders {
		o := snap.PendingOrders[i]
		s.book.Add(&o)
		s.ledger.Hold(&o)
	}
	s.history.Restore(snap.Trades)
	s.exec.RestorePosition(snap.Position)
}

// emit publishes updates and enqueues a snapshot without blocking.
func (s *Simulator) emit(updates []model.Update, snap *model.Snapshot) {
	if snap != nil && s.sink != nil {
		s.sink.Enqueue(*snap)
	}
	if s.updates == nil {
		return
	}
	for _, u := range updates {
		select {
		case s.updates <- u:
		default:
			s.log.Debug("updates channel full, dropping", zap.String("kind", string(u.Kind)))
		}
	}
}
