package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"spot-simulator/internal/model"

	"github.com/shopspring/decimal"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(WriterConfig{DBPath: filepath.Join(t.TempDir(), "sim.db")}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestStore_LoadEmpty(t *testing.T) {
	s := openTestStore(t)
	snap, err := s.Load(context.Background())
	if err != nil || snap != nil {
		t.Fatalf("expected nil, nil on empty store, got %v, %v", snap, err)
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.UnixMilli(1_700_000_000_000).UTC()

	snap := model.Snapshot{
		Portfolio: model.Portfolio{Cash: d("9500.125"), Coin: d("0.5")},
		PendingOrders: []model.Order{
			{ID: "b", Mode: model.ModeLimit, Side: model.SideBuy, Price: d("90"), Amount: d("1"), Status: model.StatusPending, CreatedAt: at},
			{ID: "a", Mode: model.ModeLimit, Side: model.SideSell, Price: d("120"), Amount: d("0.25"), Status: model.StatusPending, CreatedAt: at},
		},
		Trades: []model.Trade{
			{OpenedAt: at, ClosedAt: at.Add(time.Minute), EntryPrice: d("100"), ExitPrice: d("110"), Amount: d("1"), PnL: d("10")},
		},
		Position: &model.Position{EntryPrice: d("100"), Amount: d("0.5"), OpenedAt: at},
		SavedAt:  at,
	}
	if err := s.Save(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil || got == nil {
		t.Fatalf("load: %v, %v", got, err)
	}
	if !got.Portfolio.Cash.Equal(d("9500.125")) || !got.Portfolio.Coin.Equal(d("0.5")) {
		t.Errorf("portfolio mismatch: %+v", got.Portfolio)
	}
	if len(got.PendingOrders) != 2 || got.PendingOrders[0].ID != "b" || got.PendingOrders[1].ID != "a" {
		t.Fatalf("pending orders not in submission order: %+v", got.PendingOrders)
	}
	if got.PendingOrders[1].Status != model.StatusPending || !got.PendingOrders[1].Amount.Equal(d("0.25")) {
		t.Errorf("order fields mismatch: %+v", got.PendingOrders[1])
	}
	if len(got.Trades) != 1 || !got.Trades[0].PnL.Equal(d("10")) || !got.Trades[0].ClosedAt.Equal(at.Add(time.Minute)) {
		t.Errorf("trades mismatch: %+v", got.Trades)
	}
	if got.Position == nil || !got.Position.Amount.Equal(d("0.5")) {
		t.Errorf("position mismatch: %+v", got.Position)
	}
	if !got.SavedAt.Equal(at) {
		t.Errorf("saved_at mismatch: %v", got.SavedAt)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("round-tripped snapshot invalid: %v", err)
	}
}

func TestStore_SaveReplaces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := model.DefaultSnapshot(d("100"))
	first.PendingOrders = []model.Order{{ID: "x", Mode: model.ModeLimit, Side: model.SideBuy, Price: d("1"), Amount: d("1"), Status: model.StatusPending}}
	first.Position = &model.Position{EntryPrice: d("1"), Amount: d("1")}
	if err := s.Save(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, model.DefaultSnapshot(d("200"))); err != nil {
		t.Fatal(err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Portfolio.Cash.Equal(d("200")) || len(got.PendingOrders) != 0 || got.Position != nil {
		t.Errorf("expected second snapshot only, got %+v", got)
	}
}

func TestStore_CorruptValueErrors(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.Save(ctx, model.DefaultSnapshot(d("100"))); err != nil {
		t.Fatal(err)
	}
	if _, err := s.DB().Exec(`UPDATE portfolio SET cash = 'not-a-number'`); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load(ctx); err == nil {
		t.Error("expected decode error for corrupt cash")
	}
}

func TestStore_Candles(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	candles := []model.Candle{{OpenTime: 60_000, Close: 1}, {OpenTime: 120_000, Close: 2}, {OpenTime: 180_000, Close: 3}}
	if err := s.WriteCandles(ctx, 1, candles); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteCandles(ctx, 1, []model.Candle{{OpenTime: 120_000, Close: 2.5}}); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteCandles(ctx, 5, []model.Candle{{OpenTime: 0, Close: 9}}); err != nil {
		t.Fatal(err)
	}

	got, err := s.ReadCandles(ctx, 1, 60_000)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Close != 2.5 || got[1].OpenTime != 180_000 {
		t.Errorf("unexpected candles: %+v", got)
	}

	last, err := s.GetLastOpenTime(ctx, 1)
	if err != nil || last != 180_000 {
		t.Errorf("expected last open time 180000, got %d (%v)", last, err)
	}
	if last, _ := s.GetLastOpenTime(ctx, 15); last != 0 {
		t.Errorf("expected 0 for empty timeframe, got %d", last)
	}
}

func TestStore_RunCandlesJournalsTicks(t *testing.T) {
	s := openTestStore(t)
	ch := make(chan model.Update, 4)
	ch <- model.Update{Kind: model.UpdateTick, Timeframe: 1, Candle: &model.CandleUpdate{Candle: model.Candle{OpenTime: 0, Close: 10}, IsNew: true}}
	ch <- model.Update{Kind: model.UpdateTick, Timeframe: 1, Candle: &model.CandleUpdate{Candle: model.Candle{OpenTime: 0, Close: 11}}}
	ch <- model.Update{Kind: model.UpdateFill}
	close(ch)

	s.RunCandles(context.Background(), ch)

	got, err := s.ReadCandles(context.Background(), 1, -1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Close != 11 {
		t.Errorf("expected one candle with close 11, got %+v", got)
	}
}
