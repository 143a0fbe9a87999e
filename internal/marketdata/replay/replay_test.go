package replay

import (
	"context"
	"errors"
	"testing"
	"time"

	"spot-simulator/internal/model"
)

type fakeReader struct {
	candles []model.Candle
	err     error
	gotTF   int
	gotFrom int64
}

func (f *fakeReader) ReadCandles(_ context.Context, minutes int, afterMs int64) ([]model.Candle, error) {
	f.gotTF, f.gotFrom = minutes, afterMs
	return f.candles, f.err
}

func TestRun_EmitsOneTickPerCandleInOrder(t *testing.T) {
	r := &fakeReader{candles: []model.Candle{
		{OpenTime: 120_000, Close: 3},
		{OpenTime: 0, Close: 1},
		{OpenTime: 60_000, Close: 0}, // skipped, not a valid price
		{OpenTime: 180_000, Close: 4.5},
	}}
	out := make(chan model.PriceTick, 8)

	n, err := New(r, nil).Run(context.Background(), 1, -1, 0, out)
	if err != nil {
		t.Fatal(err)
	}
	close(out)

	if r.gotTF != 1 || r.gotFrom != -1 {
		t.Errorf("unexpected read args tf=%d from=%d", r.gotTF, r.gotFrom)
	}
	if n != 3 {
		t.Fatalf("expected 3 ticks, got %d", n)
	}
	var got []int64
	for tk := range out {
		got = append(got, tk.Timestamp)
	}
	want := []int64{0, 120_000, 180_000}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestRun_ReaderError(t *testing.T) {
	boom := errors.New("db locked")
	_, err := New(&fakeReader{err: boom}, nil).Run(context.Background(), 1, 0, 0, make(chan model.PriceTick))
	if !errors.Is(err, boom) {
		t.Errorf("expected reader error, got %v", err)
	}
}

func TestRun_CancelStopsReplay(t *testing.T) {
	r := &fakeReader{candles: []model.Candle{{OpenTime: 0, Close: 1}, {OpenTime: 3_600_000, Close: 2}}}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	out := make(chan model.PriceTick, 2)
	n, err := New(r, nil).Run(ctx, 1, 0, 1, out) // real-time: one hour gap, capped wait
	if !errors.Is(err, context.DeadlineExceeded) || n != 1 {
		t.Errorf("expected cancel after 1 tick, got n=%d err=%v", n, err)
	}
}
