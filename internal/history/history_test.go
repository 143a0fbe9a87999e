package history

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"spot-simulator/internal/model"
)

func TestLimitAndInterval(t *testing.T) {
	cases := []struct {
		minutes  int
		interval string
		limit    int
	}{
		{1, "1m", 240},
		{3, "3m", 80},
		{5, "5m", 48},
		{15, "15m", 16},
		{30, "30m", 8},
		{7, "5m", 48},
		{0, "5m", 48},
	}
	for _, tc := range cases {
		if got := Interval(tc.minutes); got != tc.interval {
			t.Errorf("Interval(%d): expected %s, got %s", tc.minutes, tc.interval, got)
		}
		if got := Limit(tc.minutes); got != tc.limit {
			t.Errorf("Limit(%d): expected %d, got %d", tc.minutes, tc.limit, got)
		}
	}
}

const klines = `[
 [1700000000000,"100.0","101.0","99.0","100.5","12.3",1700000299999,"0",10,"0","0","0"],
 [1700000300000,"100.5","102.0","100.0","101.25","8.1",1700000599999,"0",7,"0","0","0"]
]`

func TestClient_Fetch(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/klines" {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.RawQuery
		w.Write([]byte(klines))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "BTCUSDT", nil)
	candles, err := c.Fetch(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if gotQuery != "interval=5m&limit=48&symbol=BTCUSDT" {
		t.Errorf("unexpected query %q", gotQuery)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	if candles[0].OpenTime != 1700000000000 || candles[0].Close != 100.5 || candles[1].Close != 101.25 {
		t.Errorf("unexpected candles %+v", candles)
	}
}

func TestClient_FetchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":-1121,"msg":"Invalid symbol."}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, "NOPE", nil).Fetch(context.Background(), 1); err == nil {
		t.Fatal("expected error for non-200 status")
	}
}

func TestParseKlines_Invalid(t *testing.T) {
	for name, body := range map[string]string{
		"not json":    `{`,
		"short row":   `[[1,"1","1","1"]]`,
		"bad close":   `[[1,"1","1","1","x"]]`,
		"string time": `[["a","1","1","1","1"]]`,
	} {
		if _, err := ParseKlines([]byte(body)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

type stubProvider struct {
	candles []model.Candle
	err     error
}

func (s stubProvider) Fetch(context.Context, int) ([]model.Candle, error) { return s.candles, s.err }

type memCache struct {
	data map[int][]model.Candle
}

func (m *memCache) WriteCandles(_ context.Context, minutes int, c []model.Candle) error {
	m.data[minutes] = append([]model.Candle(nil), c...)
	return nil
}

func (m *memCache) ReadCandles(_ context.Context, minutes int, _ int64) ([]model.Candle, error) {
	return m.data[minutes], nil
}

func TestCachedProvider(t *testing.T) {
	cache := &memCache{data: map[int][]model.Candle{}}
	live := []model.Candle{{OpenTime: 0, Close: 1}, {OpenTime: 60_000, Close: 2}}

	p := NewCachedProvider(stubProvider{candles: live}, cache, nil)
	got, err := p.Fetch(context.Background(), 1)
	if err != nil || len(got) != 2 {
		t.Fatalf("expected live candles, got %v %v", got, err)
	}
	if len(cache.data[1]) != 2 {
		t.Fatal("expected fetched candles cached")
	}

	upErr := errors.New("upstream down")
	fallbacks := 0
	p = NewCachedProvider(stubProvider{err: upErr}, cache, nil)
	p.OnFallback = func() { fallbacks++ }
	got, err = p.Fetch(context.Background(), 1)
	if err != nil || len(got) != 2 || got[1].Close != 2 {
		t.Fatalf("expected cached candles, got %v %v", got, err)
	}
	if fallbacks != 1 {
		t.Errorf("expected 1 fallback, got %d", fallbacks)
	}

	if _, err := p.Fetch(context.Background(), 15); !errors.Is(err, upErr) {
		t.Errorf("expected upstream error with empty cache, got %v", err)
	}
}
