package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"spot-simulator/internal/execution"
	"spot-simulator/internal/model"
	"spot-simulator/internal/simulator"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

type stubProvider struct {
	candles []model.Candle
	err     error
}

func (p stubProvider) Fetch(context.Context, int) ([]model.Candle, error) { return p.candles, p.err }

func newTestServer(t *testing.T) (*simulator.Simulator, *httptest.Server) {
	t.Helper()
	cfg := simulator.DefaultConfig()
	cfg.TimeframeMinutes = 1
	sim := simulator.New(cfg, nil)
	sim.SetConnected(true)
	sim.OnTick(model.PriceTick{Timestamp: 1_700_000_000_000, Price: decimal.NewFromInt(100)})

	srv := httptest.NewServer(NewServer(sim, NewHub(sim, nil), nil, nil).NewRouter())
	t.Cleanup(srv.Close)
	return sim, srv
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var buf strings.Builder
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatal(err)
	}
	return resp, []byte(buf.String())
}

func TestSubmitMarketBuy(t *testing.T) {
	sim, srv := newTestServer(t)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/orders", `{"mode":"market","side":"buy","amount":"2"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, body)
	}
	var got submitResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if got.Order.Status != model.StatusFilled || !got.Order.Price.Equal(decimal.NewFromInt(100)) {
		t.Errorf("unexpected order %+v", got.Order)
	}
	if !sim.State().Portfolio.Cash.Equal(decimal.NewFromInt(9800)) {
		t.Errorf("expected cash 9800, got %s", sim.State().Portfolio.Cash)
	}
}

func TestSubmitErrors(t *testing.T) {
	sim, srv := newTestServer(t)

	cases := []struct {
		name string
		body string
		code int
		kind string
	}{
		{"zero amount", `{"mode":"market","side":"buy","amount":"0"}`, http.StatusBadRequest, "amount"},
		{"insufficient cash", `{"mode":"market","side":"buy","amount":"1000"}`, http.StatusBadRequest, "balance"},
		{"missing limit price", `{"mode":"limit","side":"buy","amount":"1"}`, http.StatusBadRequest, "price"},
		{"bad json", `{"mode":`, http.StatusBadRequest, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/orders", tc.body)
			if resp.StatusCode != tc.code {
				t.Fatalf("expected %d, got %d: %s", tc.code, resp.StatusCode, body)
			}
			var eb errorBody
			json.Unmarshal(body, &eb)
			if eb.Kind != tc.kind || eb.Error == "" {
				t.Errorf("unexpected error body %s", body)
			}
		})
	}

	sim.SetConnected(false)
	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/orders", `{"mode":"market","side":"buy","amount":"1"}`)
	if resp.StatusCode != http.StatusConflict || !strings.Contains(string(body), "connection") {
		t.Errorf("expected 409 connection error, got %d: %s", resp.StatusCode, body)
	}
}

func TestCancelOrder(t *testing.T) {
	sim, srv := newTestServer(t)

	_, body := do(t, http.MethodPost, srv.URL+"/api/v1/orders", `{"mode":"limit","side":"buy","price":"90","amount":"1"}`)
	var sub submitResponse
	if err := json.Unmarshal(body, &sub); err != nil {
		t.Fatal(err)
	}
	if sub.Order.Status != model.StatusPending {
		t.Fatalf("expected pending limit order, got %+v", sub.Order)
	}

	resp, body := do(t, http.MethodDelete, srv.URL+"/api/v1/orders/"+sub.Order.ID, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	if len(sim.State().PendingOrders) != 0 {
		t.Error("expected no pending orders after cancel")
	}

	resp, _ = do(t, http.MethodDelete, srv.URL+"/api/v1/orders/"+sub.Order.ID, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 on second cancel, got %d", resp.StatusCode)
	}
}

func TestStateChartAndResets(t *testing.T) {
	sim, srv := newTestServer(t)
	sim.Submit(model.OrderRequest{Mode: model.ModeMarket, Side: model.SideBuy, Amount: decimal.NewFromInt(1)})

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/chart", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chart: %d", resp.StatusCode)
	}
	var chart struct {
		Timeframe  int             `json:"timeframe"`
		Candles    []model.Candle  `json:"candles"`
		Indicators json.RawMessage `json:"indicators"`
	}
	if err := json.Unmarshal(body, &chart); err != nil {
		t.Fatal(err)
	}
	if chart.Timeframe != 1 || len(chart.Candles) != 1 || !strings.Contains(string(chart.Indicators), `"rsi":[null]`) {
		t.Errorf("unexpected chart %s", body)
	}

	resp, body = do(t, http.MethodPost, srv.URL+"/api/v1/reset/portfolio", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset: %d", resp.StatusCode)
	}
	var st simulator.State
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatal(err)
	}
	if !st.Portfolio.Cash.Equal(decimal.NewFromInt(10000)) || !st.Portfolio.Coin.IsZero() || st.Position != nil {
		t.Errorf("expected reset portfolio, got %+v", st.Portfolio)
	}

	for _, path := range []string{"/api/v1/state", "/api/v1/trades", "/api/v1/stats", "/api/v1/health"} {
		if resp, _ := do(t, http.MethodGet, srv.URL+path, ""); resp.StatusCode != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, resp.StatusCode)
		}
	}
}

func TestChangeTimeframe(t *testing.T) {
	sim, srv := newTestServer(t)
	sim.SetHistoryProvider(stubProvider{candles: []model.Candle{{OpenTime: 0, Close: 1}, {OpenTime: 900_000, Close: 2}}})

	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/timeframe", `{"minutes":15}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	if sim.Timeframe() != 15 || len(sim.Chart().Candles) != 2 {
		t.Errorf("expected 15m with 2 candles, got %dm/%d", sim.Timeframe(), len(sim.Chart().Candles))
	}

	sim.SetHistoryProvider(stubProvider{err: errors.New("upstream down")})
	resp, body = do(t, http.MethodPost, srv.URL+"/api/v1/timeframe", `{"minutes":7}`)
	if resp.StatusCode != http.StatusBadGateway || !strings.Contains(string(body), "upstream down") {
		t.Errorf("expected 502 with error, got %d: %s", resp.StatusCode, body)
	}
	if sim.Timeframe() != 5 || len(sim.Chart().Candles) != 0 {
		t.Errorf("expected fallback 5m with empty chart, got %dm/%d", sim.Timeframe(), len(sim.Chart().Candles))
	}
}

type gatedProvider struct {
	entered chan struct{}
	release chan struct{}
}

func (p *gatedProvider) Fetch(_ context.Context, minutes int) ([]model.Candle, error) {
	if minutes == 15 {
		close(p.entered)
		<-p.release
	}
	return nil, nil
}

func TestChangeTimeframeSuperseded(t *testing.T) {
	sim, srv := newTestServer(t)
	p := &gatedProvider{entered: make(chan struct{}), release: make(chan struct{})}
	sim.SetHistoryProvider(p)

	type result struct {
		code int
		body string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := http.Post(srv.URL+"/api/v1/timeframe", "application/json", strings.NewReader(`{"minutes":15}`))
		if err != nil {
			done <- result{err: err}
			return
		}
		defer resp.Body.Close()
		var b strings.Builder
		_, err = io.Copy(&b, resp.Body)
		done <- result{code: resp.StatusCode, body: b.String(), err: err}
	}()
	<-p.entered

	if err := sim.ChangeTimeframe(context.Background(), 30); err != nil {
		t.Fatal(err)
	}
	close(p.release)

	r := <-done
	if r.err != nil {
		t.Fatal(r.err)
	}
	if r.code != http.StatusConflict || !strings.Contains(r.body, `"kind":"superseded"`) {
		t.Errorf("expected 409 superseded, got %d: %s", r.code, r.body)
	}
	if sim.Timeframe() != 30 {
		t.Errorf("expected 30m to win, got %dm", sim.Timeframe())
	}
}

type fakeJournal struct{ limit int }

func (f *fakeJournal) GetFills(_ context.Context, limit int) ([]execution.FillRecord, error) {
	f.limit = limit
	return []execution.FillRecord{{ID: 1, OrderID: "o1"}}, nil
}

func TestFills(t *testing.T) {
	sim := simulator.New(simulator.DefaultConfig(), nil)
	s := NewServer(sim, nil, nil, nil)
	srv := httptest.NewServer(s.NewRouter())
	defer srv.Close()

	if resp, _ := do(t, http.MethodGet, srv.URL+"/api/v1/fills", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 without journal, got %d", resp.StatusCode)
	}

	j := &fakeJournal{}
	s.SetJournal(j)
	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/fills?limit=5", "")
	if resp.StatusCode != http.StatusOK || j.limit != 5 || !strings.Contains(string(body), `"order_id":"o1"`) {
		t.Errorf("unexpected fills response %d: %s (limit=%d)", resp.StatusCode, body, j.limit)
	}
	if resp, _ := do(t, http.MethodGet, srv.URL+"/api/v1/fills?limit=0", ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", resp.StatusCode)
	}
}

func TestStream(t *testing.T) {
	sim := simulator.New(simulator.DefaultConfig(), nil)
	hub := NewHub(sim, nil)
	srv := httptest.NewServer(NewServer(sim, hub, nil, nil).NewRouter())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := make(chan model.Update, 1)
	go hub.Run(ctx, updates)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/stream", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var first envelope
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatal(err)
	}
	if first.Type != "snapshot" {
		t.Fatalf("expected snapshot frame, got %q", first.Type)
	}

	for hub.Clients() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	updates <- model.Update{Kind: model.UpdateConnection, Connected: true}

	var next envelope
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatal(err)
	}
	if next.Type != string(model.UpdateConnection) || next.Seq <= first.Seq {
		t.Errorf("unexpected frame %+v", next)
	}
}
