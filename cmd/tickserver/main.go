// cmd/tickserver is an offline price feed for the simulator. It broadcasts
// Binance-shaped trade events from a random walk over WebSocket and serves a
// matching /api/v3/klines history, so the simulator runs without network
// access:
//
//	FEED_URL=ws://localhost:9001/ws HISTORY_URL=http://localhost:9001 go run ./cmd/simulator
//
// Config (env vars):
//
//	TICK_SERVER_ADDR  listen address (default ":9001")
//	TICK_SYMBOL       symbol in emitted events (default "BTCUSDT")
//	TICK_START_PRICE  starting price (default "67000")
//	TICK_INTERVAL_MS  broadcast interval in milliseconds (default 250)
package main

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"spot-simulator/internal/history"
	"spot-simulator/internal/logger"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// tradeMsg mirrors a Binance trade stream event.
type tradeMsg struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	TradeID   int64  `json:"t"`
	Price     string `json:"p"`
	Qty       string `json:"q"`
	TradeTime int64  `json:"T"`
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client, drop
		}
	}
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("upgrade failed", zap.Error(err))
			return
		}
		log.Info("client connected", zap.String("remote", r.RemoteAddr))

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Info("client disconnected", zap.String("remote", r.RemoteAddr))
		}()

		// Drain reads so close frames are processed.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					h.unregister(conn)
					return
				}
			}
		}()

		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ─── Price walk ──────────────────────────────────────────────────────────────

type walker struct {
	mu    sync.Mutex
	rng   *rand.Rand
	price decimal.Decimal
}

// step applies a random move of up to ±0.1% and returns the new price.
func (w *walker) step() decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.price = walk(w.rng, w.price)
	return w.price
}

func (w *walker) current() decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.price
}

var minPrice = decimal.RequireFromString("0.01")

func walk(rng *rand.Rand, price decimal.Decimal) decimal.Decimal {
	pct := decimal.NewFromFloat((rng.Float64()*0.2 - 0.1) / 100.0)
	next := price.Add(price.Mul(pct)).Round(2)
	if next.LessThan(minPrice) {
		return minPrice
	}
	return next
}

func runGenerator(h *hub, w *walker, symbol string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var tradeID int64
	for range ticker.C {
		tradeID++
		now := time.Now().UnixMilli()
		b, err := json.Marshal(tradeMsg{
			Event:     "trade",
			EventTime: now,
			Symbol:    symbol,
			TradeID:   tradeID,
			Price:     w.step().StringFixed(2),
			Qty:       decimal.NewFromFloat(float64(w.rng.Intn(1000)+1) / 10000).String(),
			TradeTime: now,
		})
		if err != nil {
			continue
		}
		h.broadcast(b)
	}
}

// ─── Klines ──────────────────────────────────────────────────────────────────

// klinesHandler walks backward from the current price to produce a plausible
// history ending at the current bucket.
func klinesHandler(w *walker) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		interval := r.URL.Query().Get("interval")
		minutes, err := strconv.Atoi(strings.TrimSuffix(interval, "m"))
		if err != nil || !strings.HasSuffix(interval, "m") || minutes <= 0 {
			http.Error(rw, `{"code":-1120,"msg":"Invalid interval."}`, http.StatusBadRequest)
			return
		}
		limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
		if err != nil || limit <= 0 || limit > 1000 {
			limit = history.Limit(minutes)
		}

		bucket := int64(minutes) * 60_000
		last := time.Now().UnixMilli() / bucket * bucket
		rng := rand.New(rand.NewSource(last))
		closes := make([]decimal.Decimal, limit)
		price := w.current()
		for i := limit - 1; i >= 0; i-- {
			closes[i] = price
			for j := 0; j < minutes*4; j++ {
				price = walk(rng, price)
			}
		}

		rows := make([][]any, limit)
		for i, c := range closes {
			open := last - int64(limit-1-i)*bucket
			p := c.StringFixed(2)
			rows[i] = []any{open, p, p, p, p, "0", open + bucket - 1, "0", 0, "0", "0", "0"}
		}
		rw.Header().Set("Content-Type", "application/json")
		json.NewEncoder(rw).Encode(rows)
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	v := viper.New()
	v.SetDefault("TICK_SERVER_ADDR", ":9001")
	v.SetDefault("TICK_SYMBOL", "BTCUSDT")
	v.SetDefault("TICK_START_PRICE", "67000")
	v.SetDefault("TICK_INTERVAL_MS", 250)
	v.SetDefault("LOG_LEVEL", "info")
	v.AutomaticEnv()

	log, err := logger.Init("tickserver", logger.ParseLevel(v.GetString("LOG_LEVEL")))
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	start, err := decimal.NewFromString(v.GetString("TICK_START_PRICE"))
	if err != nil || !start.IsPositive() {
		log.Fatal("invalid TICK_START_PRICE", zap.String("value", v.GetString("TICK_START_PRICE")))
	}
	intervalMs := v.GetInt("TICK_INTERVAL_MS")
	if intervalMs <= 0 {
		intervalMs = 250
	}
	addr := v.GetString("TICK_SERVER_ADDR")
	symbol := strings.ToUpper(v.GetString("TICK_SYMBOL"))

	h := newHub()
	w := &walker{rng: rand.New(rand.NewSource(time.Now().UnixNano())), price: start}
	go runGenerator(h, w, symbol, time.Duration(intervalMs)*time.Millisecond)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler(h, log))
	mux.HandleFunc("GET /api/v3/klines", klinesHandler(w))
	mux.HandleFunc("/health", func(rw http.ResponseWriter, _ *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		rw.Write([]byte(`{"status":"ok","service":"tickserver"}`))
	})

	log.Info("tickserver listening",
		zap.String("addr", addr), zap.String("symbol", symbol),
		zap.String("start_price", start.String()), zap.Int("interval_ms", intervalMs))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
