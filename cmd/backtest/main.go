// cmd/backtest replays cached candles from SQLite through the simulator and
// trades an SMA crossover strategy on closed candles, then prints the trade stats.
//
// Usage:
//
//	go run ./cmd/backtest --db=data/simulator.db --tf=5 --speed=0 --fast=5 --slow=20
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"spot-simulator/internal/logger"
	"spot-simulator/internal/marketdata/replay"
	"spot-simulator/internal/model"
	"spot-simulator/internal/simulator"
	sqlitestore "spot-simulator/internal/store/sqlite"
	"spot-simulator/internal/strategy"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// buyFraction of available cash is committed on each entry.
var buyFraction = decimal.NewFromFloat(0.95)

func main() {
	dbPath := flag.String("db", "data/simulator.db", "Path to SQLite database")
	tf := flag.Int("tf", 5, "Cached timeframe to replay, in minutes")
	fromMs := flag.Int64("from", 0, "Replay candles opened after this Unix ms (0=all)")
	speed := flag.Float64("speed", 0, "Playback speed multiplier (0=max, 1=realtime, 100=100x)")
	fast := flag.Int("fast", 5, "Fast SMA period")
	slow := flag.Int("slow", 20, "Slow SMA period")
	rsi := flag.Int("rsi", 14, "RSI filter period (0=off)")
	cash := flag.String("cash", "10000", "Starting cash")
	level := flag.String("log-level", "info", "Log level")
	flag.Parse()

	log, err := logger.Init("backtest", logger.ParseLevel(*level))
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	initial, err := decimal.NewFromString(*cash)
	if err != nil || !initial.IsPositive() {
		log.Fatal("invalid starting cash", zap.String("cash", *cash))
	}
	if *fast <= 0 || *slow <= *fast {
		log.Fatal("need 0 < fast < slow", zap.Int("fast", *fast), zap.Int("slow", *slow))
	}

	store, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: *dbPath}, log)
	if err != nil {
		log.Fatal("sqlite open failed", zap.Error(err))
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	cfg := simulator.DefaultConfig()
	cfg.TimeframeMinutes = *tf
	cfg.InitialCash = initial
	sim := simulator.New(cfg, log)
	sim.SetConnected(true)

	ticks := make(chan model.PriceTick, 10000)
	go func() {
		defer close(ticks)
		if _, err := replay.New(store, log).Run(ctx, *tf, *fromMs, *speed, ticks); err != nil {
			log.Warn("replay stopped", zap.Error(err))
		}
	}()

	engine := strategy.NewEngine(strategy.NewSMACrossover(*fast, *slow, *rsi))
	var (
		processed int
		lastClose float64
		haveClose bool
		signals   int
	)
	for tick := range ticks {
		res := sim.OnTick(tick)
		processed++
		if !res.Aggregated || !res.Candle.IsNew {
			continue
		}
		// A new candle means the previous one closed.
		if haveClose {
			for _, sig := range engine.OnClose(lastClose) {
				signals++
				log.Debug("signal", zap.String("action", string(sig.Action)), zap.String("reason", sig.Reason))
				act(sim, sig.Action, log)
			}
		}
		lastClose, haveClose = res.Candle.Candle.Close, true
	}

	st := sim.State()
	stats := sim.Stats()

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        BACKTEST COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Ticks replayed:    %-16d ║\n", processed)
	fmt.Printf("║  Signals:           %-16d ║\n", signals)
	fmt.Printf("║  Closed trades:     %-16d ║\n", stats.Count)
	fmt.Printf("║  Win rate:          %-16s ║\n", fmt.Sprintf("%.1f%%", stats.WinRate*100))
	fmt.Printf("║  Realized P&L:      %-16s ║\n", stats.TotalPnL.StringFixed(2))
	fmt.Printf("║  Best / worst:      %-16s ║\n", stats.Best.StringFixed(2)+" / "+stats.Worst.StringFixed(2))
	fmt.Printf("║  Net P&L:           %-16s ║\n", st.PnL.NetPnL.StringFixed(2))
	fmt.Printf("║  Cash / coin:       %-16s ║\n", st.Portfolio.Cash.StringFixed(2)+" / "+st.Portfolio.Coin.StringFixed(6))
	fmt.Println("╚══════════════════════════════════════╝")
}

// act turns a strategy action into a market order sized from the current
// portfolio. Buys are skipped while a position is open.
func act(sim *simulator.Simulator, action strategy.Action, log *zap.Logger) {
	st := sim.State()
	price := sim.Price()
	req := model.OrderRequest{Mode: model.ModeMarket, Price: price}
	switch action {
	case strategy.ActionBuy:
		if st.Position != nil || !price.IsPositive() {
			return
		}
		req.Side = model.SideBuy
		req.Amount = st.AvailableCash.Mul(buyFraction).Div(price).Truncate(6)
	case strategy.ActionSell:
		if st.Position == nil {
			return
		}
		req.Side = model.SideSell
		req.Amount = st.AvailableCoin
	}
	if !req.Amount.IsPositive() {
		return
	}
	if _, _, err := sim.Submit(req); err != nil {
		log.Warn("order rejected", zap.String("side", string(req.Side)), zap.Error(err))
	}
}
