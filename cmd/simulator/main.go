// cmd/simulator runs the spot trading simulator: live price feed, candle
// aggregation with SMA/EMA/RSI, a simulated portfolio with market and limit
// orders, snapshot persistence, alerts and a JSON/WebSocket API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"spot-simulator/config"
	"spot-simulator/internal/api"
	"spot-simulator/internal/execution"
	"spot-simulator/internal/history"
	"spot-simulator/internal/indicator"
	"spot-simulator/internal/logger"
	"spot-simulator/internal/marketdata/bus"
	"spot-simulator/internal/marketdata/feed"
	"spot-simulator/internal/metrics"
	"spot-simulator/internal/model"
	"spot-simulator/internal/notification"
	"spot-simulator/internal/simulator"
	redisstore "spot-simulator/internal/store/redis"
	sqlitestore "spot-simulator/internal/store/sqlite"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const busBuffer = 1024

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.Init("simulator", logger.ParseLevel(cfg.LogLevel))
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("starting", zap.String("symbol", cfg.Symbol), zap.Int("timeframe", cfg.TimeframeMinutes))

	// ---- Metrics & health ----
	prom := metrics.NewMetrics(nil)
	health := metrics.NewHealthStatus()
	health.SetTimeframe(history.NormalizeMinutes(cfg.TimeframeMinutes))
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, log)
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- SQLite: candle cache, trade journal, default snapshot store ----
	if err := ensureDataDir(cfg.SQLitePath); err != nil {
		log.Fatal("create sqlite directory failed", zap.Error(err))
	}
	sqlStore, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath}, log)
	if err != nil {
		log.Fatal("sqlite init failed", zap.Error(err))
	}
	defer sqlStore.Close()
	sqlStore.OnCommit = func(d time.Duration) { prom.SQLiteCommitDur.Observe(d.Seconds()) }
	health.SetSQLiteOK(true)

	journal, err := execution.NewJournal(cfg.SQLitePath, log)
	if err != nil {
		log.Fatal("journal init failed", zap.Error(err))
	}
	defer journal.Close()

	// ---- Redis: optional snapshot store and update publisher ----
	var rdb *redisstore.Store
	if cfg.StoreBackend == "redis" || cfg.RedisPublish {
		rdb, err = redisstore.New(redisstore.WriterConfig{
			Addr:           cfg.RedisAddr,
			Password:       cfg.RedisPassword,
			DB:             cfg.RedisDB,
			SnapshotKey:    cfg.SnapshotKey,
			UpdatesChannel: cfg.UpdatesChannel,
		}, log)
		if err != nil {
			log.Warn("redis init failed, continuing without redis", zap.Error(err))
		} else {
			defer rdb.Close()
			health.SetRedisEnabled(true)
			health.CheckRedis(ctx, rdb.Client())
		}
	}

	var snapStore model.SnapshotStore = sqlStore
	if cfg.StoreBackend == "redis" && rdb != nil {
		cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
		cb.OnStateChange = func(from, to redisstore.State) {
			prom.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.RedisCircuitBreakerTrips.Inc()
			}
			log.Warn("redis circuit breaker", zap.String("from", from.String()), zap.String("to", to.String()))
		}
		buffered := redisstore.NewBufferedStore(rdb, cb, log)
		buffered.OnBuffer = prom.RedisBufferedSnapshots.Inc
		snapStore = buffered
		log.Info("using redis snapshot store")
	} else if cfg.StoreBackend == "redis" {
		log.Warn("redis unavailable, using sqlite snapshot store")
	}

	var rdbClient *goredis.Client
	if rdb != nil {
		rdbClient = rdb.Client()
	}
	health.StartLivenessChecker(ctx, rdbClient, sqlStore.DB(), 10*time.Second)

	// ---- Simulator ----
	sim := simulator.New(simulator.Config{
		TimeframeMinutes: cfg.TimeframeMinutes,
		MaxCandles:       cfg.MaxCandles,
		Indicators: indicator.Config{
			SMAPeriod: cfg.SMAPeriod,
			EMAPeriod: cfg.EMAPeriod,
			RSIPeriod: cfg.RSIPeriod,
		},
		InitialCash: cfg.InitialCash,
	}, log)
	sim.Hooks = simulator.Hooks{
		OnTick: func(aggregated bool) {
			prom.TicksTotal.Inc()
			if !aggregated {
				prom.LateTicks.Inc()
			}
			health.SetLastTickTime(time.Now())
		},
		OnFill: func(o model.Order) {
			prom.OrdersFilled.WithLabelValues(string(o.Mode), string(o.Side)).Inc()
		},
		OnReject: func(kind model.ValidationKind) {
			prom.OrdersRejected.WithLabelValues(string(kind)).Inc()
		},
		OnRecompute: func(d time.Duration) { prom.IndicatorComputeDur.Observe(d.Seconds()) },
		OnEvicted:   prom.CandlesEvicted.Inc,
	}

	provider := history.NewCachedProvider(history.NewClient(cfg.HistoryURL, cfg.Symbol, log), sqlStore, log)
	provider.OnFallback = prom.HistoryFallbacks.Inc
	sim.SetHistoryProvider(provider)

	loadCtx, loadCancel := context.WithTimeout(ctx, 10*time.Second)
	simulator.LoadInto(loadCtx, snapStore, sim, log)
	loadCancel()

	persister := simulator.NewPersister(snapStore, log)
	persister.OnSaved = func(d time.Duration) { prom.SnapshotSaveDur.Observe(d.Seconds()) }
	persister.OnError = func(error) { prom.SnapshotSaveErrors.Inc() }
	sim.SetSnapshotSink(persister)

	// ---- Update bus ----
	updates := make(chan model.Update, busBuffer)
	sim.SetUpdates(updates)

	fanout := bus.New(busBuffer, log)
	fanout.OnDrop = func(name string) { prom.FanoutDropsTotal.WithLabelValues(name).Inc() }
	candleSub := fanout.Subscribe("candles")
	journalSub := fanout.Subscribe("journal")
	alertSub := fanout.Subscribe("alerts")
	streamSub := fanout.Subscribe("stream")
	metricsSub := fanout.Subscribe("metrics")
	var redisSub <-chan model.Update
	if cfg.RedisPublish && rdb != nil {
		redisSub = fanout.Subscribe("redis")
	}

	var wg sync.WaitGroup
	goRun := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	goRun(func() { fanout.Run(ctx, updates) })
	goRun(func() { sqlStore.RunCandles(ctx, candleSub) })
	goRun(func() { journal.Run(ctx, journalSub) })
	goRun(func() { persister.Run(ctx) })
	if redisSub != nil {
		goRun(func() { rdb.RunPublisher(ctx, redisSub) })
	}

	notifiers := notification.Multi{notification.NewLogNotifier(log)}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.WebhookURL, log))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID, log))
	}
	dispatcher := notification.NewDispatcher(notifiers, log)
	dispatcher.OnSent = prom.AlertsSent.Inc
	dispatcher.OnFailed = func(error) { prom.AlertsFailed.Inc() }
	goRun(func() { dispatcher.Run(ctx, alertSub) })

	goRun(func() { observeUpdates(ctx, metricsSub, prom, health) })
	goRun(func() { sampleGauges(ctx, fanout, sim, prom) })

	// ---- History (after the bus is up so the reload is published) ----
	loadCtx, loadCancel = context.WithTimeout(ctx, 15*time.Second)
	if err := sim.LoadHistory(loadCtx); err != nil {
		log.Warn("initial history load failed", zap.Error(err))
	}
	loadCancel()

	// ---- API ----
	hub := api.NewHub(sim, log)
	goRun(func() { hub.Run(ctx, streamSub) })
	apiSrv := api.NewServer(sim, hub, health, log)
	apiSrv.SetJournal(journal)
	apiSrv.OnSubmit = func(o model.Order) {
		prom.OrdersSubmitted.WithLabelValues(string(o.Mode), string(o.Side)).Inc()
	}
	apiSrv.OnReject = func(kind string) { prom.OrdersRejected.WithLabelValues(kind).Inc() }
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           apiSrv.NewRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("api listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("api server error", zap.Error(err))
		}
	}()

	// ---- Price feed ----
	feedClient, err := feed.New(feed.Config{
		URL:               cfg.FeedURL,
		ReconnectDelay:    cfg.ReconnectDelay,
		MaxReconnectDelay: cfg.MaxReconnectDelay,
	}, log)
	if err != nil {
		log.Fatal("feed init failed", zap.Error(err))
	}
	feedClient.OnConnect = func() {
		sim.SetConnected(true)
		health.SetFeedConnected(true)
		prom.FeedConnected.Set(1)
	}
	feedClient.OnDisconnect = func(error) {
		sim.SetConnected(false)
		health.SetFeedConnected(false)
		prom.FeedConnected.Set(0)
	}
	feedClient.OnReconnect = func(time.Duration) { prom.FeedReconnects.Inc() }
	feedClient.OnFeedError = func(*model.FeedError) { prom.FeedErrors.Inc() }

	ticks := make(chan model.PriceTick, busBuffer)
	goRun(func() { feedClient.Start(ctx, ticks) })
	goRun(func() { sim.Run(ctx, ticks) })

	log.Info("simulator running",
		zap.String("feed", cfg.FeedURL), zap.String("store", cfg.StoreBackend))

	// ---- Shutdown ----
	sig := <-sigCh
	log.Info("shutting down", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	shutdownHTTP(shutdownCtx, httpSrv, log)

	cancel()
	wg.Wait()

	if err := snapStore.Save(shutdownCtx, sim.Snapshot()); err != nil {
		log.Error("final snapshot save failed", zap.Error(err))
	} else {
		log.Info("final snapshot saved")
	}
	if buffered, ok := snapStore.(*redisstore.BufferedStore); ok {
		buffered.Flush(shutdownCtx)
	}
	metricsSrv.Stop(shutdownCtx)
	log.Info("stopped")
}

// ensureDataDir creates the directory holding the database file.
func ensureDataDir(dbPath string) error {
	dir := filepath.Dir(dbPath)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return nil
}

// shutdownHTTP stops srv, logging requests cut off by the deadline.
func shutdownHTTP(ctx context.Context, srv *http.Server, log *zap.Logger) error {
	err := srv.Shutdown(ctx)
	if err != nil {
		log.Error("api server shutdown error", zap.Error(err))
	}
	return err
}

// observeUpdates derives counters from the update stream.
func observeUpdates(ctx context.Context, updates <-chan model.Update, prom *metrics.Metrics, health *metrics.HealthStatus) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			switch u.Kind {
			case model.UpdateTick:
				p, _ := u.Price.Float64()
				prom.LastPrice.Set(p)
				if u.Candle != nil && u.Candle.IsNew {
					prom.CandlesTotal.Inc()
				}
			case model.UpdateTrade:
				prom.TradesClosed.Inc()
			case model.UpdateReload:
				prom.HistoryReloads.Inc()
				health.SetTimeframe(u.Timeframe)
			}
		}
	}
}

// sampleGauges periodically records channel saturation and pending orders.
func sampleGauges(ctx context.Context, fanout *bus.FanOut, sim *simulator.Simulator, prom *metrics.Metrics) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, st := range fanout.ChannelStats() {
				prom.SetChannelSaturation(st.Name, st.Len, st.Cap)
			}
			prom.PendingOrders.Set(float64(len(sim.State().PendingOrders)))
		}
	}
}
