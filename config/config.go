package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration. Values come from (lowest to
// highest precedence) built-in defaults, an optional YAML file named by
// CONFIG_FILE, and environment variables (a .env file is loaded first).
type Config struct {
	// Market
	Symbol     string
	FeedURL    string
	HistoryURL string

	// Candles + indicators
	TimeframeMinutes int
	MaxCandles       int
	SMAPeriod        int
	EMAPeriod        int
	RSIPeriod        int

	// Portfolio
	InitialCash decimal.Decimal

	// Feed reconnect policy
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration

	// Persistence: "sqlite" or "redis"
	StoreBackend   string
	SQLitePath     string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	SnapshotKey    string
	UpdatesChannel string
	RedisPublish   bool

	// Surfaces
	HTTPAddr         string
	MetricsAddr      string
	WebhookURL       string
	TelegramBotToken string
	TelegramChatID   string
	LogLevel         string
}

var defaults = map[string]any{
	"SYMBOL":              "BTCUSDT",
	"FEED_URL":            "wss://stream.binance.com:9443/ws/btcusdt@trade",
	"HISTORY_URL":         "https://api.binance.com",
	"TIMEFRAME_MINUTES":   5,
	"MAX_CANDLES":         60,
	"SMA_PERIOD":          10,
	"EMA_PERIOD":          10,
	"RSI_PERIOD":          14,
	"INITIAL_CASH":        "10000",
	"RECONNECT_DELAY":     "3s",
	"MAX_RECONNECT_DELAY": "30s",
	"STORE_BACKEND":       "sqlite",
	"SQLITE_PATH":         "data/simulator.db",
	"REDIS_ADDR":          "localhost:6379",
	"REDIS_PASSWORD":      "",
	"REDIS_DB":            0,
	"SNAPSHOT_KEY":        "sim:snapshot",
	"UPDATES_CHANNEL":     "sim:updates",
	"REDIS_PUBLISH":       false,
	"HTTP_ADDR":           ":3000",
	"METRICS_ADDR":        ":9090",
	"WEBHOOK_URL":         "",
	"TELEGRAM_BOT_TOKEN":  "",
	"TELEGRAM_CHAT_ID":    "",
	"LOG_LEVEL":           "info",
}

// Load reads configuration with sensible defaults.
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	if path := v.GetString("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cash, err := decimal.NewFromString(v.GetString("INITIAL_CASH"))
	if err != nil {
		return nil, fmt.Errorf("config: INITIAL_CASH: %w", err)
	}

	cfg := &Config{
		Symbol:            strings.ToUpper(v.GetString("SYMBOL")),
		FeedURL:           v.GetString("FEED_URL"),
		HistoryURL:        strings.TrimRight(v.GetString("HISTORY_URL"), "/"),
		TimeframeMinutes:  v.GetInt("TIMEFRAME_MINUTES"),
		MaxCandles:        v.GetInt("MAX_CANDLES"),
		SMAPeriod:         v.GetInt("SMA_PERIOD"),
		EMAPeriod:         v.GetInt("EMA_PERIOD"),
		RSIPeriod:         v.GetInt("RSI_PERIOD"),
		InitialCash:       cash,
		ReconnectDelay:    v.GetDuration("RECONNECT_DELAY"),
		MaxReconnectDelay: v.GetDuration("MAX_RECONNECT_DELAY"),
		StoreBackend:      strings.ToLower(v.GetString("STORE_BACKEND")),
		SQLitePath:        v.GetString("SQLITE_PATH"),
		RedisAddr:         v.GetString("REDIS_ADDR"),
		RedisPassword:     v.GetString("REDIS_PASSWORD"),
		RedisDB:           v.GetInt("REDIS_DB"),
		SnapshotKey:       v.GetString("SNAPSHOT_KEY"),
		UpdatesChannel:    v.GetString("UPDATES_CHANNEL"),
		RedisPublish:      v.GetBool("REDIS_PUBLISH"),
		HTTPAddr:          v.GetString("HTTP_ADDR"),
		MetricsAddr:       v.GetString("METRICS_ADDR"),
		WebhookURL:        v.GetString("WEBHOOK_URL"),
		TelegramBotToken:  v.GetString("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:    v.GetString("TELEGRAM_CHAT_ID"),
		LogLevel:          v.GetString("LOG_LEVEL"),
	}
	return cfg, cfg.Validate()
}

// Validate checks ranges that would otherwise surface as runtime faults.
func (c *Config) Validate() error {
	if c.TimeframeMinutes <= 0 {
		return fmt.Errorf("config: TIMEFRAME_MINUTES must be positive, got %d", c.TimeframeMinutes)
	}
	if c.MaxCandles <= 0 {
		return fmt.Errorf("config: MAX_CANDLES must be positive, got %d", c.MaxCandles)
	}
	for name, p := range map[string]int{"SMA_PERIOD": c.SMAPeriod, "EMA_PERIOD": c.EMAPeriod, "RSI_PERIOD": c.RSIPeriod} {
		if p <= 0 {
			return fmt.Errorf("config: %s must be positive, got %d", name, p)
		}
	}
	if !c.InitialCash.IsPositive() {
		return fmt.Errorf("config: INITIAL_CASH must be positive, got %s", c.InitialCash)
	}
	switch c.StoreBackend {
	case "sqlite", "redis":
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 3 * time.Second
	}
	if c.MaxReconnectDelay < c.ReconnectDelay {
		c.MaxReconnectDelay = c.ReconnectDelay
	}
	return nil
}
