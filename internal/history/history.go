// Package history fetches historical candles to seed the aggregator.
//
// Client reads Binance klines over REST. CachedProvider wraps any provider,
// writes successful fetches to a candle cache and serves the cache when the
// upstream call fails.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"spot-simulator/internal/model"

	"go.uber.org/zap"
)

// DefaultMinutes is used for unsupported timeframes.
const DefaultMinutes = 5

// historyWindowMinutes is how far back a fetch reaches (4 hours).
const historyWindowMinutes = 240

var intervals = map[int]string{
	1:  "1m",
	3:  "3m",
	5:  "5m",
	15: "15m",
	30: "30m",
}

// NormalizeMinutes maps unsupported timeframes to DefaultMinutes.
func NormalizeMinutes(minutes int) int {
	if _, ok := intervals[minutes]; ok {
		return minutes
	}
	return DefaultMinutes
}

// Interval returns the kline interval string for a timeframe.
func Interval(minutes int) string {
	return intervals[NormalizeMinutes(minutes)]
}

// Limit returns the number of candles covering the history window
// (1m → 240, 5m → 48).
func Limit(minutes int) int {
	return historyWindowMinutes / NormalizeMinutes(minutes)
}

// Client is a Binance klines REST client.
type Client struct {
	baseURL    string
	symbol     string
	httpClient *http.Client
	log        *zap.Logger
}

// NewClient creates a klines client for symbol against baseURL
// (e.g. https://api.binance.com).
func NewClient(baseURL, symbol string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL:    baseURL,
		symbol:     symbol,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
}

// Fetch returns candles for the timeframe, oldest first.
func (c *Client) Fetch(ctx context.Context, minutes int) ([]model.Candle, error) {
	params := url.Values{}
	params.Set("symbol", c.symbol)
	params.Set("interval", Interval(minutes))
	params.Set("limit", strconv.Itoa(Limit(minutes)))
	reqURL := c.baseURL + "/api/v3/klines?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("history: create request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("history: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history: status %d: %s", resp.StatusCode, truncate(body, 200))
	}

	candles, err := ParseKlines(body)
	if err != nil {
		return nil, err
	}
	c.log.Debug("fetched klines",
		zap.String("interval", Interval(minutes)),
		zap.Int("count", len(candles)),
		zap.Duration("took", time.Since(start)))
	return candles, nil
}

// ParseKlines decodes a klines array ([[openTime, open, high, low, close, ...], ...])
// into close-only candles.
func ParseKlines(body []byte) ([]model.Candle, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("history: decode klines: %w", err)
	}

	out := make([]model.Candle, 0, len(rows))
	for i, row := range rows {
		if len(row) < 5 {
			return nil, fmt.Errorf("history: kline %d has %d fields", i, len(row))
		}
		var openTime int64
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			return nil, fmt.Errorf("history: kline %d open time: %w", i, err)
		}
		var closeStr string
		if err := json.Unmarshal(row[4], &closeStr); err != nil {
			return nil, fmt.Errorf("history: kline %d close: %w", i, err)
		}
		closePrice, err := strconv.ParseFloat(closeStr, 64)
		if err != nil {
			return nil, fmt.Errorf("history: kline %d close %q: %w", i, closeStr, err)
		}
		out = append(out, model.Candle{OpenTime: openTime, Close: closePrice})
	}
	return out, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

// CandleCache is the storage a CachedProvider reads and writes.
type CandleCache interface {
	model.CandleWriter
	model.CandleReader
}

// CachedProvider serves upstream history and falls back to a local cache.
type CachedProvider struct {
	upstream model.HistoryProvider
	cache    CandleCache
	log      *zap.Logger

	// OnFallback is called when the cache answered for a failed upstream.
	OnFallback func()
}

// NewCachedProvider wraps upstream with cache.
func NewCachedProvider(upstream model.HistoryProvider, cache CandleCache, log *zap.Logger) *CachedProvider {
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedProvider{upstream: upstream, cache: cache, log: log}
}

// Fetch tries upstream first. On success the candles are cached; on failure
// the newest cached candles for the timeframe are returned instead. The
// upstream error is returned only when the cache is empty too.
func (p *CachedProvider) Fetch(ctx context.Context, minutes int) ([]model.Candle, error) {
	minutes = NormalizeMinutes(minutes)

	candles, err := p.upstream.Fetch(ctx, minutes)
	if err == nil {
		if werr := p.cache.WriteCandles(ctx, minutes, candles); werr != nil {
			p.log.Warn("candle cache write failed", zap.Int("tf", minutes), zap.Error(werr))
		}
		return candles, nil
	}

	cached, cerr := p.cache.ReadCandles(ctx, minutes, 0)
	if cerr != nil || len(cached) == 0 {
		if cerr != nil {
			p.log.Warn("candle cache read failed", zap.Int("tf", minutes), zap.Error(cerr))
		}
		return nil, err
	}
	if n := len(cached) - Limit(minutes); n > 0 {
		cached = cached[n:]
	}
	p.log.Warn("history upstream failed, serving cache",
		zap.Int("tf", minutes), zap.Int("cached", len(cached)), zap.Error(err))
	if p.OnFallback != nil {
		p.OnFallback()
	}
	return cached, nil
}
