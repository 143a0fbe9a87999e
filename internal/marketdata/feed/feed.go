// Package feed streams live trade prices from a WebSocket price feed.
//
// Accepted wire shapes are those of the normalize package: Binance trade
// events and the canonical {"timestamp":…,"price":…} form (as emitted by
// cmd/tickserver).
package feed

import (
	"context"
	"errors"
	"net/url"
	"time"

	"spot-simulator/internal/marketdata/normalize"
	"spot-simulator/internal/model"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Config holds configuration for the feed client.
type Config struct {
	// URL of the price stream, e.g. "wss://stream.binance.com:9443/ws/btcusdt@trade"
	URL string

	// ReconnectDelay is the initial delay before reconnecting. Defaults to 3s.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration

	// HandshakeTimeout bounds each dial. Defaults to 10s.
	HandshakeTimeout time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 3 * time.Second
	}
	if c.MaxReconnectDelay < c.ReconnectDelay {
		c.MaxReconnectDelay = 30 * time.Second
		if c.MaxReconnectDelay < c.ReconnectDelay {
			c.MaxReconnectDelay = c.ReconnectDelay
		}
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
}

// Client connects to the price feed and pushes normalized ticks downstream.
// A single goroutine owns the connection, so reconnects never overlap.
type Client struct {
	cfg Config
	log *zap.Logger
	now func() time.Time

	// Optional hooks
	OnConnect    func()
	OnDisconnect func(err error)
	OnReconnect  func(delay time.Duration) // called before each backoff wait
	OnFeedError  func(err *model.FeedError)
}

// New creates a feed client. Returns an error if the URL is unparseable.
func New(cfg Config, log *zap.Logger) (*Client, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, errors.New("feed: URL scheme must be ws or wss")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{cfg: cfg, log: log, now: time.Now}, nil
}

// Start connects and streams ticks into out. Blocks until ctx is cancelled.
// On any disconnect it waits, doubling the delay up to the cap, and dials
// again; a connection that was established resets the delay.
func (c *Client) Start(ctx context.Context, out chan<- model.PriceTick) error {
	delay := c.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		connected, err := c.runOnce(ctx, out)
		if err == nil {
			return nil
		}
		if connected {
			delay = c.cfg.ReconnectDelay
			if c.OnDisconnect != nil {
				c.OnDisconnect(err)
			}
		}

		c.log.Warn("feed disconnected, reconnecting",
			zap.Error(err), zap.Duration("delay", delay), zap.Bool("was_connected", connected))
		if c.OnReconnect != nil {
			c.OnReconnect(delay)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > c.cfg.MaxReconnectDelay {
			delay = c.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect or
// ctx cancel. A nil error means ctx was cancelled.
func (c *Client) runOnce(ctx context.Context, out chan<- model.PriceTick) (bool, error) {
	dialer := websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		return false, err
	}
	defer conn.Close()

	c.log.Info("feed connected", zap.String("url", c.cfg.URL))
	if c.OnConnect != nil {
		c.OnConnect()
	}

	// Closes the connection when ctx is cancelled to unblock ReadMessage.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return true, err
		}

		tick, err := normalize.Parse(raw, c.now)
		if err != nil {
			var fe *model.FeedError
			if errors.As(err, &fe) {
				c.log.Debug("dropping feed message", zap.String("reason", fe.Reason), zap.ByteString("raw", raw))
				if c.OnFeedError != nil {
					c.OnFeedError(fe)
				}
			}
			continue
		}

		select {
		case out <- tick:
		case <-ctx.Done():
			return true, nil
		}
	}
}
