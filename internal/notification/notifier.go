// Package notification turns simulator updates into alerts and delivers
// them to external channels (webhooks, Telegram).
package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"spot-simulator/internal/model"

	"go.uber.org/zap"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts (useful for development).
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	n.log.Info("alert",
		zap.String("level", string(alert.Level)),
		zap.String("title", alert.Title),
		zap.String("message", alert.Message))
	return nil
}

// Multi fans an alert out to every backend and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FromUpdate maps a simulator update to an alert. Ticks, reloads and
// connection-up events produce none.
func FromUpdate(u model.Update) (Alert, bool) {
	switch u.Kind {
	case model.UpdateFill:
		if u.Order == nil {
			return Alert{}, false
		}
		o := u.Order
		return Alert{
			Level:   AlertInfo,
			Title:   fmt.Sprintf("%s %s filled", o.Mode, o.Side),
			Message: fmt.Sprintf("%s @ %s (order %s)", o.Amount, o.Price, o.ID),
		}, true
	case model.UpdateTrade:
		if u.Trade == nil {
			return Alert{}, false
		}
		t := u.Trade
		level := AlertInfo
		if t.PnL.IsNegative() {
			level = AlertWarning
		}
		return Alert{
			Level:   level,
			Title:   "Trade closed",
			Message: fmt.Sprintf("%s bought @ %s sold @ %s, PnL %s", t.Amount, t.EntryPrice, t.ExitPrice, t.PnL.StringFixed(2)),
		}, true
	case model.UpdateCancel:
		if u.Order == nil {
			return Alert{}, false
		}
		return Alert{
			Level:   AlertWarning,
			Title:   "Order canceled",
			Message: fmt.Sprintf("%s %s %s @ %s (order %s)", u.Order.Mode, u.Order.Side, u.Order.Amount, u.Order.Price, u.Order.ID),
		}, true
	case model.UpdateConnection:
		if u.Connected {
			return Alert{}, false
		}
		return Alert{
			Level:   AlertCritical,
			Title:   "Price feed disconnected",
			Message: "Trading is disabled until the feed reconnects.",
		}, true
	case model.UpdateReset:
		return Alert{Level: AlertInfo, Title: "Simulator reset", Message: "Portfolio, orders or history were reset."}, true
	}
	return Alert{}, false
}

// Dispatcher delivers alerts for updates read from the bus.
type Dispatcher struct {
	notifier Notifier
	log      *zap.Logger
	timeout  time.Duration

	// Metrics hooks (optional, set externally)
	OnSent   func()
	OnFailed func(err error)
}

// NewDispatcher creates a dispatcher sending through n.
func NewDispatcher(n Notifier, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{notifier: n, log: log, timeout: 10 * time.Second}
}

// Run sends an alert for each relevant update until ctx is cancelled or the
// channel is closed. Delivery failures are logged and never retried.
func (d *Dispatcher) Run(ctx context.Context, updates <-chan model.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			alert, ok := FromUpdate(u)
			if !ok {
				continue
			}
			sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
			err := d.notifier.Send(sendCtx, alert)
			cancel()
			if err != nil {
				d.log.Warn("alert delivery failed", zap.String("title", alert.Title), zap.Error(err))
				if d.OnFailed != nil {
					d.OnFailed(err)
				}
				continue
			}
			if d.OnSent != nil {
				d.OnSent()
			}
		}
	}
}
