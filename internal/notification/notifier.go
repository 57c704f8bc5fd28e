// Package notification delivers risk-engine alerts to external channels
// (Telegram, webhooks) so an operator hears about autonomous exits and
// budget events without watching the dashboard.
package notification

import (
	"context"
	"fmt"
	"log"

	"dealdesk/internal/engine"
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

// LogNotifier is a simple notifier that logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// FillAlert describes one autonomous exit execution.
func FillAlert(strategyID string, rec engine.FillRecord) Alert {
	return Alert{
		Level: AlertInfo,
		Title: fmt.Sprintf("Exit fill: %s", strategyID),
		Message: fmt.Sprintf("level %s filled %d @ %.2f (pnl %.2f%%), %d remaining",
			rec.Level, rec.Qty, float64(rec.AvgPrice)/100, rec.PnLPct, rec.RemainingAfter),
	}
}

// SuppressedAlert fires when the order budget denies a qualifying trigger.
func SuppressedAlert(strategyID string) Alert {
	return Alert{
		Level:   AlertWarning,
		Title:   "Exit suppressed by order budget",
		Message: fmt.Sprintf("monitor %s hit a trigger but the budget gate denied the order", strategyID),
	}
}

// BudgetAlert fires on operator budget overrides.
func BudgetAlert(newBudget int64) Alert {
	level := AlertInfo
	msg := fmt.Sprintf("order budget set to %d", newBudget)
	if newBudget == 0 {
		level = AlertCritical
		msg = "order budget set to 0: all autonomous orders halted"
	}
	return Alert{Level: level, Title: "Order budget override", Message: msg}
}

// Dispatcher fans alerts out to a set of backends off the hot path. Hooks
// hand alerts to Post; delivery failures are logged, never propagated.
type Dispatcher struct {
	backends []Notifier
	alertCh  chan Alert
}

// NewDispatcher creates a dispatcher over the given backends.
func NewDispatcher(backends ...Notifier) *Dispatcher {
	return &Dispatcher{
		backends: backends,
		alertCh:  make(chan Alert, 256),
	}
}

// Post queues an alert for delivery. Non-blocking; drops when the queue is
// full so a slow channel can never stall a monitor.
func (d *Dispatcher) Post(alert Alert) {
	select {
	case d.alertCh <- alert:
	default:
		log.Printf("[notify] queue full, dropping alert %q", alert.Title)
	}
}

// Run delivers queued alerts until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case alert := <-d.alertCh:
			for _, b := range d.backends {
				if err := b.Send(ctx, alert); err != nil {
					log.Printf("[notify] delivery failed: %v", err)
				}
			}
		}
	}
}
