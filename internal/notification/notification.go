package notification

import (
	"context"
	"log/slog"
	"sync"
)

const (
	// KindLedgerDrift alerts operators that a cached balance disagrees with its ledger.
	KindLedgerDrift = "ledger_drift"
	// KindInvalidTransition alerts operators that a withdrawal transition was refused.
	KindInvalidTransition = "withdrawal_invalid_transition"
	// KindCallbackRejected alerts operators that a payment callback could not be applied.
	KindCallbackRejected = "callback_rejected"
	// KindWithdrawalSettled tells a user their payout completed.
	KindWithdrawalSettled = "withdrawal_settled"
	// KindWithdrawalFailed tells a user their payout was reversed.
	KindWithdrawalFailed = "withdrawal_failed"

	// DestinationOperators routes a message to the on-call channel.
	DestinationOperators = "operators"
)

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	Body        string
	Attrs       map[string]string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes notifications to the logger. Operator
// alerts are logged at warn level so they surface in log-based alerting.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(ctx context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	attrs := []any{
		slog.String("kind", message.Kind),
		slog.String("destination", message.Destination),
		slog.String("body", message.Body),
	}
	for k, v := range message.Attrs {
		attrs = append(attrs, slog.String(k, v))
	}
	level := slog.LevelInfo
	if message.Destination == DestinationOperators {
		level = slog.LevelWarn
	}
	n.logger.Log(ctx, level, "notification", attrs...)
	return nil
}

// Recorder keeps every message in memory. Tests use it to assert on alerts.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

// Send records the message.
func (r *Recorder) Send(_ context.Context, message Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	return nil
}

// Messages returns the recorded messages of the given kind, or all when kind is empty.
func (r *Recorder) Messages(kind string) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	for _, m := range r.messages {
		if kind == "" || m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}
