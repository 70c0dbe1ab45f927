package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/walletcore/internal/ledger"
	"github.com/congo-pay/walletcore/internal/logging"
	"github.com/congo-pay/walletcore/internal/metrics"
	"github.com/congo-pay/walletcore/internal/notification"
	"github.com/congo-pay/walletcore/internal/withdrawal"
)

// Outcome is what a callback did to the ledger.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
)

// Result describes a handled callback.
type Result struct {
	ExternalID string
	Kind       EventKind
	Outcome    Outcome
	Entry      *ledger.Entry
	Withdrawal *withdrawal.Request
}

// Withdrawals is the part of the withdrawal state machine driven by payout callbacks.
type Withdrawals interface {
	Get(ctx context.Context, id string) (withdrawal.Request, error)
	Settle(ctx context.Context, id string) (withdrawal.Request, error)
	Fail(ctx context.Context, id, reason string) (withdrawal.Request, error)
}

// Reconciler turns gateway callbacks into at most one ledger effect each. The external id is the
// ledger reference, so redelivery is absorbed by the ledger's uniqueness rule.
type Reconciler struct {
	ledger      ledger.Store
	withdrawals Withdrawals
	inbox       Inbox
	notifier    notification.Notifier
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewReconciler wires a reconciler. inbox and notifier may be nil.
func NewReconciler(store ledger.Store, withdrawals Withdrawals, inbox Inbox, notifier notification.Notifier, m *metrics.Metrics, logger *slog.Logger) *Reconciler {
	if inbox == nil {
		inbox = NewMemoryInbox()
	}
	return &Reconciler{
		ledger:      store,
		withdrawals: withdrawals,
		inbox:       inbox,
		notifier:    notifier,
		metrics:     m,
		logger:      logging.With(logger, "reconcile"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// HandleRaw decodes and handles a callback body. Undecodable bodies are recorded and rejected
// with ErrUnrecognizedEvent.
func (r *Reconciler) HandleRaw(ctx context.Context, raw []byte) (Result, error) {
	ev, err := Decode(raw)
	if err != nil {
		externalID, userID, kind := sniff(raw)
		res := Result{ExternalID: externalID, Kind: EventKind(kind), Outcome: OutcomeRejected}
		return r.finish(ctx, res, userID, raw, err)
	}
	return r.handle(ctx, ev, raw)
}

// HandleEvent handles an already typed callback.
func (r *Reconciler) HandleEvent(ctx context.Context, ev Event) (Result, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return Result{}, err
	}
	if err := ev.Validate(); err != nil {
		res := Result{ExternalID: ev.ExternalID, Kind: ev.Kind, Outcome: OutcomeRejected}
		return r.finish(ctx, res, ev.UserID, raw, err)
	}
	return r.handle(ctx, ev, raw)
}

func (r *Reconciler) handle(ctx context.Context, ev Event, raw []byte) (Result, error) {
	res := Result{ExternalID: ev.ExternalID, Kind: ev.Kind}
	var err error
	if ev.Kind.payout() {
		res, err = r.applyPayout(ctx, ev, res)
	} else {
		res, err = r.applyMoney(ctx, ev, res)
	}
	return r.finish(ctx, res, ev.UserID, raw, err)
}

func (r *Reconciler) applyMoney(ctx context.Context, ev Event, res Result) (Result, error) {
	if ev.Status != StatusSucceeded {
		res.Outcome = OutcomeIgnored
		return res, nil
	}
	kind, _ := ev.Kind.entryKind()

	entry, _, err := r.ledger.Append(ctx, ledger.NewEntry{
		UserID:      ev.UserID,
		Kind:        kind,
		Magnitude:   ev.Amount,
		ReferenceID: ev.ExternalID,
	})
	switch {
	case err == nil:
		res.Outcome = OutcomeApplied
		res.Entry = &entry
		r.metrics.LedgerAppend(string(kind), "applied")
		return res, nil
	case errors.Is(err, ledger.ErrDuplicateEntry):
		res.Outcome = OutcomeDuplicate
		r.metrics.LedgerAppend(string(kind), "duplicate")
		return res, nil
	case errors.Is(err, ledger.ErrUnknownAccount):
		res.Outcome = OutcomeRejected
		return res, fmt.Errorf("%w: user %s", ErrUnknownReference, ev.UserID)
	case errors.Is(err, ledger.ErrInsufficientFunds), errors.Is(err, ledger.ErrInvalidEntry):
		res.Outcome = OutcomeRejected
		r.metrics.LedgerAppend(string(kind), "rejected")
		return res, err
	default:
		res.Outcome = OutcomeFailed
		r.metrics.LedgerAppend(string(kind), "error")
		return res, err
	}
}

func (r *Reconciler) applyPayout(ctx context.Context, ev Event, res Result) (Result, error) {
	w, err := r.withdrawals.Get(ctx, ev.WithdrawalID)
	if err != nil {
		if errors.Is(err, withdrawal.ErrNotFound) {
			res.Outcome = OutcomeRejected
			return res, fmt.Errorf("%w: withdrawal %s", ErrUnknownReference, ev.WithdrawalID)
		}
		res.Outcome = OutcomeFailed
		return res, err
	}
	if ev.UserID != "" && ev.UserID != w.UserID {
		res.Outcome = OutcomeRejected
		return res, fmt.Errorf("%w: withdrawal %s does not belong to user %s", ErrUnknownReference, w.ID, ev.UserID)
	}
	if ev.Amount != 0 && ev.Amount != w.Amount {
		res.Outcome = OutcomeRejected
		return res, fmt.Errorf("%w: withdrawal %s amount %d does not match %d", ErrUnknownReference, w.ID, w.Amount, ev.Amount)
	}
	if ev.Status == StatusPending {
		res.Outcome = OutcomeIgnored
		return res, nil
	}

	if ev.Kind == KindPayoutSettled && ev.Status == StatusSucceeded {
		w, err = r.withdrawals.Settle(ctx, w.ID)
	} else {
		reason := ev.Reason
		if reason == "" {
			reason = "payout failed at gateway"
		}
		w, err = r.withdrawals.Fail(ctx, w.ID, reason)
	}
	res.Withdrawal = &w

	switch {
	case err == nil:
		res.Outcome = OutcomeApplied
		return res, nil
	case errors.Is(err, ledger.ErrDuplicateEntry):
		res.Outcome = OutcomeDuplicate
		return res, nil
	case errors.Is(err, ledger.ErrUnknownAccount):
		res.Outcome = OutcomeRejected
		return res, fmt.Errorf("%w: no ledger account for withdrawal %s", ErrUnknownReference, w.ID)
	case errors.Is(err, withdrawal.ErrInvalidTransition),
		errors.Is(err, withdrawal.ErrLedgerMismatch),
		errors.Is(err, ledger.ErrNegativeHold):
		res.Outcome = OutcomeRejected
		return res, err
	default:
		res.Outcome = OutcomeFailed
		return res, err
	}
}

// finish writes the audit record, counts the event and raises alerts for rejected events.
func (r *Reconciler) finish(ctx context.Context, res Result, userID string, raw []byte, cause error) (Result, error) {
	r.metrics.CallbackEvent(string(res.Kind), string(res.Outcome))

	attrs := []any{
		slog.String("external_id", res.ExternalID),
		slog.String("user_id", userID),
		slog.String("kind", string(res.Kind)),
		slog.String("outcome", string(res.Outcome)),
	}
	switch {
	case cause == nil:
		r.logger.InfoContext(ctx, "payment event reconciled", attrs...)
	case Retryable(cause):
		r.logger.ErrorContext(ctx, "payment event failed", append(attrs, slog.String("error", cause.Error()))...)
	default:
		r.logger.WarnContext(ctx, "payment event rejected", append(attrs, slog.String("error", cause.Error()))...)
		r.alert(ctx, res, userID, cause)
	}

	rec := Record{
		ID:         uuid.NewString(),
		ExternalID: res.ExternalID,
		UserID:     userID,
		Kind:       string(res.Kind),
		Outcome:    res.Outcome,
		Payload:    raw,
		ReceivedAt: r.now(),
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	if err := r.inbox.Record(ctx, rec); err != nil {
		r.logger.ErrorContext(ctx, "payment event audit failed", append(attrs, slog.String("error", err.Error()))...)
		if cause != nil && !Retryable(cause) {
			return res, fmt.Errorf("%w: %v (event: %v)", ErrInboxUnavailable, err, cause)
		}
	}
	return res, cause
}

func (r *Reconciler) alert(ctx context.Context, res Result, userID string, cause error) {
	if r.notifier == nil {
		return
	}
	msg := notification.Message{
		Kind:        notification.KindCallbackRejected,
		Destination: notification.DestinationOperators,
		Body:        cause.Error(),
		Attrs: map[string]string{
			"external_id": res.ExternalID,
			"user_id":     userID,
			"kind":        string(res.Kind),
		},
	}
	if err := r.notifier.Send(ctx, msg); err != nil {
		r.logger.WarnContext(ctx, "callback alert failed", slog.String("error", err.Error()))
	}
}

// Retryable reports whether the gateway should redeliver the event. Failures caused by the event
// itself are acknowledged; failures of the core's own dependencies are not.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrInboxUnavailable):
		return true
	case errors.Is(err, ErrUnknownReference),
		errors.Is(err, ErrUnrecognizedEvent),
		errors.Is(err, withdrawal.ErrInvalidTransition),
		errors.Is(err, withdrawal.ErrLedgerMismatch),
		errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrNegativeHold),
		errors.Is(err, ledger.ErrUnknownAccount),
		errors.Is(err, ledger.ErrInvalidEntry),
		errors.Is(err, ledger.ErrDuplicateEntry):
		return false
	}
	return true
}
