package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/walletcore/internal/ledger"
	"github.com/congo-pay/walletcore/internal/logging"
	"github.com/congo-pay/walletcore/internal/metrics"
	"github.com/congo-pay/walletcore/internal/notification"
	"github.com/congo-pay/walletcore/internal/payout"
)

// Deps wires the collaborators of a Machine. Ledger, Repo and Dispatcher are required.
type Deps struct {
	Ledger     ledger.Store
	Repo       Repository
	Dispatcher payout.Dispatcher
	Notifier   notification.Notifier
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Machine owns every withdrawal transition. Each transition runs inside the ledger's per-user
// section so the status change and its ledger entry commit together.
type Machine struct {
	ledger     ledger.Store
	repo       Repository
	dispatcher payout.Dispatcher
	notifier   notification.Notifier
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewMachine builds a withdrawal state machine.
func NewMachine(d Deps) *Machine {
	return &Machine{
		ledger:     d.Ledger,
		repo:       d.Repo,
		dispatcher: d.Dispatcher,
		notifier:   d.Notifier,
		metrics:    d.Metrics,
		logger:     logging.With(d.Logger, "withdrawal"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Create places a hold for amount and records a pending withdrawal.
func (m *Machine) Create(ctx context.Context, userID string, amount int64) (Request, error) {
	if amount <= 0 {
		return Request{}, ErrInvalidAmount
	}

	now := m.now()
	w := Request{
		ID:        uuid.NewString(),
		UserID:    userID,
		Amount:    amount,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := m.ledger.WithinUser(ctx, userID, func(ctx context.Context, tx ledger.Tx) error {
		if _, err := tx.Append(ctx, ledger.NewEntry{
			UserID:      userID,
			Kind:        ledger.KindWithdrawalHold,
			Magnitude:   amount,
			ReferenceID: w.ID,
		}); err != nil {
			return err
		}
		return m.repo.Create(ctx, tx, w)
	})
	if err != nil {
		m.metrics.WithdrawalTransition(string(StatusPending), "rejected")
		m.logger.InfoContext(ctx, "withdrawal refused",
			slog.String("user_id", userID),
			slog.Int64("amount", amount),
			slog.String("error", err.Error()),
		)
		return Request{}, err
	}

	m.metrics.WithdrawalTransition(string(StatusPending), "applied")
	m.logger.InfoContext(ctx, "withdrawal created",
		slog.String("withdrawal_id", w.ID),
		slog.String("user_id", userID),
		slog.Int64("amount", amount),
	)
	return w, nil
}

// Get returns a withdrawal by id.
func (m *Machine) Get(ctx context.Context, id string) (Request, error) {
	return m.repo.Get(ctx, id)
}

// ListByUser returns the newest withdrawals of userID.
func (m *Machine) ListByUser(ctx context.Context, userID string, limit int) ([]Request, error) {
	return m.repo.ListByUser(ctx, userID, limit)
}

// Approve moves a pending withdrawal to approved and dispatches the payout once the
// transition has committed. If dispatch fails the withdrawal stays approved and
// ErrDispatchFailed is returned alongside the approved record.
func (m *Machine) Approve(ctx context.Context, id string) (Request, error) {
	w, err := m.transition(ctx, id, step{from: StatusPending, to: StatusApproved}, func(w *Request, now time.Time) {
		w.ApprovedAt = &now
	})
	if err != nil {
		return w, err
	}
	return w, m.dispatch(ctx, w)
}

// Redispatch hands an approved withdrawal to the payment collaborator again. Dispatch is keyed
// by withdrawal id so the collaborator never pays twice.
func (m *Machine) Redispatch(ctx context.Context, id string) (Request, error) {
	w, err := m.repo.Get(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if w.Status != StatusApproved {
		return w, m.refuse(ctx, &TransitionError{WithdrawalID: id, From: w.Status, To: StatusApproved})
	}
	return w, m.dispatch(ctx, w)
}

// Settle records that the payout completed: held funds leave the wallet. A repeated
// settlement returns ledger.ErrDuplicateEntry and changes nothing.
func (m *Machine) Settle(ctx context.Context, id string) (Request, error) {
	w, err := m.transition(ctx, id, step{from: StatusApproved, to: StatusSettled, entry: ledger.KindWithdrawalSettle}, func(w *Request, now time.Time) {
		w.SettledAt = &now
	})
	if err != nil {
		return w, err
	}
	m.notify(ctx, notification.Message{
		Kind:        notification.KindWithdrawalSettled,
		Destination: w.UserID,
		Body:        fmt.Sprintf("withdrawal of %d settled", w.Amount),
		Attrs:       map[string]string{"withdrawal_id": w.ID},
	})
	return w, nil
}

// Reject refuses a pending withdrawal and releases the hold.
func (m *Machine) Reject(ctx context.Context, id, reason string) (Request, error) {
	return m.transition(ctx, id, step{from: StatusPending, to: StatusRejected, entry: ledger.KindWithdrawalReverse}, func(w *Request, _ time.Time) {
		w.FailureReason = reason
	})
}

// Fail records that an approved payout did not go through and releases the hold.
func (m *Machine) Fail(ctx context.Context, id, reason string) (Request, error) {
	w, err := m.transition(ctx, id, step{from: StatusApproved, to: StatusFailed, entry: ledger.KindWithdrawalReverse}, func(w *Request, _ time.Time) {
		w.FailureReason = reason
	})
	if err != nil {
		return w, err
	}
	m.notify(ctx, notification.Message{
		Kind:        notification.KindWithdrawalFailed,
		Destination: w.UserID,
		Body:        fmt.Sprintf("withdrawal of %d failed and was returned to your wallet", w.Amount),
		Attrs:       map[string]string{"withdrawal_id": w.ID, "reason": reason},
	})
	return w, nil
}

type step struct {
	from  Status
	to    Status
	entry ledger.Kind
}

func (m *Machine) transition(ctx context.Context, id string, s step, mutate func(*Request, time.Time)) (Request, error) {
	current, err := m.repo.Get(ctx, id)
	if err != nil {
		return Request{}, err
	}

	var (
		out     Request
		refused *TransitionError
	)
	err = m.ledger.WithinUser(ctx, current.UserID, func(ctx context.Context, tx ledger.Tx) error {
		w, err := m.repo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		out = w

		if w.Status == s.to && s.to.Terminal() {
			if s.entry == "" {
				return ledger.ErrDuplicateEntry
			}
			applied, err := tx.HasEntry(ctx, w.ID, s.entry)
			if err != nil {
				return err
			}
			if !applied {
				return fmt.Errorf("%w: %s is %s without a %s entry", ErrLedgerMismatch, w.ID, w.Status, s.entry)
			}
			return ledger.ErrDuplicateEntry
		}
		if w.Status != s.from {
			refused = &TransitionError{WithdrawalID: w.ID, From: w.Status, To: s.to}
			return refused
		}

		if s.entry != "" {
			if _, err := tx.Append(ctx, ledger.NewEntry{
				UserID:      w.UserID,
				Kind:        s.entry,
				Magnitude:   w.Amount,
				ReferenceID: w.ID,
			}); err != nil {
				return err
			}
		}

		now := m.now()
		mutate(&w, now)
		w.Status = s.to
		w.UpdatedAt = now
		if err := m.repo.Update(ctx, tx, w); err != nil {
			return err
		}
		out = w
		return nil
	})

	switch {
	case err == nil:
		m.metrics.WithdrawalTransition(string(s.to), "applied")
		m.logger.InfoContext(ctx, "withdrawal transitioned",
			slog.String("withdrawal_id", id),
			slog.String("from", string(s.from)),
			slog.String("to", string(s.to)),
		)
		return out, nil
	case errors.Is(err, ledger.ErrDuplicateEntry):
		m.metrics.WithdrawalTransition(string(s.to), "duplicate")
		m.logger.InfoContext(ctx, "withdrawal transition already applied",
			slog.String("withdrawal_id", id),
			slog.String("status", string(out.Status)),
		)
		return out, ledger.ErrDuplicateEntry
	case refused != nil:
		return out, m.refuse(ctx, refused)
	default:
		m.metrics.WithdrawalTransition(string(s.to), "error")
		m.logger.ErrorContext(ctx, "withdrawal transition failed",
			slog.String("withdrawal_id", id),
			slog.String("to", string(s.to)),
			slog.String("error", err.Error()),
		)
		return out, err
	}
}

// refuse records an invalid transition and alerts operators.
func (m *Machine) refuse(ctx context.Context, terr *TransitionError) error {
	m.metrics.WithdrawalTransition(string(terr.To), "invalid")
	m.logger.WarnContext(ctx, "withdrawal transition refused",
		slog.String("withdrawal_id", terr.WithdrawalID),
		slog.String("from", string(terr.From)),
		slog.String("to", string(terr.To)),
	)
	m.notify(ctx, notification.Message{
		Kind:        notification.KindInvalidTransition,
		Destination: notification.DestinationOperators,
		Body:        terr.Error(),
		Attrs: map[string]string{
			"withdrawal_id": terr.WithdrawalID,
			"from":          string(terr.From),
			"to":            string(terr.To),
		},
	})
	return terr
}

func (m *Machine) dispatch(ctx context.Context, w Request) error {
	err := m.dispatcher.Dispatch(ctx, payout.Request{
		WithdrawalID: w.ID,
		UserID:       w.UserID,
		Amount:       w.Amount,
	})
	if err != nil {
		m.logger.ErrorContext(ctx, "payout dispatch failed",
			slog.String("withdrawal_id", w.ID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	return nil
}

func (m *Machine) notify(ctx context.Context, msg notification.Message) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Send(ctx, msg); err != nil {
		m.logger.WarnContext(ctx, "notification failed", slog.String("kind", msg.Kind), slog.String("error", err.Error()))
	}
}
