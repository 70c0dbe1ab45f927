package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrInvalidRequest rejects payout requests that can never succeed.
var ErrInvalidRequest = errors.New("invalid payout request")

// Request asks the payment gateway to push funds for an approved withdrawal. WithdrawalID is
// the idempotency key at the gateway.
type Request struct {
	WithdrawalID string `json:"withdrawal_id"`
	UserID       string `json:"user_id"`
	Amount       int64  `json:"amount"`
}

func (r Request) validate() error {
	if r.WithdrawalID == "" || r.UserID == "" || r.Amount <= 0 {
		return fmt.Errorf("%w: %+v", ErrInvalidRequest, r)
	}
	return nil
}

// Dispatcher hands payouts to the external payment collaborator. Calling Dispatch twice for the
// same withdrawal must not pay twice.
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) error
}

// LogDispatcher only logs payouts. It is used in development where no queue is configured.
type LogDispatcher struct {
	logger *slog.Logger
}

// NewLogDispatcher builds a logging dispatcher.
func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

// Dispatch writes the payout to the log.
func (d *LogDispatcher) Dispatch(ctx context.Context, req Request) error {
	if err := req.validate(); err != nil {
		return err
	}
	if d.logger != nil {
		d.logger.InfoContext(ctx, "payout dispatched",
			slog.String("withdrawal_id", req.WithdrawalID),
			slog.String("user_id", req.UserID),
			slog.Int64("amount", req.Amount),
		)
	}
	return nil
}
