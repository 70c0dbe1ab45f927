package withdrawal

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidAmount rejects withdrawals of zero or negative amounts.
	ErrInvalidAmount = errors.New("withdrawal amount must be positive")

	// ErrInvalidTransition is returned for transitions out of a terminal state or out of order.
	ErrInvalidTransition = errors.New("invalid withdrawal transition")

	// ErrNotFound is returned for unknown withdrawal ids.
	ErrNotFound = errors.New("withdrawal not found")

	// ErrDispatchFailed means the withdrawal was approved but the payout could not be handed to
	// the payment collaborator. The withdrawal stays approved.
	ErrDispatchFailed = errors.New("payout dispatch failed")

	// ErrLedgerMismatch means a withdrawal record and its ledger entries disagree.
	ErrLedgerMismatch = errors.New("withdrawal state disagrees with ledger")
)

// Status is the lifecycle state of a withdrawal request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusSettled  Status = "settled"
	StatusRejected Status = "rejected"
	StatusFailed   Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusSettled, StatusRejected, StatusFailed:
		return true
	}
	return false
}

// Request is a user's withdrawal. It is mutated only by Machine.
type Request struct {
	ID            string
	UserID        string
	Amount        int64
	Status        Status
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ApprovedAt    *time.Time
	SettledAt     *time.Time
}

// TransitionError describes a refused transition.
type TransitionError struct {
	WithdrawalID string
	From         Status
	To           Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("withdrawal %s: cannot move from %s to %s", e.WithdrawalID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
