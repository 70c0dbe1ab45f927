package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInsufficientFunds occurs when an append would take the available balance below zero.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateEntry indicates an entry with the same (user, reference, kind) already exists
	// and therefore the operation has already been applied.
	ErrDuplicateEntry = errors.New("duplicate ledger entry")

	// ErrNegativeHold occurs when an append would release more than is currently held.
	ErrNegativeHold = errors.New("held balance cannot go negative")

	// ErrUnknownAccount is returned for users without a ledger account.
	ErrUnknownAccount = errors.New("unknown ledger account")

	// ErrInvalidEntry rejects malformed entries before they reach the store.
	ErrInvalidEntry = errors.New("invalid ledger entry")

	// ErrInvalidCursor is returned when a pagination cursor cannot be decoded.
	ErrInvalidCursor = errors.New("invalid cursor")
)

// Kind classifies a monetary movement.
type Kind string

const (
	KindSaleCredit         Kind = "sale_credit"
	KindSubscriptionCharge Kind = "subscription_charge"
	KindFeeDebit           Kind = "fee_debit"
	KindWithdrawalHold     Kind = "withdrawal_hold"
	KindWithdrawalSettle   Kind = "withdrawal_settle"
	KindWithdrawalReverse  Kind = "withdrawal_reverse"
)

// Valid reports whether k is one of the known entry kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindSaleCredit, KindSubscriptionCharge, KindFeeDebit,
		KindWithdrawalHold, KindWithdrawalSettle, KindWithdrawalReverse:
		return true
	}
	return false
}

// effect maps a positive magnitude onto the signed change of the user's total funds
// and of the held portion.
func (k Kind) effect(magnitude int64) (amount, heldDelta int64) {
	switch k {
	case KindSaleCredit:
		return magnitude, 0
	case KindSubscriptionCharge, KindFeeDebit:
		return -magnitude, 0
	case KindWithdrawalHold:
		return 0, magnitude
	case KindWithdrawalSettle:
		return -magnitude, -magnitude
	case KindWithdrawalReverse:
		return 0, -magnitude
	}
	return 0, 0
}

// Entry is an immutable ledger fact. Amount is the signed change to the user's total funds
// (available + held); HeldDelta is the signed change to the held portion.
type Entry struct {
	ID          string
	Seq         int64
	UserID      string
	Kind        Kind
	Amount      int64
	HeldDelta   int64
	ReferenceID string
	CreatedAt   time.Time
}

// AvailableDelta is the change this entry made to the spendable balance.
func (e Entry) AvailableDelta() int64 {
	return e.Amount - e.HeldDelta
}

// NewEntry describes an entry to append. Magnitude is always positive; its sign is derived
// from Kind.
type NewEntry struct {
	UserID      string
	Kind        Kind
	Magnitude   int64
	ReferenceID string
}

func (n NewEntry) validate() error {
	switch {
	case n.UserID == "":
		return fmt.Errorf("%w: user id is required", ErrInvalidEntry)
	case !n.Kind.Valid():
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEntry, n.Kind)
	case n.ReferenceID == "":
		return fmt.Errorf("%w: reference id is required", ErrInvalidEntry)
	case n.Magnitude <= 0:
		return fmt.Errorf("%w: amount must be positive", ErrInvalidEntry)
	}
	return nil
}

// Balance is the cached projection of a user's ledger.
type Balance struct {
	UserID    string
	Available int64
	Held      int64
	UpdatedAt time.Time
}

// Total is the net sum of every entry for the user.
func (b Balance) Total() int64 {
	return b.Available + b.Held
}

// apply returns the balance after e, rejecting anything that breaks the non-negative invariants.
func (b Balance) apply(e Entry) (Balance, error) {
	next := b
	next.Held += e.HeldDelta
	next.Available += e.AvailableDelta()
	if next.Held < 0 {
		return b, ErrNegativeHold
	}
	if next.Available < 0 {
		return b, ErrInsufficientFunds
	}
	next.UpdatedAt = e.CreatedAt
	return next, nil
}

// Tx is the view of one user's ledger inside the per-user critical section. Appends become
// visible to other callers only when the enclosing WithinUser call returns nil.
type Tx interface {
	UserID() string
	Balance() Balance
	HasEntry(ctx context.Context, referenceID string, kind Kind) (bool, error)
	Append(ctx context.Context, entry NewEntry) (Entry, error)
	// Recompute folds every entry of the user, staged ones included, under the section's lock.
	Recompute(ctx context.Context) (Balance, error)
}

// Store defines the contract implemented by ledger backends.
type Store interface {
	EnsureAccount(ctx context.Context, userID string) error
	AccountExists(ctx context.Context, userID string) (bool, error)
	// WithinUser serializes fn against every other balance-affecting operation of userID.
	WithinUser(ctx context.Context, userID string, fn func(ctx context.Context, tx Tx) error) error
	Append(ctx context.Context, entry NewEntry) (Entry, Balance, error)
	EntriesForUser(ctx context.Context, userID string, page PageRequest) (Page, error)
	SumForUser(ctx context.Context, userID string) (int64, error)
	CachedBalance(ctx context.Context, userID string) (Balance, error)
	// Recompute folds every entry of userID from scratch without consulting the cache.
	Recompute(ctx context.Context, userID string) (Balance, error)
	Users(ctx context.Context) ([]string, error)
}

// appendOne is the shared single-entry path used by both backends.
func appendOne(ctx context.Context, s Store, entry NewEntry) (Entry, Balance, error) {
	var (
		out Entry
		bal Balance
	)
	err := s.WithinUser(ctx, entry.UserID, func(ctx context.Context, tx Tx) error {
		e, err := tx.Append(ctx, entry)
		if err != nil {
			return err
		}
		out = e
		bal = tx.Balance()
		return nil
	})
	if err != nil {
		return Entry{}, Balance{}, err
	}
	return out, bal, nil
}
