package wallet

import (
	"time"

	"github.com/congo-pay/walletcore/internal/ledger"
	"github.com/congo-pay/walletcore/internal/withdrawal"
)

// View is the caller-facing balance of a wallet.
type View struct {
	UserID    string    `json:"user_id"`
	Available int64     `json:"available"`
	Held      int64     `json:"held"`
	Total     int64     `json:"total"`
	AsOf      time.Time `json:"as_of"`
}

func viewOf(b ledger.Balance, asOf time.Time) View {
	return View{
		UserID:    b.UserID,
		Available: b.Available,
		Held:      b.Held,
		Total:     b.Total(),
		AsOf:      asOf,
	}
}

// Transaction is the JSON shape of a ledger entry.
type Transaction struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	Amount         int64     `json:"amount"`
	AvailableDelta int64     `json:"available_delta"`
	HeldDelta      int64     `json:"held_delta"`
	ReferenceID    string    `json:"reference_id"`
	CreatedAt      time.Time `json:"created_at"`
}

func transactionOf(e ledger.Entry) Transaction {
	return Transaction{
		ID:             e.ID,
		Kind:           string(e.Kind),
		Amount:         e.Amount,
		AvailableDelta: e.AvailableDelta(),
		HeldDelta:      e.HeldDelta,
		ReferenceID:    e.ReferenceID,
		CreatedAt:      e.CreatedAt,
	}
}

// Withdrawal is the JSON shape of a withdrawal request.
type Withdrawal struct {
	ID            string     `json:"id"`
	Amount        int64      `json:"amount"`
	Status        string     `json:"status"`
	FailureReason string     `json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	ApprovedAt    *time.Time `json:"approved_at,omitempty"`
	SettledAt     *time.Time `json:"settled_at,omitempty"`
}

// WithdrawalOf converts a withdrawal request into its JSON shape.
func WithdrawalOf(w withdrawal.Request) Withdrawal {
	return Withdrawal{
		ID:            w.ID,
		Amount:        w.Amount,
		Status:        string(w.Status),
		FailureReason: w.FailureReason,
		CreatedAt:     w.CreatedAt,
		UpdatedAt:     w.UpdatedAt,
		ApprovedAt:    w.ApprovedAt,
		SettledAt:     w.SettledAt,
	}
}
