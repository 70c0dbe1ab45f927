package ledger

import (
	"context"

	"github.com/google/uuid"
)

// SeedBalance is a test helper that opens the account and credits it with a sale entry so the
// ledger and the cached balance stay consistent.
func SeedBalance(s Store, userID string, amount int64) {
	ctx := context.Background()
	if err := s.EnsureAccount(ctx, userID); err != nil {
		panic(err)
	}
	if amount <= 0 {
		return
	}
	if _, _, err := s.Append(ctx, NewEntry{
		UserID:      userID,
		Kind:        KindSaleCredit,
		Magnitude:   amount,
		ReferenceID: "seed:" + uuid.NewString(),
	}); err != nil {
		panic(err)
	}
}

// Corrupt overwrites the cached balance of an in-memory store without writing an entry. It
// exists to exercise drift detection and is a no-op for other backends.
func Corrupt(s Store, userID string, available, held int64) {
	mem, ok := s.(*inMemoryStore)
	if !ok {
		return
	}
	acct, ok := mem.account(userID)
	if !ok {
		return
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	acct.balance.Available = available
	acct.balance.Held = held
}
