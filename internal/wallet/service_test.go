package wallet

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/congo-pay/walletcore/internal/balance"
	"github.com/congo-pay/walletcore/internal/ledger"
	"github.com/congo-pay/walletcore/internal/logging"
	"github.com/congo-pay/walletcore/internal/payout"
	"github.com/congo-pay/walletcore/internal/withdrawal"
)

func newService(t *testing.T) (*Service, ledger.Store) {
	t.Helper()
	store := ledger.NewInMemory()
	machine := withdrawal.NewMachine(withdrawal.Deps{
		Ledger:     store,
		Repo:       withdrawal.NewMemoryRepository(),
		Dispatcher: payout.NewLogDispatcher(logging.Discard()),
		Logger:     logging.Discard(),
	})
	projector := balance.NewProjector(store, nil, nil, logging.Discard(), 1)
	return NewService(store, projector, machine), store
}

func TestServiceWalletAndWithdrawal(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.OpenAccount(ctx, "seller-1"))
	require.NoError(t, svc.OpenAccount(ctx, "seller-1"))
	ledger.SeedBalance(store, "seller-1", 1_000)

	w, err := svc.CreateWithdrawal(ctx, "seller-1", 700)
	require.NoError(t, err)

	view, err := svc.GetWallet(ctx, "seller-1")
	require.NoError(t, err)
	require.Equal(t, int64(300), view.Available)
	require.Equal(t, int64(700), view.Held)
	require.Equal(t, int64(1_000), view.Total)

	got, err := svc.GetWithdrawal(ctx, "seller-1", w.ID)
	require.NoError(t, err)
	require.Equal(t, w.ID, got.ID)
	require.Equal(t, withdrawal.StatusPending, got.Status)

	_, err = svc.GetWithdrawal(ctx, "someone-else", w.ID)
	require.ErrorIs(t, err, withdrawal.ErrNotFound)

	list, err := svc.ListWithdrawals(ctx, "seller-1", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestServiceInsufficientFundsLeavesStateUnchanged(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	ledger.SeedBalance(store, "seller-1", 500)

	_, err := svc.CreateWithdrawal(ctx, "seller-1", 501)
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	view, err := svc.GetWallet(ctx, "seller-1")
	require.NoError(t, err)
	require.Equal(t, int64(500), view.Available)
	require.Zero(t, view.Held)
}

func TestServiceListTransactions(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ledger.SeedBalance(store, "seller-1", 100)
	}

	page, err := svc.ListTransactions(ctx, "seller-1", "", 2)
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	require.NotEmpty(t, page.NextCursor)

	next, err := svc.ListTransactions(ctx, "seller-1", page.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, next.Entries, 1)
	require.Empty(t, next.NextCursor)

	_, err = svc.ListTransactions(ctx, "seller-1", "@@@@", 2)
	require.ErrorIs(t, err, ledger.ErrInvalidCursor)
}

func TestServiceOpensMissingAccountOnFirstUse(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	view, err := svc.GetWallet(ctx, "late-seller")
	require.NoError(t, err)
	require.Zero(t, view.Available)
	require.Zero(t, view.Held)
	ok, err := store.AccountExists(ctx, "late-seller")
	require.NoError(t, err)
	require.True(t, ok)

	page, err := svc.ListTransactions(ctx, "late-buyer", "", 10)
	require.NoError(t, err)
	require.Empty(t, page.Entries)

	_, err = svc.CreateWithdrawal(ctx, "late-payee", 100)
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	ok, err = store.AccountExists(ctx, "late-payee")
	require.NoError(t, err)
	require.True(t, ok)
}
