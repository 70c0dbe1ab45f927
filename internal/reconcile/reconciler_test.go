package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/congo-pay/walletcore/internal/ledger"
	"github.com/congo-pay/walletcore/internal/logging"
	"github.com/congo-pay/walletcore/internal/notification"
	"github.com/congo-pay/walletcore/internal/payout"
	"github.com/congo-pay/walletcore/internal/withdrawal"
)

type harness struct {
	store      ledger.Store
	machine    *withdrawal.Machine
	inbox      *MemoryInbox
	notes      *notification.Recorder
	reconciler *Reconciler
}

func newHarness(t *testing.T) harness {
	t.Helper()
	store := ledger.NewInMemory()
	notes := &notification.Recorder{}
	machine := withdrawal.NewMachine(withdrawal.Deps{
		Ledger:     store,
		Repo:       withdrawal.NewMemoryRepository(),
		Dispatcher: payout.NewLogDispatcher(logging.Discard()),
		Notifier:   notes,
		Logger:     logging.Discard(),
	})
	inbox := NewMemoryInbox()
	return harness{
		store:      store,
		machine:    machine,
		inbox:      inbox,
		notes:      notes,
		reconciler: NewReconciler(store, machine, inbox, notes, nil, logging.Discard()),
	}
}

func (h harness) balance(t *testing.T, userID string) ledger.Balance {
	t.Helper()
	b, err := h.store.CachedBalance(context.Background(), userID)
	require.NoError(t, err)
	return b
}

func (h harness) countEntries(t *testing.T, userID string, kind ledger.Kind) int {
	t.Helper()
	n := 0
	for e, err := range ledger.All(context.Background(), h.store, userID, ledger.PageRequest{Limit: 2}) {
		require.NoError(t, err)
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (h harness) approvedWithdrawal(t *testing.T, userID string, amount int64) withdrawal.Request {
	t.Helper()
	ctx := context.Background()
	w, err := h.machine.Create(ctx, userID, amount)
	require.NoError(t, err)
	w, err = h.machine.Approve(ctx, w.ID)
	require.NoError(t, err)
	return w
}

func TestRedeliveredSaleAppliesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ledger.SeedBalance(h.store, "seller-1", 0)

	ev := Event{ExternalID: "gw-tx-1", UserID: "seller-1", Kind: KindSaleCompleted, Amount: 2500, Status: StatusSucceeded}
	res, err := h.reconciler.HandleEvent(ctx, ev)
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, res.Outcome)
	require.NotNil(t, res.Entry)
	require.Equal(t, "gw-tx-1", res.Entry.ReferenceID)

	for i := 0; i < 4; i++ {
		res, err = h.reconciler.HandleEvent(ctx, ev)
		require.NoError(t, err)
		require.Equal(t, OutcomeDuplicate, res.Outcome)
	}

	require.Equal(t, int64(2500), h.balance(t, "seller-1").Available)
	require.Equal(t, 1, h.countEntries(t, "seller-1", ledger.KindSaleCredit))
	require.Len(t, h.inbox.Records(), 5)
}

func TestConcurrentRedeliveryAppliesOnce(t *testing.T) {
	h := newHarness(t)
	ledger.SeedBalance(h.store, "seller-1", 0)
	body := []byte(`{"external_id":"gw-tx-9","user_id":"seller-1","kind":"sale.completed","amount":100,"status":"succeeded"}`)

	var wg sync.WaitGroup
	errs := make(chan error, 25)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.reconciler.HandleRaw(context.Background(), body)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Equal(t, int64(100), h.balance(t, "seller-1").Available)
	require.Equal(t, 1, h.countEntries(t, "seller-1", ledger.KindSaleCredit))
}

func TestChargesDebitAvailable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ledger.SeedBalance(h.store, "seller-1", 1000)

	_, err := h.reconciler.HandleEvent(ctx, Event{ExternalID: "sub-1", UserID: "seller-1", Kind: KindSubscriptionCharged, Amount: 300, Status: StatusSucceeded})
	require.NoError(t, err)
	_, err = h.reconciler.HandleEvent(ctx, Event{ExternalID: "fee-1", UserID: "seller-1", Kind: KindFeeCharged, Amount: 50, Status: StatusSucceeded})
	require.NoError(t, err)
	require.Equal(t, int64(650), h.balance(t, "seller-1").Available)

	res, err := h.reconciler.HandleEvent(ctx, Event{ExternalID: "sub-2", UserID: "seller-1", Kind: KindSubscriptionCharged, Amount: 5000, Status: StatusSucceeded})
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	require.False(t, Retryable(err))
	require.Equal(t, OutcomeRejected, res.Outcome)
	require.Equal(t, int64(650), h.balance(t, "seller-1").Available)
}

func TestNonSucceededMoneyEventsAreIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ledger.SeedBalance(h.store, "seller-1", 0)

	for _, status := range []EventStatus{StatusPending, StatusFailed} {
		res, err := h.reconciler.HandleEvent(ctx, Event{ExternalID: "gw-" + string(status), UserID: "seller-1", Kind: KindSaleCompleted, Amount: 10, Status: status})
		require.NoError(t, err)
		require.Equal(t, OutcomeIgnored, res.Outcome)
	}
	require.Equal(t, int64(0), h.balance(t, "seller-1").Total())
	require.Len(t, h.inbox.Records(), 2)
}

func TestSettlementDeliveredTwice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ledger.SeedBalance(h.store, "seller-1", 1000)

	w := h.approvedWithdrawal(t, "seller-1", 700)
	b := h.balance(t, "seller-1")
	require.Equal(t, int64(300), b.Available)
	require.Equal(t, int64(700), b.Held)

	ev := Event{ExternalID: "po-1", UserID: "seller-1", Kind: KindPayoutSettled, Amount: 700, Status: StatusSucceeded, WithdrawalID: w.ID}
	res, err := h.reconciler.HandleEvent(ctx, ev)
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, res.Outcome)
	require.Equal(t, withdrawal.StatusSettled, res.Withdrawal.Status)

	res, err = h.reconciler.HandleEvent(ctx, ev)
	require.NoError(t, err)
	require.Equal(t, OutcomeDuplicate, res.Outcome)

	b = h.balance(t, "seller-1")
	require.Equal(t, int64(300), b.Available)
	require.Equal(t, int64(0), b.Held)
	require.Equal(t, 1, h.countEntries(t, "seller-1", ledger.KindWithdrawalSettle))
}

func TestSettlementOnDriftedAccountIsAcknowledged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ledger.SeedBalance(h.store, "seller-1", 1000)

	w := h.approvedWithdrawal(t, "seller-1", 700)
	ledger.Corrupt(h.store, "seller-1", 300, 0)

	ev := Event{ExternalID: "po-drift", UserID: "seller-1", Kind: KindPayoutSettled, Amount: 700, Status: StatusSucceeded, WithdrawalID: w.ID}
	for i := 0; i < 2; i++ {
		res, err := h.reconciler.HandleEvent(ctx, ev)
		require.ErrorIs(t, err, ledger.ErrNegativeHold)
		require.False(t, Retryable(err))
		require.Equal(t, OutcomeRejected, res.Outcome)
	}

	got, err := h.machine.Get(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, withdrawal.StatusApproved, got.Status)
	require.Len(t, h.notes.Messages(notification.KindCallbackRejected), 2)
	require.Len(t, h.inbox.Records(), 2)
}

func TestPayoutFailureReversesHold(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ledger.SeedBalance(h.store, "seller-1", 1000)

	w := h.approvedWithdrawal(t, "seller-1", 400)
	res, err := h.reconciler.HandleEvent(ctx, Event{ExternalID: "po-2", Kind: KindPayoutFailed, Status: StatusFailed, WithdrawalID: w.ID, Reason: "beneficiary account closed"})
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, res.Outcome)
	require.Equal(t, withdrawal.StatusFailed, res.Withdrawal.Status)
	require.Equal(t, "beneficiary account closed", res.Withdrawal.FailureReason)

	b := h.balance(t, "seller-1")
	require.Equal(t, int64(1000), b.Available)
	require.Equal(t, int64(0), b.Held)
	require.Equal(t, 1, h.countEntries(t, "seller-1", ledger.KindWithdrawalReverse))
}

func TestOutOfOrderSettlementIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ledger.SeedBalance(h.store, "seller-1", 1000)

	w, err := h.machine.Create(ctx, "seller-1", 500)
	require.NoError(t, err)

	res, err := h.reconciler.HandleEvent(ctx, Event{ExternalID: "po-3", Kind: KindPayoutSettled, Status: StatusSucceeded, WithdrawalID: w.ID})
	require.ErrorIs(t, err, withdrawal.ErrInvalidTransition)
	require.False(t, Retryable(err))
	require.Equal(t, OutcomeRejected, res.Outcome)
	require.Equal(t, int64(500), h.balance(t, "seller-1").Held)
	require.Len(t, h.notes.Messages(notification.KindCallbackRejected), 1)
	require.Len(t, h.notes.Messages(notification.KindInvalidTransition), 1)
}

func TestUnknownReferences(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ledger.SeedBalance(h.store, "seller-1", 1000)
	w := h.approvedWithdrawal(t, "seller-1", 100)

	cases := []Event{
		{ExternalID: "a", UserID: "ghost", Kind: KindSaleCompleted, Amount: 1, Status: StatusSucceeded},
		{ExternalID: "b", Kind: KindPayoutSettled, Status: StatusSucceeded, WithdrawalID: "missing"},
		{ExternalID: "c", UserID: "someone-else", Kind: KindPayoutSettled, Status: StatusSucceeded, WithdrawalID: w.ID},
		{ExternalID: "d", Kind: KindPayoutSettled, Amount: 99, Status: StatusSucceeded, WithdrawalID: w.ID},
	}
	for _, ev := range cases {
		t.Run(ev.ExternalID, func(t *testing.T) {
			res, err := h.reconciler.HandleEvent(ctx, ev)
			require.ErrorIs(t, err, ErrUnknownReference)
			require.False(t, Retryable(err))
			require.Equal(t, OutcomeRejected, res.Outcome)
		})
	}

	got, err := h.machine.Get(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, withdrawal.StatusApproved, got.Status)
	require.Len(t, h.inbox.Records(), len(cases))
}

func TestUnrecognizedPayloadsAreAudited(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := map[string]string{
		"garbage":        `{"external_id":"gw-77","user_id":"seller-1","kind":`,
		"unknown kind":   `{"external_id":"gw-78","user_id":"seller-1","kind":"refund.issued","amount":5,"status":"succeeded"}`,
		"unknown status": `{"external_id":"gw-79","user_id":"seller-1","kind":"sale.completed","amount":5,"status":"weird"}`,
		"zero amount":    `{"external_id":"gw-80","user_id":"seller-1","kind":"sale.completed","amount":0,"status":"succeeded"}`,
		"no withdrawal":  `{"external_id":"gw-81","kind":"payout.settled","status":"succeeded"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			res, err := h.reconciler.HandleRaw(ctx, []byte(body))
			require.ErrorIs(t, err, ErrUnrecognizedEvent)
			require.False(t, Retryable(err))
			require.Equal(t, OutcomeRejected, res.Outcome)
		})
	}

	records := h.inbox.Records()
	require.Len(t, records, len(cases))
	var garbage Record
	for _, rec := range records {
		if rec.ExternalID == "gw-77" {
			garbage = rec
		}
	}
	require.Equal(t, "seller-1", garbage.UserID)
	require.Equal(t, OutcomeRejected, garbage.Outcome)
	require.NotEmpty(t, garbage.Error)
}

type brokenStore struct {
	ledger.Store
}

func (brokenStore) Append(context.Context, ledger.NewEntry) (ledger.Entry, ledger.Balance, error) {
	return ledger.Entry{}, ledger.Balance{}, errors.New("connection refused")
}

type brokenInbox struct{}

func (brokenInbox) Record(context.Context, Record) error {
	return errors.New("disk full")
}

func TestStoreFailuresAreRetryable(t *testing.T) {
	store := brokenStore{ledger.NewInMemory()}
	r := NewReconciler(store, nil, NewMemoryInbox(), nil, nil, logging.Discard())

	res, err := r.HandleEvent(context.Background(), Event{ExternalID: "x", UserID: "u", Kind: KindSaleCompleted, Amount: 1, Status: StatusSucceeded})
	require.Error(t, err)
	require.True(t, Retryable(err))
	require.Equal(t, OutcomeFailed, res.Outcome)
}

func TestUnauditedRejectionIsRetryable(t *testing.T) {
	r := NewReconciler(ledger.NewInMemory(), nil, brokenInbox{}, nil, nil, logging.Discard())
	_, err := r.HandleRaw(context.Background(), []byte(`not json`))
	require.ErrorIs(t, err, ErrInboxUnavailable)
	require.True(t, Retryable(err))
}

func TestRetryable(t *testing.T) {
	require.False(t, Retryable(nil))
	require.False(t, Retryable(fmt.Errorf("wrap: %w", ErrUnknownReference)))
	require.False(t, Retryable(ledger.ErrDuplicateEntry))
	require.False(t, Retryable(ledger.ErrNegativeHold))
	require.False(t, Retryable(fmt.Errorf("settle: %w", ledger.ErrUnknownAccount)))
	require.True(t, Retryable(context.DeadlineExceeded))
	require.True(t, Retryable(errors.New("store unavailable")))
}
