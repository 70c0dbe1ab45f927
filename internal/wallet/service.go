package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/congo-pay/walletcore/internal/balance"
	"github.com/congo-pay/walletcore/internal/ledger"
	"github.com/congo-pay/walletcore/internal/withdrawal"
)

const defaultWithdrawalLimit = 50

// Service exposes wallet operations to the API layer. It holds no state of its own.
type Service struct {
	ledger      ledger.Store
	projector   *balance.Projector
	withdrawals *withdrawal.Machine
}

// NewService builds a wallet service instance.
func NewService(store ledger.Store, projector *balance.Projector, withdrawals *withdrawal.Machine) *Service {
	return &Service{ledger: store, projector: projector, withdrawals: withdrawals}
}

// OpenAccount provisions the ledger account of a new user. It is safe to call repeatedly.
func (s *Service) OpenAccount(ctx context.Context, userID string) error {
	return s.ledger.EnsureAccount(ctx, userID)
}

// Callers are authenticated users, so a missing ledger account means registration stopped
// between creating the user and opening the account. The account is opened on first use.
func (s *Service) reopen(ctx context.Context, userID string, err error) (bool, error) {
	if !errors.Is(err, ledger.ErrUnknownAccount) {
		return false, err
	}
	if err := s.ledger.EnsureAccount(ctx, userID); err != nil {
		return false, err
	}
	return true, nil
}

// GetWallet returns the balance of userID.
func (s *Service) GetWallet(ctx context.Context, userID string) (View, error) {
	b, err := s.projector.Balance(ctx, userID)
	if retry, rerr := s.reopen(ctx, userID, err); rerr != nil {
		return View{}, rerr
	} else if retry {
		b, err = s.projector.Balance(ctx, userID)
	}
	if err != nil {
		return View{}, err
	}
	return viewOf(b, time.Now().UTC()), nil
}

// CreateWithdrawal holds amount and opens a pending withdrawal.
func (s *Service) CreateWithdrawal(ctx context.Context, userID string, amount int64) (withdrawal.Request, error) {
	w, err := s.withdrawals.Create(ctx, userID, amount)
	if retry, rerr := s.reopen(ctx, userID, err); rerr != nil {
		return withdrawal.Request{}, rerr
	} else if retry {
		return s.withdrawals.Create(ctx, userID, amount)
	}
	return w, err
}

// ListTransactions returns a page of ledger entries, newest first.
func (s *Service) ListTransactions(ctx context.Context, userID, cursor string, limit int) (ledger.Page, error) {
	req := ledger.PageRequest{Cursor: cursor, Limit: limit}
	page, err := s.ledger.EntriesForUser(ctx, userID, req)
	if retry, rerr := s.reopen(ctx, userID, err); rerr != nil {
		return ledger.Page{}, rerr
	} else if retry {
		return s.ledger.EntriesForUser(ctx, userID, req)
	}
	return page, err
}

// GetWithdrawal returns a withdrawal owned by userID. Other users' withdrawals are reported as
// not found.
func (s *Service) GetWithdrawal(ctx context.Context, userID, id string) (withdrawal.Request, error) {
	w, err := s.withdrawals.Get(ctx, id)
	if err != nil {
		return withdrawal.Request{}, err
	}
	if w.UserID != userID {
		return withdrawal.Request{}, withdrawal.ErrNotFound
	}
	return w, nil
}

// ListWithdrawals returns the newest withdrawals of userID.
func (s *Service) ListWithdrawals(ctx context.Context, userID string, limit int) ([]withdrawal.Request, error) {
	if limit <= 0 {
		limit = defaultWithdrawalLimit
	}
	return s.withdrawals.ListByUser(ctx, userID, limit)
}
