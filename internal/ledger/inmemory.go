package ledger

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type entryKey struct {
	referenceID string
	kind        Kind
}

type memAccount struct {
	mu      sync.Mutex
	balance Balance
	entries []Entry
	refs    map[entryKey]struct{}
}

type inMemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*memAccount
	seq      atomic.Int64
	now      func() time.Time
}

// NewInMemory creates a concurrency-safe in-memory ledger. Each user has its own lock, so
// operations on different users proceed in parallel.
func NewInMemory() Store {
	return &inMemoryStore{
		accounts: make(map[string]*memAccount),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *inMemoryStore) account(userID string) (*memAccount, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[userID]
	return acct, ok
}

func (s *inMemoryStore) EnsureAccount(_ context.Context, userID string) error {
	if userID == "" {
		return ErrInvalidEntry
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[userID]; !exists {
		s.accounts[userID] = &memAccount{
			balance: Balance{UserID: userID, UpdatedAt: s.now()},
			refs:    make(map[entryKey]struct{}),
		}
	}
	return nil
}

func (s *inMemoryStore) AccountExists(_ context.Context, userID string) (bool, error) {
	_, ok := s.account(userID)
	return ok, nil
}

func (s *inMemoryStore) WithinUser(ctx context.Context, userID string, fn func(ctx context.Context, tx Tx) error) error {
	acct, ok := s.account(userID)
	if !ok {
		return ErrUnknownAccount
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{store: s, acct: acct, balance: acct.balance}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	// commit
	for _, e := range tx.staged {
		acct.entries = append(acct.entries, e)
		acct.refs[entryKey{e.ReferenceID, e.Kind}] = struct{}{}
	}
	acct.balance = tx.balance
	return nil
}

func (s *inMemoryStore) Append(ctx context.Context, entry NewEntry) (Entry, Balance, error) {
	return appendOne(ctx, s, entry)
}

func (s *inMemoryStore) EntriesForUser(_ context.Context, userID string, req PageRequest) (Page, error) {
	before, err := decodeCursor(req.Cursor)
	if err != nil {
		return Page{}, err
	}
	acct, ok := s.account(userID)
	if !ok {
		return Page{}, ErrUnknownAccount
	}
	limit := req.limit()

	acct.mu.Lock()
	defer acct.mu.Unlock()

	// entries are stored in ascending seq order
	end := len(acct.entries)
	if before > 0 {
		end = sort.Search(len(acct.entries), func(i int) bool { return acct.entries[i].Seq >= before })
	}

	page := Page{}
	for i := end - 1; i >= 0 && len(page.Entries) < limit; i-- {
		page.Entries = append(page.Entries, acct.entries[i])
	}
	if n := len(page.Entries); n == limit && end-n > 0 {
		page.NextCursor = encodeCursor(page.Entries[n-1].Seq)
	}
	return page, nil
}

func (s *inMemoryStore) SumForUser(ctx context.Context, userID string) (int64, error) {
	bal, err := s.CachedBalance(ctx, userID)
	if err != nil {
		return 0, err
	}
	return bal.Total(), nil
}

func (s *inMemoryStore) CachedBalance(_ context.Context, userID string) (Balance, error) {
	acct, ok := s.account(userID)
	if !ok {
		return Balance{}, ErrUnknownAccount
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	return acct.balance, nil
}

func (s *inMemoryStore) Recompute(_ context.Context, userID string) (Balance, error) {
	acct, ok := s.account(userID)
	if !ok {
		return Balance{}, ErrUnknownAccount
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	return fold(userID, acct.balance.UpdatedAt, acct.entries), nil
}

func fold(userID string, updatedAt time.Time, groups ...[]Entry) Balance {
	bal := Balance{UserID: userID, UpdatedAt: updatedAt}
	for _, entries := range groups {
		for _, e := range entries {
			bal.Held += e.HeldDelta
			bal.Available += e.AvailableDelta()
		}
	}
	return bal
}

func (s *inMemoryStore) Users(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]string, 0, len(s.accounts))
	for id := range s.accounts {
		users = append(users, id)
	}
	sort.Strings(users)
	return users, nil
}

type memTx struct {
	store   *inMemoryStore
	acct    *memAccount
	balance Balance
	staged  []Entry
}

func (t *memTx) UserID() string { return t.balance.UserID }

func (t *memTx) Balance() Balance { return t.balance }

func (t *memTx) Recompute(ctx context.Context) (Balance, error) {
	if err := ctx.Err(); err != nil {
		return Balance{}, err
	}
	return fold(t.balance.UserID, t.balance.UpdatedAt, t.acct.entries, t.staged), nil
}

func (t *memTx) HasEntry(_ context.Context, referenceID string, kind Kind) (bool, error) {
	return t.has(entryKey{referenceID, kind}), nil
}

func (t *memTx) has(key entryKey) bool {
	if _, ok := t.acct.refs[key]; ok {
		return true
	}
	for _, e := range t.staged {
		if e.ReferenceID == key.referenceID && e.Kind == key.kind {
			return true
		}
	}
	return false
}

func (t *memTx) Append(_ context.Context, n NewEntry) (Entry, error) {
	if err := n.validate(); err != nil {
		return Entry{}, err
	}
	if n.UserID != t.balance.UserID {
		return Entry{}, ErrInvalidEntry
	}
	if t.has(entryKey{n.ReferenceID, n.Kind}) {
		return Entry{}, ErrDuplicateEntry
	}

	amount, held := n.Kind.effect(n.Magnitude)
	e := Entry{
		ID:          uuid.NewString(),
		UserID:      n.UserID,
		Kind:        n.Kind,
		Amount:      amount,
		HeldDelta:   held,
		ReferenceID: n.ReferenceID,
		CreatedAt:   t.store.now(),
	}
	next, err := t.balance.apply(e)
	if err != nil {
		return Entry{}, err
	}
	e.Seq = t.store.seq.Add(1)
	t.staged = append(t.staged, e)
	t.balance = next
	return e, nil
}
