package withdrawal

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/congo-pay/walletcore/internal/ledger"
)

type memoryRepository struct {
	mu      sync.RWMutex
	storage map[string]Request
}

// NewMemoryRepository constructs an in-memory repository. Serialization per user comes from
// the ledger section the writes run in.
func NewMemoryRepository() Repository {
	return &memoryRepository{storage: make(map[string]Request)}
}

func (r *memoryRepository) Create(_ context.Context, _ ledger.Tx, w Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.storage[w.ID]; exists {
		return errors.New("withdrawal exists")
	}
	r.storage[w.ID] = w
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.storage[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	return w, nil
}

func (r *memoryRepository) GetForUpdate(ctx context.Context, _ ledger.Tx, id string) (Request, error) {
	return r.Get(ctx, id)
}

func (r *memoryRepository) Update(_ context.Context, _ ledger.Tx, w Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.storage[w.ID]; !ok {
		return ErrNotFound
	}
	r.storage[w.ID] = w
	return nil
}

func (r *memoryRepository) ListByUser(_ context.Context, userID string, limit int) ([]Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Request
	for _, w := range r.storage {
		if w.UserID == userID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
