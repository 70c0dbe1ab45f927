package ledger

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/walletcore/internal/infra"
)

// newPostgresStore connects to TEST_DATABASE_URL and applies migrations. Tests using it are
// skipped when the variable is unset.
func newPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	require.NoError(t, infra.Migrate(url, nil))
	pool, err := infra.NewPostgresPool(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return NewPostgresStore(pool)
}

func TestPostgresLedger_EffectsAndRecompute(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	user := uuid.NewString()
	SeedBalance(s, user, 1_000)

	_, _, err := s.Append(ctx, NewEntry{UserID: user, Kind: KindWithdrawalHold, Magnitude: 700, ReferenceID: "wd-1"})
	require.NoError(t, err)
	_, bal, err := s.Append(ctx, NewEntry{UserID: user, Kind: KindWithdrawalSettle, Magnitude: 700, ReferenceID: "wd-1"})
	require.NoError(t, err)
	require.EqualValues(t, 300, bal.Available)
	require.Zero(t, bal.Held)

	_, _, err = s.Append(ctx, NewEntry{UserID: user, Kind: KindWithdrawalSettle, Magnitude: 700, ReferenceID: "wd-1"})
	require.ErrorIs(t, err, ErrDuplicateEntry)

	recomputed, err := s.Recompute(ctx, user)
	require.NoError(t, err)
	cached, err := s.CachedBalance(ctx, user)
	require.NoError(t, err)
	require.Equal(t, cached.Available, recomputed.Available)
	require.Equal(t, cached.Held, recomputed.Held)
}

func TestPostgresLedger_TxRecomputeSeesOwnWrites(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	user := uuid.NewString()
	SeedBalance(s, user, 1_000)

	err := s.WithinUser(ctx, user, func(ctx context.Context, tx Tx) error {
		if _, err := tx.Append(ctx, NewEntry{UserID: user, Kind: KindWithdrawalHold, Magnitude: 400, ReferenceID: "wd-1"}); err != nil {
			return err
		}
		recomputed, err := tx.Recompute(ctx)
		if err != nil {
			return err
		}
		assert.EqualValues(t, 600, recomputed.Available)
		assert.EqualValues(t, 400, recomputed.Held)
		return nil
	})
	require.NoError(t, err)
}

func TestPostgresLedger_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	user := uuid.NewString()
	SeedBalance(s, user, 5_000)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.Append(ctx, NewEntry{UserID: user, Kind: KindWithdrawalHold, Magnitude: 1_000, ReferenceID: uuid.NewString()})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrInsufficientFunds)
		}()
	}
	wg.Wait()

	require.Equal(t, 5, succeeded)
	bal, err := s.CachedBalance(ctx, user)
	require.NoError(t, err)
	require.Zero(t, bal.Available)
	require.EqualValues(t, 5_000, bal.Held)
}
