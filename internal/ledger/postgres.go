package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// PostgresStore persists ledger entries in PostgreSQL. The wallet_balances row of a user is the
// lock for its critical section and holds the running totals.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed ledger store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureAccount guarantees a balance row exists for the user.
func (s *PostgresStore) EnsureAccount(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrInvalidEntry
	}
	_, err := s.db.Exec(ctx, `INSERT INTO wallet_balances (user_id, available, held, updated_at)
        VALUES ($1, 0, 0, now())
        ON CONFLICT (user_id) DO NOTHING`, userID)
	return err
}

// AccountExists reports whether a balance row exists for the user.
func (s *PostgresStore) AccountExists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM wallet_balances WHERE user_id = $1)`, userID).Scan(&exists)
	return exists, err
}

// WithinUser opens a transaction, locks the user's balance row and runs fn. The cached totals
// are written back in the same transaction as the entries fn appended.
func (s *PostgresStore) WithinUser(ctx context.Context, userID string, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	bal := Balance{UserID: userID}
	err = tx.QueryRow(ctx, `SELECT available, held, updated_at FROM wallet_balances
        WHERE user_id = $1 FOR UPDATE`, userID).Scan(&bal.Available, &bal.Held, &bal.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUnknownAccount
		}
		return err
	}

	ptx := &pgTx{tx: tx, balance: bal}
	if err := fn(ctx, ptx); err != nil {
		return err
	}

	if ptx.dirty {
		if _, err := tx.Exec(ctx, `UPDATE wallet_balances SET available = $2, held = $3, updated_at = $4
            WHERE user_id = $1`, userID, ptx.balance.Available, ptx.balance.Held, ptx.balance.UpdatedAt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// Append records a single entry in its own critical section.
func (s *PostgresStore) Append(ctx context.Context, entry NewEntry) (Entry, Balance, error) {
	return appendOne(ctx, s, entry)
}

// EntriesForUser returns a page of entries, newest first.
func (s *PostgresStore) EntriesForUser(ctx context.Context, userID string, req PageRequest) (Page, error) {
	before, err := decodeCursor(req.Cursor)
	if err != nil {
		return Page{}, err
	}
	exists, err := s.AccountExists(ctx, userID)
	if err != nil {
		return Page{}, err
	}
	if !exists {
		return Page{}, ErrUnknownAccount
	}
	limit := req.limit()

	const query = `
        SELECT seq, id, user_id, kind, amount, held_delta, reference_id, created_at
        FROM ledger_entries
        WHERE user_id = $1 AND ($2 = 0 OR seq < $2)
        ORDER BY seq DESC
        LIMIT $3`
	rows, err := s.db.Query(ctx, query, userID, before, limit+1)
	if err != nil {
		return Page{}, err
	}
	defer rows.Close()

	page := Page{}
	for rows.Next() {
		var (
			e  Entry
			id uuid.UUID
		)
		if err := rows.Scan(&e.Seq, &id, &e.UserID, &e.Kind, &e.Amount, &e.HeldDelta, &e.ReferenceID, &e.CreatedAt); err != nil {
			return Page{}, err
		}
		e.ID = id.String()
		e.CreatedAt = e.CreatedAt.UTC()
		page.Entries = append(page.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return Page{}, err
	}
	if len(page.Entries) > limit {
		page.Entries = page.Entries[:limit]
		page.NextCursor = encodeCursor(page.Entries[limit-1].Seq)
	}
	return page, nil
}

// SumForUser returns the maintained running total without scanning entries.
func (s *PostgresStore) SumForUser(ctx context.Context, userID string) (int64, error) {
	bal, err := s.CachedBalance(ctx, userID)
	if err != nil {
		return 0, err
	}
	return bal.Total(), nil
}

// CachedBalance reads the maintained balance row.
func (s *PostgresStore) CachedBalance(ctx context.Context, userID string) (Balance, error) {
	bal := Balance{UserID: userID}
	err := s.db.QueryRow(ctx, `SELECT available, held, updated_at FROM wallet_balances WHERE user_id = $1`, userID).
		Scan(&bal.Available, &bal.Held, &bal.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{}, ErrUnknownAccount
		}
		return Balance{}, err
	}
	bal.UpdatedAt = bal.UpdatedAt.UTC()
	return bal, nil
}

// Recompute folds every entry of the user.
func (s *PostgresStore) Recompute(ctx context.Context, userID string) (Balance, error) {
	exists, err := s.AccountExists(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	if !exists {
		return Balance{}, ErrUnknownAccount
	}
	return recompute(ctx, s.db, userID)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func recompute(ctx context.Context, q querier, userID string) (Balance, error) {
	const query = `SELECT COALESCE(SUM(amount), 0), COALESCE(SUM(held_delta), 0), COALESCE(MAX(created_at), now())
        FROM ledger_entries WHERE user_id = $1`
	var total, held int64
	var last time.Time
	if err := q.QueryRow(ctx, query, userID).Scan(&total, &held, &last); err != nil {
		return Balance{}, err
	}
	return Balance{UserID: userID, Available: total - held, Held: held, UpdatedAt: last.UTC()}, nil
}

// Users lists every account, ordered by id.
func (s *PostgresStore) Users(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT user_id FROM wallet_balances ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

type pgTx struct {
	tx      pgx.Tx
	balance Balance
	dirty   bool
}

func (t *pgTx) UserID() string { return t.balance.UserID }

func (t *pgTx) Balance() Balance { return t.balance }

// Recompute sums the user's entries inside the locked transaction, so the result pairs with
// Balance() even while other writers wait on the row.
func (t *pgTx) Recompute(ctx context.Context) (Balance, error) {
	return recompute(ctx, t.tx, t.balance.UserID)
}

func (t *pgTx) HasEntry(ctx context.Context, referenceID string, kind Kind) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM ledger_entries
        WHERE user_id = $1 AND reference_id = $2 AND kind = $3)`, t.balance.UserID, referenceID, kind).Scan(&exists)
	return exists, err
}

func (t *pgTx) Append(ctx context.Context, n NewEntry) (Entry, error) {
	if err := n.validate(); err != nil {
		return Entry{}, err
	}
	if n.UserID != t.balance.UserID {
		return Entry{}, ErrInvalidEntry
	}

	// The row lock makes this check race-free for the user; the unique index stays as backstop.
	dup, err := t.HasEntry(ctx, n.ReferenceID, n.Kind)
	if err != nil {
		return Entry{}, err
	}
	if dup {
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
		CreatedAt:   time.Now().UTC(),
	}
	next, err := t.balance.apply(e)
	if err != nil {
		return Entry{}, err
	}

	err = t.tx.QueryRow(ctx, `INSERT INTO ledger_entries (id, user_id, kind, amount, held_delta, reference_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING seq`,
		e.ID, e.UserID, e.Kind, e.Amount, e.HeldDelta, e.ReferenceID, e.CreatedAt).Scan(&e.Seq)
	if err != nil {
		if isUniqueViolation(err) {
			return Entry{}, ErrDuplicateEntry
		}
		return Entry{}, fmt.Errorf("insert ledger entry: %w", err)
	}

	t.balance = next
	t.dirty = true
	return e, nil
}

// PgxTx exposes the underlying transaction of a Postgres-backed Tx so that other repositories
// can write in the same critical section.
func PgxTx(tx Tx) (pgx.Tx, bool) {
	ptx, ok := tx.(*pgTx)
	if !ok {
		return nil, false
	}
	return ptx.tx, true
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == uniqueViolation
}
