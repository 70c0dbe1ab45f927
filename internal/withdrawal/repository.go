package withdrawal

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/congo-pay/walletcore/internal/ledger"
)

// Repository persists withdrawal requests. Writes take the ledger transaction of the enclosing
// per-user section so a status change commits together with its ledger entry.
type Repository interface {
	Create(ctx context.Context, tx ledger.Tx, w Request) error
	Get(ctx context.Context, id string) (Request, error)
	GetForUpdate(ctx context.Context, tx ledger.Tx, id string) (Request, error)
	Update(ctx context.Context, tx ledger.Tx, w Request) error
	ListByUser(ctx context.Context, userID string, limit int) ([]Request, error)
}

// PostgresRepository stores withdrawals in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectColumns = `id, user_id, amount, status, failure_reason, created_at, updated_at, approved_at, settled_at`

func scanRequest(row pgx.Row) (Request, error) {
	var (
		w  Request
		id uuid.UUID
	)
	if err := row.Scan(&id, &w.UserID, &w.Amount, &w.Status, &w.FailureReason, &w.CreatedAt, &w.UpdatedAt, &w.ApprovedAt, &w.SettledAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, err
	}
	w.ID = id.String()
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return w, nil
}

func pgxTx(tx ledger.Tx) (pgx.Tx, error) {
	ptx, ok := ledger.PgxTx(tx)
	if !ok {
		return nil, fmt.Errorf("withdrawal: postgres repository needs a postgres ledger transaction")
	}
	return ptx, nil
}

// Create inserts a withdrawal record.
func (r *PostgresRepository) Create(ctx context.Context, tx ledger.Tx, w Request) error {
	ptx, err := pgxTx(tx)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(w.ID)
	if err != nil {
		return err
	}
	_, err = ptx.Exec(ctx, `INSERT INTO withdrawals (`+selectColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, w.UserID, w.Amount, w.Status, w.FailureReason, w.CreatedAt.UTC(), w.UpdatedAt.UTC(), w.ApprovedAt, w.SettledAt)
	return err
}

// Get fetches a withdrawal outside any critical section.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Request, error) {
	wid, err := uuid.Parse(id)
	if err != nil {
		return Request{}, ErrNotFound
	}
	return scanRequest(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM withdrawals WHERE id = $1`, wid))
}

// GetForUpdate fetches and row-locks a withdrawal inside the caller's transaction.
func (r *PostgresRepository) GetForUpdate(ctx context.Context, tx ledger.Tx, id string) (Request, error) {
	ptx, err := pgxTx(tx)
	if err != nil {
		return Request{}, err
	}
	wid, err := uuid.Parse(id)
	if err != nil {
		return Request{}, ErrNotFound
	}
	return scanRequest(ptx.QueryRow(ctx, `SELECT `+selectColumns+` FROM withdrawals WHERE id = $1 FOR UPDATE`, wid))
}

// Update writes the mutable columns of a withdrawal.
func (r *PostgresRepository) Update(ctx context.Context, tx ledger.Tx, w Request) error {
	ptx, err := pgxTx(tx)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(w.ID)
	if err != nil {
		return err
	}
	cmd, err := ptx.Exec(ctx, `UPDATE withdrawals
        SET status = $2, failure_reason = $3, updated_at = $4, approved_at = $5, settled_at = $6
        WHERE id = $1`, id, w.Status, w.FailureReason, w.UpdatedAt.UTC(), w.ApprovedAt, w.SettledAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByUser returns the newest withdrawals of a user.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit int) ([]Request, error) {
	rows, err := r.db.Query(ctx, `SELECT `+selectColumns+` FROM withdrawals
        WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		w, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
