package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrInboxUnavailable wraps failures to write the audit record.
var ErrInboxUnavailable = errors.New("payment event inbox unavailable")

// Record is the audit trail entry written for every received callback.
type Record struct {
	ID         string
	ExternalID string
	UserID     string
	Kind       string
	Outcome    Outcome
	Error      string
	Payload    []byte
	ReceivedAt time.Time
}

// Inbox stores callback audit records.
type Inbox interface {
	Record(ctx context.Context, rec Record) error
}

// MemoryInbox keeps records in memory.
type MemoryInbox struct {
	mu      sync.Mutex
	records []Record
}

// NewMemoryInbox constructs an empty in-memory inbox.
func NewMemoryInbox() *MemoryInbox {
	return &MemoryInbox{}
}

func (i *MemoryInbox) Record(_ context.Context, rec Record) error {
	rec.Payload = append([]byte(nil), rec.Payload...)
	i.mu.Lock()
	defer i.mu.Unlock()
	i.records = append(i.records, rec)
	return nil
}

// Records returns a snapshot of everything recorded so far.
func (i *MemoryInbox) Records() []Record {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]Record(nil), i.records...)
}

// PostgresInbox writes records to the payment_events table.
type PostgresInbox struct {
	db *pgxpool.Pool
}

// NewPostgresInbox builds a Postgres-backed inbox.
func NewPostgresInbox(db *pgxpool.Pool) *PostgresInbox {
	return &PostgresInbox{db: db}
}

func (i *PostgresInbox) Record(ctx context.Context, rec Record) error {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return err
	}
	_, err = i.db.Exec(ctx, `INSERT INTO payment_events (id, external_id, user_id, kind, outcome, error, payload, received_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, rec.ExternalID, rec.UserID, rec.Kind, string(rec.Outcome), rec.Error, rec.Payload, rec.ReceivedAt.UTC())
	return err
}
