package balance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/congo-pay/walletcore/internal/ledger"
	"github.com/congo-pay/walletcore/internal/logging"
	"github.com/congo-pay/walletcore/internal/metrics"
	"github.com/congo-pay/walletcore/internal/notification"
)

// ErrLedgerDrift signals that a cached balance disagrees with the sum of its ledger entries.
var ErrLedgerDrift = errors.New("ledger drift")

const defaultConcurrency = 4

// Report is the outcome of comparing one account's cache with its ledger.
type Report struct {
	UserID     string         `json:"user_id"`
	Cached     ledger.Balance `json:"cached"`
	Recomputed ledger.Balance `json:"recomputed"`
	Drift      bool           `json:"drift"`
	CheckedAt  time.Time      `json:"checked_at"`
}

// SweepResult summarises a pass over every account.
type SweepResult struct {
	Checked int       `json:"checked"`
	Drifted []string  `json:"drifted"`
	Failed  []string  `json:"failed"`
	At      time.Time `json:"at"`
}

// Projector serves balances and verifies them against the ledger. It never writes: drift is
// reported, not corrected.
type Projector struct {
	store       ledger.Store
	notifier    notification.Notifier
	metrics     *metrics.Metrics
	logger      *slog.Logger
	concurrency int
	now         func() time.Time
}

// NewProjector builds a projector. concurrency bounds the accounts checked in parallel by Sweep.
func NewProjector(store ledger.Store, notifier notification.Notifier, m *metrics.Metrics, logger *slog.Logger, concurrency int) *Projector {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Projector{
		store:       store,
		notifier:    notifier,
		metrics:     m,
		logger:      logging.With(logger, "balance"),
		concurrency: concurrency,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Balance returns the cached balance of userID.
func (p *Projector) Balance(ctx context.Context, userID string) (ledger.Balance, error) {
	return p.store.CachedBalance(ctx, userID)
}

// Check compares the cached balance of userID with a full recomputation. Both are read in
// the user's critical section so a concurrent append cannot land between them. On mismatch
// it returns the report together with ErrLedgerDrift and alerts operators.
func (p *Projector) Check(ctx context.Context, userID string) (Report, error) {
	var cached, recomputed ledger.Balance
	err := p.store.WithinUser(ctx, userID, func(ctx context.Context, tx ledger.Tx) error {
		cached = tx.Balance()
		var err error
		recomputed, err = tx.Recompute(ctx)
		return err
	})
	if err != nil {
		return Report{}, err
	}

	report := Report{
		UserID:     userID,
		Cached:     cached,
		Recomputed: recomputed,
		CheckedAt:  p.now(),
	}
	if cached.Available == recomputed.Available && cached.Held == recomputed.Held {
		return report, nil
	}

	report.Drift = true
	p.metrics.LedgerDrift()
	p.logger.ErrorContext(ctx, "ledger drift detected",
		slog.String("user_id", userID),
		slog.Int64("cached_available", cached.Available),
		slog.Int64("cached_held", cached.Held),
		slog.Int64("ledger_available", recomputed.Available),
		slog.Int64("ledger_held", recomputed.Held),
	)
	if p.notifier != nil {
		msg := notification.Message{
			Kind:        notification.KindLedgerDrift,
			Destination: notification.DestinationOperators,
			Body:        fmt.Sprintf("cached balance for %s disagrees with ledger", userID),
			Attrs: map[string]string{
				"user_id":          userID,
				"cached_available": strconv.FormatInt(cached.Available, 10),
				"cached_held":      strconv.FormatInt(cached.Held, 10),
				"ledger_available": strconv.FormatInt(recomputed.Available, 10),
				"ledger_held":      strconv.FormatInt(recomputed.Held, 10),
			},
		}
		if err := p.notifier.Send(ctx, msg); err != nil {
			p.logger.WarnContext(ctx, "drift alert failed", slog.String("error", err.Error()))
		}
	}
	return report, fmt.Errorf("%w: user %s", ErrLedgerDrift, userID)
}

// Sweep checks every account. A drifting or failing account does not stop the pass; the only
// error returned is from listing accounts or context cancellation.
func (p *Projector) Sweep(ctx context.Context) (SweepResult, error) {
	users, err := p.store.Users(ctx)
	if err != nil {
		return SweepResult{}, err
	}

	var (
		mu     sync.Mutex
		result SweepResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, userID := range users {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			_, err := p.Check(gctx, userID)
			mu.Lock()
			defer mu.Unlock()
			result.Checked++
			switch {
			case err == nil:
			case errors.Is(err, ErrLedgerDrift):
				result.Drifted = append(result.Drifted, userID)
			default:
				result.Failed = append(result.Failed, userID)
				p.logger.WarnContext(gctx, "balance check failed",
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	sort.Strings(result.Drifted)
	sort.Strings(result.Failed)
	result.At = p.now()
	p.metrics.ReconcileRun(result.At, result.Checked)
	p.logger.InfoContext(ctx, "ledger sweep finished",
		slog.Int("checked", result.Checked),
		slog.Int("drifted", len(result.Drifted)),
		slog.Int("failed", len(result.Failed)),
	)
	return result, nil
}
