package balance

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/congo-pay/walletcore/internal/logging"
)

// Scheduler runs Projector.Sweep on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	timeout time.Duration
}

// NewScheduler registers the sweep under spec, which accepts standard five-field expressions
// and descriptors such as "@every 15m". Overlapping runs are skipped.
func NewScheduler(p *Projector, spec string, timeout time.Duration, logger *slog.Logger) (*Scheduler, error) {
	logger = logging.With(logger, "balance_scheduler")
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	s := &Scheduler{cron: c, logger: logger, timeout: timeout}
	if _, err := c.AddFunc(spec, func() { s.run(p) }); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) run(p *Projector) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := p.Sweep(ctx); err != nil {
		s.logger.Error("scheduled ledger sweep failed", slog.String("error", err.Error()))
	}
}

// Start begins running the schedule in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("ledger sweep scheduled", slog.Int("jobs", len(s.cron.Entries())))
}

// Stop halts the schedule and waits for a running sweep or ctx, whichever ends first.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
