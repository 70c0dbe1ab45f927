package payout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/walletcore/internal/logging"
)

// TypeDispatch is the asynq task type carrying a payout Request.
const TypeDispatch = "payout:dispatch"

const (
	maxRetry  = 12
	retention = 7 * 24 * time.Hour
)

// NewDispatchTask encodes req as an asynq task. The withdrawal id is the task id, so the queue
// refuses a second copy while the first is pending or retained.
func NewDispatchTask(req Request, queue string) (*asynq.Task, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeDispatch, payload,
		asynq.TaskID(req.WithdrawalID),
		asynq.Queue(queue),
		asynq.MaxRetry(maxRetry),
		asynq.Retention(retention),
	), nil
}

// QueueDispatcher enqueues payouts on Redis through asynq.
type QueueDispatcher struct {
	client *asynq.Client
	queue  string
	logger *slog.Logger
}

// NewQueueDispatcher shares the application's Redis connection with asynq.
func NewQueueDispatcher(cache *redis.Client, queue string, logger *slog.Logger) *QueueDispatcher {
	return &QueueDispatcher{
		client: asynq.NewClientFromRedisClient(cache),
		queue:  queue,
		logger: logging.With(logger, "payout_queue"),
	}
}

// Dispatch enqueues req. A task id conflict means the payout is already queued and counts as
// success.
func (d *QueueDispatcher) Dispatch(ctx context.Context, req Request) error {
	task, err := NewDispatchTask(req, d.queue)
	if err != nil {
		return err
	}
	info, err := d.client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			d.logger.InfoContext(ctx, "payout already queued", slog.String("withdrawal_id", req.WithdrawalID))
			return nil
		}
		return fmt.Errorf("enqueue payout: %w", err)
	}
	d.logger.InfoContext(ctx, "payout queued",
		slog.String("withdrawal_id", req.WithdrawalID),
		slog.String("task_id", info.ID),
		slog.String("queue", info.Queue),
	)
	return nil
}
