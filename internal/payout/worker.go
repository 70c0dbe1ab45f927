package payout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/walletcore/internal/logging"
)

// Worker submits queued payouts to the gateway.
type Worker struct {
	gateway Gateway
	logger  *slog.Logger
}

// NewWorker builds a payout worker. A nil gateway falls back to StaticGateway.
func NewWorker(gateway Gateway, logger *slog.Logger) *Worker {
	if gateway == nil {
		gateway = &StaticGateway{}
	}
	return &Worker{gateway: gateway, logger: logging.With(logger, "payout_worker")}
}

// ProcessTask implements asynq.Handler. Malformed payloads are not retried; gateway errors are.
func (w *Worker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var req Request
	if err := json.Unmarshal(t.Payload(), &req); err != nil {
		return fmt.Errorf("decode payout payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := req.validate(); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	sub, err := w.gateway.SubmitPayout(ctx, req)
	if err != nil {
		w.logger.WarnContext(ctx, "payout submission failed",
			slog.String("withdrawal_id", req.WithdrawalID),
			slog.Any("error", err),
		)
		return fmt.Errorf("submit payout %s: %w", req.WithdrawalID, err)
	}

	w.logger.InfoContext(ctx, "payout submitted",
		slog.String("withdrawal_id", req.WithdrawalID),
		slog.String("reference", sub.Reference),
		slog.String("status", sub.Status),
	)
	return nil
}

// Register mounts the worker on mux.
func (w *Worker) Register(mux *asynq.ServeMux) {
	mux.Handle(TypeDispatch, w)
}

// NewServer builds an asynq server on the same Redis instance as cache.
func NewServer(cache *redis.Client, queue string, concurrency int, logger *slog.Logger) *asynq.Server {
	logger = logging.With(logger, "payout_server")
	opt := cache.Options()
	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      opt.Addr,
			Username:  opt.Username,
			Password:  opt.Password,
			DB:        opt.DB,
			TLSConfig: opt.TLSConfig,
		},
		asynq.Config{
			Concurrency:    concurrency,
			RetryDelayFunc: asynq.DefaultRetryDelayFunc,
			Queues:         map[string]int{queue: 1},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.ErrorContext(ctx, "payout task failed", slog.String("task_type", task.Type()), slog.Any("error", err))
			}),
		},
	)
}
