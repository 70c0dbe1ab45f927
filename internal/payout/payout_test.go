package payout

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/walletcore/internal/logging"
)

type failingGateway struct{ calls int }

func (g *failingGateway) SubmitPayout(context.Context, Request) (Submission, error) {
	g.calls++
	return Submission{}, errors.New("gateway timeout")
}

func TestNewDispatchTaskKeyedByWithdrawal(t *testing.T) {
	req := Request{WithdrawalID: "wd-1", UserID: "user-1", Amount: 700}
	task, err := NewDispatchTask(req, "payouts")
	require.NoError(t, err)
	require.Equal(t, TypeDispatch, task.Type())

	var decoded Request
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	require.Equal(t, req, decoded)

	_, err = NewDispatchTask(Request{WithdrawalID: "wd-1", UserID: "user-1"}, "payouts")
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestWorkerSubmitsOncePerWithdrawal(t *testing.T) {
	gw := &StaticGateway{}
	w := NewWorker(gw, logging.Discard())
	task, err := NewDispatchTask(Request{WithdrawalID: "wd-1", UserID: "user-1", Amount: 700}, "payouts")
	require.NoError(t, err)

	require.NoError(t, w.ProcessTask(context.Background(), task))
	require.NoError(t, w.ProcessTask(context.Background(), task))
	require.Equal(t, 1, gw.Submitted())
}

func TestWorkerRetryClassification(t *testing.T) {
	gw := &failingGateway{}
	w := NewWorker(gw, logging.Discard())

	bad := asynq.NewTask(TypeDispatch, []byte("{not json"))
	err := w.ProcessTask(context.Background(), bad)
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Zero(t, gw.calls)

	task, err := NewDispatchTask(Request{WithdrawalID: "wd-2", UserID: "user-1", Amount: 10}, "payouts")
	require.NoError(t, err)
	err = w.ProcessTask(context.Background(), task)
	require.Error(t, err)
	require.False(t, errors.Is(err, asynq.SkipRetry))
	require.Equal(t, 1, gw.calls)
}

func TestLogDispatcherValidates(t *testing.T) {
	d := NewLogDispatcher(logging.Discard())
	require.NoError(t, d.Dispatch(context.Background(), Request{WithdrawalID: "wd", UserID: "u", Amount: 1}))
	require.ErrorIs(t, d.Dispatch(context.Background(), Request{}), ErrInvalidRequest)
}
