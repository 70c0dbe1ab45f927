package withdrawal

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/walletcore/internal/ledger"
)

func newOpsApp(f fixture) *fiber.App {
	h := NewOpsHandler(f.machine)
	app := fiber.New()
	app.Post("/withdrawals/:id/approve", h.Approve)
	app.Post("/withdrawals/:id/reject", h.Reject)
	app.Post("/withdrawals/:id/redispatch", h.Redispatch)
	return app
}

func post(t *testing.T, app *fiber.App, path, body string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestOpsHandlerRejectAndConflict(t *testing.T) {
	f := newFixture(t)
	ledger.SeedBalance(f.store, "seller", 1_000)
	w, err := f.machine.Create(context.Background(), "seller", 400)
	require.NoError(t, err)
	app := newOpsApp(f)

	require.Equal(t, http.StatusOK, post(t, app, "/withdrawals/"+w.ID+"/reject", `{"reason":"kyc"}`))
	require.Equal(t, int64(1_000), f.balance(t, "seller").Available)

	require.Equal(t, http.StatusConflict, post(t, app, "/withdrawals/"+w.ID+"/approve", ""))
	require.Equal(t, http.StatusNotFound, post(t, app, "/withdrawals/missing/approve", ""))
}

func TestOpsHandlerApproveReportsDispatchFailure(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.err = errors.New("queue down")
	ledger.SeedBalance(f.store, "seller", 1_000)
	w, err := f.machine.Create(context.Background(), "seller", 400)
	require.NoError(t, err)
	app := newOpsApp(f)

	require.Equal(t, http.StatusAccepted, post(t, app, "/withdrawals/"+w.ID+"/approve", ""))
	got, err := f.machine.Get(context.Background(), w.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, got.Status)

	require.Equal(t, http.StatusBadGateway, post(t, app, "/withdrawals/"+w.ID+"/redispatch", ""))
	f.dispatcher.err = nil
	require.Equal(t, http.StatusAccepted, post(t, app, "/withdrawals/"+w.ID+"/redispatch", ""))
}
