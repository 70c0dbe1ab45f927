package wallet

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/walletcore/internal/ledger"
)

func newTestApp(t *testing.T, uid string) (*fiber.App, ledger.Store) {
	t.Helper()
	svc, store := newService(t)
	h := NewHandler(svc)
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if uid != "" {
			c.Locals("user_id", uid)
		}
		return c.Next()
	})
	app.Get("/wallet", h.Get)
	app.Get("/wallet/transactions", h.Transactions)
	app.Post("/wallet/withdrawals", h.CreateWithdrawal)
	app.Get("/wallet/withdrawals", h.Withdrawals)
	app.Get("/wallet/withdrawals/:id", h.Withdrawal)
	return app, store
}

func do(t *testing.T, app *fiber.App, method, path, body string, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var payload map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp, payload
}

func TestHandlerWithdrawalFlow(t *testing.T) {
	app, store := newTestApp(t, "seller-1")
	ledger.SeedBalance(store, "seller-1", 1000)

	resp, body := do(t, app, http.MethodPost, "/wallet/withdrawals", `{"amount":700}`, map[string]string{"Idempotency-Key": "k1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "pending", body["status"])
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)

	resp, body = do(t, app, http.MethodGet, "/wallet", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(300), body["available"])
	require.Equal(t, float64(700), body["held"])

	resp, body = do(t, app, http.MethodGet, "/wallet/withdrawals/"+id, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, id, body["id"])

	resp, body = do(t, app, http.MethodGet, "/wallet/withdrawals", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["withdrawals"], 1)

	resp, body = do(t, app, http.MethodGet, "/wallet/transactions?limit=1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["transactions"], 1)
	require.NotEmpty(t, body["next_cursor"])
}

func TestHandlerErrors(t *testing.T) {
	app, store := newTestApp(t, "seller-1")
	ledger.SeedBalance(store, "seller-1", 100)

	resp, _ := do(t, app, http.MethodPost, "/wallet/withdrawals", `{"amount":50}`, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, app, http.MethodPost, "/wallet/withdrawals", `{"amount":500}`, map[string]string{"Idempotency-Key": "k2"})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = do(t, app, http.MethodPost, "/wallet/withdrawals", `{"amount":-1}`, map[string]string{"Idempotency-Key": "k3"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, app, http.MethodGet, "/wallet/transactions?cursor=@@@@", "", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, app, http.MethodGet, "/wallet/withdrawals/missing", "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandlerRequiresUser(t *testing.T) {
	app, _ := newTestApp(t, "")
	resp, _ := do(t, app, http.MethodGet, "/wallet", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
