package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stake-ledger/config"
	"github.com/warp/stake-ledger/ledger"
	"github.com/warp/stake-ledger/ledger/store"
	"github.com/warp/stake-ledger/metrics"
)

const testSecret = "test-secret-that-is-long-enough-for-hs256"

var t0 = time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)

// testAPI is a full router over an in-memory ledger with a manual clock.
type testAPI struct {
	t      *testing.T
	router http.Handler
	clock  *ledger.ManualClock
	svc    *ledger.Service
	auth   *Authenticator
	rates  *config.RateTable
	admin  string
}

func newTestAPI(t *testing.T, limiter Limiter) *testAPI {
	t.Helper()
	logger, _ := test.NewNullLogger()

	clock := ledger.NewManualClock(t0)
	rates := config.NewRateTable(ledger.DefaultRate, map[string]ledger.Rate{
		"BTC": {Percent: decimal.NewFromInt(12), Period: ledger.PeriodMonthly},
	})
	m := metrics.New()
	svc := ledger.NewService(ledger.Config{
		Store:    store.NewTxMemory(),
		Clock:    clock,
		Rates:    rates,
		Logger:   logger,
		Recorder: m,
		Retry:    ledger.RetryPolicy{Attempts: 3, Backoff: time.Millisecond},
	})
	auth := NewAuthenticator(testSecret, logger)
	h := NewHandler(svc, rates, logger)

	a := &testAPI{
		t:     t,
		clock: clock,
		svc:   svc,
		auth:  auth,
		rates: rates,
		router: NewRouter(h, RouterOptions{
			Auth:      auth,
			Limiter:   limiter,
			Metrics:   m,
			Logger:    logger,
			Scenarios: true,
		}),
	}
	a.admin = a.token(Principal{UserID: "admin-1", Email: "ops@example.com", Admin: true})
	return a
}

func (a *testAPI) token(p Principal) string {
	a.t.Helper()
	tok, err := a.auth.SignToken(p, time.Hour)
	require.NoError(a.t, err)
	return tok
}

// user registers an account through the admin API and returns its id and token.
func (a *testAPI) user(email string) (ledger.UserID, string) {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/admin/users", a.admin, RegisterUserRequest{Email: email, Name: "Test"})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	u := decode[UserDTO](a.t, rec)
	return ledger.UserID(u.ID), a.token(Principal{UserID: ledger.UserID(u.ID), Email: email})
}

// activeInvestment creates and activates an investment for the token's owner.
func (a *testAPI) activeInvestment(token, amount, method string) InvestmentDTO {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/investments", token, map[string]string{"amount": amount, "method": method})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[InvestmentResponse](a.t, rec)

	rec = a.do(http.MethodPost, "/api/admin/investments/"+created.Investment.ID+"/activate", a.admin, nil)
	require.Equal(a.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[InvestmentResponse](a.t, rec).Investment
}

func (a *testAPI) fund(userID ledger.UserID, amount string) {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/admin/adjustments", a.admin, map[string]string{
		"user_id": string(userID), "delta": amount, "reason": "test funding",
	})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (a *testAPI) do(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) account(token string) AccountDTO {
	a.t.Helper()
	rec := a.do(http.MethodGet, "/api/account", token, nil)
	require.Equal(a.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[AccountDTO](a.t, rec)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}
