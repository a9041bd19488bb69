package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLimiter(t *testing.T) {
	l := NewLocalLimiter(2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := l.Allow(ctx, "claim", "u-1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, retryAfter, err := l.Allow(ctx, "claim", "u-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Greater(t, retryAfter, time.Duration(0))

	// Buckets are per scope and subject.
	ok, _, _ = l.Allow(ctx, "withdraw", "u-1")
	assert.True(t, ok)
	ok, _, _ = l.Allow(ctx, "claim", "u-2")
	assert.True(t, ok)

	unlimited := NewLocalLimiter(0)
	for i := 0; i < 100; i++ {
		ok, _, _ := unlimited.Allow(ctx, "claim", "u-1")
		require.True(t, ok)
	}
}

func TestLocalLimiter_EvictsIdleBuckets(t *testing.T) {
	// GIVEN: Two callers with buckets, one of which goes quiet
	// WHEN: A full refill window passes and the other caller keeps going
	// THEN: The quiet bucket is dropped and a returning caller starts at full burst

	now := time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
	l := NewLocalLimiter(2)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, _ := l.Allow(ctx, "claim", "u-1")
		require.True(t, ok)
	}
	ok, _, _ := l.Allow(ctx, "claim", "u-2")
	require.True(t, ok)
	require.Len(t, l.visitors, 2)

	now = now.Add(30 * time.Second)
	ok, _, _ = l.Allow(ctx, "claim", "u-2")
	require.True(t, ok)
	assert.Len(t, l.visitors, 2, "nothing is idle yet")

	now = now.Add(31 * time.Second)
	ok, _, _ = l.Allow(ctx, "claim", "u-2")
	require.True(t, ok)
	assert.Len(t, l.visitors, 1)
	assert.NotContains(t, l.visitors, "claim:u-1")

	for i := 0; i < 2; i++ {
		ok, _, _ = l.Allow(ctx, "claim", "u-1")
		assert.True(t, ok)
	}
	ok, _, _ = l.Allow(ctx, "claim", "u-1")
	assert.False(t, ok)
}

func TestRateLimit_RejectsWithRetryAfter(t *testing.T) {
	// GIVEN: One claim per minute per user
	// WHEN: A user claims twice in a row
	// THEN: The second call is 429 with Retry-After and never reaches the ledger

	a := newTestAPI(t, NewLocalLimiter(1))
	_, token := a.user("alice@example.com")
	_, other := a.user("bob@example.com")
	inv := a.activeInvestment(token, "1000", "USDT")

	rec := a.do(http.MethodPost, "/api/investments/"+inv.ID+"/claim", token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(http.MethodPost, "/api/investments/"+inv.ID+"/claim", token, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	secs, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, secs, 1)

	// Withdrawals have their own budget, other users theirs.
	rec = a.do(http.MethodPost, "/api/withdrawals", token, map[string]string{"amount": "1", "method": "USDT"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rec = a.do(http.MethodPost, "/api/investments/"+inv.ID+"/claim", other, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Reads are never limited.
	for i := 0; i < 3; i++ {
		rec = a.do(http.MethodGet, "/api/investments/"+inv.ID+"/claim", token, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimit_FailsOpen(t *testing.T) {
	logger, hook := test.NewNullLogger()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	limiter := NewRedisLimiter(client, "test:", 1)
	_, _, err := limiter.Allow(context.Background(), "claim", "u-1")
	require.Error(t, err)

	reached := false
	h := RateLimit(limiter, "claim", logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reached = true
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/claim", nil))

	assert.True(t, reached)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "rate limiter unavailable", hook.LastEntry().Message)
}

func TestRedisLimiter_DisabledWithoutLimit(t *testing.T) {
	ok, _, err := NewRedisLimiter(nil, "", 0).Allow(context.Background(), "claim", "u-1")
	require.NoError(t, err)
	assert.True(t, ok)
}
