package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticator_RoundTrip(t *testing.T) {
	logger, _ := test.NewNullLogger()
	auth := NewAuthenticator(testSecret, logger)

	tok, err := auth.SignToken(Principal{UserID: "u-1", Email: "a@example.com", Admin: true}, time.Hour)
	require.NoError(t, err)

	p, err := auth.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, Principal{UserID: "u-1", Email: "a@example.com", Admin: true}, p)
}

func TestAuthenticator_Rejects(t *testing.T) {
	logger, _ := test.NewNullLogger()
	auth := NewAuthenticator(testSecret, logger)

	expired, err := auth.SignToken(Principal{UserID: "u-1"}, -time.Minute)
	require.NoError(t, err)
	_, err = auth.Verify(expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	other := NewAuthenticator("a-completely-different-secret-value", logger)
	forged, err := other.SignToken(Principal{UserID: "u-1", Admin: true}, time.Hour)
	require.NoError(t, err)
	_, err = auth.Verify(forged)
	assert.Error(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u-1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = auth.Verify(none)
	assert.Error(t, err)

	anonymous, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = auth.Verify(anonymous)
	assert.EqualError(t, err, "token has no subject")
}

func TestAuthenticator_WarnsOnShortSecret(t *testing.T) {
	logger, hook := test.NewNullLogger()
	NewAuthenticator("short", logger)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestRouteProtection(t *testing.T) {
	a := newTestAPI(t, nil)
	_, token := a.user("alice@example.com")

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"no header", "/api/account", "", http.StatusUnauthorized},
		{"wrong scheme", "/api/account", "Basic " + token, http.StatusUnauthorized},
		{"garbage token", "/api/account", "Bearer not.a.jwt", http.StatusUnauthorized},
		{"user on user route", "/api/account", "Bearer " + token, http.StatusOK},
		{"lowercase scheme", "/api/account", "bearer " + token, http.StatusOK},
		{"user on admin route", "/api/admin/withdrawals/pending", "Bearer " + token, http.StatusForbidden},
		{"admin on admin route", "/api/admin/withdrawals/pending", "Bearer " + a.admin, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			a.router.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestRequestLogger_LevelsByStatus(t *testing.T) {
	logger, hook := test.NewNullLogger()
	mw := RequestLogger(logger)

	for _, status := range []int{http.StatusOK, http.StatusNotFound, http.StatusBadGateway} {
		h := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(status) }))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
	}

	entries := hook.AllEntries()
	require.Len(t, entries, 3)
	assert.Equal(t, logrus.InfoLevel, entries[0].Level)
	assert.Equal(t, logrus.WarnLevel, entries[1].Level)
	assert.Equal(t, logrus.ErrorLevel, entries[2].Level)
	assert.Equal(t, http.StatusBadGateway, entries[2].Data["status"])
}
