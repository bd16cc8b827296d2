package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifierRoundTrip(t *testing.T) {
	t.Parallel()
	v := NewVerifier("secret")

	token, err := v.Sign(Identity{UID: "firebase-1", Name: "alice", Scopes: []string{ScopeAdmin}}, time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "firebase-1", id.UID)
	assert.Equal(t, "alice", id.Name)
	assert.Equal(t, []string{ScopeAdmin}, id.Scopes)
}

func TestVerifierRejects(t *testing.T) {
	t.Parallel()
	v := NewVerifier("secret")

	_, err := v.Verify("")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = v.Verify("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewVerifier("other-secret").Sign(Identity{UID: "u"}, time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := v.Sign(Identity{UID: "u"}, -time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = v.Verify(noSubject)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenFromRequest(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/ws?token=abc", nil)
	r.Header.Set("Authorization", "Bearer header-token")
	assert.Equal(t, "abc", TokenFromRequest(r))

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "bearer header-token")
	assert.Equal(t, "header-token", TokenFromRequest(r))

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Basic xyz")
	assert.Empty(t, TokenFromRequest(r))
}

func TestAuthAndRequireScope(t *testing.T) {
	t.Parallel()
	v := NewVerifier("secret")
	h := Auth(v)(RequireScope(ScopeAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "admin-uid", GetUserID(r.Context()))
		require.NotNil(t, GetIdentity(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	})))

	do := func(token string) int {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/admin/bots", nil)
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Code
	}

	assert.Equal(t, http.StatusUnauthorized, do(""))

	user, _ := v.Sign(Identity{UID: "user-uid"}, time.Hour)
	assert.Equal(t, http.StatusForbidden, do(user))

	admin, _ := v.Sign(Identity{UID: "admin-uid", Scopes: []string{ScopeAdmin}}, time.Hour)
	assert.Equal(t, http.StatusNoContent, do(admin))
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	h := RateLimit(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "10.0.0.1:1234"
		h.ServeHTTP(w, r)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestValidation(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateMessageContent("hello"))
	assert.Error(t, ValidateMessageContent("   "))
	assert.Error(t, ValidateMessageContent(string([]byte{0xff, 0xfe})))

	assert.NoError(t, ValidateRoom("general"))
	assert.Error(t, ValidateRoom(""))

	assert.NoError(t, ValidateBotUsername("QC_Carl"))
	assert.Error(t, ValidateBotUsername("QC Carl"))
	assert.Error(t, ValidateBotUsername(""))

	assert.Error(t, ValidateID("not-a-uuid"))
}
