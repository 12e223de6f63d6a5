package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/exam-scheduling/internal/identity"
)

func signedToken(t *testing.T, secret string, claims CallerClaims) string {
	t.Helper()
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(5 * time.Minute))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func serveWithToken(t *testing.T, secret, token string) (*httptest.ResponseRecorder, *identity.Caller) {
	t.Helper()
	var got *identity.Caller
	handler := CallerJWT(secret, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := identity.CallerFromContext(r.Context())
		require.True(t, ok)
		got = &caller
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/bookings", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, got
}

func TestCallerJWT_RejectsMissingOrBadTokens(t *testing.T) {
	user := uuid.NewString()

	rec, _ := serveWithToken(t, "", signedToken(t, "secret", CallerClaims{Role: "referrer", RegisteredClaims: jwt.RegisteredClaims{Subject: user}}))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = serveWithToken(t, "secret", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = serveWithToken(t, "secret", signedToken(t, "wrong", CallerClaims{Role: "referrer", RegisteredClaims: jwt.RegisteredClaims{Subject: user}}))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "UNAUTHORIZED", body["code"])

	expired := CallerClaims{Role: "referrer", RegisteredClaims: jwt.RegisteredClaims{
		Subject:   user,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}}
	rec, _ = serveWithToken(t, "secret", signedToken(t, "secret", expired))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = serveWithToken(t, "secret", signedToken(t, "secret", CallerClaims{Role: "system", RegisteredClaims: jwt.RegisteredClaims{Subject: user}}))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = serveWithToken(t, "secret", signedToken(t, "secret", CallerClaims{Role: "referrer", RegisteredClaims: jwt.RegisteredClaims{Subject: "not-a-uuid"}}))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCallerJWT_PopulatesCaller(t *testing.T) {
	user := uuid.New()
	rec, caller := serveWithToken(t, "secret", signedToken(t, "secret", CallerClaims{
		Role:             "specialist",
		RegisteredClaims: jwt.RegisteredClaims{Subject: user.String()},
	}))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, caller)
	assert.Equal(t, user, caller.ID)
	assert.Equal(t, identity.RoleSpecialist, caller.Role)
	assert.Nil(t, caller.ActingAs)
}

func TestCallerJWT_Impersonation(t *testing.T) {
	admin := uuid.New()
	target := uuid.New()

	rec, caller := serveWithToken(t, "secret", signedToken(t, "secret", CallerClaims{
		Role:             "admin",
		ActAs:            target.String(),
		ActAsRole:        "specialist",
		RegisteredClaims: jwt.RegisteredClaims{Subject: admin.String()},
	}))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, caller.ActingAs)
	assert.Equal(t, target, caller.ActingAs.ID)
	assert.Equal(t, identity.RoleSpecialist, caller.ActingAs.Role)
	assert.Equal(t, admin, *caller.ActorID())

	rec, _ = serveWithToken(t, "secret", signedToken(t, "secret", CallerClaims{
		Role:             "referrer",
		ActAs:            target.String(),
		RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString()},
	}))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
