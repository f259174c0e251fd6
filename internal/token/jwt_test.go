package token

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/distributor-api/internal/domain/auth"
)

func TestJWT_RoundTrip(t *testing.T) {
	j := NewJWT([]byte("secret"))

	token, err := j.Issue(auth.Principal{UserID: 42, Role: auth.RoleDistributor}, time.Hour)
	require.NoError(t, err)

	p, err := j.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, auth.Principal{UserID: 42, Role: auth.RoleDistributor}, p)
}

func TestJWT_Rejects(t *testing.T) {
	issuer := NewJWT([]byte("secret"))
	valid, err := issuer.Issue(auth.Principal{UserID: 1, Role: auth.RoleAdmin}, time.Hour)
	require.NoError(t, err)

	expiredIssuer := NewJWT([]byte("secret"))
	expiredIssuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := expiredIssuer.Issue(auth.Principal{UserID: 1, Role: auth.RoleAdmin}, time.Hour)
	require.NoError(t, err)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:             "Admin",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "1"},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	badSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: "Admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "not-a-number",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		Role: "Admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	tests := map[string]string{
		"garbage":        "not.a.token",
		"wrong secret":   valid,
		"expired":        expired,
		"no expiry":      noExp,
		"bad subject":    badSubject,
		"unexpected alg": hs512,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			v := NewJWT([]byte("secret"))
			if name == "wrong secret" {
				v = NewJWT([]byte("other"))
			}
			_, err := v.Verify(context.Background(), token)
			require.ErrorIs(t, err, auth.ErrUnauthorized)
		})
	}
}
