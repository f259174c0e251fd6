// Package token verifies and issues HS256 bearer tokens.
package token

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"

	"github.com/xenking/distributor-api/internal/domain/auth"
)

var _ auth.Verifier = (*JWT)(nil)

// Claims is the token payload. The subject holds the decimal user id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWT signs and verifies tokens with a shared secret.
type JWT struct {
	secret []byte
	now    func() time.Time
}

// NewJWT creates a JWT using secret as the HMAC key.
func NewJWT(secret []byte) *JWT {
	return &JWT{secret: secret, now: time.Now}
}

// Verify parses token and returns the principal it names.
func (j *JWT) Verify(_ context.Context, token string) (auth.Principal, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return auth.Principal{}, errors.Wrap(auth.ErrUnauthorized, err.Error())
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return auth.Principal{}, errors.Wrap(auth.ErrUnauthorized, "invalid subject")
	}
	if claims.Role == "" {
		return auth.Principal{}, errors.Wrap(auth.ErrUnauthorized, "missing role")
	}
	return auth.Principal{UserID: userID, Role: auth.Role(claims.Role)}, nil
}

// Issue signs a token for p that expires after ttl.
func (j *JWT) Issue(p auth.Principal, ttl time.Duration) (string, error) {
	now := j.now()
	claims := Claims{
		Role: string(p.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(p.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}
