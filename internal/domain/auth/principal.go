package auth

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrUnauthorized is returned when a bearer token is missing, malformed or
// fails verification.
var ErrUnauthorized = errors.New("unauthorized")

// Role names a user role as stored in the roles table.
type Role string

const (
	RoleAdmin       Role = "Admin"
	RoleDistributor Role = "Distributor"
)

// SeesOnlyOwnOrders reports whether order queries made by this role are
// restricted to orders the caller placed.
func (r Role) SeesOnlyOwnOrders() bool {
	return r == RoleDistributor
}

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID int64
	Role   Role
}

// Verifier turns a bearer token into a Principal.
type Verifier interface {
	Verify(ctx context.Context, token string) (Principal, error)
}

type principalKey struct{}

// WithPrincipal stores p in the returned context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored by WithPrincipal.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
