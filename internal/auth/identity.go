// Package auth implements request authentication for the API: an ordered
// chain of authenticators resolving an inbound request to a local identity.
package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/firsec/fir/internal/domain"
)

// Identity is a resolved, permission-bearing principal. The bearer path
// carries no credential object, only the user.
type Identity struct {
	User *domain.User
	// Authenticator is the name of the chain entry that decided.
	Authenticator string
}

// FailureError is the single failure kind all authentication errors
// collapse to. Reason is safe to return to the caller.
type FailureError struct {
	Reason string
	// Authenticator is filled in by the chain with the name of the entry
	// that failed.
	Authenticator string
}

func (e *FailureError) Error() string { return e.Reason }

// Failuref builds a FailureError from a format string.
func Failuref(format string, args ...any) *FailureError {
	return &FailureError{Reason: fmt.Sprintf(format, args...)}
}

// Authenticator inspects a request and returns one of three outcomes:
//
//   - (identity, nil): the request is authenticated, stop the chain
//   - (nil, nil): no opinion, the relevant header is absent, try the next
//   - (nil, *FailureError): authentication was attempted and failed
type Authenticator interface {
	// Name identifies the authenticator in logs and metrics.
	Name() string

	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
}

type identityContextKey struct{}

// ContextWithIdentity attaches the resolved identity to the context.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the resolved identity, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(*Identity)
	return id, ok && id != nil
}
