package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/firsec/fir/internal/domain"
)

// Claim names expected in tokens issued by the identity provider.
const (
	claimAppID = "appid"
	claimRoles = "roles"
)

// requiredClaims must all be present in a verified token.
var requiredClaims = []string{"aud", "iss", "iat", "exp", "nbf"}

// RegistrationStore looks up the validation policy for an application id.
// domain.AppRegistrationRepository satisfies it.
type RegistrationStore interface {
	GetByAppID(ctx context.Context, appID string) (*domain.AppRegistration, error)
}

// UserResolver resolves a username to a local account.
// domain.UserRepository satisfies it.
type UserResolver interface {
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
}

// BearerAuthenticator validates signed bearer tokens (JWT) issued by an
// external identity provider, tested against Azure AD.
//
// The token's appid claim is read without signature verification first.
// That is safe only because it solely selects which app registration (key
// set and validation policy) to verify against next; no trust decision is
// made on the unverified claims. Every request re-validates the token from
// scratch.
type BearerAuthenticator struct {
	regs  RegistrationStore
	users UserResolver
	keys  KeySource
}

// NewBearerAuthenticator builds the authenticator.
func NewBearerAuthenticator(regs RegistrationStore, users UserResolver, keys KeySource) *BearerAuthenticator {
	return &BearerAuthenticator{regs: regs, users: users, keys: keys}
}

// Name implements Authenticator.
func (a *BearerAuthenticator) Name() string { return "oauth2-jwt" }

// Authenticate implements Authenticator.
func (a *BearerAuthenticator) Authenticate(ctx context.Context, r *http.Request) (*Identity, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, nil
	}

	scheme, token, found := strings.Cut(header, " ")
	if !found || token == "" {
		return nil, Failuref(`invalid token header, expected "Bearer <token>"`)
	}
	if !strings.EqualFold(scheme, "Bearer") {
		return nil, Failuref("provided keyword %q does not match the defined one Bearer", scheme)
	}

	roles, err := a.validateToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		return nil, Failuref("no role has been added to the token")
	}
	if len(roles) > 1 {
		return nil, Failuref("multiple roles added to token, while only one is allowed: %v", roles)
	}

	user, err := a.userFromRole(ctx, roles[0])
	if err != nil {
		return nil, err
	}
	return &Identity{User: user}, nil
}

// validateToken verifies the JWT against the app registration selected by
// its appid claim and returns the role claim.
func (a *BearerAuthenticator) validateToken(ctx context.Context, token string) ([]string, error) {
	unverified, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, Failuref("JWT received is invalid and cannot be decoded")
	}
	claims, ok := unverified.Claims.(jwt.MapClaims)
	if !ok {
		return nil, Failuref("JWT received is invalid and cannot be decoded")
	}
	appID, _ := claims[claimAppID].(string)

	reg, err := a.regs.GetByAppID(ctx, appID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, Failuref("app id %q is not configured on the backend yet", appID)
		}
		return nil, Failuref("app registration lookup failed")
	}

	// Key-set fetch failures fail closed.
	keyfn, err := a.keys.Keyfunc(reg.JWKSURI)
	if err != nil {
		return nil, Failuref("failed to fetch signing keys: %v", err)
	}

	verified, err := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(reg.Audience),
		jwt.WithIssuer(reg.Issuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	).Parse(token, keyfn)
	if err != nil {
		return nil, Failuref("failed to validate JWT: %v", err)
	}

	vclaims, ok := verified.Claims.(jwt.MapClaims)
	if !ok {
		return nil, Failuref("failed to validate JWT: unexpected claims type")
	}
	for _, name := range requiredClaims {
		if _, present := vclaims[name]; !present {
			return nil, Failuref("failed to validate JWT: required claim %q is missing", name)
		}
	}

	return stringList(vclaims[claimRoles]), nil
}

// userFromRole resolves the sole role value as a username. This path never
// auto-provisions: an absent user is a hard failure.
func (a *BearerAuthenticator) userFromRole(ctx context.Context, role string) (*domain.User, error) {
	user, err := a.users.GetByUsername(ctx, role)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, Failuref("role does not exist, create a user on the backend first")
		}
		return nil, Failuref("user lookup failed")
	}
	if !user.IsActive {
		return nil, Failuref("user is not active")
	}
	return user, nil
}

// stringList coerces a decoded JSON claim into a string slice.
func stringList(value any) []string {
	switch typed := value.(type) {
	case []string:
		return typed
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{typed}
	default:
		return nil
	}
}
