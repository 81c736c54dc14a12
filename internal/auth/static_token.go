package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/firsec/fir/internal/domain"
)

// TokenResolver resolves a static token key to its owning user.
// domain.TokenRepository satisfies it.
type TokenResolver interface {
	GetUser(ctx context.Context, key string) (*domain.User, error)
}

// StaticTokenAuthenticator validates a pre-shared opaque token carried in a
// custom header of the form "<Keyword> <token>", for example:
//
//	X-Api: Token 401f7ac837da42b97f613d789819ff93537bee6a
//
// Token validity is binary: the key exists and its user is active, or not.
// No rotation or expiry happens at this layer.
type StaticTokenAuthenticator struct {
	tokens  TokenResolver
	header  string
	keyword string
}

// NewStaticTokenAuthenticator builds the authenticator; header and keyword
// default to "X-Api" and "Token" when empty.
func NewStaticTokenAuthenticator(tokens TokenResolver, header, keyword string) *StaticTokenAuthenticator {
	if header == "" {
		header = "X-Api"
	}
	if keyword == "" {
		keyword = "Token"
	}
	return &StaticTokenAuthenticator{tokens: tokens, header: header, keyword: keyword}
}

// Name implements Authenticator.
func (a *StaticTokenAuthenticator) Name() string { return "static-token" }

// Authenticate implements Authenticator. A missing header is no opinion,
// never a failure, so the next authenticator in the chain can run.
func (a *StaticTokenAuthenticator) Authenticate(ctx context.Context, r *http.Request) (*Identity, error) {
	header := r.Header.Get(a.header)
	if header == "" {
		return nil, nil
	}

	keyword, key, found := strings.Cut(header, " ")
	if !found || key == "" {
		return nil, Failuref("invalid token header, expected %q", a.keyword+" <token>")
	}
	if !strings.EqualFold(keyword, a.keyword) {
		return nil, Failuref("provided keyword %q does not match defined one %q", keyword, a.keyword)
	}

	user, err := a.tokens.GetUser(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, Failuref("invalid token")
		}
		return nil, Failuref("token lookup failed")
	}
	if !user.IsActive {
		return nil, Failuref("user is not active")
	}

	return &Identity{User: user}, nil
}
