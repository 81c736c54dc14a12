package auth

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Chain walks authenticators in order until one returns a non-"no opinion"
// outcome. First success or first failure wins; a chain where every entry
// abstains yields (nil, nil) and the caller decides what anonymous means.
type Chain struct {
	authenticators []Authenticator
}

// NewChain creates a chain trying the given authenticators in order.
func NewChain(authenticators ...Authenticator) *Chain {
	return &Chain{authenticators: authenticators}
}

// Authenticate runs the chain for one request.
func (c *Chain) Authenticate(ctx context.Context, r *http.Request) (*Identity, error) {
	for _, a := range c.authenticators {
		identity, err := a.Authenticate(ctx, r)
		if err != nil {
			if fe, ok := err.(*FailureError); ok && fe.Authenticator == "" {
				fe.Authenticator = a.Name()
			}
			log.Debug().Str("authenticator", a.Name()).Err(err).Msg("authentication failed")
			return nil, err
		}
		if identity != nil {
			identity.Authenticator = a.Name()
			return identity, nil
		}
	}
	return nil, nil
}
