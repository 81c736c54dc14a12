package auth

import (
	"context"
	"sync"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// KeySource resolves a key-set discovery URI to a signature verification
// function. Implementations must fail closed: an unreachable key set is an
// error, never a skipped check.
type KeySource interface {
	Keyfunc(jwksURI string) (jwt.Keyfunc, error)
}

// JWKSSource fetches provider key sets with keyfunc, keeping one client per
// discovery URI. keyfunc refreshes the key set in the background for the
// lifetime of baseCtx, so per-request fetches only happen on first use of
// a URI.
type JWKSSource struct {
	baseCtx context.Context

	mu      sync.Mutex
	clients map[string]keyfunc.Keyfunc
}

// NewJWKSSource creates a JWKSSource whose background refreshes stop when
// baseCtx is cancelled.
func NewJWKSSource(baseCtx context.Context) *JWKSSource {
	return &JWKSSource{
		baseCtx: baseCtx,
		clients: make(map[string]keyfunc.Keyfunc),
	}
}

// Keyfunc implements KeySource.
func (s *JWKSSource) Keyfunc(jwksURI string) (jwt.Keyfunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if k, ok := s.clients[jwksURI]; ok {
		return k.Keyfunc, nil
	}
	k, err := keyfunc.NewDefaultCtx(s.baseCtx, []string{jwksURI})
	if err != nil {
		return nil, err
	}
	s.clients[jwksURI] = k
	return k.Keyfunc, nil
}
