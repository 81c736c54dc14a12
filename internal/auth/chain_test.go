package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/firsec/fir/internal/auth"
	"github.com/firsec/fir/internal/domain"
)

type stubAuthenticator struct {
	name     string
	identity *auth.Identity
	err      error
	called   bool
}

func (s *stubAuthenticator) Name() string { return s.name }

func (s *stubAuthenticator) Authenticate(_ context.Context, _ *http.Request) (*auth.Identity, error) {
	s.called = true
	return s.identity, s.err
}

func request() *http.Request {
	return httptest.NewRequest(http.MethodGet, "/api/incidents", nil)
}

func TestChain_FirstSuccessWins(t *testing.T) {
	first := &stubAuthenticator{name: "first", identity: &auth.Identity{User: &domain.User{Username: "alice"}}}
	second := &stubAuthenticator{name: "second"}
	chain := auth.NewChain(first, second)

	identity, err := chain.Authenticate(context.Background(), request())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if identity == nil || identity.User.Username != "alice" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
	if identity.Authenticator != "first" {
		t.Fatalf("expected deciding authenticator name, got %q", identity.Authenticator)
	}
	if second.called {
		t.Fatal("chain should stop at the first success")
	}
}

func TestChain_NoOpinionFallsThrough(t *testing.T) {
	first := &stubAuthenticator{name: "first"}
	second := &stubAuthenticator{name: "second", identity: &auth.Identity{User: &domain.User{Username: "bob"}}}
	chain := auth.NewChain(first, second)

	identity, err := chain.Authenticate(context.Background(), request())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if identity == nil || identity.Authenticator != "second" {
		t.Fatalf("expected second authenticator to decide, got %+v", identity)
	}
	if !first.called {
		t.Fatal("first authenticator should have been tried")
	}
}

func TestChain_FirstFailureStops(t *testing.T) {
	first := &stubAuthenticator{name: "first", err: auth.Failuref("invalid token")}
	second := &stubAuthenticator{name: "second", identity: &auth.Identity{User: &domain.User{Username: "bob"}}}
	chain := auth.NewChain(first, second)

	identity, err := chain.Authenticate(context.Background(), request())
	if identity != nil {
		t.Fatalf("expected no identity, got %+v", identity)
	}
	if err == nil || err.Error() != "invalid token" {
		t.Fatalf("expected failure to propagate, got %v", err)
	}
	if second.called {
		t.Fatal("chain should stop at the first failure")
	}
}

func TestChain_AllAbstain(t *testing.T) {
	first := &stubAuthenticator{name: "first"}
	second := &stubAuthenticator{name: "second"}
	chain := auth.NewChain(first, second)

	identity, err := chain.Authenticate(context.Background(), request())
	if identity != nil || err != nil {
		t.Fatalf("expected (nil, nil), got (%+v, %v)", identity, err)
	}
}
