package oauth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/firsec/fir/internal/auth"
	"github.com/firsec/fir/internal/domain"
	"github.com/firsec/fir/internal/oauth"
	"github.com/firsec/fir/internal/session"
)

type fakeUserLookup struct {
	users map[uuid.UUID]*domain.User
}

func (f *fakeUserLookup) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return u, nil
}

func sessionRequest(cookie string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/incidents", nil)
	if cookie != "" {
		r.AddCookie(&http.Cookie{Name: oauth.DefaultCookieName, Value: cookie})
	}
	return r
}

func TestSessionAuthenticator_NoCookieNoOpinion(t *testing.T) {
	store := session.NewMemoryStore(time.Minute)
	a := oauth.NewSessionAuthenticator(store, &fakeUserLookup{}, "")

	identity, err := a.Authenticate(context.Background(), sessionRequest(""))
	if identity != nil || err != nil {
		t.Fatalf("expected no opinion, got %v %v", identity, err)
	}
}

func TestSessionAuthenticator_StaleCookieNoOpinion(t *testing.T) {
	store := session.NewMemoryStore(time.Minute)
	a := oauth.NewSessionAuthenticator(store, &fakeUserLookup{}, "")

	identity, err := a.Authenticate(context.Background(), sessionRequest("gone"))
	if identity != nil || err != nil {
		t.Fatalf("stale cookie must fall through, got %v %v", identity, err)
	}
}

func TestSessionAuthenticator_BoundSession(t *testing.T) {
	store := session.NewMemoryStore(time.Minute)
	user := &domain.User{ID: uuid.New(), Username: "alice", IsActive: true}
	users := &fakeUserLookup{users: map[uuid.UUID]*domain.User{user.ID: user}}

	sess, _ := store.New()
	sess.Set(oauth.KeyUserID, user.ID.String())
	store.Save(sess)

	a := oauth.NewSessionAuthenticator(store, users, "")
	identity, err := a.Authenticate(context.Background(), sessionRequest(sess.ID))
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if identity == nil || identity.User.Username != "alice" {
		t.Fatalf("unexpected identity %+v", identity)
	}
}

func TestSessionAuthenticator_InactiveUserFails(t *testing.T) {
	store := session.NewMemoryStore(time.Minute)
	user := &domain.User{ID: uuid.New(), Username: "alice", IsActive: false}
	users := &fakeUserLookup{users: map[uuid.UUID]*domain.User{user.ID: user}}

	sess, _ := store.New()
	sess.Set(oauth.KeyUserID, user.ID.String())
	store.Save(sess)

	a := oauth.NewSessionAuthenticator(store, users, "")
	_, err := a.Authenticate(context.Background(), sessionRequest(sess.ID))
	fe, ok := err.(*auth.FailureError)
	if !ok || fe.Reason != "user is not active" {
		t.Fatalf("expected inactive failure, got %v", err)
	}
}
