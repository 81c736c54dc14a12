package oauth

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/firsec/fir/internal/auth"
	"github.com/firsec/fir/internal/domain"
	"github.com/firsec/fir/internal/session"
)

// DefaultCookieName carries the opaque session id.
const DefaultCookieName = "fir_session"

// UserLookup resolves a session's user id. domain.UserRepository
// satisfies it.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

// SessionAuthenticator resolves API requests carrying a browser session
// cookie. A missing or stale cookie is no opinion, so token-based
// authenticators further down the chain still get their turn.
type SessionAuthenticator struct {
	store      sessionGetter
	users      UserLookup
	cookieName string
}

type sessionGetter interface {
	Get(id string) (*session.Session, bool)
}

// NewSessionAuthenticator creates the authenticator. cookieName falls
// back to DefaultCookieName when empty.
func NewSessionAuthenticator(store sessionGetter, users UserLookup, cookieName string) *SessionAuthenticator {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &SessionAuthenticator{store: store, users: users, cookieName: cookieName}
}

// Name implements auth.Authenticator.
func (s *SessionAuthenticator) Name() string { return "session" }

// Authenticate implements auth.Authenticator.
func (s *SessionAuthenticator) Authenticate(ctx context.Context, r *http.Request) (*auth.Identity, error) {
	cookie, err := r.Cookie(s.cookieName)
	if err != nil || cookie.Value == "" {
		return nil, nil
	}
	sess, ok := s.store.Get(cookie.Value)
	if !ok {
		return nil, nil
	}
	rawID := sess.Get(KeyUserID)
	if rawID == "" {
		return nil, nil
	}

	userID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, auth.Failuref("invalid session")
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, auth.Failuref("invalid session")
	}
	if !user.IsActive {
		return nil, auth.Failuref("user is not active")
	}
	return &auth.Identity{User: user}, nil
}
