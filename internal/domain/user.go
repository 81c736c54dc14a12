package domain

import (
	"time"

	"github.com/google/uuid"
)

// Well-known permission groups referenced by the role mapping.
const (
	GroupIncidentHandlers = "Incident handlers"
	GroupIncidentViewers  = "Statistics and incident viewers"
)

// User is a local account. It can be provisioned by an administrator or
// lazily by the OAuth2 sign-in flow; federated accounts carry an empty
// PasswordHash and can never authenticate with a local password.
type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	IsActive     bool      `json:"is_active"`
	IsSuperuser  bool      `json:"is_superuser"`
	PasswordHash string    `json:"-"`
	Groups       []string  `json:"groups"`

	// Profile settings applied on lazy provisioning.
	HideClosed     bool   `json:"hide_closed"`
	IncidentNumber int    `json:"incident_number"`
	HomeAccountID  string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
}

// InGroup reports whether the user is a member of the named group.
func (u *User) InGroup(name string) bool {
	for _, g := range u.Groups {
		if g == name {
			return true
		}
	}
	return false
}

// CanHandleIncidents reports whether the user may create and edit incidents.
func (u *User) CanHandleIncidents() bool {
	return u.IsSuperuser || u.InGroup(GroupIncidentHandlers)
}

// CreateUserInput carries the fields needed to provision a new account.
type CreateUserInput struct {
	Username       string
	Email          string
	PasswordHash   string
	HomeAccountID  string
	HideClosed     bool
	IncidentNumber int
}

// Group is a named permission group users can belong to.
type Group struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// AccessControlEntry grants a user a role scoped to a single business line,
// as opposed to global group membership.
type AccessControlEntry struct {
	UserID       uuid.UUID `json:"user_id"`
	BusinessLine string    `json:"business_line"`
	Role         string    `json:"role"`
}

// APIToken is a pre-shared opaque token mapping to a long-lived identity.
// Validity is binary: the token exists and its user is active, or not.
type APIToken struct {
	Key       string    `json:"key"`
	UserID    uuid.UUID `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// AppRegistration holds the validation policy for one external identity
// provider client application. AppID is unique and immutable once tokens
// reference it.
type AppRegistration struct {
	AppID    string `json:"app_id"`
	JWKSURI  string `json:"jwks_uri"`
	Audience string `json:"aud"`
	Issuer   string `json:"iss"`
}
