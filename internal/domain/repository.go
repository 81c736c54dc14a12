package domain

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned by repositories when no row matches.
var ErrNotFound = errors.New("not found")

// UserRepository defines the port for account persistence.
// Implementations live in infrastructure/postgres.
type UserRepository interface {
	// GetByUsername fetches a user by its unique username.
	GetByUsername(ctx context.Context, username string) (*User, error)

	// GetByID fetches a user by primary key.
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)

	// GetByHomeAccountID fetches a user by its stable external identity key.
	GetByHomeAccountID(ctx context.Context, homeAccountID string) (*User, error)

	// Create provisions a new account.
	Create(ctx context.Context, input CreateUserInput) (*User, error)

	// Update persists mutable account fields (email, active flag, password).
	Update(ctx context.Context, u *User) error

	// List returns all accounts, newest first.
	List(ctx context.Context) ([]*User, error)

	// Delete removes an account.
	Delete(ctx context.Context, id uuid.UUID) error

	// ReplaceAuthorization clears the user's group memberships and scoped
	// grants and re-adds them from the given sets, together with the
	// superuser flag, in a single transaction.
	ReplaceAuthorization(ctx context.Context, userID uuid.UUID, groups []string, grants []AccessControlEntry, superuser bool) error

	// GroupExists reports whether a permission group is defined.
	GroupExists(ctx context.Context, name string) (bool, error)
}

// TokenRepository defines the port for static API token persistence.
type TokenRepository interface {
	// GetUser resolves a token key to its owning user.
	GetUser(ctx context.Context, key string) (*User, error)

	// Create issues a new token for the user.
	Create(ctx context.Context, userID uuid.UUID, key string) (*APIToken, error)

	// Delete revokes a token.
	Delete(ctx context.Context, key string) error
}

// AppRegistrationRepository defines the port for identity-provider
// client application configuration.
type AppRegistrationRepository interface {
	// GetByAppID fetches the validation policy for an application id.
	GetByAppID(ctx context.Context, appID string) (*AppRegistration, error)

	// Upsert creates or updates a registration.
	Upsert(ctx context.Context, reg AppRegistration) error

	// List returns all registrations.
	List(ctx context.Context) ([]*AppRegistration, error)
}

// IncidentRepository defines the port for incident persistence.
type IncidentRepository interface {
	Create(ctx context.Context, inc *Incident) (*Incident, error)
	Update(ctx context.Context, inc *Incident) (*Incident, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Incident, error)
	List(ctx context.Context, filter IncidentFilter) ([]*Incident, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// CommentRepository defines the port for incident comments.
type CommentRepository interface {
	Create(ctx context.Context, c *Comment) (*Comment, error)
	ListByIncident(ctx context.Context, incidentID uuid.UUID) ([]*Comment, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// ArtifactRepository defines the read-only port for artifacts.
type ArtifactRepository interface {
	List(ctx context.Context, filter ArtifactFilter) ([]*Artifact, error)
	GetByValue(ctx context.Context, value string) (*Artifact, error)
}

// FileRepository defines the port for evidence files.
type FileRepository interface {
	Create(ctx context.Context, f *File) (*File, error)
	GetByID(ctx context.Context, id uuid.UUID) (*File, error)
	ListByIncident(ctx context.Context, incidentID uuid.UUID) ([]*File, error)
}

// ReferenceRepository serves the small read-mostly reference tables.
type ReferenceRepository interface {
	Labels(ctx context.Context) ([]*Label, error)
	BusinessLines(ctx context.Context) ([]*BusinessLine, error)
	BusinessLineExists(ctx context.Context, name string) (bool, error)
	// MainBusinessLine resolves the top-level ancestor of a business line.
	MainBusinessLine(ctx context.Context, name string) (string, error)
	Categories(ctx context.Context) ([]*IncidentCategory, error)
	Templates(ctx context.Context) ([]*IncidentTemplate, error)
}

// AttributeRepository defines the port for incident attributes.
type AttributeRepository interface {
	Create(ctx context.Context, a *Attribute) (*Attribute, error)
	Update(ctx context.Context, a *Attribute) (*Attribute, error)
	ListByIncident(ctx context.Context, incidentID uuid.UUID) ([]*Attribute, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
