// Package postgres implements the domain repository ports on pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/firsec/fir/internal/domain"
)

const userColumns = `
	u.id, u.username, u.email, u.password_hash, u.is_active, u.is_superuser,
	u.hide_closed, u.incident_number, COALESCE(u.home_account_id, ''), u.created_at,
	COALESCE(array_agg(ug.group_name) FILTER (WHERE ug.group_name IS NOT NULL), '{}')
`

// UserRepository is the PostgreSQL implementation of domain.UserRepository.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a UserRepository.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) getBy(ctx context.Context, where string, arg any) (*domain.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users u
		LEFT JOIN user_groups ug ON ug.user_id = u.id
		WHERE `+where+`
		GROUP BY u.id
	`, arg)
	return scanUser(row)
}

// GetByUsername fetches a user by its unique username.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.getBy(ctx, "u.username = $1", username)
}

// GetByID fetches a user by primary key.
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return r.getBy(ctx, "u.id = $1", id)
}

// GetByHomeAccountID fetches a user by its stable external identity key.
func (r *UserRepository) GetByHomeAccountID(ctx context.Context, homeAccountID string) (*domain.User, error) {
	return r.getBy(ctx, "u.home_account_id = $1", homeAccountID)
}

// Create provisions a new account. New accounts start active with no
// group memberships.
func (r *UserRepository) Create(ctx context.Context, input domain.CreateUserInput) (*domain.User, error) {
	var homeAccountID *string
	if input.HomeAccountID != "" {
		homeAccountID = &input.HomeAccountID
	}

	var u domain.User
	var storedHomeAccount *string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (username, email, password_hash, is_active, hide_closed, incident_number, home_account_id)
		VALUES ($1, $2, $3, TRUE, $4, $5, $6)
		RETURNING id, username, email, password_hash, is_active, is_superuser,
		          hide_closed, incident_number, home_account_id, created_at
	`, input.Username, input.Email, input.PasswordHash, input.HideClosed, input.IncidentNumber, homeAccountID).
		Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsActive, &u.IsSuperuser,
			&u.HideClosed, &u.IncidentNumber, &storedHomeAccount, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	if storedHomeAccount != nil {
		u.HomeAccountID = *storedHomeAccount
	}
	u.Groups = []string{}
	return &u, nil
}

// Update persists mutable account fields.
func (r *UserRepository) Update(ctx context.Context, u *domain.User) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users
		SET email = $1, password_hash = $2, is_active = $3,
		    hide_closed = $4, incident_number = $5
		WHERE id = $6
	`, u.Email, u.PasswordHash, u.IsActive, u.HideClosed, u.IncidentNumber, u.ID)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List returns all accounts, newest first.
func (r *UserRepository) List(ctx context.Context) ([]*domain.User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM users u
		LEFT JOIN user_groups ug ON ug.user_id = u.id
		GROUP BY u.id
		ORDER BY u.created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Delete removes an account.
func (r *UserRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ReplaceAuthorization clears and re-adds group memberships and scoped
// grants in one transaction, so a login never observes partial state.
func (r *UserRepository) ReplaceAuthorization(ctx context.Context, userID uuid.UUID, groups []string, grants []domain.AccessControlEntry, superuser bool) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin authorization tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM user_groups WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear groups: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM access_control_entries WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear grants: %w", err)
	}
	for _, group := range groups {
		if _, err := tx.Exec(ctx,
			`INSERT INTO user_groups (user_id, group_name) VALUES ($1, $2)`, userID, group); err != nil {
			return fmt.Errorf("add group %q: %w", group, err)
		}
	}
	for _, grant := range grants {
		if _, err := tx.Exec(ctx, `
			INSERT INTO access_control_entries (user_id, business_line, role)
			VALUES ($1, $2, $3)
		`, grant.UserID, grant.BusinessLine, grant.Role); err != nil {
			return fmt.Errorf("add grant on %q: %w", grant.BusinessLine, err)
		}
	}
	if _, err := tx.Exec(ctx,
		`UPDATE users SET is_superuser = $1 WHERE id = $2`, superuser, userID); err != nil {
		return fmt.Errorf("set superuser: %w", err)
	}

	return tx.Commit(ctx)
}

// GroupExists reports whether a permission group is defined.
func (r *UserRepository) GroupExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM groups WHERE name = $1)`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("group exists: %w", err)
	}
	return exists, nil
}

func scanUser(row scannable) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsActive, &u.IsSuperuser,
		&u.HideClosed, &u.IncidentNumber, &u.HomeAccountID, &u.CreatedAt, &u.Groups)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// scannable lets the scan helpers work with both QueryRow and Query rows.
type scannable interface {
	Scan(dest ...any) error
}
