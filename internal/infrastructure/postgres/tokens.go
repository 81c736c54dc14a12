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

// TokenRepository is the PostgreSQL implementation of domain.TokenRepository.
type TokenRepository struct {
	pool *pgxpool.Pool
}

// NewTokenRepository creates a TokenRepository.
func NewTokenRepository(pool *pgxpool.Pool) *TokenRepository {
	return &TokenRepository{pool: pool}
}

// GetUser resolves a token key to its owning user, including the user's
// group memberships.
func (r *TokenRepository) GetUser(ctx context.Context, key string) (*domain.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM api_tokens t
		JOIN users u ON u.id = t.user_id
		LEFT JOIN user_groups ug ON ug.user_id = u.id
		WHERE t.key = $1
		GROUP BY u.id
	`, key)
	return scanUser(row)
}

// Create issues a new token for the user.
func (r *TokenRepository) Create(ctx context.Context, userID uuid.UUID, key string) (*domain.APIToken, error) {
	var t domain.APIToken
	err := r.pool.QueryRow(ctx, `
		INSERT INTO api_tokens (key, user_id)
		VALUES ($1, $2)
		RETURNING key, user_id, created_at
	`, key, userID).Scan(&t.Key, &t.UserID, &t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert api token: %w", err)
	}
	return &t, nil
}

// Delete revokes a token.
func (r *TokenRepository) Delete(ctx context.Context, key string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM api_tokens WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete api token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AppRegistrationRepository is the PostgreSQL implementation of
// domain.AppRegistrationRepository.
type AppRegistrationRepository struct {
	pool *pgxpool.Pool
}

// NewAppRegistrationRepository creates an AppRegistrationRepository.
func NewAppRegistrationRepository(pool *pgxpool.Pool) *AppRegistrationRepository {
	return &AppRegistrationRepository{pool: pool}
}

// GetByAppID fetches the validation policy for an application id.
func (r *AppRegistrationRepository) GetByAppID(ctx context.Context, appID string) (*domain.AppRegistration, error) {
	var reg domain.AppRegistration
	err := r.pool.QueryRow(ctx, `
		SELECT app_id, jwks_uri, aud, iss FROM app_registrations WHERE app_id = $1
	`, appID).Scan(&reg.AppID, &reg.JWKSURI, &reg.Audience, &reg.Issuer)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get app registration: %w", err)
	}
	return &reg, nil
}

// Upsert creates or updates a registration. AppID never changes; only the
// validation policy fields do.
func (r *AppRegistrationRepository) Upsert(ctx context.Context, reg domain.AppRegistration) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO app_registrations (app_id, jwks_uri, aud, iss)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (app_id) DO UPDATE SET jwks_uri = $2, aud = $3, iss = $4
	`, reg.AppID, reg.JWKSURI, reg.Audience, reg.Issuer)
	if err != nil {
		return fmt.Errorf("upsert app registration: %w", err)
	}
	return nil
}

// List returns all registrations.
func (r *AppRegistrationRepository) List(ctx context.Context) ([]*domain.AppRegistration, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT app_id, jwks_uri, aud, iss FROM app_registrations ORDER BY app_id`)
	if err != nil {
		return nil, fmt.Errorf("list app registrations: %w", err)
	}
	defer rows.Close()

	var regs []*domain.AppRegistration
	for rows.Next() {
		var reg domain.AppRegistration
		if err := rows.Scan(&reg.AppID, &reg.JWKSURI, &reg.Audience, &reg.Issuer); err != nil {
			return nil, fmt.Errorf("scan app registration: %w", err)
		}
		regs = append(regs, &reg)
	}
	return regs, rows.Err()
}
