package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/firsec/fir/internal/domain"
)

const incidentColumns = `
	i.id, i.date, i.subject, i.description, i.category, i.status, i.severity,
	i.is_incident, i.confidential, i.opened_by, i.created_at, i.updated_at,
	COALESCE(array_agg(ibl.business_line) FILTER (WHERE ibl.business_line IS NOT NULL AND NOT ibl.is_main), '{}'),
	COALESCE(array_agg(ibl.business_line) FILTER (WHERE ibl.business_line IS NOT NULL AND ibl.is_main), '{}')
`

// IncidentRepository is the PostgreSQL implementation of
// domain.IncidentRepository.
type IncidentRepository struct {
	pool *pgxpool.Pool
}

// NewIncidentRepository creates an IncidentRepository.
func NewIncidentRepository(pool *pgxpool.Pool) *IncidentRepository {
	return &IncidentRepository{pool: pool}
}

// Create inserts an incident and its business line links.
func (r *IncidentRepository) Create(ctx context.Context, inc *domain.Incident) (*domain.Incident, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin incident tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if inc.Date.IsZero() {
		inc.Date = time.Now()
	}
	var id uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO incidents (date, subject, description, category, status, severity, is_incident, confidential, opened_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, inc.Date, inc.Subject, inc.Description, inc.Category, string(inc.Status),
		inc.Severity, inc.IsIncident, inc.Confidential, inc.OpenedBy).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert incident: %w", err)
	}

	if err := replaceBusinessLines(ctx, tx, id, inc.ConcernedBusinessLines, inc.MainBusinessLines); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// Update persists incident fields and re-links business lines.
func (r *IncidentRepository) Update(ctx context.Context, inc *domain.Incident) (*domain.Incident, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin incident tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE incidents
		SET subject = $1, description = $2, category = $3, status = $4,
		    severity = $5, is_incident = $6, confidential = $7, updated_at = now()
		WHERE id = $8
	`, inc.Subject, inc.Description, inc.Category, string(inc.Status),
		inc.Severity, inc.IsIncident, inc.Confidential, inc.ID)
	if err != nil {
		return nil, fmt.Errorf("update incident: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, domain.ErrNotFound
	}

	if err := replaceBusinessLines(ctx, tx, inc.ID, inc.ConcernedBusinessLines, inc.MainBusinessLines); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, inc.ID)
}

// GetByID fetches a single incident.
func (r *IncidentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Incident, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+incidentColumns+`
		FROM incidents i
		LEFT JOIN incident_business_lines ibl ON ibl.incident_id = i.id
		WHERE i.id = $1
		GROUP BY i.id
	`, id)
	return scanIncident(row)
}

// List fetches incidents matching the field-based filter.
func (r *IncidentRepository) List(ctx context.Context, f domain.IncidentFilter) ([]*domain.Incident, error) {
	query := `
		SELECT ` + incidentColumns + `
		FROM incidents i
		LEFT JOIN incident_business_lines ibl ON ibl.incident_id = i.id
		WHERE 1=1
	`
	var args []any
	paramIdx := 1

	addFilter := func(clause string, value any) {
		query += fmt.Sprintf(" AND "+clause, paramIdx)
		args = append(args, value)
		paramIdx++
	}

	if f.ID != nil {
		addFilter("i.id = $%d", *f.ID)
	}
	if f.Category != "" {
		addFilter("i.category ILIKE $%d", "%"+f.Category+"%")
	}
	if f.Subject != "" {
		addFilter("i.subject ILIKE $%d", "%"+f.Subject+"%")
	}
	if f.Description != "" {
		addFilter("i.description ILIKE $%d", "%"+f.Description+"%")
	}
	if f.Status != "" {
		addFilter("i.status = $%d", string(f.Status))
	}
	if f.BusinessLine != "" {
		addFilter(`i.id IN (SELECT incident_id FROM incident_business_lines WHERE business_line = $%d)`, f.BusinessLine)
	}
	if f.HideClosed {
		query += " AND i.status <> 'C'"
	}

	query += fmt.Sprintf(" GROUP BY i.id ORDER BY i.date DESC LIMIT $%d OFFSET $%d", paramIdx, paramIdx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	var incidents []*domain.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

// Delete removes an incident.
func (r *IncidentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM incidents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete incident: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func replaceBusinessLines(ctx context.Context, tx pgx.Tx, incidentID uuid.UUID, concerned, main []string) error {
	if _, err := tx.Exec(ctx,
		`DELETE FROM incident_business_lines WHERE incident_id = $1`, incidentID); err != nil {
		return fmt.Errorf("clear business lines: %w", err)
	}
	for _, bl := range concerned {
		if _, err := tx.Exec(ctx, `
			INSERT INTO incident_business_lines (incident_id, business_line, is_main) VALUES ($1, $2, FALSE)
		`, incidentID, bl); err != nil {
			return fmt.Errorf("link business line %q: %w", bl, err)
		}
	}
	for _, bl := range main {
		if _, err := tx.Exec(ctx, `
			INSERT INTO incident_business_lines (incident_id, business_line, is_main) VALUES ($1, $2, TRUE)
		`, incidentID, bl); err != nil {
			return fmt.Errorf("link main business line %q: %w", bl, err)
		}
	}
	return nil
}

func scanIncident(row scannable) (*domain.Incident, error) {
	var inc domain.Incident
	var status string
	err := row.Scan(&inc.ID, &inc.Date, &inc.Subject, &inc.Description, &inc.Category,
		&status, &inc.Severity, &inc.IsIncident, &inc.Confidential, &inc.OpenedBy,
		&inc.CreatedAt, &inc.UpdatedAt, &inc.ConcernedBusinessLines, &inc.MainBusinessLines)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan incident: %w", err)
	}
	inc.Status = domain.IncidentStatus(status)
	return &inc, nil
}

// CommentRepository is the PostgreSQL implementation of
// domain.CommentRepository.
type CommentRepository struct {
	pool *pgxpool.Pool
}

// NewCommentRepository creates a CommentRepository.
func NewCommentRepository(pool *pgxpool.Pool) *CommentRepository {
	return &CommentRepository{pool: pool}
}

// Create appends a comment to an incident's action log.
func (r *CommentRepository) Create(ctx context.Context, c *domain.Comment) (*domain.Comment, error) {
	var out domain.Comment
	err := r.pool.QueryRow(ctx, `
		INSERT INTO comments (incident_id, comment, action, opened_by)
		VALUES ($1, $2, $3, $4)
		RETURNING id, incident_id, comment, action, opened_by, date
	`, c.IncidentID, c.Comment, c.Action, c.OpenedBy).
		Scan(&out.ID, &out.IncidentID, &out.Comment, &out.Action, &out.OpenedBy, &out.Date)
	if err != nil {
		return nil, fmt.Errorf("insert comment: %w", err)
	}
	return &out, nil
}

// ListByIncident returns an incident's comments, oldest first.
func (r *CommentRepository) ListByIncident(ctx context.Context, incidentID uuid.UUID) ([]*domain.Comment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, incident_id, comment, action, opened_by, date
		FROM comments WHERE incident_id = $1 ORDER BY date ASC
	`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var comments []*domain.Comment
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.IncidentID, &c.Comment, &c.Action, &c.OpenedBy, &c.Date); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, &c)
	}
	return comments, rows.Err()
}

// Delete removes a comment.
func (r *CommentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM comments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ArtifactRepository is the PostgreSQL implementation of
// domain.ArtifactRepository. Artifacts are extracted elsewhere; the API
// surface is read-only.
type ArtifactRepository struct {
	pool *pgxpool.Pool
}

// NewArtifactRepository creates an ArtifactRepository.
func NewArtifactRepository(pool *pgxpool.Pool) *ArtifactRepository {
	return &ArtifactRepository{pool: pool}
}

const artifactColumns = `
	a.id, a.type, a.value,
	COALESCE(array_agg(ai.incident_id) FILTER (WHERE ai.incident_id IS NOT NULL), '{}')
`

// List fetches artifacts matching the filter.
func (r *ArtifactRepository) List(ctx context.Context, f domain.ArtifactFilter) ([]*domain.Artifact, error) {
	query := `
		SELECT ` + artifactColumns + `
		FROM artifacts a
		LEFT JOIN artifact_incidents ai ON ai.artifact_id = a.id
		WHERE 1=1
	`
	var args []any
	paramIdx := 1

	if f.Value != "" {
		query += fmt.Sprintf(" AND a.value LIKE $%d", paramIdx)
		args = append(args, "%"+f.Value+"%")
		paramIdx++
	}
	if f.IncidentID != nil {
		query += fmt.Sprintf(
			" AND a.id IN (SELECT artifact_id FROM artifact_incidents WHERE incident_id = $%d)", paramIdx)
		args = append(args, *f.IncidentID)
		paramIdx++
	}

	query += fmt.Sprintf(" GROUP BY a.id ORDER BY a.value LIMIT $%d OFFSET $%d", paramIdx, paramIdx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []*domain.Artifact
	for rows.Next() {
		var a domain.Artifact
		if err := rows.Scan(&a.ID, &a.Type, &a.Value, &a.Incidents); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		artifacts = append(artifacts, &a)
	}
	return artifacts, rows.Err()
}

// GetByValue fetches an artifact by its observable value.
func (r *ArtifactRepository) GetByValue(ctx context.Context, value string) (*domain.Artifact, error) {
	var a domain.Artifact
	err := r.pool.QueryRow(ctx, `
		SELECT `+artifactColumns+`
		FROM artifacts a
		LEFT JOIN artifact_incidents ai ON ai.artifact_id = a.id
		WHERE a.value = $1
		GROUP BY a.id
	`, value).Scan(&a.ID, &a.Type, &a.Value, &a.Incidents)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return &a, nil
}

// AttributeRepository is the PostgreSQL implementation of
// domain.AttributeRepository.
type AttributeRepository struct {
	pool *pgxpool.Pool
}

// NewAttributeRepository creates an AttributeRepository.
func NewAttributeRepository(pool *pgxpool.Pool) *AttributeRepository {
	return &AttributeRepository{pool: pool}
}

// Create attaches an attribute to an incident.
func (r *AttributeRepository) Create(ctx context.Context, a *domain.Attribute) (*domain.Attribute, error) {
	var out domain.Attribute
	err := r.pool.QueryRow(ctx, `
		INSERT INTO attributes (incident_id, name, value)
		VALUES ($1, $2, $3)
		RETURNING id, incident_id, name, value
	`, a.IncidentID, a.Name, a.Value).Scan(&out.ID, &out.IncidentID, &out.Name, &out.Value)
	if err != nil {
		return nil, fmt.Errorf("insert attribute: %w", err)
	}
	return &out, nil
}

// Update changes an attribute's value.
func (r *AttributeRepository) Update(ctx context.Context, a *domain.Attribute) (*domain.Attribute, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE attributes SET name = $1, value = $2 WHERE id = $3`, a.Name, a.Value, a.ID)
	if err != nil {
		return nil, fmt.Errorf("update attribute: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, domain.ErrNotFound
	}
	return a, nil
}

// ListByIncident returns an incident's attributes.
func (r *AttributeRepository) ListByIncident(ctx context.Context, incidentID uuid.UUID) ([]*domain.Attribute, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, incident_id, name, value FROM attributes WHERE incident_id = $1 ORDER BY name
	`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list attributes: %w", err)
	}
	defer rows.Close()

	var attrs []*domain.Attribute
	for rows.Next() {
		var a domain.Attribute
		if err := rows.Scan(&a.ID, &a.IncidentID, &a.Name, &a.Value); err != nil {
			return nil, fmt.Errorf("scan attribute: %w", err)
		}
		attrs = append(attrs, &a)
	}
	return attrs, rows.Err()
}

// Delete removes an attribute.
func (r *AttributeRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM attributes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete attribute: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
