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

// ReferenceRepository serves the small read-mostly reference tables:
// labels, business lines, categories and templates.
type ReferenceRepository struct {
	pool *pgxpool.Pool
}

// NewReferenceRepository creates a ReferenceRepository.
func NewReferenceRepository(pool *pgxpool.Pool) *ReferenceRepository {
	return &ReferenceRepository{pool: pool}
}

// Labels returns all labels with their owning group.
func (r *ReferenceRepository) Labels(ctx context.Context) ([]*domain.Label, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT l.id, l.name, lg.name
		FROM labels l
		JOIN label_groups lg ON lg.id = l.group_id
		ORDER BY lg.name, l.name
	`)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	defer rows.Close()

	var labels []*domain.Label
	for rows.Next() {
		var l domain.Label
		if err := rows.Scan(&l.ID, &l.Name, &l.Group); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		labels = append(labels, &l)
	}
	return labels, rows.Err()
}

// BusinessLines returns the organisation tree as a flat list.
func (r *ReferenceRepository) BusinessLines(ctx context.Context) ([]*domain.BusinessLine, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT bl.id, bl.name, COALESCE(parent.name, '')
		FROM business_lines bl
		LEFT JOIN business_lines parent ON parent.id = bl.parent_id
		ORDER BY bl.name
	`)
	if err != nil {
		return nil, fmt.Errorf("list business lines: %w", err)
	}
	defer rows.Close()

	var lines []*domain.BusinessLine
	for rows.Next() {
		var bl domain.BusinessLine
		if err := rows.Scan(&bl.ID, &bl.Name, &bl.Parent); err != nil {
			return nil, fmt.Errorf("scan business line: %w", err)
		}
		lines = append(lines, &bl)
	}
	return lines, rows.Err()
}

// BusinessLineExists reports whether a business line is defined.
func (r *ReferenceRepository) BusinessLineExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM business_lines WHERE name = $1)`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("business line exists: %w", err)
	}
	return exists, nil
}

// MainBusinessLine walks up the tree to the top-level ancestor of the
// named business line.
func (r *ReferenceRepository) MainBusinessLine(ctx context.Context, name string) (string, error) {
	var main string
	err := r.pool.QueryRow(ctx, `
		WITH RECURSIVE ancestry AS (
			SELECT id, name, parent_id FROM business_lines WHERE name = $1
			UNION ALL
			SELECT bl.id, bl.name, bl.parent_id
			FROM business_lines bl
			JOIN ancestry a ON a.parent_id = bl.id
		)
		SELECT name FROM ancestry WHERE parent_id IS NULL
	`, name).Scan(&main)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("main business line: %w", err)
	}
	return main, nil
}

// Categories returns all incident categories.
func (r *ReferenceRepository) Categories(ctx context.Context) ([]*domain.IncidentCategory, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name FROM incident_categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var categories []*domain.IncidentCategory
	for rows.Next() {
		var c domain.IncidentCategory
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, &c)
	}
	return categories, rows.Err()
}

// Templates returns all incident templates.
func (r *ReferenceRepository) Templates(ctx context.Context) ([]*domain.IncidentTemplate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, subject, category, description FROM incident_templates ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var templates []*domain.IncidentTemplate
	for rows.Next() {
		var t domain.IncidentTemplate
		if err := rows.Scan(&t.ID, &t.Name, &t.Subject, &t.Category, &t.Description); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, &t)
	}
	return templates, rows.Err()
}

// FileRepository is the PostgreSQL implementation of domain.FileRepository.
// File content lives in the database; evidence files are small.
type FileRepository struct {
	pool *pgxpool.Pool
}

// NewFileRepository creates a FileRepository.
func NewFileRepository(pool *pgxpool.Pool) *FileRepository {
	return &FileRepository{pool: pool}
}

// Create stores an evidence file.
func (r *FileRepository) Create(ctx context.Context, f *domain.File) (*domain.File, error) {
	var out domain.File
	err := r.pool.QueryRow(ctx, `
		INSERT INTO files (incident_id, name, description, content)
		VALUES ($1, $2, $3, $4)
		RETURNING id, incident_id, name, description, uploaded_at
	`, f.IncidentID, f.Name, f.Description, f.Content).
		Scan(&out.ID, &out.IncidentID, &out.Name, &out.Description, &out.UploadedAt)
	if err != nil {
		return nil, fmt.Errorf("insert file: %w", err)
	}
	out.Content = f.Content
	return &out, nil
}

// GetByID fetches a file including its content.
func (r *FileRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.File, error) {
	var f domain.File
	err := r.pool.QueryRow(ctx, `
		SELECT id, incident_id, name, description, content, uploaded_at FROM files WHERE id = $1
	`, id).Scan(&f.ID, &f.IncidentID, &f.Name, &f.Description, &f.Content, &f.UploadedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get file: %w", err)
	}
	return &f, nil
}

// ListByIncident returns an incident's files without their content.
func (r *FileRepository) ListByIncident(ctx context.Context, incidentID uuid.UUID) ([]*domain.File, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, incident_id, name, description, uploaded_at
		FROM files WHERE incident_id = $1 ORDER BY uploaded_at DESC
	`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var files []*domain.File
	for rows.Next() {
		var f domain.File
		if err := rows.Scan(&f.ID, &f.IncidentID, &f.Name, &f.Description, &f.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, &f)
	}
	return files, rows.Err()
}
