// Package application holds the incident tracking use-cases, between the
// transport layer and the repository ports.
package application

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/firsec/fir/internal/domain"
	"github.com/firsec/fir/internal/events"
)

// IncidentHub is the interface for broadcasting to connected SSE clients.
// Implementation lives in transport/http/sse_hub.go.
type IncidentHub interface {
	Broadcast(incident *domain.Incident)
}

// Service holds all incident tracking use-cases.
type Service struct {
	incidents  domain.IncidentRepository
	comments   domain.CommentRepository
	artifacts  domain.ArtifactRepository
	attributes domain.AttributeRepository
	files      domain.FileRepository
	users      domain.UserRepository
	tokens     domain.TokenRepository
	refs       domain.ReferenceRepository

	hub      IncidentHub
	producer *events.Producer
}

// NewService creates the application Service. producer may be nil.
func NewService(
	incidents domain.IncidentRepository,
	comments domain.CommentRepository,
	artifacts domain.ArtifactRepository,
	attributes domain.AttributeRepository,
	files domain.FileRepository,
	users domain.UserRepository,
	tokens domain.TokenRepository,
	refs domain.ReferenceRepository,
	hub IncidentHub,
	producer *events.Producer,
) *Service {
	return &Service{
		incidents:  incidents,
		comments:   comments,
		artifacts:  artifacts,
		attributes: attributes,
		files:      files,
		users:      users,
		tokens:     tokens,
		refs:       refs,
		hub:        hub,
		producer:   producer,
	}
}

// CreateIncident stamps the opener, refreshes the main business lines and
// persists the incident, then broadcasts it to connected clients.
func (s *Service) CreateIncident(ctx context.Context, actor *domain.User, inc *domain.Incident) (*domain.Incident, error) {
	inc.OpenedBy = actor.Username
	if inc.Status == "" {
		inc.Status = domain.StatusOpen
	}
	if err := s.refreshMainBusinessLines(ctx, inc); err != nil {
		return nil, err
	}

	created, err := s.incidents.Create(ctx, inc)
	if err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}

	if s.hub != nil {
		go s.hub.Broadcast(created)
	}
	s.producer.Publish(ctx, events.EventIncidentCreated, created.ID.String(), actor.Username, created)

	log.Info().
		Str("id", created.ID.String()).
		Str("subject", created.Subject).
		Str("opened_by", created.OpenedBy).
		Msg("incident created")

	return created, nil
}

// UpdateIncident persists the changes and records a diff comment in the
// incident's action log.
func (s *Service) UpdateIncident(ctx context.Context, actor *domain.User, inc *domain.Incident) (*domain.Incident, error) {
	before, err := s.incidents.GetByID(ctx, inc.ID)
	if err != nil {
		return nil, err
	}
	if err := s.refreshMainBusinessLines(ctx, inc); err != nil {
		return nil, err
	}

	updated, err := s.incidents.Update(ctx, inc)
	if err != nil {
		return nil, fmt.Errorf("update incident: %w", err)
	}

	if diff := describeChanges(before, updated); diff != "" {
		_, err := s.comments.Create(ctx, &domain.Comment{
			IncidentID: updated.ID,
			Comment:    diff,
			Action:     "Info",
			OpenedBy:   actor.Username,
		})
		if err != nil {
			log.Error().Err(err).Str("id", updated.ID.String()).Msg("record change comment")
		}
	}

	if s.hub != nil {
		go s.hub.Broadcast(updated)
	}
	s.producer.Publish(ctx, events.EventIncidentUpdated, updated.ID.String(), actor.Username, updated)

	return updated, nil
}

// GetIncident fetches one incident.
func (s *Service) GetIncident(ctx context.Context, id uuid.UUID) (*domain.Incident, error) {
	return s.incidents.GetByID(ctx, id)
}

// ListIncidents applies the caller's display preferences as defaults and
// queries by filter.
func (s *Service) ListIncidents(ctx context.Context, actor *domain.User, filter domain.IncidentFilter) ([]*domain.Incident, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = actor.IncidentNumber
		if filter.Limit <= 0 {
			filter.Limit = 50
		}
	}
	if actor.HideClosed {
		filter.HideClosed = true
	}
	return s.incidents.List(ctx, filter)
}

// DeleteIncident removes an incident and its attached records.
func (s *Service) DeleteIncident(ctx context.Context, id uuid.UUID) error {
	return s.incidents.Delete(ctx, id)
}

// AddComment stamps the author and appends to the incident's action log.
func (s *Service) AddComment(ctx context.Context, actor *domain.User, c *domain.Comment) (*domain.Comment, error) {
	c.OpenedBy = actor.Username
	if c.Action == "" {
		c.Action = "Info"
	}
	return s.comments.Create(ctx, c)
}

// Comments lists an incident's action log.
func (s *Service) Comments(ctx context.Context, incidentID uuid.UUID) ([]*domain.Comment, error) {
	return s.comments.ListByIncident(ctx, incidentID)
}

// DeleteComment removes a log entry.
func (s *Service) DeleteComment(ctx context.Context, id uuid.UUID) error {
	return s.comments.Delete(ctx, id)
}

// Artifacts lists observables by filter.
func (s *Service) Artifacts(ctx context.Context, filter domain.ArtifactFilter) ([]*domain.Artifact, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return s.artifacts.List(ctx, filter)
}

// Artifact fetches an observable by value.
func (s *Service) Artifact(ctx context.Context, value string) (*domain.Artifact, error) {
	return s.artifacts.GetByValue(ctx, value)
}

// AddAttribute attaches a typed measurement to an incident.
func (s *Service) AddAttribute(ctx context.Context, a *domain.Attribute) (*domain.Attribute, error) {
	return s.attributes.Create(ctx, a)
}

// UpdateAttribute changes a measurement.
func (s *Service) UpdateAttribute(ctx context.Context, a *domain.Attribute) (*domain.Attribute, error) {
	return s.attributes.Update(ctx, a)
}

// Attributes lists an incident's measurements.
func (s *Service) Attributes(ctx context.Context, incidentID uuid.UUID) ([]*domain.Attribute, error) {
	return s.attributes.ListByIncident(ctx, incidentID)
}

// DeleteAttribute removes a measurement.
func (s *Service) DeleteAttribute(ctx context.Context, id uuid.UUID) error {
	return s.attributes.Delete(ctx, id)
}

// AddFile stores an evidence attachment.
func (s *Service) AddFile(ctx context.Context, f *domain.File) (*domain.File, error) {
	return s.files.Create(ctx, f)
}

// File fetches an evidence attachment including content.
func (s *Service) File(ctx context.Context, id uuid.UUID) (*domain.File, error) {
	return s.files.GetByID(ctx, id)
}

// Files lists an incident's attachments.
func (s *Service) Files(ctx context.Context, incidentID uuid.UUID) ([]*domain.File, error) {
	return s.files.ListByIncident(ctx, incidentID)
}

// Labels returns the label reference table.
func (s *Service) Labels(ctx context.Context) ([]*domain.Label, error) {
	return s.refs.Labels(ctx)
}

// BusinessLines returns the organisation tree.
func (s *Service) BusinessLines(ctx context.Context) ([]*domain.BusinessLine, error) {
	return s.refs.BusinessLines(ctx)
}

// Categories returns the incident categories.
func (s *Service) Categories(ctx context.Context) ([]*domain.IncidentCategory, error) {
	return s.refs.Categories(ctx)
}

// Templates returns the incident templates.
func (s *Service) Templates(ctx context.Context) ([]*domain.IncidentTemplate, error) {
	return s.refs.Templates(ctx)
}

// Users returns all accounts.
func (s *Service) Users(ctx context.Context) ([]*domain.User, error) {
	return s.users.List(ctx)
}

// User fetches one account.
func (s *Service) User(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return s.users.GetByID(ctx, id)
}

// CreateUser provisions an account.
func (s *Service) CreateUser(ctx context.Context, input domain.CreateUserInput) (*domain.User, error) {
	return s.users.Create(ctx, input)
}

// UpdateUser persists account changes.
func (s *Service) UpdateUser(ctx context.Context, u *domain.User) error {
	return s.users.Update(ctx, u)
}

// DeleteUser removes an account.
func (s *Service) DeleteUser(ctx context.Context, id uuid.UUID) error {
	return s.users.Delete(ctx, id)
}

// IssueToken creates a static API token for the identity. The key is a
// 40-character random hex string, returned exactly once.
func (s *Service) IssueToken(ctx context.Context, actor *domain.User) (*domain.APIToken, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate token key: %w", err)
	}
	token, err := s.tokens.Create(ctx, actor.ID, hex.EncodeToString(buf))
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	log.Info().Str("user", actor.Username).Msg("api token issued")
	return token, nil
}

// RevokeToken deletes a static API token.
func (s *Service) RevokeToken(ctx context.Context, key string) error {
	return s.tokens.Delete(ctx, key)
}

// refreshMainBusinessLines recomputes the top-level ancestors of the
// incident's concerned lines.
func (s *Service) refreshMainBusinessLines(ctx context.Context, inc *domain.Incident) error {
	seen := make(map[string]bool)
	inc.MainBusinessLines = inc.MainBusinessLines[:0]
	for _, bl := range inc.ConcernedBusinessLines {
		main, err := s.refs.MainBusinessLine(ctx, bl)
		if err != nil {
			return fmt.Errorf("resolve main business line for %q: %w", bl, err)
		}
		if !seen[main] {
			seen[main] = true
			inc.MainBusinessLines = append(inc.MainBusinessLines, main)
		}
	}
	return nil
}

// describeChanges renders a human-readable diff for the action log.
func describeChanges(before, after *domain.Incident) string {
	var parts []string
	if before.Subject != after.Subject {
		parts = append(parts, fmt.Sprintf("Subject: %q to %q", before.Subject, after.Subject))
	}
	if before.Status != after.Status {
		parts = append(parts, fmt.Sprintf("Status: %s to %s", before.Status, after.Status))
	}
	if before.Severity != after.Severity {
		parts = append(parts, fmt.Sprintf("Severity: %d to %d", before.Severity, after.Severity))
	}
	if before.Category != after.Category {
		parts = append(parts, fmt.Sprintf("Category: %q to %q", before.Category, after.Category))
	}
	if before.Confidential != after.Confidential {
		parts = append(parts, fmt.Sprintf("Confidential: %t", after.Confidential))
	}
	if len(parts) == 0 {
		return ""
	}
	return "Changed: " + strings.Join(parts, "; ")
}
