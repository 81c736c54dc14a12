package application

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/firsec/fir/internal/domain"
)

type fakeIncidents struct {
	byID    map[uuid.UUID]*domain.Incident
	created []*domain.Incident
	filter  domain.IncidentFilter
}

func (f *fakeIncidents) Create(_ context.Context, inc *domain.Incident) (*domain.Incident, error) {
	out := *inc
	out.ID = uuid.New()
	f.byID[out.ID] = &out
	f.created = append(f.created, &out)
	return &out, nil
}

func (f *fakeIncidents) Update(_ context.Context, inc *domain.Incident) (*domain.Incident, error) {
	if _, ok := f.byID[inc.ID]; !ok {
		return nil, domain.ErrNotFound
	}
	out := *inc
	f.byID[inc.ID] = &out
	return &out, nil
}

func (f *fakeIncidents) GetByID(_ context.Context, id uuid.UUID) (*domain.Incident, error) {
	inc, ok := f.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *inc
	return &copied, nil
}

func (f *fakeIncidents) List(_ context.Context, filter domain.IncidentFilter) ([]*domain.Incident, error) {
	f.filter = filter
	return nil, nil
}

func (f *fakeIncidents) Delete(_ context.Context, id uuid.UUID) error {
	delete(f.byID, id)
	return nil
}

type fakeComments struct {
	created []*domain.Comment
}

func (f *fakeComments) Create(_ context.Context, c *domain.Comment) (*domain.Comment, error) {
	out := *c
	out.ID = uuid.New()
	f.created = append(f.created, &out)
	return &out, nil
}

func (f *fakeComments) ListByIncident(_ context.Context, _ uuid.UUID) ([]*domain.Comment, error) {
	return f.created, nil
}

func (f *fakeComments) Delete(_ context.Context, _ uuid.UUID) error { return nil }

type fakeRefs struct {
	mains map[string]string
}

func (f *fakeRefs) Labels(_ context.Context) ([]*domain.Label, error)               { return nil, nil }
func (f *fakeRefs) BusinessLines(_ context.Context) ([]*domain.BusinessLine, error) { return nil, nil }
func (f *fakeRefs) BusinessLineExists(_ context.Context, name string) (bool, error) {
	_, ok := f.mains[name]
	return ok, nil
}
func (f *fakeRefs) MainBusinessLine(_ context.Context, name string) (string, error) {
	main, ok := f.mains[name]
	if !ok {
		return "", domain.ErrNotFound
	}
	return main, nil
}
func (f *fakeRefs) Categories(_ context.Context) ([]*domain.IncidentCategory, error) {
	return nil, nil
}
func (f *fakeRefs) Templates(_ context.Context) ([]*domain.IncidentTemplate, error) {
	return nil, nil
}

type fakeTokens struct {
	keys []string
}

func (f *fakeTokens) GetUser(_ context.Context, _ string) (*domain.User, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeTokens) Create(_ context.Context, userID uuid.UUID, key string) (*domain.APIToken, error) {
	f.keys = append(f.keys, key)
	return &domain.APIToken{Key: key, UserID: userID}, nil
}

func (f *fakeTokens) Delete(_ context.Context, _ string) error { return nil }

func newTestService(incidents *fakeIncidents, comments *fakeComments, refs *fakeRefs, tokens *fakeTokens) *Service {
	return NewService(incidents, comments, nil, nil, nil, nil, tokens, refs, nil, nil)
}

func TestCreateIncident_StampsOpenerAndMainLines(t *testing.T) {
	incidents := &fakeIncidents{byID: map[uuid.UUID]*domain.Incident{}}
	refs := &fakeRefs{mains: map[string]string{
		"Retail Banking": "Banking",
		"Card Fraud":     "Banking",
	}}
	svc := newTestService(incidents, &fakeComments{}, refs, &fakeTokens{})

	actor := &domain.User{Username: "alice"}
	created, err := svc.CreateIncident(context.Background(), actor, &domain.Incident{
		Subject:                "Phishing campaign",
		ConcernedBusinessLines: []string{"Retail Banking", "Card Fraud"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.OpenedBy != "alice" {
		t.Fatalf("opener not stamped, got %q", created.OpenedBy)
	}
	if created.Status != domain.StatusOpen {
		t.Fatalf("expected default status O, got %q", created.Status)
	}
	if len(created.MainBusinessLines) != 1 || created.MainBusinessLines[0] != "Banking" {
		t.Fatalf("main lines not deduplicated: %v", created.MainBusinessLines)
	}
}

func TestCreateIncident_UnknownBusinessLineFails(t *testing.T) {
	incidents := &fakeIncidents{byID: map[uuid.UUID]*domain.Incident{}}
	svc := newTestService(incidents, &fakeComments{}, &fakeRefs{mains: map[string]string{}}, &fakeTokens{})

	_, err := svc.CreateIncident(context.Background(), &domain.User{Username: "alice"}, &domain.Incident{
		Subject:                "x",
		ConcernedBusinessLines: []string{"Ghost Division"},
	})
	if err == nil {
		t.Fatal("expected unknown business line to fail the create")
	}
	if len(incidents.created) != 0 {
		t.Fatal("incident must not be persisted when the business line is unknown")
	}
}

func TestUpdateIncident_WritesDiffComment(t *testing.T) {
	incidents := &fakeIncidents{byID: map[uuid.UUID]*domain.Incident{}}
	comments := &fakeComments{}
	svc := newTestService(incidents, comments, &fakeRefs{mains: map[string]string{}}, &fakeTokens{})

	actor := &domain.User{Username: "bob"}
	created, err := svc.CreateIncident(context.Background(), actor, &domain.Incident{Subject: "Lost laptop"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	created.Status = domain.StatusClosed
	if _, err := svc.UpdateIncident(context.Background(), actor, created); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(comments.created) != 1 {
		t.Fatalf("expected one diff comment, got %d", len(comments.created))
	}
	c := comments.created[0]
	if c.OpenedBy != "bob" || !strings.Contains(c.Comment, "Status: O to C") {
		t.Fatalf("unexpected diff comment %+v", c)
	}
}

func TestUpdateIncident_NoChangeNoComment(t *testing.T) {
	incidents := &fakeIncidents{byID: map[uuid.UUID]*domain.Incident{}}
	comments := &fakeComments{}
	svc := newTestService(incidents, comments, &fakeRefs{mains: map[string]string{}}, &fakeTokens{})

	actor := &domain.User{Username: "bob"}
	created, _ := svc.CreateIncident(context.Background(), actor, &domain.Incident{Subject: "Lost laptop"})
	if _, err := svc.UpdateIncident(context.Background(), actor, created); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(comments.created) != 0 {
		t.Fatalf("no-op update must not log a comment, got %d", len(comments.created))
	}
}

func TestListIncidents_AppliesUserPreferences(t *testing.T) {
	incidents := &fakeIncidents{byID: map[uuid.UUID]*domain.Incident{}}
	svc := newTestService(incidents, &fakeComments{}, &fakeRefs{}, &fakeTokens{})

	actor := &domain.User{Username: "carol", IncidentNumber: 25, HideClosed: true}
	if _, err := svc.ListIncidents(context.Background(), actor, domain.IncidentFilter{}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if incidents.filter.Limit != 25 {
		t.Fatalf("expected user page size 25, got %d", incidents.filter.Limit)
	}
	if !incidents.filter.HideClosed {
		t.Fatal("expected hide_closed preference to apply")
	}
}

func TestIssueToken_GeneratesHexKey(t *testing.T) {
	tokens := &fakeTokens{}
	svc := newTestService(&fakeIncidents{byID: map[uuid.UUID]*domain.Incident{}}, &fakeComments{}, &fakeRefs{}, tokens)

	actor := &domain.User{ID: uuid.New(), Username: "alice"}
	first, err := svc.IssueToken(context.Background(), actor)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	second, err := svc.IssueToken(context.Background(), actor)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(first.Key) != 40 {
		t.Fatalf("expected 40-char hex key, got %d chars", len(first.Key))
	}
	if first.Key == second.Key {
		t.Fatal("token keys must be random")
	}
}
