package auth_test

import (
	"context"
	"reflect"
	"testing"

	"github.com/google/uuid"

	"github.com/firsec/fir/internal/auth"
	"github.com/firsec/fir/internal/domain"
)

type fakeAuthorizationStore struct {
	groups    map[string]bool
	applied   []string
	grants    []domain.AccessControlEntry
	superuser bool
	calls     int
}

func (f *fakeAuthorizationStore) GroupExists(_ context.Context, name string) (bool, error) {
	return f.groups[name], nil
}

func (f *fakeAuthorizationStore) ReplaceAuthorization(_ context.Context, _ uuid.UUID, groups []string, grants []domain.AccessControlEntry, superuser bool) error {
	f.applied = append([]string(nil), groups...)
	f.grants = append([]domain.AccessControlEntry(nil), grants...)
	f.superuser = superuser
	f.calls++
	return nil
}

type fakeBusinessLineStore struct {
	lines map[string]bool
}

func (f *fakeBusinessLineStore) BusinessLineExists(_ context.Context, name string) (bool, error) {
	return f.lines[name], nil
}

func newApplierFixture() (*auth.RoleApplier, *fakeAuthorizationStore) {
	store := &fakeAuthorizationStore{groups: map[string]bool{
		domain.GroupIncidentHandlers: true,
		domain.GroupIncidentViewers:  true,
	}}
	refs := &fakeBusinessLineStore{lines: map[string]bool{"Retail Banking": true}}
	return auth.NewRoleApplier(store, refs, nil), store
}

func TestApplyRoles_GlobalAndAdmin(t *testing.T) {
	applier, store := newApplierFixture()
	user := &domain.User{ID: uuid.New(), Username: "alice", IsActive: true}

	report, err := applier.Apply(context.Background(), user, []string{auth.RoleAdmin, auth.RoleReadOnly}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.Superuser || !user.IsSuperuser {
		t.Fatal("FIR.admin should elevate the user")
	}
	want := []string{domain.GroupIncidentHandlers, domain.GroupIncidentViewers}
	if !reflect.DeepEqual(store.applied, want) {
		t.Fatalf("applied groups = %v, want %v", store.applied, want)
	}
	if len(report.Skipped) != 0 {
		t.Fatalf("unexpected skipped roles: %v", report.Skipped)
	}
}

func TestApplyRoles_Idempotent(t *testing.T) {
	applier, store := newApplierFixture()
	user := &domain.User{ID: uuid.New(), Username: "alice", IsActive: true}
	roles := []string{auth.RoleIncidentResponder, auth.RoleEntity}

	first, err := applier.Apply(context.Background(), user, roles, "Retail Banking")
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}
	firstGroups := append([]string(nil), store.applied...)
	firstGrants := append([]domain.AccessControlEntry(nil), store.grants...)

	second, err := applier.Apply(context.Background(), user, roles, "Retail Banking")
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if !reflect.DeepEqual(store.applied, firstGroups) || !reflect.DeepEqual(store.grants, firstGrants) {
		t.Fatal("applying the same role set twice must yield identical membership")
	}
	if !reflect.DeepEqual(first.Applied, second.Applied) {
		t.Fatalf("reports differ: %v vs %v", first.Applied, second.Applied)
	}
	if store.calls != 2 {
		t.Fatalf("expected clear-and-readd on each apply, got %d calls", store.calls)
	}
}

func TestApplyRoles_ScopedGrant(t *testing.T) {
	applier, store := newApplierFixture()
	user := &domain.User{ID: uuid.New(), Username: "entity-user", IsActive: true}

	report, err := applier.Apply(context.Background(), user, []string{auth.RoleEntity}, "Retail Banking")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.grants) != 1 || store.grants[0].BusinessLine != "Retail Banking" {
		t.Fatalf("expected one scoped grant, got %v", store.grants)
	}
	if len(store.applied) != 0 {
		t.Fatalf("scoped role must not add a global group, got %v", store.applied)
	}
	if len(report.Applied) != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestApplyRoles_SkipsRecordReasons(t *testing.T) {
	applier, _ := newApplierFixture()
	user := &domain.User{ID: uuid.New(), Username: "alice", IsActive: true}

	report, err := applier.Apply(context.Background(), user,
		[]string{"FIR.unknown_role", auth.RoleEntity, auth.RoleEntityReadOnly}, "No Such Line")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Applied) != 0 {
		t.Fatalf("nothing should apply, got %v", report.Applied)
	}
	if len(report.Skipped) != 3 {
		t.Fatalf("expected 3 skipped roles, got %v", report.Skipped)
	}
	for _, skipped := range report.Skipped {
		if skipped.Reason == "" {
			t.Fatalf("skipped role %q has no reason", skipped.Role)
		}
	}
}

func TestApplyRoles_RoleChangeResetsState(t *testing.T) {
	applier, store := newApplierFixture()
	user := &domain.User{ID: uuid.New(), Username: "alice", IsActive: true}

	if _, err := applier.Apply(context.Background(), user, []string{auth.RoleAdmin}, ""); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if !store.superuser {
		t.Fatal("expected superuser after FIR.admin")
	}

	if _, err := applier.Apply(context.Background(), user, []string{auth.RoleReadOnly}, ""); err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if store.superuser || user.IsSuperuser {
		t.Fatal("elevation must not persist once the role is gone")
	}
	if !reflect.DeepEqual(store.applied, []string{domain.GroupIncidentViewers}) {
		t.Fatalf("expected viewers group only, got %v", store.applied)
	}
}

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := auth.HashPassword("hunter2")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := auth.VerifyPassword(hash, "hunter2"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := auth.VerifyPassword(hash, "wrong"); err == nil {
		t.Fatal("expected mismatch error")
	}
	if err := auth.VerifyPassword("", "anything"); err == nil {
		t.Fatal("empty hash must be unusable")
	}
}
