package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/firsec/fir/internal/domain"
)

// External role names granted through the identity provider.
const (
	RoleAdmin             = "FIR.admin"
	RoleIncidentResponder = "FIR.incident_responder"
	RoleEntity            = "FIR.entity"
	RoleEntityReadOnly    = "FIR.entity_read_only"
	RoleReadOnly          = "FIR.read_only"
)

// RoleTarget is the local effect of one external role: membership in a
// global group, or a grant scoped to the user's business line.
type RoleTarget struct {
	Group  string
	Scoped bool
}

// RoleMapping translates external role names to local permission targets.
// Roles absent from the table are skipped, not errors.
type RoleMapping map[string]RoleTarget

// DefaultRoleMapping returns the built-in role table.
func DefaultRoleMapping() RoleMapping {
	return RoleMapping{
		RoleAdmin:             {Group: domain.GroupIncidentHandlers},
		RoleIncidentResponder: {Group: domain.GroupIncidentHandlers},
		RoleEntity:            {Group: domain.GroupIncidentHandlers, Scoped: true},
		RoleEntityReadOnly:    {Group: domain.GroupIncidentViewers, Scoped: true},
		RoleReadOnly:          {Group: domain.GroupIncidentViewers},
	}
}

// SkippedRole records one role that could not be applied and why.
type SkippedRole struct {
	Role   string `json:"role"`
	Reason string `json:"reason"`
}

// MappingReport is the outcome of applying a role set to a user. Mapping
// misses never abort a login; they land in Skipped so callers and tests can
// observe partial failures instead of them being invisible.
type MappingReport struct {
	Applied   []string      `json:"applied"`
	Skipped   []SkippedRole `json:"skipped"`
	Superuser bool          `json:"superuser"`
}

// AuthorizationStore persists derived authorization state.
// domain.UserRepository satisfies it.
type AuthorizationStore interface {
	GroupExists(ctx context.Context, name string) (bool, error)
	ReplaceAuthorization(ctx context.Context, userID uuid.UUID, groups []string, grants []domain.AccessControlEntry, superuser bool) error
}

// BusinessLineStore checks scoped-grant targets.
// domain.ReferenceRepository satisfies it.
type BusinessLineStore interface {
	BusinessLineExists(ctx context.Context, name string) (bool, error)
}

// RoleApplier derives a user's local authorization state from an external
// role set.
type RoleApplier struct {
	users   AuthorizationStore
	refs    BusinessLineStore
	mapping RoleMapping
}

// NewRoleApplier builds a RoleApplier; a nil mapping selects the default
// table.
func NewRoleApplier(users AuthorizationStore, refs BusinessLineStore, mapping RoleMapping) *RoleApplier {
	if mapping == nil {
		mapping = DefaultRoleMapping()
	}
	return &RoleApplier{users: users, refs: refs, mapping: mapping}
}

// Apply clears the user's group memberships and scoped grants, then re-adds
// them from the current role set. Every login fully resets authorization
// state, so applying the same roles twice is a no-op. businessLine scopes
// entity-style roles; empty means none was resolved.
func (a *RoleApplier) Apply(ctx context.Context, user *domain.User, roles []string, businessLine string) (*MappingReport, error) {
	report := &MappingReport{}
	var groups []string
	var grants []domain.AccessControlEntry
	seen := map[string]bool{}

	for _, role := range roles {
		target, ok := a.mapping[role]
		if !ok {
			report.skip(role, "no mapping defined for role")
			continue
		}
		if role == RoleAdmin {
			report.Superuser = true
		}

		if target.Scoped {
			if businessLine == "" {
				report.skip(role, "no business line resolved for scoped role")
				continue
			}
			grant, err := a.scopedGrant(ctx, user.ID, role, businessLine)
			if err != nil {
				return nil, err
			}
			if grant == nil {
				report.skip(role, "business line "+businessLine+" is not defined")
				continue
			}
			grants = append(grants, *grant)
			report.Applied = append(report.Applied, role)
			continue
		}

		exists, err := a.users.GroupExists(ctx, target.Group)
		if err != nil {
			return nil, fmt.Errorf("group lookup %q: %w", target.Group, err)
		}
		if !exists {
			report.skip(role, "group "+target.Group+" is not defined")
			continue
		}
		if !seen[target.Group] {
			seen[target.Group] = true
			groups = append(groups, target.Group)
		}
		report.Applied = append(report.Applied, role)
	}

	if err := a.users.ReplaceAuthorization(ctx, user.ID, groups, grants, report.Superuser); err != nil {
		return nil, fmt.Errorf("replace authorization for %s: %w", user.Username, err)
	}
	user.Groups = groups
	user.IsSuperuser = report.Superuser

	if len(report.Skipped) > 0 {
		log.Warn().
			Str("user", user.Username).
			Interface("skipped", report.Skipped).
			Msg("some roles could not be mapped, privileges degraded")
	}
	return report, nil
}

func (a *RoleApplier) scopedGrant(ctx context.Context, userID uuid.UUID, role, businessLine string) (*domain.AccessControlEntry, error) {
	exists, err := a.refs.BusinessLineExists(ctx, businessLine)
	if err != nil {
		return nil, fmt.Errorf("business line lookup %q: %w", businessLine, err)
	}
	if !exists {
		return nil, nil
	}
	return &domain.AccessControlEntry{UserID: userID, BusinessLine: businessLine, Role: role}, nil
}

func (r *MappingReport) skip(role, reason string) {
	r.Skipped = append(r.Skipped, SkippedRole{Role: role, Reason: reason})
}
