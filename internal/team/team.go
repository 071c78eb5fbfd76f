// Package team manages barrier membership and its default-member rules.
package team

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleReporter    Role = "Reporter"
	RoleOwner       Role = "Owner"
	RoleContributor Role = "Contributor"
)

func (r Role) Valid() bool {
	return r == RoleReporter || r == RoleOwner || r == RoleContributor
}

var (
	ErrDefaultMember = errors.New("default members cannot be removed or demoted")
	ErrSoleOwner     = errors.New("a barrier must keep at least one owner")
	ErrInvalidRole   = errors.New("invalid role")
)

type Member struct {
	ID         uuid.UUID  `json:"id"`
	BarrierID  uuid.UUID  `json:"barrier_id"`
	UserID     uuid.UUID  `json:"user_id"`
	Role       Role       `json:"role"`
	Default    bool       `json:"default"`
	Archived   bool       `json:"archived"`
	ArchivedOn *time.Time `json:"archived_on,omitempty"`
	CreatedBy  uuid.UUID  `json:"created_by"`
	CreatedOn  time.Time  `json:"created_on"`
	ModifiedBy uuid.UUID  `json:"modified_by"`
	ModifiedOn time.Time  `json:"modified_on"`
}

// Fields is the history-tracked view of a member.
func (m Member) Fields() map[string]any {
	return map[string]any{
		"user":     m.UserID,
		"role":     m.Role,
		"default":  m.Default,
		"archived": m.Archived,
	}
}

// DefaultMembers are created when a report is submitted: the submitter as
// Reporter and the creator as Owner.
func DefaultMembers(barrierID, submitter, creator uuid.UUID, now time.Time) []Member {
	mk := func(user uuid.UUID, role Role) Member {
		return Member{
			ID:         uuid.New(),
			BarrierID:  barrierID,
			UserID:     user,
			Role:       role,
			Default:    true,
			CreatedBy:  submitter,
			CreatedOn:  now,
			ModifiedBy: submitter,
			ModifiedOn: now,
		}
	}
	return []Member{mk(submitter, RoleReporter), mk(creator, RoleOwner)}
}

// Active drops archived members.
func Active(members []Member) []Member {
	out := make([]Member, 0, len(members))
	for _, m := range members {
		if !m.Archived {
			out = append(out, m)
		}
	}
	return out
}

// Find returns the active membership of user in role.
func Find(members []Member, user uuid.UUID, role Role) (Member, bool) {
	for _, m := range members {
		if !m.Archived && m.UserID == user && m.Role == role {
			return m, true
		}
	}
	return Member{}, false
}

// IsMember reports whether user holds any active role.
func IsMember(members []Member, user uuid.UUID) bool {
	for _, m := range members {
		if !m.Archived && m.UserID == user {
			return true
		}
	}
	return false
}

// Owners returns the users holding the Owner role.
func Owners(members []Member) []uuid.UUID {
	var out []uuid.UUID
	for _, m := range members {
		if !m.Archived && m.Role == RoleOwner {
			out = append(out, m.UserID)
		}
	}
	return out
}

// Add returns the member to insert, or the existing membership and false
// when (barrier, user, role) is already present.
func Add(members []Member, barrierID, user uuid.UUID, role Role, actor uuid.UUID, now time.Time) (Member, bool, error) {
	if !role.Valid() || role == RoleReporter {
		return Member{}, false, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if existing, ok := Find(members, user, role); ok {
		return existing, false, nil
	}
	return Member{
		ID:         uuid.New(),
		BarrierID:  barrierID,
		UserID:     user,
		Role:       role,
		CreatedBy:  actor,
		CreatedOn:  now,
		ModifiedBy: actor,
		ModifiedOn: now,
	}, true, nil
}

// ChangeRole validates a role change of m against the other members.
// Promotion is always allowed; demoting the only owner is refused and the
// default Reporter keeps its role.
func ChangeRole(members []Member, m Member, role Role, actor uuid.UUID, now time.Time) (Member, error) {
	if !role.Valid() || role == RoleReporter {
		return Member{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if m.Role == role {
		return m, nil
	}
	if m.Default && m.Role == RoleReporter {
		return Member{}, ErrDefaultMember
	}
	if m.Role == RoleOwner && soleOwner(members, m.ID) {
		return Member{}, ErrSoleOwner
	}
	m.Role = role
	m.ModifiedBy = actor
	m.ModifiedOn = now
	return m, nil
}

// Remove archives m. Default members are permanent.
func Remove(members []Member, m Member, actor uuid.UUID, now time.Time) (Member, error) {
	if m.Default {
		return Member{}, ErrDefaultMember
	}
	if m.Role == RoleOwner && soleOwner(members, m.ID) {
		return Member{}, ErrSoleOwner
	}
	archived := now
	m.Archived = true
	m.ArchivedOn = &archived
	m.ModifiedBy = actor
	m.ModifiedOn = now
	return m, nil
}

func soleOwner(members []Member, id uuid.UUID) bool {
	for _, m := range members {
		if !m.Archived && m.Role == RoleOwner && m.ID != id {
			return false
		}
	}
	return true
}
