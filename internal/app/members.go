package app

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"barriers/api/internal/history"
	"barriers/api/internal/rbac"
	"barriers/api/internal/store"
	"barriers/api/internal/team"
)

// MemberView is a team member with the user's directory entry.
type MemberView struct {
	team.Member
	User *store.User `json:"user,omitempty"`
}

func (s *Service) memberView(ctx context.Context, m team.Member) (MemberView, error) {
	v := MemberView{Member: m}
	u, err := s.store.GetUser(ctx, m.UserID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return MemberView{}, err
	default:
		v.User = &u
	}
	return v, nil
}

func (s *Service) ListMembers(ctx context.Context, actor Actor, barrierID uuid.UUID) ([]MemberView, error) {
	if _, err := s.loadBarrier(ctx, actor, barrierID); err != nil {
		return nil, err
	}
	members, err := s.store.ListMembers(ctx, barrierID)
	if err != nil {
		return nil, err
	}
	out := []MemberView{}
	for _, m := range team.Active(members) {
		v, err := s.memberView(ctx, m)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Service) GetMember(ctx context.Context, actor Actor, id uuid.UUID) (MemberView, error) {
	m, err := s.store.GetMember(ctx, id)
	if err != nil {
		return MemberView{}, err
	}
	if m.Archived {
		return MemberView{}, errNotFound("member")
	}
	if _, err := s.loadBarrier(ctx, actor, m.BarrierID); err != nil {
		return MemberView{}, err
	}
	return s.memberView(ctx, m)
}

// AddMemberRequest names the user and the role to add.
type AddMemberRequest struct {
	UserID uuid.UUID `json:"user"`
	Role   team.Role `json:"role"`
}

// AddMember adds a user to the team. Members and admins may add anyone; any
// other editor may only add themselves as a Contributor.
func (s *Service) AddMember(ctx context.Context, actor Actor, barrierID uuid.UUID, req AddMemberRequest) (MemberView, error) {
	var added team.Member
	_, err := s.mutate(ctx, actor, barrierID, "add_member", func(m *mutation) error {
		if err := m.requireSubmitted(); err != nil {
			return err
		}
		if req.Role == "" {
			req.Role = team.RoleContributor
		}
		if err := s.require(m.actor, rbac.ActionWrite); err != nil {
			return err
		}
		selfContributor := req.UserID == m.actor.ID && req.Role == team.RoleContributor
		if !selfContributor && !m.isMember() && m.actor.Role != rbac.RoleAdmin {
			return errForbidden("only team members can add other users")
		}
		if _, err := m.tx.GetUser(m.ctx, req.UserID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return errInvalid("user", "unknown user")
			}
			return err
		}
		member, created, err := team.Add(m.members, m.barrier.ID, req.UserID, req.Role, m.actor.ID, m.now)
		if err != nil {
			return err
		}
		added = member
		if !created {
			return nil
		}
		if err := m.tx.SaveMember(m.ctx, member); err != nil {
			return err
		}
		return m.rec.Object(history.ModelTeamMember, member.ID.String(), nil, member.Fields())
	})
	if err != nil {
		return MemberView{}, err
	}
	return s.memberView(ctx, added)
}

// ChangeMemberRole promotes or demotes a member.
func (s *Service) ChangeMemberRole(ctx context.Context, actor Actor, memberID uuid.UUID, role team.Role) (MemberView, error) {
	var changed team.Member
	err := s.withMember(ctx, actor, memberID, "change_member_role", func(m *mutation, member team.Member) error {
		updated, err := team.ChangeRole(m.members, member, role, m.actor.ID, m.now)
		if err != nil {
			return err
		}
		changed = updated
		if updated.Role == member.Role {
			return nil
		}
		if err := m.tx.SaveMember(m.ctx, updated); err != nil {
			return err
		}
		return m.rec.Object(history.ModelTeamMember, updated.ID.String(), member.Fields(), updated.Fields())
	})
	if err != nil {
		return MemberView{}, err
	}
	return s.memberView(ctx, changed)
}

// RemoveMember archives a member. Default members cannot be removed.
func (s *Service) RemoveMember(ctx context.Context, actor Actor, memberID uuid.UUID) error {
	return s.withMember(ctx, actor, memberID, "remove_member", func(m *mutation, member team.Member) error {
		removed, err := team.Remove(m.members, member, m.actor.ID, m.now)
		if err != nil {
			return err
		}
		if err := m.tx.SaveMember(m.ctx, removed); err != nil {
			return err
		}
		return m.rec.Object(history.ModelTeamMember, removed.ID.String(), member.Fields(), removed.Fields())
	})
}

func (s *Service) withMember(ctx context.Context, actor Actor, memberID uuid.UUID, op string, fn func(m *mutation, member team.Member) error) error {
	member, err := s.store.GetMember(ctx, memberID)
	if err != nil {
		return err
	}
	_, err = s.mutate(ctx, actor, member.BarrierID, op, func(m *mutation) error {
		if err := m.requireEditor(); err != nil {
			return err
		}
		current, err := m.tx.GetMember(m.ctx, memberID)
		if err != nil {
			return err
		}
		if current.Archived {
			return errNotFound("member")
		}
		return fn(m, current)
	})
	return err
}
