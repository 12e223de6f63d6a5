package bookings

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"

	"github.com/wolfman30/exam-scheduling/internal/apperr"
	"github.com/wolfman30/exam-scheduling/internal/identity"
)

// authorize grants access to admins, the owning referrer, the assigned
// specialist, organization owners and managers, and leads of the referrer's team.
// Impersonating callers are evaluated as the impersonated user.
func (s *Service) authorize(ctx context.Context, caller identity.Caller, b *Booking) error {
	p := caller.Effective()
	switch p.Role {
	case identity.RoleAdmin, identity.RoleSystem:
		return nil
	}
	if b.ReferrerID == p.ID {
		return nil
	}

	assigned, err := s.isAssignedSpecialist(ctx, p.ID, b)
	if err != nil {
		return err
	}
	if assigned {
		return nil
	}

	membership, err := s.directory.Membership(ctx, p.ID)
	switch {
	case err == nil:
		if membership.CanManage() && membership.OrgID == b.OrgID {
			return nil
		}
	case !errors.Is(err, identity.ErrNotFound):
		return err
	}

	members, err := s.directory.TeamMemberIDs(ctx, p.ID)
	if err != nil {
		return err
	}
	for _, id := range members {
		if id == b.ReferrerID {
			return nil
		}
	}
	return apperr.AccessDenied()
}

func (s *Service) isAssignedSpecialist(ctx context.Context, userID uuid.UUID, b *Booking) (bool, error) {
	if b.SpecialistID == nil {
		return false, nil
	}
	profile, err := s.store.SpecialistByUserID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return profile.ID == *b.SpecialistID, nil
}

// scopeFor returns the union of every relationship through which caller sees bookings.
func (s *Service) scopeFor(ctx context.Context, caller identity.Caller) (Scope, error) {
	p := caller.Effective()
	if p.Role == identity.RoleAdmin || p.Role == identity.RoleSystem {
		return Scope{All: true}, nil
	}

	scope := Scope{ReferrerIDs: []uuid.UUID{p.ID}}
	members, err := s.directory.TeamMemberIDs(ctx, p.ID)
	if err != nil {
		return Scope{}, err
	}
	for _, id := range members {
		if id != p.ID {
			scope.ReferrerIDs = append(scope.ReferrerIDs, id)
		}
	}

	profile, err := s.store.SpecialistByUserID(ctx, p.ID)
	switch {
	case err == nil:
		scope.SpecialistID = &profile.ID
	case !errors.Is(err, ErrNotFound):
		return Scope{}, err
	}

	membership, err := s.directory.Membership(ctx, p.ID)
	switch {
	case err == nil:
		if membership.CanManage() {
			scope.OrgID = &membership.OrgID
		}
	case !errors.Is(err, identity.ErrNotFound):
		return Scope{}, err
	}
	return scope, nil
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
