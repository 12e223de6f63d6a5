package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a user has no matching record.
var ErrNotFound = errors.New("identity: not found")

// OrgRole is a role inside an organization.
type OrgRole string

const (
	OrgRoleOwner   OrgRole = "owner"
	OrgRoleManager OrgRole = "manager"
	OrgRoleMember  OrgRole = "member"
)

// Membership links a user to their organization.
type Membership struct {
	OrgID uuid.UUID
	Role  OrgRole
}

// CanManage reports whether the member may act on every booking of the organization.
func (m Membership) CanManage() bool {
	return m.Role == OrgRoleOwner || m.Role == OrgRoleManager
}

// Contact is what notifications need to reach a user.
type Contact struct {
	UserID    uuid.UUID
	Email     string
	FirstName string
	LastName  string
}

// DisplayName joins the non-empty name parts.
func (c Contact) DisplayName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// Directory resolves organization and team relationships.
type Directory interface {
	// Membership returns ErrNotFound when the user belongs to no organization.
	Membership(ctx context.Context, userID uuid.UUID) (Membership, error)
	// TeamMemberIDs lists members of every team led by leadUserID.
	TeamMemberIDs(ctx context.Context, leadUserID uuid.UUID) ([]uuid.UUID, error)
	Contact(ctx context.Context, userID uuid.UUID) (Contact, error)
}
