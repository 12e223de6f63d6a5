// Package identity describes who is calling and how they relate to organizations and teams.
package identity

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Role is a platform-level role.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleReferrer   Role = "referrer"
	RoleSpecialist Role = "specialist"
	RoleSystem     Role = "system"
)

// ParseRole validates a role string.
func ParseRole(value string) (Role, error) {
	switch role := Role(strings.ToLower(strings.TrimSpace(value))); role {
	case RoleAdmin, RoleReferrer, RoleSpecialist, RoleSystem:
		return role, nil
	default:
		return "", fmt.Errorf("identity: unknown role %q", value)
	}
}

// Principal is a user identity with its role.
type Principal struct {
	ID   uuid.UUID
	Role Role
}

// Caller is the authenticated actor. ActingAs is set while an admin impersonates another user.
type Caller struct {
	ID       uuid.UUID
	Role     Role
	ActingAs *Principal
}

// System is the caller used for provider-driven changes.
var System = Caller{ID: uuid.Nil, Role: RoleSystem}

// Effective returns the principal authorization is evaluated against.
func (c Caller) Effective() Principal {
	if c.ActingAs != nil {
		return *c.ActingAs
	}
	return Principal{ID: c.ID, Role: c.Role}
}

// Impersonating reports whether the caller acts on behalf of someone else.
func (c Caller) Impersonating() bool {
	return c.ActingAs != nil && c.ActingAs.ID != c.ID
}

// ImpersonatedID returns the acting-as user id, or nil.
func (c Caller) ImpersonatedID() *uuid.UUID {
	if !c.Impersonating() {
		return nil
	}
	id := c.ActingAs.ID
	return &id
}

// ActorID is the id recorded in audit trails; nil for the system actor.
func (c Caller) ActorID() *uuid.UUID {
	if c.ID == uuid.Nil {
		return nil
	}
	id := c.ID
	return &id
}
