package identity

import (
	"strings"
	"time"
)

// Role is the role a user holds inside a business
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleOfficer Role = "officer"
)

// Normalize trims and lower-cases a role
func (r Role) Normalize() Role {
	return Role(strings.ToLower(strings.TrimSpace(string(r))))
}

// IsRestricted reports whether the role gets the restricted permission set
func (r Role) IsRestricted() bool {
	return r.Normalize() == RoleOfficer
}

// Permissions is the capability set stored on a business membership
type Permissions struct {
	CanCreateAccounts bool
	CanDelete         bool
	CanApprove        bool
	RequiresApproval  bool
}

// FullPermissions returns the unrestricted permission set
func FullPermissions() Permissions {
	return Permissions{
		CanCreateAccounts: true,
		CanDelete:         true,
		CanApprove:        true,
		RequiresApproval:  false,
	}
}

// RestrictedPermissions returns the officer permission set: no account
// creation, no delete, no approve, and every action needs approval.
func RestrictedPermissions() Permissions {
	return Permissions{
		CanCreateAccounts: false,
		CanDelete:         false,
		CanApprove:        false,
		RequiresApproval:  true,
	}
}

// DefaultPermissions derives the permission set for a role
func DefaultPermissions(role Role) Permissions {
	if role.IsRestricted() {
		return RestrictedPermissions()
	}
	return FullPermissions()
}

// UserBusinessLink is the user-side copy of the user/business relation,
// stored under users/{userId}/businesses/{businessId}.
type UserBusinessLink struct {
	UserID     string
	BusinessID string
	Role       Role
	CreatedAt  time.Time
}

// BusinessMembership is the business-side copy of the user/business relation,
// stored under businesses/{businessId}/users/{userId}.
type BusinessMembership struct {
	BusinessID  string
	UserID      string
	Role        Role
	Permissions Permissions
	Email       string
	Name        string
	CreatedAt   time.Time
}
