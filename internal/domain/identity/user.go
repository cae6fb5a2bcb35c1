package identity

import "strings"

// User is a person who can sign in and work inside one or more businesses.
// BusinessID is a denormalized pointer to the business the user last joined;
// Role is a legacy marker written by older onboarding flows and is treated as
// evidence of a prior membership when no relation record survives.
type User struct {
	ID         string
	Email      string
	Name       string
	Role       Role
	BusinessID string
}

// HasBusinessPointer reports whether the denormalized business pointer is set
func (u *User) HasBusinessPointer() bool {
	return u != nil && strings.TrimSpace(u.BusinessID) != ""
}

// HasLegacyRole reports whether the profile carries an implicit membership role
func (u *User) HasLegacyRole() bool {
	return u != nil && strings.TrimSpace(string(u.Role)) != ""
}

// DisplayName returns the user's name, falling back to email
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}
