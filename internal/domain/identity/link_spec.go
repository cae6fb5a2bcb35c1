package identity

import "time"

// Evidence names the source that proved a user may access a business
type Evidence string

const (
	EvidenceNone        Evidence = "none"
	EvidenceOwner       Evidence = "owner"
	EvidenceMembership  Evidence = "membership"
	EvidenceLink        Evidence = "link"
	EvidenceProfileRole Evidence = "profile_role"
)

// LinkSpec describes the relation both stored copies must converge to.
//
// Role, Permissions and CreatedAt are used only for a side that has to be
// created from nothing. When exactly one side already exists, the missing
// side copies the existing side's role so both copies agree, except that an
// owner's missing membership is always admin.
type LinkSpec struct {
	UserID      string
	BusinessID  string
	Role        Role
	Permissions Permissions
	Email       string
	Name        string
	CreatedAt   time.Time
	Evidence    Evidence
}

// OwnerLinkSpec materializes the implicit owner access as an admin relation
func OwnerLinkSpec(business *Business, user *User, now time.Time) LinkSpec {
	spec := LinkSpec{
		UserID:      business.OwnerID,
		BusinessID:  business.ID,
		Role:        RoleAdmin,
		Permissions: FullPermissions(),
		CreatedAt:   now,
		Evidence:    EvidenceOwner,
	}
	return spec.withProfile(user)
}

// MembershipLinkSpec rebuilds the user side from an existing membership
func MembershipLinkSpec(m *BusinessMembership, user *User) LinkSpec {
	spec := LinkSpec{
		UserID:      m.UserID,
		BusinessID:  m.BusinessID,
		Role:        m.Role,
		Permissions: m.Permissions,
		Email:       m.Email,
		Name:        m.Name,
		CreatedAt:   m.CreatedAt,
		Evidence:    EvidenceMembership,
	}
	return spec.withProfile(user)
}

// LinkOnlySpec rebuilds the business side from an existing user link
func LinkOnlySpec(link *UserBusinessLink, user *User) LinkSpec {
	spec := LinkSpec{
		UserID:      link.UserID,
		BusinessID:  link.BusinessID,
		Role:        link.Role,
		Permissions: DefaultPermissions(link.Role),
		CreatedAt:   link.CreatedAt,
		Evidence:    EvidenceLink,
	}
	return spec.withProfile(user)
}

// ProfileRoleSpec rebuilds both sides from the legacy role on a user profile
func ProfileRoleSpec(user *User, businessID string, now time.Time) LinkSpec {
	spec := LinkSpec{
		UserID:      user.ID,
		BusinessID:  businessID,
		Role:        user.Role,
		Permissions: DefaultPermissions(user.Role),
		CreatedAt:   now,
		Evidence:    EvidenceProfileRole,
	}
	return spec.withProfile(user)
}

func (s LinkSpec) withProfile(user *User) LinkSpec {
	if user == nil {
		return s
	}
	if s.Email == "" {
		s.Email = user.Email
	}
	if s.Name == "" {
		s.Name = user.Name
	}
	return s
}

// MembershipFor returns the membership to create for this spec when the
// business side is missing. link is the existing user side, if any. An
// owner's membership is always admin with full permissions.
func (s LinkSpec) MembershipFor(link *UserBusinessLink) BusinessMembership {
	m := BusinessMembership{
		BusinessID:  s.BusinessID,
		UserID:      s.UserID,
		Role:        s.Role,
		Permissions: s.Permissions,
		Email:       s.Email,
		Name:        s.Name,
		CreatedAt:   s.CreatedAt,
	}
	if s.Evidence == EvidenceOwner {
		m.Role = RoleAdmin
		m.Permissions = FullPermissions()
		return m
	}
	if link != nil && link.Role != "" {
		m.Role = link.Role
		m.Permissions = DefaultPermissions(link.Role)
		if !link.CreatedAt.IsZero() {
			m.CreatedAt = link.CreatedAt
		}
	}
	return m
}

// LinkFor returns the link to create for this spec when the user side is
// missing. membership is the existing business side, if any.
func (s LinkSpec) LinkFor(membership *BusinessMembership) UserBusinessLink {
	l := UserBusinessLink{
		UserID:     s.UserID,
		BusinessID: s.BusinessID,
		Role:       s.Role,
		CreatedAt:  s.CreatedAt,
	}
	if membership != nil && membership.Role != "" {
		l.Role = membership.Role
		if !membership.CreatedAt.IsZero() {
			l.CreatedAt = membership.CreatedAt
		}
	}
	return l
}

// RepairReport records the writes EnsureLink performed
type RepairReport struct {
	MembershipCreated  bool
	LinkCreated        bool
	BusinessPointerSet bool
}

// Writes returns the number of store writes performed
func (r RepairReport) Writes() int {
	n := 0
	for _, done := range []bool{r.MembershipCreated, r.LinkCreated, r.BusinessPointerSet} {
		if done {
			n++
		}
	}
	return n
}
