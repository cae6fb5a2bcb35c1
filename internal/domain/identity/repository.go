package identity

import "context"

// RelationRepository reads and heals the user/business relation, which is
// stored twice: once under the user and once under the business.
//
// Find* methods return shared.ErrNotFound when the record is absent.
type RelationRepository interface {
	FindBusiness(ctx context.Context, businessID string) (*Business, error)
	FindUser(ctx context.Context, userID string) (*User, error)
	FindMembership(ctx context.Context, businessID, userID string) (*BusinessMembership, error)
	FindLink(ctx context.Context, userID, businessID string) (*UserBusinessLink, error)
	ListMemberships(ctx context.Context, businessID string) ([]BusinessMembership, error)
	ListLinks(ctx context.Context, userID string) ([]UserBusinessLink, error)

	// EnsureLink converges both copies of the relation described by spec.
	// Each side is written only when absent, and the user's business pointer
	// only when unset. The report lists the writes that succeeded; an error
	// may accompany a partial report.
	EnsureLink(ctx context.Context, spec LinkSpec) (RepairReport, error)
}
