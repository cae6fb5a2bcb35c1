package persistence

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/erp/procurement/internal/domain/identity"
	"github.com/erp/procurement/internal/domain/shared"
)

// StoreRelationRepository implements identity.RelationRepository over a Store
type StoreRelationRepository struct {
	store Store
}

// NewStoreRelationRepository creates a new relation repository
func NewStoreRelationRepository(store Store) *StoreRelationRepository {
	return &StoreRelationRepository{store: store}
}

// FindBusiness reads businesses/{businessId}
func (r *StoreRelationRepository) FindBusiness(ctx context.Context, businessID string) (*identity.Business, error) {
	if err := ValidateSegment(businessID); err != nil {
		return nil, err
	}
	snap, err := r.store.Get(ctx, BusinessPath(businessID))
	if err != nil {
		return nil, err
	}
	return &identity.Business{
		ID:        snap.ID,
		Name:      snap.Data.String("name"),
		OwnerID:   snap.Data.String("ownerId"),
		CreatedAt: snap.Data.Time("createdAt"),
	}, nil
}

// FindUser reads users/{userId}
func (r *StoreRelationRepository) FindUser(ctx context.Context, userID string) (*identity.User, error) {
	if err := ValidateSegment(userID); err != nil {
		return nil, err
	}
	snap, err := r.store.Get(ctx, UserPath(userID))
	if err != nil {
		return nil, err
	}
	return &identity.User{
		ID:         snap.ID,
		Email:      snap.Data.String("email"),
		Name:       snap.Data.String("name"),
		Role:       identity.Role(snap.Data.String("role")),
		BusinessID: snap.Data.String("businessId"),
	}, nil
}

// FindMembership reads businesses/{businessId}/users/{userId}
func (r *StoreRelationRepository) FindMembership(ctx context.Context, businessID, userID string) (*identity.BusinessMembership, error) {
	if err := validateSegments(businessID, userID); err != nil {
		return nil, err
	}
	snap, err := r.store.Get(ctx, MembershipPath(businessID, userID))
	if err != nil {
		return nil, err
	}
	m := membershipFromDocument(businessID, snap)
	return &m, nil
}

// FindLink reads users/{userId}/businesses/{businessId}
func (r *StoreRelationRepository) FindLink(ctx context.Context, userID, businessID string) (*identity.UserBusinessLink, error) {
	if err := validateSegments(userID, businessID); err != nil {
		return nil, err
	}
	snap, err := r.store.Get(ctx, LinkPath(userID, businessID))
	if err != nil {
		return nil, err
	}
	l := linkFromDocument(userID, snap)
	return &l, nil
}

// ListMemberships lists every membership under a business
func (r *StoreRelationRepository) ListMemberships(ctx context.Context, businessID string) ([]identity.BusinessMembership, error) {
	if err := ValidateSegment(businessID); err != nil {
		return nil, err
	}
	snaps, err := r.store.Query(ctx, MembershipsCollection(businessID), Query{})
	if err != nil {
		return nil, err
	}
	out := make([]identity.BusinessMembership, 0, len(snaps))
	for i := range snaps {
		out = append(out, membershipFromDocument(businessID, &snaps[i]))
	}
	return out, nil
}

// ListLinks lists every business link under a user
func (r *StoreRelationRepository) ListLinks(ctx context.Context, userID string) ([]identity.UserBusinessLink, error) {
	if err := ValidateSegment(userID); err != nil {
		return nil, err
	}
	snaps, err := r.store.Query(ctx, LinksCollection(userID), Query{})
	if err != nil {
		return nil, err
	}
	out := make([]identity.UserBusinessLink, 0, len(snaps))
	for i := range snaps {
		out = append(out, linkFromDocument(userID, &snaps[i]))
	}
	return out, nil
}

// ListBusinessIDs lists the ids of every business document, sorted
func (r *StoreRelationRepository) ListBusinessIDs(ctx context.Context) ([]string, error) {
	snaps, err := r.store.Query(ctx, CollectionBusinesses, Query{})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(snaps))
	for i := range snaps {
		ids = append(ids, snaps[i].ID)
	}
	slices.Sort(ids)
	return ids, nil
}

// EnsureLink writes whichever copies of the relation are missing. Existing
// records are never overwritten, so calling it on a consistent pair performs
// no writes.
func (r *StoreRelationRepository) EnsureLink(ctx context.Context, spec identity.LinkSpec) (identity.RepairReport, error) {
	var report identity.RepairReport
	if err := validateSegments(spec.UserID, spec.BusinessID); err != nil {
		return report, err
	}

	membership, err := r.FindMembership(ctx, spec.BusinessID, spec.UserID)
	if err != nil && !shared.IsNotFound(err) {
		return report, fmt.Errorf("read membership: %w", err)
	}
	link, err := r.FindLink(ctx, spec.UserID, spec.BusinessID)
	if err != nil && !shared.IsNotFound(err) {
		return report, fmt.Errorf("read link: %w", err)
	}

	var errs []error

	if membership == nil {
		m := spec.MembershipFor(link)
		if err := r.store.Set(ctx, MembershipPath(spec.BusinessID, spec.UserID), membershipDocument(m)); err != nil {
			errs = append(errs, fmt.Errorf("create membership: %w", err))
		} else {
			report.MembershipCreated = true
			membership = &m
		}
	}

	if link == nil {
		l := spec.LinkFor(membership)
		if err := r.store.Set(ctx, LinkPath(spec.UserID, spec.BusinessID), linkDocument(l)); err != nil {
			errs = append(errs, fmt.Errorf("create link: %w", err))
		} else {
			report.LinkCreated = true
		}
	}

	user, err := r.FindUser(ctx, spec.UserID)
	switch {
	case err == nil && !user.HasBusinessPointer():
		pointer := Document{"businessId": spec.BusinessID}
		if err := r.store.Set(ctx, UserPath(spec.UserID), pointer, WithMerge()); err != nil {
			errs = append(errs, fmt.Errorf("set business pointer: %w", err))
		} else {
			report.BusinessPointerSet = true
		}
	case err != nil && !shared.IsNotFound(err):
		errs = append(errs, fmt.Errorf("read user: %w", err))
	}

	return report, errors.Join(errs...)
}

func validateSegments(segments ...string) error {
	for _, s := range segments {
		if err := ValidateSegment(s); err != nil {
			return err
		}
	}
	return nil
}

func permissionsDocument(p identity.Permissions) Document {
	return Document{
		"canCreateAccounts": p.CanCreateAccounts,
		"canDelete":         p.CanDelete,
		"canApprove":        p.CanApprove,
		"requiresApproval":  p.RequiresApproval,
	}
}

func membershipDocument(m identity.BusinessMembership) Document {
	return Document{
		"userId":      m.UserID,
		"role":        string(m.Role),
		"permissions": map[string]any(permissionsDocument(m.Permissions)),
		"email":       m.Email,
		"name":        m.Name,
		"createdAt":   m.CreatedAt,
	}
}

func membershipFromDocument(businessID string, snap *Snapshot) identity.BusinessMembership {
	p := snap.Data.Map("permissions")
	return identity.BusinessMembership{
		BusinessID: businessID,
		UserID:     snap.ID,
		Role:       identity.Role(snap.Data.String("role")),
		Permissions: identity.Permissions{
			CanCreateAccounts: p.Bool("canCreateAccounts"),
			CanDelete:         p.Bool("canDelete"),
			CanApprove:        p.Bool("canApprove"),
			RequiresApproval:  p.Bool("requiresApproval"),
		},
		Email:     snap.Data.String("email"),
		Name:      snap.Data.String("name"),
		CreatedAt: snap.Data.Time("createdAt"),
	}
}

func linkDocument(l identity.UserBusinessLink) Document {
	return Document{
		"businessId": l.BusinessID,
		"role":       string(l.Role),
		"createdAt":  l.CreatedAt,
	}
}

func linkFromDocument(userID string, snap *Snapshot) identity.UserBusinessLink {
	return identity.UserBusinessLink{
		UserID:     userID,
		BusinessID: snap.ID,
		Role:       identity.Role(snap.Data.String("role")),
		CreatedAt:  snap.Data.Time("createdAt"),
	}
}
