// Package access decides whether a user may open a business and heals the
// user/business relation records it finds out of sync along the way.
package access

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/erp/procurement/internal/domain/identity"
	"github.com/erp/procurement/internal/domain/shared"
	"github.com/erp/procurement/internal/infrastructure/logger"
	"github.com/erp/procurement/internal/infrastructure/telemetry"
	"github.com/juju/clock"
	"go.uber.org/zap"
)

// Decision is the outcome of an access check
type Decision struct {
	Granted  bool
	Evidence identity.Evidence
	Role     identity.Role
	Repairs  identity.RepairReport
	// RepairErr is set when healing failed. It never affects Granted.
	RepairErr error
}

// Resolver grants access from the first of owner, membership, link or
// legacy profile role that proves it, then converges both relation copies.
type Resolver struct {
	relations identity.RelationRepository
	clock     clock.Clock
	logger    *zap.Logger
	metrics   *telemetry.ConsistencyMetrics
}

// Option configures a Resolver
type Option func(*Resolver)

// WithClock sets the clock used to timestamp created relations
func WithClock(c clock.Clock) Option {
	return func(r *Resolver) {
		r.clock = c
	}
}

// WithLogger sets the resolver logger
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) {
		r.logger = l
	}
}

// WithMetrics sets the instruments decisions and repairs are recorded on
func WithMetrics(m *telemetry.ConsistencyMetrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// NewResolver creates a Resolver over the relation repository
func NewResolver(relations identity.RelationRepository, opts ...Option) *Resolver {
	r := &Resolver{
		relations: relations,
		clock:     clock.WallClock,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("access")
	return r
}

// VerifyAccess reports whether userID may access businessID. A false result
// with a nil error means no evidence was found; a non-nil error means the
// store could not be read and callers must treat it as no access.
func (r *Resolver) VerifyAccess(ctx context.Context, userID, businessID string) (bool, error) {
	d, err := r.Resolve(ctx, userID, businessID)
	if err != nil {
		return false, err
	}
	return d.Granted, nil
}

// Resolve evaluates the access evidence in order and repairs the relation
// when access is granted.
func (r *Resolver) Resolve(ctx context.Context, userID, businessID string) (Decision, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "AccessResolver", "Resolve",
		telemetry.WithAttribute(telemetry.SpanAttrUserID, userID),
		telemetry.WithAttribute(telemetry.SpanAttrBusinessID, businessID),
	)
	defer span.End()

	log := logger.WithLogger(ctx, r.logger).With(
		zap.String("user_id", userID),
		zap.String("business_id", businessID),
	)

	d, err := r.resolve(ctx, log, userID, businessID)
	if err != nil {
		telemetry.RecordError(span, err)
		log.Warn("Access check failed, denying", zap.Error(err))
		r.metrics.RecordAccessDecision(ctx, string(identity.EvidenceNone), false)
		return Decision{Evidence: identity.EvidenceNone}, err
	}

	telemetry.SetAttributes(span, telemetry.SpanAttrEvidence, string(d.Evidence), "granted", d.Granted)
	r.metrics.RecordAccessDecision(ctx, string(d.Evidence), d.Granted)
	if !d.Granted {
		log.Info("Access denied", zap.String("evidence", string(d.Evidence)))
	}
	return d, nil
}

func (r *Resolver) resolve(ctx context.Context, log *logger.ContextLogger, userID, businessID string) (Decision, error) {
	denied := Decision{Evidence: identity.EvidenceNone}
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(businessID) == "" {
		return denied, nil
	}

	business, err := r.relations.FindBusiness(ctx, businessID)
	if shared.IsNotFound(err) || errors.Is(err, shared.ErrInvalidInput) {
		return denied, nil
	}
	if err != nil {
		return denied, fmt.Errorf("read business: %w", err)
	}

	if business.IsOwnedBy(userID) {
		// the profile only fills in contact fields for the owner
		user, err := r.findUser(ctx, userID)
		if err != nil {
			log.Warn("Owner profile unreadable", zap.Error(err))
		}
		return r.grant(ctx, log, identity.OwnerLinkSpec(business, user, r.clock.Now())), nil
	}

	membership, err := r.relations.FindMembership(ctx, businessID, userID)
	if err != nil && !shared.IsNotFound(err) {
		return denied, fmt.Errorf("read membership: %w", err)
	}
	if membership != nil {
		user, err := r.findUser(ctx, userID)
		if err != nil {
			log.Warn("Member profile unreadable", zap.Error(err))
		}
		return r.grant(ctx, log, identity.MembershipLinkSpec(membership, user)), nil
	}

	link, err := r.relations.FindLink(ctx, userID, businessID)
	if err != nil && !shared.IsNotFound(err) {
		return denied, fmt.Errorf("read link: %w", err)
	}
	user, userErr := r.findUser(ctx, userID)
	if link != nil {
		if userErr != nil {
			log.Warn("Linked user profile unreadable", zap.Error(userErr))
		}
		return r.grant(ctx, log, identity.LinkOnlySpec(link, user)), nil
	}

	if userErr != nil {
		return denied, fmt.Errorf("read user: %w", userErr)
	}
	if user.HasLegacyRole() {
		return r.grant(ctx, log, identity.ProfileRoleSpec(user, businessID, r.clock.Now())), nil
	}
	return denied, nil
}

// findUser returns nil without error when the profile is absent
func (r *Resolver) findUser(ctx context.Context, userID string) (*identity.User, error) {
	user, err := r.relations.FindUser(ctx, userID)
	if shared.IsNotFound(err) {
		return nil, nil
	}
	return user, err
}

func (r *Resolver) grant(ctx context.Context, log *logger.ContextLogger, spec identity.LinkSpec) Decision {
	d := Decision{Granted: true, Evidence: spec.Evidence, Role: spec.Role}

	report, err := r.relations.EnsureLink(ctx, spec)
	d.Repairs = report
	r.recordRepairs(ctx, report)

	if err != nil {
		d.RepairErr = err
		r.metrics.RecordRepairFailure(ctx)
		log.Warn("Relation repair failed, access still granted",
			zap.String("evidence", string(spec.Evidence)),
			zap.Error(err))
	}
	if report.Writes() > 0 {
		log.Info("Repaired user/business relation",
			zap.String("evidence", string(spec.Evidence)),
			zap.Bool("membership_created", report.MembershipCreated),
			zap.Bool("link_created", report.LinkCreated),
			zap.Bool("business_pointer_set", report.BusinessPointerSet))
	}
	return d
}

func (r *Resolver) recordRepairs(ctx context.Context, report identity.RepairReport) {
	if report.MembershipCreated {
		r.metrics.RecordRepair(ctx, "membership")
	}
	if report.LinkCreated {
		r.metrics.RecordRepair(ctx, "link")
	}
	if report.BusinessPointerSet {
		r.metrics.RecordRepair(ctx, "business_pointer")
	}
}

// ReconcileReport summarizes a batch repair of one business
type ReconcileReport struct {
	Members  int
	Repaired int
	Writes   int
	Failed   int
}

// ReconcileBusiness heals the owner relation and every membership of a
// business. Individual failures are collected and do not stop the batch.
func (r *Resolver) ReconcileBusiness(ctx context.Context, businessID string) (ReconcileReport, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "AccessResolver", "ReconcileBusiness",
		telemetry.WithAttribute(telemetry.SpanAttrBusinessID, businessID))
	defer span.End()

	var report ReconcileReport
	business, err := r.relations.FindBusiness(ctx, businessID)
	if err != nil {
		telemetry.RecordError(span, err)
		return report, fmt.Errorf("read business: %w", err)
	}
	members, err := r.relations.ListMemberships(ctx, businessID)
	if err != nil {
		telemetry.RecordError(span, err)
		return report, fmt.Errorf("list memberships: %w", err)
	}

	specs := make([]identity.LinkSpec, 0, len(members)+1)
	if business.OwnerID != "" {
		owner, _ := r.findUser(ctx, business.OwnerID)
		specs = append(specs, identity.OwnerLinkSpec(business, owner, r.clock.Now()))
	}
	for i := range members {
		if members[i].UserID == business.OwnerID {
			continue
		}
		user, _ := r.findUser(ctx, members[i].UserID)
		specs = append(specs, identity.MembershipLinkSpec(&members[i], user))
	}

	var errs []error
	for _, spec := range specs {
		report.Members++
		repairs, err := r.relations.EnsureLink(ctx, spec)
		r.recordRepairs(ctx, repairs)
		report.Writes += repairs.Writes()
		if repairs.Writes() > 0 {
			report.Repaired++
		}
		if err != nil {
			report.Failed++
			r.metrics.RecordRepairFailure(ctx)
			errs = append(errs, fmt.Errorf("user %s: %w", spec.UserID, err))
		}
	}

	logger.WithLogger(ctx, r.logger).Info("Reconciled business relations",
		zap.String("business_id", businessID),
		zap.Int("members", report.Members),
		zap.Int("repaired", report.Repaired),
		zap.Int("writes", report.Writes),
		zap.Int("failed", report.Failed))

	err = errors.Join(errs...)
	telemetry.RecordError(span, err)
	return report, err
}

// AccessibleBusinesses lists the businesses linked from the user's side of
// the relation, ordered by business ID
func (r *Resolver) AccessibleBusinesses(ctx context.Context, userID string) ([]identity.UserBusinessLink, error) {
	links, err := r.relations.ListLinks(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	slices.SortFunc(links, func(a, b identity.UserBusinessLink) int {
		return strings.Compare(a.BusinessID, b.BusinessID)
	})
	return links, nil
}
