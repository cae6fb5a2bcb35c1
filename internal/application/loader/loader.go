// Package loader reads business sub-collections through a short-lived cache.
package loader

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/erp/procurement/internal/domain/identity"
	"github.com/erp/procurement/internal/domain/shared"
	"github.com/erp/procurement/internal/infrastructure/cache"
	"github.com/erp/procurement/internal/infrastructure/logger"
	"github.com/erp/procurement/internal/infrastructure/persistence"
	"github.com/erp/procurement/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// LoadRequest selects a collection under a business. UserID is optional; when
// set, a cache miss verifies the user belongs to the business before querying.
type LoadRequest struct {
	BusinessID string
	Collection string
	OrderField string
	Direction  persistence.Direction
	UserID     string
}

// Invalidator propagates cache clears to other processes
type Invalidator interface {
	Publish(ctx context.Context, businessID, collection string) error
}

// CollectionLoader loads collections and memoizes them per business
type CollectionLoader struct {
	store       persistence.Store
	relations   identity.RelationRepository
	cache       *cache.CollectionCache[[]persistence.Snapshot]
	invalidator Invalidator
	logger      *zap.Logger
	metrics     *telemetry.ConsistencyMetrics
}

// Option configures a CollectionLoader
type Option func(*CollectionLoader)

// WithInvalidator publishes every ClearCache to other processes
func WithInvalidator(inv Invalidator) Option {
	return func(l *CollectionLoader) {
		l.invalidator = inv
	}
}

// WithLogger sets the loader logger
func WithLogger(log *zap.Logger) Option {
	return func(l *CollectionLoader) {
		l.logger = log
	}
}

// WithMetrics records cache hits and misses
func WithMetrics(m *telemetry.ConsistencyMetrics) Option {
	return func(l *CollectionLoader) {
		l.metrics = m
	}
}

// NewCollectionLoader creates a loader over store. The cache is owned by the
// caller so it can be shared with invalidation subscribers.
func NewCollectionLoader(
	store persistence.Store,
	relations identity.RelationRepository,
	c *cache.CollectionCache[[]persistence.Snapshot],
	opts ...Option,
) *CollectionLoader {
	l := &CollectionLoader{
		store:     store,
		relations: relations,
		cache:     c,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.Named("loader")
	return l
}

// Load returns the records of a business collection. Cached results younger
// than the cache TTL are returned without reading the store or re-checking
// permissions.
func (l *CollectionLoader) Load(ctx context.Context, req LoadRequest) ([]persistence.Snapshot, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "CollectionLoader", "Load",
		telemetry.WithAttribute(telemetry.SpanAttrBusinessID, req.BusinessID),
		telemetry.WithAttribute(telemetry.SpanAttrCollection, req.Collection),
	)
	defer span.End()

	log := logger.WithLogger(ctx, l.logger).With(
		zap.String("business_id", req.BusinessID),
		zap.String("collection", req.Collection),
	)

	if strings.TrimSpace(req.BusinessID) == "" {
		log.Warn("No business selected, returning empty collection")
		return []persistence.Snapshot{}, nil
	}
	if err := persistence.ValidateSegment(req.BusinessID); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if err := persistence.ValidateCollectionName(req.Collection); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	orderField, err := persistence.ValidateSortField(req.Collection, req.OrderField)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	dir := persistence.ValidateSortOrder(string(req.Direction))

	key := cache.Key{BusinessID: req.BusinessID, Collection: req.Collection}
	if entry, ok := l.cache.Get(key); ok {
		telemetry.SetAttributes(span, telemetry.SpanAttrCacheHit, true)
		l.metrics.RecordCacheLoad(ctx, req.Collection, true)
		out := persistence.CloneSnapshots(entry.Value)
		persistence.SortSnapshots(out, orderField, dir)
		log.Debug("Collection served from cache", zap.Int("count", len(out)))
		return out, nil
	}
	telemetry.SetAttributes(span, telemetry.SpanAttrCacheHit, false)
	l.metrics.RecordCacheLoad(ctx, req.Collection, false)
	ticket := l.cache.Reserve(key)

	if req.UserID != "" {
		if err := l.checkPermission(ctx, req.UserID, req.BusinessID); err != nil {
			telemetry.RecordError(span, err)
			log.Warn("Collection load denied", zap.String("user_id", req.UserID), zap.Error(err))
			return nil, err
		}
	}

	snaps, err := l.store.Query(ctx, persistence.BusinessCollection(req.BusinessID, req.Collection), persistence.Query{
		OrderBy:   orderField,
		Direction: dir,
	})
	if err != nil {
		telemetry.RecordError(span, err)
		log.Error("Failed to load collection", zap.Error(err))
		return nil, fmt.Errorf("load %s: %w", req.Collection, err)
	}

	// A clear that landed while the query ran wins over this result
	_, cached := l.cache.PutIfCurrent(ticket, persistence.CloneSnapshots(snaps))
	log.Debug("Collection loaded from store", zap.Int("count", len(snaps)), zap.Bool("cached", cached))
	return snaps, nil
}

// checkPermission requires the business to exist and the user to own it or
// hold a membership in it
func (l *CollectionLoader) checkPermission(ctx context.Context, userID, businessID string) error {
	business, err := l.relations.FindBusiness(ctx, businessID)
	if shared.IsNotFound(err) {
		return shared.NewPermissionError(userID, businessID, "business does not exist")
	}
	if err != nil {
		return fmt.Errorf("check permission: %w", err)
	}
	if business.IsOwnedBy(userID) {
		return nil
	}
	_, err = l.relations.FindMembership(ctx, businessID, userID)
	switch {
	case err == nil:
		return nil
	case shared.IsNotFound(err), errors.Is(err, shared.ErrInvalidInput):
		return shared.NewPermissionError(userID, businessID, "user is not a member")
	default:
		return fmt.Errorf("check permission: %w", err)
	}
}

// ClearCache drops one cached collection, or every collection of the business
// when collection is empty, and publishes the clear to other processes. A
// publish failure is logged; the local clear always happens.
func (l *CollectionLoader) ClearCache(ctx context.Context, businessID, collection string) int {
	removed := l.Invalidate(businessID, collection)
	if l.invalidator != nil {
		if err := l.invalidator.Publish(ctx, businessID, collection); err != nil {
			logger.WithLogger(ctx, l.logger).Warn("Failed to publish cache invalidation",
				zap.String("business_id", businessID),
				zap.String("collection", collection),
				zap.Error(err))
		}
	}
	return removed
}

// Invalidate clears local entries only. Subscribers applying remote messages
// use it so the clear is not echoed back.
func (l *CollectionLoader) Invalidate(businessID, collection string) int {
	removed := l.cache.Invalidate(businessID, collection)
	l.logger.Debug("Cache cleared",
		zap.String("business_id", businessID),
		zap.String("collection", collection),
		zap.Int("removed", removed))
	return removed
}

// ApplyRemote handles an invalidation received from another process
func (l *CollectionLoader) ApplyRemote(msg cache.InvalidationMessage) {
	l.Invalidate(msg.BusinessID, msg.Collection)
}

// CacheStats exposes the cache counters
func (l *CollectionLoader) CacheStats() cache.Stats {
	return l.cache.Stats()
}
