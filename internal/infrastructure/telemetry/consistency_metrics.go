package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the meter used for the consistency and ledger instruments
const MeterName = "procurement-core"

// ConsistencyMetrics holds the instruments recorded by the access resolver,
// the collection loader and the budget ledger
type ConsistencyMetrics struct {
	accessDecisions *Counter
	repairs         *Counter
	repairFailures  *Counter
	cacheHits       *Counter
	cacheMisses     *Counter
	paymentsPosted  *Counter
	postingFailures *Counter
	postingDuration *Histogram
}

// NewConsistencyMetrics registers the instruments on meter
func NewConsistencyMetrics(meter metric.Meter) (*ConsistencyMetrics, error) {
	m := &ConsistencyMetrics{}
	var err error

	if m.accessDecisions, err = NewCounter(meter, "access_decisions_total",
		"Access decisions by evidence source", "{decision}"); err != nil {
		return nil, err
	}
	if m.repairs, err = NewCounter(meter, "relation_repairs_total",
		"Relation records written to restore a consistent pair", "{record}"); err != nil {
		return nil, err
	}
	if m.repairFailures, err = NewCounter(meter, "relation_repair_failures_total",
		"Repair attempts that failed after access was granted", "{failure}"); err != nil {
		return nil, err
	}
	if m.cacheHits, err = NewCounter(meter, "collection_cache_hits_total",
		"Collection loads served from cache", "{load}"); err != nil {
		return nil, err
	}
	if m.cacheMisses, err = NewCounter(meter, "collection_cache_misses_total",
		"Collection loads that read the store", "{load}"); err != nil {
		return nil, err
	}
	if m.paymentsPosted, err = NewCounter(meter, "ledger_payments_posted_total",
		"Payments applied to a budget", "{payment}"); err != nil {
		return nil, err
	}
	if m.postingFailures, err = NewCounter(meter, "ledger_posting_failures_total",
		"Payment postings that failed by step", "{failure}"); err != nil {
		return nil, err
	}
	if m.postingDuration, err = NewHistogram(meter, "ledger_posting_duration_seconds",
		"Time to post a payment and recompute the summary", "s", SmallDurationBuckets...); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordAccessDecision counts one resolver decision. m may be nil.
func (m *ConsistencyMetrics) RecordAccessDecision(ctx context.Context, evidence string, granted bool) {
	if m == nil {
		return
	}
	m.accessDecisions.Inc(ctx, AttrEvidence.String(evidence), AttrGranted.Bool(granted))
}

// RecordRepair counts one repaired record of the given kind
func (m *ConsistencyMetrics) RecordRepair(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.repairs.Inc(ctx, AttrRepair.String(kind))
}

// RecordRepairFailure counts one failed repair attempt
func (m *ConsistencyMetrics) RecordRepairFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.repairFailures.Inc(ctx)
}

// RecordCacheLoad counts a collection load as a hit or a miss
func (m *ConsistencyMetrics) RecordCacheLoad(ctx context.Context, collection string, hit bool) {
	if m == nil {
		return
	}
	attr := attribute.String(SpanAttrCollection, collection)
	if hit {
		m.cacheHits.Inc(ctx, attr)
		return
	}
	m.cacheMisses.Inc(ctx, attr)
}

// RecordPayment records a posting outcome. An empty failedStep means the
// payment was applied.
func (m *ConsistencyMetrics) RecordPayment(ctx context.Context, mode, failedStep string, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "applied"
	if failedStep != "" {
		outcome = "failed"
		m.postingFailures.Inc(ctx, AttrMode.String(mode), AttrStep.String(failedStep))
	} else {
		m.paymentsPosted.Inc(ctx, AttrMode.String(mode))
	}
	m.postingDuration.RecordDuration(ctx, elapsed, AttrMode.String(mode), AttrOutcome.String(outcome))
}
