package scheduler

import (
	"context"
	"fmt"

	"github.com/erp/procurement/internal/application/access"
	"github.com/erp/procurement/internal/domain/budget"
	"github.com/juju/clock"
)

// RelationReconciler heals the relations of one business
type RelationReconciler interface {
	ReconcileBusiness(ctx context.Context, businessID string) (access.ReconcileReport, error)
}

// SummaryRecomputer rebuilds one business's annual summary
type SummaryRecomputer interface {
	RecomputeAnnualSummary(ctx context.Context, businessID string, year int) (budget.AnnualSummary, error)
}

// MaintenanceExecutor dispatches jobs to the resolver and the aggregator
type MaintenanceExecutor struct {
	relations RelationReconciler
	summaries SummaryRecomputer
	clock     clock.Clock
}

// NewMaintenanceExecutor creates an executor. Summaries are recomputed for
// the clock's current year.
func NewMaintenanceExecutor(relations RelationReconciler, summaries SummaryRecomputer, clk clock.Clock) *MaintenanceExecutor {
	if clk == nil {
		clk = clock.WallClock
	}
	return &MaintenanceExecutor{relations: relations, summaries: summaries, clock: clk}
}

// Execute runs the job
func (e *MaintenanceExecutor) Execute(ctx context.Context, job *Job) error {
	switch job.Kind {
	case JobReconcileRelations:
		_, err := e.relations.ReconcileBusiness(ctx, job.BusinessID)
		return err
	case JobRecomputeSummary:
		_, err := e.summaries.RecomputeAnnualSummary(ctx, job.BusinessID, e.clock.Now().Year())
		return err
	default:
		return fmt.Errorf("%w: %q", ErrInvalidJobKind, job.Kind)
	}
}
