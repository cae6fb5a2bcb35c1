// Package ledger posts invoice payments against budgets and keeps the
// derived annual summaries in step with them.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/procurement/internal/domain/budget"
	"github.com/erp/procurement/internal/domain/shared"
	"github.com/erp/procurement/internal/infrastructure/config"
	"github.com/erp/procurement/internal/infrastructure/logger"
	"github.com/erp/procurement/internal/infrastructure/persistence"
	"github.com/erp/procurement/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/im7mortal/kmutex"
	"github.com/juju/clock"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Mode selects how concurrent postings against one budget are reconciled
type Mode string

const (
	// ModeReadModifyWrite re-reads spent and overwrites it. Two postings that
	// read before either writes lose one increment.
	ModeReadModifyWrite Mode = config.LedgerModeReadModifyWrite
	// ModeOptimistic writes spent only if the budget version is unchanged and
	// retries from a fresh read on conflict.
	ModeOptimistic Mode = config.LedgerModeOptimistic
	// ModeSerialized allows one posting per budget at a time in this process.
	ModeSerialized Mode = config.LedgerModeSerialized
)

// DefaultMaxRetries bounds optimistic retries when none is configured
const DefaultMaxRetries = 5

// Step names a stage of a payment posting
type Step string

const (
	StepValidate         Step = "validate"
	StepReadBudget       Step = "read_budget"
	StepUpdateSpent      Step = "update_spent"
	StepAppendExpense    Step = "append_expense"
	StepRecomputeSummary Step = "recompute_summary"
)

// StepError reports the posting stage that failed. Stages before Step have
// been applied and are not rolled back.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("posting payment: %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// DerivedViews lists the collections a posting makes stale
var DerivedViews = []string{
	persistence.CollectionBudgets,
	persistence.CollectionExpenses,
	persistence.CollectionAnnualBudgets,
	persistence.CollectionDashboard,
}

// CacheClearer drops cached collections of a business
type CacheClearer interface {
	ClearCache(ctx context.Context, businessID, collection string) int
}

// PaymentRequest is one invoice payment to deduct from a budget
type PaymentRequest struct {
	BusinessID   string
	BudgetID     string
	InvoiceTotal decimal.Decimal
	Invoice      budget.InvoiceRef
}

// PostingResult describes a completed posting
type PostingResult struct {
	BudgetID      string
	PreviousSpent decimal.Decimal
	NewSpent      decimal.Decimal
	Expense       budget.Expense
	Summary       budget.AnnualSummary
	// Attempts counts budget reads, more than one only after optimistic retries
	Attempts int
}

// Aggregator applies payment postings
type Aggregator struct {
	budgets    budget.Repository
	views      CacheClearer
	clock      clock.Clock
	newID      func() string
	mode       Mode
	maxRetries int
	locks      *kmutex.Kmutex
	logger     *zap.Logger
	metrics    *telemetry.ConsistencyMetrics
}

// Option configures an Aggregator
type Option func(*Aggregator)

// WithMode sets the concurrency mode
func WithMode(m Mode) Option {
	return func(a *Aggregator) {
		if m != "" {
			a.mode = m
		}
	}
}

// WithMaxRetries sets the optimistic retry budget
func WithMaxRetries(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.maxRetries = n
		}
	}
}

// WithClock sets the clock for expense dates and the summary year
func WithClock(c clock.Clock) Option {
	return func(a *Aggregator) {
		a.clock = c
	}
}

// WithIDGenerator sets how expense IDs are generated
func WithIDGenerator(fn func() string) Option {
	return func(a *Aggregator) {
		a.newID = fn
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(a *Aggregator) {
		a.logger = l
	}
}

func WithMetrics(m *telemetry.ConsistencyMetrics) Option {
	return func(a *Aggregator) {
		a.metrics = m
	}
}

// NewAggregator creates an Aggregator. views may be nil when nothing is cached.
func NewAggregator(budgets budget.Repository, views CacheClearer, opts ...Option) *Aggregator {
	a := &Aggregator{
		budgets:    budgets,
		views:      views,
		clock:      clock.WallClock,
		newID:      uuid.NewString,
		mode:       ModeReadModifyWrite,
		maxRetries: DefaultMaxRetries,
		locks:      kmutex.New(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.Named("ledger")
	return a
}

// Mode returns the configured concurrency mode
func (a *Aggregator) Mode() Mode {
	return a.mode
}

// PostPayment deducts an invoice payment from a budget, appends the expense,
// rebuilds the annual summary of the current year and invalidates the
// derived views. Every failing step is returned as a *StepError.
func (a *Aggregator) PostPayment(ctx context.Context, req PaymentRequest) (*PostingResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "LedgerAggregator", "PostPayment",
		telemetry.WithAttribute(telemetry.SpanAttrBusinessID, req.BusinessID),
		telemetry.WithAttribute(telemetry.SpanAttrBudgetID, req.BudgetID),
		telemetry.WithAttribute(telemetry.SpanAttrInvoiceID, req.Invoice.InvoiceID),
		telemetry.WithAttribute(telemetry.SpanAttrAmount, req.InvoiceTotal.String()),
	)
	defer span.End()

	start := a.clock.Now()
	log := logger.WithLogger(ctx, a.logger).With(
		zap.String("business_id", req.BusinessID),
		zap.String("budget_id", req.BudgetID),
		zap.String("invoice_id", req.Invoice.InvoiceID),
		zap.String("mode", string(a.mode)),
	)

	result, err := a.post(ctx, req)
	elapsed := a.clock.Now().Sub(start)
	if err != nil {
		var stepErr *StepError
		failed := "unknown"
		if errors.As(err, &stepErr) {
			failed = string(stepErr.Step)
		}
		telemetry.RecordError(span, err)
		a.metrics.RecordPayment(ctx, string(a.mode), failed, elapsed)
		log.Error("Payment posting failed", zap.String("step", failed), zap.Error(err))
		return nil, err
	}

	telemetry.SetAttributes(span, "ledger.attempts", result.Attempts, "ledger.expense_id", result.Expense.ID)
	a.metrics.RecordPayment(ctx, string(a.mode), "", elapsed)
	log.Info("Payment posted",
		zap.String("amount", req.InvoiceTotal.String()),
		zap.String("spent", result.NewSpent.String()),
		zap.String("expense_id", result.Expense.ID),
		zap.Int("attempts", result.Attempts))
	return result, nil
}

func (a *Aggregator) post(ctx context.Context, req PaymentRequest) (*PostingResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, &StepError{Step: StepValidate, Err: err}
	}

	b, result, err := a.updateSpent(ctx, req)
	if err != nil {
		return nil, err
	}

	now := a.clock.Now()
	result.Expense = budget.NewExpense(a.newID(), b, req.InvoiceTotal, req.Invoice, now)
	if err := a.budgets.AppendExpense(ctx, req.BusinessID, result.Expense); err != nil {
		return nil, &StepError{Step: StepAppendExpense, Err: err}
	}

	summary, err := a.RecomputeAnnualSummary(ctx, req.BusinessID, now.Year())
	if err != nil {
		return nil, &StepError{Step: StepRecomputeSummary, Err: err}
	}
	result.Summary = summary

	a.invalidate(ctx, req.BusinessID)
	return result, nil
}

func validateRequest(req PaymentRequest) error {
	if err := persistence.ValidateSegment(req.BusinessID); err != nil {
		return err
	}
	if err := persistence.ValidateSegment(req.BudgetID); err != nil {
		return err
	}
	if !req.InvoiceTotal.IsPositive() {
		return fmt.Errorf("invoice total %s: %w", req.InvoiceTotal, shared.ErrInvalidAmount)
	}
	return nil
}

// updateSpent applies the configured concurrency mode and returns the budget
// as read before the successful write
func (a *Aggregator) updateSpent(ctx context.Context, req PaymentRequest) (*budget.Budget, *PostingResult, error) {
	switch a.mode {
	case ModeOptimistic:
		return a.updateSpentOptimistic(ctx, req)
	case ModeSerialized:
		key := req.BusinessID + "/" + req.BudgetID
		a.locks.Lock(key)
		defer a.locks.Unlock(key)
		return a.updateSpentOnce(ctx, req)
	default:
		return a.updateSpentOnce(ctx, req)
	}
}

func (a *Aggregator) updateSpentOnce(ctx context.Context, req PaymentRequest) (*budget.Budget, *PostingResult, error) {
	b, newSpent, err := a.readAndPost(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	if err := a.budgets.UpdateSpent(ctx, req.BusinessID, req.BudgetID, newSpent); err != nil {
		return nil, nil, &StepError{Step: StepUpdateSpent, Err: err}
	}
	return b, &PostingResult{BudgetID: b.ID, PreviousSpent: b.Spent, NewSpent: newSpent, Attempts: 1}, nil
}

func (a *Aggregator) updateSpentOptimistic(ctx context.Context, req PaymentRequest) (*budget.Budget, *PostingResult, error) {
	var lastErr error
	for attempt := 1; attempt <= a.maxRetries+1; attempt++ {
		b, newSpent, err := a.readAndPost(ctx, req)
		if err != nil {
			return nil, nil, err
		}
		err = a.budgets.UpdateSpentIfVersion(ctx, req.BusinessID, req.BudgetID, newSpent, b.Version)
		if err == nil {
			return b, &PostingResult{BudgetID: b.ID, PreviousSpent: b.Spent, NewSpent: newSpent, Attempts: attempt}, nil
		}
		if !errors.Is(err, shared.ErrConcurrencyConflict) {
			return nil, nil, &StepError{Step: StepUpdateSpent, Err: err}
		}
		lastErr = err
		a.logger.Debug("Budget changed during posting, retrying",
			zap.String("budget_id", req.BudgetID),
			zap.Int("attempt", attempt))
		if err := ctx.Err(); err != nil {
			return nil, nil, &StepError{Step: StepUpdateSpent, Err: err}
		}
	}
	return nil, nil, &StepError{
		Step: StepUpdateSpent,
		Err:  fmt.Errorf("gave up after %d attempts: %w", a.maxRetries+1, lastErr),
	}
}

// readAndPost re-reads the budget from the store and computes the new spent
func (a *Aggregator) readAndPost(ctx context.Context, req PaymentRequest) (*budget.Budget, decimal.Decimal, error) {
	b, err := a.budgets.FindBudget(ctx, req.BusinessID, req.BudgetID)
	if err != nil {
		return nil, decimal.Zero, &StepError{Step: StepReadBudget, Err: err}
	}
	newSpent, err := b.Post(req.InvoiceTotal)
	if err != nil {
		return nil, decimal.Zero, &StepError{Step: StepValidate, Err: err}
	}
	return b, newSpent, nil
}

// RecomputeAnnualSummary rebuilds and saves the summary of year from every
// budget of that year. A stored summary with the same totals and categories
// is left untouched, so repeated runs over unchanged budgets store nothing.
func (a *Aggregator) RecomputeAnnualSummary(ctx context.Context, businessID string, year int) (budget.AnnualSummary, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "LedgerAggregator", "RecomputeAnnualSummary",
		telemetry.WithAttribute(telemetry.SpanAttrBusinessID, businessID),
		telemetry.WithAttribute("ledger.year", year),
	)
	defer span.End()

	budgets, err := a.budgets.ListBudgetsForYear(ctx, businessID, year)
	if err != nil {
		telemetry.RecordError(span, err)
		return budget.AnnualSummary{}, fmt.Errorf("list budgets for %d: %w", year, err)
	}
	summary := budget.Summarize(year, budgets)
	if existing, err := a.budgets.FindAnnualSummary(ctx, businessID, year); err == nil && existing.Equal(summary) {
		telemetry.SetAttributes(span, "ledger.budgets", len(budgets), "ledger.unchanged", true)
		return *existing, nil
	}
	summary.UpdatedAt = a.clock.Now()
	if err := a.budgets.SaveAnnualSummary(ctx, businessID, summary); err != nil {
		telemetry.RecordError(span, err)
		return budget.AnnualSummary{}, fmt.Errorf("save summary for %d: %w", year, err)
	}
	telemetry.SetAttributes(span, "ledger.budgets", len(budgets), "ledger.total", summary.TotalAmount.String())
	return summary, nil
}

func (a *Aggregator) invalidate(ctx context.Context, businessID string) {
	if a.views == nil {
		return
	}
	for _, coll := range DerivedViews {
		a.views.ClearCache(ctx, businessID, coll)
	}
}
