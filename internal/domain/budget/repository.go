package budget

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Repository persists budgets, expense postings and annual summaries of a
// business. FindBudget always reads the store, never a cache.
type Repository interface {
	FindBudget(ctx context.Context, businessID, budgetID string) (*Budget, error)
	ListBudgetsForYear(ctx context.Context, businessID string, year int) ([]Budget, error)

	// UpdateSpent overwrites the spent total unconditionally.
	UpdateSpent(ctx context.Context, businessID, budgetID string, spent decimal.Decimal) error
	// UpdateSpentIfVersion writes spent only if the budget is still at
	// version; otherwise it returns shared.ErrConcurrencyConflict.
	UpdateSpentIfVersion(ctx context.Context, businessID, budgetID string, spent decimal.Decimal, version int64) error

	AppendExpense(ctx context.Context, businessID string, expense Expense) error
	SaveAnnualSummary(ctx context.Context, businessID string, summary AnnualSummary) error
	FindAnnualSummary(ctx context.Context, businessID string, year int) (*AnnualSummary, error)
}

// InvoiceRepository records invoice state transitions
type InvoiceRepository interface {
	MarkPaid(ctx context.Context, businessID, invoiceID string, total decimal.Decimal, paidAt time.Time) error
}
