package persistence

import (
	"context"
	"fmt"

	"github.com/erp/procurement/internal/domain/budget"
	"github.com/shopspring/decimal"
)

// StoreBudgetRepository implements budget.Repository over a Store
type StoreBudgetRepository struct {
	store Store
}

// NewStoreBudgetRepository creates a new budget repository
func NewStoreBudgetRepository(store Store) *StoreBudgetRepository {
	return &StoreBudgetRepository{store: store}
}

// FindBudget reads a budget together with its store version
func (r *StoreBudgetRepository) FindBudget(ctx context.Context, businessID, budgetID string) (*budget.Budget, error) {
	if err := validateSegments(businessID, budgetID); err != nil {
		return nil, err
	}
	snap, err := r.store.Get(ctx, BudgetPath(businessID, budgetID))
	if err != nil {
		return nil, err
	}
	b := budgetFromDocument(snap)
	return &b, nil
}

// ListBudgetsForYear returns every budget whose year matches. Years are
// compared after coercion because older records store them as text, so the
// whole collection is read.
func (r *StoreBudgetRepository) ListBudgetsForYear(ctx context.Context, businessID string, year int) ([]budget.Budget, error) {
	if err := ValidateSegment(businessID); err != nil {
		return nil, err
	}
	snaps, err := r.store.Query(ctx, BudgetsCollection(businessID), Query{})
	if err != nil {
		return nil, err
	}
	out := make([]budget.Budget, 0, len(snaps))
	for i := range snaps {
		b := budgetFromDocument(&snaps[i])
		if b.Year == year {
			out = append(out, b)
		}
	}
	return out, nil
}

// UpdateSpent merges a new spent total into the budget
func (r *StoreBudgetRepository) UpdateSpent(ctx context.Context, businessID, budgetID string, spent decimal.Decimal) error {
	if err := validateSegments(businessID, budgetID); err != nil {
		return err
	}
	return r.store.Set(ctx, BudgetPath(businessID, budgetID), Document{"spent": budget.ToFloat(spent)}, WithMerge())
}

// UpdateSpentIfVersion merges a new spent total if the budget is unchanged since version
func (r *StoreBudgetRepository) UpdateSpentIfVersion(ctx context.Context, businessID, budgetID string, spent decimal.Decimal, version int64) error {
	if err := validateSegments(businessID, budgetID); err != nil {
		return err
	}
	return r.store.SetIfVersion(ctx, BudgetPath(businessID, budgetID), Document{"spent": budget.ToFloat(spent)}, version, WithMerge())
}

// AppendExpense creates an expense posting. Postings are never overwritten.
func (r *StoreBudgetRepository) AppendExpense(ctx context.Context, businessID string, e budget.Expense) error {
	if err := validateSegments(businessID, e.ID); err != nil {
		return err
	}
	doc := Document{
		"amount":      budget.ToFloat(e.Amount),
		"date":        e.Date,
		"budgetId":    e.BudgetID,
		"year":        e.Year,
		"category":    e.Category,
		"description": e.Description,
		"invoiceId":   e.InvoiceID,
	}
	if err := r.store.SetIfVersion(ctx, ExpensePath(businessID, e.ID), doc, 0); err != nil {
		return fmt.Errorf("append expense %s: %w", e.ID, err)
	}
	return nil
}

// SaveAnnualSummary replaces the summary document for the summary's year
func (r *StoreBudgetRepository) SaveAnnualSummary(ctx context.Context, businessID string, s budget.AnnualSummary) error {
	if err := ValidateSegment(businessID); err != nil {
		return err
	}
	categories := make([]any, 0, len(s.Categories))
	for _, c := range s.Categories {
		categories = append(categories, map[string]any{
			"name":   c.Name,
			"amount": budget.ToFloat(c.Amount),
		})
	}
	doc := Document{
		"year":        s.Year,
		"totalAmount": budget.ToFloat(s.TotalAmount),
		"categories":  categories,
		"updatedAt":   s.UpdatedAt,
	}
	return r.store.Set(ctx, AnnualBudgetPath(businessID, s.Year), doc)
}

// FindAnnualSummary reads the summary document for year
func (r *StoreBudgetRepository) FindAnnualSummary(ctx context.Context, businessID string, year int) (*budget.AnnualSummary, error) {
	if err := ValidateSegment(businessID); err != nil {
		return nil, err
	}
	snap, err := r.store.Get(ctx, AnnualBudgetPath(businessID, year))
	if err != nil {
		return nil, err
	}
	s := &budget.AnnualSummary{
		Year:        snap.Data.Int("year"),
		TotalAmount: budget.Coerce(snap.Data["totalAmount"]),
		UpdatedAt:   snap.Data.Time("updatedAt"),
	}
	for _, c := range snap.Data.Maps("categories") {
		s.Categories = append(s.Categories, budget.CategoryAmount{
			Name:   c.String("name"),
			Amount: budget.Coerce(c["amount"]),
		})
	}
	return s, nil
}

func budgetFromDocument(snap *Snapshot) budget.Budget {
	return budget.Budget{
		ID:       snap.ID,
		Category: snap.Data.String("category"),
		Year:     snap.Data.Int("year"),
		Amount:   budget.Coerce(snap.Data["amount"]),
		Spent:    budget.Coerce(snap.Data["spent"]),
		Version:  snap.Version,
	}
}
