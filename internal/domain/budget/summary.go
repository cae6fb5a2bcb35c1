package budget

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// UncategorizedName labels budgets saved without a category
const UncategorizedName = "Uncategorized"

// CategoryAmount is the allocated amount for one category
type CategoryAmount struct {
	Name   string
	Amount decimal.Decimal
}

// AnnualSummary is the per-year projection of all budgets' allocated amounts.
// It tracks allocation, not spend, and is always rebuilt from scratch.
type AnnualSummary struct {
	Year        int
	TotalAmount decimal.Decimal
	Categories  []CategoryAmount
	UpdatedAt   time.Time
}

// Summarize rebuilds the summary for year from every budget of that year.
// Budgets of other years are ignored. Categories are sorted by name so the
// same input always yields the same summary.
func Summarize(year int, budgets []Budget) AnnualSummary {
	byCategory := make(map[string]decimal.Decimal)
	total := decimal.Zero
	for _, b := range budgets {
		if b.Year != year {
			continue
		}
		name := b.Category
		if name == "" {
			name = UncategorizedName
		}
		byCategory[name] = byCategory[name].Add(b.Amount)
		total = total.Add(b.Amount)
	}

	categories := make([]CategoryAmount, 0, len(byCategory))
	for name, amount := range byCategory {
		categories = append(categories, CategoryAmount{Name: name, Amount: amount})
	}
	sort.Slice(categories, func(i, j int) bool {
		return categories[i].Name < categories[j].Name
	})

	return AnnualSummary{
		Year:        year,
		TotalAmount: total,
		Categories:  categories,
	}
}

// Equal reports whether two summaries carry the same totals, ignoring UpdatedAt
func (s AnnualSummary) Equal(other AnnualSummary) bool {
	if s.Year != other.Year || !s.TotalAmount.Equal(other.TotalAmount) || len(s.Categories) != len(other.Categories) {
		return false
	}
	for i := range s.Categories {
		if s.Categories[i].Name != other.Categories[i].Name || !s.Categories[i].Amount.Equal(other.Categories[i].Amount) {
			return false
		}
	}
	return true
}
