package budget

import (
	"fmt"
	"strings"
	"time"

	"github.com/erp/procurement/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Budget is a planned spending allocation for a category and year. Spent only
// grows, and only through expense postings against this budget.
type Budget struct {
	ID       string
	Category string
	Year     int
	Amount   decimal.Decimal
	Spent    decimal.Decimal
	// Version is the store revision the budget was read at
	Version int64
}

// Remaining returns the unspent part of the allocation
func (b *Budget) Remaining() decimal.Decimal {
	return b.Amount.Sub(b.Spent)
}

// Post returns the spent total after deducting total from the budget.
// Non-positive totals are rejected since spent never decreases.
func (b *Budget) Post(total decimal.Decimal) (decimal.Decimal, error) {
	if !total.IsPositive() {
		return decimal.Zero, shared.ErrInvalidAmount
	}
	return b.Spent.Add(total), nil
}

// Expense is an immutable ledger posting representing one deduction
type Expense struct {
	ID          string
	Amount      decimal.Decimal
	Date        time.Time
	BudgetID    string
	Year        int
	Category    string
	Description string
	InvoiceID   string
}

// InvoiceRef identifies the invoice a payment comes from
type InvoiceRef struct {
	InvoiceID           string
	InvoiceNumber       string
	PurchaseOrderNumber string
}

// Describe builds the expense description for an invoice payment
func (r InvoiceRef) Describe() string {
	label := r.InvoiceNumber
	if label == "" {
		label = r.InvoiceID
	}
	var sb strings.Builder
	sb.WriteString("Invoice payment")
	if label != "" {
		fmt.Fprintf(&sb, ": %s", label)
	}
	if po := strings.TrimSpace(r.PurchaseOrderNumber); po != "" {
		fmt.Fprintf(&sb, " (PO %s)", po)
	}
	return sb.String()
}

// NewExpense creates the expense posted for an invoice payment
func NewExpense(id string, b *Budget, total decimal.Decimal, ref InvoiceRef, now time.Time) Expense {
	return Expense{
		ID:          id,
		Amount:      total,
		Date:        now,
		BudgetID:    b.ID,
		Year:        now.Year(),
		Category:    b.Category,
		Description: ref.Describe(),
		InvoiceID:   ref.InvoiceID,
	}
}
