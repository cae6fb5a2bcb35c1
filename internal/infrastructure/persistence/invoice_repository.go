package persistence

import (
	"context"
	"time"

	"github.com/erp/procurement/internal/domain/budget"
	"github.com/shopspring/decimal"
)

// InvoiceStatusPaid is the status recorded on a paid invoice
const InvoiceStatusPaid = "paid"

// StoreInvoiceRepository implements budget.InvoiceRepository over a Store
type StoreInvoiceRepository struct {
	store Store
}

// NewStoreInvoiceRepository creates a new invoice repository
func NewStoreInvoiceRepository(store Store) *StoreInvoiceRepository {
	return &StoreInvoiceRepository{store: store}
}

// MarkPaid merges the paid status into the invoice, creating it if absent
func (r *StoreInvoiceRepository) MarkPaid(ctx context.Context, businessID, invoiceID string, total decimal.Decimal, paidAt time.Time) error {
	if err := validateSegments(businessID, invoiceID); err != nil {
		return err
	}
	doc := Document{
		"status": InvoiceStatusPaid,
		"total":  budget.ToFloat(total),
		"paidAt": paidAt,
	}
	return r.store.Set(ctx, InvoicePath(businessID, invoiceID), doc, WithMerge())
}
