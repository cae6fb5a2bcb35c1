package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/erp/procurement/internal/domain/budget"
	"github.com/erp/procurement/internal/domain/shared"
	"github.com/erp/procurement/internal/infrastructure/logger"
	"github.com/erp/procurement/internal/infrastructure/persistence"
	"github.com/erp/procurement/internal/infrastructure/telemetry"
	"github.com/juju/clock"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentStatus is the caller-facing outcome of marking an invoice paid
type PaymentStatus string

const (
	// StatusPaid means the invoice was saved and no deduction was requested
	StatusPaid PaymentStatus = "paid"
	// StatusBudgetUpdated means the invoice was saved and the budget posted
	StatusBudgetUpdated PaymentStatus = "budget_updated"
	// StatusBudgetUpdateFailed means the invoice was saved but the posting
	// failed. The invoice stays paid.
	StatusBudgetUpdateFailed PaymentStatus = "saved_budget_update_failed"
)

// PaymentPoster posts a payment against a budget
type PaymentPoster interface {
	PostPayment(ctx context.Context, req PaymentRequest) (*PostingResult, error)
}

// MarkPaidRequest marks an invoice paid and optionally deducts it from a budget
type MarkPaidRequest struct {
	BusinessID       string
	Invoice          budget.InvoiceRef
	Total            decimal.Decimal
	DeductFromBudget bool
	BudgetID         string
}

// MarkPaidResult reports what was persisted
type MarkPaidResult struct {
	Status  PaymentStatus
	Posting *PostingResult
	// PostingErr is the posting failure behind StatusBudgetUpdateFailed
	PostingErr error
}

// InvoicePaymentService saves paid invoices and routes the deduction to the
// ledger
type InvoicePaymentService struct {
	invoices budget.InvoiceRepository
	poster   PaymentPoster
	views    CacheClearer
	clock    clock.Clock
	logger   *zap.Logger
}

// NewInvoicePaymentService creates an InvoicePaymentService
func NewInvoicePaymentService(invoices budget.InvoiceRepository, poster PaymentPoster, views CacheClearer, clk clock.Clock, log *zap.Logger) *InvoicePaymentService {
	if clk == nil {
		clk = clock.WallClock
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &InvoicePaymentService{
		invoices: invoices,
		poster:   poster,
		views:    views,
		clock:    clk,
		logger:   log.Named("invoice_payment"),
	}
}

// MarkPaid saves the invoice as paid before posting the deduction. A
// posting failure is reported in the result status, not as an error, since
// the invoice itself was saved. The dashboard is cleared either way.
func (s *InvoicePaymentService) MarkPaid(ctx context.Context, req MarkPaidRequest) (*MarkPaidResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "InvoicePaymentService", "MarkPaid",
		telemetry.WithAttribute(telemetry.SpanAttrBusinessID, req.BusinessID),
		telemetry.WithAttribute(telemetry.SpanAttrInvoiceID, req.Invoice.InvoiceID),
	)
	defer span.End()

	if req.DeductFromBudget && strings.TrimSpace(req.BudgetID) == "" {
		err := fmt.Errorf("budget id is required to deduct: %w", shared.ErrInvalidInput)
		telemetry.RecordError(span, err)
		return nil, err
	}

	log := logger.WithLogger(ctx, s.logger).With(
		zap.String("business_id", req.BusinessID),
		zap.String("invoice_id", req.Invoice.InvoiceID),
	)

	if err := s.invoices.MarkPaid(ctx, req.BusinessID, req.Invoice.InvoiceID, req.Total, s.clock.Now()); err != nil {
		telemetry.RecordError(span, err)
		log.Error("Failed to save paid invoice", zap.Error(err))
		return nil, fmt.Errorf("save invoice: %w", err)
	}

	result := &MarkPaidResult{Status: StatusPaid}
	if req.DeductFromBudget {
		posting, err := s.poster.PostPayment(ctx, PaymentRequest{
			BusinessID:   req.BusinessID,
			BudgetID:     req.BudgetID,
			InvoiceTotal: req.Total,
			Invoice:      req.Invoice,
		})
		if err != nil {
			result.Status = StatusBudgetUpdateFailed
			result.PostingErr = err
			log.Warn("Invoice saved but budget update failed",
				zap.String("budget_id", req.BudgetID),
				zap.Error(err))
		} else {
			result.Status = StatusBudgetUpdated
			result.Posting = posting
		}
	}

	if s.views != nil {
		s.views.ClearCache(ctx, req.BusinessID, persistence.CollectionDashboard)
		s.views.ClearCache(ctx, req.BusinessID, persistence.CollectionInvoices)
	}
	telemetry.SetAttributes(span, "invoice.status", string(result.Status))
	return result, nil
}
