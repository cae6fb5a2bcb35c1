package handler

import (
	"strconv"
	"strings"

	"github.com/erp/procurement/internal/application/ledger"
	"github.com/erp/procurement/internal/domain/budget"
	"github.com/erp/procurement/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
)

// LedgerHandler posts invoice payments against budgets
type LedgerHandler struct {
	BaseHandler
	aggregator *ledger.Aggregator
	invoices   *ledger.InvoicePaymentService
}

// NewLedgerHandler creates a new LedgerHandler
func NewLedgerHandler(aggregator *ledger.Aggregator, invoices *ledger.InvoicePaymentService) *LedgerHandler {
	return &LedgerHandler{aggregator: aggregator, invoices: invoices}
}

// PostPayment godoc
// @ID           postBudgetPayment
// @Summary      Deduct an invoice payment from a budget
// @Description  Raises the budget's spent total, appends an expense and rebuilds the annual summary
// @Tags         ledger
// @Accept       json
// @Produce      json
// @Param        businessId path string true "Business ID"
// @Param        budgetId path string true "Budget ID"
// @Param        request body PostPaymentRequest true "Payment"
// @Success      201 {object} dto.Response{data=PostingResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      409 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      422 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /businesses/{businessId}/budgets/{budgetId}/payments [post]
func (h *LedgerHandler) PostPayment(c *gin.Context) {
	var req PostPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	total, err := parseMoney(req.InvoiceTotal)
	if err != nil {
		h.BadRequest(c, "Invalid invoice total")
		return
	}

	result, err := h.aggregator.PostPayment(c.Request.Context(), ledger.PaymentRequest{
		BusinessID:   c.Param("businessId"),
		BudgetID:     c.Param("budgetId"),
		InvoiceTotal: total,
		Invoice: budget.InvoiceRef{
			InvoiceID:           req.InvoiceID,
			InvoiceNumber:       req.InvoiceNumber,
			PurchaseOrderNumber: req.PurchaseOrderNumber,
		},
	})
	if err != nil {
		h.HandleError(c, err, "failed to post payment")
		return
	}

	h.Created(c, toPostingResponse(result))
}

// MarkInvoicePaid godoc
// @ID           markInvoicePaid
// @Summary      Mark an invoice paid
// @Description  Saves the invoice as paid, then optionally deducts it from a budget. A failed deduction leaves the invoice paid.
// @Tags         ledger
// @Accept       json
// @Produce      json
// @Param        businessId path string true "Business ID"
// @Param        invoiceId path string true "Invoice ID"
// @Param        request body MarkPaidRequest true "Payment"
// @Success      200 {object} dto.Response{data=MarkPaidResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      503 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /businesses/{businessId}/invoices/{invoiceId}/paid [post]
func (h *LedgerHandler) MarkInvoicePaid(c *gin.Context) {
	var req MarkPaidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	total, err := parseMoney(req.InvoiceTotal)
	if err != nil {
		h.BadRequest(c, "Invalid invoice total")
		return
	}

	invoiceID := c.Param("invoiceId")
	result, err := h.invoices.MarkPaid(c.Request.Context(), ledger.MarkPaidRequest{
		BusinessID: c.Param("businessId"),
		Invoice: budget.InvoiceRef{
			InvoiceID:           invoiceID,
			InvoiceNumber:       req.InvoiceNumber,
			PurchaseOrderNumber: req.PurchaseOrderNumber,
		},
		Total:            total,
		DeductFromBudget: req.DeductFromBudget,
		BudgetID:         strings.TrimSpace(req.BudgetID),
	})
	if err != nil {
		h.HandleError(c, err, "failed to save invoice")
		return
	}

	h.Success(c, MarkPaidResponse{
		InvoiceID: invoiceID,
		Status:    string(result.Status),
		Message:   markPaidMessage(result.Status),
		Posting:   toPostingResponse(result.Posting),
	})
}

func markPaidMessage(status ledger.PaymentStatus) string {
	switch status {
	case ledger.StatusBudgetUpdated:
		return "Invoice marked paid and deducted from budget"
	case ledger.StatusBudgetUpdateFailed:
		return "Invoice saved but budget update failed"
	default:
		return "Invoice marked paid"
	}
}

// RecomputeAnnualSummary godoc
// @ID           recomputeAnnualSummary
// @Summary      Rebuild the annual budget summary
// @Tags         ledger
// @Produce      json
// @Param        businessId path string true "Business ID"
// @Param        year path int true "Budget year" example(2024)
// @Success      200 {object} dto.Response{data=AnnualSummaryResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /businesses/{businessId}/annual-budgets/{year}/recompute [post]
func (h *LedgerHandler) RecomputeAnnualSummary(c *gin.Context) {
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil || year < 1 || year > 9999 {
		h.BadRequest(c, "Invalid year")
		return
	}

	summary, err := h.aggregator.RecomputeAnnualSummary(c.Request.Context(), c.Param("businessId"), year)
	if err != nil {
		h.HandleError(c, err, "failed to recompute annual summary")
		return
	}

	h.Success(c, toSummaryResponse(summary))
}
