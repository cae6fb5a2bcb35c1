package handler

import (
	"encoding/json"
	"time"

	"github.com/erp/procurement/internal/application/access"
	"github.com/erp/procurement/internal/application/ledger"
	"github.com/erp/procurement/internal/domain/budget"
	"github.com/erp/procurement/internal/domain/identity"
	"github.com/erp/procurement/internal/infrastructure/persistence"
	"github.com/shopspring/decimal"
)

// AccessResponse reports an access decision for the current user
// @Description Access decision with any relation repairs performed
type AccessResponse struct {
	BusinessID string          `json:"business_id" example:"biz-1"`
	Granted    bool            `json:"granted" example:"true"`
	Evidence   string          `json:"evidence" example:"membership" enums:"none,owner,membership,link,profile_role"`
	Role       string          `json:"role,omitempty" example:"manager"`
	Repairs    RepairsResponse `json:"repairs"`
	// RepairFailed is true when healing the relation failed; access stays granted
	RepairFailed bool `json:"repair_failed"`
}

// RepairsResponse lists the relation writes made while resolving access
type RepairsResponse struct {
	MembershipCreated  bool `json:"membership_created"`
	LinkCreated        bool `json:"link_created"`
	BusinessPointerSet bool `json:"business_pointer_set"`
}

// ReconcileResponse summarizes a batch relation repair
type ReconcileResponse struct {
	BusinessID string `json:"business_id"`
	Members    int    `json:"members"`
	Repaired   int    `json:"repaired"`
	Writes     int    `json:"writes"`
	Failed     int    `json:"failed"`
}

// BusinessLinkResponse is one business the user can open
type BusinessLinkResponse struct {
	BusinessID string `json:"business_id"`
	Role       string `json:"role"`
	CreatedAt  string `json:"created_at,omitempty" example:"2026-01-24T12:00:00Z"`
}

// CollectionQuery selects the ordering of a collection load
type CollectionQuery struct {
	OrderBy  string `form:"order_by" binding:"omitempty,max=64"`
	OrderDir string `form:"order_dir" binding:"omitempty,oneof=asc desc"`
}

// ClearCacheQuery names the collection to drop; empty drops the whole business
type ClearCacheQuery struct {
	Collection string `form:"collection" binding:"omitempty,collection_name"`
}

// RecordResponse is one stored record of a collection
type RecordResponse struct {
	ID        string         `json:"id"`
	Path      string         `json:"path"`
	Version   int64          `json:"version"`
	UpdatedAt string         `json:"updated_at,omitempty"`
	Data      map[string]any `json:"data"`
}

// CollectionResponse is the result of a collection load
type CollectionResponse struct {
	BusinessID string           `json:"business_id"`
	Collection string           `json:"collection"`
	Count      int              `json:"count"`
	Records    []RecordResponse `json:"records"`
}

// ClearCacheResponse reports how many cached collections were dropped
type ClearCacheResponse struct {
	Removed int `json:"removed"`
}

// PostPaymentRequest deducts an invoice payment from a budget
// @Description Invoice payment to post against the budget in the path
type PostPaymentRequest struct {
	InvoiceTotal        json.Number `json:"invoice_total" binding:"required,money" swaggertype:"number" example:"150.00"`
	InvoiceID           string      `json:"invoice_id" binding:"omitempty,max=128,excludes=/"`
	InvoiceNumber       string      `json:"invoice_number" binding:"max=64" example:"INV-7"`
	PurchaseOrderNumber string      `json:"purchase_order_number" binding:"max=64" example:"PO-3"`
}

// MarkPaidRequest marks the invoice in the path paid
// @Description Invoice payment, optionally deducted from a budget
type MarkPaidRequest struct {
	InvoiceTotal        json.Number `json:"invoice_total" binding:"required,money" swaggertype:"number" example:"150.00"`
	InvoiceNumber       string      `json:"invoice_number" binding:"max=64"`
	PurchaseOrderNumber string      `json:"purchase_order_number" binding:"max=64"`
	DeductFromBudget    bool        `json:"deduct_from_budget"`
	BudgetID            string      `json:"budget_id" binding:"required_if=DeductFromBudget true,max=128,excludes=/"`
}

// CategoryAmountResponse is the allocation of one category
type CategoryAmountResponse struct {
	Name   string          `json:"name" example:"IT"`
	Amount decimal.Decimal `json:"amount" swaggertype:"string" example:"500"`
}

// AnnualSummaryResponse is the per-year allocation summary
type AnnualSummaryResponse struct {
	Year        int                      `json:"year" example:"2024"`
	TotalAmount decimal.Decimal          `json:"total_amount" swaggertype:"string" example:"1500"`
	Categories  []CategoryAmountResponse `json:"categories"`
	UpdatedAt   string                   `json:"updated_at,omitempty"`
}

// ExpenseResponse is a posted expense
type ExpenseResponse struct {
	ID          string          `json:"id"`
	Amount      decimal.Decimal `json:"amount" swaggertype:"string"`
	Date        string          `json:"date"`
	BudgetID    string          `json:"budget_id"`
	Year        int             `json:"year"`
	Category    string          `json:"category"`
	Description string          `json:"description" example:"Invoice payment: INV-7 (PO PO-3)"`
	InvoiceID   string          `json:"invoice_id,omitempty"`
}

// PostingResponse describes a completed payment posting
type PostingResponse struct {
	BudgetID      string                `json:"budget_id"`
	PreviousSpent decimal.Decimal       `json:"previous_spent" swaggertype:"string" example:"200"`
	NewSpent      decimal.Decimal       `json:"new_spent" swaggertype:"string" example:"350"`
	Attempts      int                   `json:"attempts"`
	Expense       ExpenseResponse       `json:"expense"`
	Summary       AnnualSummaryResponse `json:"summary"`
}

// MarkPaidResponse reports the saved invoice and optional posting
type MarkPaidResponse struct {
	InvoiceID string           `json:"invoice_id"`
	Status    string           `json:"status" enums:"paid,budget_updated,saved_budget_update_failed"`
	Message   string           `json:"message"`
	Posting   *PostingResponse `json:"posting,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toAccessResponse(businessID string, d access.Decision) AccessResponse {
	return AccessResponse{
		BusinessID: businessID,
		Granted:    d.Granted,
		Evidence:   string(d.Evidence),
		Role:       string(d.Role),
		Repairs: RepairsResponse{
			MembershipCreated:  d.Repairs.MembershipCreated,
			LinkCreated:        d.Repairs.LinkCreated,
			BusinessPointerSet: d.Repairs.BusinessPointerSet,
		},
		RepairFailed: d.RepairErr != nil,
	}
}

func toReconcileResponse(businessID string, r access.ReconcileReport) ReconcileResponse {
	return ReconcileResponse{
		BusinessID: businessID,
		Members:    r.Members,
		Repaired:   r.Repaired,
		Writes:     r.Writes,
		Failed:     r.Failed,
	}
}

func toBusinessLinkResponses(links []identity.UserBusinessLink) []BusinessLinkResponse {
	out := make([]BusinessLinkResponse, len(links))
	for i, l := range links {
		out[i] = BusinessLinkResponse{
			BusinessID: l.BusinessID,
			Role:       string(l.Role),
			CreatedAt:  formatTime(l.CreatedAt),
		}
	}
	return out
}

func toCollectionResponse(businessID, collection string, snaps []persistence.Snapshot) CollectionResponse {
	records := make([]RecordResponse, len(snaps))
	for i, s := range snaps {
		data := map[string]any(s.Data)
		if data == nil {
			data = map[string]any{}
		}
		records[i] = RecordResponse{
			ID:        s.ID,
			Path:      s.Path,
			Version:   s.Version,
			UpdatedAt: formatTime(s.UpdatedAt),
			Data:      data,
		}
	}
	return CollectionResponse{
		BusinessID: businessID,
		Collection: collection,
		Count:      len(records),
		Records:    records,
	}
}

func toSummaryResponse(s budget.AnnualSummary) AnnualSummaryResponse {
	categories := make([]CategoryAmountResponse, len(s.Categories))
	for i, c := range s.Categories {
		categories[i] = CategoryAmountResponse{Name: c.Name, Amount: c.Amount}
	}
	return AnnualSummaryResponse{
		Year:        s.Year,
		TotalAmount: s.TotalAmount,
		Categories:  categories,
		UpdatedAt:   formatTime(s.UpdatedAt),
	}
}

func toPostingResponse(r *ledger.PostingResult) *PostingResponse {
	if r == nil {
		return nil
	}
	return &PostingResponse{
		BudgetID:      r.BudgetID,
		PreviousSpent: r.PreviousSpent,
		NewSpent:      r.NewSpent,
		Attempts:      r.Attempts,
		Expense: ExpenseResponse{
			ID:          r.Expense.ID,
			Amount:      r.Expense.Amount,
			Date:        formatTime(r.Expense.Date),
			BudgetID:    r.Expense.BudgetID,
			Year:        r.Expense.Year,
			Category:    r.Expense.Category,
			Description: r.Expense.Description,
			InvoiceID:   r.Expense.InvoiceID,
		},
		Summary: toSummaryResponse(r.Summary),
	}
}

// parseMoney reads a validated amount
func parseMoney(n json.Number) (decimal.Decimal, error) {
	return decimal.NewFromString(n.String())
}
