package router

import (
	"github.com/erp/procurement/internal/interfaces/http/handler"
	"github.com/erp/procurement/internal/interfaces/http/middleware"
)

// Handlers bundles everything mounted under the versioned API group
type Handlers struct {
	Access      *handler.AccessHandler
	Collections *handler.CollectionHandler
	Ledger      *handler.LedgerHandler
	System      *handler.SystemHandler
	// Verifier guards business routes that write or clear shared state
	Verifier middleware.AccessVerifier
}

// ProcurementGroups builds the route groups of the procurement API.
//
// Reads under /businesses/:businessId run their own consistency check
// (the access report answers with a decision, collection loads check on a
// cache miss). Routes that write or clear shared state go through
// RequireBusinessAccess first.
func ProcurementGroups(h Handlers) []*DomainGroup {
	system := NewDomainGroup("system", "/system")
	system.GET("/info", h.System.GetSystemInfo).
		GET("/ping", h.System.Ping).
		GET("/health", h.System.Health)

	me := NewDomainGroup("me", "/me")
	me.GET("/businesses", h.Access.ListBusinesses)

	business := NewDomainGroup("business", "/businesses/:businessId")
	business.GET("/access", h.Access.GetAccess).
		GET("/collections/:collection", h.Collections.GetCollection)

	guarded := business.Group("business-guarded", "")
	guarded.Use(middleware.RequireBusinessAccess(h.Verifier))
	guarded.POST("/relations/reconcile", h.Access.Reconcile).
		DELETE("/cache", h.Collections.ClearCache).
		POST("/budgets/:budgetId/payments", h.Ledger.PostPayment).
		POST("/invoices/:invoiceId/paid", h.Ledger.MarkInvoicePaid).
		POST("/annual-budgets/:year/recompute", h.Ledger.RecomputeAnnualSummary)

	return []*DomainGroup{system, me, business}
}

// RegisterProcurement registers the procurement groups and returns the
// mounted routes, relative to the API prefix
func (r *Router) RegisterProcurement(h Handlers) []string {
	var routes []string
	for _, g := range ProcurementGroups(h) {
		r.Register(g)
		routes = append(routes, g.Routes()...)
	}
	return routes
}
