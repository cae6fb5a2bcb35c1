package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/erp/procurement/internal/application/access"
	"github.com/erp/procurement/internal/application/ledger"
	"github.com/erp/procurement/internal/application/loader"
	"github.com/erp/procurement/internal/infrastructure/cache"
	"github.com/erp/procurement/internal/infrastructure/persistence"
	"github.com/erp/procurement/internal/interfaces/http/handler"
	"github.com/erp/procurement/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockVerifier struct {
	mock.Mock
}

func (m *mockVerifier) VerifyAccess(ctx context.Context, userID, businessID string) (bool, error) {
	args := m.Called(ctx, userID, businessID)
	return args.Bool(0), args.Error(1)
}

func newProcurementEngine(t *testing.T, verifier middleware.AccessVerifier) (*gin.Engine, []string) {
	t.Helper()
	middleware.SetupValidator()
	clk := testclock.NewClock(time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
	store := persistence.NewMemoryStore(persistence.WithMemoryClock(clk))
	relations := persistence.NewStoreRelationRepository(store)
	resolver := access.NewResolver(relations, access.WithClock(clk))
	collections := loader.NewCollectionLoader(store, relations,
		cache.NewCollectionCache[[]persistence.Snapshot](cache.WithClock(clk)))
	aggregator := ledger.NewAggregator(persistence.NewStoreBudgetRepository(store), collections, ledger.WithClock(clk))
	invoices := ledger.NewInvoicePaymentService(persistence.NewStoreInvoiceRepository(store), aggregator, collections, clk, nil)

	require.NoError(t, store.Set(context.Background(), persistence.BusinessPath("biz"),
		persistence.Document{"name": "Acme", "ownerId": "owner"}))

	engine := gin.New()
	engine.Use(middleware.RequestID(), func(c *gin.Context) {
		if id := c.GetHeader("X-Test-User"); id != "" {
			c.Set(middleware.JWTUserIDKey, id)
		}
		c.Next()
	})
	r := NewRouter(engine)
	routes := r.RegisterProcurement(Handlers{
		Access:      handler.NewAccessHandler(resolver),
		Collections: handler.NewCollectionHandler(collections),
		Ledger:      handler.NewLedgerHandler(aggregator, invoices),
		System:      handler.NewSystemHandler("procurement-core", "test", clk),
		Verifier:    verifier,
	})
	r.Setup()
	return engine, routes
}

func TestRegisterProcurement_Routes(t *testing.T) {
	_, routes := newProcurementEngine(t, &mockVerifier{})

	assert.ElementsMatch(t, []string{
		"GET /system/info",
		"GET /system/ping",
		"GET /system/health",
		"GET /me/businesses",
		"GET /businesses/:businessId/access",
		"GET /businesses/:businessId/collections/:collection",
		"POST /businesses/:businessId/relations/reconcile",
		"DELETE /businesses/:businessId/cache",
		"POST /businesses/:businessId/budgets/:budgetId/payments",
		"POST /businesses/:businessId/invoices/:invoiceId/paid",
		"POST /businesses/:businessId/annual-budgets/:year/recompute",
	}, routes)
}

func TestRegisterProcurement_GuardedRoutes(t *testing.T) {
	verifier := &mockVerifier{}
	verifier.On("VerifyAccess", mock.Anything, "stranger", "biz").Return(false, nil)
	verifier.On("VerifyAccess", mock.Anything, "owner", "biz").Return(true, nil)
	engine, _ := newProcurementEngine(t, verifier)

	serve := func(method, path, user string) int {
		req := httptest.NewRequest(method, path, nil)
		if user != "" {
			req.Header.Set("X-Test-User", user)
		}
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusForbidden, serve(http.MethodDelete, "/api/v1/businesses/biz/cache", "stranger"))
	assert.Equal(t, http.StatusForbidden, serve(http.MethodPost, "/api/v1/businesses/biz/annual-budgets/2024/recompute", "stranger"))
	assert.Equal(t, http.StatusOK, serve(http.MethodDelete, "/api/v1/businesses/biz/cache", "owner"))
	assert.Equal(t, http.StatusOK, serve(http.MethodDelete, "/api/v1/businesses/biz/cache?collection=budgets", "owner"))
	assert.Equal(t, http.StatusBadRequest, serve(http.MethodDelete, "/api/v1/businesses/biz/cache?collection=bad%20name", "owner"))

	// reads answer with their own decision and never consult the guard
	assert.Equal(t, http.StatusOK, serve(http.MethodGet, "/api/v1/businesses/biz/access", "stranger"))
	assert.Equal(t, http.StatusOK, serve(http.MethodGet, "/api/v1/system/ping", ""))

	verifier.AssertNumberOfCalls(t, "VerifyAccess", 5)
}
