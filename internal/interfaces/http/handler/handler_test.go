package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/erp/procurement/internal/application/access"
	"github.com/erp/procurement/internal/application/ledger"
	"github.com/erp/procurement/internal/application/loader"
	"github.com/erp/procurement/internal/infrastructure/cache"
	"github.com/erp/procurement/internal/infrastructure/persistence"
	"github.com/erp/procurement/internal/infrastructure/persistence/storetest"
	"github.com/erp/procurement/internal/interfaces/http/dto"
	"github.com/erp/procurement/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
	middleware.SetupValidator()
}

var handlerNow = time.Date(2024, 5, 10, 14, 30, 0, 0, time.UTC)

// userHeader stands in for a verified bearer token in these tests
const userHeader = "X-Test-User"

type apiFixture struct {
	store  *persistence.MemoryStore
	faults *storetest.FaultStore
	clock  *testclock.Clock
	engine *gin.Engine
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	clk := testclock.NewClock(handlerNow)
	store := persistence.NewMemoryStore(persistence.WithMemoryClock(clk))
	faults := storetest.Wrap(store)
	relations := persistence.NewStoreRelationRepository(faults)

	resolver := access.NewResolver(relations, access.WithClock(clk))
	collections := loader.NewCollectionLoader(faults, relations,
		cache.NewCollectionCache[[]persistence.Snapshot](cache.WithClock(clk)))
	var seq atomic.Int64
	aggregator := ledger.NewAggregator(persistence.NewStoreBudgetRepository(faults), collections,
		ledger.WithClock(clk),
		ledger.WithIDGenerator(func() string { return fmt.Sprintf("exp-%03d", seq.Add(1)) }))
	invoices := ledger.NewInvoicePaymentService(persistence.NewStoreInvoiceRepository(faults), aggregator, collections, clk, nil)

	accessH := NewAccessHandler(resolver)
	collectionH := NewCollectionHandler(collections)
	ledgerH := NewLedgerHandler(aggregator, invoices)

	r := gin.New()
	r.Use(middleware.RequestID(), func(c *gin.Context) {
		if id := c.GetHeader(userHeader); id != "" {
			c.Set(middleware.JWTUserIDKey, id)
		}
		c.Next()
	})
	api := r.Group("/api/v1")
	api.GET("/me/businesses", accessH.ListBusinesses)
	biz := api.Group("/businesses/:businessId")
	biz.GET("/access", accessH.GetAccess)
	biz.GET("/collections/:collection", collectionH.GetCollection)
	guarded := biz.Group("", middleware.RequireBusinessAccess(resolver))
	guarded.POST("/relations/reconcile", accessH.Reconcile)
	guarded.DELETE("/cache", collectionH.ClearCache)
	guarded.POST("/budgets/:budgetId/payments", ledgerH.PostPayment)
	guarded.POST("/invoices/:invoiceId/paid", ledgerH.MarkInvoicePaid)
	guarded.POST("/annual-budgets/:year/recompute", ledgerH.RecomputeAnnualSummary)

	f := &apiFixture{store: store, faults: faults, clock: clk, engine: r}
	f.seed(t)
	return f
}

func (f *apiFixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	docs := map[string]persistence.Document{
		persistence.BusinessPath("biz"):           {"name": "Acme", "ownerId": "owner"},
		persistence.MembershipPath("biz", "clerk"): {"userId": "clerk", "role": "officer", "email": "clerk@acme.test"},
		persistence.BudgetPath("biz", "it"):       {"category": "IT", "year": 2024, "amount": 500, "spent": 200},
		persistence.BudgetPath("biz", "office"):   {"category": "Office", "year": 2024, "amount": 1000, "spent": 0},
	}
	for path, doc := range docs {
		require.NoError(t, f.store.Set(ctx, path, doc))
	}
}

func (f *apiFixture) do(t *testing.T, method, path, user, body string) (*httptest.ResponseRecorder, dto.Response) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if user != "" {
		req.Header.Set(userHeader, user)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w, resp
}

// decode re-reads the response data into out
func decode(t *testing.T, resp dto.Response, out any) {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func (f *apiFixture) spent(t *testing.T, budgetID string) float64 {
	t.Helper()
	snap, err := f.store.Get(context.Background(), persistence.BudgetPath("biz", budgetID))
	require.NoError(t, err)
	spent, _ := snap.Data["spent"].(float64)
	return spent
}
