//go:build integration

package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/erp/procurement/internal/application/access"
	"github.com/erp/procurement/internal/application/ledger"
	"github.com/erp/procurement/internal/application/loader"
	"github.com/erp/procurement/internal/infrastructure/auth"
	"github.com/erp/procurement/internal/infrastructure/cache"
	"github.com/erp/procurement/internal/infrastructure/config"
	"github.com/erp/procurement/internal/infrastructure/logger"
	"github.com/erp/procurement/internal/infrastructure/persistence"
	"github.com/erp/procurement/internal/interfaces/http/dto"
	"github.com/erp/procurement/internal/interfaces/http/handler"
	"github.com/erp/procurement/internal/interfaces/http/middleware"
	"github.com/erp/procurement/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"github.com/juju/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type apiServer struct {
	engine *gin.Engine
	jwt    *auth.JWTService
}

func newAPIServer(t *testing.T, tdb *TestDB) *apiServer {
	t.Helper()
	middleware.SetupValidator()
	log := zap.NewNop()

	store := tdb.Store()
	relations := persistence.NewStoreRelationRepository(store)
	resolver := access.NewResolver(relations, access.WithLogger(log))
	collections := loader.NewCollectionLoader(store, relations,
		cache.NewCollectionCache[[]persistence.Snapshot](cache.WithTTL(time.Minute)),
		loader.WithLogger(log))
	aggregator := ledger.NewAggregator(persistence.NewStoreBudgetRepository(store), collections,
		ledger.WithMode(ledger.ModeOptimistic))
	invoices := ledger.NewInvoicePaymentService(persistence.NewStoreInvoiceRepository(store), aggregator, collections, nil, log)

	jwtService := auth.NewJWTService(config.JWTConfig{
		Secret:                "integration-secret-with-at-least-32-chars",
		Issuer:                "procurement-core",
		AccessTokenExpiration: 15 * time.Minute,
	}, clock.WallClock)

	engine := gin.New()
	engine.Use(middleware.RequestID(), logger.Recovery(log), logger.GinMiddleware(log))
	r := router.NewRouter(engine)
	r.Use(middleware.JWTAuthMiddleware(jwtService))
	r.RegisterProcurement(router.Handlers{
		Access:      handler.NewAccessHandler(resolver),
		Collections: handler.NewCollectionHandler(collections),
		Ledger:      handler.NewLedgerHandler(aggregator, invoices),
		System:      handler.NewSystemHandler("procurement-core", "integration", clock.WallClock),
		Verifier:    resolver,
	})
	r.Setup()

	return &apiServer{engine: engine, jwt: jwtService}
}

func (s *apiServer) do(t *testing.T, method, path, user, body string) (int, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if user != "" {
		token, _, err := s.jwt.IssueAccessToken(user, user+"@acme.test")
		require.NoError(t, err)
		req.Header.Set(middleware.AuthHeaderKey, middleware.BearerPrefix+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	data, _ := resp.Data.(map[string]any)
	return w.Code, data
}

func TestAPI_OwnerPaymentFlow(t *testing.T) {
	tdb := NewSharedTestDB(t)
	seedOfficeBudget(tdb)
	srv := newAPIServer(t, tdb)

	code, _ := srv.do(t, http.MethodGet, "/api/v1/businesses/biz/access", "", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, data := srv.do(t, http.MethodGet, "/api/v1/businesses/biz/access", "owner", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, data["granted"])
	assert.Equal(t, "owner", data["evidence"])

	code, data = srv.do(t, http.MethodPost, "/api/v1/businesses/biz/budgets/office/payments", "owner",
		`{"invoice_total": 40, "invoice_number": "INV-1"}`)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "0", data["previous_spent"])
	assert.Equal(t, "40", data["new_spent"])

	code, data = srv.do(t, http.MethodGet, "/api/v1/businesses/biz/collections/expenses", "owner", "")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, data["count"])

	// the owner relation was materialized in the database
	_, err := tdb.Store().Get(t.Context(), persistence.MembershipPath("biz", "owner"))
	assert.NoError(t, err)
}

func TestAPI_StrangerIsRejected(t *testing.T) {
	tdb := NewSharedTestDB(t)
	seedOfficeBudget(tdb)
	srv := newAPIServer(t, tdb)

	code, data := srv.do(t, http.MethodGet, "/api/v1/businesses/biz/access", "stranger", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, data["granted"])

	code, _ = srv.do(t, http.MethodPost, "/api/v1/businesses/biz/budgets/office/payments", "stranger",
		`{"invoice_total": 40}`)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = srv.do(t, http.MethodGet, "/api/v1/businesses/biz/collections/expenses", "stranger", "")
	assert.Equal(t, http.StatusForbidden, code)

	b, err := persistence.NewStoreBudgetRepository(tdb.Store()).FindBudget(t.Context(), "biz", "office")
	require.NoError(t, err)
	assert.True(t, b.Spent.IsZero())
}
