package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/erp/procurement/internal/infrastructure/logger"
	"github.com/erp/procurement/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockAccessVerifier struct {
	mock.Mock
}

func (m *MockAccessVerifier) VerifyAccess(ctx context.Context, userID, businessID string) (bool, error) {
	args := m.Called(ctx, userID, businessID)
	return args.Bool(0), args.Error(1)
}

func accessEngine(verifier AccessVerifier, reached *string) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), func(c *gin.Context) {
		c.Set(JWTUserIDKey, "user-1")
		c.Next()
	})
	r.GET("/businesses/:businessId/budgets", RequireBusinessAccess(verifier), func(c *gin.Context) {
		*reached = logger.GetBusinessID(c.Request.Context())
		c.Status(http.StatusOK)
	})
	return r
}

func TestRequireBusinessAccess(t *testing.T) {
	cases := []struct {
		name    string
		granted bool
		err     error
		status  int
		code    string
	}{
		{"granted", true, nil, http.StatusOK, ""},
		{"denied", false, nil, http.StatusForbidden, dto.ErrCodeForbidden},
		{"check failed", false, errors.New("store down"), http.StatusServiceUnavailable, dto.ErrCodeStoreUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			verifier := new(MockAccessVerifier)
			verifier.On("VerifyAccess", mock.Anything, "user-1", "b1").Return(tc.granted, tc.err)
			var reached string

			w := serve(accessEngine(verifier, &reached), httptest.NewRequest(http.MethodGet, "/businesses/b1/budgets", nil))

			assert.Equal(t, tc.status, w.Code)
			verifier.AssertExpectations(t)
			if tc.code == "" {
				assert.Equal(t, "b1", reached)
				return
			}
			assert.Empty(t, reached)
			assert.Equal(t, tc.code, decodeError(t, w).Code)
		})
	}
}
