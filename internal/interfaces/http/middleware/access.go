package middleware

import (
	"context"
	"net/http"

	"github.com/erp/procurement/internal/infrastructure/logger"
	"github.com/erp/procurement/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BusinessIDParam is the route parameter naming the business
const BusinessIDParam = "businessId"

// AccessVerifier decides whether a user may act on a business
type AccessVerifier interface {
	VerifyAccess(ctx context.Context, userID, businessID string) (bool, error)
}

// RequireBusinessAccess aborts requests whose authenticated user has no
// relation to the business in the route. A failed check is reported as
// unavailable and never lets the request through.
func RequireBusinessAccess(verifier AccessVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		businessID := c.Param(BusinessIDParam)
		userID := GetJWTUserID(c)
		requestID := GetRequestID(c)

		granted, err := verifier.VerifyAccess(c.Request.Context(), userID, businessID)
		if err != nil {
			logger.GetGinLogger(c).Warn("Access check failed",
				zap.String("business_id", businessID),
				zap.Error(err))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeStoreUnavailable, "Access check failed, access denied", requestID))
			return
		}
		if !granted {
			c.AbortWithStatusJSON(http.StatusForbidden, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeForbidden, "Access denied", requestID))
			return
		}

		c.Request = c.Request.WithContext(logger.WithBusinessID(c.Request.Context(), businessID))
		c.Next()
	}
}
