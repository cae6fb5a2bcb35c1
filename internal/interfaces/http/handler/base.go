package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/erp/procurement/internal/application/ledger"
	"github.com/erp/procurement/internal/domain/shared"
	"github.com/erp/procurement/internal/infrastructure/logger"
	"github.com/erp/procurement/internal/interfaces/http/dto"
	"github.com/erp/procurement/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// getRequestID returns the ID assigned by the RequestID middleware
func getRequestID(c *gin.Context) string {
	if id := middleware.GetRequestID(c); id != "" {
		return id
	}
	return c.GetHeader(middleware.RequestIDHeader)
}

// getUserID returns the authenticated user, or false when the request
// carries no verified identity
func getUserID(c *gin.Context) (string, bool) {
	userID := middleware.GetJWTUserID(c)
	return userID, userID != ""
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// Unauthorized sends a 401 unauthorized response
func (h *BaseHandler) Unauthorized(c *gin.Context, message string) {
	h.Error(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, message)
}

// Forbidden sends a 403 forbidden response
func (h *BaseHandler) Forbidden(c *gin.Context, message string) {
	h.Error(c, http.StatusForbidden, dto.ErrCodeForbidden, message)
}

// ServiceUnavailable sends a 503 response for store failures
func (h *BaseHandler) ServiceUnavailable(c *gin.Context, message string) {
	h.Error(c, http.StatusServiceUnavailable, dto.ErrCodeStoreUnavailable, message)
}

// InternalError sends a 500 internal server error response
func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, message)
}

// HandleError converts service errors to HTTP responses. Permission and
// store failures are matched first since they wrap other errors. fallback
// is the message used for failures without a domain code.
func (h *BaseHandler) HandleError(c *gin.Context, err error, fallback string) {
	if err == nil {
		return
	}
	_ = c.Error(err)

	var stepErr *ledger.StepError
	if errors.As(err, &stepErr) {
		logger.L(c.Request.Context()).Warn("Posting step failed",
			zap.String("step", string(stepErr.Step)), zap.Error(stepErr.Err))
	}

	switch {
	case errors.Is(err, shared.ErrPermissionDenied):
		h.Forbidden(c, "Access denied")
		return
	case errors.Is(err, shared.ErrTransientStore):
		h.ServiceUnavailable(c, fallback)
		return
	}

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		code := dto.NormalizeErrorCode(domainErr.Code)
		message := domainErr.Message
		if stepErr != nil {
			message = fmt.Sprintf("Payment posting failed at %s: %s", stepErr.Step, domainErr.Message)
		}
		h.Error(c, dto.GetHTTPStatus(code), code, message)
		return
	}

	logger.L(c.Request.Context()).Error(fallback, zap.Error(err))
	h.InternalError(c, fallback)
}
