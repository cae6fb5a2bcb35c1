package handler

import (
	"github.com/erp/procurement/internal/application/access"
	"github.com/erp/procurement/internal/infrastructure/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AccessHandler exposes the access-consistency resolver
type AccessHandler struct {
	BaseHandler
	resolver *access.Resolver
}

// NewAccessHandler creates a new AccessHandler
func NewAccessHandler(resolver *access.Resolver) *AccessHandler {
	return &AccessHandler{resolver: resolver}
}

// GetAccess godoc
// @ID           getBusinessAccess
// @Summary      Resolve access to a business
// @Description  Decides whether the current user may open the business and repairs missing relation copies on the way
// @Tags         access
// @Produce      json
// @Param        businessId path string true "Business ID"
// @Success      200 {object} dto.Response{data=AccessResponse}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      503 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /businesses/{businessId}/access [get]
func (h *AccessHandler) GetAccess(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		h.Unauthorized(c, "Authentication required")
		return
	}
	businessID := c.Param("businessId")

	decision, err := h.resolver.Resolve(c.Request.Context(), userID, businessID)
	if err != nil {
		logger.L(c.Request.Context()).Warn("Access check failed", zap.Error(err))
		h.ServiceUnavailable(c, "Access check failed, access denied")
		return
	}

	h.Success(c, toAccessResponse(businessID, decision))
}

// Reconcile godoc
// @ID           reconcileBusinessRelations
// @Summary      Repair every relation of a business
// @Description  Recreates missing membership and link copies for the owner and all members
// @Tags         access
// @Produce      json
// @Param        businessId path string true "Business ID"
// @Success      200 {object} dto.Response{data=ReconcileResponse}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /businesses/{businessId}/relations/reconcile [post]
func (h *AccessHandler) Reconcile(c *gin.Context) {
	businessID := c.Param("businessId")

	report, err := h.resolver.ReconcileBusiness(c.Request.Context(), businessID)
	if err != nil && report.Members == 0 {
		h.HandleError(c, err, "failed to reconcile business relations")
		return
	}
	if err != nil {
		// partial failures are counted in the report
		logger.L(c.Request.Context()).Warn("Some relations could not be repaired", zap.Error(err))
	}

	h.Success(c, toReconcileResponse(businessID, report))
}

// ListBusinesses godoc
// @ID           listMyBusinesses
// @Summary      List the current user's businesses
// @Tags         access
// @Produce      json
// @Success      200 {object} dto.Response{data=[]BusinessLinkResponse}
// @Failure      503 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /me/businesses [get]
func (h *AccessHandler) ListBusinesses(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		h.Unauthorized(c, "Authentication required")
		return
	}

	links, err := h.resolver.AccessibleBusinesses(c.Request.Context(), userID)
	if err != nil {
		h.HandleError(c, err, "failed to list businesses")
		return
	}

	h.Success(c, toBusinessLinkResponses(links))
}
