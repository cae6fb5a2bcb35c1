package handler

import (
	"github.com/erp/procurement/internal/application/loader"
	"github.com/erp/procurement/internal/infrastructure/persistence"
	"github.com/erp/procurement/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
)

// CollectionHandler serves cached business collections
type CollectionHandler struct {
	BaseHandler
	loader *loader.CollectionLoader
}

// NewCollectionHandler creates a new CollectionHandler
func NewCollectionHandler(l *loader.CollectionLoader) *CollectionHandler {
	return &CollectionHandler{loader: l}
}

// GetCollection godoc
// @ID           getBusinessCollection
// @Summary      Load a business collection
// @Description  Returns the records of a business sub-collection, served from cache when fresh
// @Tags         collections
// @Produce      json
// @Param        businessId path string true "Business ID"
// @Param        collection path string true "Collection name" example(budgets)
// @Param        order_by query string false "Field to order by"
// @Param        order_dir query string false "Order direction" Enums(asc, desc)
// @Success      200 {object} dto.Response{data=CollectionResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      503 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /businesses/{businessId}/collections/{collection} [get]
func (h *CollectionHandler) GetCollection(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		h.Unauthorized(c, "Authentication required")
		return
	}

	var query CollectionQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	businessID := c.Param("businessId")
	collection := c.Param("collection")
	snaps, err := h.loader.Load(c.Request.Context(), loader.LoadRequest{
		BusinessID: businessID,
		Collection: collection,
		OrderField: query.OrderBy,
		Direction:  persistence.ParseDirection(query.OrderDir),
		UserID:     userID,
	})
	if err != nil {
		h.HandleError(c, err, "failed to load "+collection)
		return
	}

	h.Success(c, toCollectionResponse(businessID, collection, snaps))
}

// ClearCache godoc
// @ID           clearBusinessCache
// @Summary      Drop cached collections of a business
// @Description  Drops one cached collection, or every collection of the business when none is named
// @Tags         collections
// @Produce      json
// @Param        businessId path string true "Business ID"
// @Param        collection query string false "Collection name"
// @Success      200 {object} dto.Response{data=ClearCacheResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /businesses/{businessId}/cache [delete]
func (h *CollectionHandler) ClearCache(c *gin.Context) {
	var query ClearCacheQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	removed := h.loader.ClearCache(c.Request.Context(), c.Param("businessId"), query.Collection)
	h.Success(c, ClearCacheResponse{Removed: removed})
}
