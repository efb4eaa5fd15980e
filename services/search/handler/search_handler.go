package handler

import (
	"context"
	"net/http"

	"auction-lifecycle/internal/models"
	"auction-lifecycle/services/helpers"
	"auction-lifecycle/utils"

	"github.com/gin-gonic/gin"
)

//go:generate mockgen -source=search_handler.go -destination=mock_search_service.go -package=handler

type SearchServiceInterface interface {
	Get(ctx context.Context, id string) (models.ReplicaItem, error)
	Search(ctx context.Context, params models.SearchParams) (models.SearchResult, error)
}

type SearchHandler struct {
	service SearchServiceInterface
}

func NewSearchHandler(service SearchServiceInterface) *SearchHandler {
	return &SearchHandler{service: service}
}

// SearchItemsHandler handles GET /api/search
func (h *SearchHandler) SearchItemsHandler(c *gin.Context) {
	var req helpers.SearchRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		helpers.HandleBindError(c, "SearchItemsHandler", err)
		return
	}

	res, err := h.service.Search(c.Request.Context(), req.Params())
	if err != nil {
		helpers.RespondError(c, "SearchItemsHandler", err, map[string]any{"term": req.SearchTerm})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewSearchResponse(res), "search completed successfully")
	utils.Debug("SearchItemsHandler: search completed", map[string]any{
		"term":       req.SearchTerm,
		"filter_by":  req.FilterBy,
		"order_by":   req.OrderBy,
		"total":      res.Total,
		"page_count": res.PageCount,
	})
}

// GetItemHandler handles GET /api/search/items/:id
func (h *SearchHandler) GetItemHandler(c *gin.Context) {
	id := c.Param("id")
	item, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		helpers.RespondError(c, "GetItemHandler", err, map[string]any{"auction_id": id})
		return
	}
	utils.JSONResponse(c, http.StatusOK, helpers.NewItemResponse(item), "item retrieved successfully")
}
