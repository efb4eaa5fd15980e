package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"auction-lifecycle/internal/biddingerrors"
	"auction-lifecycle/internal/lifecycle"
	"auction-lifecycle/internal/models"
	"auction-lifecycle/services/helpers"
	"auction-lifecycle/utils"

	"github.com/gin-gonic/gin"
)

//go:generate mockgen -source=auction_handler.go -destination=mock_auction_service.go -package=handler

type AuctionServiceInterface interface {
	CreateAuction(ctx context.Context, in lifecycle.CreateAuctionInput) (models.Auction, error)
	UpdateAuction(ctx context.Context, id, seller string, patch models.ItemPatch) (models.Auction, error)
	DeleteAuction(ctx context.Context, id, seller string) error
	GetAuction(ctx context.Context, id string) (models.Auction, error)
	ListAuctions(ctx context.Context, updatedAfter time.Time) ([]models.Auction, error)
}

type AuctionHandler struct {
	service AuctionServiceInterface
}

func NewAuctionHandler(service AuctionServiceInterface) *AuctionHandler {
	return &AuctionHandler{service: service}
}

// CreateAuctionHandler handles POST /api/auctions
func (h *AuctionHandler) CreateAuctionHandler(c *gin.Context) {
	seller, ok := helpers.CurrentUser(c, "CreateAuctionHandler")
	if !ok {
		return
	}
	var req helpers.CreateAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "CreateAuctionHandler", err)
		return
	}

	auction, err := h.service.CreateAuction(c.Request.Context(), lifecycle.CreateAuctionInput{
		Seller:       seller,
		ReservePrice: req.ReservePrice,
		AuctionEnd:   req.AuctionEnd,
		Item: models.Item{
			Make:     req.Make,
			Model:    req.Model,
			Color:    req.Color,
			Mileage:  req.Mileage,
			Year:     req.Year,
			ImageURL: req.ImageURL,
		},
	})
	if err != nil {
		helpers.RespondError(c, "CreateAuctionHandler", err, map[string]any{"seller": seller})
		return
	}

	c.Header("Location", "/api/auctions/"+auction.ID)
	utils.JSONResponse(c, http.StatusCreated, helpers.NewAuctionResponse(auction), "auction created successfully")
	helpers.LogSuccess("CreateAuctionHandler", "auction created successfully", map[string]any{
		"auction_id": auction.ID,
		"seller":     seller,
	})
}

// UpdateAuctionHandler handles PUT /api/auctions/:id
func (h *AuctionHandler) UpdateAuctionHandler(c *gin.Context) {
	seller, ok := helpers.CurrentUser(c, "UpdateAuctionHandler")
	if !ok {
		return
	}
	var req helpers.UpdateAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "UpdateAuctionHandler", err)
		return
	}

	id := c.Param("id")
	auction, err := h.service.UpdateAuction(c.Request.Context(), id, seller, req.Patch())
	if err != nil {
		helpers.RespondError(c, "UpdateAuctionHandler", err, map[string]any{"auction_id": id, "seller": seller})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewAuctionResponse(auction), "auction updated successfully")
	helpers.LogSuccess("UpdateAuctionHandler", "auction updated successfully", map[string]any{
		"auction_id": id,
		"version":    auction.Version,
	})
}

// DeleteAuctionHandler handles DELETE /api/auctions/:id
func (h *AuctionHandler) DeleteAuctionHandler(c *gin.Context) {
	seller, ok := helpers.CurrentUser(c, "DeleteAuctionHandler")
	if !ok {
		return
	}

	id := c.Param("id")
	if err := h.service.DeleteAuction(c.Request.Context(), id, seller); err != nil {
		helpers.RespondError(c, "DeleteAuctionHandler", err, map[string]any{"auction_id": id, "seller": seller})
		return
	}

	utils.JSONResponse(c, http.StatusOK, gin.H{"id": id}, "auction deleted successfully")
	helpers.LogSuccess("DeleteAuctionHandler", "auction deleted successfully", map[string]any{"auction_id": id})
}

// GetAuctionHandler handles GET /api/auctions/:id
func (h *AuctionHandler) GetAuctionHandler(c *gin.Context) {
	id := c.Param("id")
	auction, err := h.service.GetAuction(c.Request.Context(), id)
	if err != nil {
		helpers.RespondError(c, "GetAuctionHandler", err, map[string]any{"auction_id": id})
		return
	}
	utils.JSONResponse(c, http.StatusOK, helpers.NewAuctionResponse(auction), "auction retrieved successfully")
}

// ListAuctionsHandler handles GET /api/auctions?date=<RFC3339>
func (h *AuctionHandler) ListAuctionsHandler(c *gin.Context) {
	var updatedAfter time.Time
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			helpers.HandleBindError(c, "ListAuctionsHandler", errors.Join(biddingerrors.ErrInvalidAuction, err))
			return
		}
		updatedAfter = parsed
	}

	auctions, err := h.service.ListAuctions(c.Request.Context(), updatedAfter)
	if err != nil {
		helpers.RespondError(c, "ListAuctionsHandler", err, nil)
		return
	}

	resp := make([]helpers.AuctionResponse, 0, len(auctions))
	for _, a := range auctions {
		resp = append(resp, helpers.NewAuctionResponse(a))
	}
	utils.JSONResponse(c, http.StatusOK, resp, "auctions retrieved successfully")
	helpers.LogSuccess("ListAuctionsHandler", "auctions retrieved successfully", map[string]any{"count": len(resp)})
}
