package server

import (
	"context"
	"net/http"
	"time"

	"auction-lifecycle/internal/bus"
	auctionhandler "auction-lifecycle/services/auction/handler"
	biddinghandler "auction-lifecycle/services/bidding/handler"
	"auction-lifecycle/services/helpers"
	searchhandler "auction-lifecycle/services/search/handler"
	"auction-lifecycle/utils"

	"github.com/gin-gonic/gin"
)

// ParkedLister exposes dead-lettered bus messages
type ParkedLister interface {
	Parked(ctx context.Context) ([]bus.DeadLetter, error)
}

// Services bundles what the routes call into
type Services struct {
	Auctions auctionhandler.AuctionServiceInterface
	Bidding  biddinghandler.BiddingServiceInterface
	Search   searchhandler.SearchServiceInterface
	Parked   ParkedLister
}

// SetupRouter configures all Gin routes for the application
func SetupRouter(svc Services) *gin.Engine {
	router := gin.New() // New router without default middleware for full control over middleware and logging

	router.Use(gin.Recovery())          // recover from panics
	router.Use(RequestLoggerMiddleware) // custom request logging

	auctionHandler := auctionhandler.NewAuctionHandler(svc.Auctions)
	biddingHandler := biddinghandler.NewBiddingHandler(svc.Bidding)
	searchHandler := searchhandler.NewSearchHandler(svc.Search)

	router.GET("/healthz", func(c *gin.Context) {
		utils.JSONResponse(c, http.StatusOK, gin.H{"time": time.Now().UTC().Format(time.RFC3339)}, "ok")
	})

	api := router.Group("/api")

	auctions := api.Group("/auctions")
	{
		auctions.GET("", auctionHandler.ListAuctionsHandler)
		auctions.POST("", auctionHandler.CreateAuctionHandler)
		auctions.GET("/:id", auctionHandler.GetAuctionHandler)
		auctions.PUT("/:id", auctionHandler.UpdateAuctionHandler)
		auctions.DELETE("/:id", auctionHandler.DeleteAuctionHandler)
		auctions.GET("/:id/bids", biddingHandler.GetBidsByAuctionHandler)
		auctions.GET("/:id/winning", biddingHandler.GetWinningBidHandler)
	}

	bids := api.Group("/bids")
	{
		bids.POST("", biddingHandler.RecordBidHandler)
	}

	search := api.Group("/search")
	{
		search.GET("", searchHandler.SearchItemsHandler)
		search.GET("/items/:id", searchHandler.GetItemHandler)
	}

	if svc.Parked != nil {
		router.GET("/admin/parked", parkedHandler(svc.Parked))
	}

	return router
}

// parkedHandler handles GET /admin/parked
func parkedHandler(lister ParkedLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		parked, err := lister.Parked(c.Request.Context())
		if err != nil {
			helpers.RespondError(c, "ParkedHandler", err, nil)
			return
		}
		if parked == nil {
			parked = []bus.DeadLetter{}
		}
		utils.JSONResponse(c, http.StatusOK, parked, "parked messages retrieved successfully")
	}
}
