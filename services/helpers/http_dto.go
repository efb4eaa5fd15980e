package helpers

import (
	"time"

	"auction-lifecycle/internal/models"
)

// Request/Response DTOs
type CreateAuctionRequest struct {
	ReservePrice int64     `json:"reserve_price" binding:"gte=0"`
	AuctionEnd   time.Time `json:"auction_end" binding:"required"`
	Make         string    `json:"make" binding:"required"`
	Model        string    `json:"model" binding:"required"`
	Color        string    `json:"color" binding:"required"`
	Mileage      int       `json:"mileage" binding:"gte=0"`
	Year         int       `json:"year" binding:"required"`
	ImageURL     string    `json:"image_url"`
}

// UpdateAuctionRequest carries only the fields being changed
type UpdateAuctionRequest struct {
	Make    models.Optional[string] `json:"make"`
	Model   models.Optional[string] `json:"model"`
	Color   models.Optional[string] `json:"color"`
	Mileage models.Optional[int]    `json:"mileage"`
	Year    models.Optional[int]    `json:"year"`
}

func (r UpdateAuctionRequest) Patch() models.ItemPatch {
	return models.ItemPatch{Make: r.Make, Model: r.Model, Color: r.Color, Mileage: r.Mileage, Year: r.Year}
}

type AuctionResponse struct {
	ID           string `json:"id"`
	Seller       string `json:"seller"`
	ReservePrice int64  `json:"reserve_price"`
	AuctionEnd   string `json:"auction_end"`
	Finalized    bool   `json:"finalized"`
	Version      int64  `json:"version"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
	Make         string `json:"make"`
	Model        string `json:"model"`
	Color        string `json:"color"`
	Mileage      int    `json:"mileage"`
	Year         int    `json:"year"`
	ImageURL     string `json:"image_url,omitempty"`
}

func NewAuctionResponse(a models.Auction) AuctionResponse {
	return AuctionResponse{
		ID:           a.ID,
		Seller:       a.Seller,
		ReservePrice: a.ReservePrice,
		AuctionEnd:   a.AuctionEnd.UTC().Format(time.RFC3339),
		Finalized:    a.Finalized,
		Version:      a.Version,
		CreatedAt:    a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    a.UpdatedAt.UTC().Format(time.RFC3339),
		Make:         a.Item.Make,
		Model:        a.Item.Model,
		Color:        a.Item.Color,
		Mileage:      a.Item.Mileage,
		Year:         a.Item.Year,
		ImageURL:     a.Item.ImageURL,
	}
}

type PlaceBidRequest struct {
	AuctionID string `json:"auction_id" binding:"required"`
	Amount    int64  `json:"amount" binding:"required,gt=0"`
}

type BidResponse struct {
	BidID     string `json:"bid_id"`
	AuctionID string `json:"auction_id"`
	Bidder    string `json:"bidder"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

func NewBidResponse(b models.Bid) BidResponse {
	return BidResponse{
		BidID:     b.BidID,
		AuctionID: b.AuctionID,
		Bidder:    b.Bidder,
		Amount:    b.Amount,
		Status:    string(b.Status),
		CreatedAt: b.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// SearchRequest is bound from the query string
type SearchRequest struct {
	SearchTerm string `form:"searchTerm"`
	Seller     string `form:"seller"`
	Winner     string `form:"winner"`
	FilterBy   string `form:"filterBy" binding:"omitempty,oneof=finished endingSoon live"`
	OrderBy    string `form:"orderBy" binding:"omitempty,oneof=make new endingSoon"`
	PageNumber int    `form:"pageNumber" binding:"omitempty,gte=1"`
	PageSize   int    `form:"pageSize" binding:"omitempty,gte=1,lte=100"`
}

func (r SearchRequest) Params() models.SearchParams {
	return models.SearchParams{
		Term:     r.SearchTerm,
		Seller:   r.Seller,
		Winner:   r.Winner,
		FilterBy: r.FilterBy,
		OrderBy:  r.OrderBy,
		Page:     r.PageNumber,
		PageSize: r.PageSize,
	}
}

type ItemResponse struct {
	ID           string  `json:"id"`
	Seller       string  `json:"seller"`
	ReservePrice int64   `json:"reserve_price"`
	AuctionEnd   string  `json:"auction_end"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
	Make         string  `json:"make"`
	Model        string  `json:"model"`
	Color        string  `json:"color"`
	Mileage      int     `json:"mileage"`
	Year         int     `json:"year"`
	ImageURL     string  `json:"image_url,omitempty"`
	Status       string  `json:"status"`
	Winner       *string `json:"winner,omitempty"`
	SoldAmount   *int64  `json:"sold_amount,omitempty"`
}

func NewItemResponse(r models.ReplicaItem) ItemResponse {
	return ItemResponse{
		ID:           r.ID,
		Seller:       r.Seller,
		ReservePrice: r.ReservePrice,
		AuctionEnd:   r.AuctionEnd.UTC().Format(time.RFC3339),
		CreatedAt:    r.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    r.UpdatedAt.UTC().Format(time.RFC3339),
		Make:         r.Make,
		Model:        r.Model,
		Color:        r.Color,
		Mileage:      r.Mileage,
		Year:         r.Year,
		ImageURL:     r.ImageURL,
		Status:       string(r.Status),
		Winner:       r.Winner,
		SoldAmount:   r.SoldAmount,
	}
}

type SearchResponse struct {
	Results    []ItemResponse `json:"results"`
	PageCount  int            `json:"page_count"`
	TotalCount int            `json:"total_count"`
}

func NewSearchResponse(res models.SearchResult) SearchResponse {
	out := SearchResponse{Results: make([]ItemResponse, 0, len(res.Results)), PageCount: res.PageCount, TotalCount: res.Total}
	for _, r := range res.Results {
		out.Results = append(out.Results, NewItemResponse(r))
	}
	return out
}
