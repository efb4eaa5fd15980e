package events

import (
	"time"

	"auction-lifecycle/internal/models"
)

// Created builds the Created envelope for a freshly saved auction.
func Created(a models.Auction) (Envelope, error) {
	return NewEnvelope(TagCreated, a.ID, versionPtr(a.Version), a.UpdatedAt, AuctionCreated{
		AuctionID:    a.ID,
		Seller:       a.Seller,
		ReservePrice: a.ReservePrice,
		AuctionEnd:   a.AuctionEnd.UTC(),
		CreatedAt:    a.CreatedAt.UTC(),
		UpdatedAt:    a.UpdatedAt.UTC(),
		Make:         a.Item.Make,
		Model:        a.Item.Model,
		Color:        a.Item.Color,
		Mileage:      a.Item.Mileage,
		Year:         a.Item.Year,
		ImageURL:     a.Item.ImageURL,
	})
}

// Updated builds the Updated envelope for a patch saved at a's version.
func Updated(a models.Auction, patch models.ItemPatch) (Envelope, error) {
	return NewEnvelope(TagUpdated, a.ID, versionPtr(a.Version), a.UpdatedAt, AuctionUpdated{
		AuctionID: a.ID,
		Make:      patch.Make,
		Model:     patch.Model,
		Color:     patch.Color,
		Mileage:   patch.Mileage,
		Year:      patch.Year,
		UpdatedAt: a.UpdatedAt.UTC(),
	})
}

// Deleted builds the Deleted envelope.
func Deleted(a models.Auction, at time.Time) (Envelope, error) {
	return NewEnvelope(TagDeleted, a.ID, versionPtr(a.Version+1), at, AuctionDeleted{AuctionID: a.ID})
}

// Finished builds the Finished envelope. winner is nil when no accepted bid exists.
func Finished(a models.Auction, winner *models.Bid, at time.Time) (Envelope, error) {
	payload := AuctionFinished{AuctionID: a.ID, Seller: a.Seller}
	if winner != nil {
		bidder, amount := winner.Bidder, winner.Amount
		payload.ItemSold = true
		payload.Winner = &bidder
		payload.Amount = &amount
	}
	return NewEnvelope(TagFinished, a.ID, versionPtr(a.Version), at, payload)
}

func versionPtr(v int64) *int64 {
	if v <= 0 {
		return nil
	}
	return &v
}
