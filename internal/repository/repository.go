package repository

import (
	"context"
	"time"

	"auction-lifecycle/internal/events"
	"auction-lifecycle/internal/models"
)

//go:generate mockgen -source=repository.go -destination=mock_repository.go -package=repository

// AuctionStore is the authoritative auction record store owned by the auction service
type AuctionStore interface {
	// WithTx runs fn in one transaction; stores reached through the returned
	// context join it. An error from fn rolls everything back.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	Find(ctx context.Context, id string) (models.Auction, error)
	List(ctx context.Context, updatedAfter time.Time) ([]models.Auction, error)
	// QueryExpired returns auctions whose end time has passed and that are not finalized.
	QueryExpired(ctx context.Context, now time.Time, limit int) ([]models.Auction, error)
	Create(ctx context.Context, auction models.Auction) error
	// Update saves auction only if the stored version still equals expectedVersion.
	Update(ctx context.Context, auction models.Auction, expectedVersion int64) error
	Delete(ctx context.Context, id string) error
	// MarkFinalized flips finalized false->true. It reports false when another
	// writer already finalized the auction.
	MarkFinalized(ctx context.Context, id string, at time.Time) (bool, error)
}

// BidLedger is the bid store owned by the bidding service
type BidLedger interface {
	RecordBid(ctx context.Context, bid models.Bid) error
	BidsForAuction(ctx context.Context, auctionID string) ([]models.Bid, error)
	AcceptedBids(ctx context.Context, auctionID string) ([]models.Bid, error)
}

// Outbox records events in the same transaction as the state change that caused them
type Outbox interface {
	Enqueue(ctx context.Context, env events.Envelope) error
	MarkSent(ctx context.Context, messageID string, at time.Time) error
	// Pending returns unsent events that occurred before olderThan, oldest first.
	Pending(ctx context.Context, olderThan time.Time, limit int) ([]events.Envelope, error)
}

// ReplicaStore is the search service's denormalized item store
type ReplicaStore interface {
	Get(ctx context.Context, id string) (models.ReplicaItem, bool, error)
	// Put inserts or fully replaces the row for item.ID.
	Put(ctx context.Context, item models.ReplicaItem) error
	// Delete removes the row and leaves a tombstone. Deleting an absent row succeeds.
	Delete(ctx context.Context, id string, at time.Time) error
	IsTombstoned(ctx context.Context, id string) (bool, error)
	Search(ctx context.Context, params models.SearchParams) (models.SearchResult, error)
}
