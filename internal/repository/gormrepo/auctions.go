package gormrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auction-lifecycle/internal/biddingerrors"
	"auction-lifecycle/internal/events"
	"auction-lifecycle/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AuctionRepo stores auctions, the bid ledger and the event outbox in one
// database so an auction write and its event commit together.
type AuctionRepo struct {
	db *gorm.DB
}

// NewAuctionRepo migrates the auction schema and returns the repository.
func NewAuctionRepo(db *gorm.DB) (*AuctionRepo, error) {
	if err := db.AutoMigrate(&auctionRow{}, &bidRow{}, &outboxRow{}); err != nil {
		return nil, fmt.Errorf("gormrepo: migrate auction schema: %w", err)
	}
	return &AuctionRepo{db: db}, nil
}

func (r *AuctionRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.db, fn)
}

// Find loads one auction. Inside a transaction the row stays locked until
// commit, so bids and finalization on the same auction take turns.
func (r *AuctionRepo) Find(ctx context.Context, id string) (models.Auction, error) {
	q := conn(ctx, r.db)
	if txFromContext(ctx) != nil {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row auctionRow
	if err := q.Where("id = ?", id).Take(&row).Error; err != nil {
		return models.Auction{}, classify("find auction "+id, err)
	}
	return row.toModel(), nil
}

func (r *AuctionRepo) List(ctx context.Context, updatedAfter time.Time) ([]models.Auction, error) {
	q := conn(ctx, r.db).Order("make ASC, id ASC")
	if !updatedAfter.IsZero() {
		q = q.Where("updated_at > ?", updatedAfter.UTC())
	}
	var rows []auctionRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, classify("list auctions", err)
	}
	out := make([]models.Auction, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func (r *AuctionRepo) QueryExpired(ctx context.Context, now time.Time, limit int) ([]models.Auction, error) {
	q := conn(ctx, r.db).
		Where("finalized = ? AND auction_end <= ?", false, now.UTC()).
		Order("auction_end ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []auctionRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, classify("query expired auctions", err)
	}
	out := make([]models.Auction, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func (r *AuctionRepo) Create(ctx context.Context, auction models.Auction) error {
	row := toAuctionRow(auction)
	if err := conn(ctx, r.db).Create(&row).Error; err != nil {
		return classify("create auction "+auction.ID, err)
	}
	return nil
}

func (r *AuctionRepo) Update(ctx context.Context, auction models.Auction, expectedVersion int64) error {
	row := toAuctionRow(auction)
	res := conn(ctx, r.db).Model(&auctionRow{}).
		Where("id = ? AND version = ?", auction.ID, expectedVersion).
		Updates(map[string]any{
			"seller":        row.Seller,
			"reserve_price": row.ReservePrice,
			"auction_end":   row.AuctionEnd,
			"finalized":     row.Finalized,
			"finalized_at":  row.FinalizedAt,
			"version":       row.Version,
			"updated_at":    row.UpdatedAt,
			"make":          row.Make,
			"model":         row.Model,
			"color":         row.Color,
			"mileage":       row.Mileage,
			"year":          row.Year,
			"image_url":     row.ImageURL,
		})
	if res.Error != nil {
		return classify("update auction "+auction.ID, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	if _, err := r.Find(ctx, auction.ID); err != nil {
		return err
	}
	return fmt.Errorf("update auction %s at version %d: %w", auction.ID, expectedVersion, biddingerrors.ErrConflict)
}

func (r *AuctionRepo) Delete(ctx context.Context, id string) error {
	res := conn(ctx, r.db).Where("id = ?", id).Delete(&auctionRow{})
	if res.Error != nil {
		return classify("delete auction "+id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("delete auction %s: %w", id, biddingerrors.ErrAuctionNotFound)
	}
	return nil
}

func (r *AuctionRepo) MarkFinalized(ctx context.Context, id string, at time.Time) (bool, error) {
	at = at.UTC()
	res := conn(ctx, r.db).Model(&auctionRow{}).
		Where("id = ? AND finalized = ?", id, false).
		Updates(map[string]any{
			"finalized":    true,
			"finalized_at": at,
			"updated_at":   at,
			"version":      gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, classify("finalize auction "+id, res.Error)
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	if _, err := r.Find(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *AuctionRepo) RecordBid(ctx context.Context, bid models.Bid) error {
	if bid.AuctionID == "" {
		return fmt.Errorf("record bid %s: %w", bid.BidID, biddingerrors.ErrInvalidBid)
	}
	row := bidRow{
		BidID:     bid.BidID,
		AuctionID: bid.AuctionID,
		Bidder:    bid.Bidder,
		Amount:    bid.Amount,
		Status:    string(bid.Status),
		CreatedAt: bid.CreatedAt.UTC(),
	}
	if err := conn(ctx, r.db).Create(&row).Error; err != nil {
		return classify("record bid "+bid.BidID, err)
	}
	return nil
}

func (r *AuctionRepo) BidsForAuction(ctx context.Context, auctionID string) ([]models.Bid, error) {
	return r.bids(ctx, conn(ctx, r.db).Where("auction_id = ?", auctionID).Order("created_at DESC"))
}

func (r *AuctionRepo) AcceptedBids(ctx context.Context, auctionID string) ([]models.Bid, error) {
	return r.bids(ctx, conn(ctx, r.db).
		Where("auction_id = ? AND status = ?", auctionID, string(models.BidAccepted)).
		Order("created_at ASC"))
}

func (r *AuctionRepo) bids(ctx context.Context, q *gorm.DB) ([]models.Bid, error) {
	var rows []bidRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, classify("load bids", err)
	}
	out := make([]models.Bid, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func (r *AuctionRepo) Enqueue(ctx context.Context, env events.Envelope) error {
	row := outboxRow{
		MessageID:  env.MessageID,
		Tag:        string(env.Tag),
		AuctionID:  env.AuctionID,
		Version:    env.Version,
		OccurredAt: env.OccurredAt.UTC(),
		Payload:    datatypes.JSON(env.Payload),
	}
	if err := conn(ctx, r.db).Create(&row).Error; err != nil {
		return classify("enqueue "+env.MessageID, err)
	}
	return nil
}

func (r *AuctionRepo) MarkSent(ctx context.Context, messageID string, at time.Time) error {
	res := conn(ctx, r.db).Model(&outboxRow{}).
		Where("message_id = ?", messageID).
		Update("sent_at", at.UTC())
	if res.Error != nil {
		return classify("mark sent "+messageID, res.Error)
	}
	if res.RowsAffected == 0 {
		return errors.New("mark sent " + messageID + ": outbox entry not found")
	}
	return nil
}

func (r *AuctionRepo) Pending(ctx context.Context, olderThan time.Time, limit int) ([]events.Envelope, error) {
	q := conn(ctx, r.db).
		Where("sent_at IS NULL AND occurred_at < ?", olderThan.UTC()).
		Order("occurred_at ASC, message_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []outboxRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, classify("load pending outbox", err)
	}
	out := make([]events.Envelope, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEnvelope())
	}
	return out, nil
}
