package gormrepo

import (
	"time"

	"auction-lifecycle/internal/events"
	"auction-lifecycle/internal/models"

	"gorm.io/datatypes"
)

// Timestamps come from the injected clock, so gorm's auto time tracking is off.

type auctionRow struct {
	ID           string     `gorm:"primaryKey;size:64"`
	Seller       string     `gorm:"size:128;not null;index"`
	ReservePrice int64      `gorm:"not null"`
	AuctionEnd   time.Time  `gorm:"not null;index"`
	Finalized    bool       `gorm:"not null;default:false;index"`
	FinalizedAt  *time.Time
	Version      int64     `gorm:"not null"`
	CreatedAt    time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime:false;index"`
	Make         string    `gorm:"size:128"`
	Model        string    `gorm:"size:128"`
	Color        string    `gorm:"size:64"`
	Mileage      int
	Year         int
	ImageURL     string
}

func (auctionRow) TableName() string { return "auctions" }

func toAuctionRow(a models.Auction) auctionRow {
	return auctionRow{
		ID:           a.ID,
		Seller:       a.Seller,
		ReservePrice: a.ReservePrice,
		AuctionEnd:   a.AuctionEnd.UTC(),
		Finalized:    a.Finalized,
		FinalizedAt:  a.FinalizedAt,
		Version:      a.Version,
		CreatedAt:    a.CreatedAt.UTC(),
		UpdatedAt:    a.UpdatedAt.UTC(),
		Make:         a.Item.Make,
		Model:        a.Item.Model,
		Color:        a.Item.Color,
		Mileage:      a.Item.Mileage,
		Year:         a.Item.Year,
		ImageURL:     a.Item.ImageURL,
	}
}

func (r auctionRow) toModel() models.Auction {
	var finalizedAt *time.Time
	if r.FinalizedAt != nil {
		t := r.FinalizedAt.UTC()
		finalizedAt = &t
	}
	return models.Auction{
		ID:           r.ID,
		Seller:       r.Seller,
		ReservePrice: r.ReservePrice,
		AuctionEnd:   r.AuctionEnd.UTC(),
		Finalized:    r.Finalized,
		FinalizedAt:  finalizedAt,
		Version:      r.Version,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
		Item: models.Item{
			Make:     r.Make,
			Model:    r.Model,
			Color:    r.Color,
			Mileage:  r.Mileage,
			Year:     r.Year,
			ImageURL: r.ImageURL,
		},
	}
}

type bidRow struct {
	BidID     string    `gorm:"primaryKey;size:64"`
	AuctionID string    `gorm:"size:64;not null;index"`
	Bidder    string    `gorm:"size:128;not null"`
	Amount    int64     `gorm:"not null"`
	Status    string    `gorm:"size:16;not null;index"`
	CreatedAt time.Time `gorm:"autoCreateTime:false;index"`
}

func (bidRow) TableName() string { return "bids" }

func (r bidRow) toModel() models.Bid {
	return models.Bid{
		BidID:     r.BidID,
		AuctionID: r.AuctionID,
		Bidder:    r.Bidder,
		Amount:    r.Amount,
		Status:    models.BidStatus(r.Status),
		CreatedAt: r.CreatedAt.UTC(),
	}
}

type outboxRow struct {
	MessageID  string `gorm:"primaryKey;size:64"`
	Tag        string `gorm:"size:32;not null"`
	AuctionID  string `gorm:"size:64;not null;index"`
	Version    *int64
	OccurredAt time.Time      `gorm:"not null;index"`
	Payload    datatypes.JSON `gorm:"not null"`
	SentAt     *time.Time     `gorm:"index"`
}

func (outboxRow) TableName() string { return "event_outbox" }

func (r outboxRow) toEnvelope() events.Envelope {
	return events.Envelope{
		MessageID:  r.MessageID,
		Tag:        events.Tag(r.Tag),
		AuctionID:  r.AuctionID,
		Version:    r.Version,
		OccurredAt: r.OccurredAt.UTC(),
		Payload:    []byte(r.Payload),
	}
}

type replicaRow struct {
	ID            string `gorm:"primaryKey;size:64"`
	Seller        string `gorm:"size:128;index"`
	ReservePrice  int64
	AuctionEnd    time.Time `gorm:"index"`
	CreatedAt     time.Time `gorm:"autoCreateTime:false;index"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime:false"`
	Make          string    `gorm:"size:128;index"`
	Model         string    `gorm:"size:128"`
	Color         string    `gorm:"size:64"`
	Mileage       int
	Year          int
	ImageURL      string
	Status        string  `gorm:"size:16;index"`
	Winner        *string `gorm:"size:128;index"`
	SoldAmount    *int64
	Partial       bool
	FieldVersions datatypes.JSONType[map[string]int64]
}

func (replicaRow) TableName() string { return "search_items" }

func toReplicaRow(it models.ReplicaItem) replicaRow {
	return replicaRow{
		ID:            it.ID,
		Seller:        it.Seller,
		ReservePrice:  it.ReservePrice,
		AuctionEnd:    it.AuctionEnd.UTC(),
		CreatedAt:     it.CreatedAt.UTC(),
		UpdatedAt:     it.UpdatedAt.UTC(),
		Make:          it.Make,
		Model:         it.Model,
		Color:         it.Color,
		Mileage:       it.Mileage,
		Year:          it.Year,
		ImageURL:      it.ImageURL,
		Status:        string(it.Status),
		Winner:        it.Winner,
		SoldAmount:    it.SoldAmount,
		Partial:       it.Partial,
		FieldVersions: datatypes.NewJSONType(it.FieldVersions),
	}
}

func (r replicaRow) toModel() models.ReplicaItem {
	it := models.ReplicaItem{
		ID:            r.ID,
		Seller:        r.Seller,
		ReservePrice:  r.ReservePrice,
		AuctionEnd:    r.AuctionEnd.UTC(),
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
		Make:          r.Make,
		Model:         r.Model,
		Color:         r.Color,
		Mileage:       r.Mileage,
		Year:          r.Year,
		ImageURL:      r.ImageURL,
		Status:        models.ReplicaStatus(r.Status),
		Winner:        r.Winner,
		SoldAmount:    r.SoldAmount,
		Partial:       r.Partial,
		FieldVersions: r.FieldVersions.Data(),
	}
	if it.FieldVersions == nil {
		it.FieldVersions = map[string]int64{}
	}
	return it
}

type tombstoneRow struct {
	AuctionID string    `gorm:"primaryKey;size:64"`
	RemovedAt time.Time `gorm:"not null"`
}

func (tombstoneRow) TableName() string { return "search_tombstones" }
