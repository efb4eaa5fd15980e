package projector

import (
	"auction-lifecycle/internal/events"
	"auction-lifecycle/internal/models"
)

// Replica field names as recorded in ReplicaItem.FieldVersions.
const (
	fieldSeller       = "seller"
	fieldReservePrice = "reserve_price"
	fieldAuctionEnd   = "auction_end"
	fieldCreatedAt    = "created_at"
	fieldUpdatedAt    = "updated_at"
	fieldMake         = "make"
	fieldModel        = "model"
	fieldColor        = "color"
	fieldMileage      = "mileage"
	fieldYear         = "year"
	fieldImageURL     = "image_url"
)

// register writes val into dst when the field is unset or version beats the
// version that last wrote it. Equal versions win only when inclusive.
func register[T any](row *models.ReplicaItem, name string, version int64, inclusive bool, dst *T, val T) {
	if cur, ok := row.FieldVersions[name]; ok {
		if version < cur || (version == cur && !inclusive) {
			return
		}
	}
	*dst = val
	row.FieldVersions[name] = version
}

func registerOptional[T any](row *models.ReplicaItem, name string, version int64, dst *T, val models.Optional[T]) {
	if v, ok := val.Get(); ok {
		register(row, name, version, true, dst, v)
	}
}

func newRow(id string) models.ReplicaItem {
	return models.ReplicaItem{ID: id, Partial: true, FieldVersions: map[string]int64{}}
}

func mergeCreated(row *models.ReplicaItem, e events.AuctionCreated, version int64) {
	register(row, fieldSeller, version, false, &row.Seller, e.Seller)
	register(row, fieldReservePrice, version, false, &row.ReservePrice, e.ReservePrice)
	register(row, fieldAuctionEnd, version, false, &row.AuctionEnd, e.AuctionEnd.UTC())
	register(row, fieldCreatedAt, version, false, &row.CreatedAt, e.CreatedAt.UTC())
	register(row, fieldUpdatedAt, version, false, &row.UpdatedAt, e.UpdatedAt.UTC())
	register(row, fieldMake, version, false, &row.Make, e.Make)
	register(row, fieldModel, version, false, &row.Model, e.Model)
	register(row, fieldColor, version, false, &row.Color, e.Color)
	register(row, fieldMileage, version, false, &row.Mileage, e.Mileage)
	register(row, fieldYear, version, false, &row.Year, e.Year)
	register(row, fieldImageURL, version, false, &row.ImageURL, e.ImageURL)

	if row.Status == "" {
		row.Status = models.StatusLive
	}
	row.Partial = false
}

func mergeUpdated(row *models.ReplicaItem, e events.AuctionUpdated, version int64) {
	registerOptional(row, fieldMake, version, &row.Make, e.Make)
	registerOptional(row, fieldModel, version, &row.Model, e.Model)
	registerOptional(row, fieldColor, version, &row.Color, e.Color)
	registerOptional(row, fieldMileage, version, &row.Mileage, e.Mileage)
	registerOptional(row, fieldYear, version, &row.Year, e.Year)
	if !e.UpdatedAt.IsZero() {
		register(row, fieldUpdatedAt, version, true, &row.UpdatedAt, e.UpdatedAt.UTC())
	}
	if row.Status == "" {
		row.Status = models.StatusLive
	}
}

// mergeFinished reports false when the row was already terminal.
func mergeFinished(row *models.ReplicaItem, e events.AuctionFinished) bool {
	if row.Status.Terminal() {
		return false
	}
	if row.Seller == "" {
		row.Seller = e.Seller
	}
	if !e.ItemSold {
		row.Status = models.StatusUnsold
		return true
	}
	winner, amount := *e.Winner, *e.Amount
	row.Status = models.StatusSold
	row.Winner = &winner
	row.SoldAmount = &amount
	return true
}
