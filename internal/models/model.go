package models

import "time"

// Item holds the vehicle attributes embedded in an auction
type Item struct {
	Make     string `json:"make"`
	Model    string `json:"model"`
	Color    string `json:"color"`
	Mileage  int    `json:"mileage"`
	Year     int    `json:"year"`
	ImageURL string `json:"image_url,omitempty"`
}

// ItemPatch carries only the item fields a seller explicitly changed
type ItemPatch struct {
	Make    Optional[string] `json:"make,omitzero"`
	Model   Optional[string] `json:"model,omitzero"`
	Color   Optional[string] `json:"color,omitzero"`
	Mileage Optional[int]    `json:"mileage,omitzero"`
	Year    Optional[int]    `json:"year,omitzero"`
}

// Empty reports whether the patch changes nothing.
func (p ItemPatch) Empty() bool {
	return !p.Make.Set && !p.Model.Set && !p.Color.Set && !p.Mileage.Set && !p.Year.Set
}

// ApplyTo overwrites the present fields of item.
func (p ItemPatch) ApplyTo(item *Item) {
	if v, ok := p.Make.Get(); ok {
		item.Make = v
	}
	if v, ok := p.Model.Get(); ok {
		item.Model = v
	}
	if v, ok := p.Color.Get(); ok {
		item.Color = v
	}
	if v, ok := p.Mileage.Get(); ok {
		item.Mileage = v
	}
	if v, ok := p.Year.Get(); ok {
		item.Year = v
	}
}

// Auction is the authoritative auction record owned by the auction service
type Auction struct {
	ID           string     `json:"id"`
	Seller       string     `json:"seller"`
	ReservePrice int64      `json:"reserve_price"`
	AuctionEnd   time.Time  `json:"auction_end"`
	Finalized    bool       `json:"finalized"`
	FinalizedAt  *time.Time `json:"finalized_at,omitempty"`
	Version      int64      `json:"version"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Item         Item       `json:"item"`
}

// BidStatus is the ledger verdict recorded for a bid
type BidStatus string

const (
	BidPending  BidStatus = "Pending"
	BidAccepted BidStatus = "Accepted"
	BidRejected BidStatus = "Rejected"
	BidTooLow   BidStatus = "TooLow"
)

// Bid represents a bidder's offer on an auction
type Bid struct {
	BidID     string    `json:"bid_id"`
	AuctionID string    `json:"auction_id"`
	Bidder    string    `json:"bidder"`
	Amount    int64     `json:"amount"`
	Status    BidStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// ReplicaStatus is the search-side view of where an auction is in its lifecycle
type ReplicaStatus string

const (
	StatusLive   ReplicaStatus = "Live"
	StatusSold   ReplicaStatus = "Sold"
	StatusUnsold ReplicaStatus = "Unsold"
)

// Terminal reports whether the auction has been closed.
func (s ReplicaStatus) Terminal() bool {
	return s == StatusSold || s == StatusUnsold
}

// ReplicaItem is the denormalized search copy of an auction. It is derived
// state only and can be rebuilt by replaying lifecycle events.
type ReplicaItem struct {
	ID           string        `json:"id"`
	Seller       string        `json:"seller"`
	ReservePrice int64         `json:"reserve_price"`
	AuctionEnd   time.Time     `json:"auction_end"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Make         string        `json:"make"`
	Model        string        `json:"model"`
	Color        string        `json:"color"`
	Mileage      int           `json:"mileage"`
	Year         int           `json:"year"`
	ImageURL     string        `json:"image_url,omitempty"`
	Status       ReplicaStatus `json:"status"`
	Winner       *string       `json:"winner,omitempty"`
	SoldAmount   *int64        `json:"sold_amount,omitempty"`
	// Partial is true until a full Created snapshot has been applied.
	Partial bool `json:"partial"`
	// FieldVersions maps a field name to the event version that last wrote it.
	FieldVersions map[string]int64 `json:"-"`
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (r ReplicaItem) Clone() ReplicaItem {
	out := r
	if r.Winner != nil {
		w := *r.Winner
		out.Winner = &w
	}
	if r.SoldAmount != nil {
		a := *r.SoldAmount
		out.SoldAmount = &a
	}
	out.FieldVersions = make(map[string]int64, len(r.FieldVersions))
	for k, v := range r.FieldVersions {
		out.FieldVersions[k] = v
	}
	return out
}

// SearchParams narrows and orders replica reads
type SearchParams struct {
	Term     string
	Seller   string
	Winner   string
	FilterBy string // finished, endingSoon, live
	OrderBy  string // make, new, endingSoon
	Page     int
	PageSize int
	// Now anchors time-relative filters; zero means the current time.
	Now time.Time
}

// SearchResult is one page of replica items
type SearchResult struct {
	Results   []ReplicaItem `json:"results"`
	PageCount int           `json:"page_count"`
	Total     int           `json:"total_count"`
}

const (
	defaultPageSize = 4
	maxPageSize     = 100
)

// Normalized fills paging defaults and clamps the page size.
func (p SearchParams) Normalized() SearchParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = defaultPageSize
	}
	if p.PageSize > maxPageSize {
		p.PageSize = maxPageSize
	}
	return p
}
