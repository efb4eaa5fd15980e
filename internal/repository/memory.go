package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"auction-lifecycle/internal/biddingerrors"
	"auction-lifecycle/internal/events"
	"auction-lifecycle/internal/models"
)

type memTxKey struct{}

// memTx records how to reverse each write made inside one transaction.
type memTx struct {
	undo []func()
}

type outboxEntry struct {
	env    events.Envelope
	sentAt *time.Time
}

// MemoryRepo is a concurrency-safe in-memory implementation of AuctionStore,
// BidLedger and Outbox. Transactions are serialized against each other and roll
// back by replaying their own undo log, so writes made outside the transaction
// survive a rollback.
type MemoryRepo struct {
	mu       sync.RWMutex
	txMu     sync.Mutex
	auctions map[string]models.Auction // key: auctionID -> value: auction
	bids     map[string][]models.Bid   // key: auctionID -> value: list of bids
	outbox   map[string]*outboxEntry   // key: messageID -> value: entry
	order    []string                  // outbox message ids in enqueue order
}

// NewMemoryRepo creates a new in-memory repository instance
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		auctions: make(map[string]models.Auction),
		bids:     make(map[string][]models.Bid),
		outbox:   make(map[string]*outboxEntry),
	}
}

// WithTx serializes fn against other transactions and undoes its writes on
// error or panic
func (r *MemoryRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}

	r.txMu.Lock()
	defer r.txMu.Unlock()

	tx := &memTx{}
	committed := false
	defer func() {
		if !committed {
			r.rollback(tx)
		}
	}()

	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		return err
	}
	committed = true
	return nil
}

func (r *MemoryRepo) rollback(tx *memTx) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
}

// onRollback registers undo for the transaction carried by ctx, if any. The
// caller holds r.mu, and undo runs with r.mu held.
func onRollback(ctx context.Context, undo func()) {
	if tx, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		tx.undo = append(tx.undo, undo)
	}
}

// Find returns the auction with the given id
func (r *MemoryRepo) Find(ctx context.Context, id string) (models.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.auctions[id]
	if !ok {
		return models.Auction{}, fmt.Errorf("find auction %s: %w", id, biddingerrors.ErrAuctionNotFound)
	}
	return a, nil
}

// List returns auctions updated after the given instant, ordered by make
func (r *MemoryRepo) List(ctx context.Context, updatedAfter time.Time) ([]models.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Auction, 0, len(r.auctions))
	for _, a := range r.auctions {
		if !updatedAfter.IsZero() && !a.UpdatedAt.After(updatedAfter) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Item.Make != out[j].Item.Make {
			return out[i].Item.Make < out[j].Item.Make
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// QueryExpired returns ended auctions that have not been finalized yet
func (r *MemoryRepo) QueryExpired(ctx context.Context, now time.Time, limit int) ([]models.Auction, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("query expired auctions: %v: %w", err, biddingerrors.ErrTransient)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Auction, 0)
	for _, a := range r.auctions {
		if !a.Finalized && !a.AuctionEnd.After(now) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AuctionEnd.Before(out[j].AuctionEnd) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Create stores a new auction
func (r *MemoryRepo) Create(ctx context.Context, auction models.Auction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.auctions[auction.ID]; exists {
		return fmt.Errorf("create auction %s: %w", auction.ID, biddingerrors.ErrConflict)
	}
	r.auctions[auction.ID] = auction
	onRollback(ctx, func() { delete(r.auctions, auction.ID) })
	return nil
}

// Update replaces an auction if nobody else has saved it since expectedVersion
func (r *MemoryRepo) Update(ctx context.Context, auction models.Auction, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.auctions[auction.ID]
	if !ok {
		return fmt.Errorf("update auction %s: %w", auction.ID, biddingerrors.ErrAuctionNotFound)
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("update auction %s at version %d (stored %d): %w", auction.ID, expectedVersion, current.Version, biddingerrors.ErrConflict)
	}
	r.auctions[auction.ID] = auction
	onRollback(ctx, func() { r.auctions[auction.ID] = current })
	return nil
}

// Delete removes an auction
func (r *MemoryRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.auctions[id]
	if !ok {
		return fmt.Errorf("delete auction %s: %w", id, biddingerrors.ErrAuctionNotFound)
	}
	delete(r.auctions, id)
	onRollback(ctx, func() { r.auctions[id] = prev })
	return nil
}

// MarkFinalized is the finalize compare-and-swap on the finalized flag
func (r *MemoryRepo) MarkFinalized(ctx context.Context, id string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("finalize auction %s: %v: %w", id, err, biddingerrors.ErrTransient)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.auctions[id]
	if !ok {
		return false, fmt.Errorf("finalize auction %s: %w", id, biddingerrors.ErrAuctionNotFound)
	}
	if a.Finalized {
		return false, nil
	}
	prev := a
	at = at.UTC()
	a.Finalized = true
	a.FinalizedAt = &at
	a.UpdatedAt = at
	a.Version++
	r.auctions[id] = a
	onRollback(ctx, func() { r.auctions[id] = prev })
	return true, nil
}

// RecordBid appends a bid to the ledger
func (r *MemoryRepo) RecordBid(ctx context.Context, bid models.Bid) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if bid.AuctionID == "" {
		return fmt.Errorf("record bid %s: %w", bid.BidID, biddingerrors.ErrInvalidBid)
	}
	r.bids[bid.AuctionID] = append(r.bids[bid.AuctionID], bid)
	onRollback(ctx, func() {
		kept := r.bids[bid.AuctionID][:0]
		for _, b := range r.bids[bid.AuctionID] {
			if b.BidID != bid.BidID {
				kept = append(kept, b)
			}
		}
		r.bids[bid.AuctionID] = kept
	})
	return nil
}

// BidsForAuction returns all bids for an auction, newest first
func (r *MemoryRepo) BidsForAuction(ctx context.Context, auctionID string) ([]models.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bids := append([]models.Bid(nil), r.bids[auctionID]...)
	sort.SliceStable(bids, func(i, j int) bool { return bids[i].CreatedAt.After(bids[j].CreatedAt) })
	return bids, nil
}

// AcceptedBids returns only the bids the ledger accepted
func (r *MemoryRepo) AcceptedBids(ctx context.Context, auctionID string) ([]models.Bid, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("accepted bids for %s: %v: %w", auctionID, err, biddingerrors.ErrTransient)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Bid, 0)
	for _, b := range r.bids[auctionID] {
		if b.Status == models.BidAccepted {
			out = append(out, b)
		}
	}
	return out, nil
}

// Enqueue records an unsent event
func (r *MemoryRepo) Enqueue(ctx context.Context, env events.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.outbox[env.MessageID]; exists {
		return fmt.Errorf("enqueue %s: %w", env.MessageID, biddingerrors.ErrConflict)
	}
	r.outbox[env.MessageID] = &outboxEntry{env: env}
	r.order = append(r.order, env.MessageID)
	onRollback(ctx, func() {
		delete(r.outbox, env.MessageID)
		for i, id := range r.order {
			if id == env.MessageID {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	})
	return nil
}

// MarkSent flags an outbox event as delivered to the bus
func (r *MemoryRepo) MarkSent(ctx context.Context, messageID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.outbox[messageID]
	if !ok {
		return fmt.Errorf("mark sent %s: outbox entry not found", messageID)
	}
	prev := e.sentAt
	at = at.UTC()
	e.sentAt = &at
	onRollback(ctx, func() { e.sentAt = prev })
	return nil
}

// Pending returns unsent outbox events that occurred before olderThan
func (r *MemoryRepo) Pending(ctx context.Context, olderThan time.Time, limit int) ([]events.Envelope, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]events.Envelope, 0)
	for _, id := range r.order {
		e := r.outbox[id]
		if e == nil || e.sentAt != nil || !e.env.OccurredAt.Before(olderThan) {
			continue
		}
		out = append(out, e.env)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// AddAuction adds an auction to the repository. This method is intended for tests and seeding only.
func (r *MemoryRepo) AddAuction(auction models.Auction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auctions[auction.ID] = auction
}
