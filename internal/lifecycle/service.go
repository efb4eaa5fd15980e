// Package lifecycle owns the authoritative auction record. Every successful
// mutation emits exactly one lifecycle event, published before the store
// transaction commits.
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"auction-lifecycle/internal/biddingerrors"
	"auction-lifecycle/internal/bus"
	"auction-lifecycle/internal/clock"
	"auction-lifecycle/internal/events"
	"auction-lifecycle/internal/models"
	"auction-lifecycle/internal/repository"
	"auction-lifecycle/utils"
)

// CreateAuctionInput is what a seller supplies to open an auction
type CreateAuctionInput struct {
	Seller       string
	ReservePrice int64
	AuctionEnd   time.Time
	Item         models.Item
}

// AuctionService defines the business logic for the auction record
type AuctionService struct {
	store          repository.AuctionStore
	outbox         repository.Outbox
	publisher      bus.Publisher
	clock          clock.Clock
	publishTimeout time.Duration
}

// NewAuctionService creates a new AuctionService instance
func NewAuctionService(store repository.AuctionStore, outbox repository.Outbox, publisher bus.Publisher, clk clock.Clock, publishTimeout time.Duration) *AuctionService {
	if publishTimeout <= 0 {
		publishTimeout = 3 * time.Second
	}
	return &AuctionService{
		store:          store,
		outbox:         outbox,
		publisher:      publisher,
		clock:          clk,
		publishTimeout: publishTimeout,
	}
}

// CreateAuction validates and stores a new auction, then emits AuctionCreated
func (s *AuctionService) CreateAuction(ctx context.Context, in CreateAuctionInput) (models.Auction, error) {
	now := s.clock.Now()
	if err := validateCreate(in, now); err != nil {
		return models.Auction{}, err
	}

	auction := models.Auction{
		ID:           utils.GenerateID(),
		Seller:       in.Seller,
		ReservePrice: in.ReservePrice,
		AuctionEnd:   in.AuctionEnd.UTC(),
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
		Item:         in.Item,
	}

	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, auction); err != nil {
			return fmt.Errorf("service: failed to create auction: %w", err)
		}
		env, err := events.Created(auction)
		if err != nil {
			return fmt.Errorf("service: build created event: %w", err)
		}
		return s.emit(ctx, env)
	})
	if err != nil {
		return models.Auction{}, err
	}

	utils.Info("auction created", map[string]any{"auction_id": auction.ID, "seller": auction.Seller})
	return auction, nil
}

// UpdateAuction applies a seller's item patch and emits AuctionUpdated with only the changed fields
func (s *AuctionService) UpdateAuction(ctx context.Context, id, seller string, patch models.ItemPatch) (models.Auction, error) {
	if id == "" || seller == "" {
		return models.Auction{}, fmt.Errorf("service: %w - missing auction id or seller", biddingerrors.ErrInvalidAuction)
	}
	if patch.Empty() {
		return models.Auction{}, fmt.Errorf("service: %w - update carries no fields", biddingerrors.ErrInvalidAuction)
	}
	if err := events.CheckPatchShape(patch); err != nil {
		return models.Auction{}, fmt.Errorf("service: %w - %v", biddingerrors.ErrInvalidAuction, err)
	}

	var updated models.Auction
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		current, err := s.ownedOpenAuction(ctx, id, seller)
		if err != nil {
			return err
		}

		updated = current
		patch.ApplyTo(&updated.Item)
		updated.Version = current.Version + 1
		updated.UpdatedAt = s.clock.Now()

		if err := s.store.Update(ctx, updated, current.Version); err != nil {
			return fmt.Errorf("service: failed to update auction %s: %w", id, err)
		}
		env, err := events.Updated(updated, patch)
		if err != nil {
			return fmt.Errorf("service: build updated event: %w", err)
		}
		return s.emit(ctx, env)
	})
	if err != nil {
		return models.Auction{}, err
	}
	return updated, nil
}

// DeleteAuction removes a seller's auction and emits AuctionDeleted
func (s *AuctionService) DeleteAuction(ctx context.Context, id, seller string) error {
	if id == "" || seller == "" {
		return fmt.Errorf("service: %w - missing auction id or seller", biddingerrors.ErrInvalidAuction)
	}

	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		current, err := s.ownedOpenAuction(ctx, id, seller)
		if err != nil {
			return err
		}
		if err := s.store.Delete(ctx, id); err != nil {
			return fmt.Errorf("service: failed to delete auction %s: %w", id, err)
		}
		env, err := events.Deleted(current, s.clock.Now())
		if err != nil {
			return fmt.Errorf("service: build deleted event: %w", err)
		}
		return s.emit(ctx, env)
	})
	if err != nil {
		return err
	}

	utils.Info("auction deleted", map[string]any{"auction_id": id})
	return nil
}

// GetAuction returns one auction
func (s *AuctionService) GetAuction(ctx context.Context, id string) (models.Auction, error) {
	if id == "" {
		return models.Auction{}, fmt.Errorf("service: %w - empty auction id", biddingerrors.ErrInvalidAuction)
	}
	a, err := s.store.Find(ctx, id)
	if err != nil {
		return models.Auction{}, fmt.Errorf("service: failed to get auction %s: %w", id, err)
	}
	return a, nil
}

// ListAuctions returns auctions changed after updatedAfter; zero means all
func (s *AuctionService) ListAuctions(ctx context.Context, updatedAfter time.Time) ([]models.Auction, error) {
	list, err := s.store.List(ctx, updatedAfter)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list auctions: %w", err)
	}
	return list, nil
}

func (s *AuctionService) ownedOpenAuction(ctx context.Context, id, seller string) (models.Auction, error) {
	current, err := s.store.Find(ctx, id)
	if err != nil {
		return models.Auction{}, fmt.Errorf("service: failed to load auction %s: %w", id, err)
	}
	if current.Seller != seller {
		return models.Auction{}, fmt.Errorf("service: %w - auction %s", biddingerrors.ErrNotSeller, id)
	}
	if current.Finalized {
		return models.Auction{}, fmt.Errorf("service: %w - auction %s", biddingerrors.ErrAuctionFinalized, id)
	}
	return current, nil
}

// emit records env in the outbox and publishes it. Any failure aborts the
// surrounding transaction, so the mutation and its event stand or fall together.
func (s *AuctionService) emit(ctx context.Context, env events.Envelope) error {
	if err := s.outbox.Enqueue(ctx, env); err != nil {
		return fmt.Errorf("service: failed to enqueue %s: %w", env.Tag, err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, env); err != nil {
		utils.Error("publish failed, rolling back", map[string]any{
			"auction_id": env.AuctionID,
			"tag":        env.Tag,
			"message_id": env.MessageID,
			"error":      err.Error(),
		})
		return fmt.Errorf("service: failed to publish %s for auction %s: %w", env.Tag, env.AuctionID, err)
	}

	if err := s.outbox.MarkSent(ctx, env.MessageID, s.clock.Now()); err != nil {
		return fmt.Errorf("service: failed to mark %s sent: %w", env.MessageID, err)
	}
	return nil
}

func validateCreate(in CreateAuctionInput, now time.Time) error {
	if strings.TrimSpace(in.Seller) == "" {
		return fmt.Errorf("service: %w - missing seller", biddingerrors.ErrInvalidAuction)
	}
	if in.ReservePrice < 0 {
		return fmt.Errorf("service: %w - negative reserve price", biddingerrors.ErrInvalidAuction)
	}
	if !in.AuctionEnd.After(now) {
		return fmt.Errorf("service: %w - auction end must be in the future", biddingerrors.ErrInvalidAuction)
	}
	if err := events.CheckItemShape(in.Item); err != nil {
		return fmt.Errorf("service: %w - %v", biddingerrors.ErrInvalidAuction, err)
	}
	return nil
}
