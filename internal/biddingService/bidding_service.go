package bidding

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"auction-lifecycle/internal/biddingerrors"
	"auction-lifecycle/internal/clock"
	"auction-lifecycle/internal/keymutex"
	"auction-lifecycle/internal/models"
	"auction-lifecycle/internal/repository"
	"auction-lifecycle/utils"
)

// BiddingService defines the business logic for auction bidding
type BiddingService struct {
	auctions repository.AuctionStore
	ledger   repository.BidLedger
	clock    clock.Clock
	locks    *keymutex.Striped
}

// NewBiddingService creates a new BiddingService instance
func NewBiddingService(auctions repository.AuctionStore, ledger repository.BidLedger, clk clock.Clock) *BiddingService {
	return &BiddingService{
		auctions: auctions,
		ledger:   ledger,
		clock:    clk,
		locks:    keymutex.New(64),
	}
}

// PlaceBid validates and records a bid. A bid that does not beat the current
// high bid is still recorded, with status TooLow.
func (s *BiddingService) PlaceBid(ctx context.Context, auctionID, bidder string, amount int64) (models.Bid, error) {
	if auctionID == "" || bidder == "" {
		return models.Bid{}, fmt.Errorf("service: %w - missing auctionID or bidder", biddingerrors.ErrInvalidBid)
	}
	if amount <= 0 {
		return models.Bid{}, fmt.Errorf("service: %w - non-positive bid amount", biddingerrors.ErrInvalidBid)
	}

	unlock := s.locks.Lock(auctionID)
	defer unlock()

	var bid models.Bid
	// The open check and the ledger write share one transaction so the
	// finalize CAS either sees this bid or makes the check fail.
	err := s.auctions.WithTx(ctx, func(ctx context.Context) error {
		auction, err := s.auctions.Find(ctx, auctionID)
		if err != nil {
			return fmt.Errorf("service: failed to load auction %s: %w", auctionID, err)
		}
		if auction.Seller == bidder {
			return fmt.Errorf("service: %w - cannot bid on your own auction", biddingerrors.ErrInvalidBid)
		}
		now := s.clock.Now()
		if auction.Finalized || !now.Before(auction.AuctionEnd) {
			return fmt.Errorf("service: %w - auction %s ended at %s", biddingerrors.ErrAuctionClosed, auctionID, auction.AuctionEnd)
		}

		bid = models.Bid{
			BidID:     utils.GenerateID(),
			AuctionID: auctionID,
			Bidder:    bidder,
			Amount:    amount,
			Status:    models.BidAccepted,
			CreatedAt: now,
		}

		high, err := s.highBid(ctx, auctionID)
		if err != nil {
			return err
		}
		if high != nil && amount <= high.Amount {
			bid.Status = models.BidTooLow
		}

		if err := s.ledger.RecordBid(ctx, bid); err != nil {
			return fmt.Errorf("service: failed to record bid for auction %s by %s: %w", auctionID, bidder, err)
		}
		return nil
	})
	if err != nil {
		return models.Bid{}, err
	}
	return bid, nil
}

func (s *BiddingService) highBid(ctx context.Context, auctionID string) (*models.Bid, error) {
	accepted, err := s.ledger.AcceptedBids(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to check winning bid: %w", err)
	}
	winner, err := SelectWinner(accepted)
	if err != nil && !errors.Is(err, biddingerrors.ErrInvariant) {
		return nil, err
	}
	return winner, nil
}

// GetBidsForAuction returns all bids for a specific auction
func (s *BiddingService) GetBidsForAuction(ctx context.Context, auctionID string) ([]models.Bid, error) {
	if auctionID == "" {
		return nil, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidBid)
	}

	bids, err := s.ledger.BidsForAuction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get bids for auction %s: %w", auctionID, err)
	}

	return bids, nil
}

// GetWinningBid returns the current leading accepted bid for an auction
func (s *BiddingService) GetWinningBid(ctx context.Context, auctionID string) (models.Bid, error) {
	if auctionID == "" {
		return models.Bid{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidBid)
	}

	winner, err := s.highBid(ctx, auctionID)
	if err != nil {
		return models.Bid{}, fmt.Errorf("service: failed to get winning bid for auction %s: %w", auctionID, err)
	}
	if winner == nil {
		return models.Bid{}, fmt.Errorf("service: auction %s: %w", auctionID, biddingerrors.ErrNoBids)
	}

	return *winner, nil
}

// SelectWinner picks the highest amount; ties go to the earliest bid. It
// returns nil when bids is empty. Two bids with the same amount and timestamp
// break a ledger invariant: the lowest bid ID wins and the returned error
// wraps ErrInvariant alongside the chosen winner.
func SelectWinner(bids []models.Bid) (*models.Bid, error) {
	if len(bids) == 0 {
		return nil, nil
	}
	sorted := append([]models.Bid(nil), bids...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Amount != b.Amount {
			return a.Amount > b.Amount
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.BidID < b.BidID
	})

	winner := sorted[0]
	if len(sorted) > 1 && sorted[1].Amount == winner.Amount && sorted[1].CreatedAt.Equal(winner.CreatedAt) {
		return &winner, fmt.Errorf("bids %s and %s tie on amount %d at %s: %w",
			winner.BidID, sorted[1].BidID, winner.Amount, winner.CreatedAt, biddingerrors.ErrInvariant)
	}
	return &winner, nil
}
