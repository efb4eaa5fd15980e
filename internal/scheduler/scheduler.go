// Package scheduler finalizes auctions whose end time has passed. Any number
// of instances may run against the same store; the MarkFinalized
// compare-and-swap picks exactly one of them per auction.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	bidding "auction-lifecycle/internal/biddingService"
	"auction-lifecycle/internal/biddingerrors"
	"auction-lifecycle/internal/bus"
	"auction-lifecycle/internal/clock"
	"auction-lifecycle/internal/events"
	"auction-lifecycle/internal/models"
	"auction-lifecycle/internal/repository"
	"auction-lifecycle/utils"
)

// Options tunes the loop.
type Options struct {
	PollInterval time.Duration
	TickBudget   time.Duration
	CallTimeout  time.Duration
	BatchSize    int
	RelayGrace   time.Duration
}

func (o Options) normalized() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.TickBudget <= 0 {
		o.TickBudget = o.PollInterval
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 2 * time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.RelayGrace <= 0 {
		o.RelayGrace = 30 * time.Second
	}
	return o
}

// TickReport summarizes one pass.
type TickReport struct {
	Found               int
	Finalized           int
	Skipped             int
	Failed              int
	Unpublished         int
	Republished         int
	InvariantViolations int
}

func (r TickReport) empty() bool {
	return r == TickReport{}
}

type Scheduler struct {
	store     repository.AuctionStore
	ledger    repository.BidLedger
	outbox    repository.Outbox
	publisher bus.Publisher
	clock     clock.Clock
	opts      Options
}

func New(store repository.AuctionStore, ledger repository.BidLedger, outbox repository.Outbox, publisher bus.Publisher, clk clock.Clock, opts Options) *Scheduler {
	return &Scheduler{
		store:     store,
		ledger:    ledger,
		outbox:    outbox,
		publisher: publisher,
		clock:     clk,
		opts:      opts.normalized(),
	}
}

// Run ticks immediately and then every PollInterval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	utils.Info("finalization scheduler started", map[string]any{
		"poll_interval": s.opts.PollInterval.String(),
		"batch_size":    s.opts.BatchSize,
	})

	s.runTick(ctx)

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			utils.Info("finalization scheduler stopped", nil)
			return nil
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context) {
	tickCtx, cancel := context.WithTimeout(ctx, s.opts.TickBudget)
	defer cancel()

	report := s.Tick(tickCtx)
	if report.empty() {
		return
	}
	utils.Info("finalization tick", map[string]any{
		"found":                report.Found,
		"finalized":            report.Finalized,
		"skipped":              report.Skipped,
		"failed":               report.Failed,
		"unpublished":          report.Unpublished,
		"republished":          report.Republished,
		"invariant_violations": report.InvariantViolations,
	})
}

// Tick finalizes one batch of expired auctions and relays stale outbox rows.
func (s *Scheduler) Tick(ctx context.Context) TickReport {
	var report TickReport

	expired, err := s.store.QueryExpired(ctx, s.clock.Now(), s.opts.BatchSize)
	if err != nil {
		utils.Error("query expired auctions failed", map[string]any{"error": err.Error()})
		report.Failed++
	}
	report.Found = len(expired)

	for _, auction := range expired {
		if ctx.Err() != nil {
			break
		}
		s.finalizeSafely(ctx, auction, &report)
	}

	if ctx.Err() == nil {
		report.Republished = s.relay(ctx)
	}
	return report
}

type result int

const (
	resultFinalized result = iota
	resultUnpublished
	resultSkipped
)

var errLostRace = errors.New("auction already finalized")

func (s *Scheduler) finalizeSafely(ctx context.Context, auction models.Auction, report *TickReport) {
	defer func() {
		if r := recover(); r != nil {
			utils.Error("finalize panicked", map[string]any{"auction_id": auction.ID, "panic": fmt.Sprint(r)})
			report.Failed++
		}
	}()

	res, invariant, err := s.finalizeOne(ctx, auction)
	if invariant {
		report.InvariantViolations++
	}
	if err != nil {
		utils.Error("finalize failed", map[string]any{"auction_id": auction.ID, "error": err.Error()})
		report.Failed++
		return
	}
	switch res {
	case resultSkipped:
		report.Skipped++
	case resultUnpublished:
		report.Finalized++
		report.Unpublished++
	default:
		report.Finalized++
	}
}

func (s *Scheduler) finalizeOne(ctx context.Context, auction models.Auction) (result, bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()

	now := s.clock.Now()
	var (
		env       events.Envelope
		winner    *models.Bid
		invariant bool
	)
	// Bids are read after the CAS so a bid committed before it is counted and
	// one arriving after it sees the auction finalized.
	err := s.store.WithTx(callCtx, func(ctx context.Context) error {
		won, err := s.store.MarkFinalized(ctx, auction.ID, now)
		if err != nil {
			return err
		}
		if !won {
			return errLostRace
		}
		bids, err := s.ledger.AcceptedBids(ctx, auction.ID)
		if err != nil {
			return fmt.Errorf("load bids: %w", err)
		}
		winner, err = bidding.SelectWinner(bids)
		if err != nil {
			if !errors.Is(err, biddingerrors.ErrInvariant) {
				return fmt.Errorf("select winner: %w", err)
			}
			invariant = true
			utils.Error("bid ledger invariant violated", map[string]any{"auction_id": auction.ID, "error": err.Error()})
		}
		finalized, err := s.store.Find(ctx, auction.ID)
		if err != nil {
			return err
		}
		env, err = events.Finished(finalized, winner, now)
		if err != nil {
			return err
		}
		return s.outbox.Enqueue(ctx, env)
	})
	if errors.Is(err, errLostRace) {
		utils.Debug("auction finalized elsewhere", map[string]any{"auction_id": auction.ID})
		return resultSkipped, invariant, nil
	}
	if err != nil {
		return 0, invariant, fmt.Errorf("scheduler: finalize %s: %w", auction.ID, err)
	}

	fields := map[string]any{"auction_id": auction.ID, "item_sold": winner != nil, "message_id": env.MessageID}
	if winner != nil {
		fields["winner"] = winner.Bidder
		fields["amount"] = winner.Amount
		if winner.Amount < auction.ReservePrice {
			fields["reserve_met"] = false
		}
	}
	utils.Info("auction finalized", fields)

	if !s.publish(ctx, env) {
		return resultUnpublished, invariant, nil
	}
	return resultFinalized, invariant, nil
}

// publish sends env and marks its outbox row sent. A false return leaves the
// row pending for the relay.
func (s *Scheduler) publish(ctx context.Context, env events.Envelope) bool {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()

	if err := s.publisher.Publish(callCtx, env); err != nil {
		utils.Warn("publish failed, left in outbox", map[string]any{
			"auction_id": env.AuctionID,
			"tag":        env.Tag,
			"message_id": env.MessageID,
			"error":      err.Error(),
		})
		return false
	}
	if err := s.outbox.MarkSent(callCtx, env.MessageID, s.clock.Now()); err != nil {
		utils.Warn("mark sent failed", map[string]any{"message_id": env.MessageID, "error": err.Error()})
	}
	return true
}

// relay republishes outbox rows that stayed pending longer than RelayGrace.
// Envelopes keep their message ID, so consumers see a duplicate at worst.
func (s *Scheduler) relay(ctx context.Context) int {
	pending, err := s.outbox.Pending(ctx, s.clock.Now().Add(-s.opts.RelayGrace), s.opts.BatchSize)
	if err != nil {
		utils.Error("load pending outbox failed", map[string]any{"error": err.Error()})
		return 0
	}

	sent := 0
	for _, env := range pending {
		if ctx.Err() != nil {
			break
		}
		if s.publish(ctx, env) {
			sent++
		}
	}
	return sent
}
