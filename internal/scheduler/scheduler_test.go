package scheduler

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	bidding "auction-lifecycle/internal/biddingService"
	"auction-lifecycle/internal/biddingerrors"
	"auction-lifecycle/internal/bus"
	"auction-lifecycle/internal/clock"
	"auction-lifecycle/internal/events"
	"auction-lifecycle/internal/models"
	"auction-lifecycle/internal/repository"
	"auction-lifecycle/utils"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
)

func init() {
	utils.SetLogOutput(io.Discard)
}

var baseTime = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

var testOpts = Options{
	PollInterval: time.Hour,
	TickBudget:   5 * time.Second,
	CallTimeout:  time.Second,
	BatchSize:    50,
	RelayGrace:   30 * time.Second,
}

type recordingPublisher struct {
	mu    sync.Mutex
	fails int
	sent  []events.Envelope
}

func (p *recordingPublisher) Publish(ctx context.Context, env events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fails > 0 {
		p.fails--
		return biddingerrors.ErrTransient
	}
	p.sent = append(p.sent, env)
	return nil
}

func (p *recordingPublisher) finished() []events.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Envelope
	for _, env := range p.sent {
		if env.Tag == events.TagFinished {
			out = append(out, env)
		}
	}
	return out
}

// faultyLedger fails or panics for chosen auctions
type faultyLedger struct {
	repository.BidLedger
	failFor  string
	panicFor string
}

func (l faultyLedger) AcceptedBids(ctx context.Context, auctionID string) ([]models.Bid, error) {
	switch auctionID {
	case l.failFor:
		return nil, biddingerrors.ErrTransient
	case l.panicFor:
		panic("ledger exploded")
	}
	return l.BidLedger.AcceptedBids(ctx, auctionID)
}

func endedAuction(id string, end time.Time) models.Auction {
	return models.Auction{
		ID:           id,
		Seller:       "alice",
		ReservePrice: 10,
		AuctionEnd:   end,
		Version:      1,
		CreatedAt:    end.Add(-time.Hour),
		UpdatedAt:    end.Add(-time.Hour),
		Item:         models.Item{Make: "Ford", Model: "GT", Color: "White", Mileage: 50, Year: 2020},
	}
}

func decodeFinished(t *testing.T, env events.Envelope) events.AuctionFinished {
	t.Helper()
	payload, err := events.DecodeFinished(env)
	require.NoError(t, err)
	return payload
}

func TestScheduler_FinalizesWithAndWithoutBids(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	repo := repository.NewMemoryRepo()
	repo.AddAuction(endedAuction("sold", baseTime.Add(-time.Minute)))
	repo.AddAuction(endedAuction("unsold", baseTime.Add(-2*time.Minute)))
	repo.AddAuction(endedAuction("open", baseTime.Add(time.Hour)))

	bids := []models.Bid{
		{BidID: "b1", AuctionID: "sold", Bidder: "A", Amount: 100, Status: models.BidAccepted, CreatedAt: baseTime.Add(-time.Hour)},
		{BidID: "b2", AuctionID: "sold", Bidder: "B", Amount: 150, Status: models.BidAccepted, CreatedAt: baseTime.Add(-50 * time.Minute)},
		{BidID: "b3", AuctionID: "sold", Bidder: "C", Amount: 150, Status: models.BidAccepted, CreatedAt: baseTime.Add(-40 * time.Minute)},
		{BidID: "b4", AuctionID: "sold", Bidder: "D", Amount: 900, Status: models.BidTooLow, CreatedAt: baseTime.Add(-30 * time.Minute)},
	}
	for _, b := range bids {
		require.NoError(t, repo.RecordBid(ctx, b))
	}

	pub := &recordingPublisher{}
	s := New(repo, repo, repo, pub, clock.NewFixed(baseTime), testOpts)

	report := s.Tick(ctx)
	require.Equal(t, TickReport{Found: 2, Finalized: 2}, report)

	finished := pub.finished()
	require.Len(t, finished, 2)
	byID := map[string]events.AuctionFinished{}
	for _, env := range finished {
		byID[env.AuctionID] = decodeFinished(t, env)
		require.Equal(t, int64(2), events.VersionOf(env))
	}

	sold := byID["sold"]
	require.True(t, sold.ItemSold)
	require.Equal(t, "B", *sold.Winner)
	require.Equal(t, int64(150), *sold.Amount)

	unsold := byID["unsold"]
	require.False(t, unsold.ItemSold)
	require.Nil(t, unsold.Winner)
	require.Nil(t, unsold.Amount)

	a, err := repo.Find(ctx, "sold")
	require.NoError(t, err)
	require.True(t, a.Finalized)

	open, err := repo.Find(ctx, "open")
	require.NoError(t, err)
	require.False(t, open.Finalized)

	pending, err := repo.Pending(ctx, baseTime.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Empty(t, pending)

	// a second pass finds nothing
	require.Equal(t, TickReport{}, s.Tick(ctx))
}

func TestScheduler_ConcurrentInstancesFinalizeOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	repo := repository.NewMemoryRepo()
	for i := 0; i < 20; i++ {
		repo.AddAuction(endedAuction(string(rune('a'+i)), baseTime.Add(-time.Duration(i+1)*time.Minute)))
	}

	pub := &recordingPublisher{}
	clk := clock.NewFixed(baseTime)
	schedulers := []*Scheduler{
		New(repo, repo, repo, pub, clk, testOpts),
		New(repo, repo, repo, pub, clk, testOpts),
		New(repo, repo, repo, pub, clk, testOpts),
	}

	reports := make([]TickReport, len(schedulers))
	var wg sync.WaitGroup
	for i, s := range schedulers {
		wg.Add(1)
		go func(i int, s *Scheduler) {
			defer wg.Done()
			reports[i] = s.Tick(ctx)
		}(i, s)
	}
	wg.Wait()

	total := 0
	for _, r := range reports {
		total += r.Finalized
		require.Zero(t, r.Failed)
	}
	require.Equal(t, 20, total)

	finished := pub.finished()
	require.Len(t, finished, 20)
	seen := map[string]bool{}
	for _, env := range finished {
		require.False(t, seen[env.AuctionID], "auction %s finished twice", env.AuctionID)
		seen[env.AuctionID] = true
	}
}

// slowLedger holds a bid between its open check and the ledger write
type slowLedger struct {
	repository.BidLedger
	entered chan struct{}
	release chan struct{}
}

func (l slowLedger) RecordBid(ctx context.Context, bid models.Bid) error {
	close(l.entered)
	<-l.release
	return l.BidLedger.RecordBid(ctx, bid)
}

func TestScheduler_BidInFlightAtEndIsCounted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	repo := repository.NewMemoryRepo()
	repo.AddAuction(endedAuction("a1", baseTime.Add(time.Minute)))
	clk := clock.NewManual(baseTime)

	ledger := slowLedger{BidLedger: repo, entered: make(chan struct{}), release: make(chan struct{})}
	bids := bidding.NewBiddingService(repo, ledger, clk)
	bidDone := make(chan error, 1)
	go func() {
		_, err := bids.PlaceBid(ctx, "a1", "bob", 75)
		bidDone <- err
	}()

	// the bid passed its open check; now the auction ends and a tick starts
	<-ledger.entered
	clk.Advance(2 * time.Minute)
	pub := &recordingPublisher{}
	s := New(repo, repo, repo, pub, clk, testOpts)
	tickDone := make(chan TickReport, 1)
	go func() { tickDone <- s.Tick(ctx) }()

	time.Sleep(20 * time.Millisecond)
	close(ledger.release)
	require.NoError(t, <-bidDone)
	report := <-tickDone
	require.Equal(t, 1, report.Finalized)

	finished := pub.finished()
	require.Len(t, finished, 1)
	payload, err := events.DecodeFinished(finished[0])
	require.NoError(t, err)
	require.True(t, payload.ItemSold)
	require.Equal(t, "bob", *payload.Winner)
	require.Equal(t, int64(75), *payload.Amount)
}

func TestScheduler_IsolatesFailingAuctions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	repo := repository.NewMemoryRepo()
	repo.AddAuction(endedAuction("bad", baseTime.Add(-3*time.Minute)))
	repo.AddAuction(endedAuction("boom", baseTime.Add(-2*time.Minute)))
	repo.AddAuction(endedAuction("good", baseTime.Add(-time.Minute)))

	pub := &recordingPublisher{}
	ledger := faultyLedger{BidLedger: repo, failFor: "bad", panicFor: "boom"}
	s := New(repo, ledger, repo, pub, clock.NewFixed(baseTime), testOpts)

	report := s.Tick(ctx)
	require.Equal(t, 3, report.Found)
	require.Equal(t, 1, report.Finalized)
	require.Equal(t, 2, report.Failed)

	finished := pub.finished()
	require.Len(t, finished, 1)
	require.Equal(t, "good", finished[0].AuctionID)

	for _, id := range []string{"bad", "boom"} {
		a, err := repo.Find(ctx, id)
		require.NoError(t, err)
		require.False(t, a.Finalized, "%s must stay open for the next tick", id)
	}
}

func TestScheduler_RelayRepublishesAfterPublishFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	repo := repository.NewMemoryRepo()
	repo.AddAuction(endedAuction("a1", baseTime.Add(-time.Minute)))

	pub := &recordingPublisher{fails: 1}
	clk := clock.NewManual(baseTime)
	s := New(repo, repo, repo, pub, clk, testOpts)

	report := s.Tick(ctx)
	require.Equal(t, 1, report.Finalized)
	require.Equal(t, 1, report.Unpublished)
	require.Empty(t, pub.finished())

	a, err := repo.Find(ctx, "a1")
	require.NoError(t, err)
	require.True(t, a.Finalized, "finalization commits even when publishing fails")

	// still inside the grace window
	require.Equal(t, TickReport{}, s.Tick(ctx))

	clk.Advance(testOpts.RelayGrace + time.Second)
	report = s.Tick(ctx)
	require.Equal(t, TickReport{Republished: 1}, report)

	finished := pub.finished()
	require.Len(t, finished, 1)
	require.Equal(t, "a1", finished[0].AuctionID)

	pending, err := repo.Pending(ctx, clk.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestScheduler_RunTicksImmediatelyAndStops(t *testing.T) {
	t.Parallel()

	repo := repository.NewMemoryRepo()
	repo.AddAuction(endedAuction("a1", baseTime.Add(-time.Minute)))
	pub := &recordingPublisher{}
	s := New(repo, repo, repo, pub, clock.NewFixed(baseTime), testOpts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return len(pub.finished()) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
}

func TestScheduler_FinalizeOne(t *testing.T) {
	t.Parallel()

	auction := endedAuction("a1", baseTime.Add(-time.Minute))
	passThroughTx := func(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) }

	tests := []struct {
		name      string
		mockSetup func(store *repository.MockAuctionStore, ledger *repository.MockBidLedger, outbox *repository.MockOutbox, pub *bus.MockPublisher)
		want      result
		wantErr   error
	}{
		{
			name: "lost_race_publishes_nothing",
			mockSetup: func(store *repository.MockAuctionStore, ledger *repository.MockBidLedger, outbox *repository.MockOutbox, pub *bus.MockPublisher) {
				store.EXPECT().WithTx(gomock.Any(), gomock.Any()).DoAndReturn(passThroughTx)
				store.EXPECT().MarkFinalized(gomock.Any(), "a1", baseTime).Return(false, nil)
			},
			want: resultSkipped,
		},
		{
			name: "won_race_enqueues_then_publishes",
			mockSetup: func(store *repository.MockAuctionStore, ledger *repository.MockBidLedger, outbox *repository.MockOutbox, pub *bus.MockPublisher) {
				finalized := auction
				finalized.Finalized = true
				finalized.Version = 2
				gomock.InOrder(
					store.EXPECT().WithTx(gomock.Any(), gomock.Any()).DoAndReturn(passThroughTx),
					store.EXPECT().MarkFinalized(gomock.Any(), "a1", baseTime).Return(true, nil),
					ledger.EXPECT().AcceptedBids(gomock.Any(), "a1").Return(nil, nil),
					store.EXPECT().Find(gomock.Any(), "a1").Return(finalized, nil),
					outbox.EXPECT().Enqueue(gomock.Any(), gomock.Any()).Return(nil),
					pub.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil),
					outbox.EXPECT().MarkSent(gomock.Any(), gomock.Any(), baseTime).Return(nil),
				)
			},
			want: resultFinalized,
		},
		{
			name: "enqueue_failure_is_an_error",
			mockSetup: func(store *repository.MockAuctionStore, ledger *repository.MockBidLedger, outbox *repository.MockOutbox, pub *bus.MockPublisher) {
				store.EXPECT().WithTx(gomock.Any(), gomock.Any()).DoAndReturn(passThroughTx)
				store.EXPECT().MarkFinalized(gomock.Any(), "a1", baseTime).Return(true, nil)
				ledger.EXPECT().AcceptedBids(gomock.Any(), "a1").Return(nil, nil)
				store.EXPECT().Find(gomock.Any(), "a1").Return(auction, nil)
				outbox.EXPECT().Enqueue(gomock.Any(), gomock.Any()).Return(biddingerrors.ErrTransient)
			},
			wantErr: biddingerrors.ErrTransient,
		},
		{
			name: "ledger_failure_aborts_the_finalize",
			mockSetup: func(store *repository.MockAuctionStore, ledger *repository.MockBidLedger, outbox *repository.MockOutbox, pub *bus.MockPublisher) {
				store.EXPECT().WithTx(gomock.Any(), gomock.Any()).DoAndReturn(passThroughTx)
				store.EXPECT().MarkFinalized(gomock.Any(), "a1", baseTime).Return(true, nil)
				ledger.EXPECT().AcceptedBids(gomock.Any(), "a1").Return(nil, biddingerrors.ErrTransient)
			},
			wantErr: biddingerrors.ErrTransient,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			store := repository.NewMockAuctionStore(ctrl)
			ledger := repository.NewMockBidLedger(ctrl)
			outbox := repository.NewMockOutbox(ctrl)
			pub := bus.NewMockPublisher(ctrl)
			tc.mockSetup(store, ledger, outbox, pub)

			s := New(store, ledger, outbox, pub, clock.NewFixed(baseTime), testOpts)
			got, _, err := s.finalizeOne(context.Background(), auction)
			if tc.wantErr != nil {
				require.True(t, errors.Is(err, tc.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}
