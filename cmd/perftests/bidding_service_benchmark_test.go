package perftests

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	bidding "auction-lifecycle/internal/biddingService"
	"auction-lifecycle/internal/clock"
	"auction-lifecycle/internal/events"
	"auction-lifecycle/internal/models"
	"auction-lifecycle/internal/projector"
	"auction-lifecycle/internal/repository"
	"auction-lifecycle/internal/scheduler"
)

var benchStart = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func benchAuction(id string, end time.Time) models.Auction {
	return models.Auction{
		ID:           id,
		Seller:       "seller",
		ReservePrice: 50,
		AuctionEnd:   end,
		Version:      1,
		CreatedAt:    benchStart,
		UpdatedAt:    benchStart,
		Item:         models.Item{Make: "Ford", Model: "Focus", Color: "Blue", Mileage: 1000, Year: 2020},
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, events.Envelope) error { return nil }

// Benchmark 1: PlaceBid - Isolated Auctions (Low Contention - Micro Benchmark)
func Benchmark_PlaceBid_Isolated(b *testing.B) {
	repo := repository.NewMemoryRepo()
	svc := bidding.NewBiddingService(repo, repo, clock.NewFixed(benchStart))
	ctx := context.Background()

	for i := 0; i < b.N; i++ {
		repo.AddAuction(benchAuction(fmt.Sprintf("auction_%d", i), benchStart.Add(time.Hour)))
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		bidder := fmt.Sprintf("user_%d", i)
		auctionID := fmt.Sprintf("auction_%d", i)
		amount := int64(50 + rand.Intn(100))
		if _, err := svc.PlaceBid(ctx, auctionID, bidder, amount); err != nil {
			b.Fatalf("failed to place bid: %v", err)
		}
	}
}

// Benchmark 2: PlaceBid - Shared Auction (High Contention - Concurrency Benchmark)
func Benchmark_PlaceBid_ConcurrentSharedAuction(b *testing.B) {
	repo := repository.NewMemoryRepo()
	svc := bidding.NewBiddingService(repo, repo, clock.NewFixed(benchStart))
	repo.AddAuction(benchAuction("shared_auction_1", benchStart.Add(time.Hour)))

	b.ReportAllocs()
	b.ResetTimer()

	var lastBid int64 = 50

	b.RunParallel(func(pb *testing.PB) {
		rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
		ctx := context.Background()
		for pb.Next() {
			bidder := fmt.Sprintf("user_parallel_%d", rnd.Int())
			next := atomic.AddInt64(&lastBid, int64(rnd.Intn(5)+1))
			_, _ = svc.PlaceBid(ctx, "shared_auction_1", bidder, next)
		}
	})
}

// Benchmark 3: GetWinningBid - Concurrent readers on one auction
func Benchmark_GetWinningBid_ConcurrentSharedAuction(b *testing.B) {
	repo := repository.NewMemoryRepo()
	svc := bidding.NewBiddingService(repo, repo, clock.NewFixed(benchStart))
	repo.AddAuction(benchAuction("shared_auction_1", benchStart.Add(time.Hour)))

	ctx := context.Background()
	for j := 0; j < 100; j++ {
		_, _ = svc.PlaceBid(ctx, "shared_auction_1", fmt.Sprintf("user_%d", j), int64(50+j))
	}

	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := svc.GetWinningBid(ctx, "shared_auction_1"); err != nil {
				b.Errorf("failed to get winning bid: %v", err)
				return
			}
		}
	})
}

// Benchmark 4: Projector - one Created plus one Updated per auction
func Benchmark_Projector_Apply(b *testing.B) {
	p := projector.New(repository.NewMemoryReplica(), clock.NewFixed(benchStart), 64)
	ctx := context.Background()

	envs := make([]events.Envelope, 0, 2*b.N)
	for i := 0; i < b.N; i++ {
		a := benchAuction(fmt.Sprintf("auction_%d", i), benchStart.Add(time.Hour))
		created, err := events.Created(a)
		if err != nil {
			b.Fatal(err)
		}
		a.Version = 2
		updated, err := events.Updated(a, models.ItemPatch{Color: models.Some("Red")})
		if err != nil {
			b.Fatal(err)
		}
		// updates first so half the work goes through partial rows
		envs = append(envs, updated, created)
	}

	b.ReportAllocs()
	b.ResetTimer()

	for _, env := range envs {
		if err := p.Handle(ctx, env); err != nil {
			b.Fatalf("failed to apply %s: %v", env.Tag, err)
		}
	}
}

// Benchmark 5: Scheduler tick over a batch of expired auctions with bids
func Benchmark_Scheduler_Tick(b *testing.B) {
	const batch = 100
	ctx := context.Background()

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		repo := repository.NewMemoryRepo()
		clk := clock.NewManual(benchStart)
		svc := bidding.NewBiddingService(repo, repo, clk)
		for j := 0; j < batch; j++ {
			id := fmt.Sprintf("auction_%d", j)
			repo.AddAuction(benchAuction(id, benchStart.Add(time.Minute)))
			_, _ = svc.PlaceBid(ctx, id, "bidder", 100)
		}
		clk.Advance(time.Hour)
		s := scheduler.New(repo, repo, repo, nopPublisher{}, clk, scheduler.Options{BatchSize: batch})
		b.StartTimer()

		if report := s.Tick(ctx); report.Finalized != batch {
			b.Fatalf("expected %d finalized, got %+v", batch, report)
		}
	}
}
