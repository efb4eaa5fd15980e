package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"auction-lifecycle/internal/biddingerrors"
	"auction-lifecycle/internal/events"
	"auction-lifecycle/internal/models"

	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

// Helper to create a new Auction
func newAuction(id, vehicleMake string, end time.Time) models.Auction {
	return models.Auction{
		ID:           id,
		Seller:       "alice",
		ReservePrice: 100,
		AuctionEnd:   end,
		Version:      1,
		CreatedAt:    baseTime,
		UpdatedAt:    baseTime,
		Item:         models.Item{Make: vehicleMake, Model: "Model " + id, Color: "Red", Mileage: 10, Year: 2020},
	}
}

// Helper to create a new Bid
func newBid(bidID, auctionID, bidder string, amount int64, status models.BidStatus, createdAt time.Time) models.Bid {
	return models.Bid{
		BidID:     bidID,
		AuctionID: auctionID,
		Bidder:    bidder,
		Amount:    amount,
		Status:    status,
		CreatedAt: createdAt,
	}
}

func TestMemoryRepo_CreateFindUpdate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	repo := NewMemoryRepo()
	a := newAuction("a1", "Ford", baseTime.Add(time.Hour))
	require.NoError(t, repo.Create(ctx, a))
	require.True(t, errors.Is(repo.Create(ctx, a), biddingerrors.ErrConflict))

	got, err := repo.Find(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, a, got)

	_, err = repo.Find(ctx, "missing")
	require.True(t, errors.Is(err, biddingerrors.ErrAuctionNotFound))

	tests := []struct {
		name            string
		expectedVersion int64
		wantErr         error
	}{
		{name: "stale_version", expectedVersion: 7, wantErr: biddingerrors.ErrConflict},
		{name: "current_version", expectedVersion: 1},
	}
	for _, tc := range tests {
		updated := a
		updated.Item.Color = "Blue"
		updated.Version = 2
		err := repo.Update(ctx, updated, tc.expectedVersion)
		if tc.wantErr != nil {
			require.True(t, errors.Is(err, tc.wantErr), "%s: got %v", tc.name, err)
			continue
		}
		require.NoError(t, err, tc.name)
	}

	got, err = repo.Find(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, "Blue", got.Item.Color)

	require.NoError(t, repo.Delete(ctx, "a1"))
	require.True(t, errors.Is(repo.Delete(ctx, "a1"), biddingerrors.ErrAuctionNotFound))
}

func TestMemoryRepo_List(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	repo := NewMemoryRepo()
	old := newAuction("a1", "Mercedes", baseTime)
	recent := newAuction("a2", "Audi", baseTime)
	recent.UpdatedAt = baseTime.Add(time.Hour)
	repo.AddAuction(old)
	repo.AddAuction(recent)

	all, err := repo.List(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "Audi", all[0].Item.Make)

	changed, err := repo.List(ctx, baseTime)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	require.Equal(t, "a2", changed[0].ID)
}

func TestMemoryRepo_QueryExpired(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	repo := NewMemoryRepo()
	repo.AddAuction(newAuction("ended-late", "A", baseTime.Add(-time.Minute)))
	repo.AddAuction(newAuction("ended-early", "B", baseTime.Add(-time.Hour)))
	repo.AddAuction(newAuction("at-now", "C", baseTime))
	repo.AddAuction(newAuction("future", "D", baseTime.Add(time.Hour)))
	done := newAuction("done", "E", baseTime.Add(-2*time.Hour))
	done.Finalized = true
	repo.AddAuction(done)

	expired, err := repo.QueryExpired(ctx, baseTime, 0)
	require.NoError(t, err)
	ids := make([]string, 0, len(expired))
	for _, a := range expired {
		ids = append(ids, a.ID)
	}
	require.Equal(t, []string{"ended-early", "ended-late", "at-now"}, ids)

	limited, err := repo.QueryExpired(ctx, baseTime, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = repo.QueryExpired(cancelled, baseTime, 0)
	require.True(t, errors.Is(err, biddingerrors.ErrTransient))
}

func TestMemoryRepo_MarkFinalized_Concurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	repo := NewMemoryRepo()
	repo.AddAuction(newAuction("a1", "Ford", baseTime))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.MarkFinalized(ctx, "a1", baseTime)
			require.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), wins.Load(), "exactly one writer must win the swap")
	a, err := repo.Find(ctx, "a1")
	require.NoError(t, err)
	require.True(t, a.Finalized)
	require.Equal(t, int64(2), a.Version)
	require.NotNil(t, a.FinalizedAt)

	_, err = repo.MarkFinalized(ctx, "missing", baseTime)
	require.True(t, errors.Is(err, biddingerrors.ErrAuctionNotFound))
}

func TestMemoryRepo_Bids(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	repo := NewMemoryRepo()
	tests := []struct {
		name      string
		bid       models.Bid
		wantError bool
	}{
		{name: "accepted", bid: newBid("b1", "a1", "bob", 100, models.BidAccepted, baseTime)},
		{name: "too_low", bid: newBid("b2", "a1", "carol", 50, models.BidTooLow, baseTime.Add(time.Second))},
		{name: "second_accepted", bid: newBid("b3", "a1", "dave", 150, models.BidAccepted, baseTime.Add(2*time.Second))},
		{name: "empty_auction_id", bid: newBid("b4", "", "erin", 10, models.BidAccepted, baseTime), wantError: true},
	}
	for _, tc := range tests {
		err := repo.RecordBid(ctx, tc.bid)
		if tc.wantError {
			require.Error(t, err, tc.name)
			continue
		}
		require.NoError(t, err, tc.name)
	}

	all, err := repo.BidsForAuction(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "b3", all[0].BidID, "newest bid first")

	accepted, err := repo.AcceptedBids(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, accepted, 2)
	for _, b := range accepted {
		require.Equal(t, models.BidAccepted, b.Status)
	}

	none, err := repo.AcceptedBids(ctx, "other")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestMemoryRepo_Outbox(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	repo := NewMemoryRepo()
	a := newAuction("a1", "Ford", baseTime)
	first, err := events.Created(a)
	require.NoError(t, err)
	second, err := events.Deleted(a, baseTime.Add(time.Minute))
	require.NoError(t, err)

	require.NoError(t, repo.Enqueue(ctx, first))
	require.NoError(t, repo.Enqueue(ctx, second))
	require.True(t, errors.Is(repo.Enqueue(ctx, first), biddingerrors.ErrConflict))

	pending, err := repo.Pending(ctx, baseTime.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, first.MessageID, pending[0].MessageID)

	pending, err = repo.Pending(ctx, baseTime.Add(30*time.Second), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1, "events newer than the cutoff are not pending yet")

	require.NoError(t, repo.MarkSent(ctx, first.MessageID, baseTime))
	pending, err = repo.Pending(ctx, baseTime.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, second.MessageID, pending[0].MessageID)

	require.Error(t, repo.MarkSent(ctx, "unknown", baseTime))
}

func TestMemoryRepo_WithTx_RollsBack(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	repo := NewMemoryRepo()
	a := newAuction("a1", "Ford", baseTime)
	env, err := events.Created(a)
	require.NoError(t, err)

	boom := errors.New("publish failed")
	err = repo.WithTx(ctx, func(ctx context.Context) error {
		require.NoError(t, repo.Create(ctx, a))
		require.NoError(t, repo.Enqueue(ctx, env))
		// nested transactions join the outer one
		return repo.WithTx(ctx, func(ctx context.Context) error { return boom })
	})
	require.ErrorIs(t, err, boom)

	_, err = repo.Find(ctx, "a1")
	require.True(t, errors.Is(err, biddingerrors.ErrAuctionNotFound))
	pending, err := repo.Pending(ctx, baseTime.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Empty(t, pending)

	require.NoError(t, repo.WithTx(ctx, func(ctx context.Context) error {
		return repo.Create(ctx, a)
	}))
	_, err = repo.Find(ctx, "a1")
	require.NoError(t, err)
}

func TestMemoryRepo_WithTx_RollbackKeepsOutsideWrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	repo := NewMemoryRepo()
	sent := newAuction("sent", "Ford", baseTime)
	repo.AddAuction(sent)
	env, err := events.Created(sent)
	require.NoError(t, err)
	require.NoError(t, repo.Enqueue(ctx, env))

	inTx := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- repo.WithTx(ctx, func(ctx context.Context) error {
			if err := repo.Create(ctx, newAuction("doomed", "Audi", baseTime)); err != nil {
				return err
			}
			close(inTx)
			<-release
			return errors.New("lost the race")
		})
	}()

	<-inTx
	// writes outside the transaction while it is open
	require.NoError(t, repo.MarkSent(ctx, env.MessageID, baseTime))
	require.NoError(t, repo.RecordBid(ctx, newBid("b1", "sent", "bob", 150, models.BidAccepted, baseTime)))
	close(release)
	require.Error(t, <-done)

	pending, err := repo.Pending(ctx, baseTime.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Empty(t, pending, "sent event must stay sent after an unrelated rollback")

	bids, err := repo.AcceptedBids(ctx, "sent")
	require.NoError(t, err)
	require.Len(t, bids, 1)

	_, err = repo.Find(ctx, "doomed")
	require.True(t, errors.Is(err, biddingerrors.ErrAuctionNotFound))
}

func TestMemoryRepo_WithTx_RollsBackOnPanic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	repo := NewMemoryRepo()
	repo.AddAuction(newAuction("a1", "Ford", baseTime))

	require.Panics(t, func() {
		_ = repo.WithTx(ctx, func(ctx context.Context) error {
			won, err := repo.MarkFinalized(ctx, "a1", baseTime)
			require.NoError(t, err)
			require.True(t, won)
			require.NoError(t, repo.RecordBid(ctx, newBid("b1", "a1", "bob", 150, models.BidAccepted, baseTime)))
			panic("ledger exploded")
		})
	})

	a, err := repo.Find(ctx, "a1")
	require.NoError(t, err)
	require.False(t, a.Finalized)
	require.Equal(t, int64(1), a.Version)
	bids, err := repo.BidsForAuction(ctx, "a1")
	require.NoError(t, err)
	require.Empty(t, bids)

	// the lock was released
	require.NoError(t, repo.WithTx(ctx, func(ctx context.Context) error { return nil }))
}

func replicaItem(id, vehicleMake string, status models.ReplicaStatus, end time.Time) models.ReplicaItem {
	return models.ReplicaItem{
		ID:            id,
		Seller:        "alice",
		AuctionEnd:    end,
		CreatedAt:     baseTime,
		UpdatedAt:     baseTime,
		Make:          vehicleMake,
		Model:         "Model " + id,
		Color:         "Red",
		Status:        status,
		FieldVersions: map[string]int64{"make": 1},
	}
}

func TestMemoryReplica_PutGetDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := NewMemoryReplica()
	item := replicaItem("a1", "Ford", models.StatusLive, baseTime.Add(time.Hour))
	require.NoError(t, store.Put(ctx, item))

	got, ok, err := store.Get(ctx, "a1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, item, got)

	// mutating the returned copy must not leak into the store
	got.FieldVersions["make"] = 99
	again, _, err := store.Get(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, int64(1), again.FieldVersions["make"])

	require.NoError(t, store.Delete(ctx, "a1", baseTime))
	require.NoError(t, store.Delete(ctx, "never-existed", baseTime))

	_, ok, err = store.Get(ctx, "a1")
	require.NoError(t, err)
	require.False(t, ok)

	for _, id := range []string{"a1", "never-existed"} {
		dead, err := store.IsTombstoned(ctx, id)
		require.NoError(t, err)
		require.True(t, dead, id)
	}
}

func TestMemoryReplica_Search(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := NewMemoryReplica()
	winner := "bob"
	sold := replicaItem("sold", "Audi", models.StatusSold, baseTime.Add(-time.Hour))
	sold.Winner = &winner
	soon := replicaItem("soon", "Ford", models.StatusLive, baseTime.Add(2*time.Hour))
	soon.CreatedAt = baseTime.Add(time.Minute)
	later := replicaItem("later", "Bugatti", models.StatusLive, baseTime.Add(48*time.Hour))
	later.Color = "Blue"
	partial := replicaItem("partial", "Aaa", models.StatusLive, baseTime.Add(time.Hour))
	partial.Partial = true
	for _, it := range []models.ReplicaItem{sold, soon, later, partial} {
		require.NoError(t, store.Put(ctx, it))
	}

	tests := []struct {
		name   string
		params models.SearchParams
		want   []string
	}{
		{name: "default_orders_by_make", params: models.SearchParams{}, want: []string{"sold", "later", "soon"}},
		{name: "term_matches_color", params: models.SearchParams{Term: "blue"}, want: []string{"later"}},
		{name: "term_matches_make_case_insensitive", params: models.SearchParams{Term: "FOR"}, want: []string{"soon"}},
		{name: "winner", params: models.SearchParams{Winner: "bob"}, want: []string{"sold"}},
		{name: "seller_mismatch", params: models.SearchParams{Seller: "zoe"}, want: []string{}},
		{name: "finished", params: models.SearchParams{FilterBy: FilterFinished}, want: []string{"sold"}},
		{name: "ending_soon", params: models.SearchParams{FilterBy: FilterEndingSoon}, want: []string{"soon"}},
		{name: "live", params: models.SearchParams{FilterBy: FilterLive, OrderBy: OrderEndingSoon}, want: []string{"soon", "later"}},
		{name: "newest_first", params: models.SearchParams{OrderBy: OrderNew}, want: []string{"soon", "later", "sold"}},
		{name: "second_page", params: models.SearchParams{Page: 2, PageSize: 2}, want: []string{"soon"}},
		{name: "page_past_end", params: models.SearchParams{Page: 9, PageSize: 2}, want: []string{}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := tc.params
			p.Now = baseTime
			res, err := store.Search(ctx, p)
			require.NoError(t, err)
			ids := make([]string, 0, len(res.Results))
			for _, r := range res.Results {
				ids = append(ids, r.ID)
			}
			require.Equal(t, tc.want, ids, fmt.Sprintf("%+v", res))
		})
	}

	res, err := store.Search(ctx, models.SearchParams{PageSize: 2, Now: baseTime})
	require.NoError(t, err)
	require.Equal(t, 3, res.Total)
	require.Equal(t, 2, res.PageCount)
}
