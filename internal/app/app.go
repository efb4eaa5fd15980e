// Package app wires configuration, stores, the bus and the services into one
// runnable process.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	bidding "auction-lifecycle/internal/biddingService"
	"auction-lifecycle/internal/bus"
	"auction-lifecycle/internal/clock"
	"auction-lifecycle/internal/config"
	"auction-lifecycle/internal/lifecycle"
	"auction-lifecycle/internal/projector"
	"auction-lifecycle/internal/repository"
	"auction-lifecycle/internal/repository/gormrepo"
	"auction-lifecycle/internal/scheduler"
	"auction-lifecycle/internal/server"
	"auction-lifecycle/utils"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Deps are the already-opened backends the services run on
type Deps struct {
	Auctions repository.AuctionStore
	Ledger   repository.BidLedger
	Outbox   repository.Outbox
	Replica  repository.ReplicaStore
	Bus      bus.Bus
	Clock    clock.Clock
}

type App struct {
	cfg       config.Config
	bus       bus.Bus
	scheduler *scheduler.Scheduler
	router    *gin.Engine
	closers   []func() error

	Auctions  *lifecycle.AuctionService
	Bidding   *bidding.BiddingService
	Projector *projector.Projector
}

// New opens the configured databases and bus and assembles the services.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	var closers []func() error
	fail := func(err error) (*App, error) {
		for _, c := range closers {
			_ = c()
		}
		return nil, err
	}

	auctionDB, err := gormrepo.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return fail(fmt.Errorf("app: open auction database: %w", err))
	}
	closers = append(closers, closerFor(auctionDB.DB))
	auctions, err := gormrepo.NewAuctionRepo(auctionDB)
	if err != nil {
		return fail(fmt.Errorf("app: auction store: %w", err))
	}

	searchDB, err := gormrepo.Open(cfg.DatabaseDriver, cfg.SearchDSN)
	if err != nil {
		return fail(fmt.Errorf("app: open search database: %w", err))
	}
	closers = append(closers, closerFor(searchDB.DB))
	replica, err := gormrepo.NewReplicaRepo(searchDB)
	if err != nil {
		return fail(fmt.Errorf("app: replica store: %w", err))
	}

	policy := bus.RetryPolicy{MaxDeliveries: cfg.MaxDeliveries, Backoff: cfg.RetryBackoff, MaxBackoff: cfg.MaxBackoff}
	var b bus.Bus
	switch cfg.BusDriver {
	case config.BusRedis:
		rdb, err := bus.DialRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return fail(fmt.Errorf("app: %w", err))
		}
		closers = append(closers, rdb.Close)
		b, err = bus.NewRedisBus(rdb, bus.RedisOptions{
			Prefix:   cfg.StreamPrefix,
			Group:    cfg.ConsumerGroup,
			Consumer: cfg.ConsumerName,
			Policy:   policy,
		})
		if err != nil {
			return fail(fmt.Errorf("app: %w", err))
		}
	default:
		b = bus.NewMemoryBus(policy, cfg.BusWorkers)
	}

	a := Assemble(cfg, Deps{
		Auctions: auctions,
		Ledger:   auctions,
		Outbox:   auctions,
		Replica:  replica,
		Bus:      b,
		Clock:    clock.NewSystem(),
	})
	a.closers = closers
	return a, nil
}

func closerFor(get func() (*sql.DB, error)) func() error {
	return func() error {
		db, err := get()
		if err != nil {
			return err
		}
		return db.Close()
	}
}

// Assemble builds the services on top of deps without opening anything.
func Assemble(cfg config.Config, deps Deps) *App {
	a := &App{cfg: cfg, bus: deps.Bus}

	a.Auctions = lifecycle.NewAuctionService(deps.Auctions, deps.Outbox, deps.Bus, deps.Clock, cfg.PublishTimeout)
	a.Bidding = bidding.NewBiddingService(deps.Auctions, deps.Ledger, deps.Clock)
	a.Projector = projector.New(deps.Replica, deps.Clock, cfg.ProjectorStripes)
	a.Projector.Register(deps.Bus)

	a.scheduler = scheduler.New(deps.Auctions, deps.Ledger, deps.Outbox, deps.Bus, deps.Clock, scheduler.Options{
		PollInterval: cfg.PollInterval,
		TickBudget:   cfg.TickBudget,
		CallTimeout:  cfg.CallTimeout,
		BatchSize:    cfg.BatchSize,
		RelayGrace:   cfg.RelayGrace,
	})

	a.router = server.SetupRouter(server.Services{
		Auctions: a.Auctions,
		Bidding:  a.Bidding,
		Search:   a.Projector,
		Parked:   deps.Bus,
	})
	return a
}

// Router returns the HTTP handler.
func (a *App) Router() http.Handler {
	return a.router
}

// Scheduler returns the finalization scheduler.
func (a *App) Scheduler() *scheduler.Scheduler {
	return a.scheduler
}

// Run serves HTTP and runs the bus consumers and the scheduler until ctx is
// cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.bus.Run(gctx)
	})
	g.Go(func() error {
		return a.scheduler.Run(gctx)
	})
	g.Go(func() error {
		utils.Info("http server listening", map[string]any{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Close releases database and broker connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}
