// Package projector keeps the search replica in step with lifecycle events.
// Every handler is idempotent and commutes with the others, so duplicate and
// reordered deliveries converge on the same row.
package projector

import (
	"context"
	"fmt"

	"auction-lifecycle/internal/biddingerrors"
	"auction-lifecycle/internal/bus"
	"auction-lifecycle/internal/clock"
	"auction-lifecycle/internal/events"
	"auction-lifecycle/internal/keymutex"
	"auction-lifecycle/internal/models"
	"auction-lifecycle/internal/repository"
	"auction-lifecycle/utils"
)

// Subscriber is the part of a bus the projector needs
type Subscriber interface {
	Subscribe(tag events.Tag, h bus.Handler)
}

// Projector applies lifecycle events to a ReplicaStore and serves reads from it
type Projector struct {
	store repository.ReplicaStore
	locks *keymutex.Striped
	clock clock.Clock
}

func New(store repository.ReplicaStore, clk clock.Clock, stripes int) *Projector {
	return &Projector{store: store, locks: keymutex.New(stripes), clock: clk}
}

// Register subscribes one handler per lifecycle tag.
func (p *Projector) Register(s Subscriber) {
	s.Subscribe(events.TagCreated, p.HandleCreated)
	s.Subscribe(events.TagUpdated, p.HandleUpdated)
	s.Subscribe(events.TagDeleted, p.HandleDeleted)
	s.Subscribe(events.TagFinished, p.HandleFinished)
}

// Handle routes env to the handler for its tag.
func (p *Projector) Handle(ctx context.Context, env events.Envelope) error {
	switch env.Tag {
	case events.TagCreated:
		return p.HandleCreated(ctx, env)
	case events.TagUpdated:
		return p.HandleUpdated(ctx, env)
	case events.TagDeleted:
		return p.HandleDeleted(ctx, env)
	case events.TagFinished:
		return p.HandleFinished(ctx, env)
	}
	return fmt.Errorf("projector: unknown tag %q: %w", env.Tag, biddingerrors.ErrUnprocessable)
}

func (p *Projector) HandleCreated(ctx context.Context, env events.Envelope) error {
	e, err := events.DecodeCreated(env)
	if err != nil {
		return reject(env, err)
	}
	return p.apply(ctx, env, func(row *models.ReplicaItem) bool {
		mergeCreated(row, e, events.VersionOf(env))
		return true
	})
}

func (p *Projector) HandleUpdated(ctx context.Context, env events.Envelope) error {
	e, err := events.DecodeUpdated(env)
	if err != nil {
		return reject(env, err)
	}
	return p.apply(ctx, env, func(row *models.ReplicaItem) bool {
		mergeUpdated(row, e, events.VersionOf(env))
		return true
	})
}

func (p *Projector) HandleFinished(ctx context.Context, env events.Envelope) error {
	e, err := events.DecodeFinished(env)
	if err != nil {
		return reject(env, err)
	}
	return p.apply(ctx, env, func(row *models.ReplicaItem) bool {
		return mergeFinished(row, e)
	})
}

func (p *Projector) HandleDeleted(ctx context.Context, env events.Envelope) error {
	if _, err := events.DecodeDeleted(env); err != nil {
		return reject(env, err)
	}

	unlock := p.locks.Lock(env.AuctionID)
	defer unlock()

	at := env.OccurredAt
	if at.IsZero() {
		at = p.clock.Now()
	}
	if err := p.store.Delete(ctx, env.AuctionID, at); err != nil {
		return fmt.Errorf("projector: delete %s: %w", env.AuctionID, err)
	}
	utils.Debug("replica removed", map[string]any{"auction_id": env.AuctionID, "message_id": env.MessageID})
	return nil
}

// apply loads the row under the auction's lock, lets merge change it and
// stores the result. merge returns false to leave the row untouched.
func (p *Projector) apply(ctx context.Context, env events.Envelope, merge func(row *models.ReplicaItem) bool) error {
	unlock := p.locks.Lock(env.AuctionID)
	defer unlock()

	tombstoned, err := p.store.IsTombstoned(ctx, env.AuctionID)
	if err != nil {
		return fmt.Errorf("projector: tombstone check %s: %w", env.AuctionID, err)
	}
	if tombstoned {
		utils.Debug("event for removed auction ignored", map[string]any{
			"auction_id": env.AuctionID,
			"tag":        env.Tag,
			"message_id": env.MessageID,
		})
		return nil
	}

	row, found, err := p.store.Get(ctx, env.AuctionID)
	if err != nil {
		return fmt.Errorf("projector: load %s: %w", env.AuctionID, err)
	}
	if !found {
		row = newRow(env.AuctionID)
	}
	if row.FieldVersions == nil {
		row.FieldVersions = map[string]int64{}
	}

	if !merge(&row) {
		utils.Debug("event already applied", map[string]any{"auction_id": env.AuctionID, "tag": env.Tag})
		return nil
	}
	if err := p.store.Put(ctx, row); err != nil {
		return fmt.Errorf("projector: save %s: %w", env.AuctionID, err)
	}
	utils.Debug("replica updated", map[string]any{
		"auction_id": env.AuctionID,
		"tag":        env.Tag,
		"version":    events.VersionOf(env),
		"partial":    row.Partial,
	})
	return nil
}

func reject(env events.Envelope, err error) error {
	utils.Warn("rejecting lifecycle event", map[string]any{
		"auction_id": env.AuctionID,
		"tag":        env.Tag,
		"message_id": env.MessageID,
		"error":      err.Error(),
	})
	return err
}

// Get returns a fully known replica item.
func (p *Projector) Get(ctx context.Context, id string) (models.ReplicaItem, error) {
	row, found, err := p.store.Get(ctx, id)
	if err != nil {
		return models.ReplicaItem{}, fmt.Errorf("projector: get %s: %w", id, err)
	}
	if !found || row.Partial {
		return models.ReplicaItem{}, fmt.Errorf("projector: item %s: %w", id, biddingerrors.ErrItemNotFound)
	}
	return row, nil
}

// Search runs params against the replica, evaluating time filters at the current clock.
func (p *Projector) Search(ctx context.Context, params models.SearchParams) (models.SearchResult, error) {
	if params.Now.IsZero() {
		params.Now = p.clock.Now()
	}
	res, err := p.store.Search(ctx, params)
	if err != nil {
		return models.SearchResult{}, fmt.Errorf("projector: search: %w", err)
	}
	return res, nil
}
