package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"auction-lifecycle/internal/biddingerrors"
	"auction-lifecycle/internal/events"
	"auction-lifecycle/utils"

	"golang.org/x/sync/errgroup"
)

type delivery struct {
	env      events.Envelope
	attempts int
}

// MemoryBus is an in-process Bus backed by a buffered queue and a worker pool.
// Messages for the same auction may be handled concurrently and out of order.
type MemoryBus struct {
	handlers
	policy     RetryPolicy
	workers    int
	duplicates bool

	queue    chan delivery
	inFlight atomic.Int64

	mu     sync.Mutex
	parked []DeadLetter
}

// MemoryOption customizes a MemoryBus.
type MemoryOption func(*MemoryBus)

// WithDuplicateDelivery makes every publish enqueue the message twice, which
// exercises consumer idempotency.
func WithDuplicateDelivery() MemoryOption {
	return func(b *MemoryBus) { b.duplicates = true }
}

// WithQueueSize sets the queue capacity. Publish blocks while the queue is full.
func WithQueueSize(n int) MemoryOption {
	return func(b *MemoryBus) { b.queue = make(chan delivery, n) }
}

// NewMemoryBus creates a bus with the given retry policy and worker count.
func NewMemoryBus(policy RetryPolicy, workers int, opts ...MemoryOption) *MemoryBus {
	if workers < 1 {
		workers = 1
	}
	b := &MemoryBus{
		policy:  policy.normalized(),
		workers: workers,
		queue:   make(chan delivery, 1024),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *MemoryBus) Subscribe(tag events.Tag, h Handler) {
	b.add(tag, h)
}

func (b *MemoryBus) Publish(ctx context.Context, env events.Envelope) error {
	if !env.Tag.Valid() {
		return fmt.Errorf("bus: publish unknown tag %q", env.Tag)
	}
	copies := 1
	if b.duplicates {
		copies = 2
	}
	for i := 0; i < copies; i++ {
		if err := b.enqueue(ctx, delivery{env: env}); err != nil {
			return fmt.Errorf("bus: publish %s: %w: %w", env.MessageID, biddingerrors.ErrTransient, err)
		}
	}
	return nil
}

func (b *MemoryBus) enqueue(ctx context.Context, d delivery) error {
	b.inFlight.Add(1)
	select {
	case b.queue <- d:
		return nil
	case <-ctx.Done():
		b.inFlight.Add(-1)
		return ctx.Err()
	}
}

// Run starts the workers and blocks until ctx is cancelled.
func (b *MemoryBus) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < b.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case d := <-b.queue:
					b.deliver(ctx, d)
				}
			}
		})
	}
	return g.Wait()
}

func (b *MemoryBus) deliver(ctx context.Context, d delivery) {
	d.attempts++
	err := b.dispatch(ctx, d.env)

	switch decide(err, d.attempts, b.policy) {
	case outcomeAck:
		b.inFlight.Add(-1)
	case outcomePark:
		b.park(d, err)
		b.inFlight.Add(-1)
	case outcomeRetry:
		delay := b.policy.Delay(d.attempts)
		utils.Warn("delivery failed, retrying", map[string]any{
			"message_id": d.env.MessageID,
			"tag":        d.env.Tag,
			"auction_id": d.env.AuctionID,
			"attempt":    d.attempts,
			"retry_in":   delay.String(),
			"error":      err.Error(),
		})
		go func() {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				b.inFlight.Add(-1)
			case <-timer.C:
				select {
				case b.queue <- d:
				case <-ctx.Done():
					b.inFlight.Add(-1)
				}
			}
		}()
	}
}

func (b *MemoryBus) park(d delivery, err error) {
	utils.Error("message parked", map[string]any{
		"message_id": d.env.MessageID,
		"tag":        d.env.Tag,
		"auction_id": d.env.AuctionID,
		"deliveries": d.attempts,
		"error":      err.Error(),
	})
	b.mu.Lock()
	defer b.mu.Unlock()
	b.parked = append(b.parked, DeadLetter{
		Envelope:   d.env,
		Reason:     err.Error(),
		Deliveries: d.attempts,
		ParkedAt:   time.Now().UTC(),
	})
}

func (b *MemoryBus) Parked(ctx context.Context) ([]DeadLetter, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]DeadLetter{}, b.parked...), nil
}

// Drain blocks until every published message has been acknowledged or parked.
func (b *MemoryBus) Drain(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for b.inFlight.Load() > 0 {
		select {
		case <-ctx.Done():
			return errors.Join(errors.New("bus: drain"), ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}
