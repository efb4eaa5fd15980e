// Package bus carries lifecycle envelopes from producers to consumers with
// at-least-once delivery. A failed delivery is retried with backoff until it
// succeeds, is found unprocessable, or runs out of attempts; the last two are
// parked for an operator instead of being dropped.
package bus

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"auction-lifecycle/internal/biddingerrors"
	"auction-lifecycle/internal/events"
)

//go:generate mockgen -source=bus.go -destination=mock_bus.go -package=bus

// Handler consumes one envelope. Returning nil acknowledges it.
type Handler func(ctx context.Context, env events.Envelope) error

// Publisher hands an envelope to the bus.
type Publisher interface {
	Publish(ctx context.Context, env events.Envelope) error
}

// Bus is a publisher that also dispatches to subscribed handlers.
type Bus interface {
	Publisher
	// Subscribe registers h for tag. It must be called before Run.
	Subscribe(tag events.Tag, h Handler)
	// Run delivers messages until ctx is cancelled.
	Run(ctx context.Context) error
	// Parked lists messages that were given up on.
	Parked(ctx context.Context) ([]DeadLetter, error)
}

// RetryPolicy bounds redelivery of failed messages.
type RetryPolicy struct {
	MaxDeliveries int
	Backoff       time.Duration
	MaxBackoff    time.Duration
}

// DefaultRetryPolicy is used when a bus is built with a zero policy.
var DefaultRetryPolicy = RetryPolicy{MaxDeliveries: 5, Backoff: 200 * time.Millisecond, MaxBackoff: 10 * time.Second}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxDeliveries < 1 {
		p.MaxDeliveries = DefaultRetryPolicy.MaxDeliveries
	}
	if p.Backoff <= 0 {
		p.Backoff = DefaultRetryPolicy.Backoff
	}
	if p.MaxBackoff < p.Backoff {
		p.MaxBackoff = p.Backoff
	}
	return p
}

// Delay returns the wait before redelivering a message that failed on
// delivery number attempt (1-based). It doubles per attempt up to MaxBackoff.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	p = p.normalized()
	d := p.Backoff
	for i := 1; i < attempt && d < p.MaxBackoff; i++ {
		d *= 2
	}
	if d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

// DeadLetter is a parked message with the reason it was parked.
type DeadLetter struct {
	Envelope   events.Envelope `json:"envelope"`
	Reason     string          `json:"reason"`
	Deliveries int             `json:"deliveries"`
	ParkedAt   time.Time       `json:"parked_at"`
}

type outcome int

const (
	outcomeAck outcome = iota
	outcomeRetry
	outcomePark
)

// decide turns a handler result into what the bus does next.
func decide(err error, deliveries int, p RetryPolicy) outcome {
	switch {
	case err == nil:
		return outcomeAck
	case !biddingerrors.IsRetryable(err):
		return outcomePark
	case deliveries >= p.MaxDeliveries:
		return outcomePark
	}
	return outcomeRetry
}

// handlers is the subscription table shared by the bus implementations.
type handlers struct {
	mu    sync.RWMutex
	byTag map[events.Tag][]Handler
}

func (h *handlers) add(tag events.Tag, fn Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byTag == nil {
		h.byTag = make(map[events.Tag][]Handler)
	}
	h.byTag[tag] = append(h.byTag[tag], fn)
}

func (h *handlers) tags() []events.Tag {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]events.Tag, 0, len(h.byTag))
	for _, tag := range events.Tags {
		if len(h.byTag[tag]) > 0 {
			out = append(out, tag)
		}
	}
	return out
}

// dispatch runs every handler subscribed to env.Tag. A panicking handler is
// reported as a retryable failure.
func (h *handlers) dispatch(ctx context.Context, env events.Envelope) (err error) {
	h.mu.RLock()
	fns := h.byTag[env.Tag]
	h.mu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic for %s %s: %v\n%s", env.Tag, env.MessageID, r, debug.Stack())
		}
	}()
	var errs []error
	for _, fn := range fns {
		if e := fn(ctx, env); e != nil {
			errs = append(errs, e)
		}
	}
	return errors.Join(errs...)
}
