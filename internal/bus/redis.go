package bus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"auction-lifecycle/internal/biddingerrors"
	"auction-lifecycle/internal/events"
	"auction-lifecycle/utils"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const envelopeField = "envelope"

// RedisOptions configures a RedisBus.
type RedisOptions struct {
	// Prefix names the streams: one stream per tag, "<prefix>.<tag>".
	Prefix   string
	Group    string
	Consumer string
	Policy   RetryPolicy
	// Block bounds one XREADGROUP wait so shutdown is noticed promptly.
	Block     time.Duration
	BatchSize int64
}

// RedisBus is a Bus on Redis Streams with one consumer group. Unacknowledged
// entries stay in the group's pending list and are reclaimed after backoff;
// parked entries are copied to "<stream>.dead".
type RedisBus struct {
	handlers
	rdb  *goredis.Client
	opts RedisOptions
}

// NewRedisBus wraps an existing client.
func NewRedisBus(rdb *goredis.Client, opts RedisOptions) (*RedisBus, error) {
	if rdb == nil {
		return nil, errors.New("bus: redis client required")
	}
	if opts.Prefix == "" || opts.Group == "" || opts.Consumer == "" {
		return nil, errors.New("bus: redis prefix, group and consumer are required")
	}
	if opts.Block <= 0 {
		opts.Block = time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	opts.Policy = opts.Policy.normalized()
	return &RedisBus{rdb: rdb, opts: opts}, nil
}

// DialRedis connects and pings the server.
func DialRedis(ctx context.Context, addr string) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func (b *RedisBus) stream(tag events.Tag) string {
	return b.opts.Prefix + "." + string(tag)
}

func deadStream(stream string) string {
	return stream + ".dead"
}

func (b *RedisBus) Subscribe(tag events.Tag, h Handler) {
	b.add(tag, h)
}

func (b *RedisBus) Publish(ctx context.Context, env events.Envelope) error {
	if !env.Tag.Valid() {
		return fmt.Errorf("bus: publish unknown tag %q", env.Tag)
	}
	raw, err := events.Encode(env)
	if err != nil {
		return fmt.Errorf("bus: encode %s: %w", env.MessageID, err)
	}
	err = b.rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: b.stream(env.Tag),
		Values: map[string]any{envelopeField: string(raw)},
	}).Err()
	if err != nil {
		return fmt.Errorf("bus: xadd %s: %w: %w", env.MessageID, biddingerrors.ErrTransient, err)
	}
	return nil
}

func (b *RedisBus) ensureGroups(ctx context.Context, streams []string) error {
	for _, s := range streams {
		err := b.rdb.XGroupCreateMkStream(ctx, s, b.opts.Group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("bus: create group on %s: %w", s, err)
		}
	}
	return nil
}

// Run reads new entries and reclaims stale ones until ctx is cancelled.
func (b *RedisBus) Run(ctx context.Context) error {
	tags := b.tags()
	if len(tags) == 0 {
		<-ctx.Done()
		return nil
	}
	streams := make([]string, 0, len(tags))
	for _, tag := range tags {
		streams = append(streams, b.stream(tag))
	}
	if err := b.ensureGroups(ctx, streams); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.readLoop(ctx, streams) })
	g.Go(func() error { return b.reclaimLoop(ctx, streams) })
	return g.Wait()
}

func (b *RedisBus) readLoop(ctx context.Context, streams []string) error {
	args := make([]string, 0, 2*len(streams))
	args = append(args, streams...)
	for range streams {
		args = append(args, ">")
	}
	for ctx.Err() == nil {
		res, err := b.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    b.opts.Group,
			Consumer: b.opts.Consumer,
			Streams:  args,
			Count:    b.opts.BatchSize,
			Block:    b.opts.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) || ctx.Err() != nil {
				continue
			}
			utils.Warn("redis read failed", map[string]any{"error": err.Error()})
			sleep(ctx, b.opts.Policy.Backoff)
			continue
		}
		for _, s := range res {
			for _, msg := range s.Messages {
				b.handle(ctx, s.Stream, msg, 1)
			}
		}
	}
	return nil
}

// reclaimLoop redelivers entries whose last delivery failed and has waited out its backoff.
func (b *RedisBus) reclaimLoop(ctx context.Context, streams []string) error {
	ticker := time.NewTicker(b.opts.Policy.Backoff)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		for _, s := range streams {
			if err := b.reclaim(ctx, s); err != nil && ctx.Err() == nil {
				utils.Warn("redis reclaim failed", map[string]any{"stream": s, "error": err.Error()})
			}
		}
	}
}

func (b *RedisBus) reclaim(ctx context.Context, stream string) error {
	pending, err := b.rdb.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: stream,
		Group:  b.opts.Group,
		Idle:   b.opts.Policy.Backoff,
		Start:  "-",
		End:    "+",
		Count:  b.opts.BatchSize,
	}).Result()
	if err != nil {
		return err
	}
	for _, p := range pending {
		if p.Idle < b.opts.Policy.Delay(int(p.RetryCount)) {
			continue
		}
		claimed, err := b.rdb.XClaim(ctx, &goredis.XClaimArgs{
			Stream:   stream,
			Group:    b.opts.Group,
			Consumer: b.opts.Consumer,
			MinIdle:  b.opts.Policy.Delay(int(p.RetryCount)),
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			return err
		}
		for _, msg := range claimed {
			b.handle(ctx, stream, msg, int(p.RetryCount)+1)
		}
	}
	return nil
}

func (b *RedisBus) handle(ctx context.Context, stream string, msg goredis.XMessage, deliveries int) {
	raw, _ := msg.Values[envelopeField].(string)
	env, err := events.DecodeEnvelope([]byte(raw))
	if err == nil {
		err = b.dispatch(ctx, env)
	}

	switch decide(err, deliveries, b.opts.Policy) {
	case outcomeAck:
		b.ack(ctx, stream, msg.ID)
	case outcomePark:
		b.park(ctx, stream, msg.ID, raw, env, err, deliveries)
	case outcomeRetry:
		utils.Warn("delivery failed, left pending for retry", map[string]any{
			"stream":     stream,
			"entry_id":   msg.ID,
			"message_id": env.MessageID,
			"attempt":    deliveries,
			"error":      err.Error(),
		})
	}
}

func (b *RedisBus) ack(ctx context.Context, stream, id string) {
	if err := b.rdb.XAck(ctx, stream, b.opts.Group, id).Err(); err != nil {
		utils.Warn("redis ack failed", map[string]any{"stream": stream, "entry_id": id, "error": err.Error()})
	}
}

func (b *RedisBus) park(ctx context.Context, stream, id, raw string, env events.Envelope, cause error, deliveries int) {
	utils.Error("message parked", map[string]any{
		"stream":     stream,
		"entry_id":   id,
		"message_id": env.MessageID,
		"deliveries": deliveries,
		"error":      cause.Error(),
	})
	err := b.rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: deadStream(stream),
		Values: map[string]any{
			envelopeField: raw,
			"reason":      cause.Error(),
			"deliveries":  deliveries,
			"parked_at":   time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		// leave the entry pending so the reclaim loop parks it again
		utils.Error("redis park failed", map[string]any{"stream": stream, "entry_id": id, "error": err.Error()})
		return
	}
	b.ack(ctx, stream, id)
}

func (b *RedisBus) Parked(ctx context.Context) ([]DeadLetter, error) {
	out := make([]DeadLetter, 0)
	for _, tag := range events.Tags {
		msgs, err := b.rdb.XRange(ctx, deadStream(b.stream(tag)), "-", "+").Result()
		if err != nil {
			return nil, fmt.Errorf("bus: read dead letters for %s: %w", tag, err)
		}
		for _, m := range msgs {
			out = append(out, deadLetterFrom(m))
		}
	}
	return out, nil
}

func deadLetterFrom(m goredis.XMessage) DeadLetter {
	raw, _ := m.Values[envelopeField].(string)
	reason, _ := m.Values["reason"].(string)
	deliveriesRaw, _ := m.Values["deliveries"].(string)
	parkedRaw, _ := m.Values["parked_at"].(string)

	dl := DeadLetter{Reason: reason}
	dl.Deliveries, _ = strconv.Atoi(deliveriesRaw)
	dl.ParkedAt, _ = time.Parse(time.RFC3339Nano, parkedRaw)
	if env, err := events.DecodeEnvelope([]byte(raw)); err == nil {
		dl.Envelope = env
	}
	return dl
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
