package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/shieldcomment/pkg/logger"
)

// ConsumerConfig wires one consumer-group reader to a handler.
type ConsumerConfig struct {
	Stream    string
	Group     string
	Consumer  string
	Handler   Handler
	Prefetch  int           // max in-flight deliveries per poll
	Block     time.Duration // XREADGROUP block duration
	MinIdle   time.Duration // pending age before a message is reclaimed
	Retention time.Duration // entries older than this are trimmed
	Retry     RetryPolicy
}

// Consumer pulls from one stream and drives deliveries through the
// handler. Acknowledgment follows the handler's outcome: only Retry
// leaves a message pending for redelivery.
type Consumer struct {
	rdb *redis.Client
	cfg ConsumerConfig
}

func NewConsumer(rdb *redis.Client, cfg ConsumerConfig) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 10
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.MinIdle <= 0 {
		cfg.MinIdle = time.Minute
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "worker-1"
	}
	return &Consumer{rdb: rdb, cfg: cfg}
}

// Run consumes until the context is canceled. Broker failures are retried
// forever under the configured policy; they never bubble up.
func (c *Consumer) Run(ctx context.Context) error {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := c.poll(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			delay := c.cfg.Retry.Delay(attempt)
			attempt++
			logger.Warn("queue poll failed, backing off",
				zap.String("stream", c.cfg.Stream),
				zap.Duration("delay", delay),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		attempt = 0
	}
}

// poll runs one consume cycle: reclaim stale pending entries, read fresh
// ones, dispatch everything, trim old entries.
func (c *Consumer) poll(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}

	msgs, err := c.reclaim(ctx)
	if err != nil {
		return err
	}

	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    int64(c.cfg.Prefetch),
		Block:    c.cfg.Block,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("read %s: %w", c.cfg.Stream, err)
	}
	for _, s := range streams {
		msgs = append(msgs, s.Messages...)
	}

	c.dispatch(ctx, msgs)
	c.trim(ctx)
	return nil
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", c.cfg.Group, c.cfg.Stream, err)
	}
	return nil
}

// reclaim takes over pending entries whose owner died or timed out.
func (c *Consumer) reclaim(ctx context.Context) ([]redis.XMessage, error) {
	msgs, _, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.cfg.Stream,
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		MinIdle:  c.cfg.MinIdle,
		Start:    "0-0",
		Count:    int64(c.cfg.Prefetch),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("reclaim pending on %s: %w", c.cfg.Stream, err)
	}
	return msgs, nil
}

// dispatch processes a batch concurrently. The batch size is already
// bounded by Prefetch, which is the in-flight limit.
func (c *Consumer) dispatch(ctx context.Context, msgs []redis.XMessage) {
	if len(msgs) == 0 {
		return
	}
	var wg sync.WaitGroup
	for _, m := range msgs {
		wg.Add(1)
		go func(m redis.XMessage) {
			defer wg.Done()
			c.handleOne(ctx, m)
		}(m)
	}
	wg.Wait()
}

func (c *Consumer) handleOne(ctx context.Context, m redis.XMessage) {
	out := c.process(ctx, m)

	switch out.Disposition {
	case DispositionDeadLetter:
		c.deadLetter(ctx, m, out)
	case DispositionRejected:
		logger.Info("message rejected",
			zap.String("stream", c.cfg.Stream),
			zap.String("id", m.ID),
			zap.String("reason", out.Reason))
	case DispositionRetry:
		logger.Warn("message left for redelivery",
			zap.String("stream", c.cfg.Stream),
			zap.String("id", m.ID),
			zap.Error(out.Err))
	}

	if !shouldAck(out.Disposition) {
		return
	}
	if err := c.rdb.XAck(ctx, c.cfg.Stream, c.cfg.Group, m.ID).Err(); err != nil {
		// The entry stays pending and will be reprocessed; handlers
		// must already be redelivery-safe.
		logger.Warn("ack failed",
			zap.String("stream", c.cfg.Stream),
			zap.String("id", m.ID),
			zap.Error(err))
	}
}

func (c *Consumer) process(ctx context.Context, m redis.XMessage) Outcome {
	raw, ok := m.Values[bodyField]
	if !ok {
		return DeadLetter("missing body field", nil)
	}
	body, ok := raw.(string)
	if !ok {
		return DeadLetter("body is not a string", nil)
	}
	return c.cfg.Handler(ctx, Delivery{ID: m.ID, Body: []byte(body)})
}

func (c *Consumer) deadLetter(ctx context.Context, m redis.XMessage, out Outcome) {
	logger.Error("dead-lettering message",
		zap.String("stream", c.cfg.Stream),
		zap.String("id", m.ID),
		zap.String("reason", out.Reason),
		zap.Error(out.Err))
	if out.Err != nil {
		sentry.CaptureException(fmt.Errorf("dead letter on %s (%s): %w", c.cfg.Stream, out.Reason, out.Err))
	}

	values := map[string]interface{}{
		"source": c.cfg.Stream,
		"id":     m.ID,
		"reason": out.Reason,
	}
	if raw, ok := m.Values[bodyField]; ok {
		values[bodyField] = raw
	}
	if err := c.rdb.XAdd(ctx, &redis.XAddArgs{Stream: DeadLetterStream, Values: values}).Err(); err != nil {
		logger.Error("dead-letter publish failed", zap.String("id", m.ID), zap.Error(err))
	}
}

func (c *Consumer) trim(ctx context.Context) {
	if c.cfg.Retention <= 0 {
		return
	}
	minID := fmt.Sprintf("%d-0", time.Now().Add(-c.cfg.Retention).UnixMilli())
	if err := c.rdb.XTrimMinIDApprox(ctx, c.cfg.Stream, minID, 0).Err(); err != nil {
		logger.Debug("stream trim failed", zap.String("stream", c.cfg.Stream), zap.Error(err))
	}
}
