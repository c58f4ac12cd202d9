package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Producer publishes pipeline events onto capped streams.
type Producer struct {
	rdb    *redis.Client
	maxLen int64
}

func NewProducer(rdb *redis.Client, maxLen int64) *Producer {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &Producer{rdb: rdb, maxLen: maxLen}
}

// PublishAnalysisRequest enqueues a comment for classification.
func (p *Producer) PublishAnalysisRequest(ctx context.Context, req AnalysisRequest) error {
	return p.publish(ctx, AnalysisRequestedStream, req)
}

// PublishBlockEvent fans out a block command/notification.
func (p *Producer) PublishBlockEvent(ctx context.Context, ev BlockEvent) error {
	return p.publish(ctx, UserBlockedStream, ev)
}

func (p *Producer) publish(ctx context.Context, stream string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", stream, err)
	}
	err = p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{bodyField: string(b)},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", stream, err)
	}
	return nil
}
