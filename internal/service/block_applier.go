package service

import (
	"context"
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/d60-Lab/shieldcomment/internal/queue"
	"github.com/d60-Lab/shieldcomment/internal/repository"
	"github.com/d60-Lab/shieldcomment/pkg/logger"
)

// BlockApplier consumes block events and applies them to the store.
// The engine already blocks inline, so in a single-process deployment this
// is a no-op fan-out; split across processes it is the component that
// makes the blocked state land. Applies are monotonic: a redelivered or
// stale event can never shorten an existing block.
type BlockApplier struct {
	repo     repository.ModerationRepository
	cache    StatusInvalidator
	validate *validator.Validate
}

func NewBlockApplier(repo repository.ModerationRepository, cache StatusInvalidator) *BlockApplier {
	return &BlockApplier{repo: repo, cache: cache, validate: validator.New()}
}

func (a *BlockApplier) HandleMessage(ctx context.Context, d queue.Delivery) queue.Outcome {
	var ev queue.BlockEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		return queue.DeadLetter("undecodable block event", err)
	}
	if err := a.validate.Struct(&ev); err != nil {
		return queue.DeadLetter("invalid block event", err)
	}
	return a.Apply(ctx, ev)
}

// Apply sets is_blocked/blocked_until if the event extends the block.
func (a *BlockApplier) Apply(ctx context.Context, ev queue.BlockEvent) queue.Outcome {
	// Make sure the state row exists before the guarded update.
	if _, err := a.repo.GetUserState(ctx, ev.UserID); err != nil {
		return queue.Retry(err)
	}

	applied, err := a.repo.ApplyBlock(ctx, ev.UserID, ev.UnblockAt)
	if err != nil {
		return queue.Retry(err)
	}
	if !applied {
		return queue.Rejected("stale block event")
	}

	if a.cache != nil {
		a.cache.Invalidate(ctx, ev.UserID)
	}
	logger.Info("block applied",
		zap.Int64("user_id", ev.UserID),
		zap.Time("unblock_at", ev.UnblockAt))
	return queue.Processed()
}
