package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/d60-Lab/shieldcomment/internal/classifier"
	"github.com/d60-Lab/shieldcomment/internal/model"
	"github.com/d60-Lab/shieldcomment/internal/queue"
	"github.com/d60-Lab/shieldcomment/internal/repository"
	"github.com/d60-Lab/shieldcomment/pkg/logger"
)

var tracer = otel.Tracer("shieldcomment/moderation")

// ErrTooManyConflicts means the optimistic commit kept losing races; the
// message goes back to the queue and a later delivery retries.
var ErrTooManyConflicts = errors.New("too many state conflicts committing moderation decision")

const maxCommitRetries = 5

// BlockPublisher emits block events after a block decision commits.
// Publication is best-effort notification; the store is the source of truth.
type BlockPublisher interface {
	PublishBlockEvent(ctx context.Context, ev queue.BlockEvent) error
}

// StatusInvalidator drops a user's cached moderation status after writes.
type StatusInvalidator interface {
	Invalidate(ctx context.Context, userID int64)
}

// EngineConfig carries the escalation tunables. Zero values fall back to
// the canonical policy.
type EngineConfig struct {
	// OffenseWindow is the trailing window for the burst rule.
	OffenseWindow time.Duration
	// OffenseDecay resets the cumulative count after this much quiet time.
	OffenseDecay time.Duration
	// BurstBlock is the fixed duration for a burst-rule block.
	BurstBlock time.Duration
	// BlockThreshold is the cumulative count that starts escalation.
	BlockThreshold int
	// EscalationStep scales the cumulative block: step * (count - 1).
	EscalationStep time.Duration
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.OffenseWindow <= 0 {
		c.OffenseWindow = 5 * time.Minute
	}
	if c.OffenseDecay <= 0 {
		c.OffenseDecay = time.Hour
	}
	if c.BurstBlock <= 0 {
		c.BurstBlock = time.Hour
	}
	if c.BlockThreshold <= 0 {
		c.BlockThreshold = 3
	}
	if c.EscalationStep <= 0 {
		c.EscalationStep = time.Hour
	}
	return c
}

// ModerationEngine drives the per-user offense state machine
// (CLEAN → WARNED → BLOCKED → expired) from classification events.
type ModerationEngine struct {
	repo      repository.ModerationRepository
	cls       classifier.Classifier
	publisher BlockPublisher
	cache     StatusInvalidator
	cfg       EngineConfig
	validate  *validator.Validate
	now       func() time.Time
}

func NewModerationEngine(
	repo repository.ModerationRepository,
	cls classifier.Classifier,
	publisher BlockPublisher,
	cache StatusInvalidator,
	cfg EngineConfig,
) *ModerationEngine {
	return &ModerationEngine{
		repo:      repo,
		cls:       cls,
		publisher: publisher,
		cache:     cache,
		cfg:       cfg.withDefaults(),
		validate:  validator.New(),
		now:       time.Now,
	}
}

// HandleMessage adapts raw queue deliveries to the engine. Undecodable or
// invalid payloads are poison and go to the dead-letter stream.
func (e *ModerationEngine) HandleMessage(ctx context.Context, d queue.Delivery) queue.Outcome {
	var req queue.AnalysisRequest
	if err := json.Unmarshal(d.Body, &req); err != nil {
		return queue.DeadLetter("undecodable analysis request", err)
	}
	if err := e.validate.Struct(&req); err != nil {
		return queue.DeadLetter("invalid analysis request", err)
	}

	ctx, span := tracer.Start(ctx, "moderation.process")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("comment.id", req.CommentID),
		attribute.Int64("user.id", req.UserID),
	)
	return e.Process(ctx, req)
}

// Process runs the full decision for one analysis request. It is safe
// under redelivery and under concurrent processing for the same user:
// the record insert and the state update commit as one optimistic
// transaction, and losing a version race restarts the whole read-decide
// cycle.
func (e *ModerationEngine) Process(ctx context.Context, req queue.AnalysisRequest) queue.Outcome {
	res := e.cls.Classify(ctx, req.Text)
	t := e.now()

	record := &model.CommentAnalysis{
		ID:             uuid.NewString(),
		CommentID:      req.CommentID,
		UserID:         req.UserID,
		ToxicityScore:  res.Score,
		Classification: string(res.Label),
		EvaluatedAt:    t,
	}

	// Non-offending results (including classifier errors) are recorded
	// for audit and change nothing else.
	if !res.Label.Offending() {
		if err := e.repo.SaveAnalysis(ctx, record); err != nil {
			if errors.Is(err, repository.ErrDuplicateAnalysis) {
				return queue.Rejected("duplicate delivery")
			}
			return queue.Retry(err)
		}
		return queue.Processed()
	}

	for attempt := 0; attempt < maxCommitRetries; attempt++ {
		state, err := e.repo.GetUserState(ctx, req.UserID)
		if err != nil {
			return queue.Retry(err)
		}
		recent, err := e.repo.CountRecentOffenses(ctx, req.UserID, t.Add(-e.cfg.OffenseWindow))
		if err != nil {
			return queue.Retry(err)
		}

		// Burst guard: the short window is already saturated, this
		// event only gets recorded.
		if recent >= 2 {
			if err := e.repo.SaveAnalysis(ctx, record); err != nil {
				if errors.Is(err, repository.ErrDuplicateAnalysis) {
					return queue.Rejected("duplicate delivery")
				}
				return queue.Retry(err)
			}
			logger.Info("offense window saturated, not escalating",
				zap.Int64("user_id", req.UserID),
				zap.Int64("comment_id", req.CommentID))
			return queue.Rejected("offense window saturated")
		}

		// Stale offenses decay before the new one counts.
		if state.LastOffenseAt != nil && t.Sub(*state.LastOffenseAt) > e.cfg.OffenseDecay {
			state.OffenseCount = 0
		}
		state.OffenseCount++
		offenseAt := t
		state.LastOffenseAt = &offenseAt

		var blockFor time.Duration
		if !state.BlockActive(t) {
			switch {
			case recent >= 1:
				// Second offense inside the window: fixed-length
				// block regardless of the cumulative count.
				blockFor = e.cfg.BurstBlock
			case state.OffenseCount >= e.cfg.BlockThreshold:
				blockFor = time.Duration(state.OffenseCount-1) * e.cfg.EscalationStep
			}
		}

		var ev *queue.BlockEvent
		if blockFor > 0 {
			until := t.Add(blockFor)
			state.IsBlocked = true
			state.BlockedUntil = &until
			ev = &queue.BlockEvent{
				UserID:        state.ID,
				OffenseCount:  state.OffenseCount,
				BlockDuration: int64(blockFor / time.Second),
				UnblockAt:     until,
			}
		}

		err = e.repo.CommitDecision(ctx, record, state)
		switch {
		case errors.Is(err, repository.ErrStateConflict):
			continue
		case errors.Is(err, repository.ErrDuplicateAnalysis):
			return queue.Rejected("duplicate delivery")
		case err != nil:
			return queue.Retry(err)
		}

		if e.cache != nil {
			e.cache.Invalidate(ctx, state.ID)
		}
		if ev != nil {
			logger.Info("user blocked",
				zap.Int64("user_id", ev.UserID),
				zap.Int("offense_count", ev.OffenseCount),
				zap.Int64("block_duration", ev.BlockDuration),
				zap.Time("unblock_at", ev.UnblockAt))
			if err := e.publisher.PublishBlockEvent(ctx, *ev); err != nil {
				// State already committed; the event is notification
				// fan-out, so a publish failure is not retried here.
				logger.Error("block event publish failed",
					zap.Int64("user_id", ev.UserID),
					zap.Error(err))
				sentry.CaptureException(err)
			}
		}
		return queue.Processed()
	}
	return queue.Retry(ErrTooManyConflicts)
}
