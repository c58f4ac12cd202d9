package queue

import (
	"context"
	"time"
)

// Stream names. Streams are durable; unacked entries stay in the consumer
// group's pending list until acked or reclaimed by another consumer.
const (
	AnalysisRequestedStream = "analysis-requested"
	UserBlockedStream       = "user-blocked"
	DeadLetterStream        = "moderation-dead-letter"
)

// bodyField carries the JSON payload inside a stream entry.
const bodyField = "body"

// AnalysisRequest asks the pipeline to classify one comment.
// Delivered at least once; comment_id identifies redeliveries.
type AnalysisRequest struct {
	CommentID   int64     `json:"comment_id" validate:"required"`
	UserID      int64     `json:"user_id" validate:"required"`
	Text        string    `json:"text" validate:"required"`
	SubmittedAt time.Time `json:"submitted_at,omitempty"`
}

// BlockEvent is a command to block a user until UnblockAt. Applying it
// twice must be safe; appliers only ever extend a block, never shorten it.
type BlockEvent struct {
	UserID        int64     `json:"user_id" validate:"required"`
	OffenseCount  int       `json:"offense_count"`
	BlockDuration int64     `json:"block_duration" validate:"gt=0"`
	UnblockAt     time.Time `json:"unblock_at" validate:"required"`
}

// Delivery is one raw message handed to a Handler.
type Delivery struct {
	ID   string
	Body []byte
}

// Handler processes a delivery and reports what to do with it.
type Handler func(ctx context.Context, d Delivery) Outcome

// Disposition classifies a handling attempt. The ack decision is a pure
// function of the disposition, nothing else.
type Disposition int

const (
	// DispositionProcessed: handled, state committed, ack.
	DispositionProcessed Disposition = iota + 1
	// DispositionRejected: deliberately not applied (duplicate, stale,
	// saturated window), ack without dead-lettering.
	DispositionRejected
	// DispositionDeadLetter: poison message, copy to the dead-letter
	// stream and ack so it never blocks the queue.
	DispositionDeadLetter
	// DispositionRetry: transient failure, leave unacked for redelivery.
	DispositionRetry
)

// Outcome is the result of one handling attempt.
type Outcome struct {
	Disposition Disposition
	Reason      string
	Err         error
}

func Processed() Outcome { return Outcome{Disposition: DispositionProcessed} }

func Rejected(reason string) Outcome {
	return Outcome{Disposition: DispositionRejected, Reason: reason}
}

func DeadLetter(reason string, err error) Outcome {
	return Outcome{Disposition: DispositionDeadLetter, Reason: reason, Err: err}
}

func Retry(err error) Outcome {
	return Outcome{Disposition: DispositionRetry, Err: err}
}

// shouldAck is the whole acknowledgment policy.
func shouldAck(d Disposition) bool { return d != DispositionRetry }
