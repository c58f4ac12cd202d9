package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/shieldcomment/internal/queue"
	"github.com/d60-Lab/shieldcomment/internal/repository"
)

func TestBlockApplierAppliesAndExtends(t *testing.T) {
	db := setupDB(t)
	repo := repository.NewModerationRepository(db)
	a := NewBlockApplier(repo, nil)
	ctx := context.Background()

	unblock := time.Now().Add(time.Hour)
	out := a.Apply(ctx, queue.BlockEvent{
		UserID: 4, OffenseCount: 2, BlockDuration: 3600, UnblockAt: unblock,
	})
	assert.Equal(t, queue.DispositionProcessed, out.Disposition)

	u := loadUser(t, db, 4)
	assert.True(t, u.IsBlocked)
	require.NotNil(t, u.BlockedUntil)
	assert.WithinDuration(t, unblock, *u.BlockedUntil, time.Second)

	// A longer block from a later escalation extends it.
	longer := unblock.Add(time.Hour)
	out = a.Apply(ctx, queue.BlockEvent{
		UserID: 4, OffenseCount: 3, BlockDuration: 7200, UnblockAt: longer,
	})
	assert.Equal(t, queue.DispositionProcessed, out.Disposition)
	u = loadUser(t, db, 4)
	assert.WithinDuration(t, longer, *u.BlockedUntil, time.Second)
}

func TestBlockApplierMonotonic(t *testing.T) {
	db := setupDB(t)
	repo := repository.NewModerationRepository(db)
	a := NewBlockApplier(repo, nil)
	ctx := context.Background()

	longBlock := time.Now().Add(3 * time.Hour)
	out := a.Apply(ctx, queue.BlockEvent{UserID: 4, OffenseCount: 4, BlockDuration: 10800, UnblockAt: longBlock})
	assert.Equal(t, queue.DispositionProcessed, out.Disposition)

	// A stale, redelivered event with an earlier unblock time is rejected
	// and must not shorten the stored block.
	out = a.Apply(ctx, queue.BlockEvent{UserID: 4, OffenseCount: 2, BlockDuration: 3600, UnblockAt: time.Now().Add(time.Hour)})
	assert.Equal(t, queue.DispositionRejected, out.Disposition)

	u := loadUser(t, db, 4)
	require.NotNil(t, u.BlockedUntil)
	assert.WithinDuration(t, longBlock, *u.BlockedUntil, time.Second)
}

func TestBlockApplierIdempotent(t *testing.T) {
	db := setupDB(t)
	repo := repository.NewModerationRepository(db)
	a := NewBlockApplier(repo, nil)
	ctx := context.Background()

	ev := queue.BlockEvent{UserID: 4, OffenseCount: 2, BlockDuration: 3600, UnblockAt: time.Now().Add(time.Hour)}
	out := a.Apply(ctx, ev)
	assert.Equal(t, queue.DispositionProcessed, out.Disposition)

	// Exact redelivery: same unblock_at is not "later", so nothing changes.
	out = a.Apply(ctx, ev)
	assert.Equal(t, queue.DispositionRejected, out.Disposition)
	assert.True(t, loadUser(t, db, 4).IsBlocked)
}

func TestBlockApplierHandleMessage(t *testing.T) {
	db := setupDB(t)
	repo := repository.NewModerationRepository(db)
	a := NewBlockApplier(repo, nil)
	ctx := context.Background()

	out := a.HandleMessage(ctx, queue.Delivery{ID: "1-0", Body: []byte("garbage")})
	assert.Equal(t, queue.DispositionDeadLetter, out.Disposition)

	// Valid JSON but no usable fields.
	out = a.HandleMessage(ctx, queue.Delivery{ID: "2-0", Body: []byte(`{}`)})
	assert.Equal(t, queue.DispositionDeadLetter, out.Disposition)

	body, err := json.Marshal(queue.BlockEvent{
		UserID: 6, OffenseCount: 2, BlockDuration: 3600, UnblockAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	out = a.HandleMessage(ctx, queue.Delivery{ID: "3-0", Body: body})
	assert.Equal(t, queue.DispositionProcessed, out.Disposition)
	assert.True(t, loadUser(t, db, 6).IsBlocked)
}
