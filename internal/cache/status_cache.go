package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/d60-Lab/shieldcomment/internal/model"
)

// UserStatus is the read-model the HTTP gate consumes.
type UserStatus struct {
	UserID       int64      `json:"user_id"`
	OffenseCount int        `json:"offense_count"`
	IsBlocked    bool       `json:"is_blocked"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
}

// StatusFromUser projects the stored state into the read-model.
func StatusFromUser(u *model.User) UserStatus {
	return UserStatus{
		UserID:       u.ID,
		OffenseCount: u.OffenseCount,
		IsBlocked:    u.BlockActive(time.Now()),
		BlockedUntil: u.BlockedUntil,
	}
}

// StatusCache is a cache-aside layer over per-user moderation status.
// Writers invalidate; readers repopulate. Everything is best-effort —
// a cold or unreachable cache just falls through to the store.
type StatusCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStatusCache(rdb *redis.Client, ttl time.Duration) *StatusCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &StatusCache{rdb: rdb, ttl: ttl}
}

func statusKey(userID int64) string {
	return fmt.Sprintf("moderation:user:%d", userID)
}

func (c *StatusCache) Get(ctx context.Context, userID int64) (*UserStatus, bool) {
	data, err := c.rdb.Get(ctx, statusKey(userID)).Bytes()
	if err != nil {
		return nil, false
	}
	var st UserStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, false
	}
	return &st, true
}

func (c *StatusCache) Set(ctx context.Context, st UserStatus) {
	payload, err := json.Marshal(st)
	if err != nil {
		return
	}
	_ = c.rdb.Set(ctx, statusKey(st.UserID), payload, c.ttl).Err()
}

func (c *StatusCache) Invalidate(ctx context.Context, userID int64) {
	_ = c.rdb.Del(ctx, statusKey(userID)).Err()
}
