package model

import "time"

// User 用户的审核状态（offense 计数与封禁状态，HTTP 层只读）
type User struct {
	ID            int64  `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Username      string `json:"username" gorm:"type:varchar(64)"`
	Email         string `json:"email" gorm:"type:varchar(128)"`
	OffenseCount  int    `json:"offense_count" gorm:"not null;default:0"`
	LastOffenseAt *time.Time `json:"last_offense_at"`
	IsBlocked     bool       `json:"is_blocked" gorm:"not null;default:false"`
	BlockedUntil  *time.Time `json:"blocked_until"`
	// Version guards concurrent read-modify-write of the offense state.
	Version   int64 `json:"-" gorm:"not null;default:1"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }

// BlockActive reports whether the user is blocked at the given instant.
// IsBlocked alone is advisory; BlockedUntil decides.
func (u *User) BlockActive(now time.Time) bool {
	return u.IsBlocked && u.BlockedUntil != nil && u.BlockedUntil.After(now)
}
