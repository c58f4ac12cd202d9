package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/shieldcomment/internal/classifier"
	"github.com/d60-Lab/shieldcomment/internal/model"
)

var (
	// ErrStateConflict means the user row changed underneath an optimistic
	// update; the caller must re-read and re-decide.
	ErrStateConflict = errors.New("user moderation state version conflict")
	// ErrDuplicateAnalysis means this comment_id was already recorded, i.e.
	// the message is a redelivery of work that already committed.
	ErrDuplicateAnalysis = errors.New("analysis already recorded for comment")
)

var offendingLabels = []string{
	string(classifier.LabelToxic),
	string(classifier.LabelPotentiallyToxic),
}

// ModerationRepository 审核状态仓储：users 表是唯一事实来源
type ModerationRepository interface {
	// GetUserState 读取用户状态，首次出现时落一条零值记录
	GetUserState(ctx context.Context, userID int64) (*model.User, error)

	// CountRecentOffenses 统计窗口内的 offense 记录数
	CountRecentOffenses(ctx context.Context, userID int64, since time.Time) (int64, error)

	// SaveAnalysis 落一条分析记录（comment_id 冲突返回 ErrDuplicateAnalysis）
	SaveAnalysis(ctx context.Context, record *model.CommentAnalysis) error

	// CommitDecision 在一个事务内写分析记录并以乐观锁更新用户状态。
	// 版本不匹配返回 ErrStateConflict，记录重复返回 ErrDuplicateAnalysis，
	// 两种情况下事务都会整体回滚。
	CommitDecision(ctx context.Context, record *model.CommentAnalysis, state *model.User) error

	// ApplyBlock 单调推进封禁：仅当 unblockAt 晚于当前值时生效
	ApplyBlock(ctx context.Context, userID int64, unblockAt time.Time) (bool, error)

	// RecentAnalyses 最近的分析记录（运维只读接口用）
	RecentAnalyses(ctx context.Context, limit int) ([]*model.CommentAnalysis, error)

	// ClassificationStats 按分类统计记录数
	ClassificationStats(ctx context.Context) (map[string]int64, error)
}

type moderationRepository struct{ db *gorm.DB }

func NewModerationRepository(db *gorm.DB) ModerationRepository {
	return &moderationRepository{db: db}
}

func (r *moderationRepository) GetUserState(ctx context.Context, userID int64) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).First(&user, "id = ?", userID).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	user = model.User{ID: userID, Version: 1}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&user)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Lost the first-sight race; read the winner's row.
		if err := r.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
			return nil, err
		}
	}
	return &user, nil
}

func (r *moderationRepository) CountRecentOffenses(ctx context.Context, userID int64, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.CommentAnalysis{}).
		Where("user_id = ? AND evaluated_at >= ? AND classification IN ?", userID, since, offendingLabels).
		Count(&count).Error
	return count, err
}

func (r *moderationRepository) SaveAnalysis(ctx context.Context, record *model.CommentAnalysis) error {
	return insertAnalysis(r.db.WithContext(ctx), record)
}

func insertAnalysis(tx *gorm.DB, record *model.CommentAnalysis) error {
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "comment_id"}},
		DoNothing: true,
	}).Create(record)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDuplicateAnalysis
	}
	return nil
}

func (r *moderationRepository) CommitDecision(ctx context.Context, record *model.CommentAnalysis, state *model.User) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := insertAnalysis(tx, record); err != nil {
			return err
		}
		res := tx.Model(&model.User{}).
			Where("id = ? AND version = ?", state.ID, state.Version).
			Updates(map[string]interface{}{
				"offense_count":   state.OffenseCount,
				"last_offense_at": state.LastOffenseAt,
				"is_blocked":      state.IsBlocked,
				"blocked_until":   state.BlockedUntil,
				"version":         state.Version + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStateConflict
		}
		return nil
	})
	if err != nil {
		return err
	}
	state.Version++
	return nil
}

func (r *moderationRepository) ApplyBlock(ctx context.Context, userID int64, unblockAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ? AND (blocked_until IS NULL OR blocked_until < ?)", userID, unblockAt).
		Updates(map[string]interface{}{
			"is_blocked":    true,
			"blocked_until": unblockAt,
			"version":       gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *moderationRepository) RecentAnalyses(ctx context.Context, limit int) ([]*model.CommentAnalysis, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []*model.CommentAnalysis
	err := r.db.WithContext(ctx).
		Order("evaluated_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

func (r *moderationRepository) ClassificationStats(ctx context.Context) (map[string]int64, error) {
	type row struct {
		Classification string
		Total          int64
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&model.CommentAnalysis{}).
		Select("classification, count(*) as total").
		Group("classification").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	stats := make(map[string]int64, len(rows))
	for _, rw := range rows {
		stats[rw.Classification] = rw.Total
	}
	return stats, nil
}
