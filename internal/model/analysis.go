package model

import "time"

// CommentAnalysis 单次毒性分析结果（append-only 审计记录）
// comment_id 上的唯一索引用于吸收队列重投产生的重复处理。
type CommentAnalysis struct {
	ID             string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	CommentID      int64     `json:"comment_id" gorm:"uniqueIndex:idx_analysis_comment;not null"`
	UserID         int64     `json:"user_id" gorm:"index:idx_analysis_user_time;not null"`
	ToxicityScore  int       `json:"toxicity_score" gorm:"not null"`
	Classification string    `json:"classification" gorm:"type:varchar(24);index;not null"`
	EvaluatedAt    time.Time `json:"evaluated_at" gorm:"index:idx_analysis_user_time;not null"`
}

func (CommentAnalysis) TableName() string { return "comment_analysis" }
