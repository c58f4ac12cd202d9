package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/d60-Lab/shieldcomment/internal/classifier"
	"github.com/d60-Lab/shieldcomment/internal/model"
)

func setupRepo(t *testing.T) (ModerationRepository, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&model.User{}, &model.CommentAnalysis{}))
	return NewModerationRepository(db), db
}

func record(commentID, userID int64, label classifier.Label, at time.Time) *model.CommentAnalysis {
	return &model.CommentAnalysis{
		ID:             uuid.NewString(),
		CommentID:      commentID,
		UserID:         userID,
		ToxicityScore:  50,
		Classification: string(label),
		EvaluatedAt:    at,
	}
}

func TestGetUserStateCreatesZeroState(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	u, err := repo.GetUserState(ctx, 99)
	require.NoError(t, err)
	assert.EqualValues(t, 99, u.ID)
	assert.Equal(t, 0, u.OffenseCount)
	assert.False(t, u.IsBlocked)
	assert.Nil(t, u.BlockedUntil)
	assert.EqualValues(t, 1, u.Version)

	// Second read returns the same row, not a fresh one.
	again, err := repo.GetUserState(ctx, 99)
	require.NoError(t, err)
	assert.Equal(t, u.ID, again.ID)
	assert.Equal(t, u.Version, again.Version)
}

func TestCountRecentOffensesWindow(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.SaveAnalysis(ctx, record(1, 5, classifier.LabelToxic, now.Add(-time.Minute))))
	require.NoError(t, repo.SaveAnalysis(ctx, record(2, 5, classifier.LabelPotentiallyToxic, now.Add(-2*time.Minute))))
	// Outside the window.
	require.NoError(t, repo.SaveAnalysis(ctx, record(3, 5, classifier.LabelToxic, now.Add(-10*time.Minute))))
	// Non-offending inside the window.
	require.NoError(t, repo.SaveAnalysis(ctx, record(4, 5, classifier.LabelNonToxic, now.Add(-time.Minute))))
	require.NoError(t, repo.SaveAnalysis(ctx, record(5, 5, classifier.LabelError, now.Add(-time.Minute))))
	// Another user inside the window.
	require.NoError(t, repo.SaveAnalysis(ctx, record(6, 8, classifier.LabelToxic, now.Add(-time.Minute))))

	count, err := repo.CountRecentOffenses(ctx, 5, now.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestSaveAnalysisDuplicateComment(t *testing.T) {
	repo, db := setupRepo(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.SaveAnalysis(ctx, record(7, 5, classifier.LabelToxic, now)))
	err := repo.SaveAnalysis(ctx, record(7, 5, classifier.LabelToxic, now))
	assert.ErrorIs(t, err, ErrDuplicateAnalysis)

	var count int64
	require.NoError(t, db.Model(&model.CommentAnalysis{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestCommitDecisionVersionConflict(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()
	now := time.Now()

	first, err := repo.GetUserState(ctx, 5)
	require.NoError(t, err)
	second, err := repo.GetUserState(ctx, 5)
	require.NoError(t, err)

	first.OffenseCount = 1
	first.LastOffenseAt = &now
	require.NoError(t, repo.CommitDecision(ctx, record(1, 5, classifier.LabelToxic, now), first))
	assert.EqualValues(t, 2, first.Version)

	// The second copy is stale now.
	second.OffenseCount = 1
	second.LastOffenseAt = &now
	err = repo.CommitDecision(ctx, record(2, 5, classifier.LabelToxic, now), second)
	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestCommitDecisionDuplicateRollsBackState(t *testing.T) {
	repo, db := setupRepo(t)
	ctx := context.Background()
	now := time.Now()

	state, err := repo.GetUserState(ctx, 5)
	require.NoError(t, err)
	state.OffenseCount = 1
	state.LastOffenseAt = &now
	require.NoError(t, repo.CommitDecision(ctx, record(1, 5, classifier.LabelToxic, now), state))

	// Redelivery: same comment, fresh state copy with a new decision.
	stale, err := repo.GetUserState(ctx, 5)
	require.NoError(t, err)
	stale.OffenseCount = 2
	err = repo.CommitDecision(ctx, record(1, 5, classifier.LabelToxic, now), stale)
	assert.ErrorIs(t, err, ErrDuplicateAnalysis)

	// The whole transaction rolled back: the counter is unchanged.
	var u model.User
	require.NoError(t, db.First(&u, "id = ?", 5).Error)
	assert.Equal(t, 1, u.OffenseCount)
}

func TestApplyBlockMonotonic(t *testing.T) {
	repo, db := setupRepo(t)
	ctx := context.Background()
	now := time.Now()

	_, err := repo.GetUserState(ctx, 5)
	require.NoError(t, err)

	later := now.Add(2 * time.Hour)
	applied, err := repo.ApplyBlock(ctx, 5, later)
	require.NoError(t, err)
	assert.True(t, applied)

	// A stale event with an earlier unblock time must not shorten the block.
	applied, err = repo.ApplyBlock(ctx, 5, now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, applied)

	var u model.User
	require.NoError(t, db.First(&u, "id = ?", 5).Error)
	assert.True(t, u.IsBlocked)
	require.NotNil(t, u.BlockedUntil)
	assert.WithinDuration(t, later, *u.BlockedUntil, time.Second)

	// A longer block extends it.
	longest := now.Add(3 * time.Hour)
	applied, err = repo.ApplyBlock(ctx, 5, longest)
	require.NoError(t, err)
	assert.True(t, applied)
	require.NoError(t, db.First(&u, "id = ?", 5).Error)
	assert.WithinDuration(t, longest, *u.BlockedUntil, time.Second)
}

func TestRecentAnalysesAndStats(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.SaveAnalysis(ctx, record(1, 5, classifier.LabelToxic, now.Add(-3*time.Minute))))
	require.NoError(t, repo.SaveAnalysis(ctx, record(2, 5, classifier.LabelNonToxic, now.Add(-2*time.Minute))))
	require.NoError(t, repo.SaveAnalysis(ctx, record(3, 8, classifier.LabelNonToxic, now.Add(-time.Minute))))

	recent, err := repo.RecentAnalyses(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.EqualValues(t, 3, recent[0].CommentID)
	assert.EqualValues(t, 2, recent[1].CommentID)

	stats, err := repo.ClassificationStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats[string(classifier.LabelToxic)])
	assert.EqualValues(t, 2, stats[string(classifier.LabelNonToxic)])
}
