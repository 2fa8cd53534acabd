package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestDetermineRank(t *testing.T) {
	assert.Equal(t, 1, determineRank(1))
	assert.Equal(t, 2, determineRank(10))
	assert.Equal(t, 3, determineRank(30))
	assert.Equal(t, 5, determineRank(250))
	assert.Equal(t, "Gold", RankName(4))
	assert.Equal(t, "Legend", RankName(9))
}

func TestAwardXPLevelsUp(t *testing.T) {
	env := newTestEnv(t)

	var level int
	err := env.db.Transaction(func(tx *gorm.DB) error {
		prog, err := env.progression.AwardXP(tx, "alice", 250, true)
		if err != nil {
			return err
		}
		level = prog.Level
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, level)

	view, err := env.progression.GetProgress(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(250), view.TotalXP)
	assert.Equal(t, int64(1), view.TotalWins)
	assert.NotNil(t, view.LastLevelUpAt)
	assert.Equal(t, "Rookie", view.RankName)
	assert.Positive(t, view.XPToNextLevel)
}

func TestEnsureProgressRecordIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a, err := env.progression.EnsureProgressRecord(ctx, "bob")
	require.NoError(t, err)
	b, err := env.progression.EnsureProgressRecord(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, 1, b.Level)

	_, err = env.progression.GetProgress(ctx, "")
	assert.Error(t, err)
}
