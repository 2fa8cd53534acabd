package services

import (
	"context"
	"errors"
	"math"

	"doodle-match-system/models"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// XPWeights define relative values
type XPWeights struct {
	MatchXP int64 // every finished participant
	WinXP   int64 // bonus on top of MatchXP for the winner
}

var DefaultXPWeights = XPWeights{
	MatchXP: 10,
	WinXP:   40,
}

// LevelConfig: XP needed for *next* level (e.g., level 1 → 2 needs BaseXPPerLevel * 1^1.2)
const BaseXPPerLevel = 100

// xpForNextLevel returns XP required to reach level+1 from current level
// e.g., xpForNextLevel(1) = XP to go from L1 → L2
func xpForNextLevel(currentLevel int) int64 {
	if currentLevel < 1 {
		currentLevel = 1
	}
	// L_n = floor(BaseXPPerLevel * n^1.2)
	return int64(float64(BaseXPPerLevel) * math.Pow(float64(currentLevel), 1.2))
}

// RankThresholds: levels required before rank-up
var RankThresholds = map[int]int{ // rank → min level
	1: 1,   // Rookie (start)
	2: 10,  // Bronze
	3: 25,  // Silver
	4: 50,  // Gold
	5: 100, // Platinum
}

func determineRank(level int) int {
	for rank := 5; rank >= 1; rank-- {
		if level >= RankThresholds[rank] {
			return rank
		}
	}
	return 1
}

func RankName(rank int) string {
	switch rank {
	case 1:
		return "Rookie"
	case 2:
		return "Bronze"
	case 3:
		return "Silver"
	case 4:
		return "Gold"
	case 5:
		return "Platinum"
	default:
		if rank > 5 {
			return "Legend"
		}
		return "Rookie"
	}
}

type ProgressionService struct {
	DB      *gorm.DB
	Weights XPWeights
	clock   clockwork.Clock
	log     *zap.Logger
}

func NewProgressionService(db *gorm.DB, clock clockwork.Clock, log *zap.Logger) *ProgressionService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ProgressionService{DB: db, Weights: DefaultXPWeights, clock: clock, log: log}
}

// EnsureProgressRecord ensures a UserProgress row exists (idempotent)
func (s *ProgressionService) EnsureProgressRecord(ctx context.Context, userID string) (*models.UserProgress, error) {
	return ensureProgress(s.DB.WithContext(ctx), userID)
}

func ensureProgress(tx *gorm.DB, userID string) (*models.UserProgress, error) {
	prog := models.UserProgress{ID: uuid.NewString(), UserID: userID, Level: 1, Rank: 1}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&prog).Error; err != nil {
		return nil, err
	}

	var stored models.UserProgress
	if err := tx.Where("user_id = ?", userID).First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

// AwardXP applies match XP inside the caller's transaction, so progress
// moves together with the reward grant that authorises it.
func (s *ProgressionService) AwardXP(tx *gorm.DB, userID string, xp int64, won bool) (*models.UserProgress, error) {
	if _, err := ensureProgress(tx, userID); err != nil {
		return nil, err
	}

	var prog models.UserProgress
	q := tx
	if tx.Dialector.Name() == "postgres" {
		q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.Where("user_id = ?", userID).First(&prog).Error; err != nil {
		return nil, err
	}

	oldRank := prog.Rank
	prog.TotalXP += xp
	prog.TotalMatches++
	if won {
		prog.TotalWins++
	}

	// Level-up logic: accumulate until enough for next level
	for prog.TotalXP >= int64(BaseXPPerLevel)*int64(prog.Level)+xpForNextLevel(prog.Level) {
		prog.Level++
		now := s.clock.Now().UTC()
		prog.LastLevelUpAt = &now
	}

	// Rank-up logic
	if newRank := determineRank(prog.Level); newRank > oldRank {
		now := s.clock.Now().UTC()
		prog.Rank = newRank
		prog.LastRankUpAt = &now
	}

	if err := tx.Save(&prog).Error; err != nil {
		return nil, err
	}

	s.log.Info("xp awarded",
		zap.String("user_id", userID), zap.Int64("xp", xp), zap.Int64("total_xp", prog.TotalXP),
		zap.Int("level", prog.Level), zap.Int("rank", prog.Rank))
	return &prog, nil
}

// ProgressView is what GET /progress/me returns.
type ProgressView struct {
	*models.UserProgress
	RankName      string               `json:"rank_name"`
	XPToNextLevel int64                `json:"xp_to_next_level"`
	RecentRewards []models.RewardGrant `json:"recent_rewards"`
}

func (s *ProgressionService) GetProgress(ctx context.Context, userID string) (*ProgressView, error) {
	if userID == "" {
		return nil, errors.New("user id required")
	}
	prog, err := s.EnsureProgressRecord(ctx, userID)
	if err != nil {
		return nil, err
	}

	var recent []models.RewardGrant
	if err := s.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(10).
		Find(&recent).Error; err != nil {
		return nil, err
	}

	next := int64(BaseXPPerLevel)*int64(prog.Level) + xpForNextLevel(prog.Level) - prog.TotalXP
	if next < 0 {
		next = 0
	}
	return &ProgressView{
		UserProgress:  prog,
		RankName:      RankName(prog.Rank),
		XPToNextLevel: next,
		RecentRewards: recent,
	}, nil
}
