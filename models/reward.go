package models

import (
	"time"
)

// MatchResult is written once, in the same transaction that completes the match.
type MatchResult struct {
	ID           uint             `gorm:"primaryKey" json:"-"`
	MatchID      string           `gorm:"type:uuid;not null;uniqueIndex" json:"match_id"`
	WinnerUserID *string          `json:"winner_user_id"`
	IsTie        bool             `gorm:"not null;default:false" json:"is_tie"`
	Reason       string           `gorm:"type:varchar(32)" json:"reason"`
	Standings    []ResultStanding `gorm:"foreignKey:ResultID;constraint:OnDelete:CASCADE" json:"standings"`
	CreatedAt    time.Time        `json:"created_at"`
}

type ResultStanding struct {
	ID         uint    `gorm:"primaryKey" json:"-"`
	ResultID   uint    `gorm:"not null;index" json:"-"`
	MatchID    string  `gorm:"type:uuid;not null;index" json:"match_id"`
	UserID     string  `gorm:"not null" json:"user_id"`
	FinalScore float64 `json:"final_score"`
	Rank       int     `json:"rank"`
	XPAwarded  int64   `json:"xp_awarded"`
}

type RewardReason string

const (
	RewardReasonParticipation RewardReason = "match_played"
	RewardReasonWin           RewardReason = "match_won"
)

// RewardGrant records XP issued for a match. The (match_id, user_id) key makes issuance exactly-once.
type RewardGrant struct {
	ID        uint         `gorm:"primaryKey" json:"-"`
	MatchID   string       `gorm:"type:uuid;not null;uniqueIndex:idx_reward_match_user" json:"match_id"`
	UserID    string       `gorm:"not null;uniqueIndex:idx_reward_match_user" json:"user_id"`
	XP        int64        `gorm:"not null" json:"xp"`
	Reason    RewardReason `gorm:"type:varchar(32);not null" json:"reason"`
	CreatedAt time.Time    `json:"created_at"`
}
