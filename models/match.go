package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type MatchMode string

const (
	ModeDoodleDuel       MatchMode = "doodle_duel"
	ModeRoulette         MatchMode = "roulette"
	ModeDoodleHuntFriend MatchMode = "doodle_hunt_friend"
)

func (m MatchMode) Valid() bool {
	switch m {
	case ModeDoodleDuel, ModeRoulette, ModeDoodleHuntFriend:
		return true
	}
	return false
}

// TurnBased reports whether players take strict turns drawing.
func (m MatchMode) TurnBased() bool {
	return m == ModeRoulette || m == ModeDoodleHuntFriend
}

type MatchStatus string

const (
	MatchStatusWaiting    MatchStatus = "waiting"
	MatchStatusActive     MatchStatus = "active"      // duel, everyone drawing at once
	MatchStatusInProgress MatchStatus = "in_progress" // turn-based play
	MatchStatusCompleted  MatchStatus = "completed"
)

func (s MatchStatus) order() int {
	switch s {
	case MatchStatusWaiting:
		return 0
	case MatchStatusActive, MatchStatusInProgress:
		return 1
	case MatchStatusCompleted:
		return 2
	}
	return -1
}

// CanTransitionTo enforces forward-only status changes.
func (s MatchStatus) CanTransitionTo(next MatchStatus) bool {
	return next.order() > s.order() && s.order() >= 0
}

const (
	CompletionPerfectGuess = "perfect_guess"
	CompletionMaxTurns     = "max_turns"
	CompletionAllSubmitted = "all_submitted"
	CompletionTimeout      = "timeout"
)

// Match is one game session: a lobby while waiting, then a fixed set of players.
type Match struct {
	ID         string      `gorm:"primaryKey;type:uuid" json:"id"`
	Mode       MatchMode   `gorm:"type:varchar(32);not null;index:idx_matches_lookup,priority:1" json:"mode"`
	Status     MatchStatus `gorm:"type:varchar(16);not null;index:idx_matches_lookup,priority:2" json:"status"`
	Difficulty string      `gorm:"type:varchar(16);not null;index:idx_matches_lookup,priority:3" json:"difficulty"`
	MaxPlayers int         `gorm:"not null;index:idx_matches_lookup,priority:4" json:"max_players"`
	Private    bool        `gorm:"not null;default:false" json:"private"`
	SecretWord string      `gorm:"not null" json:"secret_word"`
	CreatedBy  string      `gorm:"not null" json:"created_by"`

	// Turn-based state. TurnOrder is fixed once the lobby fills.
	TurnOrder        datatypes.JSONSlice[string] `json:"turn_order"`
	CurrentTurnIndex int                         `gorm:"not null;default:0" json:"current_turn_index"`
	TurnNumber       int                         `gorm:"not null;default:0" json:"turn_number"`
	MaxTurns         int                         `gorm:"not null;default:0" json:"max_turns"`
	TurnStartTime    *time.Time                  `gorm:"index" json:"turn_start_time,omitempty"`

	WinnerUserID     *string    `json:"winner_user_id"`
	CompletionReason string     `gorm:"type:varchar(32)" json:"completion_reason,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	ArchivedAt       *time.Time `json:"archived_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Participants []MatchParticipant `gorm:"foreignKey:MatchID;constraint:OnDelete:CASCADE" json:"participants,omitempty"`
}

func (m *Match) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// CurrentTurnUserID returns whose turn it is, or "" when no order is set.
func (m *Match) CurrentTurnUserID() string {
	if len(m.TurnOrder) == 0 || m.CurrentTurnIndex < 0 || m.CurrentTurnIndex >= len(m.TurnOrder) {
		return ""
	}
	return m.TurnOrder[m.CurrentTurnIndex]
}

func (m *Match) IsCompleted() bool {
	return m.Status == MatchStatusCompleted
}

// MatchParticipant is a seat in a match. TurnPosition is assigned at join and never changes.
// Submitted is set once the seat has a recorded turn (turn-based) or its drawing (duel).
type MatchParticipant struct {
	ID            uint      `gorm:"primaryKey" json:"-"`
	MatchID       string    `gorm:"type:uuid;not null;uniqueIndex:idx_participant_match_user;uniqueIndex:idx_participant_match_position" json:"match_id"`
	UserID        string    `gorm:"not null;index;uniqueIndex:idx_participant_match_user" json:"user_id"`
	TurnPosition  int       `gorm:"not null;uniqueIndex:idx_participant_match_position" json:"turn_position"`
	Submitted     bool      `gorm:"not null;default:false" json:"submitted"`
	ResultsViewed bool      `gorm:"not null;default:false" json:"results_viewed"`
	JoinedAt      time.Time `gorm:"not null" json:"joined_at"`
}
