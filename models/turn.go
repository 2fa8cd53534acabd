package models

import (
	"time"

	"gorm.io/datatypes"
)

// EmptyCanvasGuess is recorded when a turn is submitted without a drawing.
const EmptyCanvasGuess = "(no drawing)"

// Turn is one player's drawing-and-guess submission. Rows are never updated.
type Turn struct {
	ID              uint      `gorm:"primaryKey" json:"-"`
	MatchID         string    `gorm:"type:uuid;not null;uniqueIndex:idx_turn_match_number" json:"match_id"`
	TurnNumber      int       `gorm:"not null;uniqueIndex:idx_turn_match_number" json:"turn_number"`
	UserID          string    `gorm:"not null;index" json:"user_id"`
	AIGuess         string    `gorm:"not null" json:"ai_guess"`
	SimilarityScore float64   `gorm:"not null;default:0" json:"similarity_score"`
	Position        *int      `json:"position,omitempty"`
	SVGURL          string    `gorm:"type:text" json:"svg_url,omitempty"`
	TimedOut        bool      `gorm:"not null;default:false" json:"timed_out"`
	CreatedAt       time.Time `json:"created_at"`
}

// Stroke is one pen gesture broadcast while a turn is being drawn.
// Seq is assigned by the server; Epoch advances on every clear.
type Stroke struct {
	ID          uint           `gorm:"primaryKey" json:"-"`
	MatchID     string         `gorm:"type:uuid;not null;uniqueIndex:idx_stroke_seq" json:"match_id"`
	TurnNumber  int            `gorm:"not null;uniqueIndex:idx_stroke_seq" json:"turn_number"`
	Seq         int            `gorm:"not null;uniqueIndex:idx_stroke_seq" json:"seq"`
	Epoch       int            `gorm:"not null;default:0" json:"epoch"`
	StrokeIndex int            `gorm:"not null" json:"stroke_index"`
	IsClear     bool           `gorm:"not null;default:false" json:"is_clear"`
	UserID      string         `gorm:"not null" json:"user_id"`
	StrokeData  datatypes.JSON `json:"stroke_data"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Drawing is a doodle_duel submission: one scored drawing per player.
type Drawing struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	MatchID   string    `gorm:"type:uuid;not null;uniqueIndex:idx_drawing_match_user" json:"match_id"`
	UserID    string    `gorm:"not null;uniqueIndex:idx_drawing_match_user" json:"user_id"`
	Score     float64   `gorm:"not null;default:0" json:"score"`
	Message   string    `json:"message,omitempty"`
	SVGURL    string    `gorm:"type:text" json:"svg_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
