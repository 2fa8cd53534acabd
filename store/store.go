// Package store owns every persisted match entity and the per-match row lock.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"doodle-match-system/models"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Open connects to Postgres and migrates the schema.
func Open(dsn string, log *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	log.Info("database ready", zap.String("dialect", db.Dialector.Name()))
	return db, nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Match{},
		&models.MatchParticipant{},
		&models.Turn{},
		&models.Stroke{},
		&models.Drawing{},
		&models.MatchResult{},
		&models.ResultStanding{},
		&models.RewardGrant{},
		&models.UserProgress{},
	)
}

// ForUpdate adds a row lock on dialects that support one. SQLite serializes
// writers on its own so the clause is skipped there.
func ForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() != "postgres" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// ForUpdateSkipLocked is ForUpdate for lobby scans: rows another joiner holds are passed over.
func ForUpdateSkipLocked(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() != "postgres" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
}

// LockUser serializes membership changes of one user until the transaction
// ends. Take it before any match row lock.
func LockUser(tx *gorm.DB, userID string) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", "user:"+userID).Error
}

// LockMatch loads a match holding its row lock until the transaction ends.
func LockMatch(tx *gorm.DB, matchID string) (*models.Match, error) {
	var m models.Match
	if err := ForUpdate(tx).Where("id = ?", matchID).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func GetMatch(ctx context.Context, db *gorm.DB, matchID string) (*models.Match, error) {
	var m models.Match
	err := db.WithContext(ctx).
		Preload("Participants", func(q *gorm.DB) *gorm.DB { return q.Order("turn_position ASC") }).
		Where("id = ?", matchID).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func Participants(tx *gorm.DB, matchID string) ([]models.MatchParticipant, error) {
	var parts []models.MatchParticipant
	err := tx.Where("match_id = ?", matchID).Order("turn_position ASC").Find(&parts).Error
	return parts, err
}

func FindParticipant(tx *gorm.DB, matchID, userID string) (*models.MatchParticipant, error) {
	var p models.MatchParticipant
	if err := tx.Where("match_id = ? AND user_id = ?", matchID, userID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// NextFreePosition returns the lowest turn position not taken by parts.
func NextFreePosition(parts []models.MatchParticipant) int {
	taken := make(map[int]bool, len(parts))
	for _, p := range parts {
		taken[p.TurnPosition] = true
	}
	pos := 0
	for taken[pos] {
		pos++
	}
	return pos
}

func Turns(tx *gorm.DB, matchID string) ([]models.Turn, error) {
	var turns []models.Turn
	err := tx.Where("match_id = ?", matchID).Order("turn_number ASC").Find(&turns).Error
	return turns, err
}

func TurnExists(tx *gorm.DB, matchID string, turnNumber int) (bool, error) {
	var count int64
	err := tx.Model(&models.Turn{}).
		Where("match_id = ? AND turn_number = ?", matchID, turnNumber).
		Count(&count).Error
	return count > 0, err
}

func Drawings(tx *gorm.DB, matchID string) ([]models.Drawing, error) {
	var drawings []models.Drawing
	err := tx.Where("match_id = ?", matchID).Order("created_at ASC, id ASC").Find(&drawings).Error
	return drawings, err
}

// LastStroke returns the newest stroke of a turn, or nil if none was drawn yet.
func LastStroke(tx *gorm.DB, matchID string, turnNumber int) (*models.Stroke, error) {
	var s models.Stroke
	err := tx.Where("match_id = ? AND turn_number = ?", matchID, turnNumber).
		Order("seq DESC").
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func Strokes(tx *gorm.DB, matchID string, turnNumber int) ([]models.Stroke, error) {
	var strokes []models.Stroke
	err := tx.Where("match_id = ? AND turn_number = ?", matchID, turnNumber).
		Order("seq ASC").
		Find(&strokes).Error
	return strokes, err
}

// ResultFor returns the stored result with standings ordered by rank, or nil.
func ResultFor(tx *gorm.DB, matchID string) (*models.MatchResult, error) {
	var r models.MatchResult
	err := tx.Preload("Standings", func(q *gorm.DB) *gorm.DB { return q.Order("rank ASC") }).
		Where("match_id = ?", matchID).
		First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// DeleteMatch removes a lobby and its children.
func DeleteMatch(tx *gorm.DB, matchID string) error {
	if err := tx.Where("match_id = ?", matchID).Delete(&models.MatchParticipant{}).Error; err != nil {
		return err
	}
	return tx.Where("id = ?", matchID).Delete(&models.Match{}).Error
}
