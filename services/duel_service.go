package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"doodle-match-system/models"
	"doodle-match-system/realtime"
	"doodle-match-system/store"
	"doodle-match-system/utils"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DuelService runs doodle_duel: everyone draws the same word at once and
// the gateway scores each drawing.
type DuelService struct {
	core
	results  *ResultService
	scorer   Scorer
	drawings DrawingStore
}

func NewDuelService(d Deps, results *ResultService, scorer Scorer, drawings DrawingStore) *DuelService {
	return &DuelService{core: newCore(d), results: results, scorer: scorer, drawings: drawings}
}

type SubmitDrawingInput struct {
	MatchID   string
	PNGBase64 string
	Score     *float64
	SVG       string
	SVGURL    string
}

type SubmitDrawingResult struct {
	GameOver bool                `json:"game_over"`
	Drawing  *models.Drawing     `json:"drawing"`
	Result   *models.MatchResult `json:"result,omitempty"`
}

func (s *DuelService) SubmitDrawing(ctx context.Context, userID string, in SubmitDrawingInput) (*SubmitDrawingResult, error) {
	m, err := store.GetMatch(ctx, s.db, in.MatchID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMatchNotFound
	}
	if err != nil {
		return nil, err
	}
	if m.Mode != models.ModeDoodleDuel {
		return nil, fmt.Errorf("%w: %s is not a duel", ErrInvalidRequest, m.Mode)
	}
	if m.Status != models.MatchStatusActive {
		return nil, ErrMatchNotActive
	}
	seated := false
	for _, p := range m.Participants {
		if p.UserID == userID {
			seated = true
			if p.Submitted {
				return nil, ErrDuplicateTurn
			}
		}
	}
	if !seated {
		return nil, ErrNotParticipant
	}

	drawing := &models.Drawing{MatchID: m.ID, UserID: userID, Message: models.EmptyCanvasGuess}
	switch {
	case in.PNGBase64 != "":
		if s.scorer == nil {
			return nil, fmt.Errorf("%w: no scoring gateway configured", ErrScoringUnavailable)
		}
		scored, err := s.scorer.ScoreDrawing(ctx, in.PNGBase64, m.SecretWord)
		if err != nil {
			s.log.Warn("score-drawing failed", zap.String("match_id", m.ID), zap.String("user_id", userID), zap.Error(err))
			if !errors.Is(err, ErrScoringUnavailable) {
				err = fmt.Errorf("%w: %v", ErrScoringUnavailable, err)
			}
			return nil, err
		}
		drawing.Score = scored.Score
		drawing.Message = scored.Message
	case in.Score != nil:
		if math.IsNaN(*in.Score) {
			return nil, fmt.Errorf("%w: score", ErrInvalidRequest)
		}
		drawing.Score = clampScore(*in.Score)
		drawing.Message = ""
	}

	drawing.SVGURL = strings.TrimSpace(in.SVGURL)
	if in.SVG != "" {
		url, err := uploadDrawing(ctx, s.drawings, s.log, utils.DrawingKey(m.ID, 0, userID), in.SVG)
		if err != nil {
			return nil, err
		}
		drawing.SVGURL = url
	}

	var (
		res = &SubmitDrawingResult{Drawing: drawing}
		ob  outbox
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := store.LockMatch(tx, m.ID)
		if err != nil {
			return err
		}
		if locked.Status != models.MatchStatusActive {
			return ErrMatchNotActive
		}
		p, err := store.FindParticipant(tx, m.ID, userID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotParticipant
		}
		if err != nil {
			return err
		}
		if p.Submitted {
			return ErrDuplicateTurn
		}

		drawing.CreatedAt = s.now()
		if err := tx.Create(drawing).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateTurn
			}
			return err
		}
		if err := tx.Model(p).Update("submitted", true).Error; err != nil {
			return err
		}
		ob.match(realtime.EventDrawingSubmitted, m.ID, map[string]any{
			"user_id": userID,
			"score":   drawing.Score,
		})

		var pending int64
		if err := tx.Model(&models.MatchParticipant{}).
			Where("match_id = ? AND submitted = ?", m.ID, false).
			Count(&pending).Error; err != nil {
			return err
		}
		if pending > 0 {
			return nil
		}
		result, err := s.results.finalizeLocked(tx, locked, models.CompletionAllSubmitted, &ob)
		if err != nil {
			return err
		}
		res.GameOver = true
		res.Result = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.flush(ctx, ob)
	return res, nil
}

// SweepExpiredDuels finalizes duels that ran past the duel timeout with
// whatever drawings were submitted.
func (s *DuelService) SweepExpiredDuels(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.rules.DuelTimeout)

	var ids []string
	if err := s.db.WithContext(ctx).
		Model(&models.Match{}).
		Where("mode = ? AND status = ? AND turn_start_time < ?", models.ModeDoodleDuel, models.MatchStatusActive, cutoff).
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}

	finalized := 0
	for _, id := range ids {
		if _, err := s.results.Finalize(ctx, id, models.CompletionTimeout); err != nil {
			s.log.Error("duel timeout finalize failed", zap.String("match_id", id), zap.Error(err))
			continue
		}
		finalized++
	}
	return finalized, nil
}
