package services

import (
	"context"
	"errors"

	"doodle-match-system/models"
	"doodle-match-system/realtime"
	"doodle-match-system/store"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type StatusService struct {
	core
}

func NewStatusService(d Deps) *StatusService {
	return &StatusService{core: newCore(d)}
}

// MatchStatus is the full view a client resyncs from.
type MatchStatus struct {
	Match             *models.Match            `json:"match"`
	Turns             []models.Turn            `json:"turns"`
	Drawings          []models.Drawing         `json:"drawings,omitempty"`
	Result            *models.MatchResult      `json:"result,omitempty"`
	CurrentTurnUserID string                   `json:"current_turn_user_id,omitempty"`
	TimeRemainingMs   int64                    `json:"time_remaining_ms"`
	Canvas            []realtime.StrokePayload `json:"canvas,omitempty"`
}

// GetMatchStatus returns the match with its participants, turns and, once
// completed, its result. Only participants may read it.
func (s *StatusService) GetMatchStatus(ctx context.Context, userID, matchID string) (*MatchStatus, error) {
	db := s.db.WithContext(ctx)
	m, err := store.GetMatch(ctx, s.db, matchID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMatchNotFound
	}
	if err != nil {
		return nil, err
	}

	seated := false
	for _, p := range m.Participants {
		if p.UserID == userID {
			seated = true
			break
		}
	}
	if !seated {
		return nil, ErrNotParticipant
	}

	st := &MatchStatus{Match: m, Turns: []models.Turn{}}
	if m.Mode.TurnBased() {
		if st.Turns, err = store.Turns(db, m.ID); err != nil {
			return nil, err
		}
	} else if m.Status != models.MatchStatusWaiting {
		if st.Drawings, err = store.Drawings(db, m.ID); err != nil {
			return nil, err
		}
	}

	switch m.Status {
	case models.MatchStatusCompleted:
		if st.Result, err = store.ResultFor(db, m.ID); err != nil {
			return nil, err
		}
	case models.MatchStatusInProgress:
		st.CurrentTurnUserID = m.CurrentTurnUserID()
		st.TimeRemainingMs = timeRemaining(s.now(), m, s.rules.TurnDuration).Milliseconds()
		if st.Canvas, err = s.canvas(db, m.ID, m.TurnNumber); err != nil {
			return nil, err
		}
	case models.MatchStatusActive:
		st.TimeRemainingMs = timeRemaining(s.now(), m, s.rules.DuelTimeout).Milliseconds()
	}
	return st, nil
}

// canvas replays the stroke log of a turn into what is visible now.
func (s *StatusService) canvas(db *gorm.DB, matchID string, turnNumber int) ([]realtime.StrokePayload, error) {
	strokes, err := store.Strokes(db, matchID, turnNumber)
	if err != nil {
		return nil, err
	}
	replay := realtime.NewCanvasReplay()
	for i := range strokes {
		replay.Apply(strokePayload(&strokes[i]))
	}
	return replay.Strokes(), nil
}

// MarkResultsViewed flags the caller's seat. When every participant has
// seen the result the stroke log is purged and the match archived.
func (s *StatusService) MarkResultsViewed(ctx context.Context, userID, matchID string) (bool, error) {
	var (
		archived bool
		ob       outbox
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := store.LockMatch(tx, matchID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrMatchNotFound
		}
		if err != nil {
			return err
		}
		p, err := store.FindParticipant(tx, matchID, userID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotParticipant
		}
		if err != nil {
			return err
		}
		if !m.IsCompleted() {
			return ErrMatchNotComplete
		}
		if !p.ResultsViewed {
			if err := tx.Model(p).Update("results_viewed", true).Error; err != nil {
				return err
			}
			ob.match(realtime.EventResultsViewed, matchID, map[string]string{"user_id": userID})
		}

		if m.ArchivedAt != nil {
			archived = true
			return nil
		}
		var unviewed int64
		if err := tx.Model(&models.MatchParticipant{}).
			Where("match_id = ? AND results_viewed = ?", matchID, false).
			Count(&unviewed).Error; err != nil {
			return err
		}
		if unviewed > 0 {
			return nil
		}

		res := tx.Where("match_id = ?", matchID).Delete(&models.Stroke{})
		if res.Error != nil {
			return res.Error
		}
		now := s.now()
		if err := tx.Model(m).Update("archived_at", now).Error; err != nil {
			return err
		}
		archived = true
		s.log.Info("match archived",
			zap.String("match_id", matchID), zap.Int64("strokes_purged", res.RowsAffected))
		return nil
	})
	if err != nil {
		return false, err
	}
	s.flush(ctx, ob)
	return archived, nil
}
