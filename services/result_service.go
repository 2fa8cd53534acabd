package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"doodle-match-system/models"
	"doodle-match-system/realtime"
	"doodle-match-system/store"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ResultService finalizes matches and issues their rewards.
type ResultService struct {
	core
	progression *ProgressionService
}

func NewResultService(d Deps, progression *ProgressionService) *ResultService {
	return &ResultService{core: newCore(d), progression: progression}
}

// Finalize completes a match in its own transaction. It is a no-op on a
// completed match and returns the stored result.
func (s *ResultService) Finalize(ctx context.Context, matchID, reason string) (*models.MatchResult, error) {
	var (
		result *models.MatchResult
		ob     outbox
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := store.LockMatch(tx, matchID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrMatchNotFound
		}
		if err != nil {
			return err
		}
		result, err = s.finalizeLocked(tx, m, reason, &ob)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.flush(ctx, ob)
	return result, nil
}

// finalizeLocked requires the caller to hold the match row lock in tx.
func (s *ResultService) finalizeLocked(tx *gorm.DB, m *models.Match, reason string, ob *outbox) (*models.MatchResult, error) {
	if m.IsCompleted() {
		return store.ResultFor(tx, m.ID)
	}
	if m.Status == models.MatchStatusWaiting || !m.Status.CanTransitionTo(models.MatchStatusCompleted) {
		return nil, fmt.Errorf("%w: status %s", ErrMatchNotActive, m.Status)
	}

	parts, err := store.Participants(tx, m.ID)
	if err != nil {
		return nil, err
	}

	var scores []playerScore
	if m.Mode.TurnBased() {
		turns, err := store.Turns(tx, m.ID)
		if err != nil {
			return nil, err
		}
		scores = scoreTurns(parts, turns)
	} else {
		drawings, err := store.Drawings(tx, m.ID)
		if err != nil {
			return nil, err
		}
		scores = scoreDrawings(parts, drawings)
	}

	threshold := 0.0
	if m.Mode.TurnBased() {
		threshold = s.rules.TieThreshold
	}
	winner := pickWinner(scores, threshold)
	standings := rankStandings(m.ID, scores)

	for i := range standings {
		xp := s.progression.Weights.MatchXP
		if winner != nil && standings[i].UserID == *winner {
			xp += s.progression.Weights.WinXP
		}
		standings[i].XPAwarded = xp
	}

	now := s.now()
	result := &models.MatchResult{
		MatchID:      m.ID,
		WinnerUserID: winner,
		IsTie:        winner == nil,
		Reason:       reason,
		Standings:    standings,
		CreatedAt:    now,
	}
	if err := tx.Create(result).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return store.ResultFor(tx, m.ID)
		}
		return nil, err
	}

	m.Status = models.MatchStatusCompleted
	m.WinnerUserID = winner
	m.CompletionReason = reason
	m.CompletedAt = &now
	if err := tx.Model(m).Updates(map[string]any{
		"status":            m.Status,
		"winner_user_id":    winner,
		"completion_reason": reason,
		"completed_at":      now,
	}).Error; err != nil {
		return nil, err
	}

	for _, st := range standings {
		won := winner != nil && st.UserID == *winner
		if err := s.issueReward(tx, m.ID, st.UserID, st.XPAwarded, won); err != nil {
			return nil, err
		}
	}

	s.log.Info("match completed",
		zap.String("match_id", m.ID), zap.String("reason", reason),
		zap.Stringp("winner", winner), zap.Int("players", len(parts)))

	ob.match(realtime.EventMatchCompleted, m.ID, result)
	return result, nil
}

// issueReward inserts the (match, user) grant and applies XP only when the
// insert actually happened.
func (s *ResultService) issueReward(tx *gorm.DB, matchID, userID string, xp int64, won bool) error {
	reason := models.RewardReasonParticipation
	if won {
		reason = models.RewardReasonWin
	}
	grant := models.RewardGrant{MatchID: matchID, UserID: userID, XP: xp, Reason: reason, CreatedAt: s.now()}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "match_id"}, {Name: "user_id"}},
		DoNothing: true,
	}).Create(&grant)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		s.log.Debug("reward already issued", zap.String("match_id", matchID), zap.String("user_id", userID))
		return nil
	}
	_, err := s.progression.AwardXP(tx, userID, xp, won)
	return err
}

type playerScore struct {
	userID   string
	position int
	best     float64
	// bestAt orders equal scores: the turn number (or drawing order) that first reached best.
	bestAt int
	played bool
}

// scoreTurns takes each player's MAX similarity over their own turns.
func scoreTurns(parts []models.MatchParticipant, turns []models.Turn) []playerScore {
	byUser := make(map[string]*playerScore, len(parts))
	scores := make([]playerScore, len(parts))
	for i, p := range parts {
		scores[i] = playerScore{userID: p.UserID, position: p.TurnPosition}
		byUser[p.UserID] = &scores[i]
	}
	for _, t := range turns {
		ps, ok := byUser[t.UserID]
		if !ok {
			continue
		}
		if !ps.played || t.SimilarityScore > ps.best {
			ps.best = t.SimilarityScore
			ps.bestAt = t.TurnNumber
			ps.played = true
		}
	}
	return scores
}

func scoreDrawings(parts []models.MatchParticipant, drawings []models.Drawing) []playerScore {
	byUser := make(map[string]*playerScore, len(parts))
	scores := make([]playerScore, len(parts))
	for i, p := range parts {
		scores[i] = playerScore{userID: p.UserID, position: p.TurnPosition}
		byUser[p.UserID] = &scores[i]
	}
	for i, d := range drawings {
		if ps, ok := byUser[d.UserID]; ok {
			ps.best = d.Score
			ps.bestAt = i + 1
			ps.played = true
		}
	}
	return scores
}

// pickWinner returns the single player with the strictly highest score.
// A shared top score, no submissions, or a top score below threshold is a tie.
func pickWinner(scores []playerScore, threshold float64) *string {
	var top *playerScore
	shared := false
	for i := range scores {
		ps := &scores[i]
		if !ps.played {
			continue
		}
		switch {
		case top == nil || ps.best > top.best:
			top = ps
			shared = false
		case ps.best == top.best:
			shared = true
		}
	}
	if top == nil || shared || top.best < threshold {
		return nil
	}
	winner := top.userID
	return &winner
}

// rankStandings orders by score, then earliest achievement, then seat.
// Equal scores share a rank.
func rankStandings(matchID string, scores []playerScore) []models.ResultStanding {
	sorted := make([]playerScore, len(scores))
	copy(sorted, scores)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.best != b.best {
			return a.best > b.best
		}
		if a.played != b.played {
			return a.played
		}
		if a.bestAt != b.bestAt {
			return a.bestAt < b.bestAt
		}
		return a.position < b.position
	})

	out := make([]models.ResultStanding, len(sorted))
	for i, ps := range sorted {
		rank := i + 1
		if i > 0 && ps.best == sorted[i-1].best {
			rank = out[i-1].Rank
		}
		out[i] = models.ResultStanding{MatchID: matchID, UserID: ps.userID, FinalScore: ps.best, Rank: rank}
	}
	return out
}
