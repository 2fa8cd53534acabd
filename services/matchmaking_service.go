package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"doodle-match-system/models"
	"doodle-match-system/realtime"
	"doodle-match-system/store"
	"doodle-match-system/words"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	MinPlayers = 2
	MaxPlayers = 8
)

// WordPicker chooses the secret word of a new match.
type WordPicker interface {
	Pick(difficulty string) (string, error)
}

type MatchmakingService struct {
	core
	words WordPicker
}

func NewMatchmakingService(d Deps, picker WordPicker) *MatchmakingService {
	return &MatchmakingService{core: newCore(d), words: picker}
}

type FindOrCreateInput struct {
	Mode       models.MatchMode
	Difficulty string
	MaxPlayers int
	Private    bool
}

func (in *FindOrCreateInput) validate() error {
	in.Difficulty = words.NormalizeDifficulty(in.Difficulty)
	if !in.Mode.Valid() {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, in.Mode)
	}
	if in.Difficulty == "" {
		in.Difficulty = "easy"
	}
	if in.MaxPlayers == 0 {
		in.MaxPlayers = MinPlayers
	}
	if in.MaxPlayers < MinPlayers || in.MaxPlayers > MaxPlayers {
		return fmt.Errorf("%w: max players must be between %d and %d", ErrInvalidRequest, MinPlayers, MaxPlayers)
	}
	return nil
}

// seat is one unresolved participation of a user.
type seat struct {
	MatchID    string
	Status     models.MatchStatus
	Mode       models.MatchMode
	Difficulty string
	MaxPlayers int
	Private    bool
}

func (st seat) fits(in FindOrCreateInput) bool {
	return st.Status == models.MatchStatusWaiting && !st.Private && !in.Private &&
		st.Mode == in.Mode && st.Difficulty == in.Difficulty && st.MaxPlayers == in.MaxPlayers
}

func openSeats(tx *gorm.DB, userID string) ([]seat, error) {
	var seats []seat
	err := tx.Table("match_participants AS p").
		Select("m.id AS match_id, m.status, m.mode, m.difficulty, m.max_players, m.private").
		Joins("JOIN matches m ON m.id = p.match_id").
		Where("p.user_id = ? AND m.status <> ?", userID, models.MatchStatusCompleted).
		Order("p.joined_at ASC").
		Scan(&seats).Error
	return seats, err
}

// conflicting reports whether a seat blocks the user from joining another
// match of mode: any other waiting lobby, or a live public match of the same mode.
func conflicting(seats []seat, exceptMatchID string, mode models.MatchMode) bool {
	for _, st := range seats {
		if st.MatchID == exceptMatchID {
			continue
		}
		if st.Status == models.MatchStatusWaiting {
			return true
		}
		if !st.Private && st.Mode == mode {
			return true
		}
	}
	return false
}

// FindOrCreateMatch seats the user in the oldest compatible public lobby or
// opens a new one. Calling it again while seated in a compatible lobby
// returns that lobby.
func (s *MatchmakingService) FindOrCreateMatch(ctx context.Context, userID string, in FindOrCreateInput) (*models.Match, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var (
		matchID string
		ob      outbox
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := store.LockUser(tx, userID); err != nil {
			return err
		}
		seats, err := openSeats(tx, userID)
		if err != nil {
			return err
		}
		for _, st := range seats {
			if st.fits(in) {
				matchID = st.MatchID
				return nil
			}
		}
		if conflicting(seats, "", in.Mode) {
			return ErrAlreadyInMatch
		}

		if !in.Private {
			var candidates []models.Match
			if err := store.ForUpdateSkipLocked(tx).
				Where("mode = ? AND status = ? AND difficulty = ? AND max_players = ? AND private = ?",
					in.Mode, models.MatchStatusWaiting, in.Difficulty, in.MaxPlayers, false).
				Order("created_at ASC").
				Limit(10).
				Find(&candidates).Error; err != nil {
				return err
			}
			for i := range candidates {
				m := &candidates[i]
				parts, err := store.Participants(tx, m.ID)
				if err != nil {
					return err
				}
				if len(parts) >= m.MaxPlayers {
					continue
				}
				matchID = m.ID
				return s.joinLocked(tx, m, parts, userID, &ob)
			}
		}

		m, err := s.createLocked(tx, userID, in)
		if err != nil {
			return err
		}
		matchID = m.ID
		return s.joinLocked(tx, m, nil, userID, &ob)
	})
	if err != nil {
		return nil, err
	}
	s.flush(ctx, ob)
	return store.GetMatch(ctx, s.db, matchID)
}

func (s *MatchmakingService) createLocked(tx *gorm.DB, userID string, in FindOrCreateInput) (*models.Match, error) {
	word, err := s.words.Pick(in.Difficulty)
	if err != nil {
		if errors.Is(err, words.ErrUnknownDifficulty) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return nil, err
	}

	m := &models.Match{
		Mode:       in.Mode,
		Status:     models.MatchStatusWaiting,
		Difficulty: in.Difficulty,
		MaxPlayers: in.MaxPlayers,
		Private:    in.Private,
		SecretWord: word,
		CreatedBy:  userID,
		CreatedAt:  s.now(),
	}
	if in.Mode.TurnBased() {
		m.MaxTurns = in.MaxPlayers * s.rules.TurnsPerPlayer
	}
	if err := tx.Omit(clause.Associations).Create(m).Error; err != nil {
		return nil, err
	}
	s.log.Info("match created",
		zap.String("match_id", m.ID), zap.String("mode", string(m.Mode)),
		zap.Int("max_players", m.MaxPlayers), zap.Bool("private", m.Private))
	return m, nil
}

// joinLocked seats userID at the lowest free position and activates the
// match when it fills. parts must be the current participants of the locked match.
func (s *MatchmakingService) joinLocked(tx *gorm.DB, m *models.Match, parts []models.MatchParticipant, userID string, ob *outbox) error {
	p := models.MatchParticipant{
		MatchID:      m.ID,
		UserID:       userID,
		TurnPosition: store.NextFreePosition(parts),
		JoinedAt:     s.now(),
	}
	if err := tx.Create(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrAlreadyInMatch
		}
		return err
	}
	parts = append(parts, p)

	ob.match(realtime.EventParticipantJoined, m.ID, map[string]any{
		"user_id":       userID,
		"turn_position": p.TurnPosition,
		"players":       len(parts),
		"max_players":   m.MaxPlayers,
	})

	if len(parts) < m.MaxPlayers {
		return nil
	}
	return s.activateLocked(tx, m, parts, ob)
}

// activateLocked moves a full lobby into play. For turn-based modes the
// order is the seats' turn positions.
func (s *MatchmakingService) activateLocked(tx *gorm.DB, m *models.Match, parts []models.MatchParticipant, ob *outbox) error {
	sort.Slice(parts, func(i, j int) bool { return parts[i].TurnPosition < parts[j].TurnPosition })

	now := s.now()
	updates := map[string]any{"turn_start_time": now}
	if m.Mode.TurnBased() {
		order := make([]string, len(parts))
		for i, p := range parts {
			order[i] = p.UserID
		}
		m.Status = models.MatchStatusInProgress
		m.TurnOrder = order
		m.CurrentTurnIndex = 0
		m.TurnNumber = 1
		updates["turn_order"] = m.TurnOrder
		updates["current_turn_index"] = 0
		updates["turn_number"] = 1
	} else {
		m.Status = models.MatchStatusActive
	}
	m.TurnStartTime = &now
	updates["status"] = m.Status

	if err := tx.Model(m).Updates(updates).Error; err != nil {
		return err
	}

	s.log.Info("match started",
		zap.String("match_id", m.ID), zap.String("status", string(m.Status)), zap.Strings("turn_order", m.TurnOrder))
	ob.match(realtime.EventMatchStarted, m.ID, map[string]any{
		"status":               m.Status,
		"turn_order":           m.TurnOrder,
		"turn_number":          m.TurnNumber,
		"current_turn_user_id": m.CurrentTurnUserID(),
		"turn_start_time":      now,
	})
	return nil
}

// JoinMatch seats the user in a specific lobby, typically a private invite.
func (s *MatchmakingService) JoinMatch(ctx context.Context, userID, matchID string) (*models.Match, error) {
	var ob outbox
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := store.LockUser(tx, userID); err != nil {
			return err
		}
		m, err := store.LockMatch(tx, matchID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrMatchNotFound
		}
		if err != nil {
			return err
		}

		parts, err := store.Participants(tx, m.ID)
		if err != nil {
			return err
		}
		for _, p := range parts {
			if p.UserID == userID {
				return nil
			}
		}
		if m.Status != models.MatchStatusWaiting || len(parts) >= m.MaxPlayers {
			return ErrMatchFull
		}

		seats, err := openSeats(tx, userID)
		if err != nil {
			return err
		}
		if conflicting(seats, m.ID, m.Mode) {
			return ErrAlreadyInMatch
		}
		return s.joinLocked(tx, m, parts, userID, &ob)
	})
	if err != nil {
		return nil, err
	}
	s.flush(ctx, ob)
	return store.GetMatch(ctx, s.db, matchID)
}

// LeaveMatch removes the user from a waiting lobby and reports whether a
// seat was freed. Leaving a match that already started is a no-op.
func (s *MatchmakingService) LeaveMatch(ctx context.Context, userID, matchID string) (bool, error) {
	var (
		left bool
		ob   outbox
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		left, err = s.leaveLocked(tx, userID, matchID, &ob)
		return err
	})
	if err != nil {
		return false, err
	}
	s.flush(ctx, ob)
	return left, nil
}

func (s *MatchmakingService) leaveLocked(tx *gorm.DB, userID, matchID string, ob *outbox) (bool, error) {
	m, err := store.LockMatch(tx, matchID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if m.Status != models.MatchStatusWaiting {
		s.log.Debug("leave ignored, match already started",
			zap.String("match_id", matchID), zap.String("user_id", userID), zap.String("status", string(m.Status)))
		return false, nil
	}

	res := tx.Where("match_id = ? AND user_id = ?", matchID, userID).Delete(&models.MatchParticipant{})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	var remaining int64
	if err := tx.Model(&models.MatchParticipant{}).Where("match_id = ?", matchID).Count(&remaining).Error; err != nil {
		return false, err
	}
	if remaining == 0 {
		if err := store.DeleteMatch(tx, matchID); err != nil {
			return false, err
		}
		s.log.Info("empty lobby removed", zap.String("match_id", matchID))
	}

	ob.match(realtime.EventParticipantLeft, matchID, map[string]any{
		"user_id": userID,
		"players": remaining,
	})
	return true, nil
}

// CleanupWaitingMatches removes every waiting seat the user holds.
func (s *MatchmakingService) CleanupWaitingMatches(ctx context.Context, userID string) (int, error) {
	var matchIDs []string
	if err := s.db.WithContext(ctx).
		Table("match_participants AS p").
		Joins("JOIN matches m ON m.id = p.match_id").
		Where("p.user_id = ? AND m.status = ?", userID, models.MatchStatusWaiting).
		Pluck("p.match_id", &matchIDs).Error; err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range matchIDs {
		left, err := s.LeaveMatch(ctx, userID, id)
		if err != nil {
			return removed, err
		}
		if left {
			removed++
		}
	}
	return removed, nil
}

// SweepStaleLobbies deletes lobbies that have waited longer than the lobby TTL.
func (s *MatchmakingService) SweepStaleLobbies(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.rules.LobbyTTL)

	var ids []string
	if err := s.db.WithContext(ctx).
		Model(&models.Match{}).
		Where("status = ? AND created_at < ?", models.MatchStatusWaiting, cutoff).
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range ids {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			m, err := store.LockMatch(tx, id)
			if err != nil {
				return err
			}
			if m.Status != models.MatchStatusWaiting || !m.CreatedAt.Before(cutoff) {
				return nil
			}
			if err := store.DeleteMatch(tx, id); err != nil {
				return err
			}
			removed++
			return nil
		})
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return removed, err
		}
	}
	if removed > 0 {
		s.log.Info("stale lobbies removed", zap.Int("count", removed))
	}
	return removed, nil
}
