package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"doodle-match-system/models"
	"doodle-match-system/realtime"
	"doodle-match-system/store"
	"doodle-match-system/utils"
	"doodle-match-system/words"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DrawingStore persists raw SVG drawings and returns their public URL.
type DrawingStore interface {
	UploadSVG(ctx context.Context, key string, svg []byte) (string, error)
}

const maxSVGBytes = 512 * 1024

type TurnService struct {
	core
	results  *ResultService
	scorer   Scorer
	drawings DrawingStore
}

func NewTurnService(d Deps, results *ResultService, scorer Scorer, drawings DrawingStore) *TurnService {
	return &TurnService{core: newCore(d), results: results, scorer: scorer, drawings: drawings}
}

// SubmitTurnInput carries one turn. Either PNGBase64 (scored by the gateway)
// or a client-side AIGuess/SimilarityScore may be given; neither means an
// empty canvas. TurnNumber 0 targets the turn currently awaited.
type SubmitTurnInput struct {
	MatchID         string
	TurnNumber      int
	SVGURL          string
	SVG             string
	PNGBase64       string
	AIGuess         string
	SimilarityScore *float64
	Position        *int
}

type SubmitTurnResult struct {
	GameOver bool                `json:"game_over"`
	Turn     *models.Turn        `json:"turn"`
	Match    *models.Match       `json:"match"`
	Result   *models.MatchResult `json:"result,omitempty"`
}

type turnEntry struct {
	guess    string
	score    float64
	position *int
	svgURL   string
	timedOut bool
}

func emptyCanvas() turnEntry {
	return turnEntry{guess: models.EmptyCanvasGuess}
}

// SubmitTurn records the caller's turn and either advances play or ends the match.
// Gateway scoring and SVG upload happen before the transaction; a failure
// there leaves the match untouched so the player can retry.
func (s *TurnService) SubmitTurn(ctx context.Context, userID string, in SubmitTurnInput) (*SubmitTurnResult, error) {
	m, err := store.GetMatch(ctx, s.db, in.MatchID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMatchNotFound
	}
	if err != nil {
		return nil, err
	}
	if !m.Mode.TurnBased() {
		return nil, fmt.Errorf("%w: %s is not turn-based", ErrInvalidRequest, m.Mode)
	}
	if m.IsCompleted() {
		return nil, settledTurnErr(s.db.WithContext(ctx), m, in.TurnNumber)
	}
	if m.Status != models.MatchStatusInProgress {
		return nil, ErrMatchNotActive
	}
	// cheap early reject; re-checked under the lock below
	if m.CurrentTurnUserID() != userID {
		return nil, ErrNotYourTurn
	}

	turnNumber := in.TurnNumber
	if turnNumber == 0 {
		turnNumber = m.TurnNumber
	}

	entry, err := s.prepareEntry(ctx, m, userID, turnNumber, in)
	if err != nil {
		return nil, err
	}

	var (
		res *SubmitTurnResult
		ob  outbox
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := store.LockMatch(tx, in.MatchID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrMatchNotFound
		}
		if err != nil {
			return err
		}
		res, err = s.recordTurnLocked(tx, locked, userID, turnNumber, entry, &ob)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.flush(ctx, ob)
	return res, nil
}

func (s *TurnService) prepareEntry(ctx context.Context, m *models.Match, userID string, turnNumber int, in SubmitTurnInput) (turnEntry, error) {
	entry := emptyCanvas()

	switch {
	case in.PNGBase64 != "":
		if s.scorer == nil {
			return entry, fmt.Errorf("%w: no scoring gateway configured", ErrScoringUnavailable)
		}
		guess, err := s.scorer.GuessDrawing(ctx, in.PNGBase64, m.SecretWord)
		if err != nil {
			s.log.Warn("guess-drawing failed, turn not consumed",
				zap.String("match_id", m.ID), zap.String("user_id", userID), zap.Error(err))
			if !errors.Is(err, ErrScoringUnavailable) {
				err = fmt.Errorf("%w: %v", ErrScoringUnavailable, err)
			}
			return entry, err
		}
		entry.guess = guess.Guess
		entry.score = guess.Similarity
		entry.position = guess.Position
		if words.Matches(guess.Guess, m.SecretWord) {
			entry.score = 100
		}
	case strings.TrimSpace(in.AIGuess) != "":
		entry.guess = strings.TrimSpace(in.AIGuess)
		if in.SimilarityScore != nil {
			if math.IsNaN(*in.SimilarityScore) {
				return entry, fmt.Errorf("%w: similarity score", ErrInvalidRequest)
			}
			entry.score = clampScore(*in.SimilarityScore)
		}
		entry.position = in.Position
	}

	entry.svgURL = strings.TrimSpace(in.SVGURL)
	if in.SVG != "" {
		url, err := s.uploadSVG(ctx, m.ID, turnNumber, userID, in.SVG)
		if err != nil {
			return entry, err
		}
		entry.svgURL = url
	}
	return entry, nil
}

func (s *TurnService) uploadSVG(ctx context.Context, matchID string, turnNumber int, userID, svg string) (string, error) {
	return uploadDrawing(ctx, s.drawings, s.log, utils.DrawingKey(matchID, turnNumber, userID), svg)
}

func uploadDrawing(ctx context.Context, drawings DrawingStore, log *zap.Logger, key, svg string) (string, error) {
	if len(svg) > maxSVGBytes || !strings.Contains(svg, "<svg") {
		return "", fmt.Errorf("%w: svg payload", ErrInvalidRequest)
	}
	if drawings == nil {
		log.Debug("no drawing storage configured, svg discarded", zap.String("key", key))
		return "", nil
	}
	url, err := drawings.UploadSVG(ctx, key, []byte(svg))
	if err != nil {
		log.Warn("svg upload failed", zap.String("key", key), zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return url, nil
}

// recordTurnLocked validates, writes the turn and advances or completes the
// match. The caller holds the match row lock in tx.
func (s *TurnService) recordTurnLocked(tx *gorm.DB, m *models.Match, userID string, turnNumber int, entry turnEntry, ob *outbox) (*SubmitTurnResult, error) {
	if m.IsCompleted() {
		return nil, settledTurnErr(tx, m, turnNumber)
	}
	if m.Status != models.MatchStatusInProgress {
		return nil, ErrMatchNotActive
	}
	if m.CurrentTurnUserID() != userID {
		return nil, ErrNotYourTurn
	}
	if turnNumber == 0 {
		turnNumber = m.TurnNumber
	}
	exists, err := store.TurnExists(tx, m.ID, turnNumber)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicateTurn
	}
	if turnNumber != m.TurnNumber {
		return nil, ErrNotYourTurn
	}

	now := s.now()
	turn := &models.Turn{
		MatchID:         m.ID,
		TurnNumber:      turnNumber,
		UserID:          userID,
		AIGuess:         entry.guess,
		SimilarityScore: entry.score,
		Position:        entry.position,
		SVGURL:          entry.svgURL,
		TimedOut:        entry.timedOut,
		CreatedAt:       now,
	}
	if err := tx.Create(turn).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateTurn
		}
		return nil, err
	}
	if err := tx.Model(&models.MatchParticipant{}).
		Where("match_id = ? AND user_id = ? AND submitted = ?", m.ID, userID, false).
		Update("submitted", true).Error; err != nil {
		return nil, err
	}
	ob.match(realtime.EventTurnSubmitted, m.ID, turn)

	res := &SubmitTurnResult{Turn: turn, Match: m}

	reason := ""
	switch {
	case turn.SimilarityScore >= 100:
		reason = models.CompletionPerfectGuess
	case m.TurnNumber >= m.MaxTurns:
		reason = models.CompletionMaxTurns
	}
	if reason != "" {
		result, err := s.results.finalizeLocked(tx, m, reason, ob)
		if err != nil {
			return nil, err
		}
		res.GameOver = true
		res.Result = result
		return res, nil
	}

	m.CurrentTurnIndex = (m.CurrentTurnIndex + 1) % len(m.TurnOrder)
	m.TurnNumber++
	m.TurnStartTime = &now
	if err := tx.Model(m).Updates(map[string]any{
		"current_turn_index": m.CurrentTurnIndex,
		"turn_number":        m.TurnNumber,
		"turn_start_time":    now,
	}).Error; err != nil {
		return nil, err
	}

	ob.match(realtime.EventTurnAdvanced, m.ID, map[string]any{
		"turn_number":          m.TurnNumber,
		"current_turn_index":   m.CurrentTurnIndex,
		"current_turn_user_id": m.CurrentTurnUserID(),
		"turn_start_time":      now,
		"deadline":             now.Add(s.rules.TurnDuration),
	})
	return res, nil
}

// settledTurnErr answers a submission that reached a completed match. The
// turn that ended the match, or any retry of it, is a duplicate; any other
// turn number is a stale view.
func settledTurnErr(db *gorm.DB, m *models.Match, turnNumber int) error {
	if turnNumber == 0 {
		turnNumber = m.TurnNumber
	}
	exists, err := store.TurnExists(db, m.ID, turnNumber)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicateTurn
	}
	return ErrNotYourTurn
}

// CompleteMatch reads back the outcome of a finished match. Play finalizes
// in the transaction that records the last turn or drawing, so a live match
// always has play left and reports ErrTurnsRemaining. The outcome comes from
// persisted turns; winnerHint is only compared and logged.
func (s *TurnService) CompleteMatch(ctx context.Context, userID, matchID, winnerHint string) (*models.MatchResult, error) {
	db := s.db.WithContext(ctx)
	var m models.Match
	if err := db.Where("id = ?", matchID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}
	if _, err := store.FindParticipant(db, matchID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotParticipant
		}
		return nil, err
	}
	switch m.Status {
	case models.MatchStatusWaiting:
		return nil, ErrMatchNotActive
	case models.MatchStatusCompleted:
	default:
		return nil, ErrTurnsRemaining
	}

	result, err := store.ResultFor(db, matchID)
	if err != nil {
		return nil, err
	}
	if winnerHint != "" {
		if result.WinnerUserID == nil || *result.WinnerUserID != winnerHint {
			s.log.Info("client winner hint differs from computed result",
				zap.String("match_id", matchID), zap.String("hint", winnerHint), zap.Stringp("winner", result.WinnerUserID))
		}
	}
	return result, nil
}

// ForceTimeout records an empty, timed-out turn for the stalled drawer if
// turnNumber is still awaited and its budget has run out. It reports whether
// a turn was recorded.
func (s *TurnService) ForceTimeout(ctx context.Context, matchID string, turnNumber int) (bool, error) {
	var (
		forced bool
		ob     outbox
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := store.LockMatch(tx, matchID)
		if err != nil {
			return err
		}
		if m.Status != models.MatchStatusInProgress || m.TurnNumber != turnNumber || m.TurnStartTime == nil {
			return nil
		}
		if s.now().Sub(*m.TurnStartTime) < s.turnBudget() {
			return nil
		}

		stalled := m.CurrentTurnUserID()
		if stalled == "" {
			return nil
		}
		entry := emptyCanvas()
		entry.timedOut = true
		if _, err := s.recordTurnLocked(tx, m, stalled, turnNumber, entry, &ob); err != nil {
			return err
		}
		forced = true
		s.log.Info("turn timed out",
			zap.String("match_id", matchID), zap.Int("turn_number", turnNumber), zap.String("user_id", stalled))
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.flush(ctx, ob)
	return forced, nil
}

// SweepExpiredTurns force-submits every turn past its budget.
func (s *TurnService) SweepExpiredTurns(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.turnBudget())

	var stalled []models.Match
	if err := s.db.WithContext(ctx).
		Select("id", "turn_number").
		Where("status = ? AND turn_start_time < ?", models.MatchStatusInProgress, cutoff).
		Find(&stalled).Error; err != nil {
		return 0, err
	}

	forced := 0
	for _, m := range stalled {
		ok, err := s.ForceTimeout(ctx, m.ID, m.TurnNumber)
		if err != nil {
			s.log.Error("force timeout failed", zap.String("match_id", m.ID), zap.Error(err))
			continue
		}
		if ok {
			forced++
		}
	}
	return forced, nil
}

// TimeRemaining is the time left on the awaited turn, floored at zero.
func (s *TurnService) TimeRemaining(m *models.Match) time.Duration {
	return timeRemaining(s.now(), m, s.rules.TurnDuration)
}

func timeRemaining(now time.Time, m *models.Match, budget time.Duration) time.Duration {
	if m.TurnStartTime == nil || m.IsCompleted() {
		return 0
	}
	left := m.TurnStartTime.Add(budget).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// --- strokes ---

// AddStrokeInput carries one stroke. Epoch, when sent, is the canvas epoch
// the client drew in (for a clear, the epoch it ends).
type AddStrokeInput struct {
	MatchID     string
	TurnNumber  int
	StrokeData  json.RawMessage
	StrokeIndex int
	Epoch       *int
}

type StrokeAck struct {
	Seq       int  `json:"seq"`
	Epoch     int  `json:"epoch"`
	Duplicate bool `json:"duplicate"`
}

type strokeBody struct {
	Clear bool     `json:"clear"`
	Path  string   `json:"path"`
	Color string   `json:"color"`
	Width *float64 `json:"width"`
}

var (
	svgPathPattern = regexp.MustCompile(`^[Mm][MmLlHhVvCcSsQqTtAaZz0-9eE.,+\-\s]*$`)
	colorPattern   = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)
)

const (
	maxStrokePathLen = 20000
	maxStrokeWidth   = 64
)

func parseStroke(raw json.RawMessage) (strokeBody, error) {
	var body strokeBody
	if len(raw) == 0 {
		return body, fmt.Errorf("%w: empty", ErrInvalidStroke)
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return body, fmt.Errorf("%w: %v", ErrInvalidStroke, err)
	}
	if body.Clear {
		return body, nil
	}
	if len(body.Path) == 0 || len(body.Path) > maxStrokePathLen || !svgPathPattern.MatchString(body.Path) {
		return body, fmt.Errorf("%w: path", ErrInvalidStroke)
	}
	if !colorPattern.MatchString(body.Color) {
		return body, fmt.Errorf("%w: color", ErrInvalidStroke)
	}
	if body.Width == nil || *body.Width <= 0 || *body.Width > maxStrokeWidth {
		return body, fmt.Errorf("%w: width", ErrInvalidStroke)
	}
	return body, nil
}

// AddStroke appends a stroke to the current turn's log and broadcasts it.
// A re-sent stroke (index not above the last one of the current epoch) or
// a repeated clear is acknowledged without being stored.
func (s *TurnService) AddStroke(ctx context.Context, userID string, in AddStrokeInput) (*StrokeAck, error) {
	body, err := parseStroke(in.StrokeData)
	if err != nil {
		return nil, err
	}
	if !body.Clear && in.StrokeIndex < 0 {
		return nil, fmt.Errorf("%w: stroke index", ErrInvalidStroke)
	}
	if in.Epoch != nil && *in.Epoch < 0 {
		return nil, fmt.Errorf("%w: epoch", ErrInvalidStroke)
	}

	var (
		ack *StrokeAck
		ob  outbox
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := store.LockMatch(tx, in.MatchID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrMatchNotFound
		}
		if err != nil {
			return err
		}
		if m.Status != models.MatchStatusInProgress {
			return ErrMatchNotActive
		}
		if m.CurrentTurnUserID() != userID {
			return ErrNotYourTurn
		}
		turnNumber := in.TurnNumber
		if turnNumber == 0 {
			turnNumber = m.TurnNumber
		}
		if turnNumber != m.TurnNumber {
			return ErrNotYourTurn
		}

		last, err := store.LastStroke(tx, m.ID, turnNumber)
		if err != nil {
			return err
		}
		seq, epoch, lastIndex := 0, 0, -1
		if last != nil {
			seq, epoch = last.Seq, last.Epoch
			if !last.IsClear {
				lastIndex = last.StrokeIndex
			}
		}

		if in.Epoch != nil {
			switch {
			case *in.Epoch > epoch:
				return fmt.Errorf("%w: epoch %d is ahead of the canvas", ErrInvalidStroke, *in.Epoch)
			case *in.Epoch < epoch:
				// drawn before a clear that has already been applied
				ack = &StrokeAck{Seq: seq, Epoch: epoch, Duplicate: true}
				return nil
			}
		}

		index := in.StrokeIndex
		if body.Clear {
			if last != nil && last.IsClear {
				ack = &StrokeAck{Seq: last.Seq, Epoch: last.Epoch, Duplicate: true}
				return nil
			}
			epoch++
			index = -1
		} else if index <= lastIndex {
			ack = &StrokeAck{Seq: seq, Epoch: epoch, Duplicate: true}
			return nil
		}

		stroke := &models.Stroke{
			MatchID:     m.ID,
			TurnNumber:  turnNumber,
			Seq:         seq + 1,
			Epoch:       epoch,
			StrokeIndex: index,
			IsClear:     body.Clear,
			UserID:      userID,
			StrokeData:  datatypes.JSON(in.StrokeData),
			CreatedAt:   s.now(),
		}
		if err := tx.Create(stroke).Error; err != nil {
			return err
		}
		ack = &StrokeAck{Seq: stroke.Seq, Epoch: stroke.Epoch}
		ob.stroke(m.ID, strokePayload(stroke))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.flush(ctx, ob)
	return ack, nil
}

func strokePayload(st *models.Stroke) realtime.StrokePayload {
	return realtime.StrokePayload{
		TurnNumber:  st.TurnNumber,
		Seq:         st.Seq,
		Epoch:       st.Epoch,
		StrokeIndex: st.StrokeIndex,
		Clear:       st.IsClear,
		UserID:      st.UserID,
		Data:        json.RawMessage(st.StrokeData),
	}
}
