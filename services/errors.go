package services

import "errors"

var (
	// ErrNotYourTurn: the caller is not the awaited drawer, or is looking at a stale turn.
	ErrNotYourTurn = errors.New("not your turn")
	// ErrDuplicateTurn: the turn (or duel drawing) is already recorded.
	ErrDuplicateTurn = errors.New("turn already recorded")

	ErrMatchFull        = errors.New("match is full")
	ErrMatchNotFound    = errors.New("match not found")
	ErrAlreadyInMatch   = errors.New("user already holds a seat in another match")
	ErrMatchNotActive   = errors.New("match is not accepting submissions")
	ErrMatchNotComplete = errors.New("match is not completed")
	ErrTurnsRemaining   = errors.New("match still has turns to play")
	ErrNotParticipant   = errors.New("user is not a participant of this match")
	ErrInvalidStroke    = errors.New("invalid stroke payload")
	ErrInvalidRequest   = errors.New("invalid request")

	ErrScoringUnavailable = errors.New("scoring gateway unavailable")
	ErrStorageUnavailable = errors.New("drawing storage unavailable")
)
