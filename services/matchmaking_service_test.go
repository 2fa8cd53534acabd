package services

import (
	"context"
	"testing"
	"time"

	"doodle-match-system/models"
	"doodle-match-system/realtime"
	"doodle-match-system/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindOrCreateFillsOldestLobby(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	in := FindOrCreateInput{Mode: models.ModeRoulette, MaxPlayers: 3}

	first, err := env.mm.FindOrCreateMatch(ctx, "alice", in)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusWaiting, first.Status)
	assert.Equal(t, "apple", first.SecretWord)
	assert.Equal(t, "easy", first.Difficulty)
	assert.Equal(t, 15, first.MaxTurns)

	events, cancel, err := env.hub.Subscribe(ctx, realtime.MatchChannel(first.ID))
	require.NoError(t, err)
	defer cancel()

	second, err := env.mm.FindOrCreateMatch(ctx, "bob", in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, models.MatchStatusWaiting, second.Status)

	third, err := env.mm.FindOrCreateMatch(ctx, "carol", in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)
	assert.Equal(t, models.MatchStatusInProgress, third.Status)
	assert.Equal(t, []string{"alice", "bob", "carol"}, []string(third.TurnOrder))
	assert.Equal(t, 1, third.TurnNumber)
	assert.Equal(t, "alice", third.CurrentTurnUserID())
	require.NotNil(t, third.TurnStartTime)
	assert.True(t, third.TurnStartTime.Equal(baseTime))

	assert.Equal(t, []realtime.EventType{
		realtime.EventParticipantJoined,
		realtime.EventParticipantJoined,
		realtime.EventMatchStarted,
	}, collect(events))
}

func TestFindOrCreateSeparatesLobbyShapes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a, err := env.mm.FindOrCreateMatch(ctx, "alice", FindOrCreateInput{Mode: models.ModeRoulette, MaxPlayers: 2})
	require.NoError(t, err)
	b, err := env.mm.FindOrCreateMatch(ctx, "bob", FindOrCreateInput{Mode: models.ModeRoulette, MaxPlayers: 3})
	require.NoError(t, err)
	c, err := env.mm.FindOrCreateMatch(ctx, "carol", FindOrCreateInput{Mode: models.ModeRoulette, MaxPlayers: 2, Difficulty: "HARD"})
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.ID, c.ID)
	assert.Equal(t, "hard", c.Difficulty)
}

func TestFindOrCreateIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	in := FindOrCreateInput{Mode: models.ModeDoodleHuntFriend, MaxPlayers: 4}

	first, err := env.mm.FindOrCreateMatch(ctx, "alice", in)
	require.NoError(t, err)
	again, err := env.mm.FindOrCreateMatch(ctx, "alice", in)
	require.NoError(t, err)

	assert.Equal(t, first.ID, again.ID)
	assert.Len(t, again.Participants, 1)
}

func TestFindOrCreateRejectsSecondLobby(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.mm.FindOrCreateMatch(ctx, "alice", FindOrCreateInput{Mode: models.ModeRoulette})
	require.NoError(t, err)

	_, err = env.mm.FindOrCreateMatch(ctx, "alice", FindOrCreateInput{Mode: models.ModeDoodleDuel})
	assert.ErrorIs(t, err, ErrAlreadyInMatch)
}

func TestFindOrCreateRejectsLivePublicMatchOfSameMode(t *testing.T) {
	env := newTestEnv(t)
	env.startMatch(t, models.ModeRoulette, "alice", "bob")

	_, err := env.mm.FindOrCreateMatch(context.Background(), "alice", FindOrCreateInput{Mode: models.ModeRoulette})
	assert.ErrorIs(t, err, ErrAlreadyInMatch)

	// a different mode is allowed alongside
	m, err := env.mm.FindOrCreateMatch(context.Background(), "alice", FindOrCreateInput{Mode: models.ModeDoodleDuel})
	require.NoError(t, err)
	assert.Equal(t, models.ModeDoodleDuel, m.Mode)
}

func TestFindOrCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.mm.FindOrCreateMatch(ctx, "alice", FindOrCreateInput{Mode: "chess"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = env.mm.FindOrCreateMatch(ctx, "alice", FindOrCreateInput{Mode: models.ModeRoulette, MaxPlayers: MaxPlayers + 1})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = env.mm.FindOrCreateMatch(ctx, "alice", FindOrCreateInput{Mode: models.ModeRoulette, MaxPlayers: 1})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestPrivateMatchIsInviteOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	private, err := env.mm.FindOrCreateMatch(ctx, "alice", FindOrCreateInput{Mode: models.ModeRoulette, Private: true})
	require.NoError(t, err)
	assert.True(t, private.Private)

	public, err := env.mm.FindOrCreateMatch(ctx, "bob", FindOrCreateInput{Mode: models.ModeRoulette})
	require.NoError(t, err)
	assert.NotEqual(t, private.ID, public.ID)

	joined, err := env.mm.JoinMatch(ctx, "carol", private.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusInProgress, joined.Status)
	assert.Equal(t, []string{"alice", "carol"}, []string(joined.TurnOrder))
}

func TestJoinMatchErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.mm.JoinMatch(ctx, "alice", uuid.NewString())
	assert.ErrorIs(t, err, ErrMatchNotFound)

	m := env.startMatch(t, models.ModeRoulette, "alice", "bob")
	_, err = env.mm.JoinMatch(ctx, "carol", m.ID)
	assert.ErrorIs(t, err, ErrMatchFull)

	// already seated is a no-op, even once started
	again, err := env.mm.JoinMatch(ctx, "bob", m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, again.ID)
}

func TestDuelStartsActive(t *testing.T) {
	env := newTestEnv(t)
	m := env.startMatch(t, models.ModeDoodleDuel, "alice", "bob")

	assert.Equal(t, models.MatchStatusActive, m.Status)
	assert.Empty(t, m.TurnOrder)
	assert.Zero(t, m.MaxTurns)
	assert.NotNil(t, m.TurnStartTime)
}

func TestLeaveMatchFreesSeat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	in := FindOrCreateInput{Mode: models.ModeRoulette, MaxPlayers: 3}

	m, err := env.mm.FindOrCreateMatch(ctx, "alice", in)
	require.NoError(t, err)
	_, err = env.mm.FindOrCreateMatch(ctx, "bob", in)
	require.NoError(t, err)

	left, err := env.mm.LeaveMatch(ctx, "bob", m.ID)
	require.NoError(t, err)
	assert.True(t, left)

	left, err = env.mm.LeaveMatch(ctx, "bob", m.ID)
	require.NoError(t, err)
	assert.False(t, left)

	// dave takes bob's old seat
	_, err = env.mm.FindOrCreateMatch(ctx, "dave", in)
	require.NoError(t, err)
	dave, err := store.FindParticipant(env.db, m.ID, "dave")
	require.NoError(t, err)
	assert.Equal(t, 1, dave.TurnPosition)
}

func TestLastLeaverRemovesLobby(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	m, err := env.mm.FindOrCreateMatch(ctx, "alice", FindOrCreateInput{Mode: models.ModeRoulette})
	require.NoError(t, err)

	left, err := env.mm.LeaveMatch(ctx, "alice", m.ID)
	require.NoError(t, err)
	assert.True(t, left)

	_, err = env.mm.JoinMatch(ctx, "bob", m.ID)
	assert.ErrorIs(t, err, ErrMatchNotFound)
}

func TestLeaveAfterStartIsNoop(t *testing.T) {
	env := newTestEnv(t)
	m := env.startMatch(t, models.ModeRoulette, "alice", "bob")

	left, err := env.mm.LeaveMatch(context.Background(), "alice", m.ID)
	require.NoError(t, err)
	assert.False(t, left)

	parts, err := store.Participants(env.db, m.ID)
	require.NoError(t, err)
	assert.Len(t, parts, 2)
}

func TestCleanupWaitingMatches(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.mm.FindOrCreateMatch(ctx, "alice", FindOrCreateInput{Mode: models.ModeRoulette})
	require.NoError(t, err)

	n, err := env.mm.CleanupWaitingMatches(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// free to queue for another mode now
	_, err = env.mm.FindOrCreateMatch(ctx, "alice", FindOrCreateInput{Mode: models.ModeDoodleDuel})
	assert.NoError(t, err)

	n, err = env.mm.CleanupWaitingMatches(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweepStaleLobbies(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	old, err := env.mm.FindOrCreateMatch(ctx, "alice", FindOrCreateInput{Mode: models.ModeRoulette})
	require.NoError(t, err)

	env.clock.Advance(env.rules.LobbyTTL + time.Minute)
	fresh, err := env.mm.FindOrCreateMatch(ctx, "bob", FindOrCreateInput{Mode: models.ModeDoodleDuel})
	require.NoError(t, err)

	n, err := env.mm.SweepStaleLobbies(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.GetMatch(ctx, env.db, old.ID)
	assert.Error(t, err)
	_, err = store.GetMatch(ctx, env.db, fresh.ID)
	assert.NoError(t, err)
}
