package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"doodle-match-system/config"
	"doodle-match-system/models"
	"doodle-match-system/realtime"
	"doodle-match-system/store/storetest"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixedWord string

func (w fixedWord) Pick(string) (string, error) { return string(w), nil }

// fakeScorer replays queued guesses, or fails when err is set.
type fakeScorer struct {
	mu      sync.Mutex
	guesses []GuessResult
	score   ScoreResult
	err     error
	calls   int
}

func (f *fakeScorer) GuessDrawing(_ context.Context, _, _ string) (*GuessResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.guesses) == 0 {
		return &GuessResult{Guess: "blob", Similarity: 0}, nil
	}
	g := f.guesses[0]
	f.guesses = f.guesses[1:]
	return &g, nil
}

func (f *fakeScorer) ScoreDrawing(_ context.Context, _, _ string) (*ScoreResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	s := f.score
	return &s, nil
}

type fakeDrawings struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (f *fakeDrawings) UploadSVG(_ context.Context, key string, _ []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.keys = append(f.keys, key)
	return "https://cdn.test/" + key, nil
}

type testEnv struct {
	db          *gorm.DB
	clock       *clockwork.FakeClock
	hub         *realtime.MemoryHub
	scorer      *fakeScorer
	drawings    *fakeDrawings
	rules       config.GameRules
	progression *ProgressionService
	results     *ResultService
	mm          *MatchmakingService
	turns       *TurnService
	duels       *DuelService
	status      *StatusService
}

func newTestEnv(t *testing.T, tweak ...func(*config.GameRules)) *testEnv {
	t.Helper()
	rules := config.DefaultGameRules
	for _, fn := range tweak {
		fn(&rules)
	}

	log := zap.NewNop()
	env := &testEnv{
		db:       storetest.NewDB(t),
		clock:    clockwork.NewFakeClockAt(baseTime),
		hub:      realtime.NewMemoryHub(log),
		scorer:   &fakeScorer{},
		drawings: &fakeDrawings{},
		rules:    rules,
	}
	t.Cleanup(func() { _ = env.hub.Close() })

	d := Deps{DB: env.db, Notifier: env.hub, Clock: env.clock, Rules: rules, Log: log}
	env.progression = NewProgressionService(env.db, env.clock, log)
	env.results = NewResultService(d, env.progression)
	env.mm = NewMatchmakingService(d, fixedWord("apple"))
	env.turns = NewTurnService(d, env.results, env.scorer, env.drawings)
	env.duels = NewDuelService(d, env.results, env.scorer, env.drawings)
	env.status = NewStatusService(d)
	return env
}

func turnsPerPlayer(n int) func(*config.GameRules) {
	return func(r *config.GameRules) { r.TurnsPerPlayer = n }
}

// startMatch seats users in join order and returns the match once it has started.
func (e *testEnv) startMatch(t *testing.T, mode models.MatchMode, users ...string) *models.Match {
	t.Helper()
	var m *models.Match
	for _, u := range users {
		var err error
		m, err = e.mm.FindOrCreateMatch(context.Background(), u, FindOrCreateInput{
			Mode:       mode,
			MaxPlayers: len(users),
		})
		require.NoError(t, err)
	}
	require.NotEqual(t, models.MatchStatusWaiting, m.Status)
	return m
}

func (e *testEnv) submit(t *testing.T, matchID, userID string, score float64) *SubmitTurnResult {
	t.Helper()
	res, err := e.turns.SubmitTurn(context.Background(), userID, SubmitTurnInput{
		MatchID:         matchID,
		AIGuess:         fmt.Sprintf("guess-%v", score),
		SimilarityScore: &score,
	})
	require.NoError(t, err)
	return res
}

// collect drains whatever is buffered on a subscription.
func collect(ch <-chan realtime.Event) []realtime.EventType {
	var out []realtime.EventType
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev.Type)
		default:
			return out
		}
	}
}

var errBoom = errors.New("boom")
