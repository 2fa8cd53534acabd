package realtime

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

func mustEvent(t *testing.T, typ EventType, payload any) Event {
	t.Helper()
	ev, err := NewEvent(typ, "m1", payload)
	require.NoError(t, err)
	return ev
}

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "stream closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestMemoryHubDelivers(t *testing.T) {
	hub := NewMemoryHub(zap.NewNop())
	ch, cancel, err := hub.Subscribe(context.Background(), MatchChannel("m1"))
	require.NoError(t, err)
	defer cancel()

	other, cancelOther, err := hub.Subscribe(context.Background(), StrokeChannel("m1"))
	require.NoError(t, err)
	defer cancelOther()

	require.NoError(t, hub.Publish(context.Background(), MatchChannel("m1"), mustEvent(t, EventTurnAdvanced, map[string]int{"turn_number": 2})))

	ev := receive(t, ch)
	assert.Equal(t, EventTurnAdvanced, ev.Type)
	assert.JSONEq(t, `{"turn_number":2}`, string(ev.Payload))
	assert.Len(t, other, 0)
}

func TestMemoryHubDisconnectsSlowSubscriber(t *testing.T) {
	hub := NewMemoryHub(zap.NewNop())
	hub.buffer = 2
	ch, cancel, err := hub.Subscribe(context.Background(), "c")
	require.NoError(t, err)
	defer cancel()

	for i := 0; i < 3; i++ {
		require.NoError(t, hub.Publish(context.Background(), "c", mustEvent(t, EventStrokeAdded, nil)))
	}

	assert.Equal(t, 0, hub.SubscriberCount("c"))
	n := 0
	for range ch {
		n++
	}
	assert.Equal(t, 2, n)
}

func TestMemoryHubCancelAndContext(t *testing.T) {
	hub := NewMemoryHub(zap.NewNop())

	_, cancel, err := hub.Subscribe(context.Background(), "c")
	require.NoError(t, err)
	assert.Equal(t, 1, hub.SubscriberCount("c"))
	cancel()
	cancel()
	assert.Equal(t, 0, hub.SubscriberCount("c"))

	ctx, stop := context.WithCancel(context.Background())
	ch, _, err := hub.Subscribe(ctx, "c")
	require.NoError(t, err)
	stop()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed after context cancel")
	}
}

func TestMemoryHubClose(t *testing.T) {
	hub := NewMemoryHub(zap.NewNop())
	ch, _, err := hub.Subscribe(context.Background(), "c")
	require.NoError(t, err)
	require.NoError(t, hub.Close())
	_, ok := <-ch
	assert.False(t, ok)
	assert.NoError(t, hub.Publish(context.Background(), "c", mustEvent(t, EventSnapshot, nil)))
}

func stroke(idx int, epoch int) StrokePayload {
	return StrokePayload{TurnNumber: 1, StrokeIndex: idx, Epoch: epoch}
}

func clearAt(epoch int) StrokePayload {
	return StrokePayload{TurnNumber: 1, Clear: true, Epoch: epoch, StrokeIndex: -1}
}

func TestCanvasReplayAfterClear(t *testing.T) {
	c := NewCanvasReplay()
	for _, p := range []StrokePayload{stroke(0, 0), stroke(1, 0), stroke(2, 0), clearAt(1), stroke(0, 1), stroke(1, 1)} {
		c.Apply(p)
	}

	got := c.Strokes()
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].StrokeIndex)
	assert.Equal(t, 1, got[1].StrokeIndex)
	assert.Equal(t, 1, c.Epoch())
}

func TestCanvasReplayDropsDuplicatesAndStale(t *testing.T) {
	c := NewCanvasReplay()
	assert.True(t, c.Apply(stroke(0, 0)))
	assert.True(t, c.Apply(stroke(1, 0)))
	assert.False(t, c.Apply(stroke(1, 0)), "duplicate")
	assert.False(t, c.Apply(stroke(0, 0)), "stale")
	assert.True(t, c.Apply(clearAt(1)))
	assert.False(t, c.Apply(clearAt(1)), "duplicate clear")
	assert.False(t, c.Apply(stroke(2, 0)), "old epoch after clear")
	assert.Empty(t, c.Strokes())
}

func TestCanvasReplayStrokeBeforeItsClear(t *testing.T) {
	c := NewCanvasReplay()
	c.Apply(stroke(0, 0))
	c.Apply(stroke(0, 1))
	c.Apply(clearAt(1))

	got := c.Strokes()
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Epoch)
}

func TestCanvasReplayNewTurnResets(t *testing.T) {
	c := NewCanvasReplay()
	c.Apply(stroke(0, 0))
	c.Apply(stroke(1, 0))
	assert.True(t, c.Apply(StrokePayload{TurnNumber: 2, StrokeIndex: 0}))
	assert.False(t, c.Apply(stroke(2, 0)), "previous turn")
	assert.Len(t, c.Strokes(), 1)
	assert.Equal(t, 2, c.Turn())
}

func TestRedisHubRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	endpoint, err := ctr.Endpoint(ctx, "")
	require.NoError(t, err)

	hub, err := NewRedisHub(ctx, fmt.Sprintf("redis://%s/0", endpoint), zap.NewNop())
	require.NoError(t, err)
	defer hub.Close()

	ch, cancel, err := hub.Subscribe(ctx, MatchChannel("m1"))
	require.NoError(t, err)
	defer cancel()

	ev := mustEvent(t, EventMatchCompleted, map[string]string{"reason": "max_turns"})
	require.NoError(t, hub.Publish(ctx, MatchChannel("m1"), ev))

	got := receive(t, ch)
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, EventMatchCompleted, got.Type)

	// a second instance sharing the server sees the same channel
	other := NewRedisHubFromClient(redis.NewClient(&redis.Options{Addr: endpoint}), zap.NewNop())
	defer other.Close()

	ev = mustEvent(t, EventTurnAdvanced, map[string]int{"turn_number": 2})
	require.NoError(t, other.Publish(ctx, MatchChannel("m1"), ev))
	got = receive(t, ch)
	assert.Equal(t, ev.ID, got.ID)
}

func TestRedisHubBadURL(t *testing.T) {
	_, err := NewRedisHub(context.Background(), "not-a-url://", zap.NewNop())
	assert.Error(t, err)
}
