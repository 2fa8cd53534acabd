package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"doodle-match-system/middleware"
	"doodle-match-system/realtime"
	"doodle-match-system/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const sseKeepAlive = 15 * time.Second

// Streams serves live match events over SSE and WebSocket.
type Streams struct {
	status    *services.StatusService
	turns     *services.TurnService
	notifier  realtime.Notifier
	log       *zap.Logger
	keepAlive time.Duration
}

func NewStreams(status *services.StatusService, turns *services.TurnService, notifier realtime.Notifier, log *zap.Logger) *Streams {
	return &Streams{status: status, turns: turns, notifier: notifier, log: log, keepAlive: sseKeepAlive}
}

// subscription merges the status and stroke channels of one match.
type subscription struct {
	events  <-chan realtime.Event
	strokes <-chan realtime.Event
	cancel  func()
}

// open subscribes before reading the snapshot so nothing published in
// between is lost. It fails when the user may not watch the match.
func (s *Streams) open(ctx context.Context, userID, matchID string) (*subscription, realtime.Event, error) {
	ctx, cancel := context.WithCancel(ctx)
	events, stopEvents, err := s.notifier.Subscribe(ctx, realtime.MatchChannel(matchID))
	if err != nil {
		cancel()
		return nil, realtime.Event{}, err
	}
	strokes, stopStrokes, err := s.notifier.Subscribe(ctx, realtime.StrokeChannel(matchID))
	if err != nil {
		stopEvents()
		cancel()
		return nil, realtime.Event{}, err
	}
	sub := &subscription{events: events, strokes: strokes, cancel: func() {
		stopStrokes()
		stopEvents()
		cancel()
	}}

	snap, err := s.snapshot(ctx, userID, matchID)
	if err != nil {
		sub.cancel()
		return nil, realtime.Event{}, err
	}
	return sub, snap, nil
}

func (s *Streams) snapshot(ctx context.Context, userID, matchID string) (realtime.Event, error) {
	st, err := s.status.GetMatchStatus(ctx, userID, matchID)
	if err != nil {
		return realtime.Event{}, err
	}
	return realtime.NewEvent(realtime.EventSnapshot, matchID, st)
}

// writeSSE writes one event frame.
func writeSSE(w io.Writer, ev realtime.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, data)
	return err
}

// MatchEvents is GET /matches/:id/events. The stream ends when the hub drops
// the subscriber; the client reconnects and gets a fresh snapshot.
func (s *Streams) MatchEvents(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	matchID := c.Params("id")

	sub, snap, err := s.open(context.Background(), userID, matchID)
	if err != nil {
		return writeError(c, s.log, err)
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer sub.cancel()

		ticker := time.NewTicker(s.keepAlive)
		defer ticker.Stop()

		if err := writeSSE(w, snap); err != nil || w.Flush() != nil {
			return
		}
		for {
			select {
			case ev, ok := <-sub.events:
				if !ok {
					return
				}
				if err := writeSSE(w, ev); err != nil {
					return
				}
			case ev, ok := <-sub.strokes:
				if !ok {
					return
				}
				if err := writeSSE(w, ev); err != nil {
					return
				}
			case <-ticker.C:
				if _, err := w.WriteString(": keepalive\n\n"); err != nil {
					return
				}
			}
			if err := w.Flush(); err != nil {
				s.log.Debug("sse client gone", zap.String("match_id", matchID), zap.String("user_id", userID))
				return
			}
		}
	})
	return nil
}
