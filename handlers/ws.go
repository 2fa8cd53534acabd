package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"doodle-match-system/middleware"
	"doodle-match-system/services"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	wsPingInterval = 54 * time.Second
	wsWriteWait    = 10 * time.Second
)

// RequireUpgrade rejects plain HTTP requests on WebSocket routes.
func RequireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

type wsInbound struct {
	Type        string          `json:"type"`
	TurnNumber  int             `json:"turnNumber"`
	StrokeData  json.RawMessage `json:"strokeData"`
	StrokeIndex int             `json:"strokeIndex"`
	Epoch       *int            `json:"epoch"`
}

// handleInbound answers one client frame. The drawer streams strokes here
// instead of over /rpc; anyone may ask for a resync.
func (s *Streams) handleInbound(ctx context.Context, userID, matchID string, raw []byte) any {
	var msg wsInbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return wsError(fmt.Errorf("%w: %v", services.ErrInvalidRequest, err))
	}
	switch msg.Type {
	case "stroke":
		ack, err := s.turns.AddStroke(ctx, userID, services.AddStrokeInput{
			MatchID:     matchID,
			TurnNumber:  msg.TurnNumber,
			StrokeData:  msg.StrokeData,
			StrokeIndex: msg.StrokeIndex,
			Epoch:       msg.Epoch,
		})
		if err != nil {
			return wsError(err)
		}
		return fiber.Map{
			"type":        "stroke_ack",
			"strokeIndex": msg.StrokeIndex,
			"seq":         ack.Seq,
			"epoch":       ack.Epoch,
			"duplicate":   ack.Duplicate,
		}
	case "resync":
		snap, err := s.snapshot(ctx, userID, matchID)
		if err != nil {
			return wsError(err)
		}
		return snap
	}
	return wsError(fmt.Errorf("%w: unknown message type %q", services.ErrInvalidRequest, msg.Type))
}

func wsError(err error) fiber.Map {
	_, body := errorBody(err)
	body["type"] = "error"
	return body
}

// MatchSocket is GET /ws/matches/:id. One goroutine reads client frames;
// the handler goroutine is the only writer.
func (s *Streams) MatchSocket() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		userID, _ := conn.Locals(middleware.UserIDLocal).(string)
		matchID := conn.Params("id")
		log := s.log.With(zap.String("match_id", matchID), zap.String("user_id", userID))
		defer conn.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sub, snap, err := s.open(ctx, userID, matchID)
		if err != nil {
			_ = conn.WriteJSON(wsError(err))
			return
		}
		defer sub.cancel()

		replies := make(chan any, 16)
		go func() {
			defer cancel()
			for {
				_, raw, err := conn.ReadMessage()
				if err != nil {
					log.Debug("ws read ended", zap.Error(err))
					return
				}
				select {
				case replies <- s.handleInbound(ctx, userID, matchID, raw):
				case <-ctx.Done():
					return
				}
			}
		}()

		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()

		write := func(v any) bool {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(v); err != nil {
				log.Debug("ws write failed", zap.Error(err))
				return false
			}
			return true
		}

		if !write(snap) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.events:
				if !ok || !write(ev) {
					return
				}
			case ev, ok := <-sub.strokes:
				if !ok || !write(ev) {
					return
				}
			case reply := <-replies:
				if !write(reply) {
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	})
}
