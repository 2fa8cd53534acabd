// Package realtime relays match state changes to subscribed clients.
package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventSnapshot          EventType = "snapshot"
	EventParticipantJoined EventType = "participant_joined"
	EventParticipantLeft   EventType = "participant_left"
	EventMatchStarted      EventType = "match_started"
	EventTurnSubmitted     EventType = "turn_submitted"
	EventTurnAdvanced      EventType = "turn_advanced"
	EventMatchCompleted    EventType = "match_completed"
	EventStrokeAdded       EventType = "stroke_added"
	EventDrawingSubmitted  EventType = "drawing_submitted"
	EventResultsViewed     EventType = "results_viewed"
)

// Event is the envelope sent on every channel. Delivery is at-least-once,
// so consumers dedupe on ID or on the payload's own ordering keys.
type Event struct {
	ID      string          `json:"id"`
	Type    EventType       `json:"type"`
	MatchID string          `json:"match_id"`
	Payload json.RawMessage `json:"payload,omitempty"`
	At      time.Time       `json:"at"`
}

func NewEvent(typ EventType, matchID string, payload any) (Event, error) {
	ev := Event{ID: uuid.NewString(), Type: typ, MatchID: matchID, At: time.Now().UTC()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Event{}, err
		}
		ev.Payload = raw
	}
	return ev, nil
}

func MatchChannel(matchID string) string {
	return "match:" + matchID
}

func StrokeChannel(matchID string) string {
	return "match:" + matchID + ":strokes"
}

// Notifier is the publish/subscribe contract shared by the hubs.
type Notifier interface {
	Publish(ctx context.Context, channel string, ev Event) error
	// Subscribe returns a stream that is closed when cancel is called, ctx ends,
	// or the subscriber falls too far behind and must resync.
	Subscribe(ctx context.Context, channel string) (<-chan Event, func(), error)
	Close() error
}
