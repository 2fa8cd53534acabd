package services

import (
	"context"
	"time"

	"doodle-match-system/config"
	"doodle-match-system/realtime"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps are shared by every match service.
type Deps struct {
	DB       *gorm.DB
	Notifier realtime.Notifier
	Clock    clockwork.Clock
	Rules    config.GameRules
	Log      *zap.Logger
}

type core struct {
	db       *gorm.DB
	notifier realtime.Notifier
	clock    clockwork.Clock
	rules    config.GameRules
	log      *zap.Logger
}

func newCore(d Deps) core {
	c := core{db: d.DB, notifier: d.Notifier, clock: d.Clock, rules: d.Rules, log: d.Log}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c
}

func (c *core) now() time.Time {
	return c.clock.Now().UTC()
}

// turnBudget is how long a turn may run before the sweep submits it.
func (c *core) turnBudget() time.Duration {
	return c.rules.TurnDuration + c.rules.TurnGrace
}

type pendingEvent struct {
	channel string
	typ     realtime.EventType
	matchID string
	payload any
}

// outbox collects events inside a transaction; they are published only after commit.
type outbox []pendingEvent

func (o *outbox) match(typ realtime.EventType, matchID string, payload any) {
	*o = append(*o, pendingEvent{channel: realtime.MatchChannel(matchID), typ: typ, matchID: matchID, payload: payload})
}

func (o *outbox) stroke(matchID string, payload realtime.StrokePayload) {
	*o = append(*o, pendingEvent{channel: realtime.StrokeChannel(matchID), typ: realtime.EventStrokeAdded, matchID: matchID, payload: payload})
}

// flush publishes best-effort. Clients resync from status if they miss an event.
func (c *core) flush(ctx context.Context, o outbox) {
	if c.notifier == nil {
		return
	}
	for _, p := range o {
		ev, err := realtime.NewEvent(p.typ, p.matchID, p.payload)
		if err != nil {
			c.log.Error("encode event", zap.String("type", string(p.typ)), zap.Error(err))
			continue
		}
		if err := c.notifier.Publish(ctx, p.channel, ev); err != nil {
			c.log.Warn("publish event failed",
				zap.String("channel", p.channel), zap.String("type", string(p.typ)), zap.Error(err))
		}
	}
}
