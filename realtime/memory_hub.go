package realtime

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const defaultSubscriberBuffer = 64

type subscriber struct {
	ch chan Event
}

// MemoryHub is the single-instance notifier.
type MemoryHub struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscriber]struct{}
	buffer int
	log    *zap.Logger
	closed bool
}

func NewMemoryHub(log *zap.Logger) *MemoryHub {
	return &MemoryHub{
		subs:   make(map[string]map[*subscriber]struct{}),
		buffer: defaultSubscriberBuffer,
		log:    log,
	}
}

// Publish never blocks. A subscriber whose buffer is full is dropped and its
// stream closed; the client reconnects and reloads the match status.
func (h *MemoryHub) Publish(_ context.Context, channel string, ev Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	for sub := range h.subs[channel] {
		select {
		case sub.ch <- ev:
		default:
			h.log.Warn("subscriber channel full, disconnecting",
				zap.String("channel", channel), zap.String("event", string(ev.Type)))
			h.removeLocked(channel, sub)
		}
	}
	return nil
}

func (h *MemoryHub) Subscribe(ctx context.Context, channel string) (<-chan Event, func(), error) {
	sub := &subscriber{ch: make(chan Event, h.buffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}, nil
	}
	if h.subs[channel] == nil {
		h.subs[channel] = make(map[*subscriber]struct{})
	}
	h.subs[channel][sub] = struct{}{}
	h.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			h.mu.Lock()
			h.removeLocked(channel, sub)
			h.mu.Unlock()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return sub.ch, cancel, nil
}

// removeLocked closes the subscriber's stream if it is still registered.
func (h *MemoryHub) removeLocked(channel string, sub *subscriber) {
	set, ok := h.subs[channel]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	close(sub.ch)
	if len(set) == 0 {
		delete(h.subs, channel)
	}
}

// SubscriberCount is used by tests and health output.
func (h *MemoryHub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}

func (h *MemoryHub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for channel, set := range h.subs {
		for sub := range set {
			close(sub.ch)
		}
		delete(h.subs, channel)
	}
	return nil
}
