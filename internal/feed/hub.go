package feed

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const defaultBufferSize = 16

// Predicate filters events server-side before delivery to a subscriber.
// A nil predicate admits every event on the channel.
type Predicate func(ChangeEvent) bool

// Hub fans change events out to channel-scoped subscribers. The empty channel
// name is a catch-all: its subscribers receive every event regardless of
// channel, which callers use to invalidate cached queries indiscriminately.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
	logger      *zap.Logger
}

type subscriber struct {
	id        int64
	channel   string
	predicate Predicate
	stream    chan ChangeEvent
}

// NewHub constructs an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  defaultBufferSize,
		logger:      logger,
	}
}

// Subscribe opens a subscription on the named channel. The returned cancel
// function is synchronous and idempotent: once it returns, no further event is
// delivered on the stream and the stream is closed. Cancellation also fires
// when ctx is done.
func (h *Hub) Subscribe(ctx context.Context, channel string, predicate Predicate) (<-chan ChangeEvent, func()) {
	sub := &subscriber{
		channel:   channel,
		predicate: predicate,
		stream:    make(chan ChangeEvent, h.bufferSize),
	}

	h.mu.Lock()
	h.nextID++
	sub.id = h.nextID
	if _, ok := h.subscribers[channel]; !ok {
		h.subscribers[channel] = make(map[int64]*subscriber)
	}
	h.subscribers[channel][sub.id] = sub
	h.mu.Unlock()

	h.logger.Info("change feed subscription opened",
		zap.String("channel", channel),
		zap.Int64("subscription_id", sub.id))

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.unregister(sub)
		})
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return sub.stream, cancel
}

// Publish delivers the event to every matching subscriber of its channel and
// to every catch-all subscriber. Delivery is non-blocking: a subscriber whose
// buffer is full misses the event, which is logged and not retried.
func (h *Hub) Publish(event ChangeEvent) {
	if event.Channel == "" {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.deliverLocked(h.subscribers[event.Channel], event)
	h.deliverLocked(h.subscribers[""], event)
}

// deliverLocked requires at least h.mu read-held so unregister cannot close a
// stream mid-send.
func (h *Hub) deliverLocked(subs map[int64]*subscriber, event ChangeEvent) {
	for _, sub := range subs {
		if sub.predicate != nil && !sub.predicate(event) {
			continue
		}
		select {
		case sub.stream <- event:
		default:
			h.logger.Warn("change feed event dropped",
				zap.String("channel", event.Channel),
				zap.Int64("subscription_id", sub.id))
		}
	}
}

func (h *Hub) unregister(sub *subscriber) {
	h.mu.Lock()
	subs := h.subscribers[sub.channel]
	if subs != nil {
		if _, ok := subs[sub.id]; ok {
			delete(subs, sub.id)
			close(sub.stream)
		}
		if len(subs) == 0 {
			delete(h.subscribers, sub.channel)
		}
	}
	h.mu.Unlock()

	h.logger.Info("change feed subscription closed",
		zap.String("channel", sub.channel),
		zap.Int64("subscription_id", sub.id))
}
