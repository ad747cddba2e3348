// ABOUTME: In-memory fan-out of notification frames to every authenticated connection
// ABOUTME: Slow connections drop frames instead of blocking the publisher

package fakebackend

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBufferSize bounds how far a connection may fall behind.
const subscriberBufferSize = 64

// Broadcaster delivers encoded notification frames to subscribers.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan []byte // subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]chan []byte),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber. The subscription is removed and its
// channel closed when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan []byte, string) {
	subID := uuid.NewString()
	ch := make(chan []byte, subscriberBufferSize)

	b.mu.Lock()
	b.subscribers[subID] = ch
	b.mu.Unlock()
	b.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// Publish sends frame to every subscriber without blocking.
func (b *Broadcaster) Publish(frame []byte) {
	b.mu.RLock()
	targets := make([]chan []byte, 0, len(b.subscribers))
	for _, ch := range b.subscribers {
		targets = append(targets, ch)
	}
	// Held across the sends so Unsubscribe cannot close a channel mid-send.
	defer b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- frame:
		default:
			b.logger.Debug("dropped frame for slow subscriber")
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(ch)
	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// Count returns the number of live subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close removes every subscriber.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subID, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, subID)
	}
}
