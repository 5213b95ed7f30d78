package pipeline

import (
	"context"
	"sync"

	"github.com/lexiqai/scene-assistant/internal/observability"
)

const subscriberBuffer = 64

// broadcaster fans transitions out to subscribers. A subscriber whose
// buffer is full misses the transition instead of stalling the controller.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[chan Transition]struct{}
	closed bool
	done   chan struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{
		subs: make(map[chan Transition]struct{}),
		done: make(chan struct{}),
	}
}

// subscribe registers a stream primed with snapshot. The stream is closed
// when ctx is done or the broadcaster shuts down.
func (b *broadcaster) subscribe(ctx context.Context, snapshot Transition) <-chan Transition {
	ch := make(chan Transition, subscriberBuffer)
	ch <- snapshot

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			b.remove(ch)
		case <-b.done:
		}
	}()
	return ch
}

func (b *broadcaster) remove(ch chan Transition) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

func (b *broadcaster) publish(t Transition) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		select {
		case ch <- t:
		default:
			observability.RecordError("subscriber_overflow", "pipeline")
		}
	}
}

// shutdown closes every stream and rejects new subscribers
func (b *broadcaster) shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}
