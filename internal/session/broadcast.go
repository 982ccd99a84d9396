package session

import (
	"sync"

	"github.com/hasanabuzayed/openagent/internal/event"
	"github.com/hasanabuzayed/openagent/internal/logger"
)

// subscriberBuffer bounds how far a subscriber may fall behind before
// fan-out drops it.
const subscriberBuffer = 64

// Subscriber is one live event stream attachment. It receives events
// published from the moment of subscription onward; there is no
// replay.
type Subscriber struct {
	ch    chan event.Event
	stale bool
}

// Events is the receive side. The channel closes when the subscriber
// is dropped (unsubscribed, broadcaster closed, or marked stale).
func (s *Subscriber) Events() <-chan event.Event {
	return s.ch
}

// Stale reports whether the subscriber was dropped for falling behind.
func (s *Subscriber) Stale() bool {
	return s.stale
}

// Broadcaster fans events out to any number of subscribers without
// ever blocking the producer: a subscriber whose buffer is full is
// marked stale and dropped on the spot.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	closed bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[*Subscriber]struct{})}
}

func (b *Broadcaster) Subscribe() *Subscriber {
	sub := &Subscriber{ch: make(chan event.Event, subscriberBuffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

func (b *Broadcaster) Publish(ev event.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			// Slow consumer: drop it rather than stall everyone.
			sub.stale = true
			delete(b.subs, sub)
			close(sub.ch)
			logger.Log.Printf("[Session] Dropped stale subscriber (buffer full)")
		}
	}
}

func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.ch)
	}
}
