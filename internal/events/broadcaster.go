package events

import (
	"sync"
	"sync/atomic"
)

// subscriberBuffer is the per-subscriber queue depth. Emit never blocks; a
// full queue drops the event for that subscriber only.
const subscriberBuffer = 64

// Subscriber receives emitted events.
type Subscriber chan Event

type subscription struct {
	prefixes []string
	dropped  atomic.Uint64
}

// Broadcaster fans events out to the websocket stream and the console.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]*subscription
	dropped     atomic.Uint64
}

var broadcaster = &Broadcaster{
	subscribers: make(map[Subscriber]*subscription),
}

// Subscribe adds a subscriber that receives events whose name starts with
// one of prefixes, or every event when none are given.
func Subscribe(prefixes ...string) Subscriber {
	ch := make(Subscriber, subscriberBuffer)
	broadcaster.mu.Lock()
	broadcaster.subscribers[ch] = &subscription{prefixes: append([]string(nil), prefixes...)}
	broadcaster.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel. Unsubscribing a
// channel that was already closed by CloseAllSubscribers is a no-op.
func Unsubscribe(sub Subscriber) {
	broadcaster.mu.Lock()
	defer broadcaster.mu.Unlock()
	if _, ok := broadcaster.subscribers[sub]; !ok {
		return
	}
	delete(broadcaster.subscribers, sub)
	close(sub)
}

// CloseAllSubscribers closes and removes every subscriber. Called on shutdown
// so websocket writers return.
func CloseAllSubscribers() {
	broadcaster.mu.Lock()
	defer broadcaster.mu.Unlock()
	for sub := range broadcaster.subscribers {
		close(sub)
		delete(broadcaster.subscribers, sub)
	}
}

func broadcast(e Event) {
	broadcaster.mu.RLock()
	defer broadcaster.mu.RUnlock()

	for sub, s := range broadcaster.subscribers {
		if !Matches(e.Name, s.prefixes) {
			continue
		}
		select {
		case sub <- e:
		default:
			s.dropped.Add(1)
			broadcaster.dropped.Add(1)
		}
	}
}

// SubscriberCount returns the current number of subscribers.
func SubscriberCount() int {
	broadcaster.mu.RLock()
	defer broadcaster.mu.RUnlock()
	return len(broadcaster.subscribers)
}

// Dropped returns how many events sub missed because its queue was full.
func Dropped(sub Subscriber) uint64 {
	broadcaster.mu.RLock()
	defer broadcaster.mu.RUnlock()
	if s, ok := broadcaster.subscribers[sub]; ok {
		return s.dropped.Load()
	}
	return 0
}

// DroppedTotal returns the events dropped across all subscribers since start.
func DroppedTotal() uint64 {
	return broadcaster.dropped.Load()
}

// RecentEvents returns up to n of the newest buffered events matching
// prefixes. n <= 0 returns all of them.
func RecentEvents(n int, prefixes ...string) []Event {
	return buffer.Last(n, prefixes...)
}
