package workflow

import "sync"

// Change is published after every accepted transition.
type Change struct {
	SessionID string
	Previous  State
	Current   State
}

// Broker fans out state changes of one session to its subscribers
// (SSE streams, the Telegram watcher).
type Broker struct {
	mu          sync.RWMutex
	subscribers map[chan Change]struct{}
	closed      bool
}

// NewBroker constructs a broker instance.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[chan Change]struct{}),
	}
}

// Subscribe returns a channel that receives changes. The channel is closed by
// Unsubscribe or when the broker closes.
func (b *Broker) Subscribe() chan Change {
	ch := make(chan Change, 8)
	b.mu.Lock()
	if b.closed {
		close(ch)
	} else {
		b.subscribers[ch] = struct{}{}
	}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel from the broker.
func (b *Broker) Unsubscribe(ch chan Change) {
	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish fans the change out to all subscribers. Slow subscribers miss
// changes rather than block the session worker.
func (b *Broker) Publish(c Change) {
	b.mu.RLock()
	for ch := range b.subscribers {
		select {
		case ch <- c:
		default:
		}
	}
	b.mu.RUnlock()
}

// Close closes every subscriber channel. Later subscriptions get a closed channel.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	for ch := range b.subscribers {
		delete(b.subscribers, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Subscribers returns the number of active subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
