package inproc

import (
	"sync"
	"sync/atomic"

	"agentrouter/internal/domain"
)

// Bus fans run events out to in-process subscribers. Publish never blocks: a
// subscriber whose queue is full misses the event and the drop is counted.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]*subscription
	nextID  int
	buffer  int
	dropped atomic.Int64
}

type subscription struct {
	taskID string
	ch     chan domain.Event
}

// Subscription is returned by Subscribe; pass it to Unsubscribe when done.
type Subscription struct {
	id int
	C  <-chan domain.Event
}

func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		subs:   make(map[int]*subscription),
		buffer: buffer,
	}
}

// Subscribe receives events of taskID, or of every run when taskID is empty.
func (b *Bus) Subscribe(taskID string) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	ch := make(chan domain.Event, b.buffer)
	b.subs[b.nextID] = &subscription{taskID: taskID, ch: ch}
	return Subscription{id: b.nextID, C: ch}
}

// Unsubscribe closes the subscription channel. It is safe to call twice.
func (b *Bus) Unsubscribe(s Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[s.id]
	if !ok {
		return
	}
	delete(b.subs, s.id)
	close(sub.ch)
}

func (b *Bus) Publish(ev domain.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.taskID != "" && sub.taskID != ev.TaskID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

// Dropped is the number of deliveries skipped because a queue was full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
