package scheduler

import (
	"sync"
	"time"
)

// EventType names a job lifecycle event.
type EventType string

const (
	EventSubmitted EventType = "submitted"
	EventStarted   EventType = "started"
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventCancelled EventType = "cancelled"
)

// Event is one job lifecycle notification.
type Event struct {
	Type     EventType `json:"type"`
	JobID    string    `json:"job_id"`
	Status   Status    `json:"status"`
	Progress Progress  `json:"progress"`
	Error    string    `json:"error,omitempty"`
	Time     time.Time `json:"time"`
}

type subscriber struct {
	ch   chan Event
	done chan struct{}
	once sync.Once
}

// broker fans events out to subscribers. Publishing blocks until every
// subscriber has accepted the event or unsubscribed, so a slow reader slows
// the scheduler down instead of losing events.
type broker struct {
	emitMu sync.Mutex
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
}

func newBroker() *broker {
	return &broker{subs: make(map[*subscriber]struct{})}
}

func (b *broker) subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 0 {
		buffer = 0
	}
	sub := &subscriber{ch: make(chan Event, buffer), done: make(chan struct{})}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
		sub.once.Do(func() {
			close(sub.done)
			// Wait out any in-flight publish before closing the channel.
			b.emitMu.Lock()
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
			close(sub.ch)
			b.emitMu.Unlock()
		})
	}
	return sub.ch, unsubscribe
}

func (b *broker) publish(ev Event) {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- ev:
		case <-s.done:
		}
	}
}
