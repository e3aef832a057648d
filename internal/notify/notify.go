// Package notify is the one-way change channel from the core to UI subscribers.
//
// Publish never blocks. A subscriber whose buffer is full misses events; the
// broker then delivers a Resync event as soon as the subscriber drains a slot,
// so the subscriber knows to re-fetch.
package notify

import "sync"

// Kind is the type of change.
type Kind string

const (
	Inserted Kind = "inserted"
	Updated  Kind = "updated"
	Deleted  Kind = "deleted"
	Resync   Kind = "resync"
)

// Event names the record that changed. Resync events carry no ID.
type Event struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id,omitempty"`
}

// Publisher is the side of the broker the core depends on.
type Publisher interface {
	Publish(Event)
}

type subscriber struct {
	ch   chan Event
	done chan struct{}
	wg   sync.WaitGroup

	lagged bool // a Resync is owed
	missed bool // an event was dropped since the owed Resync was queued
}

// stop ends a pending Resync delivery and closes the channel. b.mu must not
// be held.
func (s *subscriber) stop() {
	close(s.done)
	s.wg.Wait()
	close(s.ch)
}

// Broker fans events out to subscribers.
type Broker struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	closed bool
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]*subscriber)}
}

// Subscribe registers a subscriber with the given buffer size (minimum 1).
// cancel unregisters it and closes the channel; it is safe to call twice.
//
// A subscriber that falls behind gets one Resync once it drains a slot, even
// if nothing else is published. Events dropped while the Resync waits may
// cause another Resync.
func (b *Broker) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = &subscriber{ch: ch, done: make(chan struct{})}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			s, ok := b.subs[id]
			delete(b.subs, id)
			b.mu.Unlock()
			if ok {
				s.stop()
			}
		})
	}
}

// Publish delivers ev to every subscriber without blocking.
func (b *Broker) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if s.lagged {
			s.missed = true
			continue
		}
		select {
		case s.ch <- ev:
		default:
			s.lagged = true
			s.wg.Add(1)
			go b.deliverResync(s)
		}
	}
}

// deliverResync blocks until s has room for a Resync. A drop after the
// Resync was queued may postdate the subscriber's re-fetch, so it sends
// another.
func (b *Broker) deliverResync(s *subscriber) {
	defer s.wg.Done()
	for {
		b.mu.Lock()
		s.missed = false
		b.mu.Unlock()

		select {
		case s.ch <- Event{Kind: Resync}:
		case <-s.done:
			return
		}

		b.mu.Lock()
		if !s.missed {
			s.lagged = false
			b.mu.Unlock()
			return
		}
		b.mu.Unlock()
	}
}

// Subscribers returns the number of active subscribers.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later publishes are dropped.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*subscriber, 0, len(b.subs))
	for id, s := range b.subs {
		subs = append(subs, s)
		delete(b.subs, id)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
}

// Discard is a Publisher that drops everything.
type Discard struct{}

func (Discard) Publish(Event) {}
