// Package eventbus fans pipeline events out to in-process observers.
//
// Publish never blocks: every subscriber owns a buffered channel and an
// event that does not fit is dropped for that subscriber only and counted.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	// Subscribe delivers events of the listed types, or every event when
	// none are listed. unsubscribe closes the channel and may be called
	// more than once.
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
	// Dropped counts deliveries lost to full subscriber buffers.
	Dropped() uint64
}

const defaultBuffer = 8

// New returns an in-memory bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]*subscriber{}}
}

// Nop returns a bus that discards everything.
func Nop() Bus { return nopBus{} }

// Publish stamps and publishes on an optional bus.
func Publish(b Bus, typ string, data any) {
	if b == nil {
		return
	}
	b.Publish(Event{Type: typ, Time: time.Now(), Data: data})
}

type subscriber struct {
	ch    chan Event
	types map[string]struct{}
}

func (s *subscriber) wants(typ string) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[typ]
	return ok
}

type memBus struct {
	// Sends happen under the read lock; unsubscribe takes the write lock
	// before closing, so a send never hits a closed channel.
	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	nextID  uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.wants(e.Type) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	s := &subscriber{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		s.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(s.ch)
			b.mu.Unlock()
		})
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }

type nopBus struct{}

func (nopBus) Publish(Event) {}

func (nopBus) Subscribe(int, ...string) (<-chan Event, func()) {
	ch := make(chan Event)
	var once sync.Once
	return ch, func() { once.Do(func() { close(ch) }) }
}

func (nopBus) Dropped() uint64 { return 0 }
