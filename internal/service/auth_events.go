package service

import (
	"sync"

	"github.com/armiapp/armi/internal/model"
)

const authEventBuffer = 16

// AuthEvents fans session changes out to subscribers. Delivery is lossless
// and in publish order per subscriber; a publisher only waits when a
// subscriber's buffer is full.
type AuthEvents struct {
	mu     sync.Mutex
	subs   map[int]*subscription
	nextID int
	closed bool
}

type subscription struct {
	in   chan model.AuthEvent
	out  chan model.AuthEvent
	done chan struct{}
	once sync.Once
}

func NewAuthEvents() *AuthEvents {
	return &AuthEvents{subs: make(map[int]*subscription)}
}

// Subscribe returns a channel of events and the func that ends the
// subscription. The channel is closed after unsubscribe or Close.
func (b *AuthEvents) Subscribe() (<-chan model.AuthEvent, func()) {
	sub := &subscription{
		in:   make(chan model.AuthEvent, authEventBuffer),
		out:  make(chan model.AuthEvent),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.out)
		return sub.out, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	go sub.pump()

	unsubscribe := func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		sub.stop()
	}
	return sub.out, unsubscribe
}

func (b *AuthEvents) Publish(event model.AuthEvent) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	subs := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.in <- event:
		case <-sub.done:
		}
	}
}

// Close ends every subscription. Later publishes are dropped.
func (b *AuthEvents) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[int]*subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscription) pump() {
	defer close(s.out)
	for {
		select {
		case event := <-s.in:
			select {
			case s.out <- event:
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}
