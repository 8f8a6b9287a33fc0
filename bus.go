package openwebnet

import (
	"sync"
	"sync/atomic"
)

// Bus is an ordered multi-producer multi-consumer broadcast of
// Notifications with per-gateway filtering (spec §4.8). Publish never
// blocks: each subscriber owns its own unbounded queue, fed by a dedicated
// goroutine, so a slow consumer never slows down a producer or other
// consumers.
type Bus struct {
	mu     sync.Mutex
	subs   map[uint64]*busSubscriber
	nextID atomic.Uint64
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*busSubscriber)}
}

// Subscribe registers a new consumer. gateway empty matches every
// Notification; non-empty restricts delivery to Notifications whose
// Gateway field equals it (spec §4.8: "apply where_gateway == g"). The
// returned cancel func must be called when the subscriber is done; it is
// safe to call more than once.
func (b *Bus) Subscribe(gateway string) (ch <-chan Notification, cancel func()) {
	sub := newBusSubscriber(gateway)

	id := b.nextID.Add(1)
	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			sub.closeSub()
		})
	}
	return sub.out, cancel
}

// Publish delivers n to every matching subscriber. Producers calling
// Publish concurrently are globally serialized against each other here, so
// "published in order by one producer" (spec §4.8) also holds across
// producers.
func (b *Bus) Publish(n Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if sub.gateway == "" || sub.gateway == n.Gateway {
			sub.push(n)
		}
	}
}

// busSubscriber owns an unbounded FIFO of pending Notifications, drained by
// a dedicated pump goroutine into out. push is cheap and non-blocking:
// append under a mutex plus a best-effort wakeup signal.
type busSubscriber struct {
	gateway string
	out     chan Notification

	mu     sync.Mutex
	queue  []Notification
	wake   chan struct{}
	closed bool
}

func newBusSubscriber(gateway string) *busSubscriber {
	s := &busSubscriber{
		gateway: gateway,
		out:     make(chan Notification),
		wake:    make(chan struct{}, 1),
	}
	go s.pump()
	return s
}

func (s *busSubscriber) push(n Notification) {
	s.mu.Lock()
	s.queue = append(s.queue, n)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *busSubscriber) closeSub() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *busSubscriber) pump() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			if s.closed {
				s.mu.Unlock()
				close(s.out)
				return
			}
			s.mu.Unlock()
			<-s.wake
			continue
		}
		n := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.out <- n
	}
}
