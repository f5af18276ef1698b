// Package eventbus fans retro events out to live subscribers.
//
// Publish never blocks on a subscriber. Each subscription owns a FIFO queue
// drained by its own goroutine, so a slow reader only delays itself. A reader
// that falls more than MaxPending events behind is cut off with
// ErrSubscriberLagging and must resynchronize from a full read.
package eventbus

import (
	"errors"
	"log"
	"sync"

	"github.com/louisbranch/retroboard/internal/services/retro/domain"
)

// DefaultMaxPending is the queue depth at which a subscriber is dropped.
const DefaultMaxPending = 1024

var (
	// ErrSubscriberLagging ends a subscription whose queue overflowed.
	ErrSubscriberLagging = errors.New("eventbus: subscriber lagging")
	// ErrBusClosed ends subscriptions when their bus closes.
	ErrBusClosed = errors.New("eventbus: bus closed")
)

// Option configures a Bus.
type Option func(*Bus)

// WithMaxPending overrides DefaultMaxPending. Values below 1 are ignored.
func WithMaxPending(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.maxPending = n
		}
	}
}

// Bus is the pub/sub channel of one retro.
type Bus struct {
	mu         sync.Mutex
	subs       map[uint64]*Subscription
	nextID     uint64
	closed     bool
	maxPending int
}

// New creates an open bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:       map[uint64]*Subscription{},
		maxPending: DefaultMaxPending,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a subscriber that sees events published from now on,
// projected for viewerID.
func (b *Bus) Subscribe(viewerID string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	b.nextID++
	sub := newSubscription(b, b.nextID, viewerID)
	b.subs[sub.id] = sub
	go sub.pump()
	return sub, nil
}

// Publish appends evt to every live subscription queue.
func (b *Bus) Publish(evt domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for id, sub := range b.subs {
		if !sub.enqueue(evt, b.maxPending) {
			delete(b.subs, id)
		}
	}
}

// Close ends every subscription with ErrBusClosed. Later Subscribe calls fail
// and later Publish calls are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = map[uint64]*Subscription{}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.terminate(ErrBusClosed)
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Subscription is one subscriber's ordered event stream.
type Subscription struct {
	bus      *Bus
	id       uint64
	viewerID string

	mu    sync.Mutex
	queue []domain.Event
	ended bool
	err   error

	wake chan struct{}
	done chan struct{}
	out  chan domain.EventView
}

func newSubscription(bus *Bus, id uint64, viewerID string) *Subscription {
	return &Subscription{
		bus:      bus,
		id:       id,
		viewerID: viewerID,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		out:      make(chan domain.EventView),
	}
}

// Events returns the stream. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan domain.EventView {
	return s.out
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err reports why the subscription ended: nil while live or after Close,
// ErrSubscriberLagging or ErrBusClosed otherwise.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops delivery. It is safe to call more than once.
func (s *Subscription) Close() {
	s.terminate(nil)
	s.bus.remove(s.id)
}

func (s *Subscription) enqueue(evt domain.Event, maxPending int) bool {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return false
	}
	if len(s.queue) >= maxPending {
		pending := len(s.queue)
		s.mu.Unlock()
		log.Printf("eventbus: dropping lagging subscriber viewer=%q pending=%d", s.viewerID, pending)
		s.terminate(ErrSubscriberLagging)
		return false
	}
	s.queue = append(s.queue, evt)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

func (s *Subscription) terminate(reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.err = reason
	s.queue = nil
	close(s.done)
}

func (s *Subscription) next() (domain.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return domain.Event{}, false
	}
	evt := s.queue[0]
	s.queue[0] = domain.Event{}
	s.queue = s.queue[1:]
	return evt, true
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		evt, ok := s.next()
		if !ok {
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		select {
		case s.out <- domain.ViewEvent(evt, s.viewerID):
		case <-s.done:
			return
		}
	}
}
