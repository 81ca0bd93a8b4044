// Package ipc provides the named per-thread channels that carry stream events
// between the run side and the renderer side.
//
// A channel has at most one subscriber. Messages are delivered to it in send
// order from a dedicated goroutine, so a slow handler never blocks Send.
package ipc

import (
	"errors"
	"sync"

	"openwork/internal/logging"
	"openwork/internal/metrics"
)

// ErrChannelBusy is returned when subscribing to a channel that already has a subscriber.
var ErrChannelBusy = errors.New("channel already has a subscriber")

// ErrBusClosed is returned when subscribing after Close.
var ErrBusClosed = errors.New("bus closed")

// StreamChannel returns the channel name carrying the events of a thread.
func StreamChannel(threadID string) string {
	return "agent:stream:" + threadID
}

// Handler receives one message.
type Handler func(payload []byte)

// Bus is an in-process publish/subscribe hub keyed by channel name.
type Bus struct {
	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string]*Subscription)}
}

// On subscribes handler to name until Unsubscribe is called.
func (b *Bus) On(name string, handler Handler) (*Subscription, error) {
	return b.subscribe(name, handler, false)
}

// Once subscribes handler to name for a single message.
func (b *Bus) Once(name string, handler Handler) (*Subscription, error) {
	return b.subscribe(name, handler, true)
}

func (b *Bus) subscribe(name string, handler Handler, once bool) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}
	if _, ok := b.subs[name]; ok {
		return nil, ErrChannelBusy
	}

	s := &Subscription{
		bus:     b,
		name:    name,
		handler: handler,
		once:    once,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	b.subs[name] = s
	go s.pump()
	return s, nil
}

// Send queues payload for the subscriber of name. It reports false when
// nobody is subscribed and the message was dropped.
func (b *Bus) Send(name string, payload []byte) bool {
	b.mu.Lock()
	s := b.subs[name]
	b.mu.Unlock()

	if s == nil || !s.enqueue(payload) {
		metrics.RecordBusDrop()
		logging.Debug("bus message dropped", logging.String("channel", name))
		return false
	}
	return true
}

// HasSubscriber reports whether name currently has a subscriber.
func (b *Bus) HasSubscriber(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.subs[name]
	return ok
}

// Unsubscribe removes the subscriber of name, if any.
func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	s := b.subs[name]
	b.mu.Unlock()
	if s != nil {
		s.Unsubscribe()
	}
}

// Close removes every subscriber and rejects new ones.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[s.name] == s {
		delete(b.subs, s.name)
	}
}

// =============================================================================
// SUBSCRIPTION
// =============================================================================

// Subscription is an active listener on one channel.
type Subscription struct {
	bus     *Bus
	name    string
	handler Handler
	once    bool

	mu     sync.Mutex
	queue  [][]byte
	closed bool
	notify chan struct{}
	done   chan struct{}
}

// Name returns the channel name.
func (s *Subscription) Name() string {
	return s.name
}

// Done is closed once the subscription has been removed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Unsubscribe detaches the subscription. Queued messages not yet delivered
// are discarded. It is safe to call from inside the handler and more than once.
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.queue = nil
	close(s.done)
	s.mu.Unlock()

	s.bus.remove(s)
}

func (s *Subscription) enqueue(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.queue = append(s.queue, payload)
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

func (s *Subscription) next() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.queue) == 0 {
		return nil, false
	}
	payload := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return payload, true
}

func (s *Subscription) pump() {
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}
		for {
			payload, ok := s.next()
			if !ok {
				break
			}
			s.handler(payload)
			if s.once {
				s.Unsubscribe()
				return
			}
		}
	}
}
