package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"mcpstudio/internal/api"
	"mcpstudio/internal/schema"
	"mcpstudio/pkg/logging"
)

// DefaultBufferSize is the per-subscriber channel capacity.
const DefaultBufferSize = 256

// minBufferSize leaves room for at least one event plus the overflow notice.
const minBufferSize = 2

// Options configures a Bus.
type Options struct {
	// BufferSize is the channel capacity of each subscriber.
	BufferSize int
	// Messages renders Event.Message. Nil uses the default templates.
	Messages *MessageTemplateEngine
	// Now is the clock. Nil uses time.Now.
	Now func() time.Time
}

// Bus is an in-process topic pub/sub. Publish never blocks: each subscriber
// owns a bounded channel, and a subscriber whose channel fills up receives a
// final SubscriberOverflow event and is dropped. Events published to one topic
// are delivered to every matching subscriber in publish order.
type Bus struct {
	mu          sync.Mutex
	subscribers map[string]*Subscription
	sequences   map[string]uint64
	closed      bool

	bufferSize int
	messages   *MessageTemplateEngine
	now        func() time.Time
}

// NewBus creates a bus.
func NewBus(opts Options) *Bus {
	if opts.BufferSize < minBufferSize {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Messages == nil {
		opts.Messages = NewMessageTemplateEngine()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Bus{
		subscribers: make(map[string]*Subscription),
		sequences:   make(map[string]uint64),
		bufferSize:  opts.BufferSize,
		messages:    opts.Messages,
		now:         opts.Now,
	}
}

// Subscription is a live, ordered stream of events matching a pattern.
type Subscription struct {
	ID      string
	Pattern string

	pattern pattern
	ch      chan Event
	done    chan struct{}
	bus     *Bus

	errMu sync.Mutex
	err   error
}

// Events returns the stream. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Done is closed when the subscription ends for any reason.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err reports why the subscription ended: nil for a normal unsubscribe,
// *api.SubscriberOverflowError when the subscriber was dropped.
func (s *Subscription) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.bus.Unsubscribe(s.ID)
}

// Subscribe registers a subscriber for every topic matching pattern. The
// subscription ends when ctx is cancelled, Close is called, the bus is closed
// or the subscriber overflows.
func (b *Bus) Subscribe(ctx context.Context, topicPattern string) (*Subscription, error) {
	p, err := compilePattern(topicPattern)
	if err != nil {
		return nil, &api.ValidationError{
			Subject: "topic pattern",
			Issues:  []schema.Issue{{Path: "pattern", Message: err.Error()}},
		}
	}

	sub := &Subscription{
		ID:      uuid.New().String(),
		Pattern: topicPattern,
		pattern: p,
		ch:      make(chan Event, b.bufferSize),
		done:    make(chan struct{}),
		bus:     b,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		close(sub.done)
		return sub, nil
	}
	b.subscribers[sub.ID] = sub
	b.mu.Unlock()

	logging.Debug("Events", "Subscriber %s added for %s", logging.TruncateID(sub.ID), topicPattern)

	go func() {
		select {
		case <-ctx.Done():
			b.Unsubscribe(sub.ID)
		case <-sub.done:
		}
	}()

	return sub, nil
}

// Unsubscribe removes a subscriber and closes its stream.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[id]; ok {
		b.removeLocked(sub, nil)
	}
}

// Publish delivers an event to every subscriber whose pattern matches topic.
// It never blocks and returns the event as published.
func (b *Bus) Publish(topic string, eventType api.EventType, payload any) Event {
	event := Event{
		ID:        uuid.New().String(),
		Topic:     topic,
		Type:      eventType,
		Timestamp: b.now(),
		Message:   b.messages.Render(eventType, payload),
		Payload:   payload,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return event
	}

	b.sequences[topic]++
	event.Sequence = b.sequences[topic]

	for _, sub := range b.subscribers {
		if !sub.pattern.match(topic) {
			continue
		}
		// Publishers only send while holding b.mu, so the length check
		// cannot race with another send.
		if len(sub.ch) >= cap(sub.ch)-1 {
			b.overflowLocked(sub)
			continue
		}
		sub.ch <- event
	}
	return event
}

func (b *Bus) overflowLocked(sub *Subscription) {
	payload := api.OverflowPayload{SubscriptionID: sub.ID, Pattern: sub.Pattern, Buffer: cap(sub.ch)}
	b.sequences[api.TopicSystem]++
	notice := Event{
		ID:        uuid.New().String(),
		Topic:     api.TopicSystem,
		Type:      api.EventSubscriberOverflow,
		Sequence:  b.sequences[api.TopicSystem],
		Timestamp: b.now(),
		Message:   b.messages.Render(api.EventSubscriberOverflow, payload),
		Payload:   payload,
	}
	// The reserved last slot always has room for the notice.
	sub.ch <- notice

	logging.Warn("Events", "Subscriber %s (%s) overflowed and was dropped", logging.TruncateID(sub.ID), sub.Pattern)
	b.removeLocked(sub, &api.SubscriberOverflowError{SubscriptionID: sub.ID, Pattern: sub.Pattern, Buffer: cap(sub.ch)})
}

func (b *Bus) removeLocked(sub *Subscription, err error) {
	delete(b.subscribers, sub.ID)
	sub.errMu.Lock()
	sub.err = err
	sub.errMu.Unlock()
	close(sub.ch)
	close(sub.done)
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Close ends every subscription. Later publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subscribers {
		b.removeLocked(sub, nil)
	}
}
