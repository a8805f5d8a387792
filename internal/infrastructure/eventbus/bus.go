// Package eventbus is the broadcast path for observers and side effects.
// It is independent of the dispatcher queue and never drives state transitions.
package eventbus

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/note-capture/note-capture/internal/domain/event"
)

// HandlerFunc reacts to a published event.
type HandlerFunc func(ctx context.Context, ev event.Event) error

// Subscription identifies one entry in a topic's handler list.
type Subscription struct {
	ID    uuid.UUID
	Topic string
}

type subscriber struct {
	id      uuid.UUID
	name    string
	handler HandlerFunc
}

// Bus is a topic-keyed publish/subscribe broadcaster.
type Bus struct {
	name     string
	mu       sync.RWMutex
	topics   map[string][]*subscriber
	failures atomic.Int64
	logger   zerolog.Logger
}

// New creates a bus.
func New(name string, logger zerolog.Logger) *Bus {
	return &Bus{
		name:   name,
		topics: make(map[string][]*subscriber),
		logger: logger.With().Str("component", "eventbus").Str("bus", name).Logger(),
	}
}

func (b *Bus) Name() string {
	return b.name
}

// Subscribe appends h to the handlers for topic. Use event.WildcardTopic for every event.
func (b *Bus) Subscribe(topic string, h HandlerFunc) Subscription {
	sub := &subscriber{
		id:      uuid.New(),
		name:    handlerName(h),
		handler: h,
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics[topic] = append(b.topics[topic], sub)
	return Subscription{ID: sub.id, Topic: topic}
}

// Unsubscribe removes the first entry matching sub. No-op if absent.
func (b *Bus) Unsubscribe(topic string, sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.topics[topic]
	for i, s := range list {
		if s.id != sub.ID {
			continue
		}
		next := make([]*subscriber, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(b.topics, topic)
		} else {
			b.topics[topic] = next
		}
		return
	}
}

// Publish invokes every handler for ev.Type and every wildcard handler
// concurrently, and returns once all of them have finished or failed.
// Handler failures are logged and never returned.
func (b *Bus) Publish(ctx context.Context, ev event.Event) {
	subs := b.match(ev.Type)
	if len(subs) == 0 {
		return
	}

	var g errgroup.Group
	for _, s := range subs {
		s := s
		g.Go(func() error {
			b.safeCall(ctx, s, ev.Clone())
			return nil
		})
	}
	_ = g.Wait()
}

// SubscriberCount returns the number of handlers on topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Failures returns how many handler invocations have failed since creation.
func (b *Bus) Failures() int64 {
	return b.failures.Load()
}

func (b *Bus) match(eventType string) []*subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()
	typed := b.topics[eventType]
	var wildcard []*subscriber
	if eventType != event.WildcardTopic {
		wildcard = b.topics[event.WildcardTopic]
	}
	out := make([]*subscriber, 0, len(typed)+len(wildcard))
	out = append(out, typed...)
	return append(out, wildcard...)
}

func (b *Bus) safeCall(ctx context.Context, s *subscriber, ev event.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.reportFailure(s, ev, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := s.handler(ctx, ev); err != nil {
		b.reportFailure(s, ev, err)
	}
}

func (b *Bus) reportFailure(s *subscriber, ev event.Event, err error) {
	b.failures.Add(1)
	b.logger.Error().Err(err).
		Str("subscription_id", s.id.String()).
		Str("handler", s.name).
		Str("event_type", ev.Type).
		Str("event_id", ev.ID.String()).
		Msg("event handler failed")
}

func handlerName(h HandlerFunc) string {
	if h == nil {
		return "<nil>"
	}
	if fn := runtime.FuncForPC(reflect.ValueOf(h).Pointer()); fn != nil {
		return fn.Name()
	}
	return "<unknown>"
}
