// Package eventbus is the typed publish/subscribe façade over the event
// channel. Each event name maps to exactly one payload shape; inbound frames
// are decoded and fanned out to every subscriber of that event.
package eventbus

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"classsync/pkg/interfaces"
	"classsync/pkg/types"
)

// Handler receives the decoded payload of one event. The concrete type is
// the pointer payload registered for the event name in types.NewPayload.
type Handler func(payload interface{})

// Subscription identifies one typed subscriber for removal.
type Subscription struct {
	event string
	id    string
}

// Bus fans decoded events out to typed subscribers and forwards emits to the
// channel. No ordering is guaranteed between unrelated subscribers.
type Bus struct {
	channel interfaces.Channel
	log     *zap.Logger

	mu    sync.RWMutex
	subs  map[string]map[string]Handler
	links map[string]interfaces.Subscription // one channel subscription per event
}

// New creates a bus over the given channel.
func New(channel interfaces.Channel, log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		channel: channel,
		log:     log,
		subs:    make(map[string]map[string]Handler),
		links:   make(map[string]interfaces.Subscription),
	}
}

// Emit validates the payload shape for the event name and forwards it to the
// channel. Emit returns immediately; delivery is best-effort.
func (b *Bus) Emit(event string, payload interface{}) error {
	proto, ok := types.NewPayload(event)
	if !ok {
		return types.ErrUnknownEvent
	}
	got := reflect.TypeOf(payload)
	want := reflect.TypeOf(proto)
	if got != want && got != want.Elem() {
		return fmt.Errorf("%w: event %s wants %s, got %s",
			types.ErrInvalidPayload, event, want.Elem(), got)
	}
	return b.channel.Send(event, payload)
}

// On registers a typed handler for one event name.
func (b *Bus) On(event string, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[event] == nil {
		b.subs[event] = make(map[string]Handler)
		b.links[event] = b.channel.Subscribe(event, func(frame types.Frame) {
			b.deliver(frame)
		})
	}
	id := uuid.New().String()
	b.subs[event][id] = handler
	return Subscription{event: event, id: id}
}

// Off removes a handler. Unknown subscriptions are ignored.
func (b *Bus) Off(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	handlers := b.subs[sub.event]
	if handlers == nil {
		return
	}
	delete(handlers, sub.id)
	if len(handlers) == 0 {
		delete(b.subs, sub.event)
		if link, ok := b.links[sub.event]; ok {
			b.channel.Unsubscribe(link)
			delete(b.links, sub.event)
		}
	}
}

// Close removes every subscription from the underlying channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for event, link := range b.links {
		b.channel.Unsubscribe(link)
		delete(b.links, event)
	}
	b.subs = make(map[string]map[string]Handler)
}

// deliver invokes every subscriber of the frame's event, isolating each so
// a throwing handler cannot prevent delivery to the rest. The payload is
// decoded freshly per handler; a subscriber that mutates its copy cannot
// leak the change into handlers invoked after it.
func (b *Bus) deliver(frame types.Frame) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[frame.Event]))
	for _, h := range b.subs[frame.Event] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		payload, err := types.DecodePayload(frame)
		if err != nil {
			b.log.Warn("undeliverable frame", zap.String("event", frame.Event), zap.Error(err))
			return
		}
		b.invoke(frame.Event, payload, h)
	}
}

func (b *Bus) invoke(event string, payload interface{}, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("subscriber panicked", zap.String("event", event), zap.Any("panic", r))
		}
	}()
	h(payload)
}
