// Package bus implements the topic-based publish/subscribe hub shared by
// the engine, plugins, and the in-browser web shell. One logical hub
// serves two adapters: in-process subscribers registered directly by
// engine code and plugins, and remote subscribers connected over the
// WebSocket transport in socket.go. Neither adapter is special-cased;
// both call through Publish/Subscribe/Unsubscribe.
package bus

import (
	"sync"
	"time"

	"github.com/oobe/engine/pkg/pluginapi"
	"go.uber.org/zap"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber
// that cannot keep up has its delivery for that message dropped rather
// than blocking other subscribers.
const subscriberBuffer = 256

// DropCounter is incremented once for every event dropped because a
// subscriber's buffer was full. It is read by internal/diag to export
// the oobe_bus_dropped_messages_total metric.
type DropCounter interface {
	Inc()
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type subscription struct {
	id      uint64
	name    string
	deliver func(pluginapi.Event)
}

// Hub is the in-process facet of the bus. It implements
// pluginapi.EventBus so plugins can be handed a narrow view of it
// directly, and it is also the backing store the WebSocket adapter
// (internal/bus/socket.go) registers and unregisters sockets against.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string][]subscription // topic -> subscribers
	nextID uint64
	logger *zap.Logger
	drops  DropCounter
}

// New creates an empty hub. Pass a DropCounter to wire Prometheus
// accounting for dropped deliveries; nil uses a no-op counter.
func New(logger *zap.Logger, drops DropCounter) *Hub {
	if drops == nil {
		drops = noopCounter{}
	}
	return &Hub{
		subs:   make(map[string][]subscription),
		logger: logger,
		drops:  drops,
	}
}

var _ pluginapi.EventBus = (*Hub)(nil)

// Publish delivers payload on topic to every current subscriber,
// in-process and remote alike. Ordering is per-publisher FIFO because
// callers of Publish from the same goroutine are served synchronously.
func (h *Hub) Publish(topic string, payload []byte) error {
	return h.publishFrom("engine", topic, payload)
}

// publishFrom is Publish with an explicit publisher name, used by the
// WebSocket adapter where publisher_name arrives on the wire.
func (h *Hub) publishFrom(publisher, topic string, payload []byte) error {
	event := pluginapi.Event{
		Publisher: publisher,
		Topic:     topic,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	h.mu.RLock()
	subs := make([]subscription, 0, len(h.subs[topic])+len(h.subs[allTopicsSentinel]))
	subs = append(subs, h.subs[topic]...)
	if topic != allTopicsSentinel {
		subs = append(subs, h.subs[allTopicsSentinel]...)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		h.deliver(s, event)
	}
	return nil
}

func (h *Hub) deliver(s subscription, event pluginapi.Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("bus subscriber panicked",
				zap.String("topic", event.Topic),
				zap.String("subscriber", s.name),
				zap.Any("panic", r),
			)
		}
	}()
	s.deliver(event)
}

// Subscribe registers handler for topic under an anonymous in-process
// identity. The returned func removes the subscription.
func (h *Hub) Subscribe(topic string, handler pluginapi.EventHandler) (unsubscribe func()) {
	return h.subscribeNamed("", topic, func(e pluginapi.Event) { handler(e) })
}

// subscribeNamed is Subscribe with an explicit subscriber name and a
// raw delivery func, used by the WebSocket adapter to hand the hub a
// non-blocking channel send instead of a direct callback.
func (h *Hub) subscribeNamed(name, topic string, deliver func(pluginapi.Event)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[topic] = append(h.subs[topic], subscription{id: id, name: name, deliver: deliver})
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		entries := h.subs[topic]
		for i, s := range entries {
			if s.id == id {
				h.subs[topic] = append(entries[:i], entries[i+1:]...)
				if len(h.subs[topic]) == 0 {
					delete(h.subs, topic)
				}
				return
			}
		}
	}
}

// allTopicsSentinel is the internal topic key SubscribeAll registers
// under. It can never collide with a real topic name published over
// the wire grammar, which only ever carries non-empty strings.
const allTopicsSentinel = ""

// SubscribeAll registers handler to receive every event published on
// any topic, regardless of subscribers registered for that specific
// topic. Used by internal/diag to tee every event into the audit log
// without the hub special-casing that caller.
func (h *Hub) SubscribeAll(handler pluginapi.EventHandler) (unsubscribe func()) {
	return h.subscribeNamed("", allTopicsSentinel, func(e pluginapi.Event) { handler(e) })
}

// SubscriberCount reports how many subscribers (in-process and remote)
// currently hold a subscription to topic. Used by tests.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}

// TotalSubscribers sums subscriptions across every real topic
// (excluding SubscribeAll's internal sentinel). Used by internal/diag's
// bus_subscribers gauge.
func (h *Hub) TotalSubscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for topic, subs := range h.subs {
		if topic == allTopicsSentinel {
			continue
		}
		total += len(subs)
	}
	return total
}
