package pluginapi

import "time"

// Event is a message carried on the bus. Payload is already JSON-encoded
// by the time it reaches a remote (WebSocket) subscriber; in-process
// subscribers receive the same bytes and decode as needed.
type Event struct {
	Publisher string
	Topic     string
	Payload   []byte
	Timestamp time.Time
}

// EventHandler processes one delivered event.
type EventHandler func(Event)

// Publisher sends events onto the bus. Plugins that only need to emit
// events should depend on this narrow interface rather than EventBus.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Subscriber receives events from the bus. The returned func removes the
// subscription; calling it more than once is a no-op.
type Subscriber interface {
	Subscribe(topic string, handler EventHandler) (unsubscribe func())
}

// EventBus is the in-process facet of the bus, used by the engine's own
// components. PluginContext does not carry it, so plugins are not handed
// an EventBus. The WebSocket-facing surface lives in the engine's
// internal/bus package; plugins never see sockets directly.
type EventBus interface {
	Publisher
	Subscriber
}

// Well-known topic name helpers. The bus itself is topic-agnostic; these
// exist only so plugins and the orchestrator agree on a naming scheme.
func CompletedTopic(pluginName string) string { return pluginName + "Completed" }
func FailedTopic(pluginName string) string    { return pluginName + "Failed" }

const (
	TopicNetworkConnected     = "NetworkConnected"
	TopicStatusMessageChanged = "StatusMessageChanged"
	TopicSwitchRoute          = "SwitchRoute"
	TopicPlanUpdateFailed     = "PlanUpdateFailed"
	TopicPluginLoadFailed     = "PluginLoadFailed"
)
