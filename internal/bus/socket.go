package bus

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/oobe/engine/pkg/pluginapi"
	"go.uber.org/zap"
)

// wireEvent is the JSON envelope carried over publish-json frames and
// delivered to remote subscribers, per the event bus wire protocol.
type wireEvent struct {
	PublisherName string `json:"publisher_name"`
	Topic         string `json:"topic"`
	Payload       string `json:"payload"`
	Timestamp     string `json:"timestamp"`
}

// socket represents one connected WebSocket subscriber. Each socket
// owns a buffered outbound queue; a full queue drops the newest event
// rather than blocking the hub or other sockets.
type socket struct {
	conn   *websocket.Conn
	out    chan []byte
	logger *zap.Logger
	drops  DropCounter

	mu   sync.Mutex
	name string
	subs map[string]func() // topic -> unsubscribe
}

func newSocket(conn *websocket.Conn, logger *zap.Logger, drops DropCounter) *socket {
	return &socket{
		conn:   conn,
		out:    make(chan []byte, subscriberBuffer),
		logger: logger,
		drops:  drops,
		subs:   make(map[string]func()),
	}
}

// SocketHandler upgrades HTTP connections to the bus's WebSocket
// transport and runs the read/write pumps for each connection. It is
// mounted on its own port, distinct from the HTTP dispatcher.
type SocketHandler struct {
	hub    *Hub
	logger *zap.Logger
}

// NewSocketHandler builds a handler that registers and drives sockets
// against hub.
func NewSocketHandler(hub *Hub, logger *zap.Logger) *SocketHandler {
	return &SocketHandler{hub: hub, logger: logger}
}

func (h *SocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error("bus websocket accept failed", zap.Error(err))
		return
	}

	s := newSocket(conn, h.logger, h.hub.drops)
	ctx := r.Context()

	done := make(chan struct{})
	go func() {
		s.writePump(ctx)
		close(done)
	}()

	s.readPump(ctx, h.hub)

	s.unsubscribeAll()
	conn.Close(websocket.StatusNormalClosure, "")
	<-done
}

func (s *socket) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.out:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := s.conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				s.logger.Debug("bus websocket write error", zap.Error(err))
				return
			}
		}
	}
}

// readPump parses incoming text frames against the wire grammar:
// register-name:<name>, subscribe:<topic>, unsubscribe:<topic>, and
// publish-json:<json envelope>.
func (s *socket) readPump(ctx context.Context, hub *Hub) {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return
		}
		s.handleFrame(hub, string(data))
	}
}

func (s *socket) handleFrame(hub *Hub, frame string) {
	switch {
	case strings.HasPrefix(frame, "register-name:"):
		s.mu.Lock()
		s.name = strings.TrimPrefix(frame, "register-name:")
		s.mu.Unlock()

	case strings.HasPrefix(frame, "subscribe:"):
		topic := strings.TrimPrefix(frame, "subscribe:")
		if topic == "" {
			s.logger.Debug("bus received subscribe frame with empty topic")
			return
		}
		s.subscribe(hub, topic)

	case strings.HasPrefix(frame, "unsubscribe:"):
		topic := strings.TrimPrefix(frame, "unsubscribe:")
		s.unsubscribe(topic)

	case strings.HasPrefix(frame, "publish-json:"):
		raw := strings.TrimPrefix(frame, "publish-json:")
		var ev wireEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			s.logger.Debug("bus received malformed publish-json frame", zap.Error(err))
			return
		}
		if ev.Topic == "" {
			s.logger.Debug("bus received publish-json frame with empty topic")
			return
		}
		publisher := ev.PublisherName
		if publisher == "" {
			s.mu.Lock()
			publisher = s.name
			s.mu.Unlock()
		}
		hub.publishFrom(publisher, ev.Topic, []byte(ev.Payload))

	default:
		s.logger.Debug("bus received unrecognized frame", zap.String("frame", frame))
	}
}

// subscribe adds topic to this socket's subscriptions, delivering
// future events as publish-json-shaped frames on the outbound queue.
// Resubscribing to a topic already held replaces the prior
// subscription rather than stacking a second one, matching the
// "name re-registration is idempotent" reconnect guarantee extended to
// subscriptions.
func (s *socket) subscribe(hub *Hub, topic string) {
	s.mu.Lock()
	if unsub, ok := s.subs[topic]; ok {
		unsub()
	}
	s.mu.Unlock()

	unsub := hub.Subscribe(topic, func(e pluginapi.Event) {
		s.deliver(e)
	})

	s.mu.Lock()
	s.subs[topic] = unsub
	s.mu.Unlock()
}

// deliver encodes e as the wire envelope and enqueues it for send. A
// full outbound queue drops the delivery and increments the bus's drop
// counter rather than blocking the hub or other subscribers.
func (s *socket) deliver(e pluginapi.Event) {
	b, err := json.Marshal(wireEvent{
		PublisherName: e.Publisher,
		Topic:         e.Topic,
		Payload:       string(e.Payload),
		Timestamp:     e.Timestamp.UTC().Format(time.RFC3339),
	})
	if err != nil {
		s.logger.Error("bus failed to encode outbound event", zap.Error(err))
		return
	}
	if !s.send(b) {
		s.logger.Warn("bus subscriber buffer full, dropping delivery",
			zap.String("subscriber", s.name), zap.String("topic", e.Topic))
		s.drops.Inc()
	}
}

func (s *socket) unsubscribe(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if unsub, ok := s.subs[topic]; ok {
		unsub()
		delete(s.subs, topic)
	}
}

func (s *socket) unsubscribeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for topic, unsub := range s.subs {
		unsub()
		delete(s.subs, topic)
	}
	close(s.out)
}

func (s *socket) send(b []byte) bool {
	select {
	case s.out <- b:
		return true
	default:
		return false
	}
}
