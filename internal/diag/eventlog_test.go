package diag

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/oobe/engine/pkg/pluginapi"
	"go.uber.org/zap"
)

type fakeBus struct {
	handler pluginapi.EventHandler
}

func (b *fakeBus) SubscribeAll(handler pluginapi.EventHandler) (unsubscribe func()) {
	b.handler = handler
	return func() { b.handler = nil }
}

func (b *fakeBus) emit(e pluginapi.Event) {
	if b.handler != nil {
		b.handler(e)
	}
}

func TestEventLog_recordsPublishedEvent(t *testing.T) {
	s := tempStore(t)
	log := NewEventLog(s, zap.NewNop())
	bus := &fakeBus{}
	log.Start(bus)
	defer log.Stop()

	bus.emit(pluginapi.Event{
		Publisher: "wifi",
		Topic:     "WifiCompleted",
		Payload:   []byte(`{"ssid":"home"}`),
		Timestamp: time.Now(),
	})

	// record() fires a bounded-timeout INSERT synchronously from the
	// handler goroutine (here, the test goroutine), so it has already
	// landed by the time emit returns.
	rows, err := log.Recent(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].Publisher != "wifi" || rows[0].Topic != "WifiCompleted" {
		t.Errorf("row = %+v", rows[0])
	}
	if rows[0].Payload != `{"ssid":"home"}` {
		t.Errorf("Payload = %q", rows[0].Payload)
	}
}

func TestEventLog_stopUnsubscribes(t *testing.T) {
	s := tempStore(t)
	log := NewEventLog(s, zap.NewNop())
	bus := &fakeBus{}
	log.Start(bus)
	log.Stop()

	bus.emit(pluginapi.Event{Publisher: "x", Topic: "T", Payload: []byte("{}"), Timestamp: time.Now()})

	rows, err := log.Recent(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("got %d rows after Stop, want 0", len(rows))
	}
}

func TestEventLog_recordTruncatesOversizedPayload(t *testing.T) {
	s := tempStore(t)
	log := NewEventLog(s, zap.NewNop())
	bus := &fakeBus{}
	log.Start(bus)
	defer log.Stop()

	big := strings.Repeat("x", maxStoredPayload+1000)
	bus.emit(pluginapi.Event{Publisher: "x", Topic: "Big", Payload: []byte(big), Timestamp: time.Now()})

	rows, err := log.Recent(context.Background(), "Big", 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if len(rows[0].Payload) != maxStoredPayload {
		t.Errorf("stored payload length = %d, want %d", len(rows[0].Payload), maxStoredPayload)
	}
}

func TestEventLog_recentFiltersByTopic(t *testing.T) {
	s := tempStore(t)
	log := NewEventLog(s, zap.NewNop())
	bus := &fakeBus{}
	log.Start(bus)
	defer log.Stop()

	bus.emit(pluginapi.Event{Publisher: "a", Topic: "A", Payload: []byte("{}"), Timestamp: time.Now()})
	bus.emit(pluginapi.Event{Publisher: "b", Topic: "B", Payload: []byte("{}"), Timestamp: time.Now()})

	rows, err := log.Recent(context.Background(), "A", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(rows) != 1 || rows[0].Topic != "A" {
		t.Errorf("rows = %+v, want exactly one A row", rows)
	}
}

func TestEventLog_recentOrdersMostRecentFirst(t *testing.T) {
	s := tempStore(t)
	log := NewEventLog(s, zap.NewNop())
	bus := &fakeBus{}
	log.Start(bus)
	defer log.Stop()

	bus.emit(pluginapi.Event{Publisher: "x", Topic: "T", Payload: []byte("1"), Timestamp: time.Now()})
	bus.emit(pluginapi.Event{Publisher: "x", Topic: "T", Payload: []byte("2"), Timestamp: time.Now()})

	rows, err := log.Recent(context.Background(), "T", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].Payload != "2" || rows[1].Payload != "1" {
		t.Errorf("order = [%q %q], want [2 1]", rows[0].Payload, rows[1].Payload)
	}
}

func TestEventLog_recentRespectsLimit(t *testing.T) {
	s := tempStore(t)
	log := NewEventLog(s, zap.NewNop())
	bus := &fakeBus{}
	log.Start(bus)
	defer log.Stop()

	for i := 0; i < 5; i++ {
		bus.emit(pluginapi.Event{Publisher: "x", Topic: "T", Payload: []byte("e"), Timestamp: time.Now()})
	}

	rows, err := log.Recent(context.Background(), "T", 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("got %d rows, want 2", len(rows))
	}
}
