package diag

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/oobe/engine/pkg/pluginapi"
	"go.uber.org/zap"
)

func newTestHandler(t *testing.T) (*Handler, *fakeBus) {
	t.Helper()
	s := tempStore(t)
	log := NewEventLog(s, zap.NewNop())
	bus := &fakeBus{}
	log.Start(bus)
	t.Cleanup(log.Stop)
	return NewHandler(log), bus
}

func TestHandler_eventsReturnsRecordedRows(t *testing.T) {
	h, bus := newTestHandler(t)
	bus.emit(pluginapi.Event{Publisher: "wifi", Topic: "WifiCompleted", Payload: []byte(`{}`), Timestamp: time.Now()})

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/debug/events", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Events []Row `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Events) != 1 || body.Events[0].Topic != "WifiCompleted" {
		t.Errorf("events = %+v", body.Events)
	}
}

func TestHandler_eventsFiltersByTopicQueryParam(t *testing.T) {
	h, bus := newTestHandler(t)
	bus.emit(pluginapi.Event{Publisher: "a", Topic: "A", Payload: []byte(`{}`), Timestamp: time.Now()})
	bus.emit(pluginapi.Event{Publisher: "b", Topic: "B", Payload: []byte(`{}`), Timestamp: time.Now()})

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/debug/events?topic=A", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var body struct {
		Events []Row `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Events) != 1 || body.Events[0].Topic != "A" {
		t.Errorf("events = %+v, want exactly one A row", body.Events)
	}
}

func TestHandler_eventsRespectsLimitQueryParam(t *testing.T) {
	h, bus := newTestHandler(t)
	for i := 0; i < 3; i++ {
		bus.emit(pluginapi.Event{Publisher: "x", Topic: "T", Payload: []byte(`{}`), Timestamp: time.Now()})
	}

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/debug/events?limit=1", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var body struct {
		Events []Row `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Events) != 1 {
		t.Errorf("got %d events, want 1", len(body.Events))
	}
}

func TestHandler_eventsIgnoresInvalidLimit(t *testing.T) {
	h, bus := newTestHandler(t)
	bus.emit(pluginapi.Event{Publisher: "x", Topic: "T", Payload: []byte(`{}`), Timestamp: time.Now()})

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/debug/events?limit=not-a-number", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
