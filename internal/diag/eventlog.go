package diag

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/oobe/engine/pkg/pluginapi"
	"go.uber.org/zap"
)

// maxStoredPayload truncates oversized payloads before they hit the
// database; the audit trail is for diagnosis, not for replaying full
// plugin request/response bodies.
const maxStoredPayload = 4096

// Bus is the subset of internal/bus.Hub the event log needs, defined
// consumer-side per the teacher's interface-at-point-of-use convention.
type Bus interface {
	SubscribeAll(handler pluginapi.EventHandler) (unsubscribe func())
}

// EventLog subscribes to every event published on the bus and appends
// a row per event to the diagnostics database. It is a passive
// observer: a write failure is logged and otherwise ignored, since the
// audit trail must never be able to slow or break plugin orchestration.
type EventLog struct {
	store  *Store
	logger *zap.Logger
	unsub  func()
}

// NewEventLog creates an EventLog backed by store but does not start
// recording until Start is called.
func NewEventLog(store *Store, logger *zap.Logger) *EventLog {
	return &EventLog{store: store, logger: logger}
}

// Start subscribes to the bus. Stop unsubscribes.
func (l *EventLog) Start(bus Bus) {
	l.unsub = bus.SubscribeAll(l.record)
}

// Stop removes the bus subscription. Safe to call even if Start was
// never called.
func (l *EventLog) Stop() {
	if l.unsub != nil {
		l.unsub()
	}
}

func (l *EventLog) record(e pluginapi.Event) {
	payload := e.Payload
	if len(payload) > maxStoredPayload {
		payload = payload[:maxStoredPayload]
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := l.store.db.ExecContext(ctx,
		`INSERT INTO event_log (publisher, topic, payload, recorded_at) VALUES (?, ?, ?, ?)`,
		e.Publisher, e.Topic, string(payload), e.Timestamp.UTC().Format(time.RFC3339),
	)
	if err != nil {
		l.logger.Warn("failed to record event to diagnostics log",
			zap.String("topic", e.Topic), zap.Error(err))
	}
}

// Row is one recorded event, as returned by Recent.
type Row struct {
	ID         int64  `json:"id"`
	Publisher  string `json:"publisher"`
	Topic      string `json:"topic"`
	Payload    string `json:"payload"`
	RecordedAt string `json:"recorded_at"`
}

// Recent returns up to limit rows, most recent first, optionally
// filtered to a single topic (empty topic means no filter).
func (l *EventLog) Recent(ctx context.Context, topic string, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 100
	}

	var (
		rows *sql.Rows
		err  error
	)
	if topic != "" {
		rows, err = l.store.db.QueryContext(ctx,
			`SELECT id, publisher, topic, payload, recorded_at FROM event_log
			 WHERE topic = ? ORDER BY id DESC LIMIT ?`, topic, limit)
	} else {
		rows, err = l.store.db.QueryContext(ctx,
			`SELECT id, publisher, topic, payload, recorded_at FROM event_log
			 ORDER BY id DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query event log: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ID, &r.Publisher, &r.Topic, &r.Payload, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan event log row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
