package eventlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EventType represents the type of call event
type EventType string

const (
	EventCallPlaced        EventType = "call_placed"
	EventProviderStatus    EventType = "provider_status"
	EventStreamStarted     EventType = "stream_started"
	EventStreamStopped     EventType = "stream_stopped"
	EventBridgeTransition  EventType = "bridge_transition"
	EventAIConnected       EventType = "ai_connected"
	EventAIError           EventType = "ai_error"
	EventBargeIn           EventType = "barge_in"
	EventFramesDropped     EventType = "frames_dropped"
	EventSessionAnomaly    EventType = "session_anomaly"
	EventMaxDuration       EventType = "max_duration_reached"
	EventCallHangup        EventType = "call_hangup"
	EventCallEnded         EventType = "call_ended"
	EventAnalysisCompleted EventType = "analysis_completed"
)

// Logger provides async event logging to the database
type Logger struct {
	db *pgxpool.Pool
}

// New creates a new event logger. A nil pool turns every call into a no-op.
func New(db *pgxpool.Pool) *Logger {
	return &Logger{db: db}
}

// Log writes an event to the database synchronously
func (l *Logger) Log(ctx context.Context, callID string, eventType EventType, data map[string]any) error {
	if l == nil || l.db == nil || callID == "" {
		return nil // Silently skip if no DB or call ID
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		dataJSON = []byte("{}")
	}

	_, err = l.db.Exec(ctx, `
		INSERT INTO call_events (provider_call_id, event_type, event_data)
		VALUES ($1, $2, $3)
	`, callID, string(eventType), dataJSON)

	return err
}

// LogAsync logs an event without blocking the caller
func (l *Logger) LogAsync(callID string, eventType EventType, data map[string]any) {
	if l == nil || l.db == nil || callID == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Log(ctx, callID, eventType, data)
	}()
}

// Event is one stored call event.
type Event struct {
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"createdAt"`
}

// List returns the events recorded for callID in insertion order.
func (l *Logger) List(ctx context.Context, callID string) ([]Event, error) {
	if l == nil || l.db == nil || callID == "" {
		return nil, nil
	}

	rows, err := l.db.Query(ctx, `
		SELECT event_type, event_data, created_at
		FROM call_events
		WHERE provider_call_id = $1
		ORDER BY id
	`, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var typ string
		if err := rows.Scan(&typ, &e.Data, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}
