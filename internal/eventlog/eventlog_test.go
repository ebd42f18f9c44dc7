package eventlog

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func TestEventTypeConstants(t *testing.T) {
	expectedEvents := map[EventType]string{
		EventCallPlaced:        "call_placed",
		EventProviderStatus:    "provider_status",
		EventStreamStarted:     "stream_started",
		EventStreamStopped:     "stream_stopped",
		EventBridgeTransition:  "bridge_transition",
		EventAIConnected:       "ai_connected",
		EventAIError:           "ai_error",
		EventBargeIn:           "barge_in",
		EventFramesDropped:     "frames_dropped",
		EventSessionAnomaly:    "session_anomaly",
		EventMaxDuration:       "max_duration_reached",
		EventCallHangup:        "call_hangup",
		EventCallEnded:         "call_ended",
		EventAnalysisCompleted: "analysis_completed",
	}

	for eventType, expectedValue := range expectedEvents {
		if string(eventType) != expectedValue {
			t.Errorf("EventType %q = %q, want %q", expectedValue, string(eventType), expectedValue)
		}
	}
}

func TestLoggerNew(t *testing.T) {
	logger := New(nil)
	if logger == nil {
		t.Error("New(nil) should return a non-nil logger")
	}
}

func TestLoggerNilReceiver(t *testing.T) {
	var logger *Logger

	// Should not panic
	logger.LogAsync("CA1", EventCallEnded, nil)
	if err := logger.Log(context.Background(), "CA1", EventCallEnded, nil); err != nil {
		t.Errorf("Log on nil logger = %v, want nil", err)
	}
	events, err := logger.List(context.Background(), "CA1")
	if err != nil || events != nil {
		t.Errorf("List on nil logger = %v, %v", events, err)
	}
}

func TestLoggerLogAsyncWithNilDB(t *testing.T) {
	logger := New(nil)

	// Should not panic
	logger.LogAsync("CA1", EventBridgeTransition, map[string]any{
		"from": "idle",
		"to":   "awaiting_ai_handshake",
	})
}

func TestLoggerLogWithEmptyCallID(t *testing.T) {
	logger := New(nil)

	err := logger.Log(context.Background(), "", EventStreamStarted, map[string]any{
		"stream_sid": "MZ1",
	})
	if err != nil {
		t.Errorf("Log with empty call ID should return nil error, got %v", err)
	}
}

func TestLoggerRoundTrip(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	callID := "CA-eventlog-" + time.Now().Format("150405.000000")
	logger := New(pool)
	if err := logger.Log(ctx, callID, EventStreamStarted, map[string]any{"stream_sid": "MZ1"}); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := logger.Log(ctx, callID, EventCallEnded, map[string]any{"state": "completed"}); err != nil {
		t.Fatalf("Log: %v", err)
	}

	events, err := logger.List(ctx, callID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Type != EventStreamStarted || events[1].Type != EventCallEnded {
		t.Errorf("events out of order: %s, %s", events[0].Type, events[1].Type)
	}
	_, _ = pool.Exec(ctx, `DELETE FROM call_events WHERE provider_call_id = $1`, callID)
}
