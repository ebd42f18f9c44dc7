package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shuhub/collector/internal/analysis"
	"github.com/shuhub/collector/internal/calls"
	"github.com/shuhub/collector/internal/conversation"
	"github.com/shuhub/collector/internal/costs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu       sync.Mutex
	ops      []string
	calls    []Call
	messages []conversation.Message
	costs    map[string]costs.CallCosts
	fail     bool
}

func (f *fakeWriter) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op)
	if f.fail {
		return errors.New("db down")
	}
	return nil
}

func (f *fakeWriter) UpsertCall(_ context.Context, c Call) error {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	return f.record("call:" + c.Status)
}

func (f *fakeWriter) InsertMessage(_ context.Context, _ string, m conversation.Message) error {
	f.mu.Lock()
	f.messages = append(f.messages, m)
	f.mu.Unlock()
	return f.record("message:" + m.Text)
}

func (f *fakeWriter) InsertAnalysis(_ context.Context, _ string, _ analysis.Result) error {
	return f.record("analysis")
}

func (f *fakeWriter) RecordCallCosts(_ context.Context, callID string, _ int, c costs.CallCosts) error {
	f.mu.Lock()
	if f.costs == nil {
		f.costs = map[string]costs.CallCosts{}
	}
	f.costs[callID] = c
	f.mu.Unlock()
	return f.record("costs")
}

func TestArchiver_PreservesOrder(t *testing.T) {
	w := &fakeWriter{}
	a := NewArchiver(w, nil, zerolog.Nop())

	reg := calls.NewRegistry()
	reg.OnTransition(a.CallTransitioned)
	conv := conversation.NewStore(conversation.WithObserver(a))

	reg.Create(calls.Session{CallID: "CA1", SubjectID: "42"})
	conv.Append("CA1", conversation.SpeakerAI, "السلام عليكم", time.Time{})
	conv.Append("CA1", conversation.SpeakerSubject, "وعليكم السلام", time.Time{})
	_, _, err := reg.Transition("CA1", calls.StateInProgress, time.Time{})
	require.NoError(t, err)
	conv.AttachAnalysis("CA1", analysis.Result{PaymentProbability: 40})
	a.Close()

	assert.Equal(t, []string{
		"call:initiated",
		"message:السلام عليكم",
		"message:وعليكم السلام",
		"call:in-progress",
		"analysis",
	}, w.ops)
	assert.Equal(t, "42", w.calls[0].SubjectID)
}

func TestArchiver_RecordsCostsOnTerminalState(t *testing.T) {
	w := &fakeWriter{}
	a := NewArchiver(w, costs.NewCalculator(costs.DefaultRates()), zerolog.Nop())

	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	reg := calls.NewRegistry()
	reg.OnTransition(a.CallTransitioned)
	reg.Create(calls.Session{CallID: "CA1", StartedAt: start})
	_, _, _ = reg.Transition("CA1", calls.StateInProgress, start.Add(10*time.Second))
	_, _, _ = reg.Transition("CA1", calls.StateCompleted, start.Add(130*time.Second))
	a.Close()

	got, ok := w.costs["CA1"]
	require.True(t, ok)
	// Two answered minutes: 2*14 Twilio + 2*30 realtime.
	assert.Equal(t, 88, got.TotalCostCents)
}

func TestArchiver_ArchivesAnomalyAfterTerminalState(t *testing.T) {
	w := &fakeWriter{}
	a := NewArchiver(w, costs.NewCalculator(costs.DefaultRates()), zerolog.Nop())

	reg := calls.NewRegistry()
	reg.OnTransition(a.CallTransitioned)
	reg.Create(calls.Session{CallID: "CA1"})
	_, _, _ = reg.Transition("CA1", calls.StateInProgress, time.Time{})
	_, _, _ = reg.Transition("CA1", calls.StateCompleted, time.Time{})
	require.NoError(t, reg.MarkAnomaly("CA1", "ai_socket_closed"))
	a.Close()

	assert.Equal(t, []string{
		"call:initiated",
		"call:in-progress",
		"call:completed",
		"costs",
		"call:completed",
	}, w.ops)
	last := w.calls[len(w.calls)-1]
	assert.Equal(t, "ai_socket_closed", last.Anomaly)
}

func TestArchiver_WriteErrorsDoNotStopQueue(t *testing.T) {
	w := &fakeWriter{fail: true}
	a := NewArchiver(w, nil, zerolog.Nop())

	a.MessageAppended("CA1", conversation.Message{Text: "a"})
	a.MessageAppended("CA1", conversation.Message{Text: "b"})
	a.Close()

	assert.Equal(t, []string{"message:a", "message:b"}, w.ops)
}

func TestArchiver_NilAndClosedAreNoOps(t *testing.T) {
	var nilArchiver *Archiver
	nilArchiver.MessageAppended("CA1", conversation.Message{})
	nilArchiver.CallTransitioned("", calls.Session{CallID: "CA1", State: calls.StateCompleted})
	nilArchiver.Close()

	w := &fakeWriter{}
	a := NewArchiver(w, nil, zerolog.Nop())
	a.Close()
	a.Close()
	a.MessageAppended("CA1", conversation.Message{Text: "late"})
	assert.Empty(t, w.ops)
}

func TestCallRoundTripsThroughSession(t *testing.T) {
	ended := time.Date(2024, 5, 1, 10, 5, 0, 0, time.UTC)
	s := calls.Session{
		CallID:    "CA1",
		StreamID:  "MZ1",
		SubjectID: "42",
		To:        "+966501234567",
		State:     calls.StateCompleted,
		Anomaly:   "max_duration",
		StartedAt: ended.Add(-5 * time.Minute),
		EndedAt:   &ended,
	}
	s.Subject.ID = "42"
	s.Subject.Name = "محمد"

	back := CallFromSession(s).Session()
	assert.Equal(t, s, back)
}
