// Package conversation keeps the transcript of every call handled by this
// process, keyed by the telephony call id.
package conversation

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shuhub/collector/internal/analysis"
)

// Speaker identifies who said a transcript line.
type Speaker string

const (
	SpeakerAI      Speaker = "AI"
	SpeakerSubject Speaker = "Subject"
)

// Message is one transcript entry.
type Message struct {
	ID        string    `json:"id"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// TranscriptLine renders m the way it appears in the full transcript.
func TranscriptLine(m Message) string {
	return fmt.Sprintf("[%s] %s: %s\n", m.Timestamp.Format("15:04:05"), m.Speaker, m.Text)
}

// Observer is notified after a record changes. Callbacks run outside the
// store's locks, on the goroutine that made the change.
type Observer interface {
	MessageAppended(callID string, m Message)
	AnalysisAttached(callID string, r analysis.Result)
}

// Record is the conversation of one call. Messages are append-only and the
// full transcript is kept in step with them on every append.
type Record struct {
	callID    string
	createdAt time.Time

	mu         sync.Mutex
	messages   []Message
	transcript strings.Builder
	analyses   []analysis.Result
	updatedAt  time.Time
}

// CallID returns the key the record is stored under.
func (r *Record) CallID() string { return r.callID }

// Len returns the number of messages.
func (r *Record) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

// Snapshot returns a copy of the record that is safe to hand out.
func (r *Record) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	msgs := make([]Message, len(r.messages))
	copy(msgs, r.messages)
	results := make([]analysis.Result, len(r.analyses))
	copy(results, r.analyses)

	return Snapshot{
		CallID:         r.callID,
		CreatedAt:      r.createdAt,
		UpdatedAt:      r.updatedAt,
		Messages:       msgs,
		FullTranscript: r.transcript.String(),
		Analyses:       results,
	}
}

func (r *Record) append(m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
	r.transcript.WriteString(TranscriptLine(m))
	r.updatedAt = m.Timestamp
}

// Snapshot is a point-in-time copy of a Record.
type Snapshot struct {
	CallID         string            `json:"callId"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
	Messages       []Message         `json:"messages"`
	FullTranscript string            `json:"fullTranscript"`
	Analyses       []analysis.Result `json:"analyses"`
}

// LatestAnalysis returns the most recent analysis, if any.
func (s Snapshot) LatestAnalysis() (analysis.Result, bool) {
	if len(s.Analyses) == 0 {
		return analysis.Result{}, false
	}
	return s.Analyses[len(s.Analyses)-1], true
}

// Summary is the short form used by the debug listing.
type Summary struct {
	CallID       string    `json:"callId"`
	MessageCount int       `json:"messageCount"`
	LastMessages []Message `json:"lastMessages"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	Analyzed     bool      `json:"analyzed"`
}

const summaryTail = 3

// Store maps call ids to conversation records. Records are never evicted.
type Store struct {
	mu       sync.RWMutex
	records  map[string]*Record
	observer Observer
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithObserver registers o to be told about every append and analysis.
func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

// WithClock overrides the clock used for record creation and for messages
// appended without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		records: make(map[string]*Record),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreate returns the record for callID, creating an empty one if needed.
func (s *Store) GetOrCreate(callID string) *Record {
	s.mu.RLock()
	r, ok := s.records[callID]
	s.mu.RUnlock()
	if ok {
		return r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[callID]; ok {
		return r
	}
	now := s.now()
	r = &Record{callID: callID, createdAt: now, updatedAt: now}
	s.records[callID] = r
	return r
}

// Append adds a message to the conversation of callID, creating the record on
// demand. An empty callID is ignored and reported with ok=false.
func (s *Store) Append(callID string, speaker Speaker, text string, ts time.Time) (Message, bool) {
	if callID == "" {
		return Message{}, false
	}
	if ts.IsZero() {
		ts = s.now()
	}
	m := Message{
		ID:        uuid.NewString(),
		Speaker:   speaker,
		Text:      text,
		Timestamp: ts,
	}
	s.GetOrCreate(callID).append(m)

	if s.observer != nil {
		s.observer.MessageAppended(callID, m)
	}
	return m, true
}

// Get returns a snapshot of the record for callID without creating it.
func (s *Store) Get(callID string) (Snapshot, bool) {
	s.mu.RLock()
	r, ok := s.records[callID]
	s.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return r.Snapshot(), true
}

// AttachAnalysis appends an analysis result to the call's history. Earlier
// results are left untouched.
func (s *Store) AttachAnalysis(callID string, res analysis.Result) bool {
	if callID == "" {
		return false
	}
	r := s.GetOrCreate(callID)
	r.mu.Lock()
	r.analyses = append(r.analyses, res)
	r.mu.Unlock()

	if s.observer != nil {
		s.observer.AnalysisAttached(callID, res)
	}
	return true
}

// List summarizes every record, most recently updated first.
func (s *Store) List() []Summary {
	s.mu.RLock()
	records := make([]*Record, 0, len(s.records))
	for _, r := range s.records {
		records = append(records, r)
	}
	s.mu.RUnlock()

	out := make([]Summary, 0, len(records))
	for _, r := range records {
		r.mu.Lock()
		tail := r.messages
		if len(tail) > summaryTail {
			tail = tail[len(tail)-summaryTail:]
		}
		last := make([]Message, len(tail))
		copy(last, tail)
		out = append(out, Summary{
			CallID:       r.callID,
			MessageCount: len(r.messages),
			LastMessages: last,
			CreatedAt:    r.createdAt,
			UpdatedAt:    r.updatedAt,
			Analyzed:     len(r.analyses) > 0,
		})
		r.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].CallID < out[j].CallID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
