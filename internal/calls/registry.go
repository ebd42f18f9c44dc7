package calls

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shuhub/collector/internal/debtor"
)

// ErrUnknownCall is returned for call ids the registry has never seen.
var ErrUnknownCall = errors.New("calls: unknown call")

// Session is one outbound call and its lifecycle.
type Session struct {
	CallID     string         `json:"callId"`
	StreamID   string         `json:"streamId,omitempty"`
	SubjectID  string         `json:"subjectId"`
	Subject    debtor.Context `json:"subject"`
	To         string         `json:"to,omitempty"`
	From       string         `json:"from,omitempty"`
	State      State          `json:"state"`
	Anomaly    string         `json:"anomaly,omitempty"`
	StartedAt  time.Time      `json:"startedAt"`
	AnsweredAt *time.Time     `json:"answeredAt,omitempty"`
	EndedAt    *time.Time     `json:"endedAt,omitempty"`
}

// Duration is the elapsed call time: until EndedAt for finished calls,
// otherwise until now.
func (s Session) Duration(now time.Time) time.Duration {
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	if end.Before(s.StartedAt) {
		return 0
	}
	return end.Sub(s.StartedAt)
}

// TransitionHook observes every applied state change and every newly
// recorded anomaly. For an anomaly prev equals s.State.
type TransitionHook func(prev State, s Session)

// Registry holds every call session created by this process.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
	hooks    []TransitionHook
	nextSeq  uint64

	dispatchMu   sync.Mutex
	dispatchCond *sync.Cond
	dispatched   uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		now:      func() time.Time { return time.Now().UTC() },
	}
	r.dispatchCond = sync.NewCond(&r.dispatchMu)
	return r
}

// OnTransition registers h. Hooks run synchronously after the registry lock
// is released, one change at a time and in the order the changes were
// applied. A hook must not change registry state.
func (r *Registry) OnTransition(h TransitionHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, h)
}

// Create registers a new session in the initiated state. If the call id is
// already known the existing session is returned unchanged. Hooks see a new
// session with an empty previous state.
func (r *Registry) Create(s Session) Session {
	r.mu.Lock()
	if existing, ok := r.sessions[s.CallID]; ok {
		out := *existing
		r.mu.Unlock()
		return out
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = r.now()
	}
	s.State = StateInitiated
	s.EndedAt = nil
	s.AnsweredAt = nil
	stored := s
	r.sessions[s.CallID] = &stored
	ticket, hooks := r.takeTicket()
	r.mu.Unlock()

	r.dispatch(ticket, hooks, "", s)
	return s
}

// Get returns a copy of the session for callID.
func (r *Registry) Get(callID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[callID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Transition moves callID to state. Moving to the current state is a no-op
// (changed=false); moving backwards or out of a terminal state fails with
// *InvalidTransitionError.
func (r *Registry) Transition(callID string, state State, at time.Time) (Session, bool, error) {
	if at.IsZero() {
		at = r.now()
	}

	r.mu.Lock()
	s, ok := r.sessions[callID]
	if !ok {
		r.mu.Unlock()
		return Session{}, false, ErrUnknownCall
	}
	if s.State == state {
		out := *s
		r.mu.Unlock()
		return out, false, nil
	}
	if !CanTransition(s.State, state) {
		out := *s
		r.mu.Unlock()
		return out, false, &InvalidTransitionError{CallID: callID, From: s.State, To: state}
	}

	prev := s.State
	s.State = state
	if state == StateInProgress && s.AnsweredAt == nil {
		answered := maxTime(at, s.StartedAt)
		s.AnsweredAt = &answered
	}
	if state.Terminal() {
		ended := maxTime(at, s.StartedAt)
		s.EndedAt = &ended
	}
	out := *s
	ticket, hooks := r.takeTicket()
	r.mu.Unlock()

	r.dispatch(ticket, hooks, prev, out)
	return out, true, nil
}

// MarkAnomaly records why a session ended abnormally. The first reason wins.
// Recording it fires the hooks even when the call is already terminal.
func (r *Registry) MarkAnomaly(callID, reason string) error {
	r.mu.Lock()
	s, ok := r.sessions[callID]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownCall
	}
	if s.Anomaly != "" || reason == "" {
		r.mu.Unlock()
		return nil
	}
	s.Anomaly = reason
	out := *s
	ticket, hooks := r.takeTicket()
	r.mu.Unlock()

	r.dispatch(ticket, hooks, out.State, out)
	return nil
}

// takeTicket reserves the next dispatch slot. r.mu must be held.
func (r *Registry) takeTicket() (uint64, []TransitionHook) {
	ticket := r.nextSeq
	r.nextSeq++
	return ticket, r.hooks
}

// dispatch runs hooks for the change holding ticket once every earlier
// change has been dispatched.
func (r *Registry) dispatch(ticket uint64, hooks []TransitionHook, prev State, s Session) {
	r.dispatchMu.Lock()
	for r.dispatched != ticket {
		r.dispatchCond.Wait()
	}
	r.dispatchMu.Unlock()

	defer func() {
		r.dispatchMu.Lock()
		r.dispatched++
		r.dispatchCond.Broadcast()
		r.dispatchMu.Unlock()
	}()
	for _, h := range hooks {
		h(prev, s)
	}
}

// SetStream records the media stream id attached to callID.
func (r *Registry) SetStream(callID, streamID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callID]
	if !ok {
		return ErrUnknownCall
	}
	s.StreamID = streamID
	return nil
}

// List returns every session, newest first.
func (r *Registry) List() []Session {
	r.mu.RLock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

func maxTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return b
	}
	return a
}
