package calls

import (
	"sync"
	"sync/atomic"
)

// Tracker counts live media sessions and supports graceful draining. When
// draining, new sessions are rejected while in-flight ones finish.
//
// mu makes the draining check and wg.Add atomic in Acquire, so StartDraining
// followed by Wait cannot miss a session that was being admitted.
type Tracker struct {
	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
	count    atomic.Int64
}

// NewTracker creates a new Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Acquire admits a session. It returns false while draining.
func (t *Tracker) Acquire() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.draining {
		return false
	}
	t.wg.Add(1)
	t.count.Add(1)
	return true
}

// Release marks a session as finished. Call exactly once per successful Acquire.
func (t *Tracker) Release() {
	t.count.Add(-1)
	t.wg.Done()
}

// StartDraining makes future Acquire calls fail.
func (t *Tracker) StartDraining() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.draining = true
}

// IsDraining reports whether the tracker is draining.
func (t *Tracker) IsDraining() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.draining
}

// ActiveCount returns the number of live sessions.
func (t *Tracker) ActiveCount() int64 {
	return t.count.Load()
}

// Wait blocks until every acquired session has been released.
func (t *Tracker) Wait() {
	t.wg.Wait()
}
