// Package calls tracks the lifecycle of outbound collection calls.
package calls

import "fmt"

// State is the lifecycle state of a call session.
type State string

const (
	StateInitiated  State = "initiated"
	StateRinging    State = "ringing"
	StateInProgress State = "in-progress"
	StateCompleted  State = "completed"
	StateBusy       State = "busy"
	StateNoAnswer   State = "no-answer"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// rank orders states; every transition has to move to a strictly higher rank.
// All terminal states share the top rank so none can follow another.
var rank = map[State]int{
	StateInitiated:  0,
	StateRinging:    1,
	StateInProgress: 2,
	StateCompleted:  3,
	StateBusy:       3,
	StateNoAnswer:   3,
	StateFailed:     3,
	StateCancelled:  3,
}

// States lists every state in lifecycle order.
func States() []State {
	return []State{
		StateInitiated, StateRinging, StateInProgress,
		StateCompleted, StateBusy, StateNoAnswer, StateFailed, StateCancelled,
	}
}

// Rank is the position of s in the lifecycle. Unknown states rank -1.
func Rank(s State) int {
	if r, ok := rank[s]; ok {
		return r
	}
	return -1
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := rank[s]
	return ok
}

// Terminal reports whether s ends the call.
func (s State) Terminal() bool {
	return rank[s] == 3 && s.Valid()
}

// InvalidTransitionError is returned when a transition would move a call
// backwards or out of a terminal state.
type InvalidTransitionError struct {
	CallID string
	From   State
	To     State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("calls: invalid transition for %s: %s -> %s", e.CallID, e.From, e.To)
}

// CanTransition reports whether a session in from may move to to.
func CanTransition(from, to State) bool {
	if !from.Valid() || !to.Valid() || from.Terminal() {
		return false
	}
	return rank[to] > rank[from]
}
