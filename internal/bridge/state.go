package bridge

// State is the coordinator state of one media session.
type State int

const (
	StateIdle State = iota
	StateAwaitingAIHandshake
	StateConfiguringSession
	StateActive
	StateTerminating
	StateClosed
)

var stateNames = map[State]string{
	StateIdle:                "idle",
	StateAwaitingAIHandshake: "awaiting_ai_handshake",
	StateConfiguringSession:  "configuring_session",
	StateActive:              "active",
	StateTerminating:         "terminating",
	StateClosed:              "closed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// transitions lists every legal move. Any state before Terminating may jump
// straight to it; Closed is final.
var transitions = map[State][]State{
	StateIdle:                {StateAwaitingAIHandshake, StateTerminating},
	StateAwaitingAIHandshake: {StateConfiguringSession, StateTerminating},
	StateConfiguringSession:  {StateActive, StateTerminating},
	StateActive:              {StateTerminating},
	StateTerminating:         {StateClosed},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
