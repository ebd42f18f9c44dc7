package telephony

import (
	"strings"

	"github.com/shuhub/collector/internal/calls"
)

// MapProviderStatus converts a Twilio CallStatus into a call state. ok is
// false for values Twilio does not document.
func MapProviderStatus(status string) (calls.State, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "queued", "initiated":
		return calls.StateInitiated, true
	case "ringing":
		return calls.StateRinging, true
	case "in-progress", "answered":
		return calls.StateInProgress, true
	case "completed":
		return calls.StateCompleted, true
	case "busy":
		return calls.StateBusy, true
	case "no-answer":
		return calls.StateNoAnswer, true
	case "failed":
		return calls.StateFailed, true
	case "canceled", "cancelled":
		return calls.StateCancelled, true
	default:
		return "", false
	}
}
