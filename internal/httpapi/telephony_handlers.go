package httpapi

import (
	"errors"
	"net/http"

	"github.com/shuhub/collector/internal/calls"
	"github.com/shuhub/collector/internal/eventlog"
	"github.com/shuhub/collector/internal/telephony"
)

// drainingMessage is spoken when a call arrives while the server shuts down.
const drainingMessage = "نعتذر، الخدمة غير متاحة حالياً. سنعاود الاتصال بك لاحقاً."

// handleDirective answers Twilio's call webhook with the TwiML that connects
// the answered call to the media bridge.
func (r *Router) handleDirective(w http.ResponseWriter, req *http.Request) {
	subjectID := req.PathValue("subjectId")
	callID := req.FormValue("CallSid")

	var (
		out []byte
		err error
	)
	if r.deps.Tracker.IsDraining() {
		r.logger.Warn().Str("call_id", callID).Msg("draining, hanging up new call")
		out, err = telephony.BuildHangupDirective(drainingMessage, "ar")
	} else {
		out, err = telephony.BuildDirective(telephony.DirectiveParams{
			PublicBaseURL: r.cfg.PublicBaseURL,
			SubjectID:     subjectID,
			CallID:        callID,
			Announcement:  r.cfg.Announcement,
		})
	}
	if err != nil {
		http.Error(w, `{"error": "invalid directive request"}`, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	_, _ = w.Write(out)
}

// handleProviderStatus applies Twilio's status callback to the call session.
// Twilio retries on errors, so the callback is always acknowledged.
func (r *Router) handleProviderStatus(w http.ResponseWriter, req *http.Request) {
	_ = req.ParseForm()
	callID := req.FormValue("CallSid")
	status := req.FormValue("CallStatus") // queued/ringing/in-progress/completed/...

	if callID == "" || status == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	r.logEvent(callID, eventlog.EventProviderStatus, map[string]any{
		"status":   status,
		"duration": req.FormValue("CallDuration"),
	})

	state, ok := telephony.MapProviderStatus(status)
	if !ok {
		r.logger.Debug().Str("call_id", callID).Str("status", status).Msg("unknown provider status")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	_, changed, err := r.deps.Calls.Transition(callID, state, nowUTC())
	var invalid *calls.InvalidTransitionError
	switch {
	case errors.Is(err, calls.ErrUnknownCall):
		r.logger.Debug().Str("call_id", callID).Msg("status for unknown call")
	case errors.As(err, &invalid):
		r.logger.Debug().Str("call_id", callID).Str("from", string(invalid.From)).Str("to", string(invalid.To)).Msg("out-of-order status ignored")
	case err != nil:
		r.logger.Warn().Err(err).Str("call_id", callID).Msg("status transition failed")
	case changed:
		r.logger.Info().Str("call_id", callID).Str("state", string(state)).Msg("call status updated")
	}

	w.WriteHeader(http.StatusNoContent)
}
