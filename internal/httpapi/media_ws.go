package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/shuhub/collector/internal/bridge"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleMediaWS accepts Twilio's bidirectional media stream and hands it to
// the bridge for the rest of the call.
func (r *Router) handleMediaWS(w http.ResponseWriter, req *http.Request) {
	subjectID := req.PathValue("subjectId")
	route := bridge.Route{
		SubjectID: subjectID,
		CallID:    req.URL.Query().Get("callSid"),
	}

	if !r.deps.Tracker.Acquire() {
		http.Error(w, `{"error": "server is draining"}`, http.StatusServiceUnavailable)
		return
	}
	defer r.deps.Tracker.Release()

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn().Err(err).Str("subject_id", subjectID).Msg("media upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()

	out := r.deps.Media.Serve(ctx, conn, route)
	r.logger.Info().
		Str("call_id", out.CallID).
		Str("subject_id", subjectID).
		Str("state", string(out.CallState)).
		Str("anomaly", out.Anomaly).
		Int("frames_in", out.FramesIn).
		Int("frames_out", out.FramesOut).
		Int("frames_dropped", out.FramesDropped).
		Msg("media session finished")

	if out.Anomaly != "" && r.deps.Anomalies != nil {
		r.deps.Anomalies.SessionAnomaly(out.CallID, subjectID, out.Anomaly)
	}
}
