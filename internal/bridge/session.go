package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shuhub/collector/internal/calls"
	"github.com/shuhub/collector/internal/conversation"
	"github.com/shuhub/collector/internal/debtor"
	"github.com/shuhub/collector/internal/eventlog"
	"github.com/shuhub/collector/internal/metrics"
	"github.com/shuhub/collector/internal/realtime"
)

// Anomaly reasons.
const (
	AnomalyAIDialFailed    = "ai_dial_failed"
	AnomalyAISendFailed    = "ai_send_failed"
	AnomalyAIClosed        = "ai_socket_closed"
	AnomalyTelephonyClosed = "telephony_socket_closed"
	AnomalyMaxDuration     = "max_duration"
	AnomalyMissingSubject  = "missing_subject"
	AnomalyShutdown        = "shutdown"
)

const (
	hangUpTimeout       = 5 * time.Second
	controlWriteTimeout = 5 * time.Second

	reasonStreamStopped     = "stream stopped"
	reasonTelephonyClosed   = "telephony socket closed"
	reasonTelephonyStalled  = "telephony socket stalled"
	reasonAIClosed          = "ai socket closed"
	reasonMaxDuration       = "max call duration reached"
	reasonAIUnavailable     = "ai unavailable"
	reasonServerShutdown    = "server shutdown"
	reasonSubjectUnresolved = "subject unresolved"
)

// idSource ranks where the call id came from. Lower values are consulted
// only when nothing better is known.
type idSource int

const (
	idNone idSource = iota
	idStreamSid
	idCustomParam
	idStartCallSid
	idRouted
)

type mediaFrame struct {
	data []byte
	err  error
}

type dialResult struct {
	ai  AISession
	err error
}

type pendingMessage struct {
	speaker conversation.Speaker
	text    string
	at      time.Time
}

type session struct {
	b      *Bridge
	conn   MediaConn
	route  Route
	logger zerolog.Logger

	state     State
	callID    string
	idSource  idSource
	streamSid string

	subject      debtor.Context
	subjectReady bool

	ai            AISession
	aiEvents      <-chan realtime.ServerEvent
	reachedActive bool

	pending       []pendingMessage
	prebuffer     []string
	textBuf       strings.Builder
	transcriptBuf strings.Builder

	anomaly    string
	stopReason string

	framesIn, framesOut, dropped int
}

func newSession(b *Bridge, conn MediaConn, route Route) *session {
	return &session{
		b:      b,
		conn:   conn,
		route:  route,
		logger: b.logger.With().Str("subject_id", route.SubjectID).Logger(),
		state:  StateIdle,
	}
}

func (s *session) run(ctx context.Context) Outcome {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := make(chan mediaFrame, 16)
	go s.readMedia(ctx, frames)

	if s.route.CallID != "" {
		s.adoptCallID(s.route.CallID, idRouted)
	}
	if s.route.SubjectID != "" {
		s.resolveSubject(ctx, s.route.SubjectID)
	}

	s.transition(StateAwaitingAIHandshake)
	dialed := make(chan dialResult, 1)
	go func(ch chan<- dialResult) {
		ai, err := s.b.deps.Dial(ctx)
		ch <- dialResult{ai: ai, err: err}
	}(dialed)

	keepalive := time.NewTicker(s.b.cfg.KeepaliveInterval)
	defer keepalive.Stop()
	deadline := time.NewTimer(s.b.cfg.MaxCallDuration)
	defer deadline.Stop()

	for s.state < StateTerminating {
		select {
		case <-ctx.Done():
			s.terminate(AnomalyShutdown, reasonServerShutdown)

		case f := <-frames:
			if f.err != nil {
				s.onTelephonyClosed(f.err)
				continue
			}
			s.handleTelephony(ctx, f.data)

		case r := <-dialed:
			dialed = nil
			s.onDialed(r)

		case ev, ok := <-s.aiEvents:
			if !ok {
				s.aiEvents = nil
				s.onAIClosed()
				continue
			}
			s.handleAI(ev)

		case <-keepalive.C:
			s.ping()

		case <-deadline.C:
			s.onMaxDuration()
		}
	}

	if dialed != nil {
		// The dial is still in flight; make sure a late session is not leaked.
		go func(ch <-chan dialResult) {
			if r := <-ch; r.ai != nil {
				_ = r.ai.Close()
			}
		}(dialed)
	}

	return s.shutdown()
}

func (s *session) readMedia(ctx context.Context, out chan<- mediaFrame) {
	for {
		_, data, err := s.conn.ReadMessage()
		select {
		case out <- mediaFrame{data: data, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *session) transition(to State) bool {
	from := s.state
	if !canTransition(from, to) {
		s.logger.Error().Str("from", from.String()).Str("to", to.String()).Msg("illegal bridge transition rejected")
		return false
	}
	s.state = to
	metrics.BridgeTransitions.WithLabelValues(from.String(), to.String()).Inc()
	s.logger.Debug().Str("from", from.String()).Str("to", to.String()).Msg("bridge transition")
	s.b.logEvent(s.callID, eventlog.EventBridgeTransition, map[string]any{
		"from": from.String(),
		"to":   to.String(),
	})
	return true
}

func (s *session) terminate(anomaly, reason string) {
	if s.state >= StateTerminating {
		return
	}
	if anomaly != "" && s.anomaly == "" {
		s.anomaly = anomaly
	}
	s.stopReason = reason
	s.transition(StateTerminating)
}

// adoptCallID keys the session by id. The first id adopted wins; callers
// offer candidates in priority order.
func (s *session) adoptCallID(id string, src idSource) {
	if id == "" {
		return
	}
	if s.callID != "" {
		if id != s.callID {
			s.logger.Debug().Str("kept", s.callID).Str("ignored", id).Msg("call id mismatch")
		}
		return
	}
	s.callID = id
	s.idSource = src
	s.logger = s.logger.With().Str("call_id", id).Logger()
	s.b.deps.Conversations.GetOrCreate(id)

	if len(s.pending) > 0 {
		for _, m := range s.pending {
			s.b.deps.Conversations.Append(id, m.speaker, m.text, m.at)
		}
		s.logger.Info().Int("messages", len(s.pending)).Msg("flushed transcript held before call id was known")
		s.pending = nil
	}
}

func (s *session) resolveSubject(ctx context.Context, subjectID string) {
	if s.subjectReady || s.b.deps.Subjects == nil {
		return
	}
	subject, err := s.b.deps.Subjects.Resolve(ctx, subjectID, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("subject_id", subjectID).Msg("failed to resolve subject")
		return
	}
	if subject.ID == "" {
		subject.ID = subjectID
	}
	s.subject = subject
	s.subjectReady = true
}

// ensureCall makes sure the call registry knows this call; calls placed from
// the console outside the API show up here first.
func (s *session) ensureCall() {
	if s.callID == "" {
		return
	}
	reg := s.b.deps.Calls
	if _, ok := reg.Get(s.callID); !ok {
		reg.Create(calls.Session{
			CallID:    s.callID,
			SubjectID: s.subject.ID,
			Subject:   s.subject,
			StartedAt: s.b.now(),
		})
	}
}

func (s *session) handleTelephony(ctx context.Context, data []byte) {
	var msg twilioMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn().Err(err).Msg("failed to parse media message")
		return
	}

	switch msg.Event {
	case "connected":
		s.logger.Debug().Msg("twilio connected")

	case "start":
		s.onStart(ctx, msg)

	case "media":
		s.onMedia(msg.Media)

	case "stop":
		s.logger.Info().Msg("stream stopped")
		s.b.logEvent(s.callID, eventlog.EventStreamStopped, nil)
		s.terminate("", reasonStreamStopped)

	case "mark":
		// Playback markers carry no state.
	}
}

func (s *session) onStart(ctx context.Context, msg twilioMessage) {
	start := msg.Start
	if start == nil {
		s.logger.Warn().Msg("start event without payload")
		return
	}

	s.streamSid = start.StreamSid
	if s.streamSid == "" {
		s.streamSid = msg.StreamSid
	}

	s.adoptCallID(start.CallSid, idStartCallSid)
	s.adoptCallID(start.CustomParams["callSid"], idCustomParam)
	s.adoptCallID(s.streamSid, idStreamSid)

	if !s.subjectReady {
		if id := start.CustomParams["subjectId"]; id != "" {
			s.resolveSubject(ctx, id)
		}
	}
	if !s.subjectReady {
		s.terminate(AnomalyMissingSubject, reasonSubjectUnresolved)
		return
	}

	s.ensureCall()
	if s.callID != "" {
		_ = s.b.deps.Calls.SetStream(s.callID, s.streamSid)
		if _, _, err := s.b.deps.Calls.Transition(s.callID, calls.StateInProgress, s.b.now()); err != nil {
			s.logger.Debug().Err(err).Msg("call not moved to in-progress")
		}
	}

	s.logger.Info().Str("stream_sid", s.streamSid).Msg("stream started")
	s.b.logEvent(s.callID, eventlog.EventStreamStarted, map[string]any{
		"stream_sid": s.streamSid,
		"subject_id": s.subject.ID,
	})

	for _, payload := range s.prebuffer {
		s.sendAudio(payload)
	}
	s.prebuffer = nil

	s.maybeConfigure()
}

func (s *session) onMedia(media *twilioMedia) {
	if media == nil {
		return
	}
	if s.state != StateActive || s.ai == nil {
		s.dropped++
		metrics.FramesDropped.WithLabelValues("inbound", "not_active").Inc()
		return
	}
	if err := s.ai.Send(realtime.NewAudioAppend(media.Payload)); err != nil {
		s.dropped++
		metrics.FramesDropped.WithLabelValues("inbound", "send_failed").Inc()
		s.logger.Warn().Err(err).Msg("failed to forward caller audio")
		s.terminate(AnomalyAISendFailed, reasonAIUnavailable)
		return
	}
	s.framesIn++
	metrics.FramesRelayed.WithLabelValues("inbound").Inc()
}

func (s *session) onDialed(r dialResult) {
	if r.err != nil {
		s.logger.Error().Err(r.err).Msg("failed to connect to realtime model")
		sentry.CaptureException(fmt.Errorf("bridge: realtime dial: %w", r.err))
		s.terminate(AnomalyAIDialFailed, reasonAIUnavailable)
		return
	}
	s.ai = r.ai
	s.aiEvents = r.ai.Events()
	s.logger.Info().Msg("realtime model connected")
	s.b.logEvent(s.callID, eventlog.EventAIConnected, nil)
	s.maybeConfigure()
}

// maybeConfigure sends the session configuration once both the model socket
// and the subject are available.
func (s *session) maybeConfigure() {
	if s.state != StateAwaitingAIHandshake || s.ai == nil || !s.subjectReady {
		return
	}
	update := realtime.NewSessionUpdate(realtime.PhoneSession(debtor.Instructions(s.subject), s.b.cfg.Session))
	if err := s.ai.Send(update); err != nil {
		s.logger.Error().Err(err).Msg("failed to send session configuration")
		s.terminate(AnomalyAISendFailed, reasonAIUnavailable)
		return
	}
	s.transition(StateConfiguringSession)
}

func (s *session) handleAI(ev realtime.ServerEvent) {
	switch ev.Type {
	case realtime.EventSessionCreated:
		s.logger.Debug().Msg("realtime session created")

	case realtime.EventSessionUpdated:
		if s.state != StateConfiguringSession {
			return
		}
		if err := s.ai.Send(realtime.NewTextItem(debtor.GreetingInstruction(s.subject))); err != nil {
			s.terminate(AnomalyAISendFailed, reasonAIUnavailable)
			return
		}
		if err := s.ai.Send(realtime.NewResponseCreate()); err != nil {
			s.terminate(AnomalyAISendFailed, reasonAIUnavailable)
			return
		}
		if s.transition(StateActive) {
			s.reachedActive = true
		}

	case realtime.EventResponseAudioDelta:
		s.sendAudio(ev.Delta)

	case realtime.EventResponseTextDelta:
		s.textBuf.WriteString(ev.Delta)

	case realtime.EventResponseTextDone:
		text := ev.Text
		if text == "" {
			text = s.textBuf.String()
		}
		s.textBuf.Reset()
		s.record(conversation.SpeakerAI, text)

	case realtime.EventResponseAudioTranscriptDelta:
		s.transcriptBuf.WriteString(ev.Delta)

	case realtime.EventResponseAudioTranscriptDone:
		text := ev.Transcript
		if text == "" {
			text = s.transcriptBuf.String()
		}
		s.transcriptBuf.Reset()
		s.record(conversation.SpeakerAI, text)

	case realtime.EventInputTranscriptionCompleted:
		s.record(conversation.SpeakerSubject, ev.Transcript)

	case realtime.EventSpeechStarted:
		if s.streamSid != "" {
			s.writeJSON(twilioClear{Event: "clear", StreamSid: s.streamSid})
			s.b.logEvent(s.callID, eventlog.EventBargeIn, nil)
		}

	case realtime.EventError:
		msg := "unknown"
		if ev.Error != nil {
			msg = ev.Error.Error()
		}
		s.logger.Warn().Str("error", msg).Msg("realtime model reported an error")
		s.b.logEvent(s.callID, eventlog.EventAIError, map[string]any{"message": msg})
	}
}

func (s *session) record(speaker conversation.Speaker, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if s.callID == "" {
		s.pending = append(s.pending, pendingMessage{speaker: speaker, text: text, at: s.b.now()})
		return
	}
	s.b.deps.Conversations.Append(s.callID, speaker, text, s.b.now())
}

func (s *session) sendAudio(payload string) {
	if s.streamSid == "" {
		if len(s.prebuffer) < s.b.cfg.PrebufferFrames {
			s.prebuffer = append(s.prebuffer, payload)
			return
		}
		s.dropped++
		metrics.FramesDropped.WithLabelValues("outbound", "no_stream").Inc()
		return
	}
	if s.writeJSON(twilioOutboundMedia{
		Event:     "media",
		StreamSid: s.streamSid,
		Media:     twilioOutboundBody{Payload: payload},
	}) {
		s.framesOut++
		metrics.FramesRelayed.WithLabelValues("outbound").Inc()
	}
}

func (s *session) writeJSON(v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		return false
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.b.cfg.WriteTimeout)); err != nil {
		s.logger.Debug().Err(err).Msg("failed to set media write deadline")
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			s.logger.Warn().Err(err).Msg("media socket stopped reading")
			s.terminate(AnomalyTelephonyClosed, reasonTelephonyStalled)
			return false
		}
		s.logger.Debug().Err(err).Msg("failed to write to media socket")
		return false
	}
	return true
}

func (s *session) ping() {
	if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(controlWriteTimeout)); err != nil {
		s.logger.Debug().Err(err).Msg("keepalive ping failed")
	}
}

func (s *session) onTelephonyClosed(err error) {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.logger.Info().Msg("media socket closed")
		s.terminate("", reasonTelephonyClosed)
		return
	}
	s.logger.Warn().Err(err).Msg("media socket failed")
	s.terminate(AnomalyTelephonyClosed, reasonTelephonyClosed)
}

func (s *session) onAIClosed() {
	err := s.ai.Err()
	if err == nil {
		err = errors.New("closed by peer")
	}
	s.logger.Warn().Err(err).Str("state", s.state.String()).Msg("realtime socket closed")
	s.terminate(AnomalyAIClosed, reasonAIClosed)
}

func (s *session) onMaxDuration() {
	s.logger.Warn().Dur("limit", s.b.cfg.MaxCallDuration).Msg("max call duration reached")
	s.b.logEvent(s.callID, eventlog.EventMaxDuration, map[string]any{
		"limit_seconds": s.b.cfg.MaxCallDuration.Seconds(),
	})
	s.terminate(AnomalyMaxDuration, reasonMaxDuration)

	// A stream sid is not a call sid; there is nothing to hang up.
	if s.b.deps.HangUp == nil || s.idSource <= idStreamSid {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), hangUpTimeout)
	defer cancel()
	if err := s.b.deps.HangUp.HangUp(ctx, s.callID); err != nil {
		s.logger.Error().Err(err).Msg("failed to hang up call")
		return
	}
	s.b.logEvent(s.callID, eventlog.EventCallHangup, map[string]any{"reason": AnomalyMaxDuration})
}

func (s *session) shutdown() Outcome {
	if s.ai != nil {
		_ = s.ai.Close()
	}
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = s.conn.Close()

	if s.callID == "" && len(s.pending) > 0 {
		s.logger.Warn().Int("messages", len(s.pending)).Msg("call id never resolved, transcript discarded")
	}

	out := Outcome{
		CallID:        s.callID,
		StreamSID:     s.streamSid,
		Anomaly:       s.anomaly,
		ReachedActive: s.reachedActive,
		FramesIn:      s.framesIn,
		FramesOut:     s.framesOut,
		FramesDropped: s.dropped,
	}

	if s.callID != "" {
		s.ensureCall()
		if s.anomaly != "" {
			_ = s.b.deps.Calls.MarkAnomaly(s.callID, s.anomaly)
		}
		final := calls.StateCompleted
		if !s.reachedActive {
			final = calls.StateFailed
		}
		if sess, _, err := s.b.deps.Calls.Transition(s.callID, final, s.b.now()); err != nil {
			s.logger.Debug().Err(err).Str("kept", string(sess.State)).Msg("call state left as reported by provider")
			out.CallState = sess.State
		} else {
			out.CallState = final
		}
	}

	if s.anomaly != "" {
		metrics.SessionAnomalies.WithLabelValues(s.anomaly).Inc()
		s.b.logEvent(s.callID, eventlog.EventSessionAnomaly, map[string]any{
			"reason":         s.anomaly,
			"reached_active": s.reachedActive,
		})
	}
	if s.dropped > 0 {
		s.b.logEvent(s.callID, eventlog.EventFramesDropped, map[string]any{"count": s.dropped})
	}
	s.b.logEvent(s.callID, eventlog.EventCallEnded, map[string]any{
		"reason":     s.stopReason,
		"frames_in":  s.framesIn,
		"frames_out": s.framesOut,
	})

	s.transition(StateClosed)
	out.State = s.state

	s.logger.Info().
		Str("reason", s.stopReason).
		Str("anomaly", s.anomaly).
		Int("frames_in", s.framesIn).
		Int("frames_out", s.framesOut).
		Int("frames_dropped", s.dropped).
		Msg("session closed")

	s.b.scheduleAnalysis(s.callID, s.subject)
	return out
}
