package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shuhub/collector/internal/analysis"
	"github.com/shuhub/collector/internal/calls"
	"github.com/shuhub/collector/internal/conversation"
	"github.com/shuhub/collector/internal/debtor"
	"github.com/shuhub/collector/internal/eventlog"
	"github.com/shuhub/collector/internal/metrics"
	"github.com/shuhub/collector/internal/store"
	"github.com/shuhub/collector/internal/telephony"
)

type placeCallRequest struct {
	PhoneNumber string          `json:"phoneNumber"`
	To          string          `json:"to"` // dashboard alias of phoneNumber
	SubjectID   string          `json:"subjectId"`
	DebtorID    string          `json:"debtorId"` // dashboard alias of subjectId
	From        string          `json:"from"`
	Subject     *debtor.Context `json:"subject"`
}

func (p placeCallRequest) phone() string {
	if p.PhoneNumber != "" {
		return p.PhoneNumber
	}
	return p.To
}

func (p placeCallRequest) subjectID() string {
	if id := strings.TrimSpace(p.SubjectID); id != "" {
		return id
	}
	return strings.TrimSpace(p.DebtorID)
}

func (r *Router) handlePlaceCall(w http.ResponseWriter, req *http.Request) {
	if r.deps.Tracker.IsDraining() {
		http.Error(w, `{"error": "server is draining"}`, http.StatusServiceUnavailable)
		return
	}

	var body placeCallRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid json"}`, http.StatusBadRequest)
		return
	}

	subjectID := body.subjectID()
	if subjectID == "" {
		http.Error(w, `{"error": "subjectId is required"}`, http.StatusBadRequest)
		return
	}
	to, err := telephony.NormalizePhoneNumber(body.phone())
	if err != nil {
		http.Error(w, `{"error": "invalid phone number"}`, http.StatusBadRequest)
		return
	}
	from := r.cfg.DefaultFromNumber
	if body.From != "" {
		from = body.From
	}
	if from, err = telephony.NormalizePhoneNumber(from); err != nil {
		http.Error(w, `{"error": "invalid or missing caller number"}`, http.StatusBadRequest)
		return
	}

	// Resolving first caches a supplied payload for the directive and media
	// requests that follow.
	subject, err := r.resolveSubject(req.Context(), subjectID, body.Subject)
	if err != nil {
		http.Error(w, `{"error": "invalid subject"}`, http.StatusBadRequest)
		return
	}

	base := strings.TrimRight(r.cfg.PublicBaseURL, "/")
	callbackURL := base + "/telephony/directive/" + url.PathEscape(subjectID)
	statusURL := base + "/telephony/status"

	callID, err := r.deps.Telephony.PlaceCall(req.Context(), to, from, callbackURL, statusURL)
	if err != nil {
		metrics.CallsPlaced.WithLabelValues("error").Inc()
		captureError(req, err, "place call failed")
		r.logger.Error().Err(err).Str("subject_id", subjectID).Msg("place call failed")

		var perr *telephony.ProviderError
		switch {
		case errors.As(err, &perr):
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"error":        "provider rejected call",
				"providerCode": perr.Code,
				"message":      perr.Message,
			})
		case errors.Is(err, telephony.ErrProviderUnreachable):
			writeError(w, http.StatusBadGateway, "provider unreachable")
		default:
			writeError(w, http.StatusBadGateway, "call placement failed")
		}
		return
	}
	metrics.CallsPlaced.WithLabelValues("placed").Inc()

	r.deps.Calls.Create(calls.Session{
		CallID:    callID,
		SubjectID: subjectID,
		Subject:   subject,
		To:        to,
		From:      from,
		State:     calls.StateInitiated,
		StartedAt: nowUTC(),
	})
	r.logEvent(callID, eventlog.EventCallPlaced, map[string]any{
		"subject_id": subjectID,
		"to":         to,
	})
	r.logger.Info().Str("call_id", callID).Str("subject_id", subjectID).Msg("call placed")

	writeJSON(w, http.StatusOK, map[string]string{"callId": callID})
}

type callStatusResponse struct {
	CallID             string                 `json:"callId"`
	SubjectID          string                 `json:"subjectId,omitempty"`
	State              calls.State            `json:"state"`
	Duration           int                    `json:"duration"`
	StartedAt          *time.Time             `json:"startedAt,omitempty"`
	EndedAt            *time.Time             `json:"endedAt,omitempty"`
	Conversation       []conversation.Message `json:"conversation"`
	FullTranscript     string                 `json:"fullTranscript"`
	HasRealData        bool                   `json:"hasRealData"`
	Analysis           *analysis.Result       `json:"analysis,omitempty"`
	Anomaly            string                 `json:"anomaly,omitempty"`
	Stale              bool                   `json:"stale"`
	Archived           bool                   `json:"archived,omitempty"`
	EstimatedCostCents int                    `json:"estimatedCostCents"`
}

// handleCallStatus merges Twilio's view of a call with the local session and
// its conversation. When Twilio cannot be reached the local state is served
// and flagged stale.
func (r *Router) handleCallStatus(w http.ResponseWriter, req *http.Request) {
	callID := req.PathValue("callId")
	session, known := r.deps.Calls.Get(callID)

	if !known {
		if detail, ok := r.archivedCall(req.Context(), callID); ok {
			writeJSON(w, http.StatusOK, r.archivedStatus(detail))
			return
		}
	}

	ctx, cancel := context.WithTimeout(req.Context(), r.cfg.StatusFetchTimeout)
	info, fetchErr := r.deps.Telephony.FetchCall(ctx, callID)
	cancel()

	snap, hasConversation := r.deps.Conversations.Get(callID)

	var providerDuration time.Duration
	switch {
	case fetchErr != nil:
		r.logger.Warn().Err(fetchErr).Str("call_id", callID).Msg("provider status unavailable, serving local state")
		if !known && !hasConversation {
			writeError(w, http.StatusNotFound, "call not found")
			return
		}
	case known:
		session = r.mergeProviderStatus(session, info)
		providerDuration = info.Duration
	default:
		// Not placed by this process; report Twilio's view as is.
		state, _ := telephony.MapProviderStatus(info.Status)
		session = calls.Session{CallID: callID, State: state, EndedAt: info.EndTime}
		if info.StartTime != nil {
			session.StartedAt = *info.StartTime
		}
		providerDuration = info.Duration
	}
	if !hasConversation {
		snap = conversation.Snapshot{CallID: callID, Messages: []conversation.Message{}}
	}

	now := nowUTC()
	var duration time.Duration
	if !session.StartedAt.IsZero() {
		duration = session.Duration(now)
	}
	if providerDuration > 0 {
		duration = providerDuration
	}

	resp := callStatusResponse{
		CallID:         callID,
		SubjectID:      session.SubjectID,
		State:          session.State,
		Duration:       int(duration.Round(time.Second) / time.Second),
		EndedAt:        session.EndedAt,
		Conversation:   snap.Messages,
		FullTranscript: snap.FullTranscript,
		HasRealData:    len(snap.Messages) > 0,
		Anomaly:        session.Anomaly,
		Stale:          fetchErr != nil,
	}
	if !session.StartedAt.IsZero() {
		started := session.StartedAt
		resp.StartedAt = &started
	}
	latest, analyzed := snap.LatestAnalysis()
	if analyzed {
		resp.Analysis = &latest
	}
	if r.deps.Costs != nil {
		resp.EstimatedCostCents = r.deps.Costs.Estimate(billableDuration(session, now), analyzed).TotalCostCents
	}

	writeJSON(w, http.StatusOK, resp)
}

// mergeProviderStatus applies Twilio's status to the session. Stale or
// out-of-order provider states never move the session backwards.
func (r *Router) mergeProviderStatus(s calls.Session, info telephony.CallInfo) calls.Session {
	state, ok := telephony.MapProviderStatus(info.Status)
	if !ok || state == s.State {
		return s
	}
	at := nowUTC()
	if state.Terminal() && info.EndTime != nil {
		at = *info.EndTime
	}
	updated, _, err := r.deps.Calls.Transition(s.CallID, state, at)
	if err != nil {
		r.logger.Debug().Err(err).Str("call_id", s.CallID).Msg("provider status not applied")
		return s
	}
	return updated
}

// billableDuration is the answered part of the call.
func billableDuration(s calls.Session, now time.Time) time.Duration {
	if s.AnsweredAt == nil {
		return 0
	}
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	if end.Before(*s.AnsweredAt) {
		return 0
	}
	return end.Sub(*s.AnsweredAt)
}

func (r *Router) archivedCall(ctx context.Context, callID string) (store.CallDetail, bool) {
	if r.deps.Archive == nil {
		return store.CallDetail{}, false
	}
	detail, err := r.deps.Archive.GetCallDetail(ctx, callID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.logger.Warn().Err(err).Str("call_id", callID).Msg("archive lookup failed")
		}
		return store.CallDetail{}, false
	}
	return detail, true
}

func (r *Router) archivedStatus(d store.CallDetail) callStatusResponse {
	s := d.Call.Session()
	msgs := d.Messages
	if msgs == nil {
		msgs = []conversation.Message{}
	}
	var transcript strings.Builder
	for _, m := range msgs {
		transcript.WriteString(conversation.TranscriptLine(m))
	}

	now := nowUTC()
	started := s.StartedAt
	resp := callStatusResponse{
		CallID:         s.CallID,
		SubjectID:      s.SubjectID,
		State:          s.State,
		Duration:       int(s.Duration(now).Round(time.Second) / time.Second),
		StartedAt:      &started,
		EndedAt:        s.EndedAt,
		Conversation:   msgs,
		FullTranscript: transcript.String(),
		HasRealData:    len(msgs) > 0,
		Anomaly:        s.Anomaly,
		Archived:       true,
	}
	if n := len(d.Analyses); n > 0 {
		latest := d.Analyses[n-1]
		resp.Analysis = &latest
	}
	switch {
	case d.Costs != nil:
		resp.EstimatedCostCents = d.Costs.TotalCostCents
	case r.deps.Costs != nil:
		resp.EstimatedCostCents = r.deps.Costs.Estimate(billableDuration(s, now), resp.Analysis != nil).TotalCostCents
	}
	return resp
}

type analyzeRequest struct {
	Transcript string          `json:"transcript"`
	Subject    *debtor.Context `json:"subject"`
	DebtorData *debtor.Context `json:"debtorData"` // dashboard alias of subject
}

// handleAnalyze runs the analyzer on the call's transcript, or on a transcript
// supplied in the body. It always answers with a result once the call or a
// transcript is known; an empty conversation gets the fallback analysis.
func (r *Router) handleAnalyze(w http.ResponseWriter, req *http.Request) {
	callID := req.PathValue("callId")

	// The body is optional
	var body analyzeRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, `{"error": "invalid json"}`, http.StatusBadRequest)
		return
	}

	session, known := r.deps.Calls.Get(callID)
	snap, hasConversation := r.deps.Conversations.Get(callID)
	transcript := strings.TrimSpace(body.Transcript)
	if transcript == "" {
		transcript = strings.TrimSpace(snap.FullTranscript)
	}
	if !known && !hasConversation && transcript == "" {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}

	var subject debtor.Context
	switch {
	case body.Subject != nil:
		subject = *body.Subject
	case body.DebtorData != nil:
		subject = *body.DebtorData
	case known:
		subject = session.Subject
	}

	var res analysis.Result
	if transcript == "" || r.deps.Analyzer == nil {
		res = analysis.Fallback(subject)
	} else {
		res = r.deps.Analyzer.Analyze(req.Context(), transcript, subject)
	}

	if known || hasConversation {
		r.deps.Conversations.AttachAnalysis(callID, res)
	}
	r.logEvent(callID, eventlog.EventAnalysisCompleted, map[string]any{
		"payment_probability": res.PaymentProbability,
		"degraded":            res.Degraded,
		"on_demand":           true,
	})

	writeJSON(w, http.StatusOK, res)
}

func (r *Router) handleCallEvents(w http.ResponseWriter, req *http.Request) {
	callID := req.PathValue("callId")
	if r.deps.Events == nil {
		writeJSON(w, http.StatusOK, map[string]any{"callId": callID, "events": []eventlog.Event{}})
		return
	}
	events, err := r.deps.Events.List(req.Context(), callID)
	if err != nil {
		captureError(req, err, "list call events failed")
		http.Error(w, `{"error": "failed to list events"}`, http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []eventlog.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"callId": callID, "events": events})
}

func (r *Router) handleGetDebtor(w http.ResponseWriter, req *http.Request) {
	subject, err := r.resolveSubject(req.Context(), req.PathValue("subjectId"), nil)
	if err != nil {
		http.Error(w, `{"error": "invalid subject"}`, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"debtor": subject,
		"policy": subject.Policy(),
	})
}

func (r *Router) handleDebugConversations(w http.ResponseWriter, _ *http.Request) {
	list := r.deps.Conversations.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"totalConversations": len(list),
		"conversations":      list,
	})
}
