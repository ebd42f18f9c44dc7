package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shuhub/collector/internal/analysis"
	"github.com/shuhub/collector/internal/bridge"
	"github.com/shuhub/collector/internal/calls"
	"github.com/shuhub/collector/internal/conversation"
	"github.com/shuhub/collector/internal/costs"
	"github.com/shuhub/collector/internal/debtor"
	"github.com/shuhub/collector/internal/eventlog"
	"github.com/shuhub/collector/internal/store"
	"github.com/shuhub/collector/internal/telephony"
	"golang.org/x/time/rate"
)

type RouterConfig struct {
	PublicBaseURL string

	// Caller id used when POST /call does not name one
	DefaultFromNumber string

	// Spoken before the media stream connects; empty disables
	Announcement string

	// JWT bearer verification for the operator API. Empty disables auth.
	JWTSecret string

	// Call placement rate limit (calls per second, burst)
	CallRateLimit float64
	CallRateBurst int

	// How long a status fetch may wait on Twilio before local state is served
	StatusFetchTimeout time.Duration
}

// CallProvider places calls and reports their provider-side status.
type CallProvider interface {
	PlaceCall(ctx context.Context, to, from, callbackURL, statusCallbackURL string) (string, error)
	FetchCall(ctx context.Context, callID string) (telephony.CallInfo, error)
}

// MediaServer runs one media session. *bridge.Bridge satisfies it.
type MediaServer interface {
	Serve(ctx context.Context, conn bridge.MediaConn, route bridge.Route) bridge.Outcome
}

// Archive serves calls this process no longer holds in memory.
type Archive interface {
	GetCallDetail(ctx context.Context, callID string) (store.CallDetail, error)
}

// EventLog stores and lists call events. *eventlog.Logger satisfies it.
type EventLog interface {
	LogAsync(callID string, eventType eventlog.EventType, data map[string]any)
	List(ctx context.Context, callID string) ([]eventlog.Event, error)
}

// AnomalyReporter is told about sessions that ended abnormally.
type AnomalyReporter interface {
	SessionAnomaly(callID, subjectID, anomaly string)
}

// Deps are the collaborators the API serves from.
type Deps struct {
	Conversations *conversation.Store
	Calls         *calls.Registry
	Tracker       *calls.Tracker
	Subjects      bridge.SubjectResolver
	Telephony     CallProvider
	Media         MediaServer
	Analyzer      analysis.Analyzer
	Costs         *costs.Calculator
	Archive       Archive         // optional
	Events        EventLog        // optional
	Anomalies     AnomalyReporter // optional
}

type Router struct {
	cfg     RouterConfig
	deps    Deps
	logger  zerolog.Logger
	limiter *rate.Limiter
	mux     *http.ServeMux
}

func NewRouter(cfg RouterConfig, deps Deps, logger zerolog.Logger) http.Handler {
	if cfg.CallRateLimit <= 0 {
		cfg.CallRateLimit = 1
	}
	if cfg.CallRateBurst <= 0 {
		cfg.CallRateBurst = 5
	}
	if cfg.StatusFetchTimeout <= 0 {
		cfg.StatusFetchTimeout = 3 * time.Second
	}
	if deps.Tracker == nil {
		deps.Tracker = calls.NewTracker()
	}

	r := &Router{
		cfg:     cfg,
		deps:    deps,
		logger:  logger.With().Str("component", "httpapi").Logger(),
		limiter: rate.NewLimiter(rate.Limit(cfg.CallRateLimit), cfg.CallRateBurst),
		mux:     http.NewServeMux(),
	}

	r.routes()
	return withSentryRecovery(withRequestID(withCORS(r.mux)))
}

func (r *Router) routes() {
	// Health and metrics
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)
	r.mux.HandleFunc("GET /readyz", r.handleReadyz)
	r.mux.Handle("GET /metrics", promhttp.Handler())

	// Operator API
	r.mux.HandleFunc("POST /call", r.withAuth(r.withRateLimit(r.handlePlaceCall)))
	r.mux.HandleFunc("GET /call/{callId}/status", r.withAuth(r.handleCallStatus))
	r.mux.HandleFunc("POST /call/{callId}/analyze", r.withAuth(r.handleAnalyze))
	r.mux.HandleFunc("GET /call/{callId}/events", r.withAuth(r.handleCallEvents))
	r.mux.HandleFunc("GET /debtors/{subjectId}", r.withAuth(r.handleGetDebtor))
	r.mux.HandleFunc("GET /debug/conversations", r.withAuth(r.handleDebugConversations))

	// Twilio webhooks and media stream (no auth - reached by Twilio only)
	r.mux.HandleFunc("GET /telephony/directive/{subjectId}", r.handleDirective)
	r.mux.HandleFunc("POST /telephony/directive/{subjectId}", r.handleDirective)
	r.mux.HandleFunc("POST /telephony/status", r.handleProviderStatus)
	r.mux.HandleFunc("GET /media/{subjectId}", r.handleMediaWS)
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz fails while draining so the load balancer stops sending calls.
func (r *Router) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if r.deps.Tracker.IsDraining() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":      "draining",
			"activeCalls": r.deps.Tracker.ActiveCount(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ready",
		"activeCalls": r.deps.Tracker.ActiveCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

const requestIDHeader = "X-Request-ID"

// withRequestID tags every response with a request id, reusing the caller's.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id := req.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, req)
	})
}

func nowUTC() time.Time { return time.Now().UTC() }

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}

// resolveSubject is the debtor for subjectID; supplied wins when given.
func (r *Router) resolveSubject(ctx context.Context, subjectID string, supplied *debtor.Context) (debtor.Context, error) {
	subject, err := r.deps.Subjects.Resolve(ctx, subjectID, supplied)
	if err != nil {
		return debtor.Context{}, err
	}
	if subject.ID == "" {
		subject.ID = subjectID
	}
	return subject, nil
}

func (r *Router) logEvent(callID string, t eventlog.EventType, data map[string]any) {
	if r.deps.Events == nil {
		return
	}
	r.deps.Events.LogAsync(callID, t, data)
}
