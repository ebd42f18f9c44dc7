// Package bridge relays audio between a Twilio media stream and a realtime
// speech model for the duration of one call, and records what was said.
package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shuhub/collector/internal/analysis"
	"github.com/shuhub/collector/internal/calls"
	"github.com/shuhub/collector/internal/conversation"
	"github.com/shuhub/collector/internal/debtor"
	"github.com/shuhub/collector/internal/eventlog"
	"github.com/shuhub/collector/internal/metrics"
	"github.com/shuhub/collector/internal/realtime"
)

// MediaConn is the telephony side of a session. *websocket.Conn satisfies it.
type MediaConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// AISession is the realtime model side of a session. *realtime.Client
// satisfies it.
type AISession interface {
	Events() <-chan realtime.ServerEvent
	Send(v any) error
	Close() error
	Err() error
}

// Dialer opens a realtime model session.
type Dialer func(ctx context.Context) (AISession, error)

// RealtimeDialer dials the OpenAI Realtime API with cfg.
func RealtimeDialer(cfg realtime.Config, logger zerolog.Logger) Dialer {
	return func(ctx context.Context) (AISession, error) {
		c, err := realtime.Dial(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// SubjectResolver returns the debtor a call is about.
type SubjectResolver interface {
	Resolve(ctx context.Context, subjectID string, supplied *debtor.Context) (debtor.Context, error)
}

// HangUpper ends a call at the provider.
type HangUpper interface {
	HangUp(ctx context.Context, callID string) error
}

// EventRecorder stores call events. *eventlog.Logger satisfies it.
type EventRecorder interface {
	LogAsync(callID string, eventType eventlog.EventType, data map[string]any)
}

// AnalysisHook is called after a finished call has been analysed.
type AnalysisHook func(callID string, subject debtor.Context, r analysis.Result)

// Config tunes every session served by a Bridge.
type Config struct {
	Session           realtime.SessionOptions
	MaxCallDuration   time.Duration
	KeepaliveInterval time.Duration
	// PrebufferFrames is how many model audio frames are held while the
	// stream id is unknown. Zero drops them.
	PrebufferFrames   int
	AnalysisTimeout   time.Duration
	// WriteTimeout bounds each write to the media socket.
	WriteTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.Session == (realtime.SessionOptions{}) {
		c.Session = realtime.DefaultSessionOptions()
	}
	if c.MaxCallDuration <= 0 {
		c.MaxCallDuration = 5 * time.Minute
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 30 * time.Second
	}
	if c.PrebufferFrames < 0 {
		c.PrebufferFrames = 0
	}
	if c.AnalysisTimeout <= 0 {
		c.AnalysisTimeout = 45 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	return c
}

// Deps are the collaborators shared by all sessions.
type Deps struct {
	Conversations *conversation.Store
	Calls         *calls.Registry
	Subjects      SubjectResolver
	Dial          Dialer
	HangUp        HangUpper         // optional
	Analyzer      analysis.Analyzer // optional
	Events        EventRecorder     // optional
	OnAnalyzed    AnalysisHook      // optional
	Logger        zerolog.Logger
}

// Route is what the media URL told us about the call.
type Route struct {
	SubjectID string
	CallID    string
}

// Outcome summarizes a finished session.
type Outcome struct {
	CallID        string
	StreamSID     string
	State         State
	CallState     calls.State
	Anomaly       string
	ReachedActive bool
	FramesIn      int
	FramesOut     int
	FramesDropped int
}

// Bridge serves media sessions.
type Bridge struct {
	cfg    Config
	deps   Deps
	logger zerolog.Logger
	now    func() time.Time

	analyses sync.WaitGroup
}

// New creates a Bridge.
func New(cfg Config, deps Deps) *Bridge {
	return &Bridge{
		cfg:    cfg.withDefaults(),
		deps:   deps,
		logger: deps.Logger.With().Str("component", "bridge").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Serve runs one session on conn until it closes. It owns conn and closes it
// before returning.
func (b *Bridge) Serve(ctx context.Context, conn MediaConn, route Route) Outcome {
	metrics.RecordBridgeOpened()
	defer metrics.RecordBridgeClosed()

	s := newSession(b, conn, route)
	return s.run(ctx)
}

// WaitForAnalyses blocks until every scheduled post-call analysis finished.
func (b *Bridge) WaitForAnalyses() {
	b.analyses.Wait()
}

const minMessagesForAnalysis = 2

func (b *Bridge) scheduleAnalysis(callID string, subject debtor.Context) {
	if b.deps.Analyzer == nil || callID == "" {
		return
	}
	snap, ok := b.deps.Conversations.Get(callID)
	if !ok || len(snap.Messages) < minMessagesForAnalysis {
		return
	}

	b.analyses.Add(1)
	go func() {
		defer b.analyses.Done()

		// Use background context since the session context is gone
		ctx, cancel := context.WithTimeout(context.Background(), b.cfg.AnalysisTimeout)
		defer cancel()

		res := b.deps.Analyzer.Analyze(ctx, snap.FullTranscript, subject)
		b.deps.Conversations.AttachAnalysis(callID, res)
		b.logger.Info().
			Str("call_id", callID).
			Int("payment_probability", res.PaymentProbability).
			Bool("degraded", res.Degraded).
			Msg("call analysed")
		b.logEvent(callID, eventlog.EventAnalysisCompleted, map[string]any{
			"payment_probability": res.PaymentProbability,
			"degraded":            res.Degraded,
			"risk_tier":           string(res.RiskTier),
		})
		if b.deps.OnAnalyzed != nil {
			b.deps.OnAnalyzed(callID, subject, res)
		}
	}()
}

func (b *Bridge) logEvent(callID string, t eventlog.EventType, data map[string]any) {
	if b.deps.Events == nil {
		return
	}
	b.deps.Events.LogAsync(callID, t, data)
}
