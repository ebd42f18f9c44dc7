package store

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shuhub/collector/internal/analysis"
	"github.com/shuhub/collector/internal/calls"
	"github.com/shuhub/collector/internal/conversation"
	"github.com/shuhub/collector/internal/costs"
)

// Writer is the subset of Store the archiver writes through.
type Writer interface {
	UpsertCall(ctx context.Context, c Call) error
	InsertMessage(ctx context.Context, callID string, m conversation.Message) error
	InsertAnalysis(ctx context.Context, callID string, r analysis.Result) error
	RecordCallCosts(ctx context.Context, callID string, durationSeconds int, c costs.CallCosts) error
}

const (
	archiveQueueSize    = 512
	archiveWriteTimeout = 5 * time.Second
)

type archiveJob struct {
	callID string
	op     string
	run    func(ctx context.Context) error
}

// Archiver mirrors the in-memory conversation store and call registry into
// the database. Writes happen on one background goroutine in the order they
// were observed; callers never block on the database.
type Archiver struct {
	w      Writer
	calc   *costs.Calculator
	logger zerolog.Logger

	jobs      chan archiveJob
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewArchiver starts an archiver writing through w. A nil calc skips cost
// records.
func NewArchiver(w Writer, calc *costs.Calculator, logger zerolog.Logger) *Archiver {
	a := &Archiver{
		w:      w,
		calc:   calc,
		logger: logger.With().Str("component", "archive").Logger(),
		jobs:   make(chan archiveJob, archiveQueueSize),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Archiver) run() {
	defer close(a.done)
	for job := range a.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), archiveWriteTimeout)
		if err := job.run(ctx); err != nil {
			a.logger.Error().Err(err).Str("call_id", job.callID).Str("op", job.op).Msg("archive write failed")
		}
		cancel()
	}
}

func (a *Archiver) enqueue(job archiveJob) {
	if a == nil {
		return
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.jobs <- job:
	default:
		a.logger.Warn().Str("call_id", job.callID).Str("op", job.op).Msg("archive queue full, write dropped")
	}
}

// MessageAppended archives a transcript line.
func (a *Archiver) MessageAppended(callID string, m conversation.Message) {
	a.enqueue(archiveJob{callID: callID, op: "message", run: func(ctx context.Context) error {
		return a.w.InsertMessage(ctx, callID, m)
	}})
}

// AnalysisAttached archives an analysis result.
func (a *Archiver) AnalysisAttached(callID string, r analysis.Result) {
	a.enqueue(archiveJob{callID: callID, op: "analysis", run: func(ctx context.Context) error {
		return a.w.InsertAnalysis(ctx, callID, r)
	}})
}

// CallTransitioned archives a call lifecycle change or a newly recorded
// anomaly. It has the shape of a calls.TransitionHook. Entering a terminal
// state also records the cost estimate.
func (a *Archiver) CallTransitioned(prev calls.State, s calls.Session) {
	row := CallFromSession(s)
	a.enqueue(archiveJob{callID: s.CallID, op: "call", run: func(ctx context.Context) error {
		return a.w.UpsertCall(ctx, row)
	}})

	if a == nil || a.calc == nil || !s.State.Terminal() || prev == s.State {
		return
	}
	var answered time.Duration
	if s.AnsweredAt != nil && s.EndedAt != nil && s.EndedAt.After(*s.AnsweredAt) {
		answered = s.EndedAt.Sub(*s.AnsweredAt)
	}
	est := a.calc.Estimate(answered, false)
	secs := int(answered.Round(time.Second) / time.Second)
	a.enqueue(archiveJob{callID: s.CallID, op: "costs", run: func(ctx context.Context) error {
		return a.w.RecordCallCosts(ctx, s.CallID, secs, est)
	}})
}

// Close stops accepting writes and waits for queued ones to finish.
func (a *Archiver) Close() {
	if a == nil {
		return
	}
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.jobs)
		a.mu.Unlock()
	})
	<-a.done
}
