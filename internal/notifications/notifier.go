// Package notifications tells supervisors and debtors how a call went.
package notifications

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shuhub/collector/internal/analysis"
	"github.com/shuhub/collector/internal/debtor"
	"github.com/shuhub/collector/internal/telephony"
)

// CallNotification is the outcome of an analysed call.
type CallNotification struct {
	CallID             string
	SubjectID          string
	SubjectName        string
	PaymentProbability int
	RiskTier           debtor.RiskTier
	Degraded           bool
	TopRecommendation  string
}

// NewCallNotification summarizes r for callID.
func NewCallNotification(callID string, subject debtor.Context, r analysis.Result) CallNotification {
	n := CallNotification{
		CallID:             callID,
		SubjectID:          subject.ID,
		SubjectName:        subject.Name,
		PaymentProbability: r.PaymentProbability,
		RiskTier:           r.RiskTier,
		Degraded:           r.Degraded,
	}
	if len(r.Recommendations) > 0 {
		n.TopRecommendation = r.Recommendations[0]
	}
	return n
}

// Pusher sends a push notification to one device.
type Pusher interface {
	SendAnalysisNotification(deviceToken string, n CallNotification) error
}

// Poster posts to the team channel.
type Poster interface {
	NotifyCallAnalyzed(ctx context.Context, n CallNotification)
	NotifySessionAnomaly(ctx context.Context, callID, subjectID, anomaly string)
}

// Texter sends SMS reminders.
type Texter interface {
	SendPaymentReminder(ctx context.Context, to string, subject debtor.Context) error
}

// Config selects who hears about a call.
type Config struct {
	// SupervisorDeviceTokens receive a push for every analysed call.
	SupervisorDeviceTokens []string
	// ReminderThreshold is the payment probability at or above which the
	// debtor gets an SMS reminder. Zero disables reminders.
	ReminderThreshold int
}

// Notifier fans call outcomes out to every configured channel. Nil channels
// are skipped.
type Notifier struct {
	cfg    Config
	push   Pusher
	post   Poster
	text   Texter
	logger zerolog.Logger
}

// New creates a notifier.
func New(cfg Config, push Pusher, post Poster, text Texter, logger zerolog.Logger) *Notifier {
	return &Notifier{
		cfg:    cfg,
		push:   push,
		post:   post,
		text:   text,
		logger: logger.With().Str("component", "notifications").Logger(),
	}
}

// CallAnalyzed reports an analysed call. It has the shape of a bridge
// analysis hook.
func (n *Notifier) CallAnalyzed(callID string, subject debtor.Context, r analysis.Result) {
	if n == nil {
		return
	}
	note := NewCallNotification(callID, subject, r)

	if n.post != nil {
		n.post.NotifyCallAnalyzed(context.Background(), note)
	}

	if n.push != nil {
		for _, tok := range n.cfg.SupervisorDeviceTokens {
			if err := n.push.SendAnalysisNotification(tok, note); err != nil {
				n.logger.Warn().Err(err).Str("call_id", callID).Msg("supervisor push failed")
			}
		}
	}

	n.maybeRemind(callID, subject, r)
}

func (n *Notifier) maybeRemind(callID string, subject debtor.Context, r analysis.Result) {
	if n.text == nil || n.cfg.ReminderThreshold <= 0 || r.Degraded {
		return
	}
	if r.PaymentProbability < n.cfg.ReminderThreshold {
		return
	}
	to, err := telephony.NormalizePhoneNumber(subject.Phone)
	if err != nil {
		n.logger.Debug().Str("call_id", callID).Msg("no valid debtor phone, reminder skipped")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := n.text.SendPaymentReminder(ctx, to, subject); err != nil {
		n.logger.Warn().Err(err).Str("call_id", callID).Msg("payment reminder failed")
		return
	}
	n.logger.Info().Str("call_id", callID).Int("payment_probability", r.PaymentProbability).Msg("payment reminder sent")
}

// SessionAnomaly reports a call that ended abnormally.
func (n *Notifier) SessionAnomaly(callID, subjectID, anomaly string) {
	if n == nil || n.post == nil || anomaly == "" {
		return
	}
	n.post.NotifySessionAnomaly(context.Background(), callID, subjectID, anomaly)
}
