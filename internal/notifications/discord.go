package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Discord is a simple Discord webhook notifier for the collections team
// channel.
type Discord struct {
	webhookURL string
	logger     zerolog.Logger
	client     *http.Client
	wg         sync.WaitGroup
}

// NewDiscord creates a new Discord notifier. If webhookURL is empty,
// notifications are silently skipped.
func NewDiscord(webhookURL string, logger zerolog.Logger) *Discord {
	return &Discord{
		webhookURL: webhookURL,
		logger:     logger.With().Str("component", "discord").Logger(),
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled returns true if the webhook is configured.
func (d *Discord) Enabled() bool {
	return d != nil && d.webhookURL != ""
}

// discordMessage is the payload for Discord webhook.
type discordMessage struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

type discordEmbed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []embedField `json:"fields,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// send posts a message to Discord webhook asynchronously.
// Errors are logged but don't affect caller.
func (d *Discord) send(ctx context.Context, msg discordMessage) {
	if !d.Enabled() {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		body, err := json.Marshal(msg)
		if err != nil {
			d.logger.Error().Err(err).Msg("failed to marshal message")
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
		if err != nil {
			d.logger.Error().Err(err).Msg("failed to create request")
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			d.logger.Warn().Err(err).Msg("failed to send webhook")
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			d.logger.Warn().Int("status", resp.StatusCode).Msg("webhook rejected")
		}
	}()
}

// Wait blocks until in-flight webhooks finished.
func (d *Discord) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

// tierColor picks the embed color for a payment probability.
func tierColor(probability int) int {
	switch {
	case probability >= 70:
		return 0x2ECC71 // Green
	case probability >= 40:
		return 0xF1C40F // Yellow
	default:
		return 0xE74C3C // Red
	}
}

// NotifyCallAnalyzed posts the outcome of an analysed call.
func (d *Discord) NotifyCallAnalyzed(ctx context.Context, n CallNotification) {
	fields := []embedField{
		{Name: "Call", Value: fmt.Sprintf("`%s`", n.CallID), Inline: true},
		{Name: "Debtor", Value: fmt.Sprintf("%s (`%s`)", n.SubjectName, n.SubjectID), Inline: true},
		{Name: "Payment probability", Value: fmt.Sprintf("%d%%", n.PaymentProbability), Inline: true},
		{Name: "Risk tier", Value: string(n.RiskTier), Inline: true},
	}
	if n.TopRecommendation != "" {
		fields = append(fields, embedField{Name: "Next step", Value: n.TopRecommendation})
	}
	title := "Call analysed"
	if n.Degraded {
		title = "Call analysed (fallback)"
	}
	d.send(ctx, discordMessage{
		Embeds: []discordEmbed{{
			Title:     title,
			Color:     tierColor(n.PaymentProbability),
			Fields:    fields,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}},
	})
}

// NotifySessionAnomaly posts a call that ended abnormally.
func (d *Discord) NotifySessionAnomaly(ctx context.Context, callID, subjectID, anomaly string) {
	d.send(ctx, discordMessage{
		Embeds: []discordEmbed{{
			Title:       "Call ended abnormally",
			Description: fmt.Sprintf("Session closed with `%s`", anomaly),
			Color:       0xFF0000, // Red
			Fields: []embedField{
				{Name: "Call", Value: fmt.Sprintf("`%s`", callID), Inline: true},
				{Name: "Debtor", Value: fmt.Sprintf("`%s`", subjectID), Inline: true},
			},
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}},
	})
}
