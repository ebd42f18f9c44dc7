// Package telephony talks to Twilio Programmable Voice: placing and hanging up
// calls, reading their status, and answering call-control webhooks.
package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shuhub/collector/internal/metrics"
)

const defaultBaseURL = "https://api.twilio.com"

// ErrProviderUnreachable wraps transport failures and timeouts.
var ErrProviderUnreachable = errors.New("telephony: provider unreachable")

// ProviderError is a non-2xx answer from Twilio.
type ProviderError struct {
	Op         string
	StatusCode int
	Code       int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("telephony: %s failed: %d (code %d) %s", e.Op, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("telephony: %s failed: %d %s", e.Op, e.StatusCode, e.Message)
}

// Config holds Twilio credentials.
type Config struct {
	AccountSID string
	AuthToken  string
	BaseURL    string        // Optional API base override
	Timeout    time.Duration // Per-request timeout
}

// Client is a minimal Twilio Voice REST client.
type Client struct {
	accountSID string
	authToken  string
	baseURL    string
	http       *http.Client
	logger     zerolog.Logger
}

// NewClient creates a Twilio client.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		baseURL:    base,
		http:       &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "telephony").Logger(),
	}
}

// CallInfo is Twilio's view of a call.
type CallInfo struct {
	SID       string
	Status    string
	Duration  time.Duration
	StartTime *time.Time
	EndTime   *time.Time
}

type callResource struct {
	SID       string `json:"sid"`
	Status    string `json:"status"`
	Duration  string `json:"duration"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type errorResource struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// PlaceCall starts an outbound call to `to`. Twilio fetches callbackURL for
// call-control instructions and posts lifecycle updates to statusCallbackURL.
// Every successful call is billable; callers own deduplication.
func (c *Client) PlaceCall(ctx context.Context, to, from, callbackURL, statusCallbackURL string) (string, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", from)
	form.Set("Url", callbackURL)
	form.Set("Method", http.MethodPost)
	if statusCallbackURL != "" {
		form.Set("StatusCallback", statusCallbackURL)
		form.Set("StatusCallbackMethod", http.MethodPost)
		for _, ev := range []string{"initiated", "ringing", "answered", "completed"} {
			form.Add("StatusCallbackEvent", ev)
		}
	}

	var res callResource
	if err := c.do(ctx, "create call", http.MethodPost, c.callsURL(""), form, &res); err != nil {
		return "", err
	}
	if res.SID == "" {
		return "", &ProviderError{Op: "create call", StatusCode: http.StatusOK, Message: "response carried no call sid"}
	}
	c.logger.Info().Str("call_sid", res.SID).Str("to", to).Str("status", res.Status).Msg("call placed")
	return res.SID, nil
}

// FetchCall returns the provider's authoritative view of callID.
func (c *Client) FetchCall(ctx context.Context, callID string) (CallInfo, error) {
	var res callResource
	if err := c.do(ctx, "fetch call", http.MethodGet, c.callsURL(callID), nil, &res); err != nil {
		return CallInfo{}, err
	}
	info := CallInfo{SID: res.SID, Status: res.Status}
	if secs, err := strconv.Atoi(res.Duration); err == nil {
		info.Duration = time.Duration(secs) * time.Second
	}
	info.StartTime = parseTwilioTime(res.StartTime)
	info.EndTime = parseTwilioTime(res.EndTime)
	return info, nil
}

// HangUp ends an in-progress call.
func (c *Client) HangUp(ctx context.Context, callID string) error {
	form := url.Values{}
	form.Set("Status", "completed")
	if err := c.do(ctx, "hang up", http.MethodPost, c.callsURL(callID), form, nil); err != nil {
		return err
	}
	c.logger.Info().Str("call_sid", callID).Msg("call hung up")
	return nil
}

func (c *Client) callsURL(callID string) string {
	u := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls", c.baseURL, url.PathEscape(c.accountSID))
	if callID != "" {
		u += "/" + url.PathEscape(callID)
	}
	return u + ".json"
}

func (c *Client) do(ctx context.Context, op, method, apiURL string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, apiURL, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.ProviderRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		c.logger.Warn().Err(err).Str("op", op).Msg("twilio request failed")
		return fmt.Errorf("%w: %s: %v", ErrProviderUnreachable, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var er errorResource
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &er) != nil || er.Message == "" {
			er.Message = strings.TrimSpace(string(raw))
		}
		return &ProviderError{Op: op, StatusCode: resp.StatusCode, Code: er.Code, Message: er.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ProviderError{Op: op, StatusCode: resp.StatusCode, Message: "undecodable response: " + err.Error()}
	}
	return nil
}

// Twilio renders timestamps as RFC 2822.
func parseTwilioTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC1123Z, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
