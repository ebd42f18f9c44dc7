package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shuhub/collector/internal/debtor"
)

const defaultTwilioBaseURL = "https://api.twilio.com"

// SMSConfig holds configuration for SMS via Twilio Programmable Messaging.
type SMSConfig struct {
	AccountSID   string // Twilio Account SID
	AuthToken    string // Twilio Auth Token
	SenderNumber string // Sender in E.164 format
	BaseURL      string // Overrides https://api.twilio.com
}

// SMSClient sends payment reminders to debtors after a call.
type SMSClient struct {
	accountSID   string
	authToken    string
	senderNumber string
	baseURL      string
	client       *http.Client
	logger       zerolog.Logger
}

// NewSMSClient creates a new SMS client. It returns nil when credentials or
// the sender number are missing; a nil client ignores every send.
func NewSMSClient(cfg SMSConfig, logger zerolog.Logger) *SMSClient {
	logger = logger.With().Str("component", "sms").Logger()
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.SenderNumber == "" {
		logger.Info().Msg("missing Twilio messaging configuration, SMS reminders disabled")
		return nil
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultTwilioBaseURL
	}
	return &SMSClient{
		accountSID:   cfg.AccountSID,
		authToken:    cfg.AuthToken,
		senderNumber: cfg.SenderNumber,
		baseURL:      base,
		client:       &http.Client{Timeout: 10 * time.Second},
		logger:       logger,
	}
}

// twilioMessageResponse represents a Twilio Messages API response
type twilioMessageResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// SendSMS sends an SMS message to the specified phone number
func (c *SMSClient) SendSMS(ctx context.Context, to, body string) error {
	if c == nil {
		return nil
	}

	apiURL := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, c.accountSID)

	data := url.Values{}
	data.Set("To", to)
	data.Set("From", c.senderNumber)
	data.Set("Body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("to", to).Msg("failed to send SMS")
		return fmt.Errorf("failed to send SMS: %w", err)
	}
	defer resp.Body.Close()

	var msgResp twilioMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&msgResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn().Int("code", msgResp.Code).Str("message", msgResp.Message).Msg("Twilio rejected SMS")
		return fmt.Errorf("twilio messages: %d - %s", msgResp.Code, msgResp.Message)
	}

	c.logger.Info().Str("to", to).Str("sid", msgResp.SID).Str("status", msgResp.Status).Msg("SMS sent")
	return nil
}

// PaymentReminderText is the reminder sent after a promising call.
func PaymentReminderText(subject debtor.Context) string {
	amount := strconv.FormatFloat(subject.Outstanding(), 'f', -1, 64)
	return fmt.Sprintf("شُهب: شكراً %s على وقتك اليوم. نذكرك بسداد المبلغ المستحق %s ريال لصالح %s. للاستفسار يرجى الرد على هذه الرسالة.",
		subject.Name, amount, subject.BankLabel())
}

// SendPaymentReminder texts the debtor a reminder of the amount owed.
func (c *SMSClient) SendPaymentReminder(ctx context.Context, to string, subject debtor.Context) error {
	return c.SendSMS(ctx, to, PaymentReminderText(subject))
}
