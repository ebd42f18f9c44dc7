package notifications

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

// APNsConfig holds configuration for Apple Push Notification service
type APNsConfig struct {
	KeyPath    string // Path to .p8 key file
	KeyID      string // Key ID from Apple Developer Portal
	TeamID     string // Team ID from Apple Developer Portal
	BundleID   string // Supervisor app bundle ID
	Production bool   // Use production environment
}

// APNsClient pushes call outcomes to the supervisor app.
type APNsClient struct {
	client   *apns2.Client
	bundleID string
	logger   zerolog.Logger
	mu       sync.Mutex
}

// NewAPNsClient creates a new APNs client. It returns nil, nil when APNs is
// not configured; a nil client ignores every send.
func NewAPNsClient(cfg APNsConfig, logger zerolog.Logger) (*APNsClient, error) {
	logger = logger.With().Str("component", "apns").Logger()
	if cfg.KeyPath == "" || cfg.KeyID == "" || cfg.TeamID == "" || cfg.BundleID == "" {
		logger.Info().Msg("missing configuration, push notifications disabled")
		return nil, nil
	}

	keyBytes, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read APNs key file: %w", err)
	}

	block, _ := pem.Decode(keyBytes)
	if block == nil {
		return nil, fmt.Errorf("failed to decode APNs key PEM block")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs key: %w", err)
	}

	ecdsaKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("APNs key is not an ECDSA private key")
	}

	authToken := &token.Token{
		AuthKey: ecdsaKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	var client *apns2.Client
	if cfg.Production {
		client = apns2.NewTokenClient(authToken).Production()
	} else {
		client = apns2.NewTokenClient(authToken).Development()
	}

	logger.Info().Bool("production", cfg.Production).Str("bundle", cfg.BundleID).Msg("client initialized")

	return &APNsClient{
		client:   client,
		bundleID: cfg.BundleID,
		logger:   logger,
	}, nil
}

// analysisPayload builds the alert shown to a supervisor after a call.
func analysisPayload(n CallNotification) *payload.Payload {
	title := fmt.Sprintf("انتهت المكالمة مع %s", n.SubjectName)
	body := fmt.Sprintf("احتمالية السداد %d%%", n.PaymentProbability)
	if n.TopRecommendation != "" {
		body += " - " + n.TopRecommendation
	}
	return payload.NewPayload().
		AlertTitle(title).
		AlertBody(body).
		Sound("default").
		Custom("call_id", n.CallID).
		Custom("subject_id", n.SubjectID).
		Custom("risk_tier", string(n.RiskTier)).
		Custom("payment_probability", n.PaymentProbability)
}

// SendAnalysisNotification pushes the outcome of an analysed call.
func (c *APNsClient) SendAnalysisNotification(deviceToken string, n CallNotification) error {
	if c == nil || c.client == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	notification := &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       c.bundleID,
		Payload:     analysisPayload(n),
		Expiration:  time.Now().Add(24 * time.Hour),
	}

	res, err := c.client.Push(notification)
	if err != nil {
		c.logger.Error().Err(err).Str("call_id", n.CallID).Msg("failed to send notification")
		return err
	}

	if res.StatusCode != 200 {
		c.logger.Warn().Int("status", res.StatusCode).Str("reason", res.Reason).Msg("notification rejected")
		return fmt.Errorf("APNs rejected notification: %s", res.Reason)
	}

	c.logger.Debug().Str("call_id", n.CallID).Str("device", tokenPrefix(deviceToken)).Msg("notification sent")
	return nil
}

func tokenPrefix(t string) string {
	if len(t) > 16 {
		return t[:16] + "..."
	}
	return t
}
