package app

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig()
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.MaxCallDuration != 5*time.Minute {
		t.Errorf("MaxCallDuration = %v, want 5m", cfg.MaxCallDuration)
	}
	if cfg.WriteTimeout != 5*time.Second {
		t.Errorf("WriteTimeout = %v, want 5s", cfg.WriteTimeout)
	}
	if cfg.KeepaliveInterval != 30*time.Second {
		t.Errorf("KeepaliveInterval = %v, want 30s", cfg.KeepaliveInterval)
	}
	if cfg.RealtimeVoice != "alloy" || cfg.AnalysisModel != "gpt-4o" {
		t.Errorf("model defaults = %q/%q", cfg.RealtimeVoice, cfg.AnalysisModel)
	}
	if cfg.Costs.TwilioCentsPerMinute != 14 || cfg.Costs.RealtimeCentsPerMinute != 30 || cfg.Costs.AnalysisCentsPerCall != 2 {
		t.Errorf("cost defaults = %+v", cfg.Costs)
	}
	if cfg.ReminderThreshold != 0 {
		t.Errorf("reminders should be off by default, threshold = %d", cfg.ReminderThreshold)
	}
	if cfg.TelephonyConfigured() {
		t.Error("telephony should not be configured without credentials")
	}
}

func TestParseConfig_FromEnv(t *testing.T) {
	t.Setenv("PUBLIC_BASE_URL", "https://collector.example.com/")
	t.Setenv("TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("TWILIO_AUTH_TOKEN", "secret")
	t.Setenv("TWILIO_PHONE_NUMBER", "+15005550006")
	t.Setenv("MAX_CALL_DURATION", "3m")
	t.Setenv("PREBUFFER_FRAMES", "25")
	t.Setenv("SUPERVISOR_DEVICE_TOKENS", "tok1, ,tok2")
	t.Setenv("REMINDER_PROBABILITY_THRESHOLD", "60")
	t.Setenv("COST_TWILIO_CENTS_PER_MIN", "9.5")
	t.Setenv("CALL_RATE_LIMIT", "0.5")

	cfg, err := ParseConfig()
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}

	if cfg.PublicBaseURL != "https://collector.example.com" {
		t.Errorf("PublicBaseURL = %q, want trailing slash trimmed", cfg.PublicBaseURL)
	}
	if !cfg.TelephonyConfigured() {
		t.Error("telephony should be configured")
	}
	if cfg.MaxCallDuration != 3*time.Minute || cfg.PrebufferFrames != 25 {
		t.Errorf("bridge settings = %v/%d", cfg.MaxCallDuration, cfg.PrebufferFrames)
	}
	if !reflect.DeepEqual(cfg.SupervisorDeviceTokens, []string{"tok1", "tok2"}) {
		t.Errorf("SupervisorDeviceTokens = %v", cfg.SupervisorDeviceTokens)
	}
	if cfg.SMSSenderNumber != "+15005550006" {
		t.Errorf("SMSSenderNumber = %q, want caller id fallback", cfg.SMSSenderNumber)
	}
	if cfg.ReminderThreshold != 60 {
		t.Errorf("ReminderThreshold = %d", cfg.ReminderThreshold)
	}
	if cfg.Costs.TwilioCentsPerMinute != 9.5 {
		t.Errorf("TwilioCentsPerMinute = %v", cfg.Costs.TwilioCentsPerMinute)
	}
	if cfg.CallRateLimit != 0.5 {
		t.Errorf("CallRateLimit = %v", cfg.CallRateLimit)
	}
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		want  string
	}{
		{"bad base url", "PUBLIC_BASE_URL", "collector.example.com", "PUBLIC_BASE_URL"},
		{"threshold too high", "REMINDER_PROBABILITY_THRESHOLD", "120", "REMINDER_PROBABILITY_THRESHOLD"},
		{"negative prebuffer", "PREBUFFER_FRAMES", "-1", "PREBUFFER_FRAMES"},
		{"zero max duration", "MAX_CALL_DURATION", "0s", "MAX_CALL_DURATION"},
		{"zero write timeout", "SOCKET_WRITE_TIMEOUT", "0s", "SOCKET_WRITE_TIMEOUT"},
		{"unparseable duration", "MAX_CALL_DURATION", "soon", "parse env config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := ParseConfig()
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %s", err, tt.want)
			}
		})
	}
}
