// Package analysis scores finished collection calls: payment probability,
// behavioural findings and follow-up recommendations.
package analysis

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/shuhub/collector/internal/debtor"
	"github.com/shuhub/collector/internal/metrics"
)

// Result is the outcome of analysing one call transcript.
type Result struct {
	PaymentProbability int             `json:"paymentProbability"`
	Findings           []string        `json:"findings"`
	Recommendations    []string        `json:"recommendations"`
	RawModelOutput     string          `json:"rawModelOutput"`
	RiskTier           debtor.RiskTier `json:"riskTier"`
	Degraded           bool            `json:"degraded"`
	CreatedAt          time.Time       `json:"createdAt"`
}

// Analyzer produces a Result for a transcript. Implementations never fail:
// anything that goes wrong resolves to a fallback result.
type Analyzer interface {
	Analyze(ctx context.Context, transcript string, subject debtor.Context) Result
}

// Config holds configuration for the OpenAI-backed analyzer.
type Config struct {
	APIKey  string
	Model   string        // e.g., "gpt-4o"
	BaseURL string        // Optional API base override
	Timeout time.Duration // Per-request timeout
}

// OpenAIAnalyzer asks a chat model for the analysis and parses its free text.
type OpenAIAnalyzer struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  zerolog.Logger
	now     func() time.Time
}

// NewOpenAIAnalyzer creates an analyzer. Without an API key every call
// returns the fallback result.
func NewOpenAIAnalyzer(cfg Config, logger zerolog.Logger) *OpenAIAnalyzer {
	model := cfg.Model
	if model == "" {
		model = openai.GPT4o
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	a := &OpenAIAnalyzer{
		model:   model,
		timeout: timeout,
		logger:  logger.With().Str("component", "analysis").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}

	if cfg.APIKey != "" {
		oc := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
		oc.HTTPClient = &http.Client{Timeout: timeout}
		a.client = openai.NewClientWithConfig(oc)
	}
	return a
}

// Analyze implements Analyzer.
func (a *OpenAIAnalyzer) Analyze(ctx context.Context, transcript string, subject debtor.Context) Result {
	policy := subject.Policy()

	if strings.TrimSpace(transcript) == "" {
		a.logger.Info().Str("subject_id", subject.ID).Msg("empty transcript, using fallback analysis")
		return a.fallback(subject, "")
	}
	if a.client == nil {
		return a.fallback(subject, "")
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: analystSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildAnalysisPrompt(transcript, subject, policy)},
		},
		MaxTokens:   1500,
		Temperature: 0.3,
	})
	if err != nil {
		a.logger.Warn().Err(err).Str("subject_id", subject.ID).Msg("analysis model call failed")
		return a.fallback(subject, "")
	}
	if len(resp.Choices) == 0 {
		a.logger.Warn().Str("subject_id", subject.ID).Msg("analysis model returned no choices")
		return a.fallback(subject, "")
	}

	raw := resp.Choices[0].Message.Content
	parsed, ok := parseAnalysis(raw)
	if !ok {
		a.logger.Warn().Str("subject_id", subject.ID).Msg("analysis output unparseable, using fallback")
		return a.fallback(subject, raw)
	}

	fb := Fallback(subject)
	if len(parsed.findings) == 0 {
		parsed.findings = fb.Findings
	}
	if len(parsed.recommendations) == 0 {
		parsed.recommendations = fb.Recommendations
	}
	if parsed.probability < 0 {
		parsed.probability = fb.PaymentProbability
	}

	metrics.Analyses.WithLabelValues("model").Inc()
	return Result{
		PaymentProbability: parsed.probability,
		Findings:           parsed.findings,
		Recommendations:    parsed.recommendations,
		RawModelOutput:     raw,
		RiskTier:           policy.Tier,
		CreatedAt:          a.now(),
	}
}

func (a *OpenAIAnalyzer) fallback(subject debtor.Context, raw string) Result {
	metrics.Analyses.WithLabelValues("fallback").Inc()
	r := Fallback(subject)
	r.CreatedAt = a.now()
	if raw != "" {
		r.RawModelOutput = raw
	}
	return r
}

func buildAnalysisPrompt(transcript string, subject debtor.Context, policy debtor.Policy) string {
	return fmt.Sprintf(analysisPromptTemplate,
		subject.Name,
		subject.Outstanding(),
		subject.DaysOverdue,
		subject.CreditStatus,
		policy.Label,
		transcript,
	)
}
