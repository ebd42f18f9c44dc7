package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shuhub/collector/internal/debtor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleModelOutput = `**1. تحليل المكالمة:**
- العميل متعاون ومتفهم للوضع
- قدم عذراً بتأخر الراتب
- وعد بالسداد خلال أسبوعين

**2. احتمالية السداد:** ٧٠٪

**3. التوصيات:**
- إرسال تذكير خلال 48 ساعة
- تحديد تاريخ محدد للدفعة الأولى
- متابعة أسبوعية
- بند إضافي يتجاوز الحد`

func chatServer(t *testing.T, content string, delay time.Duration, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded","type":"insufficient_quota"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]string{"role": "assistant", "content": content},
			}},
		})
	}))
}

func newTestAnalyzer(srv *httptest.Server, timeout time.Duration) *OpenAIAnalyzer {
	return NewOpenAIAnalyzer(Config{
		APIKey:  "test-key",
		BaseURL: srv.URL + "/v1",
		Timeout: timeout,
	}, zerolog.Nop())
}

func assertShape(t *testing.T, r Result) {
	t.Helper()
	assert.GreaterOrEqual(t, r.PaymentProbability, 0)
	assert.LessOrEqual(t, r.PaymentProbability, 100)
	assert.NotEmpty(t, r.Findings)
	assert.NotEmpty(t, r.Recommendations)
	assert.NotEmpty(t, r.RawModelOutput)
	assert.False(t, r.CreatedAt.IsZero())
}

func TestAnalyze_ModelOutput(t *testing.T) {
	srv := chatServer(t, sampleModelOutput, 0, http.StatusOK)
	defer srv.Close()

	subject := debtor.Context{ID: "1", Name: "أحمد", DaysOverdue: 20, Amount: 3000}
	r := newTestAnalyzer(srv, time.Second).Analyze(context.Background(), "[10:00] AI: مرحبا", subject)

	assertShape(t, r)
	assert.False(t, r.Degraded)
	assert.Equal(t, 70, r.PaymentProbability)
	assert.Len(t, r.Findings, 3)
	assert.Equal(t, "العميل متعاون ومتفهم للوضع", r.Findings[0])
	assert.Len(t, r.Recommendations, maxRecommendations)
	assert.Equal(t, sampleModelOutput, r.RawModelOutput)
	assert.Equal(t, debtor.TierNormal, r.RiskTier)
}

func TestAnalyze_TimeoutFallsBack(t *testing.T) {
	srv := chatServer(t, sampleModelOutput, 2*time.Second, http.StatusOK)
	defer srv.Close()

	subject := debtor.Context{ID: "2", DaysOverdue: 40}
	r := newTestAnalyzer(srv, 50*time.Millisecond).Analyze(context.Background(), "نص", subject)

	assertShape(t, r)
	assert.True(t, r.Degraded)
}

func TestAnalyze_ProviderErrorFallsBack(t *testing.T) {
	srv := chatServer(t, "", 0, http.StatusTooManyRequests)
	defer srv.Close()

	r := newTestAnalyzer(srv, time.Second).Analyze(context.Background(), "نص", debtor.Context{DaysOverdue: 5})
	assertShape(t, r)
	assert.True(t, r.Degraded)
}

func TestAnalyze_UnparseableOutputFallsBack(t *testing.T) {
	srv := chatServer(t, "لا أستطيع المساعدة", 0, http.StatusOK)
	defer srv.Close()

	r := newTestAnalyzer(srv, time.Second).Analyze(context.Background(), "نص", debtor.Context{DaysOverdue: 5})
	assertShape(t, r)
	assert.True(t, r.Degraded)
	assert.Equal(t, "لا أستطيع المساعدة", r.RawModelOutput)
}

func TestAnalyze_NoAPIKey(t *testing.T) {
	a := NewOpenAIAnalyzer(Config{}, zerolog.Nop())
	r := a.Analyze(context.Background(), "نص", debtor.Context{DaysOverdue: 5})
	assertShape(t, r)
	assert.True(t, r.Degraded)
}

func TestAnalyze_SevereDefaultScenario(t *testing.T) {
	srv := chatServer(t, "", 2*time.Second, http.StatusOK)
	defer srv.Close()

	subject := debtor.Context{ID: "9", Name: "فهد", DaysOverdue: 200, CreditStatus: debtor.CreditBad, Amount: 40000}
	require.Equal(t, debtor.TierSevereDefault, subject.Policy().Tier)

	r := newTestAnalyzer(srv, 50*time.Millisecond).Analyze(context.Background(), "العميل طلب تأجيل السداد", subject)

	assertShape(t, r)
	assert.Less(t, r.PaymentProbability, 50)
	mentioned := false
	for _, rec := range r.Recommendations {
		if strings.Contains(rec, "السداد الفوري") || strings.Contains(rec, "القانونية") {
			mentioned = true
		}
	}
	assert.True(t, mentioned, "recommendations should demand immediate payment or legal follow-up: %v", r.Recommendations)
}

func TestFallback_AllTiersUnderContract(t *testing.T) {
	subjects := []debtor.Context{
		{DaysOverdue: 300},
		{DaysOverdue: 120},
		{DaysOverdue: 70, CreditStatus: debtor.CreditBad},
		{DaysOverdue: 10, Amount: 90000},
		{DaysOverdue: 10, Amount: 100},
	}
	for _, s := range subjects {
		r := Fallback(s)
		assertShapeNoTime(t, r)
		assert.True(t, r.Degraded)
		assert.NotContains(t, r.Findings[0], "%!")
		if s.Policy().Tier != debtor.TierNormal && s.Policy().Tier != debtor.TierHighBalance {
			assert.Less(t, r.PaymentProbability, 50, "tier %s", s.Policy().Tier)
		}
	}
}

func assertShapeNoTime(t *testing.T, r Result) {
	t.Helper()
	assert.GreaterOrEqual(t, r.PaymentProbability, 0)
	assert.LessOrEqual(t, r.PaymentProbability, 100)
	assert.NotEmpty(t, r.Findings)
	assert.NotEmpty(t, r.Recommendations)
}

func TestParseAnalysis(t *testing.T) {
	t.Run("plain headings without markdown", func(t *testing.T) {
		raw := "تحليل المكالمة:\n- نقطة أولى\n- نقطة ثانية\nاحتمالية السداد: 45%\nالتوصيات:\n1. اتصال متابعة"
		p, ok := parseAnalysis(raw)
		require.True(t, ok)
		assert.Equal(t, []string{"نقطة أولى", "نقطة ثانية"}, p.findings)
		assert.Equal(t, 45, p.probability)
		assert.Equal(t, []string{"اتصال متابعة"}, p.recommendations)
	})

	t.Run("probability on its own line", func(t *testing.T) {
		p, ok := parseAnalysis("احتمالية السداد:\n30 %\n")
		require.True(t, ok)
		assert.Equal(t, 30, p.probability)
	})

	t.Run("clamps out of range percentages", func(t *testing.T) {
		p, ok := parseAnalysis("النسبة 250%")
		require.True(t, ok)
		assert.Equal(t, 100, p.probability)
	})

	t.Run("findings capped", func(t *testing.T) {
		raw := "تحليل المكالمة:\n- 1\n- 2\n- 3\n- 4\n- 5\n- 6\n- 7"
		p, ok := parseAnalysis(raw)
		require.True(t, ok)
		assert.Len(t, p.findings, maxFindings)
	})

	t.Run("keyword inside a bullet is content", func(t *testing.T) {
		raw := "تحليل المكالمة:\n- العميل سأل عن التوصيات السابقة"
		p, ok := parseAnalysis(raw)
		require.True(t, ok)
		assert.Equal(t, []string{"العميل سأل عن التوصيات السابقة"}, p.findings)
		assert.Empty(t, p.recommendations)
	})

	t.Run("nothing recognisable", func(t *testing.T) {
		_, ok := parseAnalysis("hello there")
		assert.False(t, ok)
	})

	t.Run("empty", func(t *testing.T) {
		_, ok := parseAnalysis("   ")
		assert.False(t, ok)
	})
}
