package debtor

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerivePolicy(t *testing.T) {
	tests := []struct {
		name        string
		days        int
		credit      string
		outstanding float64
		want        RiskTier
	}{
		{"severe just over threshold", 181, CreditGood, 1000, TierSevereDefault},
		{"moderate at upper boundary", 180, CreditGood, 1000, TierModerateDefault},
		{"moderate at lower boundary", 91, CreditBad, 1000, TierModerateDefault},
		{"90 days is not moderate", 90, CreditGood, 1000, TierNormal},
		{"bad credit over 60 days", 61, CreditBad, 1000, TierElevatedRisk},
		{"bad credit at 60 days", 60, CreditBad, 1000, TierNormal},
		{"english bad label", 75, "Bad", 1000, TierElevatedRisk},
		{"high balance", 10, CreditGood, 50001, TierHighBalance},
		{"balance at threshold", 10, CreditGood, 50000, TierNormal},
		{"severe wins over balance", 200, CreditBad, 900000, TierSevereDefault},
		{"elevated wins over balance", 75, CreditBad, 900000, TierElevatedRisk},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DerivePolicy(tt.days, tt.credit, tt.outstanding)
			assert.Equal(t, tt.want, got.Tier)
			assert.NotEmpty(t, got.Text)
			assert.NotEmpty(t, got.Label)
		})
	}
}

func TestDerivePolicy_Pure(t *testing.T) {
	for i := 0; i < 50; i++ {
		assert.Equal(t, DerivePolicy(120, CreditWeak, 70000), DerivePolicy(120, CreditWeak, 70000))
	}
}

func TestSevereDefaultPolicyForbidsPlans(t *testing.T) {
	p := DerivePolicy(200, CreditBad, 10000)
	require.Equal(t, TierSevereDefault, p.Tier)
	assert.Contains(t, p.Text, "لا يمكن الموافقة")
	assert.Contains(t, p.Text, "السداد الفوري")
}

func TestSynthesize_Deterministic(t *testing.T) {
	for _, id := range []string{"1", "42", "1337", "debtor-abc", "7x"} {
		a, err := json.Marshal(Synthesize(id))
		require.NoError(t, err)
		b, err := json.Marshal(Synthesize(id))
		require.NoError(t, err)
		assert.Equal(t, string(a), string(b), "id %s", id)
	}
}

func TestSynthesize_Ranges(t *testing.T) {
	for i := 1; i <= 200; i++ {
		c := Synthesize(strings.Repeat("9", i%5+1))
		assert.GreaterOrEqual(t, c.Amount, 5000.0)
		assert.LessOrEqual(t, c.Amount, 500000.0)
		assert.GreaterOrEqual(t, c.OriginalAmount, c.Amount)
		assert.GreaterOrEqual(t, c.DaysOverdue, 1)
		assert.LessOrEqual(t, c.DaysOverdue, 365)
		assert.True(t, strings.HasPrefix(c.Phone, "+9665"))
		assert.Len(t, c.NationalID, 10)
		assert.NotEmpty(t, c.Name)
	}
}

func TestSynthesize_DifferentIDs(t *testing.T) {
	assert.NotEqual(t, Synthesize("1"), Synthesize("2"))
}

func TestProvider_Resolve(t *testing.T) {
	ctx := context.Background()
	p := NewProvider(nil, zerolog.Nop())

	t.Run("missing subject", func(t *testing.T) {
		_, err := p.Resolve(ctx, "  ", nil)
		assert.ErrorIs(t, err, ErrMissingSubject)
	})

	t.Run("synthetic when nothing supplied", func(t *testing.T) {
		got, err := p.Resolve(ctx, "17", nil)
		require.NoError(t, err)
		assert.Equal(t, Synthesize("17"), got)
	})

	t.Run("supplied payload returned verbatim and remembered", func(t *testing.T) {
		supplied := Context{ID: "17", Name: "خالد", Amount: 1234, DaysOverdue: 200, CreditStatus: CreditBad}

		got, err := p.Resolve(ctx, "17", &supplied)
		require.NoError(t, err)
		assert.Equal(t, supplied, got)

		again, err := p.Resolve(ctx, "17", nil)
		require.NoError(t, err)
		assert.Equal(t, supplied, again)
	})
}

func TestInstructions(t *testing.T) {
	c := Context{Name: "سارة", DaysOverdue: 200, CreditStatus: CreditBad, Amount: 20000}
	text := Instructions(c)

	assert.Contains(t, text, "سارة")
	assert.Contains(t, text, "متعثر شديد")
	assert.Contains(t, text, "200 يوم")
	assert.Contains(t, text, "غير محدد")
	assert.NotContains(t, text, "%!")

	assert.Contains(t, GreetingInstruction(c), "سارة")
}

func TestContextHelpers(t *testing.T) {
	c := Context{RemainingAmount: 900, BankName: "بنك البلاد"}
	assert.Equal(t, 900.0, c.Outstanding())
	assert.Equal(t, "بنك البلاد", c.BankLabel())
	assert.Equal(t, "غير محدد", Context{}.BankLabel())
}

func TestRedisCache(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL not set, skipping integration test")
	}

	opts, err := redis.ParseURL(redisURL)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	ctx := context.Background()
	cache := NewRedisCache(rdb, "test:debtor:", time.Minute)

	_, ok, err := cache.Get(ctx, "missing-subject")
	require.NoError(t, err)
	assert.False(t, ok)

	want := Context{ID: "55", Name: "فهد", Amount: 99, DaysOverdue: 3}
	require.NoError(t, cache.Put(ctx, "55", want))

	got, ok, err := cache.Get(ctx, "55")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
}
