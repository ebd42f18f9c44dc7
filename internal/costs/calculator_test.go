package costs

import (
	"testing"
	"time"
)

func TestCalculate(t *testing.T) {
	c := NewCalculator(DefaultRates())

	tests := []struct {
		name    string
		metrics CallMetrics
		want    CallCosts
	}{
		{
			name: "typical 2 minute call",
			metrics: CallMetrics{
				CallDurationSeconds: 120,
				AIDurationSeconds:   120,
				Analyzed:            true,
			},
			// Twilio: 2 * 14 = 28 cents
			// Realtime: 2 * 30 = 60 cents
			// Analysis: 2 cents
			want: CallCosts{
				TwilioCostCents:   28,
				RealtimeCostCents: 60,
				AnalysisCostCents: 2,
				TotalCostCents:    90,
			},
		},
		{
			name: "short 30 second call",
			metrics: CallMetrics{
				CallDurationSeconds: 30,
				AIDurationSeconds:   30,
			},
			// Twilio: started minute -> 14 cents
			// Realtime: 0.5 * 30 = 15 cents
			want: CallCosts{
				TwilioCostCents:   14,
				RealtimeCostCents: 15,
				TotalCostCents:    29,
			},
		},
		{
			name: "75 seconds bills two Twilio minutes",
			metrics: CallMetrics{
				CallDurationSeconds: 75,
				AIDurationSeconds:   75,
			},
			// Realtime: 1.25 * 30 = 37.5 -> 38 cents
			want: CallCosts{
				TwilioCostCents:   28,
				RealtimeCostCents: 38,
				TotalCostCents:    66,
			},
		},
		{
			name:    "zero duration call (edge case)",
			metrics: CallMetrics{},
			want:    CallCosts{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Calculate(tt.metrics)
			if got != tt.want {
				t.Errorf("Calculate() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNewCalculatorDefaultsZeroRates(t *testing.T) {
	c := NewCalculator(Rates{})
	got := c.Calculate(CallMetrics{CallDurationSeconds: 60, AIDurationSeconds: 60})
	if got.TotalCostCents != 44 {
		t.Errorf("TotalCostCents = %d, want 44", got.TotalCostCents)
	}
}

func TestCustomRates(t *testing.T) {
	c := NewCalculator(Rates{TwilioCentsPerMinute: 10, RealtimeCentsPerMinute: 20, AnalysisCentsPerCall: 0})
	got := c.Calculate(CallMetrics{CallDurationSeconds: 180, AIDurationSeconds: 90, Analyzed: true})
	want := CallCosts{TwilioCostCents: 30, RealtimeCostCents: 30, AnalysisCostCents: 0, TotalCostCents: 60}
	if got != want {
		t.Errorf("Calculate() = %+v, want %+v", got, want)
	}
}

func TestEstimate(t *testing.T) {
	c := NewCalculator(DefaultRates())

	got := c.Estimate(90*time.Second+400*time.Millisecond, false)
	// 90s: Twilio 2 minutes = 28, realtime 1.5 * 30 = 45
	if got.TotalCostCents != 73 {
		t.Errorf("Estimate() total = %d, want 73", got.TotalCostCents)
	}

	if got := c.Estimate(-time.Second, false); got.TotalCostCents != 0 {
		t.Errorf("negative duration total = %d, want 0", got.TotalCostCents)
	}
}

func TestRoundToInt(t *testing.T) {
	tests := []struct {
		input float64
		want  int
	}{
		{0.0, 0},
		{0.4, 0},
		{0.5, 1},
		{0.6, 1},
		{1.5, 2},
		{-0.4, 0},
		{-0.5, -1},
	}

	for _, tt := range tests {
		got := roundToInt(tt.input)
		if got != tt.want {
			t.Errorf("roundToInt(%v) = %d, want %d", tt.input, got, tt.want)
		}
	}
}
