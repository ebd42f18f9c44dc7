// Package costs estimates what a collection call cost to run.
package costs

import (
	"math"
	"time"
)

// Rates are prices in cents per unit. Defaults follow 2024 list prices and
// can be overridden through configuration.
type Rates struct {
	// TwilioCentsPerMinute is the outbound voice rate to Saudi mobiles.
	// Default: $0.14/min = 14 cents/min
	TwilioCentsPerMinute float64 `env:"COST_TWILIO_CENTS_PER_MIN" envDefault:"14"`

	// RealtimeCentsPerMinute is the blended realtime model rate for a phone
	// leg, audio in plus audio out.
	// Default: $0.06/min input + $0.24/min output = 30 cents/min
	RealtimeCentsPerMinute float64 `env:"COST_REALTIME_CENTS_PER_MIN" envDefault:"30"`

	// AnalysisCentsPerCall covers the post-call chat completion.
	// Default: ~1500 output tokens on gpt-4o = 2 cents
	AnalysisCentsPerCall float64 `env:"COST_ANALYSIS_CENTS_PER_CALL" envDefault:"2"`
}

// DefaultRates returns the built-in price list.
func DefaultRates() Rates {
	return Rates{
		TwilioCentsPerMinute:   14,
		RealtimeCentsPerMinute: 30,
		AnalysisCentsPerCall:   2,
	}
}

// CallMetrics contains the raw usage of a call used for cost calculation.
type CallMetrics struct {
	CallDurationSeconds int  // Answered duration as billed by Twilio
	AIDurationSeconds   int  // Time the realtime model session was open
	Analyzed            bool // Whether a model analysis ran (fallbacks are free)
}

// CallCosts contains the calculated costs for a call in cents.
type CallCosts struct {
	TwilioCostCents   int `json:"twilioCostCents"`
	RealtimeCostCents int `json:"realtimeCostCents"`
	AnalysisCostCents int `json:"analysisCostCents"`
	TotalCostCents    int `json:"totalCostCents"`
}

// Calculator prices call usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a calculator. Zero rates fall back to the defaults.
func NewCalculator(r Rates) *Calculator {
	d := DefaultRates()
	if r.TwilioCentsPerMinute <= 0 {
		r.TwilioCentsPerMinute = d.TwilioCentsPerMinute
	}
	if r.RealtimeCentsPerMinute <= 0 {
		r.RealtimeCentsPerMinute = d.RealtimeCentsPerMinute
	}
	if r.AnalysisCentsPerCall < 0 {
		r.AnalysisCentsPerCall = d.AnalysisCentsPerCall
	}
	return &Calculator{rates: r}
}

// Calculate computes the costs for a call based on usage metrics.
func (c *Calculator) Calculate(m CallMetrics) CallCosts {
	// Twilio bills every started minute
	twilioMinutes := math.Ceil(float64(m.CallDurationSeconds) / 60.0)
	// The realtime API bills audio by the second
	aiMinutes := float64(m.AIDurationSeconds) / 60.0

	out := CallCosts{
		TwilioCostCents:   roundToInt(twilioMinutes * c.rates.TwilioCentsPerMinute),
		RealtimeCostCents: roundToInt(aiMinutes * c.rates.RealtimeCentsPerMinute),
	}
	if m.Analyzed {
		out.AnalysisCostCents = roundToInt(c.rates.AnalysisCentsPerCall)
	}
	out.TotalCostCents = out.TwilioCostCents + out.RealtimeCostCents + out.AnalysisCostCents
	return out
}

// Estimate prices a call that lasted d with the model attached throughout.
func (c *Calculator) Estimate(d time.Duration, analyzed bool) CallCosts {
	secs := int(d.Round(time.Second) / time.Second)
	if secs < 0 {
		secs = 0
	}
	return c.Calculate(CallMetrics{
		CallDurationSeconds: secs,
		AIDurationSeconds:   secs,
		Analyzed:            analyzed,
	})
}

// roundToInt rounds a float to the nearest integer.
func roundToInt(f float64) int {
	if f < 0 {
		return int(f - 0.5)
	}
	return int(f + 0.5)
}
