// Package debtor resolves the subject of a collection call and derives the
// negotiation policy the voice agent has to follow.
package debtor

// Credit status labels as they appear in bank exports and on the dashboard.
const (
	CreditExcellent = "ممتاز"
	CreditGood      = "جيد"
	CreditAverage   = "متوسط"
	CreditWeak      = "ضعيف"
	CreditBad       = "سيء"
)

// Context is the read-only snapshot of a debtor handed to a call session.
// Field names follow the dashboard payload so supplied records round-trip.
type Context struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	NationalID         string  `json:"nationalId,omitempty"`
	Phone              string  `json:"phone,omitempty"`
	Address            string  `json:"address,omitempty"`
	Bank               string  `json:"bank,omitempty"`
	BankName           string  `json:"bankName,omitempty"`
	LoanType           string  `json:"loanType,omitempty"`
	Amount             float64 `json:"amount"`
	RemainingAmount    float64 `json:"remainingAmount,omitempty"`
	OriginalAmount     float64 `json:"originalAmount,omitempty"`
	DaysOverdue        int     `json:"daysOverdue"`
	DueDate            string  `json:"dueDate,omitempty"`
	CreditStatus       string  `json:"creditStatus,omitempty"`
	SuccessProbability int     `json:"successProbability,omitempty"`
	Priority           string  `json:"priority,omitempty"`
	Notes              string  `json:"notes,omitempty"`
}

// Outstanding returns the amount still owed.
func (c Context) Outstanding() float64 {
	if c.Amount > 0 {
		return c.Amount
	}
	return c.RemainingAmount
}

// BankLabel returns the lending bank or a placeholder when unknown.
func (c Context) BankLabel() string {
	switch {
	case c.Bank != "":
		return c.Bank
	case c.BankName != "":
		return c.BankName
	default:
		return "غير محدد"
	}
}

// Policy returns the negotiation policy for this debtor.
func (c Context) Policy() Policy {
	return DerivePolicy(c.DaysOverdue, c.CreditStatus, c.Outstanding())
}
