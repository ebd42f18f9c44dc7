package debtor

import "strings"

// RiskTier classifies a debtor for negotiation purposes.
type RiskTier string

const (
	TierNormal          RiskTier = "normal"
	TierHighBalance     RiskTier = "high-balance"
	TierElevatedRisk    RiskTier = "elevated-risk"
	TierModerateDefault RiskTier = "moderate-default"
	TierSevereDefault   RiskTier = "severe-default"
)

// Thresholds used by DerivePolicy.
const (
	SevereDefaultDays    = 180
	ModerateDefaultDays  = 90
	ElevatedRiskDays     = 60
	HighBalanceThreshold = 50000
)

// Policy is the approval policy handed verbatim to the voice agent.
type Policy struct {
	Tier  RiskTier `json:"riskTier"`
	Label string   `json:"label"`
	Text  string   `json:"policyText"`
}

var policies = map[RiskTier]Policy{
	TierSevereDefault: {
		Tier:  TierSevereDefault,
		Label: "متعثر شديد",
		Text:  "لا يمكن الموافقة على أي طلبات تقسيط أو تأجيل أو إعادة جدولة - السداد الفوري مطلوب",
	},
	TierModerateDefault: {
		Tier:  TierModerateDefault,
		Label: "متعثر متوسط",
		Text:  "يمكن النظر في طلبات محدودة بشرط ضمانات إضافية أو دفعة أولى جزئية",
	},
	TierElevatedRisk: {
		Tier:  TierElevatedRisk,
		Label: "عالي المخاطر",
		Text:  "أي طلب يتطلب موافقة الإدارة العليا مع مستندات تدعم الوضع المالي",
	},
	TierHighBalance: {
		Tier:  TierHighBalance,
		Label: "مبلغ كبير",
		Text:  "يمكن النظر في الطلب مع دراسة مفصلة لخطة السداد",
	},
	TierNormal: {
		Tier:  TierNormal,
		Label: "متعثر عادي",
		Text:  "يمكن النظر في الطلب وعرضه على فريق الموافقات",
	},
}

// DerivePolicy maps overdue days, credit status and outstanding balance to a
// policy. The checks run in priority order: overdue severity first, then credit,
// then balance.
func DerivePolicy(daysOverdue int, creditStatus string, outstanding float64) Policy {
	switch {
	case daysOverdue > SevereDefaultDays:
		return policies[TierSevereDefault]
	case daysOverdue > ModerateDefaultDays:
		return policies[TierModerateDefault]
	case IsBadCredit(creditStatus) && daysOverdue > ElevatedRiskDays:
		return policies[TierElevatedRisk]
	case outstanding > HighBalanceThreshold:
		return policies[TierHighBalance]
	default:
		return policies[TierNormal]
	}
}

// PolicyFor returns the fixed policy for a tier.
func PolicyFor(tier RiskTier) (Policy, bool) {
	p, ok := policies[tier]
	return p, ok
}

// IsBadCredit reports whether status is the worst credit grade. Exports from
// some banks carry the English label instead of the Arabic one.
func IsBadCredit(status string) bool {
	status = strings.TrimSpace(status)
	return status == CreditBad || status == "سيئ" || strings.EqualFold(status, "bad")
}
