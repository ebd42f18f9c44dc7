package analysis

import (
	"fmt"

	"github.com/shuhub/collector/internal/debtor"
)

type fallbackProfile struct {
	probability     int
	findings        []string
	recommendations []string
}

// Fallback probabilities stay under 50 for every defaulted tier.
var fallbackProfiles = map[debtor.RiskTier]fallbackProfile{
	debtor.TierSevereDefault: {
		probability: 15,
		findings: []string{
			"الملف في مرحلة متقدمة من التعثر (%d يوم تأخير)",
			"لا توجد مؤشرات كافية على قدرة العميل على السداد",
			"طلبات التأجيل غير مقبولة وفق سياسة الموافقة",
		},
		recommendations: []string{
			"المطالبة بالسداد الفوري للمبلغ المستحق",
			"إحالة الملف للمتابعة القانونية عند عدم السداد خلال 48 ساعة",
			"إرسال إشعار رسمي مكتوب بنتيجة المكالمة",
		},
	},
	debtor.TierModerateDefault: {
		probability: 35,
		findings: []string{
			"تأخير متوسط في السداد (%d يوم)",
			"يحتاج الملف إلى ضمانات إضافية قبل أي تسوية",
		},
		recommendations: []string{
			"طلب دفعة أولى جزئية كحسن نية",
			"تحديد موعد نهائي مكتوب للدفعة الأولى",
			"جدولة مكالمة متابعة خلال أسبوع",
		},
	},
	debtor.TierElevatedRisk: {
		probability: 40,
		findings: []string{
			"سجل ائتماني سيء مع تأخير %d يوم",
			"أي طلب تسوية يحتاج موافقة الإدارة العليا",
		},
		recommendations: []string{
			"طلب مستندات تدعم الوضع المالي للعميل",
			"رفع الطلب للإدارة العليا خلال 3-5 أيام",
			"المتابعة الأسبوعية حتى صدور القرار",
		},
	},
	debtor.TierHighBalance: {
		probability: 55,
		findings: []string{
			"مبلغ مستحق كبير مع تأخير %d يوم",
			"يمكن النظر في خطة سداد بعد دراسة مفصلة",
		},
		recommendations: []string{
			"طلب خطة سداد مقترحة من العميل",
			"عرض الخطة على فريق الموافقات",
			"إرسال تذكير خلال 48 ساعة",
		},
	},
	debtor.TierNormal: {
		probability: 65,
		findings: []string{
			"تأخير محدود في السداد (%d يوم)",
			"فرصة جيدة للتسوية الودية",
		},
		recommendations: []string{
			"إرسال تذكير خلال 48 ساعة",
			"تحديد تاريخ محدد للدفعة القادمة",
			"المتابعة خلال أسبوع",
		},
	},
}

// Fallback derives a heuristic result from the debtor's risk tier. It is used
// whenever the model cannot produce a usable answer.
func Fallback(subject debtor.Context) Result {
	policy := subject.Policy()
	profile, ok := fallbackProfiles[policy.Tier]
	if !ok {
		profile = fallbackProfiles[debtor.TierNormal]
	}

	findings := make([]string, len(profile.findings))
	copy(findings, profile.findings)
	findings[0] = fmt.Sprintf(findings[0], subject.DaysOverdue)

	recs := make([]string, len(profile.recommendations))
	copy(recs, profile.recommendations)

	return Result{
		PaymentProbability: profile.probability,
		Findings:           findings,
		Recommendations:    recs,
		RawModelOutput:     fmt.Sprintf("تحليل تقديري بناءً على وضع العميل (%s)", policy.Label),
		RiskTier:           policy.Tier,
		Degraded:           true,
	}
}
