package debtor

import (
	"fmt"
	"hash/fnv"
	"math"
	"strconv"
	"strings"
)

var (
	syntheticNames = []string{
		"محمد أحمد العتيبي", "فهد سعود المطيري", "عبدالله خالد القحطاني",
		"سارة محمد الدوسري", "نورا عبدالرحمن الشهري", "رهف أحمد الزهراني",
		"عمر فيصل الحربي", "مريم عبدالله البقمي", "يوسف محمد العنزي",
		"لمياء سعد الغامدي", "تركي عبدالعزيز السبيعي", "أمل محمد الشمري",
	}
	syntheticBanks = []string{
		"البنك الأهلي السعودي", "بنك الرياض", "بنك ساب", "البنك السعودي الفرنسي",
		"بنك البلاد", "بنك الجزيرة", "البنك السعودي للاستثمار", "بنك الإنماء",
	}
	syntheticCities = []string{
		"الرياض", "جدة", "مكة المكرمة", "المدينة المنورة", "الدمام", "الخبر",
		"تبوك", "بريدة", "خميس مشيط", "حائل", "نجران", "جازان",
	}
	syntheticLoanTypes = []string{
		"قرض شخصي", "قرض عقاري", "قرض سيارة", "قرض تجاري",
		"بطاقة ائتمانية", "تمويل المرابحة", "قرض الأجهزة",
	}
	syntheticCredit = []string{CreditExcellent, CreditGood, CreditAverage, CreditWeak, CreditBad}
)

// seeded is the deterministic generator used for demo profiles: the
// fractional part of sin(seed+offset) scaled into [min, max].
type seeded float64

func (s seeded) intn(min, max, offset int) int {
	x := math.Sin(float64(s)+float64(offset)) * 10000
	frac := x - math.Floor(x)
	return int(math.Floor(frac*float64(max-min+1))) + min
}

func seedFor(subjectID string) seeded {
	digits := subjectID
	if i := strings.IndexFunc(subjectID, func(r rune) bool { return r < '0' || r > '9' }); i >= 0 {
		digits = subjectID[:i]
	}
	if n, err := strconv.Atoi(digits); err == nil && n > 0 {
		return seeded(n)
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(subjectID))
	return seeded(h.Sum32()%1_000_000 + 1)
}

// Synthesize builds the demo profile for subjectID. The same id always yields
// the same profile; nothing here depends on the clock.
func Synthesize(subjectID string) Context {
	r := seedFor(subjectID)

	amount := r.intn(5000, 500000, 6)
	original := amount + r.intn(0, 100000, 7)
	daysOverdue := r.intn(1, 365, 8)

	priority := "منخفضة"
	switch {
	case daysOverdue > 90:
		priority = "عالية"
	case daysOverdue > 30:
		priority = "متوسطة"
	}

	return Context{
		ID:                 subjectID,
		Name:               syntheticNames[r.intn(0, len(syntheticNames)-1, 1)],
		NationalID:         "1" + strconv.Itoa(r.intn(100000000, 999999999, 10)),
		Phone:              "+9665" + strconv.Itoa(r.intn(10000000, 99999999, 11)),
		Address:            fmt.Sprintf("%s - حي %d - شارع %d", syntheticCities[r.intn(0, len(syntheticCities)-1, 3)], r.intn(1, 50, 12), r.intn(1, 100, 13)),
		Bank:               syntheticBanks[r.intn(0, len(syntheticBanks)-1, 2)],
		LoanType:           syntheticLoanTypes[r.intn(0, len(syntheticLoanTypes)-1, 4)],
		Amount:             float64(amount),
		OriginalAmount:     float64(original),
		DaysOverdue:        daysOverdue,
		CreditStatus:       syntheticCredit[r.intn(0, len(syntheticCredit)-1, 5)],
		SuccessProbability: r.intn(10, 95, 9),
		Priority:           priority,
	}
}
