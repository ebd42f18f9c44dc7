package analysis

const analystSystemPrompt = `أنت خبير في تحليل محادثات التحصيل وسلوك العملاء المالي. قدم تحليلاً مهنياً مختصراً ومبنياً على نص المكالمة فقط.`

// analysisPromptTemplate takes: name, outstanding, days overdue, credit status,
// client status label, transcript.
const analysisPromptTemplate = `حلل هذه المكالمة بين محصل الديون والعميل.

بيانات العميل:
- الاسم: %s
- المبلغ المتبقي: %.0f ريال
- أيام التأخير: %d
- حالة الائتمان: %s
- وضع العميل: %s

نص المحادثة:
%s

أجب بثلاثة أقسام مرقمة بالترتيب التالي، وكل نقطة في سطر مستقل يبدأ بشرطة:

1. تحليل المكالمة:
- سلوك العميل ومدى تعاونه
- الأعذار المقدمة ومصداقية الوعود
- مستوى الضغط المالي

2. احتمالية السداد: نسبة مئوية واحدة من 0 إلى 100 مكتوبة بالشكل 65%%

3. التوصيات:
- الإجراءات الفورية
- خطة السداد أو الإجراء القانوني المقترح
- التوقيت الأمثل للمتابعة`
