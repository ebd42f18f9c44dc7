package conversation

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shuhub/collector/internal/analysis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return func() time.Time { return t0 }
}

func TestGetOrCreate_Idempotent(t *testing.T) {
	s := NewStore()
	a := s.GetOrCreate("CA1")
	b := s.GetOrCreate("CA1")
	assert.Same(t, a, b)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, "CA1", a.CallID())
	assert.Equal(t, 0, a.Len())
}

func TestAppend_TranscriptMatchesMessages(t *testing.T) {
	s := NewStore()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	inputs := []struct {
		speaker Speaker
		text    string
	}{
		{SpeakerAI, "السلام عليكم، معك أحمد من إدارة التحصيل"},
		{SpeakerSubject, "وعليكم السلام"},
		{SpeakerAI, "بخصوص القرض المتأخر"},
		{SpeakerSubject, "العميل طلب تأجيل السداد"},
	}
	for i, in := range inputs {
		_, ok := s.Append("CA1", in.speaker, in.text, base.Add(time.Duration(i)*time.Second))
		require.True(t, ok)
	}

	snap, ok := s.Get("CA1")
	require.True(t, ok)
	require.Len(t, snap.Messages, len(inputs))

	var want strings.Builder
	for i, m := range snap.Messages {
		assert.Equal(t, inputs[i].speaker, m.Speaker)
		assert.Equal(t, inputs[i].text, m.Text)
		assert.NotEmpty(t, m.ID)
		want.WriteString(TranscriptLine(m))
	}
	assert.Equal(t, want.String(), snap.FullTranscript)
	assert.True(t, strings.HasPrefix(snap.FullTranscript, "[10:00:00] AI: "))
}

func TestAppend_EmptyCallIDIsNoop(t *testing.T) {
	s := NewStore()
	_, ok := s.Append("", SpeakerAI, "hello", time.Time{})
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestAppend_UnknownIDCreatesRecord(t *testing.T) {
	s := NewStore(WithClock(fixedClock()))
	m, ok := s.Append("CA-new", SpeakerSubject, "نعم", time.Time{})
	require.True(t, ok)
	assert.Equal(t, fixedClock()(), m.Timestamp)

	snap, ok := s.Get("CA-new")
	require.True(t, ok)
	assert.Len(t, snap.Messages, 1)
}

func TestGet_DoesNotCreate(t *testing.T) {
	s := NewStore()
	_, ok := s.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestSnapshot_IsACopy(t *testing.T) {
	s := NewStore()
	s.Append("CA1", SpeakerAI, "one", time.Time{})
	snap, _ := s.Get("CA1")
	snap.Messages[0].Text = "mutated"

	again, _ := s.Get("CA1")
	assert.Equal(t, "one", again.Messages[0].Text)
}

func TestAttachAnalysis_AppendsHistory(t *testing.T) {
	s := NewStore()
	s.Append("CA1", SpeakerAI, "one", time.Time{})
	require.True(t, s.AttachAnalysis("CA1", analysis.Result{PaymentProbability: 30}))
	require.True(t, s.AttachAnalysis("CA1", analysis.Result{PaymentProbability: 60}))
	assert.False(t, s.AttachAnalysis("", analysis.Result{}))

	snap, _ := s.Get("CA1")
	require.Len(t, snap.Analyses, 2)
	assert.Equal(t, 30, snap.Analyses[0].PaymentProbability)
	latest, ok := snap.LatestAnalysis()
	require.True(t, ok)
	assert.Equal(t, 60, latest.PaymentProbability)
}

func TestList_SummariesNewestFirst(t *testing.T) {
	s := NewStore()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		s.Append("CA-old", SpeakerAI, fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Second))
	}
	s.Append("CA-new", SpeakerSubject, "latest", base.Add(time.Minute))

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "CA-new", list[0].CallID)
	assert.Equal(t, 5, list[1].MessageCount)
	require.Len(t, list[1].LastMessages, summaryTail)
	assert.Equal(t, "m4", list[1].LastMessages[2].Text)
}

type recordingObserver struct {
	mu       sync.Mutex
	messages []string
	analyses int
}

func (o *recordingObserver) MessageAppended(callID string, m Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, callID+":"+m.Text)
}

func (o *recordingObserver) AnalysisAttached(string, analysis.Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.analyses++
}

func TestObserver_Notified(t *testing.T) {
	obs := &recordingObserver{}
	s := NewStore(WithObserver(obs))
	s.Append("CA1", SpeakerAI, "hi", time.Time{})
	s.Append("", SpeakerAI, "dropped", time.Time{})
	s.AttachAnalysis("CA1", analysis.Result{})

	assert.Equal(t, []string{"CA1:hi"}, obs.messages)
	assert.Equal(t, 1, obs.analyses)
}

func TestAppend_ConcurrentCallsKeepPerCallOrder(t *testing.T) {
	s := NewStore()
	const calls, perCall = 8, 50

	var wg sync.WaitGroup
	for c := 0; c < calls; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			id := fmt.Sprintf("CA%d", c)
			for i := 0; i < perCall; i++ {
				s.Append(id, SpeakerSubject, fmt.Sprintf("%d", i), time.Time{})
			}
		}(c)
	}
	wg.Wait()

	assert.Equal(t, calls, s.Len())
	for c := 0; c < calls; c++ {
		snap, ok := s.Get(fmt.Sprintf("CA%d", c))
		require.True(t, ok)
		require.Len(t, snap.Messages, perCall)
		var want strings.Builder
		for i, m := range snap.Messages {
			assert.Equal(t, fmt.Sprintf("%d", i), m.Text)
			want.WriteString(TranscriptLine(m))
		}
		assert.Equal(t, want.String(), snap.FullTranscript)
	}
}
