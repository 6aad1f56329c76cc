package conversation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHistoryWindowAndDupSuppression(t *testing.T) {
	s := NewStateStore()
	for i := 0; i < 12; i++ {
		s.AppendHistory("u1", "user", string(rune('a'+i)))
	}
	assert.Len(t, s.History("u1"), 8)
	assert.Equal(t, "e", s.History("u1")[0].Content)

	s.AppendHistory("u1", "user", "repetido")
	s.AppendHistory("u1", "user", "repetido")
	h := s.History("u1")
	assert.Equal(t, "repetido", h[len(h)-1].Content)
	assert.NotEqual(t, "repetido", h[len(h)-2].Content)
}

func TestAppendHistorySkipsEmpty(t *testing.T) {
	s := NewStateStore()
	s.AppendHistory("u1", "user", "   ")
	assert.Empty(t, s.History("u1"))
}

func TestRecentResponsesReturnsLastThree(t *testing.T) {
	s := NewStateStore()
	for _, r := range []string{"uno", "dos", "tres", "cuatro", "cinco"} {
		s.RecordResponse("u1", r)
	}
	assert.Equal(t, []string{"tres", "cuatro", "cinco"}, s.RecentResponses("u1"))
}

func TestMarkProcessedDeduplicatesWithinTTL(t *testing.T) {
	s := NewStateStore()
	assert.True(t, s.MarkProcessed("u1", "m1"))
	assert.False(t, s.MarkProcessed("u1", "m1"))

	base := time.Now()
	s.now = func() time.Time { return base.Add(61 * time.Minute) }
	assert.True(t, s.MarkProcessed("u1", "m1"), "expired id should be processable again")
}

func TestObserveMessageTimeDetectsOutOfSequence(t *testing.T) {
	s := NewStateStore()
	now := time.Now()
	assert.False(t, s.ObserveMessageTime("u1", now, time.Minute))
	assert.False(t, s.ObserveMessageTime("u1", now.Add(-30*time.Second), time.Minute))
	assert.True(t, s.ObserveMessageTime("u1", now.Add(-2*time.Minute), time.Minute))
}

func TestIntentCacheMatchesExactTextOnly(t *testing.T) {
	s := NewStateStore()
	ic := Context{MessageType: "pregunta", SpecificAction: "responder_consulta"}
	s.CacheIntent("u1", "cuánto vale?", ic)

	got, ok := s.CachedIntent("u1", "cuánto vale?")
	assert.True(t, ok)
	assert.Equal(t, ic, got)

	_, ok = s.CachedIntent("u1", "otra cosa")
	assert.False(t, ok)
}

func TestAssistantStep(t *testing.T) {
	s := NewStateStore()
	assert.Empty(t, s.AssistantStep("u1"))
	s.SetAssistantStep("u1", "welcome_sent")
	assert.Equal(t, "welcome_sent", s.AssistantStep("u1"))
}

func TestAppointmentRoundTrip(t *testing.T) {
	s := NewStateStore()
	a := Appointment{Active: true, Step: StepDate, Name: "Ana"}
	s.SetAppointment("u1", a)
	assert.Equal(t, a, s.Appointment("u1"))

	s.ClearAppointment("u1")
	assert.False(t, s.Appointment("u1").Active)
}
