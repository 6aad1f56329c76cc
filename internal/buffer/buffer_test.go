package buffer

import (
	"sync"
	"testing"
	"time"

	"github.com/dommoco/whatsapp-concierge/internal/messaging"
	"github.com/dommoco/whatsapp-concierge/pkg/logging"
)

func msg(id, from, body string) messaging.InboundMessage {
	return messaging.InboundMessage{ID: id, From: from, Type: "text", Body: body, Timestamp: time.Now().UnixMilli()}
}

type flushRecorder struct {
	mu      sync.Mutex
	flushs  []messaging.InboundMessage
	reasons []string
}

func (r *flushRecorder) record(m messaging.InboundMessage, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushs = append(r.flushs, m)
	r.reasons = append(r.reasons, reason)
}

func (r *flushRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flushs)
}

func (r *flushRecorder) last() messaging.InboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushs[len(r.flushs)-1]
}

func (r *flushRecorder) lastReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reasons[len(r.reasons)-1]
}

func TestAddCoalescesFragments(t *testing.T) {
	b := New(50*time.Millisecond, logging.Default())
	rec := &flushRecorder{}

	if b.Add("573001", msg("m1", "573001", "Quiero"), rec.record, 0) {
		t.Fatal("fragment should not process immediately")
	}
	if b.Add("573001", msg("m2", "573001", "una rosa"), rec.record, 0) {
		t.Fatal("fragment should not process immediately")
	}
	if b.Add("573001", msg("m3", "573001", "roja"), rec.record, 0) {
		t.Fatal("fragment should not process immediately")
	}

	deadline := time.After(time.Second)
	for rec.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for debounce flush")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if rec.count() != 1 {
		t.Fatalf("expected exactly one flush, got %d", rec.count())
	}
	combined := rec.last()
	if combined.Body != "Quiero una rosa roja" {
		t.Fatalf("unexpected combined body: %q", combined.Body)
	}
	if combined.ID != "m1" {
		t.Fatalf("combined id should be the first fragment id, got %s", combined.ID)
	}
	if !combined.Combined || combined.OriginalCount != 3 {
		t.Fatalf("combined metadata wrong: %+v", combined)
	}
	if rec.lastReason() != FlushDebounce {
		t.Fatalf("expected debounce flush reason, got %q", rec.lastReason())
	}
	if b.Pending("573001") != 0 {
		t.Fatal("buffer should be empty after flush")
	}
}

func TestGreetingBypassesBuffer(t *testing.T) {
	b := New(time.Minute, logging.Default())
	rec := &flushRecorder{}

	if !b.Add("57300", msg("m1", "57300", "hola"), rec.record, 0) {
		t.Fatal("greeting must be processed immediately")
	}
	if rec.count() != 0 {
		t.Fatal("greeting must not be flushed through the buffer")
	}
}

func TestEmptyBodyProcessedImmediately(t *testing.T) {
	b := New(time.Minute, logging.Default())
	if !b.Add("57300", msg("m1", "57300", "   "), func(messaging.InboundMessage, string) {}, 0) {
		t.Fatal("empty body must fall back to immediate processing")
	}
}

func TestCompleteMessageFlushesImmediately(t *testing.T) {
	b := New(time.Hour, logging.Default())
	rec := &flushRecorder{}

	done := b.Add("57300", msg("m1", "57300", "Quiero comprar una rosa preservada premium, por favor."), rec.record, 0)
	if done {
		t.Fatal("complete text flushes via callback, not the immediate path")
	}
	if rec.count() != 1 {
		t.Fatalf("expected synchronous flush, got %d", rec.count())
	}
	if rec.lastReason() != FlushComplete {
		t.Fatalf("expected complete flush reason, got %q", rec.lastReason())
	}
}

func TestConcurrentAddsSameUser(t *testing.T) {
	b := New(20*time.Millisecond, logging.Default())
	rec := &flushRecorder{}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			b.Add("57300", msg("m", "57300", "fragmento corto"), rec.record, 0)
		}(i)
	}
	wg.Wait()

	deadline := time.After(time.Second)
	for rec.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for flush")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestStepSpecificCompleteness(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		flowStep string
		complete bool
	}{
		{"short fragment waits", "Cumple 50 años", "", false},
		{"question completes", "Hola, me gustaría saber cuánto cuesta la rosa premium?", "", true},
		{"name with space", "Ana María Restrepo Gómez puede ser", "name", true},
		{"address with digits", "Calle 10 # 5-20 apto 301 Bogotá", "address", true},
		{"confirmation yes", "si claro, ese pedido está muy bien", "confirmation", true},
		{"long message", "Necesito que me ayudes con un regalo para mi esposa que cumple años la próxima semana", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isCompleteMessage(tt.text, tt.flowStep); got != tt.complete {
				t.Fatalf("isCompleteMessage(%q, %q) = %v, want %v", tt.text, tt.flowStep, got, tt.complete)
			}
		})
	}
}

func TestTimerResetOnNewFragment(t *testing.T) {
	b := New(60*time.Millisecond, logging.Default())
	rec := &flushRecorder{}

	b.Add("57300", msg("m1", "57300", "Para mi mamá"), rec.record, 0)
	time.Sleep(30 * time.Millisecond)
	b.Add("57300", msg("m2", "57300", "algo bonito"), rec.record, 0)
	time.Sleep(40 * time.Millisecond)

	// First timer would have fired by now had it not been reset.
	if rec.count() != 0 {
		t.Fatal("timer should have been reset by the second fragment")
	}

	deadline := time.After(time.Second)
	for rec.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for flush")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if rec.last().Body != "Para mi mamá algo bonito" {
		t.Fatalf("unexpected combined body: %q", rec.last().Body)
	}
}

func TestCleanupEvictsIdleEntries(t *testing.T) {
	b := New(time.Hour, logging.Default())
	rec := &flushRecorder{}
	b.Add("57300", msg("m1", "57300", "Para mi mamá"), rec.record, 0)

	b.now = func() time.Time { return time.Now().Add(31 * time.Minute) }
	b.Cleanup()

	if b.Pending("57300") != 0 {
		t.Fatal("idle entry should have been evicted")
	}
}

func TestUpdateStateIsSafeForUnknownUser(t *testing.T) {
	b := New(time.Hour, logging.Default())
	b.UpdateState("nobody", "date")
	b.UpdateState("", "date") // no-op
}

func TestIsSimpleGreeting(t *testing.T) {
	for _, g := range []string{"hola", "Hola!", "buenos días", "hey como va todo"} {
		if !IsSimpleGreeting(g) {
			t.Errorf("expected %q to be a greeting", g)
		}
	}
	for _, n := range []string{"quiero una rosa", "hola quiero comprar una rosa preservada premium para un cumpleaños", ""} {
		if IsSimpleGreeting(n) {
			t.Errorf("did not expect %q to be a greeting", n)
		}
	}
}
