// Package buffer accumulates rapid consecutive text fragments from one user
// into a single logical message. Users on a chat interface frequently split a
// thought across several messages sent seconds apart; answering each fragment
// independently produces premature and duplicated replies.
package buffer

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dommoco/whatsapp-concierge/internal/messaging"
	"github.com/dommoco/whatsapp-concierge/pkg/logging"
)

const (
	// DefaultWaitTime is the debounce window for users who have not sent a
	// heuristically complete message yet.
	DefaultWaitTime = 35 * time.Second

	// entryTTL bounds how long an idle entry survives before Cleanup evicts it.
	entryTTL = 30 * time.Minute
)

type entry struct {
	texts          []string
	messages       []messaging.InboundMessage
	firstMessageID string
	lastActivity   time.Time
	flowStep       string
}

// Flush reasons passed to FlushFunc.
const (
	// FlushComplete: the newest fragment already read as a finished thought.
	FlushComplete = "complete"
	// FlushDebounce: the wait window expired without further fragments.
	FlushDebounce = "debounce"
)

// FlushFunc receives the combined message once the buffer decides the user
// finished their thought, along with why it flushed.
type FlushFunc func(msg messaging.InboundMessage, reason string)

// Buffer holds per-user pending fragments and their debounce timers.
type Buffer struct {
	mu       sync.Mutex
	entries  map[string]*entry
	timers   map[string]*time.Timer
	waitTime time.Duration
	logger   *logging.Logger
	now      func() time.Time
}

// New creates a Buffer with the given default debounce window.
func New(waitTime time.Duration, logger *logging.Logger) *Buffer {
	if waitTime <= 0 {
		waitTime = DefaultWaitTime
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Buffer{
		entries:  make(map[string]*entry),
		timers:   make(map[string]*time.Timer),
		waitTime: waitTime,
		logger:   logger,
		now:      time.Now,
	}
}

// Add queues a message for the user. It returns true when the caller should
// process the raw message immediately (empty body or simple greeting); in
// every other case the message is buffered and onFlush fires either right
// away (the text looks complete) or when the debounce timer expires.
// waitOverride, when positive, replaces the default debounce window for this
// scheduling only.
func (b *Buffer) Add(userID string, msg messaging.InboundMessage, onFlush FlushFunc, waitOverride time.Duration) bool {
	text := strings.TrimSpace(msg.Body)
	if text == "" {
		// Defensive fallback: hand it back rather than dropping it silently.
		b.logger.Warn("buffered message without text", "user_id", userID, "message_id", msg.ID)
		return true
	}

	if IsSimpleGreeting(text) {
		b.logger.Debug("simple greeting bypasses buffering", "user_id", userID)
		return true
	}

	b.mu.Lock()

	if t, ok := b.timers[userID]; ok {
		t.Stop()
		delete(b.timers, userID)
	}

	e, ok := b.entries[userID]
	if !ok {
		e = &entry{}
		b.entries[userID] = e
	}
	if len(e.texts) == 0 {
		e.firstMessageID = msg.ID
	}
	e.texts = append(e.texts, text)
	e.messages = append(e.messages, msg)
	e.lastActivity = b.now()

	if isCompleteMessage(text, e.flowStep) {
		combined := b.combineLocked(userID)
		b.mu.Unlock()
		if combined != nil {
			b.logger.Debug("complete message detected, flushing", "user_id", userID)
			onFlush(*combined, FlushComplete)
		}
		return false
	}

	wait := b.waitTime
	if waitOverride > 0 {
		wait = waitOverride
	}
	b.timers[userID] = time.AfterFunc(wait, func() {
		b.mu.Lock()
		delete(b.timers, userID)
		combined := b.combineLocked(userID)
		b.mu.Unlock()
		if combined != nil {
			b.logger.Debug("buffer wait expired, flushing combined message", "user_id", userID)
			onFlush(*combined, FlushDebounce)
		}
	})
	pending := len(e.texts)
	b.mu.Unlock()

	b.logger.Debug("message buffered", "user_id", userID, "pending", pending)
	return false
}

// Combined drains the user's buffer into one message, or nil when empty.
func (b *Buffer) Combined(userID string) *messaging.InboundMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.combineLocked(userID)
}

// combineLocked must be called with b.mu held.
func (b *Buffer) combineLocked(userID string) *messaging.InboundMessage {
	e, ok := b.entries[userID]
	if !ok || len(e.texts) == 0 {
		return nil
	}

	var combined messaging.InboundMessage
	if len(e.messages) == 1 {
		combined = e.messages[0]
	} else {
		first := e.messages[0]
		combined = messaging.InboundMessage{
			ID:            e.firstMessageID,
			From:          first.From,
			Timestamp:     e.lastActivity.UnixMilli(),
			Type:          "text",
			Body:          strings.Join(e.texts, " "),
			Combined:      true,
			OriginalCount: len(e.messages),
			Originals:     append([]messaging.InboundMessage(nil), e.messages...),
		}
	}

	// Clear everything except the flow-step hint.
	b.entries[userID] = &entry{
		lastActivity: b.now(),
		flowStep:     e.flowStep,
	}
	return &combined
}

// UpdateState records the user's current flow step so the completeness
// heuristic can apply step-specific rules. Unknown users get a fresh entry;
// it never fails.
func (b *Buffer) UpdateState(userID, flowStep string) {
	if userID == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[userID]
	if !ok {
		e = &entry{lastActivity: b.now()}
		b.entries[userID] = e
	}
	e.flowStep = flowStep
}

// Pending reports how many fragments the user has waiting.
func (b *Buffer) Pending(userID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[userID]; ok {
		return len(e.texts)
	}
	return 0
}

// Cleanup evicts entries idle for more than 30 minutes and cancels their
// timers. Callers run it on an interval.
func (b *Buffer) Cleanup() {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	for userID, e := range b.entries {
		if now.Sub(e.lastActivity) <= entryTTL {
			continue
		}
		delete(b.entries, userID)
		if t, ok := b.timers[userID]; ok {
			t.Stop()
			delete(b.timers, userID)
		}
		b.logger.Debug("stale buffer evicted", "user_id", userID)
	}
}

// isCompleteMessage decides whether a newly arrived fragment already reads as
// a finished thought. Short fragments always wait for more input; the
// remaining rules are the documented heuristic surface: question shape,
// imperative request, overall length, terminal punctuation, and rules
// specific to the active flow step.
func isCompleteMessage(text, flowStep string) bool {
	runes := utf8.RuneCountInString(text)
	if runes <= 25 {
		return false
	}

	if questionRE.MatchString(text) {
		return true
	}
	if requestRE.MatchString(text) {
		return true
	}
	if runes > 60 {
		return true
	}
	if strings.HasSuffix(text, ".") || strings.HasSuffix(text, "!") || strings.HasSuffix(text, "?") {
		return true
	}

	lower := strings.ToLower(text)
	switch flowStep {
	case "name":
		if strings.Contains(text, " ") && runes > 10 {
			return true
		}
	case "address", "direccion":
		if digitRE.MatchString(text) && runes > 15 {
			return true
		}
	case "confirmation", "confirmacion":
		if yesNoRE.MatchString(lower) {
			return true
		}
	}
	return false
}
