// Package conversation holds the per-user dialogue state and the engines
// that decide what the concierge answers: intent routing, the appointment
// flow and the orchestrator that ties webhook deliveries to replies.
package conversation

import (
	"strings"
	"sync"
	"time"
)

const (
	// maxHistoryTurns bounds the rolling context window sent to the model.
	maxHistoryTurns = 8
	// maxRecentResponses bounds the stored assistant replies used for
	// repetition detection.
	maxRecentResponses = 10
	// processedIDTTL is how long a message id stays in the processed cache.
	processedIDTTL = time.Hour
)

// HistoryTurn is one exchange entry in a user's rolling history.
type HistoryTurn struct {
	Role    string
	Content string
}

// Appointment carries the partial order collected by the scheduling flow.
// Phone is only captured when the customer volunteers one; the flow never
// asks for it.
type Appointment struct {
	Active      bool
	Step        Step
	Name        string
	Giftee      string
	Date        string
	TimeSlot    string
	Description string
	Address     string
	Phone       string
}

type userState struct {
	history          []HistoryTurn
	appointment      Appointment
	assistantStep    string
	recentResponses  []string
	interactionCount int
	lastProcessedAt  time.Time
	lastMessageTime  time.Time
	lastIntentText   string
	lastIntent       *Context
	processedIDs     map[string]time.Time
}

// StateStore keeps all in-memory per-user conversation state. Safe for
// concurrent use.
type StateStore struct {
	mu    sync.Mutex
	users map[string]*userState
	now   func() time.Time
}

// NewStateStore creates an empty store.
func NewStateStore() *StateStore {
	return &StateStore{users: make(map[string]*userState), now: time.Now}
}

func (s *StateStore) user(userID string) *userState {
	u, ok := s.users[userID]
	if !ok {
		u = &userState{processedIDs: make(map[string]time.Time)}
		s.users[userID] = u
	}
	return u
}

// AppendHistory adds a turn, dropping consecutive duplicates and trimming to
// the window size.
func (s *StateStore) AppendHistory(userID, role, content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.user(userID)
	if n := len(u.history); n > 0 {
		last := u.history[n-1]
		if last.Role == role && last.Content == content {
			return
		}
	}
	u.history = append(u.history, HistoryTurn{Role: role, Content: content})
	if len(u.history) > maxHistoryTurns {
		u.history = u.history[len(u.history)-maxHistoryTurns:]
	}
}

// History returns a copy of the user's rolling history.
func (s *StateStore) History(userID string) []HistoryTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.user(userID)
	out := make([]HistoryTurn, len(u.history))
	copy(out, u.history)
	return out
}

// Appointment returns the user's current appointment snapshot.
func (s *StateStore) Appointment(userID string) Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user(userID).appointment
}

// SetAppointment replaces the user's appointment state.
func (s *StateStore) SetAppointment(userID string, a Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user(userID).appointment = a
}

// ClearAppointment resets the flow after completion or cancellation.
func (s *StateStore) ClearAppointment(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user(userID).appointment = Appointment{}
}

// SetAssistantStep records where the assistant left the conversation
// (welcome_sent, sales_interaction, ...).
func (s *StateStore) SetAssistantStep(userID, step string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user(userID).assistantStep = step
}

// AssistantStep returns the last recorded assistant step.
func (s *StateStore) AssistantStep(userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user(userID).assistantStep
}

// RecordResponse stores an assistant reply for repetition detection.
func (s *StateStore) RecordResponse(userID, reply string) {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.user(userID)
	u.recentResponses = append(u.recentResponses, reply)
	if len(u.recentResponses) > maxRecentResponses {
		u.recentResponses = u.recentResponses[len(u.recentResponses)-maxRecentResponses:]
	}
}

// RecentResponses returns up to the last three assistant replies.
func (s *StateStore) RecentResponses(userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.user(userID)
	n := len(u.recentResponses)
	if n > 3 {
		n = 3
	}
	out := make([]string, n)
	copy(out, u.recentResponses[len(u.recentResponses)-n:])
	return out
}

// TouchInteraction bumps the interaction counter and last-processed time.
func (s *StateStore) TouchInteraction(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.user(userID)
	u.interactionCount++
	u.lastProcessedAt = s.now()
	return u.interactionCount
}

// LastProcessedAt returns when the user's last turn finished processing.
func (s *StateStore) LastProcessedAt(userID string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user(userID).lastProcessedAt
}

// ObserveMessageTime records an inbound message timestamp and reports whether
// it is older than the last one seen by more than the given tolerance.
func (s *StateStore) ObserveMessageTime(userID string, ts time.Time, tolerance time.Duration) (outOfSequence bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.user(userID)
	if !u.lastMessageTime.IsZero() && u.lastMessageTime.Sub(ts) > tolerance {
		return true
	}
	if ts.After(u.lastMessageTime) {
		u.lastMessageTime = ts
	}
	return false
}

// MarkProcessed records a message id; it reports false when the id was seen
// within the TTL already. Expired ids are purged lazily.
func (s *StateStore) MarkProcessed(userID, messageID string) bool {
	if messageID == "" {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.user(userID)
	now := s.now()
	for id, at := range u.processedIDs {
		if now.Sub(at) > processedIDTTL {
			delete(u.processedIDs, id)
		}
	}
	if _, seen := u.processedIDs[messageID]; seen {
		return false
	}
	u.processedIDs[messageID] = now
	return true
}

// CacheIntent stores the last classification for a text so an identical
// follow-up skips the model.
func (s *StateStore) CacheIntent(userID, text string, ic Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.user(userID)
	u.lastIntentText = text
	cp := ic
	u.lastIntent = &cp
}

// CachedIntent returns the stored classification when the text matches.
func (s *StateStore) CachedIntent(userID, text string) (Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.user(userID)
	if u.lastIntent == nil || u.lastIntentText != text {
		return Context{}, false
	}
	return *u.lastIntent, true
}
