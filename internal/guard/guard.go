// Package guard tracks in-flight (user, message) processing to stop duplicate
// and near-simultaneous deliveries from producing two replies to what is
// conversationally one turn. It is a best-effort recency window, not a mutex;
// the accepted failure mode is documented in the design notes.
package guard

import (
	"sync"
	"time"
)

const (
	// maxProcessingAge bounds how long a record survives before lazy purge.
	maxProcessingAge = 5 * time.Minute
	// recencyWindow is how close a second message must be to count as part of
	// the same conversational turn.
	recencyWindow = 5 * time.Second
	// staleAfter is the age at which Finish sweeps leftover records for a user.
	staleAfter = 10 * time.Second
)

type record struct {
	userID    string
	messageID string
	startedAt time.Time
	relatedTo string
}

// Result reports how Begin classified the message.
type Result struct {
	// AlreadyProcessing is true for both self-duplicates and related messages.
	AlreadyProcessing bool
	// Self means this exact (user, message) pair is already in flight.
	Self bool
	// Related means another message from the same user is in flight and this
	// one arrived within the recency window; RelatedTo names it.
	Related   bool
	RelatedTo string
}

// Guard is safe for concurrent use.
type Guard struct {
	mu      sync.Mutex
	records map[string]record
	now     func() time.Time
}

// New creates an empty Guard.
func New() *Guard {
	return &Guard{
		records: make(map[string]record),
		now:     time.Now,
	}
}

func key(userID, messageID string) string {
	return userID + "_" + messageID
}

// Begin registers a message as in flight and classifies it against the
// existing records. Records older than the max processing age are purged
// lazily here.
func (g *Guard) Begin(userID, messageID string) Result {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for k, r := range g.records {
		if now.Sub(r.startedAt) > maxProcessingAge {
			delete(g.records, k)
		}
	}

	k := key(userID, messageID)
	if _, ok := g.records[k]; ok {
		return Result{AlreadyProcessing: true, Self: true}
	}

	// Another recent in-flight message from this user means the new one is
	// part of the same turn: register it as related so Finish can sweep it.
	var earliest *record
	for _, r := range g.records {
		r := r
		if r.userID != userID || now.Sub(r.startedAt) >= recencyWindow {
			continue
		}
		if earliest == nil || r.startedAt.Before(earliest.startedAt) {
			earliest = &r
		}
	}
	if earliest != nil {
		g.records[k] = record{userID: userID, messageID: messageID, startedAt: now, relatedTo: earliest.messageID}
		return Result{AlreadyProcessing: true, Related: true, RelatedTo: earliest.messageID}
	}

	g.records[k] = record{userID: userID, messageID: messageID, startedAt: now}
	return Result{}
}

// Finish removes the record along with anything related to it and any stale
// record for the same user.
func (g *Guard) Finish(userID, messageID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	delete(g.records, key(userID, messageID))
	for k, r := range g.records {
		if r.userID != userID {
			continue
		}
		if r.relatedTo == messageID || now.Sub(r.startedAt) > staleAfter {
			delete(g.records, k)
		}
	}
}

// InFlight reports how many records exist, for tests and debugging.
func (g *Guard) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.records)
}
