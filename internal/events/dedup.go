package events

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	maxFingerprints   = 1000
	evictionBatchSize = 500
	fallbackPrefixLen = 100
)

// DeliveryDeduplicator suppresses repeated webhook deliveries carrying the
// same business payload. WhatsApp delivers webhooks at-least-once, so the
// same batch of messages can arrive more than once under different HTTP
// requests.
//
// The fingerprint is the sorted set of message ids found anywhere in the
// payload. Payloads without message ids fall back to a bounded prefix of the
// serialized body; if serialization fails the fingerprint degrades to a
// timestamp+random value, which can never collide-detect. That last path is a
// documented limitation, not a bug.
type DeliveryDeduplicator struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

// NewDeliveryDeduplicator creates an empty deduplicator.
func NewDeliveryDeduplicator() *DeliveryDeduplicator {
	return &DeliveryDeduplicator{
		seen: make(map[string]struct{}),
	}
}

// IsDuplicate reports whether this payload was already seen. The first sight
// of a fingerprint marks it as seen; repeats return true without side effects.
func (d *DeliveryDeduplicator) IsDuplicate(payload map[string]any) bool {
	fp := Fingerprint(payload)

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[fp]; ok {
		return true
	}

	d.seen[fp] = struct{}{}
	d.order = append(d.order, fp)

	// Insertion order approximates recency: the set is insert-only between
	// evictions, so dropping the oldest half keeps the recent window intact.
	if len(d.seen) > maxFingerprints {
		evicted := d.order[:evictionBatchSize]
		d.order = d.order[evictionBatchSize:]
		for _, old := range evicted {
			delete(d.seen, old)
		}
	}
	return false
}

// Size returns the number of tracked fingerprints.
func (d *DeliveryDeduplicator) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Fingerprint derives a deterministic identifier for a webhook payload from
// the message ids it carries, accepting both the changes[].value.messages[]
// and value.messages[] envelope shapes.
func Fingerprint(payload map[string]any) string {
	ids := collectMessageIDs(payload)
	if len(ids) > 0 {
		sort.Strings(ids)
		return strings.Join(ids, "|")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%s:%d", time.Now().UTC().Format(time.RFC3339Nano), rand.Int63())
	}
	if len(raw) > fallbackPrefixLen {
		raw = raw[:fallbackPrefixLen]
	}
	return string(raw)
}

func collectMessageIDs(payload map[string]any) []string {
	var ids []string

	entries, _ := payload["entry"].([]any)
	for _, e := range entries {
		entry, ok := e.(map[string]any)
		if !ok {
			continue
		}
		if changes, ok := entry["changes"].([]any); ok {
			for _, c := range changes {
				change, ok := c.(map[string]any)
				if !ok {
					continue
				}
				if value, ok := change["value"].(map[string]any); ok {
					ids = append(ids, messageIDsFromValue(value)...)
				}
			}
		}
		if value, ok := entry["value"].(map[string]any); ok {
			ids = append(ids, messageIDsFromValue(value)...)
		}
	}
	return ids
}

func messageIDsFromValue(value map[string]any) []string {
	messages, ok := value["messages"].([]any)
	if !ok {
		return nil
	}
	var ids []string
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		if id, ok := msg["id"].(string); ok && id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
