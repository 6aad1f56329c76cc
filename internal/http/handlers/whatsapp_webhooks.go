// Package handlers exposes the HTTP surface: the Meta webhook endpoints and
// health checks.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/dommoco/whatsapp-concierge/internal/events"
	"github.com/dommoco/whatsapp-concierge/internal/messaging"
	"github.com/dommoco/whatsapp-concierge/internal/observability/metrics"
	"github.com/dommoco/whatsapp-concierge/pkg/logging"
)

// InboundProcessor consumes parsed webhook messages.
type InboundProcessor interface {
	HandleInbound(ctx context.Context, msg messaging.InboundMessage, sender messaging.SenderInfo)
}

// WhatsAppWebhookHandler terminates Meta's webhook callbacks.
type WhatsAppWebhookHandler struct {
	verifyToken string
	dedup       *events.DeliveryDeduplicator
	processor   InboundProcessor
	logger      *logging.Logger
	metrics     *metrics.ConciergeMetrics
	now         func() time.Time
}

// NewWhatsAppWebhookHandler wires the webhook endpoints.
func NewWhatsAppWebhookHandler(verifyToken string, dedup *events.DeliveryDeduplicator, processor InboundProcessor, logger *logging.Logger, m *metrics.ConciergeMetrics) *WhatsAppWebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WhatsAppWebhookHandler{
		verifyToken: verifyToken,
		dedup:       dedup,
		processor:   processor,
		logger:      logger,
		metrics:     m,
		now:         time.Now,
	}
}

// Verify answers Meta's subscription handshake: echo hub.challenge when the
// token matches, 403 otherwise.
func (h *WhatsAppWebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode == "subscribe" && token == h.verifyToken {
		h.logger.Info("webhook verified")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(challenge))
		return
	}
	h.logger.Warn("webhook verification rejected", "mode", mode)
	w.WriteHeader(http.StatusForbidden)
}

// Receive handles POSTed webhook deliveries. It always answers quickly; the
// conversational work happens behind the debounce buffer.
func (h *WhatsAppWebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	started := h.now()
	defer func() {
		h.metrics.ObserveWebhookLatency(h.now().Sub(started).Seconds())
	}()

	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.logger.Warn("webhook body not parseable", "error", err)
		h.metrics.ObserveInbound("bad_request")
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if _, ok := payload["object"]; !ok {
		h.metrics.ObserveInbound("bad_request")
		http.Error(w, "missing object field", http.StatusBadRequest)
		return
	}

	if h.dedup != nil && h.dedup.IsDuplicate(payload) {
		h.logger.Info("duplicate webhook delivery dropped")
		h.metrics.ObserveDuplicate()
		w.WriteHeader(http.StatusOK)
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("webhook processing panicked", "panic", rec)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}()

	for _, msg := range parseMessages(payload, h.now) {
		h.processor.HandleInbound(r.Context(), msg.message, msg.sender)
	}
	w.WriteHeader(http.StatusOK)
}

type parsedInbound struct {
	message messaging.InboundMessage
	sender  messaging.SenderInfo
}

// parseMessages walks both envelope shapes Meta delivers: the documented
// entry[].changes[].value and the flattened entry[].value some test
// deliveries use.
func parseMessages(payload map[string]any, now func() time.Time) []parsedInbound {
	var out []parsedInbound
	entries, _ := payload["entry"].([]any)
	for _, e := range entries {
		entry, ok := e.(map[string]any)
		if !ok {
			continue
		}
		if changes, ok := entry["changes"].([]any); ok {
			for _, c := range changes {
				if change, ok := c.(map[string]any); ok {
					if value, ok := change["value"].(map[string]any); ok {
						out = append(out, parseValue(value, now)...)
					}
				}
			}
		}
		if value, ok := entry["value"].(map[string]any); ok {
			out = append(out, parseValue(value, now)...)
		}
	}
	return out
}

func parseValue(value map[string]any, now func() time.Time) []parsedInbound {
	sender := messaging.SenderInfo{}
	if contacts, ok := value["contacts"].([]any); ok && len(contacts) > 0 {
		if contact, ok := contacts[0].(map[string]any); ok {
			sender.WaID, _ = contact["wa_id"].(string)
			if profile, ok := contact["profile"].(map[string]any); ok {
				sender.ProfileName, _ = profile["name"].(string)
			}
		}
	}

	var out []parsedInbound
	msgs, _ := value["messages"].([]any)
	for _, m := range msgs {
		raw, ok := m.(map[string]any)
		if !ok {
			continue
		}
		msgType, _ := raw["type"].(string)
		if msgType != "text" {
			continue
		}
		msg := messaging.InboundMessage{Type: msgType}
		msg.ID, _ = raw["id"].(string)
		msg.From, _ = raw["from"].(string)
		if text, ok := raw["text"].(map[string]any); ok {
			msg.Body, _ = text["body"].(string)
		}
		msg.Timestamp = parseTimestamp(raw["timestamp"], now)
		out = append(out, parsedInbound{message: msg, sender: sender})
	}
	return out
}

// parseTimestamp converts Meta's second-resolution timestamp (string or
// number) to milliseconds, defaulting to now.
func parseTimestamp(v any, now func() time.Time) int64 {
	switch ts := v.(type) {
	case string:
		if secs, err := strconv.ParseInt(ts, 10, 64); err == nil {
			return secs * 1000
		}
	case float64:
		return int64(ts) * 1000
	}
	return now().UnixMilli()
}
