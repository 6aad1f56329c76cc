package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dommoco/whatsapp-concierge/internal/events"
	"github.com/dommoco/whatsapp-concierge/internal/http/handlers"
	"github.com/dommoco/whatsapp-concierge/internal/messaging"
	"github.com/dommoco/whatsapp-concierge/pkg/logging"
)

type noopProcessor struct{}

func (noopProcessor) HandleInbound(context.Context, messaging.InboundMessage, messaging.SenderInfo) {
}

func TestHealthEndpoint(t *testing.T) {
	h := New(Config{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestWebhookRoutesMounted(t *testing.T) {
	wh := handlers.NewWhatsAppWebhookHandler("tok", events.NewDeliveryDeduplicator(), noopProcessor{}, logging.Default(), nil)
	h := New(Config{Webhooks: wh})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=tok&hub.challenge=ping", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ping", rr.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	h := New(Config{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}
