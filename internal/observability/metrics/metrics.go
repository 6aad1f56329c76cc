package metrics

import "github.com/prometheus/client_golang/prometheus"

// ConciergeMetrics exposes counters/histograms for the WhatsApp message flow.
type ConciergeMetrics struct {
	inboundTotal    *prometheus.CounterVec
	duplicateTotal  prometheus.Counter
	bufferFlushes   *prometheus.CounterVec
	llmCalls        *prometheus.CounterVec
	outboundTotal   *prometheus.CounterVec
	webhookLatency  prometheus.Histogram
	appointmentDone prometheus.Counter
}

func NewConciergeMetrics(reg prometheus.Registerer) *ConciergeMetrics {
	m := &ConciergeMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "messaging",
			Name:      "inbound_webhook_total",
			Help:      "Total inbound WhatsApp webhooks",
		}, []string{"status"}),
		duplicateTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "messaging",
			Name:      "duplicate_deliveries_total",
			Help:      "Webhook deliveries dropped as duplicates",
		}),
		bufferFlushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "messaging",
			Name:      "buffer_flush_total",
			Help:      "Message buffer flushes by reason",
		}, []string{"reason"}),
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "LLM completions by task and status",
		}, []string{"task", "status"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "messaging",
			Name:      "outbound_total",
			Help:      "Total outbound WhatsApp sends",
		}, []string{"type", "status"}),
		webhookLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "concierge",
			Subsystem: "messaging",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of webhook processing",
			Buckets:   prometheus.DefBuckets,
		}),
		appointmentDone: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "appointments",
			Name:      "completed_total",
			Help:      "Appointment flows that reached a recorded order",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.duplicateTotal, m.bufferFlushes,
		m.llmCalls, m.outboundTotal, m.webhookLatency, m.appointmentDone)
	return m
}

func (m *ConciergeMetrics) ObserveInbound(status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(status).Inc()
}

func (m *ConciergeMetrics) ObserveDuplicate() {
	if m == nil {
		return
	}
	m.duplicateTotal.Inc()
}

func (m *ConciergeMetrics) ObserveBufferFlush(reason string) {
	if m == nil {
		return
	}
	m.bufferFlushes.WithLabelValues(reason).Inc()
}

func (m *ConciergeMetrics) ObserveLLMCall(task, status string) {
	if m == nil {
		return
	}
	m.llmCalls.WithLabelValues(task, status).Inc()
}

func (m *ConciergeMetrics) ObserveOutbound(msgType, status string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(msgType, status).Inc()
}

func (m *ConciergeMetrics) ObserveWebhookLatency(seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.Observe(seconds)
}

func (m *ConciergeMetrics) ObserveAppointmentCompleted() {
	if m == nil {
		return
	}
	m.appointmentDone.Inc()
}
