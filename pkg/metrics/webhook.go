package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics counts provider callback outcomes.
type WebhookMetrics struct {
	events *prometheus.CounterVec
}

// NewWebhookMetrics registers webhook counters on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Webhook deliveries by provider and processing result.",
	}, []string{"provider", "result"})
	reg.MustRegister(events)
	return &WebhookMetrics{events: events}
}

// IncEvent counts one webhook delivery outcome.
// Known results: applied, duplicate, rejected, unauthorized, unknown_payment, error.
func (w *WebhookMetrics) IncEvent(provider, result string) {
	if w == nil || w.events == nil {
		return
	}
	w.events.WithLabelValues(normalizeLabel(provider), normalizeLabel(result)).Inc()
}
