package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics tracks the paid-download pipeline: webhook intake,
// settlement outcomes, and token redemptions.
type SettlementMetrics struct {
	webhookEvents   *prometheus.CounterVec
	settlements     *prometheus.CounterVec
	downloads       *prometheus.CounterVec
	settlementTimer *prometheus.HistogramVec
}

// NewSettlementMetrics registers the settlement metrics on the provided registerer.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stripe_webhook_events_total",
		Help: "Stripe webhook events received, by type and outcome.",
	}, []string{"event_type", "outcome"})
	settlements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlements_total",
		Help: "Payment settlements recorded, by outcome.",
	}, []string{"outcome"})
	downloads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "download_redemptions_total",
		Help: "Download token redemptions, by outcome.",
	}, []string{"outcome"})
	settlementTimer := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_duration_seconds",
		Help:    "Duration of webhook settlement processing in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"event_type"})
	reg.MustRegister(webhookEvents, settlements, downloads, settlementTimer)
	return &SettlementMetrics{
		webhookEvents:   webhookEvents,
		settlements:     settlements,
		downloads:       downloads,
		settlementTimer: settlementTimer,
	}
}

// IncWebhookEvent increments the webhook intake counter.
func (m *SettlementMetrics) IncWebhookEvent(eventType, outcome string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

// IncSettlement increments the settlement outcome counter.
func (m *SettlementMetrics) IncSettlement(outcome string) {
	if m == nil || m.settlements == nil {
		return
	}
	m.settlements.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncDownload increments the download redemption counter.
func (m *SettlementMetrics) IncDownload(outcome string) {
	if m == nil || m.downloads == nil {
		return
	}
	m.downloads.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveSettlementDuration records how long a webhook settlement took.
func (m *SettlementMetrics) ObserveSettlementDuration(eventType string, duration time.Duration) {
	if m == nil || m.settlementTimer == nil {
		return
	}
	m.settlementTimer.WithLabelValues(normalizeLabel(eventType)).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
