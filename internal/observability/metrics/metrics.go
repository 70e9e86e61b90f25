package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dental"

// MessagingMetrics exposes counters/histograms for the WhatsApp engine.
type MessagingMetrics struct {
	dispatchTotal  *prometheus.CounterVec
	sendLatency    *prometheus.HistogramVec
	channelUsage   *prometheus.GaugeVec
	channelLimit   *prometheus.GaugeVec
	inboundTotal   *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
	alertsTotal    *prometheus.CounterVec
	tickDuration   prometheus.Histogram
}

// NewMessagingMetrics registers the collectors on reg (default registerer when nil).
func NewMessagingMetrics(reg prometheus.Registerer) *MessagingMetrics {
	m := &MessagingMetrics{
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "jobs_total",
			Help:      "Reminder jobs processed by outcome",
		}, []string{"kind", "outcome"}),
		sendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "send_latency_seconds",
			Help:      "Latency of provider sends",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		channelUsage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channels",
			Name:      "daily_messages",
			Help:      "Messages sent today per channel",
		}, []string{"channel_id"}),
		channelLimit: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channels",
			Name:      "daily_limit",
			Help:      "Daily message quota per channel",
		}, []string{"channel_id"}),
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inbound",
			Name:      "messages_total",
			Help:      "Inbound patient messages by detected intent",
		}, []string{"intent", "status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "inbound",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "raised_total",
			Help:      "Alerts published to staff",
		}, []string{"type", "severity"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "tick_duration_seconds",
			Help:      "Duration of dispatch ticks",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.dispatchTotal, m.sendLatency, m.channelUsage, m.channelLimit,
		m.inboundTotal, m.webhookLatency, m.alertsTotal, m.tickDuration)
	return m
}

func (m *MessagingMetrics) ObserveDispatch(kind, outcome string) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *MessagingMetrics) ObserveSend(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.sendLatency.WithLabelValues(status).Observe(d.Seconds())
}

func (m *MessagingMetrics) SetChannelUsage(channelID string, used, limit int) {
	if m == nil {
		return
	}
	m.channelUsage.WithLabelValues(channelID).Set(float64(used))
	m.channelLimit.WithLabelValues(channelID).Set(float64(limit))
}

func (m *MessagingMetrics) ObserveInbound(intent, status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(intent, status).Inc()
}

func (m *MessagingMetrics) ObserveWebhookLatency(route string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(route).Observe(seconds)
}

func (m *MessagingMetrics) ObserveAlert(alertType, severity string) {
	if m == nil {
		return
	}
	m.alertsTotal.WithLabelValues(alertType, severity).Inc()
}

func (m *MessagingMetrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(d.Seconds())
}
