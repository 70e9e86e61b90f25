package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestMessagingMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMessagingMetrics(reg)
	m.ObserveDispatch("reminder", "sent")
	m.ObserveDispatch("reminder", "sent")
	m.ObserveSend("ok", 120*time.Millisecond)
	m.SetChannelUsage("ch-1", 12, 200)
	m.ObserveInbound("confirmed", "ok")
	m.ObserveWebhookLatency("inbound", 0.05)
	m.ObserveAlert("dispatch_failed", "critical")
	m.ObserveTick(time.Second)

	if got := testutil.ToFloat64(m.dispatchTotal.WithLabelValues("reminder", "sent")); got != 2 {
		t.Fatalf("expected 2 sent jobs, got %v", got)
	}
	if got := testutil.ToFloat64(m.channelUsage.WithLabelValues("ch-1")); got != 12 {
		t.Fatalf("expected usage 12, got %v", got)
	}
}

func TestMessagingMetricsNilSafe(t *testing.T) {
	var m *MessagingMetrics
	m.ObserveDispatch("reminder", "sent")
	m.ObserveSend("ok", time.Second)
	m.SetChannelUsage("ch", 1, 2)
	m.ObserveInbound("unknown", "ok")
	m.ObserveWebhookLatency("inbound", 0.1)
	m.ObserveAlert("x", "info")
	m.ObserveTick(time.Second)
}

func TestSendLatencyHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMessagingMetrics(reg)
	m.ObserveSend("ok", 200*time.Millisecond)
	m.ObserveSend("ok", 2*time.Second)
	m.ObserveSend("error", time.Second)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var family *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "dental_dispatch_send_latency_seconds" {
			family = f
		}
	}
	if family == nil {
		t.Fatalf("send latency histogram not registered")
	}
	for _, metric := range family.GetMetric() {
		if !hasLabel(metric, "status", "ok") {
			continue
		}
		if got := metric.GetHistogram().GetSampleCount(); got != 2 {
			t.Fatalf("expected 2 ok samples, got %d", got)
		}
		return
	}
	t.Fatalf("no series for status=ok")
}

func hasLabel(metric *dto.Metric, name, value string) bool {
	for _, lp := range metric.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}
