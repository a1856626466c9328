package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "huddle"

var deliveryStates = []string{"DISCONNECTED", "CONNECTING", "CONNECTED_PUSH", "POLLING"}

// Metrics holds the daemon's collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	deliveryState *prometheus.GaugeVec
	reconnects    prometheus.Counter
	fetches       *prometheus.CounterVec
	unreadTotal   prometheus.Gauge
	newMessages   prometheus.Counter
	notifications *prometheus.CounterVec
	suppressed    *prometheus.CounterVec
	sends         *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		deliveryState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "delivery_state",
			Help:      "1 for the current delivery channel state, 0 otherwise.",
		}, []string{"state"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_reconnects_total",
			Help:      "Push transport reconnect attempts.",
		}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Backend refreshes by trigger and result.",
		}, []string{"source", "result"}),
		unreadTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unread_total",
			Help:      "Last server-reported unread total.",
		}),
		newMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciled_new_messages_total",
			Help:      "New-message events detected by unread reconciliation.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications shown per surface.",
		}, []string{"surface"}),
		suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_suppressed_total",
			Help:      "Dispatches that showed nothing, by reason.",
		}, []string{"reason"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "Outgoing messages by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.deliveryState, m.reconnects, m.fetches, m.unreadTotal,
		m.newMessages, m.notifications, m.suppressed, m.sends,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// DeliveryState marks state as the current delivery channel state.
func (m *Metrics) DeliveryState(state string) {
	if m == nil {
		return
	}
	for _, s := range deliveryStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.deliveryState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// Fetch counts one refresh from source.
func (m *Metrics) Fetch(source string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.fetches.WithLabelValues(source, result).Inc()
}

func (m *Metrics) UnreadTotal(n int) {
	if m == nil {
		return
	}
	m.unreadTotal.Set(float64(n))
}

func (m *Metrics) NewMessages(n int) {
	if m == nil {
		return
	}
	m.newMessages.Add(float64(n))
}

func (m *Metrics) Notification(surface string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(surface).Inc()
}

func (m *Metrics) Suppressed(reason string) {
	if m == nil {
		return
	}
	m.suppressed.WithLabelValues(reason).Inc()
}

func (m *Metrics) Send(result string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(result).Inc()
}
