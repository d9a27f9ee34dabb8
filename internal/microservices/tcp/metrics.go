package tcp

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Label values.
const (
	kindRequest = "request"
	kindAnswer  = "answer"

	reasonMalformed       = "malformed"
	reasonClientNotFound  = "client_not_found"
	reasonUnmatchedAnswer = "unmatched_answer"
	reasonUnknownTemplate = "unknown_template"
	reasonRateLimited     = "rate_limited"
	reasonOversize        = "oversize"
)

// Metrics counts protocol traffic. A nil *Metrics is valid and records
// nothing, so components never need to check whether metrics are enabled.
type Metrics struct {
	receivedTotal  *prometheus.CounterVec
	droppedTotal   *prometheus.CounterVec
	answersTotal   *prometheus.CounterVec
	sentTotal      *prometheus.CounterVec
	timeoutsTotal  prometheus.Counter
	throttledTotal prometheus.Counter
}

// NewMetrics creates protocol metrics and registers them with registry.
// If registry is nil the metrics are created but not registered.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		receivedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pkthub",
				Subsystem: "dispatcher",
				Name:      "messages_received_total",
				Help:      "Inbound packets routed to a template, by kind.",
			},
			[]string{"kind"},
		),
		droppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pkthub",
				Subsystem: "dispatcher",
				Name:      "messages_dropped_total",
				Help:      "Inbound frames discarded without an answer, by reason.",
			},
			[]string{"reason"},
		),
		answersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pkthub",
				Subsystem: "dispatcher",
				Name:      "answers_sent_total",
				Help:      "Answers written to peers, by result code.",
			},
			[]string{"code"},
		),
		sentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pkthub",
				Subsystem: "dispatcher",
				Name:      "requests_sent_total",
				Help:      "Outbound requests originated by this side, by request name.",
			},
			[]string{"request_name"},
		),
		timeoutsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "pkthub",
				Subsystem: "dispatcher",
				Name:      "requests_timed_out_total",
				Help:      "Outbound requests expired without an answer.",
			},
		),
		throttledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "pkthub",
				Subsystem: "connection",
				Name:      "requests_throttled_total",
				Help:      "Inbound requests over the rate limit, answered with ERROR.",
			},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.receivedTotal,
			m.droppedTotal,
			m.answersTotal,
			m.sentTotal,
			m.timeoutsTotal,
			m.throttledTotal,
		)
	}
	return m
}

// RegisterStateGauges exposes live client and pending-request counts.
func RegisterStateGauges(registry prometheus.Registerer, clients *ClientRegistry, d *Dispatcher) error {
	connected := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "pkthub",
			Subsystem: "server",
			Name:      "clients_connected",
			Help:      "Currently registered clients.",
		},
		func() float64 { return float64(clients.Count()) },
	)
	pending := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "pkthub",
			Subsystem: "dispatcher",
			Name:      "requests_pending",
			Help:      "Outbound requests waiting for an answer.",
		},
		func() float64 { return float64(d.TotalPending()) },
	)
	if err := registry.Register(connected); err != nil {
		return err
	}
	return registry.Register(pending)
}

func (m *Metrics) received(kind string) {
	if m == nil {
		return
	}
	m.receivedTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) dropped(reason string) {
	if m == nil {
		return
	}
	m.droppedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) answerSent(code Code) {
	if m == nil {
		return
	}
	m.answersTotal.WithLabelValues(string(code)).Inc()
}

func (m *Metrics) requestSent(name string) {
	if m == nil {
		return
	}
	m.sentTotal.WithLabelValues(name).Inc()
}

func (m *Metrics) timedOut() {
	if m == nil {
		return
	}
	m.timeoutsTotal.Inc()
}

func (m *Metrics) throttled() {
	if m == nil {
		return
	}
	m.throttledTotal.Inc()
}
