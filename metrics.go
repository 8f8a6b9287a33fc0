package openwebnet

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus instrumentation a Manager and its Workers
// report through. A nil *Metrics is valid everywhere it's accepted and
// simply records nothing, so callers that don't care about metrics never
// have to construct one.
type Metrics struct {
	sendsTotal          *prometheus.CounterVec
	sendRetriesTotal    *prometheus.CounterVec
	sessionState        *prometheus.GaugeVec
	sessionReopensTotal *prometheus.CounterVec
}

// NewMetrics creates the gauges/counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sendsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "openwebnet_sends_total",
			Help: "Outgoing sends processed by the send state machine, by gateway, protocol, and terminal result.",
		}, []string{"gateway", "protocol", "result"}),
		sendRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "openwebnet_send_retries_total",
			Help: "Retries issued by the outgoing-message resilience policy, by gateway, protocol, and error kind.",
		}, []string{"gateway", "protocol", "error_kind"}),
		sessionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "openwebnet_session_state",
			Help: "Current state (1) of a gateway session; one series per (gateway, kind, state).",
		}, []string{"gateway", "kind", "state"}),
		sessionReopensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "openwebnet_session_reopens_total",
			Help: "Session reopen attempts performed by the session resilience policy, by gateway and kind.",
		}, []string{"gateway", "kind"}),
	}

	reg.MustRegister(m.sendsTotal, m.sendRetriesTotal, m.sessionState, m.sessionReopensTotal)
	return m
}

func (m *Metrics) observeSend(gateway string, proto Protocol, result string) {
	if m == nil {
		return
	}
	m.sendsTotal.WithLabelValues(gateway, proto.String(), result).Inc()
}

func (m *Metrics) observeRetry(gateway string, proto Protocol, kind SendErrorKind) {
	if m == nil {
		return
	}
	m.sendRetriesTotal.WithLabelValues(gateway, proto.String(), kind.String()).Inc()
}

func (m *Metrics) observeReopen(gateway string, kind SessionKind) {
	if m == nil {
		return
	}
	m.sessionReopensTotal.WithLabelValues(gateway, kind.String()).Inc()
}

// observeState records state as the current state for (gateway, kind),
// zeroing every other known state's series so the gauge behaves like an
// enum rather than an ever-growing set of stale 1s.
func (m *Metrics) observeState(gateway string, kind SessionKind, state SessionState) {
	if m == nil {
		return
	}
	for _, s := range []SessionState{Negotiating, Open, Closing, Closed, Faulted} {
		v := 0.0
		if s == state {
			v = 1
		}
		m.sessionState.WithLabelValues(gateway, kind.String(), s.String()).Set(v)
	}
}
