package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the bot's prometheus collectors.
//
// All methods are safe on a nil *Metrics so components can run without metrics in tests.
type Metrics struct {
	Dispatched         prometheus.Counter
	SendErrors         *prometheus.CounterVec
	Confirmed          prometheus.Counter
	Retries            prometheus.Counter
	Abandoned          prometheus.Counter
	RetryDropped       prometheus.Counter
	Evicted            prometheus.Counter
	ResolutionFailures prometheus.Counter
	Pending            prometheus.Gauge
	RosterSize         prometheus.Gauge
	BroadcastSent      prometheus.Counter
	BroadcastFailed    prometheus.Counter
	Inbound            *prometheus.CounterVec
	Answers            *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		Dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xiaov_dispatch_sent_total",
			Help: "Total group messages dispatched (first attempt).",
		}),
		SendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xiaov_send_errors_total",
			Help: "Total send calls that reported an error, by path.",
		}, []string{"path"}),
		Confirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xiaov_dispatch_confirmed_total",
			Help: "Total pending messages confirmed by the shadow listener.",
		}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xiaov_dispatch_retries_total",
			Help: "Total resends issued by retry tasks.",
		}),
		Abandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xiaov_dispatch_abandoned_total",
			Help: "Total dispatches that exhausted retries without confirmation.",
		}),
		RetryDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xiaov_dispatch_retry_dropped_total",
			Help: "Total retry tasks dropped because the retry queue was full or stopped.",
		}),
		Evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xiaov_pending_evicted_total",
			Help: "Total pending entries evicted by the capacity bound.",
		}),
		ResolutionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xiaov_roster_resolution_failures_total",
			Help: "Total group lookups that missed even after a roster refresh.",
		}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "xiaov_pending_messages",
			Help: "Current number of pending (unconfirmed) messages.",
		}),
		RosterSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "xiaov_roster_groups",
			Help: "Number of groups in the current roster.",
		}),
		BroadcastSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xiaov_broadcast_sent_total",
			Help: "Total broadcast sends.",
		}),
		BroadcastFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xiaov_broadcast_failed_total",
			Help: "Total broadcasts aborted by a send error.",
		}),
		Inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xiaov_inbound_messages_total",
			Help: "Total inbound messages, by kind.",
		}, []string{"kind"}),
		Answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xiaov_answers_total",
			Help: "Total answers produced, by source.",
		}, []string{"source"}),
	}
}

// Register adds all collectors to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	if m == nil || reg == nil {
		return nil
	}
	for _, c := range []prometheus.Collector{
		m.Dispatched, m.SendErrors, m.Confirmed, m.Retries, m.Abandoned, m.RetryDropped,
		m.Evicted, m.ResolutionFailures, m.Pending, m.RosterSize,
		m.BroadcastSent, m.BroadcastFailed, m.Inbound, m.Answers,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) IncDispatched() {
	if m != nil {
		m.Dispatched.Inc()
	}
}

func (m *Metrics) IncSendError(path string) {
	if m != nil {
		m.SendErrors.WithLabelValues(path).Inc()
	}
}

func (m *Metrics) IncConfirmed() {
	if m != nil {
		m.Confirmed.Inc()
	}
}

func (m *Metrics) IncRetry() {
	if m != nil {
		m.Retries.Inc()
	}
}

func (m *Metrics) IncAbandoned() {
	if m != nil {
		m.Abandoned.Inc()
	}
}

func (m *Metrics) IncRetryDropped() {
	if m != nil {
		m.RetryDropped.Inc()
	}
}

func (m *Metrics) AddEvicted(n int) {
	if m != nil && n > 0 {
		m.Evicted.Add(float64(n))
	}
}

func (m *Metrics) IncResolutionFailure() {
	if m != nil {
		m.ResolutionFailures.Inc()
	}
}

func (m *Metrics) SetPending(n int) {
	if m != nil {
		m.Pending.Set(float64(n))
	}
}

func (m *Metrics) SetRosterSize(n int) {
	if m != nil {
		m.RosterSize.Set(float64(n))
	}
}

func (m *Metrics) IncBroadcastSent() {
	if m != nil {
		m.BroadcastSent.Inc()
	}
}

func (m *Metrics) IncBroadcastFailed() {
	if m != nil {
		m.BroadcastFailed.Inc()
	}
}

func (m *Metrics) IncInbound(kind string) {
	if m != nil {
		m.Inbound.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncAnswer(source string) {
	if m != nil {
		m.Answers.WithLabelValues(source).Inc()
	}
}
