// Package metrics bridges Connection lifecycle counters to Prometheus,
// grounded on the counter/histogram vector style used by laitos's
// ActivityMonitorMetrics. A nil *Metrics is safe to call methods on, so
// instrumentation is opt-in: callers that never construct one pay no cost.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the counters and histograms a Connection reports against,
// labeled by host so a process talking to multiple relays gets per-relay
// breakdowns.
type Metrics struct {
	connectTotal  *prometheus.CounterVec
	connectErrors *prometheus.CounterVec
	authTotal     *prometheus.CounterVec
	sendTotal     *prometheus.CounterVec
	sendDuration  *prometheus.HistogramVec
	rcptRejected  *prometheus.CounterVec
}

// New registers a fresh set of collectors on reg and returns a Metrics
// bound to them. Pass prometheus.DefaultRegisterer for process-wide
// metrics, or a dedicated registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connectTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smtpconn",
			Name:      "connect_total",
			Help:      "Connection attempts, labeled by host.",
		}, []string{"host"}),
		connectErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smtpconn",
			Name:      "connect_errors_total",
			Help:      "Connection attempts that failed, labeled by host and error code.",
		}, []string{"host", "code"}),
		authTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smtpconn",
			Name:      "auth_total",
			Help:      "Login attempts, labeled by host, mechanism, and outcome.",
		}, []string{"host", "mechanism", "outcome"}),
		sendTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smtpconn",
			Name:      "send_total",
			Help:      "Envelope submissions, labeled by host and outcome.",
		}, []string{"host", "outcome"}),
		sendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "smtpconn",
			Name:      "send_duration_seconds",
			Help:      "Time from MAIL FROM through DATA completion, labeled by host.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"host"}),
		rcptRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smtpconn",
			Name:      "rcpt_rejected_total",
			Help:      "Recipients rejected at RCPT TO or LMTP DATA, labeled by host.",
		}, []string{"host"}),
	}

	reg.MustRegister(m.connectTotal, m.connectErrors, m.authTotal, m.sendTotal, m.sendDuration, m.rcptRejected)
	return m
}

// ObserveConnect records a connection attempt and, if code is non-empty,
// the failure it ended with.
func (m *Metrics) ObserveConnect(host, code string) {
	if m == nil {
		return
	}
	m.connectTotal.WithLabelValues(host).Inc()
	if code != "" {
		m.connectErrors.WithLabelValues(host, code).Inc()
	}
}

// ObserveAuth records the outcome of a login attempt for mechanism.
func (m *Metrics) ObserveAuth(host, mechanism, outcome string) {
	if m == nil {
		return
	}
	m.authTotal.WithLabelValues(host, mechanism, outcome).Inc()
}

// ObserveSend records one envelope submission's outcome and duration in
// seconds.
func (m *Metrics) ObserveSend(host, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.sendTotal.WithLabelValues(host, outcome).Inc()
	m.sendDuration.WithLabelValues(host).Observe(seconds)
}

// ObserveRejectedRecipients increments the rejected-recipient counter by n.
func (m *Metrics) ObserveRejectedRecipients(host string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rcptRejected.WithLabelValues(host).Add(float64(n))
}
