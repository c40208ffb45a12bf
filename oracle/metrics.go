package oracle

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the internal prometheus counters surfaced through the
// Status Surface's /stats endpoint (not a separate /metrics endpoint —
// the status endpoints don't expose one).
type Metrics struct {
	registry                *prometheus.Registry
	fulfillTimeTotal        *prometheus.CounterVec
	failedConfirmationTotal *prometheus.CounterVec
	executionTimeoutTotal   *prometheus.CounterVec
	submitterRetryTotal     *prometheus.CounterVec
	alertsTotal             *prometheus.CounterVec
}

// NewMetrics constructs and registers a fresh Metrics instance against its
// own registry, so multiple oracle instances in the same process (tests) do
// not collide on the default global registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		fulfillTimeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fulfill_time_total",
			Help: "Count of fulfillTime callbacks submitted, by chain.",
		}, []string{"chain"}),
		failedConfirmationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "failed_confirmation_total",
			Help: "Count of handleFailedConfirmation callbacks submitted, by chain.",
		}, []string{"chain"}),
		executionTimeoutTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "execution_timeout_total",
			Help: "Count of handleExecutionTimeout callbacks submitted, by chain.",
		}, []string{"chain"}),
		submitterRetryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "submitter_retry_total",
			Help: "Count of retryable submission attempts, by chain.",
		}, []string{"chain"}),
		alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alerts_total",
			Help: "Count of operator-visible alert conditions, by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.fulfillTimeTotal, m.failedConfirmationTotal, m.executionTimeoutTotal, m.submitterRetryTotal, m.alertsTotal)
	return m
}

func (m *Metrics) recordFulfillTime(chain Chain) {
	if m == nil {
		return
	}
	m.fulfillTimeTotal.WithLabelValues(chain.String()).Inc()
}

func (m *Metrics) recordFailedConfirmation(chain Chain) {
	if m == nil {
		return
	}
	m.failedConfirmationTotal.WithLabelValues(chain.String()).Inc()
}

func (m *Metrics) recordExecutionTimeout(chain Chain) {
	if m == nil {
		return
	}
	m.executionTimeoutTotal.WithLabelValues(chain.String()).Inc()
}

// RecordAttempt implements submitter.Metrics.
func (m *Metrics) RecordAttempt(chain string, retryable bool) {
	if m == nil || !retryable {
		return
	}
	m.submitterRetryTotal.WithLabelValues(chain).Inc()
}

// RecordTerminalFailure implements submitter.Metrics; terminal failures are
// visible via the alerts counter rather than a dedicated series.
func (m *Metrics) RecordTerminalFailure(chain string) {
	if m == nil {
		return
	}
	m.alertsTotal.WithLabelValues("submit_terminal_failure").Inc()
}

// RecordSuccess implements submitter.Metrics; success is already captured
// by the fulfillTime/failedConfirmation/executionTimeout counters recorded
// at the call site, so this is intentionally a no-op.
func (m *Metrics) RecordSuccess(chain string) {}

// RecordCancelRevert increments the alert counter when
// handleFailedConfirmation itself reverts with a non-nonce error,
// surfacing it as an alert rather than a silent drop.
func (m *Metrics) RecordCancelRevert() {
	if m == nil {
		return
	}
	m.alertsTotal.WithLabelValues("cancel_revert").Inc()
}

// Gather returns the current counter values as a flat map keyed by metric
// and label, for the /stats JSON payload.
func (m *Metrics) Gather() map[string]float64 {
	out := make(map[string]float64)
	if m == nil {
		return out
	}
	families, err := m.registry.Gather()
	if err != nil {
		return out
	}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			key := family.GetName()
			for _, label := range metric.GetLabel() {
				key += "{" + label.GetName() + "=" + label.GetValue() + "}"
			}
			out[key] = metric.GetCounter().GetValue()
		}
	}
	return out
}
