// Package metrics exposes actor and critic activity to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder records guardian metrics. A nil *Recorder is valid and records
// nothing, so loops can run without a registry.
type Recorder struct {
	trades      *prometheus.CounterVec
	anomalies   *prometheus.CounterVec
	resolutions *prometheus.CounterVec
	criticState prometheus.Gauge
	balance     prometheus.Gauge
	reasoner    *prometheus.HistogramVec
	parseErrors prometheus.Counter
}

// New creates a recorder registered on reg. A nil reg uses the default
// Prometheus registry.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Recorder{
		trades: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardian_trades_total",
				Help: "Tool calls executed by the actor",
			},
			[]string{"tool", "outcome"},
		),
		anomalies: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardian_anomalies_total",
				Help: "Actions flagged as anomalous by the critic",
			},
			[]string{"severity"},
		),
		resolutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardian_resolutions_total",
				Help: "Resolved pending confirmations",
			},
			[]string{"outcome"},
		),
		criticState: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "guardian_critic_state",
				Help: "Current critic state (0 idle, 1 evaluating, 2 safe, 3 flagged, 4 awaiting, 5 reversing, 6 confirmed, 7 timed out)",
			},
		),
		balance: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "guardian_wallet_balance",
				Help: "Wallet balance after the last trade",
			},
		),
		reasoner: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "guardian_reasoner_duration_seconds",
				Help:    "Duration of reasoner calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
		parseErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "guardian_command_parse_errors_total",
				Help: "Prefixed commands that did not match the command grammar",
			},
		),
	}
}

// RecordTrade records an executed tool call. outcome is "ok", "rejected" or "error".
func (r *Recorder) RecordTrade(tool, outcome string) {
	if r == nil {
		return
	}
	r.trades.WithLabelValues(tool, outcome).Inc()
}

// RecordAnomaly records a flagged action.
func (r *Recorder) RecordAnomaly(severity string) {
	if r == nil {
		return
	}
	r.anomalies.WithLabelValues(severity).Inc()
}

// RecordResolution records how a pending confirmation was resolved.
func (r *Recorder) RecordResolution(outcome string) {
	if r == nil {
		return
	}
	r.resolutions.WithLabelValues(outcome).Inc()
}

// SetCriticState records the critic's current state code.
func (r *Recorder) SetCriticState(code int) {
	if r == nil {
		return
	}
	r.criticState.Set(float64(code))
}

// SetBalance records the wallet balance.
func (r *Recorder) SetBalance(balance float64) {
	if r == nil {
		return
	}
	r.balance.Set(balance)
}

// RecordReasonerLatency records reasoner latency in seconds.
func (r *Recorder) RecordReasonerLatency(mode string, seconds float64) {
	if r == nil {
		return
	}
	r.reasoner.WithLabelValues(mode).Observe(seconds)
}

// RecordParseError records a rejected prefixed command.
func (r *Recorder) RecordParseError() {
	if r == nil {
		return
	}
	r.parseErrors.Inc()
}
