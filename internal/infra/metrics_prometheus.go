package infra

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "droc"

type counterDesc struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func(s MetricsSnapshot) float64
}

// PrometheusCollector exposes a Metrics instance to a Prometheus registry.
type PrometheusCollector struct {
	metrics *Metrics
	descs   []counterDesc
}

func newDesc(name, help string, kind prometheus.ValueType, value func(s MetricsSnapshot) float64) counterDesc {
	return counterDesc{
		desc:  prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "", name), help, nil, nil),
		kind:  kind,
		value: value,
	}
}

// NewPrometheusCollector wraps m. Register it with prometheus.MustRegister.
func NewPrometheusCollector(m *Metrics) *PrometheusCollector {
	counter, gauge := prometheus.CounterValue, prometheus.GaugeValue
	return &PrometheusCollector{
		metrics: m,
		descs: []counterDesc{
			newDesc("events_journaled_total", "Events persisted to the journal.", counter, func(s MetricsSnapshot) float64 { return float64(s.EventsJournaled) }),
			newDesc("events_dropped_total", "Events dropped by a full journal inbox.", counter, func(s MetricsSnapshot) float64 { return float64(s.EventsDropped) }),
			newDesc("submits_total", "Commitments submitted.", counter, func(s MetricsSnapshot) float64 { return float64(s.Submits) }),
			newDesc("matches_total", "Taker matches accepted.", counter, func(s MetricsSnapshot) float64 { return float64(s.Matches) }),
			newDesc("fills_total", "Fills settled.", counter, func(s MetricsSnapshot) float64 { return float64(s.Fills) }),
			newDesc("jit_requests_total", "JIT confirmation requests raised.", counter, func(s MetricsSnapshot) float64 { return float64(s.JITRequests) }),
			newDesc("jit_confirms_total", "JIT matches accepted by makers.", counter, func(s MetricsSnapshot) float64 { return float64(s.JITConfirms) }),
			newDesc("jit_rejects_total", "JIT matches rejected by makers.", counter, func(s MetricsSnapshot) float64 { return float64(s.JITRejects) }),
			newDesc("pruned_total", "Expired commitments pruned.", counter, func(s MetricsSnapshot) float64 { return float64(s.Pruned) }),
			newDesc("rewards_paid_total", "Reward distributions paid.", counter, func(s MetricsSnapshot) float64 { return float64(s.RewardsPaid) }),
			newDesc("reward_amount_total", "Sum of reward amounts paid.", counter, func(s MetricsSnapshot) float64 { return float64(s.RewardTotal) }),
			newDesc("errors_total", "Failed operations.", counter, func(s MetricsSnapshot) float64 { return float64(s.ErrorsTotal) }),
			newDesc("oracle_failures_total", "Failed oracle lookups and polls.", counter, func(s MetricsSnapshot) float64 { return float64(s.OracleFailures) }),
			newDesc("journal_latency_avg_ns", "Average journal persistence latency.", gauge, func(s MetricsSnapshot) float64 { return float64(s.AvgLatencyNs) }),
			newDesc("live_commitments", "Commitments currently live.", gauge, func(s MetricsSnapshot) float64 { return float64(s.LiveCommitments) }),
			newDesc("oracle_connections", "Open oracle feed connections.", gauge, func(s MetricsSnapshot) float64 { return float64(s.ActiveConnections) }),
			newDesc("oracle_circuit_open", "1 when the oracle circuit breaker is open.", gauge, func(s MetricsSnapshot) float64 {
				if s.CircuitOpen {
					return 1
				}
				return 0
			}),
		},
	}
}

func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d.desc
	}
}

func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.metrics.Snapshot()
	for _, d := range c.descs {
		ch <- prometheus.MustNewConstMetric(d.desc, d.kind, d.value(snap))
	}
}
