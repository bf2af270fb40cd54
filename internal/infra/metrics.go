package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight engine counters.
// Uses atomic operations for thread-safety; exported via PrometheusCollector.
type Metrics struct {
	// Journal
	eventsJournaled atomic.Uint64
	eventsDropped   atomic.Uint64

	// Lifecycle counters
	submits     atomic.Uint64
	matches     atomic.Uint64
	fills       atomic.Uint64
	jitRequests atomic.Uint64
	jitConfirms atomic.Uint64
	jitRejects  atomic.Uint64
	pruned      atomic.Uint64
	rewardsPaid atomic.Uint64
	rewardTotal atomic.Int64
	errorsTotal atomic.Uint64
	oracleFails atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	liveCommitments   atomic.Int64
	activeConnections atomic.Int32
	circuitOpen       atomic.Int32 // 1 = open, 0 = closed
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordEvent records a journaled event with its persistence latency.
func (m *Metrics) RecordEvent(latencyNs int64) {
	m.eventsJournaled.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordDropped records an event rejected by a full journal inbox.
func (m *Metrics) RecordDropped() { m.eventsDropped.Add(1) }

// RecordError records a failed operation.
func (m *Metrics) RecordError() { m.errorsTotal.Add(1) }

// RecordOracleFailure records a failed oracle lookup or poll.
func (m *Metrics) RecordOracleFailure() { m.oracleFails.Add(1) }

// RecordSubmit records a new live commitment.
func (m *Metrics) RecordSubmit() {
	m.submits.Add(1)
	m.liveCommitments.Add(1)
}

// RecordMatch records an accepted taker match.
func (m *Metrics) RecordMatch() { m.matches.Add(1) }

// RecordFill records a settled fill; completed fills leave the live set.
func (m *Metrics) RecordFill(completed bool) {
	m.fills.Add(1)
	if completed {
		m.liveCommitments.Add(-1)
	}
}

func (m *Metrics) RecordJITRequest() { m.jitRequests.Add(1) }
func (m *Metrics) RecordJITConfirm() { m.jitConfirms.Add(1) }
func (m *Metrics) RecordJITReject()  { m.jitRejects.Add(1) }

// RecordPrune records n commitments removed after expiry.
func (m *Metrics) RecordPrune(n int) {
	m.pruned.Add(uint64(n))
	m.liveCommitments.Add(-int64(n))
}

// RecordReward records a reward payout.
func (m *Metrics) RecordReward(amount int64) {
	m.rewardsPaid.Add(1)
	m.rewardTotal.Add(amount)
}

// SetLiveCommitments overrides the live gauge (used after restart).
func (m *Metrics) SetLiveCommitments(n int64) { m.liveCommitments.Store(n) }

// SetActiveConnections sets the current active connection count.
func (m *Metrics) SetActiveConnections(count int32) {
	m.activeConnections.Store(count)
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// SetCircuitState sets the circuit breaker state (true = open).
func (m *Metrics) SetCircuitState(open bool) {
	if open {
		m.circuitOpen.Store(1)
	} else {
		m.circuitOpen.Store(0)
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	EventsJournaled   uint64
	EventsDropped     uint64
	Submits           uint64
	Matches           uint64
	Fills             uint64
	JITRequests       uint64
	JITConfirms       uint64
	JITRejects        uint64
	Pruned            uint64
	RewardsPaid       uint64
	RewardTotal       int64
	ErrorsTotal       uint64
	OracleFailures    uint64
	AvgLatencyNs      int64
	LiveCommitments   int64
	ActiveConnections int32
	CircuitOpen       bool
	Timestamp         time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		EventsJournaled:   m.eventsJournaled.Load(),
		EventsDropped:     m.eventsDropped.Load(),
		Submits:           m.submits.Load(),
		Matches:           m.matches.Load(),
		Fills:             m.fills.Load(),
		JITRequests:       m.jitRequests.Load(),
		JITConfirms:       m.jitConfirms.Load(),
		JITRejects:        m.jitRejects.Load(),
		Pruned:            m.pruned.Load(),
		RewardsPaid:       m.rewardsPaid.Load(),
		RewardTotal:       m.rewardTotal.Load(),
		ErrorsTotal:       m.errorsTotal.Load(),
		OracleFailures:    m.oracleFails.Load(),
		AvgLatencyNs:      avgLatency,
		LiveCommitments:   m.liveCommitments.Load(),
		ActiveConnections: m.activeConnections.Load(),
		CircuitOpen:       m.circuitOpen.Load() == 1,
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	for _, c := range []*atomic.Uint64{
		&m.eventsJournaled, &m.eventsDropped, &m.submits, &m.matches, &m.fills,
		&m.jitRequests, &m.jitConfirms, &m.jitRejects, &m.pruned, &m.rewardsPaid,
		&m.errorsTotal, &m.oracleFails, &m.latencyCount,
	} {
		c.Store(0)
	}
	m.rewardTotal.Store(0)
	m.latencySumNs.Store(0)
	m.liveCommitments.Store(0)
	m.activeConnections.Store(0)
	m.circuitOpen.Store(0)
}
