package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	betsPlaced           atomic.Uint64
	betsRejected         atomic.Uint64
	roundsSettled        atomic.Uint64
	settlementsConfirmed atomic.Uint64
	settlementsFailed    atomic.Uint64
	settlementRetries    atomic.Uint64
	errorsTotal          atomic.Uint64

	// Latency tracking (coordinator event processing)
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeRooms       atomic.Int32
	activeConnections atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordEvent records a coordinator event with its processing latency.
func (m *Metrics) RecordEvent(latencyNs int64) {
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordBetPlaced records an accepted bet.
func (m *Metrics) RecordBetPlaced() {
	m.betsPlaced.Add(1)
}

// RecordBetRejected records a synchronously rejected bet.
func (m *Metrics) RecordBetRejected() {
	m.betsRejected.Add(1)
}

// RecordRoundSettled records a round reaching Closed.
func (m *Metrics) RecordRoundSettled() {
	m.roundsSettled.Add(1)
}

// RecordSettlementConfirmed records a ledger-confirmed settlement.
func (m *Metrics) RecordSettlementConfirmed() {
	m.settlementsConfirmed.Add(1)
}

// RecordSettlementFailed records a settlement entering the
// reconciliation queue.
func (m *Metrics) RecordSettlementFailed() {
	m.settlementsFailed.Add(1)
}

// RecordSettlementRetry records a transient ledger failure being retried.
func (m *Metrics) RecordSettlementRetry() {
	m.settlementRetries.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// SetActiveRooms sets the current live room count.
func (m *Metrics) SetActiveRooms(count int32) {
	m.activeRooms.Store(count)
}

// IncrementConnections increments active websocket connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active websocket connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	BetsPlaced           uint64
	BetsRejected         uint64
	RoundsSettled        uint64
	SettlementsConfirmed uint64
	SettlementsFailed    uint64
	SettlementRetries    uint64
	ErrorsTotal          uint64
	AvgLatencyNs         int64
	ActiveRooms          int32
	ActiveConnections    int32
	Timestamp            time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		BetsPlaced:           m.betsPlaced.Load(),
		BetsRejected:         m.betsRejected.Load(),
		RoundsSettled:        m.roundsSettled.Load(),
		SettlementsConfirmed: m.settlementsConfirmed.Load(),
		SettlementsFailed:    m.settlementsFailed.Load(),
		SettlementRetries:    m.settlementRetries.Load(),
		ErrorsTotal:          m.errorsTotal.Load(),
		AvgLatencyNs:         avgLatency,
		ActiveRooms:          m.activeRooms.Load(),
		ActiveConnections:    m.activeConnections.Load(),
		Timestamp:            time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.betsPlaced.Store(0)
	m.betsRejected.Store(0)
	m.roundsSettled.Store(0)
	m.settlementsConfirmed.Store(0)
	m.settlementsFailed.Store(0)
	m.settlementRetries.Store(0)
	m.errorsTotal.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeRooms.Store(0)
	m.activeConnections.Store(0)
}
