package diauth

import "sync/atomic"

// MetricID identifies one engine counter.
type MetricID uint16

const (
	MetricAuthCodeIssued MetricID = iota
	MetricAuthCodeRedeemed
	MetricAuthCodeInvalid
	MetricTokenIssued
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshReuseDetected
	MetricClientAuthFailure
	MetricTransitionRejected
	metricIDCount
)

// Metrics is a fixed set of atomic counters. A nil *Metrics is safe to use
// and counts nothing.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]atomic.Uint64
}

// NewMetrics creates the counter set.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc increments the counter. Out-of-range ids are ignored.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	m.counters[id].Add(1)
}

// Value reads a counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counters[id].Load()
}

// Snapshot copies all counters.
func (m *Metrics) Snapshot() map[MetricID]uint64 {
	s := make(map[MetricID]uint64, int(metricIDCount))
	if m == nil || !m.enabled {
		return s
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		s[id] = m.counters[id].Load()
	}
	return s
}
