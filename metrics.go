package txq

import "sync/atomic"

// Metrics tracks transmit-queue lifecycle statistics for a device.
// All counters are safe for concurrent access.
type Metrics struct {
	// Setup counters
	Setups      atomic.Int64 // Successful queue setups
	SetupErrors atomic.Int64 // Failed queue setups
	Reuses      atomic.Int64 // Setups that tore down a prior queue at the index

	// Teardown counters
	Releases atomic.Int64 // Queues fully destroyed

	// Health counters
	ResolverWarnings atomic.Int64 // Parameter corrections applied
	HardwareErrors   atomic.Int64 // Device-level failures

	// Gauges
	ActiveQueues  atomic.Int64 // Queues currently registered
	DoorbellPages atomic.Int64 // Distinct doorbell pages mapped in this process
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// MetricsSnapshot is a point-in-time copy of all metrics
type MetricsSnapshot struct {
	Setups           int64
	SetupErrors      int64
	Reuses           int64
	Releases         int64
	ResolverWarnings int64
	HardwareErrors   int64
	ActiveQueues     int64
	DoorbellPages    int64
}

// Snapshot returns a consistent-enough copy of all counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Setups:           m.Setups.Load(),
		SetupErrors:      m.SetupErrors.Load(),
		Reuses:           m.Reuses.Load(),
		Releases:         m.Releases.Load(),
		ResolverWarnings: m.ResolverWarnings.Load(),
		HardwareErrors:   m.HardwareErrors.Load(),
		ActiveQueues:     m.ActiveQueues.Load(),
		DoorbellPages:    m.DoorbellPages.Load(),
	}
}
