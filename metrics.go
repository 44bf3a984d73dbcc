package usbmux

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks performance and operational statistics for the device
// manager: rx/tx transfer counts, mode switches and per-device errors.
type Metrics struct {
	// Transfer counters
	RxTransfers atomic.Uint64 // Completed rx (bulk IN) transfers
	TxTransfers atomic.Uint64 // Completed tx (bulk OUT + ZLP) transfers
	ModeSwitches atomic.Uint64 // SET_MODE attempts submitted

	// Byte counters
	RxBytes atomic.Uint64
	TxBytes atomic.Uint64

	// Error counters
	RxErrors         atomic.Uint64
	TxErrors         atomic.Uint64
	ModeSwitchErrors atomic.Uint64
	DevicesDoomed    atomic.Uint64

	// Device lifecycle
	DevicesAttached atomic.Uint64 // Cumulative device_add calls
	DevicesLive     atomic.Int64  // Current count of devices in state Live

	// Performance tracking
	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	// Latency histogram buckets (cumulative counts)
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordRx records a completed rx transfer.
func (m *Metrics) RecordRx(bytes uint64, latencyNs uint64, success bool) {
	m.RxTransfers.Add(1)
	if success {
		m.RxBytes.Add(bytes)
	} else {
		m.RxErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordTx records a completed tx transfer (including a ZLP follow-up).
func (m *Metrics) RecordTx(bytes uint64, latencyNs uint64, success bool) {
	m.TxTransfers.Add(1)
	if success {
		m.TxBytes.Add(bytes)
	} else {
		m.TxErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordModeSwitch records a SET_MODE attempt.
func (m *Metrics) RecordModeSwitch(accepted bool) {
	m.ModeSwitches.Add(1)
	if !accepted {
		m.ModeSwitchErrors.Add(1)
	}
}

// RecordDeviceAttached records a successful device_add.
func (m *Metrics) RecordDeviceAttached() {
	m.DevicesAttached.Add(1)
	m.DevicesLive.Add(1)
}

// RecordDeviceDoomed records a device transitioning to doomed.
func (m *Metrics) RecordDeviceDoomed() {
	m.DevicesDoomed.Add(1)
	m.DevicesLive.Add(-1)
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the manager as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of Metrics.
type MetricsSnapshot struct {
	RxTransfers  uint64
	TxTransfers  uint64
	ModeSwitches uint64

	RxBytes uint64
	TxBytes uint64

	RxErrors         uint64
	TxErrors         uint64
	ModeSwitchErrors uint64
	DevicesDoomed    uint64

	DevicesAttached uint64
	DevicesLive     int64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	RxIOPS     float64
	TxIOPS     float64
	RxBandwidth float64
	TxBandwidth float64
	TotalOps   uint64
	TotalBytes uint64
	ErrorRate  float64
}

// Snapshot creates a point-in-time snapshot of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		RxTransfers:      m.RxTransfers.Load(),
		TxTransfers:      m.TxTransfers.Load(),
		ModeSwitches:     m.ModeSwitches.Load(),
		RxBytes:          m.RxBytes.Load(),
		TxBytes:          m.TxBytes.Load(),
		RxErrors:         m.RxErrors.Load(),
		TxErrors:         m.TxErrors.Load(),
		ModeSwitchErrors: m.ModeSwitchErrors.Load(),
		DevicesDoomed:    m.DevicesDoomed.Load(),
		DevicesAttached:  m.DevicesAttached.Load(),
		DevicesLive:      m.DevicesLive.Load(),
	}

	snap.TotalOps = snap.RxTransfers + snap.TxTransfers
	snap.TotalBytes = snap.RxBytes + snap.TxBytes

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.RxIOPS = float64(snap.RxTransfers) / uptimeSeconds
		snap.TxIOPS = float64(snap.TxTransfers) / uptimeSeconds
		snap.RxBandwidth = float64(snap.RxBytes) / uptimeSeconds
		snap.TxBandwidth = float64(snap.TxBytes) / uptimeSeconds
	}

	totalErrors := snap.RxErrors + snap.TxErrors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters (useful for testing).
func (m *Metrics) Reset() {
	m.RxTransfers.Store(0)
	m.TxTransfers.Store(0)
	m.ModeSwitches.Store(0)
	m.RxBytes.Store(0)
	m.TxBytes.Store(0)
	m.RxErrors.Store(0)
	m.TxErrors.Store(0)
	m.ModeSwitchErrors.Store(0)
	m.DevicesDoomed.Store(0)
	m.DevicesAttached.Store(0)
	m.DevicesLive.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection.
type Observer interface {
	ObserveRxTransfer(bytes uint64, latencyNs uint64, success bool)
	ObserveTxTransfer(bytes uint64, latencyNs uint64, success bool)
	ObserveModeSwitch(accepted bool)
	ObserveDeviceAttached()
	ObserveDeviceDoomed(reason DeviceErrorCode)
}

// NoOpObserver is a no-op implementation of Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveRxTransfer(uint64, uint64, bool) {}
func (NoOpObserver) ObserveTxTransfer(uint64, uint64, bool) {}
func (NoOpObserver) ObserveModeSwitch(bool)                 {}
func (NoOpObserver) ObserveDeviceAttached()                 {}
func (NoOpObserver) ObserveDeviceDoomed(DeviceErrorCode)    {}

// MetricsObserver implements Observer using the built-in Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveRxTransfer(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordRx(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveTxTransfer(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordTx(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveModeSwitch(accepted bool) {
	o.metrics.RecordModeSwitch(accepted)
}

func (o *MetricsObserver) ObserveDeviceAttached() {
	o.metrics.RecordDeviceAttached()
}

func (o *MetricsObserver) ObserveDeviceDoomed(DeviceErrorCode) {
	o.metrics.RecordDeviceDoomed()
}

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
