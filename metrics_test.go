package usbmux

import (
	"testing"
	"time"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	if snap.TotalOps != 0 {
		t.Errorf("Expected 0 initial ops, got %d", snap.TotalOps)
	}

	m.RecordRx(1024, 1000000, true)
	m.RecordTx(2048, 2000000, true)
	m.RecordRx(512, 500000, false)

	snap = m.Snapshot()

	if snap.RxTransfers != 2 {
		t.Errorf("Expected 2 rx transfers, got %d", snap.RxTransfers)
	}
	if snap.TxTransfers != 1 {
		t.Errorf("Expected 1 tx transfer, got %d", snap.TxTransfers)
	}

	if snap.RxBytes != 1024 {
		t.Errorf("Expected 1024 rx bytes, got %d", snap.RxBytes)
	}
	if snap.TxBytes != 2048 {
		t.Errorf("Expected 2048 tx bytes, got %d", snap.TxBytes)
	}

	if snap.RxErrors != 1 {
		t.Errorf("Expected 1 rx error, got %d", snap.RxErrors)
	}
	if snap.TxErrors != 0 {
		t.Errorf("Expected 0 tx errors, got %d", snap.TxErrors)
	}

	expectedErrorRate := float64(1) / float64(3) * 100.0
	if snap.ErrorRate < expectedErrorRate-0.1 || snap.ErrorRate > expectedErrorRate+0.1 {
		t.Errorf("Expected error rate ~%.1f%%, got %.1f%%", expectedErrorRate, snap.ErrorRate)
	}
}

func TestMetricsDeviceLifecycle(t *testing.T) {
	m := NewMetrics()

	m.RecordDeviceAttached()
	m.RecordDeviceAttached()
	m.RecordDeviceDoomed()

	snap := m.Snapshot()
	if snap.DevicesAttached != 2 {
		t.Errorf("Expected 2 devices attached, got %d", snap.DevicesAttached)
	}
	if snap.DevicesLive != 1 {
		t.Errorf("Expected 1 device live, got %d", snap.DevicesLive)
	}
	if snap.DevicesDoomed != 1 {
		t.Errorf("Expected 1 device doomed, got %d", snap.DevicesDoomed)
	}
}

func TestMetricsModeSwitch(t *testing.T) {
	m := NewMetrics()

	m.RecordModeSwitch(true)
	m.RecordModeSwitch(false)

	snap := m.Snapshot()
	if snap.ModeSwitches != 2 {
		t.Errorf("Expected 2 mode switches, got %d", snap.ModeSwitches)
	}
	if snap.ModeSwitchErrors != 1 {
		t.Errorf("Expected 1 mode switch error, got %d", snap.ModeSwitchErrors)
	}
}

func TestMetricsLatency(t *testing.T) {
	m := NewMetrics()

	m.RecordRx(1024, 1000000, true)
	m.RecordTx(1024, 2000000, true)

	snap := m.Snapshot()

	expectedAvgNs := uint64(1500000)
	if snap.AvgLatencyNs != expectedAvgNs {
		t.Errorf("Expected avg latency %d ns, got %d ns", expectedAvgNs, snap.AvgLatencyNs)
	}
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()

	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()
	if snap.UptimeNs < 10*1000000 {
		t.Errorf("Expected uptime >= 10ms, got %d ns", snap.UptimeNs)
	}

	m.Stop()
	time.Sleep(5 * time.Millisecond)

	snap2 := m.Snapshot()
	if snap2.UptimeNs > snap.UptimeNs+2*1000000 {
		t.Errorf("Uptime increased too much after stop: %d -> %d", snap.UptimeNs, snap2.UptimeNs)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()

	m.RecordRx(1024, 1000000, true)
	m.RecordTx(2048, 2000000, true)

	snap := m.Snapshot()
	if snap.TotalOps == 0 {
		t.Error("Expected some operations before reset")
	}

	m.Reset()

	snap = m.Snapshot()
	if snap.TotalOps != 0 {
		t.Errorf("Expected 0 ops after reset, got %d", snap.TotalOps)
	}
	if snap.TotalBytes != 0 {
		t.Errorf("Expected 0 bytes after reset, got %d", snap.TotalBytes)
	}
}

func TestObserver(t *testing.T) {
	observer := &NoOpObserver{}
	observer.ObserveRxTransfer(1024, 1000000, true)
	observer.ObserveTxTransfer(1024, 1000000, true)
	observer.ObserveModeSwitch(true)
	observer.ObserveDeviceAttached()
	observer.ObserveDeviceDoomed(ErrCodeIOError)

	m := NewMetrics()
	metricsObserver := NewMetricsObserver(m)

	metricsObserver.ObserveRxTransfer(1024, 1000000, true)
	metricsObserver.ObserveTxTransfer(2048, 2000000, true)

	snap := m.Snapshot()
	if snap.RxTransfers != 1 {
		t.Errorf("Expected 1 rx transfer from observer, got %d", snap.RxTransfers)
	}
	if snap.TxTransfers != 1 {
		t.Errorf("Expected 1 tx transfer from observer, got %d", snap.TxTransfers)
	}
	if snap.RxBytes != 1024 {
		t.Errorf("Expected 1024 rx bytes from observer, got %d", snap.RxBytes)
	}
	if snap.TxBytes != 2048 {
		t.Errorf("Expected 2048 tx bytes from observer, got %d", snap.TxBytes)
	}
}

func TestMetricsRates(t *testing.T) {
	m := NewMetrics()

	startTime := time.Now()
	m.StartTime.Store(startTime.UnixNano())

	m.RecordRx(1024, 1000000, true)
	m.RecordTx(2048, 2000000, true)

	stopTime := startTime.Add(1 * time.Second)
	m.StopTime.Store(stopTime.UnixNano())

	snap := m.Snapshot()

	if snap.RxIOPS < 0.9 || snap.RxIOPS > 1.1 {
		t.Errorf("Expected RxIOPS ~1.0, got %.2f", snap.RxIOPS)
	}
	if snap.TxIOPS < 0.9 || snap.TxIOPS > 1.1 {
		t.Errorf("Expected TxIOPS ~1.0, got %.2f", snap.TxIOPS)
	}

	if snap.RxBandwidth < 1000 || snap.RxBandwidth > 1050 {
		t.Errorf("Expected RxBandwidth ~1024, got %.2f", snap.RxBandwidth)
	}
	if snap.TxBandwidth < 2000 || snap.TxBandwidth > 2100 {
		t.Errorf("Expected TxBandwidth ~2048, got %.2f", snap.TxBandwidth)
	}
}

func TestMetricsHistogram(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 50; i++ {
		m.RecordRx(1024, 500_000, true)
	}
	for i := 0; i < 49; i++ {
		m.RecordTx(1024, 5_000_000, true)
	}
	m.RecordTx(1024, 50_000_000, true)

	snap := m.Snapshot()

	if snap.TotalOps != 100 {
		t.Errorf("Expected 100 total ops, got %d", snap.TotalOps)
	}

	if snap.LatencyP50Ns < 100_000 || snap.LatencyP50Ns > 1_000_000 {
		t.Errorf("Expected P50 in 100us-1ms range, got %d ns", snap.LatencyP50Ns)
	}

	if snap.LatencyP99Ns < 5_000_000 || snap.LatencyP99Ns > 100_000_000 {
		t.Errorf("Expected P99 in 5ms-100ms range, got %d ns", snap.LatencyP99Ns)
	}

	totalInBuckets := uint64(0)
	for i := 0; i < len(snap.LatencyHistogram); i++ {
		totalInBuckets += snap.LatencyHistogram[i]
	}
	if totalInBuckets == 0 {
		t.Error("Expected histogram buckets to be populated")
	}
}
