package amp

import (
	"testing"
	"time"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	if snap.SendOps != 0 {
		t.Errorf("Expected 0 initial sends, got %d", snap.SendOps)
	}

	m.RecordSend(128, true)
	m.RecordSend(64, true)
	m.RecordSend(32, false)
	m.RecordRecv(128)

	snap = m.Snapshot()

	if snap.SendOps != 3 {
		t.Errorf("Expected 3 send ops, got %d", snap.SendOps)
	}
	if snap.RecvOps != 1 {
		t.Errorf("Expected 1 recv op, got %d", snap.RecvOps)
	}
	if snap.SendBytes != 192 {
		t.Errorf("Expected 192 send bytes, got %d", snap.SendBytes)
	}
	if snap.SendErrors != 1 {
		t.Errorf("Expected 1 send error, got %d", snap.SendErrors)
	}
}

func TestMetricsRPCCalls(t *testing.T) {
	m := NewMetrics()

	m.RecordRPCCall(1_000_000, StatusOK)
	m.RecordRPCCall(2_000_000, StatusExecFailed)
	m.RecordRPCCall(500_000, StatusNoService)

	snap := m.Snapshot()

	if snap.RPCCalls != 3 {
		t.Errorf("Expected 3 RPC calls, got %d", snap.RPCCalls)
	}
	if snap.RPCFailures != 2 {
		t.Errorf("Expected 2 RPC failures, got %d", snap.RPCFailures)
	}

	expectedErrorRate := float64(2) / float64(3) * 100.0
	if snap.ErrorRate < expectedErrorRate-0.1 || snap.ErrorRate > expectedErrorRate+0.1 {
		t.Errorf("Expected error rate ~%.1f%%, got %.1f%%", expectedErrorRate, snap.ErrorRate)
	}
}

func TestMetricsPendingDepth(t *testing.T) {
	m := NewMetrics()

	m.RecordPendingDepth(1)
	m.RecordPendingDepth(4)
	m.RecordPendingDepth(2)

	snap := m.Snapshot()

	if snap.MaxPendingDepth != 4 {
		t.Errorf("Expected max pending depth 4, got %d", snap.MaxPendingDepth)
	}

	expectedAvg := float64(1+4+2) / 3.0
	if snap.AvgPendingDepth < expectedAvg-0.1 || snap.AvgPendingDepth > expectedAvg+0.1 {
		t.Errorf("Expected avg pending depth %.1f, got %.1f", expectedAvg, snap.AvgPendingDepth)
	}
}

func TestMetricsLatency(t *testing.T) {
	m := NewMetrics()

	m.RecordRPCCall(1_000_000, StatusOK)
	m.RecordRPCCall(2_000_000, StatusOK)

	snap := m.Snapshot()

	expectedAvgNs := uint64(1_500_000)
	if snap.AvgLatencyNs != expectedAvgNs {
		t.Errorf("Expected avg latency %d ns, got %d ns", expectedAvgNs, snap.AvgLatencyNs)
	}
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()

	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()
	if snap.UptimeNs < 10*1_000_000 {
		t.Errorf("Expected uptime >= 10ms, got %d ns", snap.UptimeNs)
	}

	m.Stop()
	time.Sleep(5 * time.Millisecond)

	snap2 := m.Snapshot()
	if snap2.UptimeNs > snap.UptimeNs+2*1_000_000 {
		t.Errorf("Uptime increased too much after stop: %d -> %d", snap.UptimeNs, snap2.UptimeNs)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()

	m.RecordSend(128, true)
	m.RecordRPCCall(1_000_000, StatusOK)
	m.RecordPendingDepth(3)

	snap := m.Snapshot()
	if snap.SendOps == 0 {
		t.Error("Expected some operations before reset")
	}

	m.Reset()

	snap = m.Snapshot()
	if snap.SendOps != 0 {
		t.Errorf("Expected 0 send ops after reset, got %d", snap.SendOps)
	}
	if snap.SendBytes != 0 {
		t.Errorf("Expected 0 send bytes after reset, got %d", snap.SendBytes)
	}
	if snap.MaxPendingDepth != 0 {
		t.Errorf("Expected 0 max pending depth after reset, got %d", snap.MaxPendingDepth)
	}
}

func TestObserver(t *testing.T) {
	observer := &NoOpObserver{}
	observer.ObserveSend(128, true)
	observer.ObserveRecv(128)
	observer.ObserveRPCCall(1_000_000, StatusOK)
	observer.ObserveRPCTimeout()

	m := NewMetrics()
	metricsObserver := NewMetricsObserver(m)

	metricsObserver.ObserveSend(128, true)
	metricsObserver.ObserveRecv(64)

	snap := m.Snapshot()
	if snap.SendOps != 1 {
		t.Errorf("Expected 1 send op from observer, got %d", snap.SendOps)
	}
	if snap.RecvOps != 1 {
		t.Errorf("Expected 1 recv op from observer, got %d", snap.RecvOps)
	}
	if snap.SendBytes != 128 {
		t.Errorf("Expected 128 send bytes from observer, got %d", snap.SendBytes)
	}
	if snap.RecvBytes != 64 {
		t.Errorf("Expected 64 recv bytes from observer, got %d", snap.RecvBytes)
	}
}

func TestMetricsRates(t *testing.T) {
	m := NewMetrics()

	startTime := time.Now()
	m.StartTime.Store(startTime.UnixNano())

	m.RecordSend(128, true)
	m.RecordRecv(64)

	stopTime := startTime.Add(1 * time.Second)
	m.StopTime.Store(stopTime.UnixNano())

	snap := m.Snapshot()

	if snap.SendRate < 0.9 || snap.SendRate > 1.1 {
		t.Errorf("Expected SendRate ~1.0, got %.2f", snap.SendRate)
	}
	if snap.RecvRate < 0.9 || snap.RecvRate > 1.1 {
		t.Errorf("Expected RecvRate ~1.0, got %.2f", snap.RecvRate)
	}
}

func TestMetricsHistogram(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 50; i++ {
		m.RecordRPCCall(500_000, StatusOK) // 500us
	}
	for i := 0; i < 49; i++ {
		m.RecordRPCCall(5_000_000, StatusOK) // 5ms
	}
	m.RecordRPCCall(50_000_000, StatusOK) // 50ms, the slowest call

	snap := m.Snapshot()

	if snap.RPCCalls != 100 {
		t.Errorf("Expected 100 RPC calls, got %d", snap.RPCCalls)
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
