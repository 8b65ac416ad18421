package amp

import (
	"sync/atomic"
	"time"

	"github.com/chiragatal/esp-amp/internal/rpc"
)

// Status is the outcome an RPC server reports for one request,
// re-exported from internal/rpc for RecordRPCCall.
type Status = rpc.Status

const (
	StatusOK         = rpc.StatusOK
	StatusNoService  = rpc.StatusNoService
	StatusExecFailed = rpc.StatusExecFailed
)

// LatencyBuckets defines the RPC round-trip latency histogram buckets
// in nanoseconds, covering 1us to 10s with logarithmic spacing.
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

// Metrics tracks performance and operational statistics for one side
// of an AMP link.
type Metrics struct {
	// Bus operation counters
	SendOps atomic.Uint64 // Messages sent (bus.Device.Send/SendNocopy, both variants)
	RecvOps atomic.Uint64 // Messages dispatched to an endpoint via Poll

	// Byte counters
	SendBytes atomic.Uint64
	RecvBytes atomic.Uint64

	// Error counters
	SendErrors  atomic.Uint64
	DropCount   atomic.Uint64 // Messages received for an unknown endpoint
	BadPackets  atomic.Uint64 // Short/malformed headers

	// RPC counters
	RPCCalls    atomic.Uint64
	RPCTimeouts atomic.Uint64
	RPCFailures atomic.Uint64 // StatusExecFailed or StatusNoService responses

	// Pending-request depth statistics (RPC client backends)
	PendingDepthTotal atomic.Uint64
	PendingDepthCount atomic.Uint64
	MaxPendingDepth   atomic.Uint32

	// Performance tracking (RPC round-trip latency)
	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	// Latency histogram buckets (cumulative counts); bucket[i] holds
	// the count of calls with latency <= LatencyBuckets[i].
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Link lifecycle
	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordSend records one Send/SendNocopy call.
func (m *Metrics) RecordSend(bytes uint64, success bool) {
	m.SendOps.Add(1)
	if success {
		m.SendBytes.Add(bytes)
	} else {
		m.SendErrors.Add(1)
	}
}

// RecordRecv records one message dispatched to an endpoint via Poll.
func (m *Metrics) RecordRecv(bytes uint64) {
	m.RecvOps.Add(1)
	m.RecvBytes.Add(bytes)
}

// RecordDrop records a message received for an address with no
// registered endpoint.
func (m *Metrics) RecordDrop() { m.DropCount.Add(1) }

// RecordBadPacket records a short or malformed header.
func (m *Metrics) RecordBadPacket() { m.BadPackets.Add(1) }

// RecordRPCCall records the outcome and round-trip latency of one RPC
// call.
func (m *Metrics) RecordRPCCall(latencyNs uint64, status Status) {
	m.RPCCalls.Add(1)
	switch status {
	case StatusExecFailed, StatusNoService:
		m.RPCFailures.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordRPCTimeout records a request that was reaped without a
// response.
func (m *Metrics) RecordRPCTimeout() { m.RPCTimeouts.Add(1) }

// RecordPendingDepth records a sample of the RPC client's current
// in-flight request count.
func (m *Metrics) RecordPendingDepth(depth uint32) {
	m.PendingDepthTotal.Add(uint64(depth))
	m.PendingDepthCount.Add(1)
	for {
		current := m.MaxPendingDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxPendingDepth.CompareAndSwap(current, depth) {
			break
		}
	}
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

// Stop marks the link as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics, with derived
// rates and percentiles computed.
type MetricsSnapshot struct {
	SendOps    uint64
	RecvOps    uint64
	SendBytes  uint64
	RecvBytes  uint64
	SendErrors uint64
	DropCount  uint64
	BadPackets uint64

	RPCCalls    uint64
	RPCTimeouts uint64
	RPCFailures uint64

	AvgPendingDepth float64
	MaxPendingDepth uint32

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	SendRate  float64 // messages/sec
	RecvRate  float64
	ErrorRate float64 // percentage of RPC calls that failed
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		SendOps:     m.SendOps.Load(),
		RecvOps:     m.RecvOps.Load(),
		SendBytes:   m.SendBytes.Load(),
		RecvBytes:   m.RecvBytes.Load(),
		SendErrors:  m.SendErrors.Load(),
		DropCount:   m.DropCount.Load(),
		BadPackets:  m.BadPackets.Load(),
		RPCCalls:    m.RPCCalls.Load(),
		RPCTimeouts: m.RPCTimeouts.Load(),
		RPCFailures: m.RPCFailures.Load(),
		MaxPendingDepth: m.MaxPendingDepth.Load(),
	}

	pendingTotal := m.PendingDepthTotal.Load()
	pendingCount := m.PendingDepthCount.Load()
	if pendingCount > 0 {
		snap.AvgPendingDepth = float64(pendingTotal) / float64(pendingCount)
	}

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
		snap.SendRate = float64(snap.SendOps) / uptimeSeconds
		snap.RecvRate = float64(snap.RecvOps) / uptimeSeconds
	}

	if snap.RPCCalls > 0 {
		snap.ErrorRate = float64(snap.RPCFailures) / float64(snap.RPCCalls) * 100.0
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

// Reset zeroes all counters (useful between test cases).
func (m *Metrics) Reset() {
	m.SendOps.Store(0)
	m.RecvOps.Store(0)
	m.SendBytes.Store(0)
	m.RecvBytes.Store(0)
	m.SendErrors.Store(0)
	m.DropCount.Store(0)
	m.BadPackets.Store(0)
	m.RPCCalls.Store(0)
	m.RPCTimeouts.Store(0)
	m.RPCFailures.Store(0)
	m.PendingDepthTotal.Store(0)
	m.PendingDepthCount.Store(0)
	m.MaxPendingDepth.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection, mirroring the
// teacher's Observer/NoOpObserver/MetricsObserver trio.
type Observer interface {
	ObserveSend(bytes uint64, success bool)
	ObserveRecv(bytes uint64)
	ObserveRPCCall(latencyNs uint64, status Status)
	ObserveRPCTimeout()
}

// NoOpObserver discards every observation.
type NoOpObserver struct{}

func (NoOpObserver) ObserveSend(uint64, bool)           {}
func (NoOpObserver) ObserveRecv(uint64)                 {}
func (NoOpObserver) ObserveRPCCall(uint64, Status)      {}
func (NoOpObserver) ObserveRPCTimeout()                 {}

// MetricsObserver implements Observer by recording into a Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveSend(bytes uint64, success bool) { o.metrics.RecordSend(bytes, success) }
func (o *MetricsObserver) ObserveRecv(bytes uint64)               { o.metrics.RecordRecv(bytes) }
func (o *MetricsObserver) ObserveRPCCall(latencyNs uint64, status Status) {
	o.metrics.RecordRPCCall(latencyNs, status)
}
func (o *MetricsObserver) ObserveRPCTimeout() { o.metrics.RecordRPCTimeout() }

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
