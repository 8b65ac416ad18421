// Package constants holds default sizing and timing constants shared
// across the amp packages.
package constants

import "time"

// Default configuration constants
const (
	// DefaultQueueSize is the default number of descriptor slots in a
	// queue ring. Must be a power of two.
	DefaultQueueSize = 16

	// DefaultMaxItemSize is the default maximum payload size (bytes) a
	// single queue buffer slot can hold.
	DefaultMaxItemSize = 256

	// DefaultRPCMaxPending is the default number of in-flight RPC
	// requests a client can track at once.
	DefaultRPCMaxPending = 16

	// DefaultRPCTimeout is the default client-side wait for a response
	// before a request is considered timed out.
	DefaultRPCTimeout = 2 * time.Second

	// DefaultRPCMaxServices is the default number of distinct service
	// ids a single RPC server can register at once.
	DefaultRPCMaxServices = 16
)

// Reserved shared-info registry keys, mirroring the upstream
// SYS_INFO_ID_RESERVED range. Components built on top of the registry
// (the message bus's virtqueue pair) claim keys from this range so they
// never collide with application-defined info IDs.
const (
	SysInfoIDReservedBase = 0xFF00
	SysInfoIDVqueueBuffer = SysInfoIDReservedBase + 1
	SysInfoIDVqueueTX     = SysInfoIDReservedBase + 2
	SysInfoIDVqueueRX     = SysInfoIDReservedBase + 3
)

// Cross-core signal line identifiers. SignalIDBusRecv is raised by the
// sender's queue "notify" callback and consumed by the receiver's poll
// loop or dispatcher; it is the only signal line the message bus itself
// uses, but applications may register additional ones up to SignalIDMax.
const (
	SignalIDBusRecv = 0
	SignalIDMax     = 32
)

// SignalHandlerTableLen bounds the number of (id, handler) registrations
// a Signal can hold at once, mirroring the upstream's fixed-size
// sw_intr_handlers[CONFIG_ESP_AMP_SW_INTR_HANDLER_TABLE_LEN] table —
// one flat slot table shared across every signal id, not one slot per
// id, since multiple handlers may register for the same id.
const SignalHandlerTableLen = 16

// RPC protocol constants
const (
	// RPCInvalidReqID is never assigned to a real request; a response
	// carrying it is always rejected by the dispatcher.
	RPCInvalidReqID = 0

	// RPCReqIDWrap is the last request id issued before the counter
	// wraps back to 1.
	RPCReqIDWrap = 32767
)

// DefaultTimeoutScanInterval is a suggested cadence for calling
// CompleteTimeoutRequests from a cooperative main loop; it is not
// enforced by the library.
const DefaultTimeoutScanInterval = 10 * time.Millisecond
