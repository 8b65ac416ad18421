// Package rpc implements the RPC layer on top of a bus.Device: request
// and response are correlated by a 16-bit request id, a client backend
// sends requests and waits for matching responses, and a single server
// implementation dispatches requests into registered service handlers.
//
// Two client backends exist because the two cores this protocol
// targets have different runtime models. PreemptiveClient assumes a
// task scheduler and blocks the calling goroutine on a channel, mirrors
// the upstream FreeRTOS client's task/queue/event-group structure using
// Go's own concurrency primitives. CooperativeClient assumes a bare
// run-to-completion loop with no blocking primitive available at all,
// so it exposes Submit/Poll/TryResult instead of a blocking Call, and
// requires the caller to sweep expired requests explicitly since
// nothing drives it asynchronously.
package rpc

import (
	"github.com/chiragatal/esp-amp/internal/constants"
	"github.com/chiragatal/esp-amp/internal/queue"
	"github.com/chiragatal/esp-amp/internal/wire"
)

// Status is the outcome a server reports for one request.
type Status uint16

const (
	StatusOK         Status = 0
	StatusNoService  Status = 1
	StatusExecFailed Status = 2
)

// Handler implements one registered service: it receives the request
// params and returns response params (or an error, reported to the
// caller as StatusExecFailed).
type Handler func(params []byte) ([]byte, error)

// marshalPacket builds a wire-format request/response packet in a
// pooled scratch buffer (internal/queue's host-side staging pool) since
// the result only lives long enough to be copied into a bus.Msg's slot
// before CreateMsg/SendNocopy take over; callers must queue.PutScratch
// it once that copy is done.
func marshalPacket(reqID, serviceID uint16, status Status, params []byte) []byte {
	hdr := wire.RPCPacket{ReqID: reqID, ServiceID: serviceID, Status: uint16(status), ParamsLen: uint16(len(params))}
	buf := queue.GetScratch(wire.RPCPacketHeaderSize + len(params))
	copy(buf, wire.MarshalRPCPacket(&hdr))
	copy(buf[wire.RPCPacketHeaderSize:], params)
	return buf
}

func unmarshalPacket(buf []byte) (wire.RPCPacket, []byte, error) {
	var hdr wire.RPCPacket
	if len(buf) < wire.RPCPacketHeaderSize {
		return hdr, nil, ErrShortPacket
	}
	if err := wire.UnmarshalRPCPacket(buf, &hdr); err != nil {
		return hdr, nil, ErrShortPacket
	}
	end := wire.RPCPacketHeaderSize + int(hdr.ParamsLen)
	if len(buf) < end {
		return hdr, nil, ErrShortPacket
	}
	return hdr, buf[wire.RPCPacketHeaderSize:end], nil
}

// nextReqID advances cur per the wrap rule: 0 is never issued (it marks
// "invalid"), and the counter wraps from RPCReqIDWrap back to 1.
func nextReqID(cur uint16) uint16 {
	if cur == 0 {
		return 1
	}
	if cur >= constants.RPCReqIDWrap {
		return 1
	}
	return cur + 1
}

// RPCError is the small sentinel error type for this package.
type RPCError string

func (e RPCError) Error() string { return string(e) }

const (
	ErrShortPacket   RPCError = "rpc packet shorter than header or declared params"
	ErrTableFull     RPCError = "pending request table full"
	ErrTimeout       RPCError = "request timed out waiting for response"
	ErrStopped       RPCError = "client is stopped"
	ErrUnknownReqID  RPCError = "response reqID matches no pending request"
	ErrServiceExists RPCError = "service id already registered"
	ErrServicesFull  RPCError = "service table full"
)
