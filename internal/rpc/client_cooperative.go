package rpc

import (
	"time"

	"github.com/chiragatal/esp-amp/internal/bus"
	"github.com/chiragatal/esp-amp/internal/constants"
	"github.com/chiragatal/esp-amp/internal/logging"
	"github.com/chiragatal/esp-amp/internal/queue"
)

type cooperativeEntry struct {
	inUse    bool
	reqID    uint16
	deadline time.Time
	done     bool
	status   Status
	params   []byte
}

// CooperativeClient is the bare-metal RPC client backend: a fixed
// pending-request table with no background goroutines. There is no
// timer interrupt to drive timeouts, so the caller must invoke
// CompleteTimeoutRequests from its own main loop at a steady cadence
// (constants.DefaultTimeoutScanInterval is a reasonable default).
type CooperativeClient struct {
	dev              *bus.Device
	clientAddr       uint16
	serverAddr       uint16
	logger           *logging.Logger
	nextReqID        uint16
	pending          []cooperativeEntry
}

// NewCooperativeClient registers an endpoint at clientAddr on dev and
// returns a client ready to SubmitRequest/Poll. maxPending bounds the
// number of requests in flight at once; pass 0 for
// constants.DefaultRPCMaxPending.
func NewCooperativeClient(dev *bus.Device, clientAddr, serverAddr uint16, maxPending int, logger *logging.Logger) (*CooperativeClient, error) {
	if maxPending <= 0 {
		maxPending = constants.DefaultRPCMaxPending
	}
	c := &CooperativeClient{
		dev:        dev,
		clientAddr: clientAddr,
		serverAddr: serverAddr,
		logger:     logger,
		pending:    make([]cooperativeEntry, maxPending),
	}
	if _, err := dev.CreateEndpoint(clientAddr, c.onMessage); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *CooperativeClient) onMessage(msg *bus.Msg, srcAddr uint16) {
	hdr, params, err := unmarshalPacket(msg.Data())
	if err != nil {
		c.dev.Destroy(msg)
		return
	}
	for i := range c.pending {
		e := &c.pending[i]
		if e.inUse && e.reqID == hdr.ReqID {
			e.done = true
			e.status = Status(hdr.Status)
			e.params = append([]byte(nil), params...)
			break
		}
	}
	c.dev.Destroy(msg)
}

// SubmitRequest allocates a request id, sends the request, and
// registers a pending slot with the given deadline. Returns
// ErrTableFull if no slot is free.
func (c *CooperativeClient) SubmitRequest(serviceID uint16, params []byte, timeout time.Duration, now time.Time) (uint16, error) {
	slot := -1
	for i := range c.pending {
		if !c.pending[i].inUse {
			slot = i
			break
		}
	}
	if slot < 0 {
		return 0, ErrTableFull
	}

	c.nextReqID = nextReqID(c.nextReqID)
	reqID := c.nextReqID

	payload := marshalPacket(reqID, serviceID, StatusOK, params)
	msg, err := c.dev.CreateMsg(uint16(len(payload)))
	if err != nil {
		queue.PutScratch(payload)
		return 0, err
	}
	copy(msg.Data(), payload)
	queue.PutScratch(payload)
	if err := c.dev.SendNocopy(msg, c.clientAddr, c.serverAddr); err != nil {
		return 0, err
	}

	c.pending[slot] = cooperativeEntry{inUse: true, reqID: reqID, deadline: now.Add(timeout)}
	return reqID, nil
}

// Poll drives the underlying bus once; a matching response is recorded
// into its pending slot synchronously inside this call.
func (c *CooperativeClient) Poll() (bool, error) {
	return c.dev.Poll()
}

// TryResult reports whether reqID's response has arrived. done is
// false and err is nil while the request is still in flight.
func (c *CooperativeClient) TryResult(reqID uint16) (params []byte, status Status, done bool, err error) {
	for i := range c.pending {
		e := &c.pending[i]
		if e.inUse && e.reqID == reqID {
			if !e.done {
				return nil, 0, false, nil
			}
			params, status = e.params, e.status
			*e = cooperativeEntry{}
			return params, status, true, nil
		}
	}
	return nil, 0, false, ErrUnknownReqID
}

// CompleteTimeoutRequests reaps pending slots whose deadline has
// passed without a response, returning how many were reaped. Call this
// periodically from the application main loop.
func (c *CooperativeClient) CompleteTimeoutRequests(now time.Time) int {
	n := 0
	for i := range c.pending {
		e := &c.pending[i]
		if e.inUse && !e.done && now.After(e.deadline) {
			if c.logger != nil {
				c.logger.Warn("rpc cooperative request timed out", "req_id", e.reqID)
			}
			*e = cooperativeEntry{}
			n++
		}
	}
	return n
}
