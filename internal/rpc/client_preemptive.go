package rpc

import (
	"context"
	"sync"

	"github.com/chiragatal/esp-amp/internal/bus"
	"github.com/chiragatal/esp-amp/internal/constants"
	"github.com/chiragatal/esp-amp/internal/logging"
	"github.com/chiragatal/esp-amp/internal/queue"
)

type rpcResult struct {
	params []byte
	status Status
}

type pendingRequest struct {
	reqID  uint16
	respCh chan rpcResult
}

type outRequest struct {
	reqID     uint16
	serviceID uint16
	params    []byte
}

// PreemptiveClient is the task-scheduler RPC client backend: Call
// blocks the calling goroutine on a per-request response channel while
// two background goroutines (mirroring the upstream's send_task and
// recv_task) serialize outbound sends and route inbound responses by
// request id. Where the upstream uses an event group with
// STOPPING/SEND_STOPPED/RECV_STOPPED bits to hand off shutdown between
// the app and its two tasks, this port uses a cancelable context plus a
// WaitGroup — the same two-phase "signal stop, wait for both workers to
// drain" shape expressed with Go's own primitives.
type PreemptiveClient struct {
	dev        *bus.Device
	clientAddr uint16
	serverAddr uint16
	logger     *logging.Logger

	reqIDMu   sync.Mutex
	nextReqID uint16

	pendMu  sync.Mutex
	pending map[uint16]*pendingRequest
	maxPend int

	appReqQ chan outRequest
	rxQ     chan *bus.Msg

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPreemptiveClient registers an endpoint at clientAddr on dev,
// starts its send/recv goroutines, and returns a client ready for Call.
// maxPending bounds in-flight requests; pass 0 for
// constants.DefaultRPCMaxPending.
func NewPreemptiveClient(dev *bus.Device, clientAddr, serverAddr uint16, maxPending int, logger *logging.Logger) (*PreemptiveClient, error) {
	if maxPending <= 0 {
		maxPending = constants.DefaultRPCMaxPending
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &PreemptiveClient{
		dev:        dev,
		clientAddr: clientAddr,
		serverAddr: serverAddr,
		logger:     logger,
		pending:    make(map[uint16]*pendingRequest),
		maxPend:    maxPending,
		appReqQ:    make(chan outRequest, maxPending),
		rxQ:        make(chan *bus.Msg, maxPending),
		ctx:        ctx,
		cancel:     cancel,
	}
	if _, err := dev.CreateEndpoint(clientAddr, c.onMessage); err != nil {
		cancel()
		return nil, err
	}

	c.wg.Add(2)
	go c.sendTask()
	go c.recvTask()
	return c, nil
}

// onMessage is the bus endpoint callback (simulating the upstream ISR
// handoff): hand the message to the recv task's queue, blocking while
// that queue is full, and dropping it if the client is stopping.
func (c *PreemptiveClient) onMessage(msg *bus.Msg, srcAddr uint16) {
	select {
	case c.rxQ <- msg:
	case <-c.ctx.Done():
		c.dev.Destroy(msg)
	}
}

func (c *PreemptiveClient) sendTask() {
	defer c.wg.Done()
	for {
		select {
		case req := <-c.appReqQ:
			payload := marshalPacket(req.reqID, req.serviceID, StatusOK, req.params)
			msg, err := c.dev.CreateMsg(uint16(len(payload)))
			if err != nil {
				queue.PutScratch(payload)
				c.failPending(req.reqID)
				continue
			}
			copy(msg.Data(), payload)
			queue.PutScratch(payload)
			if err := c.dev.SendNocopy(msg, c.clientAddr, c.serverAddr); err != nil {
				c.failPending(req.reqID)
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *PreemptiveClient) recvTask() {
	defer c.wg.Done()
	for {
		select {
		case msg := <-c.rxQ:
			c.routeResponse(msg)
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *PreemptiveClient) routeResponse(msg *bus.Msg) {
	hdr, params, err := unmarshalPacket(msg.Data())
	if err != nil {
		c.dev.Destroy(msg)
		return
	}

	c.pendMu.Lock()
	pr, ok := c.pending[hdr.ReqID]
	if ok {
		delete(c.pending, hdr.ReqID)
	}
	c.pendMu.Unlock()

	c.dev.Destroy(msg)

	if !ok {
		if c.logger != nil {
			c.logger.Warn("rpc response matches no pending request", "req_id", hdr.ReqID)
		}
		return
	}
	pr.respCh <- rpcResult{params: append([]byte(nil), params...), status: Status(hdr.Status)}
}

func (c *PreemptiveClient) failPending(reqID uint16) {
	c.pendMu.Lock()
	pr, ok := c.pending[reqID]
	if ok {
		delete(c.pending, reqID)
	}
	c.pendMu.Unlock()
	if ok {
		pr.respCh <- rpcResult{status: StatusExecFailed}
	}
}

func (c *PreemptiveClient) allocReqID() uint16 {
	c.reqIDMu.Lock()
	defer c.reqIDMu.Unlock()
	c.nextReqID = nextReqID(c.nextReqID)
	return c.nextReqID
}

// Call sends a request and blocks until a matching response arrives,
// ctx is canceled, or the client is stopped.
func (c *PreemptiveClient) Call(ctx context.Context, serviceID uint16, params []byte) ([]byte, Status, error) {
	reqID := c.allocReqID()
	pr := &pendingRequest{reqID: reqID, respCh: make(chan rpcResult, 1)}

	c.pendMu.Lock()
	if len(c.pending) >= c.maxPend {
		c.pendMu.Unlock()
		return nil, 0, ErrTableFull
	}
	c.pending[reqID] = pr
	c.pendMu.Unlock()

	select {
	case c.appReqQ <- outRequest{reqID: reqID, serviceID: serviceID, params: params}:
	case <-c.ctx.Done():
		c.removePending(reqID)
		return nil, 0, ErrStopped
	case <-ctx.Done():
		c.removePending(reqID)
		return nil, 0, ctx.Err()
	}

	select {
	case res := <-pr.respCh:
		return res.params, res.status, nil
	case <-c.ctx.Done():
		c.removePending(reqID)
		return nil, 0, ErrStopped
	case <-ctx.Done():
		c.removePending(reqID)
		return nil, 0, ctx.Err()
	}
}

func (c *PreemptiveClient) removePending(reqID uint16) {
	c.pendMu.Lock()
	delete(c.pending, reqID)
	c.pendMu.Unlock()
}

// Stop signals both background goroutines to exit and waits for them.
func (c *PreemptiveClient) Stop() {
	c.cancel()
	c.wg.Wait()
}
