package rpc

import (
	"sync"

	"github.com/chiragatal/esp-amp/internal/bus"
	"github.com/chiragatal/esp-amp/internal/constants"
	"github.com/chiragatal/esp-amp/internal/logging"
	"github.com/chiragatal/esp-amp/internal/queue"
)

// Server dispatches inbound request packets on one endpoint address to
// registered service handlers and sends back the response. It is the
// single implementation shared by both client backends — the upstream
// keeps exactly one rpc_server.c used by both the FreeRTOS and
// baremetal RPC stacks, and nothing about dispatch depends on which
// client sent the request.
type Server struct {
	dev  *bus.Device
	addr uint16

	mu       sync.Mutex
	services map[uint16]Handler
}

// NewServer registers an endpoint at addr on dev and returns a Server
// ready to Poll. The service table is bounded by
// constants.DefaultRPCMaxServices.
func NewServer(dev *bus.Device, addr uint16, logger *logging.Logger) (*Server, error) {
	s := &Server{dev: dev, addr: addr, services: make(map[uint16]Handler)}
	if _, err := dev.CreateEndpoint(addr, s.onMessage); err != nil {
		return nil, err
	}
	return s, nil
}

// RegisterService adds handler under serviceID, replacing any existing
// handler for that id — matching the upstream's fixed service table's
// "re-registering overwrites" behavior rather than erroring.
func (s *Server) RegisterService(serviceID uint16, handler Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.services[serviceID]; !exists && len(s.services) >= constants.DefaultRPCMaxServices {
		return ErrServicesFull
	}
	s.services[serviceID] = handler
	return nil
}

// UnregisterService removes serviceID's handler, if any.
func (s *Server) UnregisterService(serviceID uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.services, serviceID)
}

func (s *Server) lookup(serviceID uint16) (Handler, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.services[serviceID]
	return h, ok
}

// onMessage is the bus endpoint callback: validate, dispatch, respond,
// then release the inbound buffer. Response allocation, status
// defaulting, and the destroy-before-send-result ordering mirror
// esp_amp_rpc_server_poll in the upstream baremetal rpc_server.c.
func (s *Server) onMessage(msg *bus.Msg, srcAddr uint16) {
	hdr, params, err := unmarshalPacket(msg.Data())
	if err != nil {
		s.dev.Destroy(msg)
		return
	}

	status := StatusNoService
	var respParams []byte
	if h, ok := s.lookup(hdr.ServiceID); ok {
		out, err := h(params)
		if err != nil {
			status = StatusExecFailed
		} else {
			status = StatusOK
			respParams = out
		}
	}

	s.dev.Destroy(msg)

	resp := marshalPacket(hdr.ReqID, hdr.ServiceID, status, respParams)
	out, err := s.dev.CreateMsg(uint16(len(resp)))
	if err != nil {
		queue.PutScratch(resp)
		return
	}
	copy(out.Data(), resp)
	queue.PutScratch(resp)
	_ = s.dev.SendNocopy(out, s.addr, srcAddr)
}

// Poll drives the underlying bus once; a dispatched request is handled
// synchronously inside this call via onMessage.
func (s *Server) Poll() (bool, error) {
	return s.dev.Poll()
}
