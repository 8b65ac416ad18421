// Package wire defines the on-the-wire layout shared between the main
// core and the subcore: the shared-info registry header, descriptor
// queue slot header, message bus header, and RPC packet header. All
// values cross an address-space boundary where the peer may be a
// different endianness-agnostic toolchain, so every field is packed by
// hand with encoding/binary rather than relying on Go struct layout.
package wire

import (
	"encoding/binary"
	"unsafe"
)

// SysInfoHeader precedes every entry in the shared-info registry's
// singly linked list. Next is a byte offset from the region base rather
// than a pointer: the registry lives in memory two separate processes
// (or cores) map at possibly different base addresses, so a raw pointer
// written by one side would be meaningless to the other.
type SysInfoHeader struct {
	InfoID uint16
	Size   uint16
	Next   uint32
}

const SysInfoHeaderSize = 8

var _ [SysInfoHeaderSize]byte = [unsafe.Sizeof(SysInfoHeader{})]byte{}

// SysInfoNextNone is the sentinel "no next entry" value, the offset
// equivalent of a NULL pointer in the original linked list.
const SysInfoNextNone = 0

func MarshalSysInfoHeader(h *SysInfoHeader) []byte {
	buf := make([]byte, SysInfoHeaderSize)
	binary.LittleEndian.PutUint16(buf[0:2], h.InfoID)
	binary.LittleEndian.PutUint16(buf[2:4], h.Size)
	binary.LittleEndian.PutUint32(buf[4:8], h.Next)
	return buf
}

func UnmarshalSysInfoHeader(data []byte, h *SysInfoHeader) error {
	if len(data) < SysInfoHeaderSize {
		return ErrShortBuffer
	}
	h.InfoID = binary.LittleEndian.Uint16(data[0:2])
	h.Size = binary.LittleEndian.Uint16(data[2:4])
	h.Next = binary.LittleEndian.Uint32(data[4:8])
	return nil
}

// Descriptor is one slot of a queue ring. Addr is a byte offset into the
// queue's shared buffer slab, for the same base-relative-addressing
// reason as SysInfoHeader.Next.
//
// Flags packs two single-bit fields set by two different cores: bit 7
// (DescFlagAvailable) is written only by the master side, bit 15
// (DescFlagUsed) only by the remote side. Because each bit has exactly
// one writer, plain loads/stores plus a memory barrier are sufficient —
// no compare-and-swap is needed or used anywhere in this protocol.
type Descriptor struct {
	Addr  uint32
	Len   uint16
	Flags uint16
}

const DescriptorSize = 8

var _ [DescriptorSize]byte = [unsafe.Sizeof(Descriptor{})]byte{}

const (
	DescFlagAvailable uint16 = 1 << 7
	DescFlagUsed      uint16 = 1 << 15
)

func MarshalDescriptor(d *Descriptor) []byte {
	buf := make([]byte, DescriptorSize)
	binary.LittleEndian.PutUint32(buf[0:4], d.Addr)
	binary.LittleEndian.PutUint16(buf[4:6], d.Len)
	binary.LittleEndian.PutUint16(buf[6:8], d.Flags)
	return buf
}

func UnmarshalDescriptor(data []byte, d *Descriptor) error {
	if len(data) < DescriptorSize {
		return ErrShortBuffer
	}
	d.Addr = binary.LittleEndian.Uint32(data[0:4])
	d.Len = binary.LittleEndian.Uint16(data[4:6])
	d.Flags = binary.LittleEndian.Uint16(data[6:8])
	return nil
}

// MsgHeader precedes every message bus payload in a queue buffer slot.
type MsgHeader struct {
	SrcAddr   uint16
	DstAddr   uint16
	DataLen   uint16
	DataFlags uint16
}

const MsgHeaderSize = 8

var _ [MsgHeaderSize]byte = [unsafe.Sizeof(MsgHeader{})]byte{}

// MsgDataDefault is the only flag value this port assigns meaning to;
// the field exists for wire compatibility with richer flag schemes.
const MsgDataDefault uint16 = 0

func MarshalMsgHeader(h *MsgHeader) []byte {
	buf := make([]byte, MsgHeaderSize)
	binary.LittleEndian.PutUint16(buf[0:2], h.SrcAddr)
	binary.LittleEndian.PutUint16(buf[2:4], h.DstAddr)
	binary.LittleEndian.PutUint16(buf[4:6], h.DataLen)
	binary.LittleEndian.PutUint16(buf[6:8], h.DataFlags)
	return buf
}

func UnmarshalMsgHeader(data []byte, h *MsgHeader) error {
	if len(data) < MsgHeaderSize {
		return ErrShortBuffer
	}
	h.SrcAddr = binary.LittleEndian.Uint16(data[0:2])
	h.DstAddr = binary.LittleEndian.Uint16(data[2:4])
	h.DataLen = binary.LittleEndian.Uint16(data[4:6])
	h.DataFlags = binary.LittleEndian.Uint16(data[6:8])
	return nil
}

// RPCPacket precedes inline request/response parameters sent over the
// message bus by the RPC layer.
type RPCPacket struct {
	ReqID     uint16
	ServiceID uint16
	Status    uint16
	ParamsLen uint16
}

const RPCPacketHeaderSize = 8

var _ [RPCPacketHeaderSize]byte = [unsafe.Sizeof(RPCPacket{})]byte{}

func MarshalRPCPacket(p *RPCPacket) []byte {
	buf := make([]byte, RPCPacketHeaderSize)
	binary.LittleEndian.PutUint16(buf[0:2], p.ReqID)
	binary.LittleEndian.PutUint16(buf[2:4], p.ServiceID)
	binary.LittleEndian.PutUint16(buf[4:6], p.Status)
	binary.LittleEndian.PutUint16(buf[6:8], p.ParamsLen)
	return buf
}

func UnmarshalRPCPacket(data []byte, p *RPCPacket) error {
	if len(data) < RPCPacketHeaderSize {
		return ErrShortBuffer
	}
	p.ReqID = binary.LittleEndian.Uint16(data[0:2])
	p.ServiceID = binary.LittleEndian.Uint16(data[2:4])
	p.Status = binary.LittleEndian.Uint16(data[4:6])
	p.ParamsLen = binary.LittleEndian.Uint16(data[6:8])
	return nil
}

// ShortBufferError reports that a buffer was too small to contain the
// header being unmarshaled.
type ShortBufferError string

func (e ShortBufferError) Error() string { return string(e) }

const ErrShortBuffer ShortBufferError = "wire: buffer too short to unmarshal"
