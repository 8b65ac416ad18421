// Package queue implements the Descriptor Queue: a single-producer,
// single-consumer ring of fixed-size buffer slots shared between a
// master side (allocates + sends) and a remote side (receives +
// frees). Two Queue values — one per side — point at the same backing
// Conf but keep entirely separate cursor state, exactly as the
// upstream C queue keeps `esp_amp_queue_t` as a core-local struct
// pointing at a shared `esp_amp_queue_conf_t`.
//
// Correctness rests on one rule: each descriptor's AVAILABLE bit is
// written only by the master, and its USED bit is written only by the
// remote. Because each bit has exactly one writer, plain loads/stores
// plus a memory barrier are enough; no compare-and-swap ever touches
// shared memory.
package queue

import (
	"encoding/binary"

	"github.com/chiragatal/esp-amp/internal/barrier"
	"github.com/chiragatal/esp-amp/internal/logging"
	"github.com/chiragatal/esp-amp/internal/wire"
)

// Conf is the shared portion of a queue: the descriptor array and the
// fixed-size buffer slab it points into. Both sides of a queue wrap the
// same Conf (same backing []byte, whether that's an in-process slice
// shared between goroutines or an mmap'd region shared between
// processes).
type Conf struct {
	Size         uint16
	MaxItemSize  uint16
	DescRegion   []byte // Size * wire.DescriptorSize bytes
	BufferRegion []byte // Size * MaxItemSize bytes
}

// RoundUpPow2 returns the smallest power of two >= n (minimum 2).
// NewConf itself does not round: like the upstream queue-length
// validation in __esp_amp_queue_main_init, it rejects any length that
// is not a power of two, so callers with an arbitrary N round it up
// here before calling NewConf.
func RoundUpPow2(n uint16) uint16 {
	if n <= 2 {
		return 2
	}
	p := uint16(1)
	for p < n {
		p <<= 1
	}
	return p
}

// IsPow2 reports whether n is a power of two, >= 2.
func IsPow2(n uint16) bool {
	return n >= 2 && (n&(n-1)) == 0
}

// NewConf allocates a fresh descriptor array and buffer slab sized for
// size slots of maxItemSize bytes each, and initializes every
// descriptor's addr to point at its slot, matching
// esp_amp_queue_init_buffer. size must be a power of two.
func NewConf(size, maxItemSize uint16) (*Conf, error) {
	if !IsPow2(size) {
		return nil, ErrSizeNotPow2
	}
	c := &Conf{
		Size:         size,
		MaxItemSize:  maxItemSize,
		DescRegion:   make([]byte, int(size)*wire.DescriptorSize),
		BufferRegion: make([]byte, int(size)*int(maxItemSize)),
	}
	for i := uint16(0); i < size; i++ {
		d := wire.Descriptor{
			Addr:  uint32(i) * uint32(maxItemSize),
			Len:   maxItemSize,
			Flags: 0,
		}
		c.writeDescFull(i, d)
	}
	return c, nil
}

// ConfHeader is the small, sysinfo-registry-resident descriptor of a
// Conf: just enough for a peer core to reconstruct a Conf pointing at
// the same shared descriptor array and buffer slab, mirroring how the
// upstream main core publishes `esp_amp_queue_conf_t` through the
// shared-info registry for the subcore to look up.
type ConfHeader struct {
	Size         uint16
	MaxItemSize  uint16
	DescOffset   uint32
	BufferOffset uint32
}

const ConfHeaderSize = 12

func MarshalConfHeader(h ConfHeader) []byte {
	buf := make([]byte, ConfHeaderSize)
	binary.LittleEndian.PutUint16(buf[0:2], h.Size)
	binary.LittleEndian.PutUint16(buf[2:4], h.MaxItemSize)
	binary.LittleEndian.PutUint32(buf[4:8], h.DescOffset)
	binary.LittleEndian.PutUint32(buf[8:12], h.BufferOffset)
	return buf
}

func UnmarshalConfHeader(data []byte) (ConfHeader, error) {
	var h ConfHeader
	if len(data) < ConfHeaderSize {
		return h, ErrShortHeader
	}
	h.Size = binary.LittleEndian.Uint16(data[0:2])
	h.MaxItemSize = binary.LittleEndian.Uint16(data[2:4])
	h.DescOffset = binary.LittleEndian.Uint32(data[4:8])
	h.BufferOffset = binary.LittleEndian.Uint32(data[8:12])
	return h, nil
}

// NewConfIn carves a Conf's descriptor array and buffer slab out of a
// larger shared region starting at byte offset base (typically a slab
// handed out by the shared-info registry), returning the Conf, its
// ConfHeader (to publish so the peer can AttachConf), and the offset
// immediately past the carved space.
func NewConfIn(region []byte, base uint32, size, maxItemSize uint16) (*Conf, ConfHeader, uint32, error) {
	if !IsPow2(size) {
		return nil, ConfHeader{}, 0, ErrSizeNotPow2
	}
	descLen := uint32(size) * uint32(wire.DescriptorSize)
	bufLen := uint32(size) * uint32(maxItemSize)
	end := base + descLen + bufLen
	if end > uint32(len(region)) {
		return nil, ConfHeader{}, 0, ErrNoMem
	}

	c := &Conf{
		Size:         size,
		MaxItemSize:  maxItemSize,
		DescRegion:   region[base : base+descLen],
		BufferRegion: region[base+descLen : end],
	}
	for i := uint16(0); i < size; i++ {
		d := wire.Descriptor{Addr: uint32(i) * uint32(maxItemSize), Len: maxItemSize, Flags: 0}
		c.writeDescFull(i, d)
	}

	h := ConfHeader{Size: size, MaxItemSize: maxItemSize, DescOffset: base, BufferOffset: base + descLen}
	return c, h, end, nil
}

// AttachConf reconstructs a Conf over the same shared region a peer
// core carved with NewConfIn, using the published ConfHeader.
func AttachConf(region []byte, h ConfHeader) *Conf {
	descLen := uint32(h.Size) * uint32(wire.DescriptorSize)
	bufLen := uint32(h.Size) * uint32(h.MaxItemSize)
	return &Conf{
		Size:         h.Size,
		MaxItemSize:  h.MaxItemSize,
		DescRegion:   region[h.DescOffset : h.DescOffset+descLen],
		BufferRegion: region[h.BufferOffset : h.BufferOffset+bufLen],
	}
}

// DescLen returns the byte length of the descriptor array for a queue
// of the given size.
func DescLen(size uint16) uint32 {
	return uint32(size) * uint32(wire.DescriptorSize)
}

// SlabLen returns the total byte length NewConfIn carves for a Conf of
// the given size/maxItemSize: descriptor array plus buffer slab. Useful
// for reserving exactly that many bytes via sysinfo.Registry.Alloc
// before calling NewConfIn on the same base offset.
func SlabLen(size, maxItemSize uint16) uint32 {
	return DescLen(size) + uint32(size)*uint32(maxItemSize)
}

func (c *Conf) descOffset(idx uint16) int {
	return int(idx) * wire.DescriptorSize
}

func (c *Conf) writeDescFull(idx uint16, d wire.Descriptor) {
	off := c.descOffset(idx)
	copy(c.DescRegion[off:], wire.MarshalDescriptor(&d))
}

func (c *Conf) readDesc(idx uint16) wire.Descriptor {
	var d wire.Descriptor
	off := c.descOffset(idx)
	_ = wire.UnmarshalDescriptor(c.DescRegion[off:], &d)
	return d
}

func (c *Conf) readFlags(idx uint16) uint16 {
	off := c.descOffset(idx) + 6
	return binary.LittleEndian.Uint16(c.DescRegion[off : off+2])
}

func (c *Conf) writeFlags(idx uint16, flags uint16) {
	off := c.descOffset(idx) + 6
	binary.LittleEndian.PutUint16(c.DescRegion[off:off+2], flags)
}

func (c *Conf) writeAddrLen(idx uint16, addr uint32, length uint16) {
	off := c.descOffset(idx)
	binary.LittleEndian.PutUint32(c.DescRegion[off:off+4], addr)
	binary.LittleEndian.PutUint16(c.DescRegion[off+4:off+6], length)
}

// Slot returns the buffer bytes for a descriptor address/length pair,
// as returned by Alloc/Recv.
func (c *Conf) Slot(addr uint32, length uint16) []byte {
	return c.BufferRegion[addr : addr+uint32(length)]
}

const (
	availableMask uint16 = wire.DescFlagAvailable
	usedMask      uint16 = wire.DescFlagUsed
)

func maskForFlip(mask, flip uint16) uint16 {
	if flip != 0 {
		return mask
	}
	return 0
}

// flagIsUsed reports "this slot has been consumed and is free for the
// owning cursor to reclaim" relative to flip.
func flagIsUsed(flip, flags uint16) bool {
	return (flags&availableMask) != maskForFlip(availableMask, flip) &&
		(flags&usedMask) != maskForFlip(usedMask, flip)
}

// flagIsAvailable reports "this slot holds data ready for the owning
// cursor to consume" relative to flip.
func flagIsAvailable(flip, flags uint16) bool {
	return (flags&availableMask) == maskForFlip(availableMask, flip) &&
		(flags&usedMask) != maskForFlip(usedMask, flip)
}

// NotifyFunc is called after a successful Send, standing in for the
// software interrupt the real queue raises towards the peer core.
type NotifyFunc func() error

// Queue is one side's (master or remote) local cursor state over a
// shared Conf.
type Queue struct {
	conf   *Conf
	master bool

	freeIndex uint16
	usedIndex uint16
	freeFlip  uint16 // 0 or 1
	usedFlip  uint16 // 0 or 1

	notify NotifyFunc
	logger *logging.Logger
}

// NewMaster creates the allocate/send side of a queue.
func NewMaster(conf *Conf, notify NotifyFunc, logger *logging.Logger) *Queue {
	return &Queue{conf: conf, master: true, freeFlip: 1, usedFlip: 1, notify: notify, logger: logger}
}

// NewRemote creates the receive/free side of a queue.
func NewRemote(conf *Conf, logger *logging.Logger) *Queue {
	return &Queue{conf: conf, master: false, freeFlip: 1, usedFlip: 1, logger: logger}
}

func (q *Queue) mask() uint16 { return q.conf.Size - 1 }

// AllocTry reserves the next free slot for writing and returns its
// buffer address (an offset into Conf.BufferRegion, not a pointer).
// Master-only.
func (q *Queue) AllocTry(size uint16) (uint32, error) {
	if !q.master {
		return 0, ErrNotSupported
	}
	if size > q.conf.MaxItemSize {
		return 0, ErrNoMem
	}

	idx := q.freeIndex & q.mask()
	flags := q.conf.readFlags(idx)
	barrier.Mfence()
	if !flagIsUsed(q.freeFlip, flags) {
		return 0, ErrNotFound
	}

	d := q.conf.readDesc(idx)
	q.freeIndex++
	if idx == q.conf.Size-1 {
		q.freeFlip ^= 1
	}
	return d.Addr, nil
}

// SendTry publishes the slot at addr (previously returned by AllocTry)
// with the given length, making it visible to the remote side's
// RecvTry. Master-only.
func (q *Queue) SendTry(addr uint32, size uint16) error {
	if !q.master {
		return ErrNotSupported
	}
	if q.usedIndex == q.freeIndex {
		return ErrNotAllowed
	}
	if size > q.conf.MaxItemSize {
		return ErrNoMem
	}

	idx := q.usedIndex & q.mask()
	flags := q.conf.readFlags(idx)
	barrier.Mfence()
	if !flagIsUsed(q.usedFlip, flags) {
		return ErrNotAllowed
	}

	q.conf.writeAddrLen(idx, addr, size)
	barrier.Sfence()
	q.usedIndex++
	q.conf.writeFlags(idx, flags^availableMask)
	if idx == q.conf.Size-1 {
		q.usedFlip ^= 1
	}

	if q.notify != nil {
		return q.notify()
	}
	return nil
}

// RecvTry returns the next available slot's address and length without
// releasing it. Remote-only.
func (q *Queue) RecvTry() (uint32, uint16, error) {
	if q.master {
		return 0, 0, ErrNotSupported
	}

	idx := q.freeIndex & q.mask()
	flags := q.conf.readFlags(idx)
	barrier.Mfence()
	if !flagIsAvailable(q.freeFlip, flags) {
		return 0, 0, ErrNotFound
	}

	d := q.conf.readDesc(idx)
	q.freeIndex++
	if idx == q.conf.Size-1 {
		q.freeFlip ^= 1
	}
	return d.Addr, d.Len, nil
}

// FreeTry returns the slot at addr (previously returned by RecvTry) to
// the master for reuse. Remote-only.
func (q *Queue) FreeTry(addr uint32) error {
	if q.master {
		return ErrNotSupported
	}
	if q.usedIndex == q.freeIndex {
		return ErrNotAllowed
	}

	idx := q.usedIndex & q.mask()
	flags := q.conf.readFlags(idx)
	barrier.Mfence()
	if !flagIsAvailable(q.usedFlip, flags) {
		return ErrNotAllowed
	}

	q.conf.writeAddrLen(idx, addr, q.conf.MaxItemSize)
	barrier.Sfence()
	q.usedIndex++
	q.conf.writeFlags(idx, flags^usedMask)
	if idx == q.conf.Size-1 {
		q.usedFlip ^= 1
	}
	return nil
}

// Slot is a convenience wrapper over Conf.Slot for this queue's buffer
// region.
func (q *Queue) Slot(addr uint32, length uint16) []byte {
	return q.conf.Slot(addr, length)
}

// MaxItemSize returns the configured per-slot capacity.
func (q *Queue) MaxItemSize() uint16 { return q.conf.MaxItemSize }

// QueueError is the small sentinel error type for this package.
type QueueError string

func (e QueueError) Error() string { return string(e) }

const (
	ErrNotSupported QueueError = "operation not supported for this queue role"
	ErrNotAllowed   QueueError = "operation not allowed: wrong call order"
	ErrNotFound     QueueError = "no slot available"
	ErrNoMem        QueueError = "size exceeds max item size"
	ErrSizeNotPow2  QueueError = "queue size must be a power of two"
	ErrShortHeader  QueueError = "buffer too short for conf header"
)
