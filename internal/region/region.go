// Package region models the one piece of memory both cores share: a
// flat byte buffer plus a base-relative addressing scheme. Every
// address this protocol hands across the wire (descriptor addresses,
// sys-info offsets) is a region-relative uint32 offset, never a real
// pointer — the two cores' virtual address spaces need not agree, only
// their view of this one region.
package region

import "github.com/chiragatal/esp-amp/internal/wire"

// Ptr is a region-relative byte offset.
type Ptr = uint32

// Region is a shared byte buffer. On Linux the simulation harness backs
// one with unix.Mmap over a MAP_SHARED file so two OS processes
// (standing in for main core / subcore) truly share the same physical
// pages; in-process tests instead share a single []byte directly
// between two components, which is observably identical from the
// protocol's point of view since the correctness properties concern
// the protocol, not the transport.
type Region struct {
	buf []byte
}

// New wraps an existing byte slice as a Region without copying it.
func New(buf []byte) *Region {
	return &Region{buf: buf}
}

// Bytes returns the full underlying slice.
func (r *Region) Bytes() []byte { return r.buf }

// Len returns the region size in bytes.
func (r *Region) Len() int { return len(r.buf) }

// Slice returns buf[off : off+length], panicking if out of range —
// callers are expected to have validated offsets against sizes
// published through the shared-info registry before calling this.
func (r *Region) Slice(off Ptr, length uint32) []byte {
	return r.buf[off : off+length]
}

// Sub returns a Region over buf[off : off+length], for carving a
// component's private slab out of a larger shared region (e.g. a
// payload allocated via sysinfo.Registry.Alloc).
func (r *Region) Sub(off Ptr, length uint32) *Region {
	return New(r.buf[off : off+length])
}

// ShortBufferErr reports a region smaller than a required struct.
var ShortBufferErr = wire.ErrShortBuffer
