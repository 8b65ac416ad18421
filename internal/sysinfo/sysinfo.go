// Package sysinfo implements the Shared-Info Registry: a singly linked
// list bump-allocator living in a region of memory both cores can read,
// used to publish handles (queue configs, endpoint tables, anything
// else a later-initializing core needs to look up) without a prior
// rendezvous mechanism.
//
// Only the main core may Alloc; both cores may Get. The registry has no
// free operation — entries live for the process lifetime, matching the
// upstream registry's one-shot bring-up usage.
package sysinfo

import (
	"fmt"

	"github.com/chiragatal/esp-amp/internal/barrier"
	"github.com/chiragatal/esp-amp/internal/logging"
	"github.com/chiragatal/esp-amp/internal/wire"
)

// sentinelInfoID marks the anchor header written at region offset 0.
// It is never a legal application-assigned id.
const sentinelInfoID = 0xFFFF

// Registry is the runtime handle for one shared-info region. Callers
// construct exactly one per shared region and pass it by reference
// through the stack, per the "explicit runtime object, not a hidden
// global" design note.
type Registry struct {
	region []byte
	logger *logging.Logger
}

// Init formats region as an empty registry (writes the anchor header)
// and returns a Registry over it. Call exactly once, from the main
// core, before either core calls Alloc or Get.
func Init(region []byte, logger *logging.Logger) (*Registry, error) {
	if len(region) < wire.SysInfoHeaderSize {
		return nil, wrapErr("Init", ErrRegionTooSmall)
	}
	anchor := wire.SysInfoHeader{InfoID: sentinelInfoID, Size: 0, Next: wire.SysInfoNextNone}
	copy(region, wire.MarshalSysInfoHeader(&anchor))
	barrier.Sfence()
	return &Registry{region: region, logger: logger}, nil
}

// Attach wraps an already-initialized region without rewriting the
// anchor header. Call from the subcore, which finds the registry
// already populated by the main core.
func Attach(region []byte, logger *logging.Logger) (*Registry, error) {
	if len(region) < wire.SysInfoHeaderSize {
		return nil, wrapErr("Attach", ErrRegionTooSmall)
	}
	return &Registry{region: region, logger: logger}, nil
}

func roundUpWord(n uint16) uint16 {
	const word = 4
	return (n + word - 1) / word * word
}

func (r *Registry) readHeader(off uint32) (wire.SysInfoHeader, error) {
	var h wire.SysInfoHeader
	if int(off)+wire.SysInfoHeaderSize > len(r.region) {
		return h, ErrCorrupt
	}
	err := wire.UnmarshalSysInfoHeader(r.region[off:], &h)
	return h, err
}

func (r *Registry) writeHeader(off uint32, h wire.SysInfoHeader) {
	copy(r.region[off:], wire.MarshalSysInfoHeader(&h))
}

// walk returns the offset of the last entry in the list and the offset
// immediately past its payload (the next bump-allocation point), plus
// the offset of infoID if found (or found=false).
func (r *Registry) walk(infoID uint16) (lastOff uint32, bumpOff uint32, found bool, foundOff uint32, err error) {
	anchor, err := r.readHeader(0)
	if err != nil {
		return 0, 0, false, 0, err
	}
	lastOff = 0
	bumpOff = wire.SysInfoHeaderSize
	cur := anchor.Next
	for cur != wire.SysInfoNextNone {
		h, err := r.readHeader(cur)
		if err != nil {
			return 0, 0, false, 0, err
		}
		if h.InfoID == infoID {
			found = true
			foundOff = cur
		}
		lastOff = cur
		bumpOff = cur + wire.SysInfoHeaderSize + uint32(roundUpWord(h.Size))
		cur = h.Next
	}
	return lastOff, bumpOff, found, foundOff, nil
}

// Alloc reserves size bytes tagged with infoID and returns the byte
// offset of the payload (relative to the region base). Main-core only:
// callers on the subcore must never call Alloc, only Attach+Get. Only
// the anchor's sentinel id 0xFFFF is rejected with ErrReservedID; the
// ids 0xFF00-0xFFFE are accepted like any other.
func (r *Registry) Alloc(infoID uint16, size uint16) (uint32, error) {
	if infoID >= sentinelInfoID {
		return 0, wrapErr("Alloc", ErrReservedID)
	}

	lastOff, bumpOff, found, _, err := r.walk(infoID)
	if err != nil {
		return 0, wrapErr("Alloc", err)
	}
	if found {
		return 0, wrapErr("Alloc", ErrDuplicateID)
	}

	sizeWord := roundUpWord(size)
	end := bumpOff + wire.SysInfoHeaderSize + uint32(sizeWord)
	if end > uint32(len(r.region)) {
		return 0, wrapErr("Alloc", ErrNoMem)
	}

	entry := wire.SysInfoHeader{InfoID: infoID, Size: size, Next: wire.SysInfoNextNone}
	r.writeHeader(bumpOff, entry)
	barrier.Sfence()

	// Link the new entry in only after its own header is fully
	// written, so a concurrent Get walking the list never observes a
	// Next pointer to a half-written header.
	var prev wire.SysInfoHeader
	if lastOff == 0 {
		prev, err = r.readHeader(0)
	} else {
		prev, err = r.readHeader(lastOff)
	}
	if err != nil {
		return 0, wrapErr("Alloc", err)
	}
	prev.Next = bumpOff
	r.writeHeader(lastOff, prev)
	barrier.Sfence()

	if r.logger != nil {
		r.logger.Debug("sysinfo alloc", "info_id", infoID, "size", size, "offset", bumpOff+wire.SysInfoHeaderSize)
	}
	return bumpOff + wire.SysInfoHeaderSize, nil
}

// Get looks up infoID and returns the payload's byte offset and size.
// Safe to call from either core at any time after Init has returned.
func (r *Registry) Get(infoID uint16) (uint32, uint16, error) {
	barrier.Mfence()
	_, _, found, foundOff, err := r.walk(infoID)
	if err != nil {
		return 0, 0, wrapErr("Get", err)
	}
	if !found {
		return 0, 0, wrapErr("Get", ErrNotFoundID)
	}
	h, err := r.readHeader(foundOff)
	if err != nil {
		return 0, 0, wrapErr("Get", err)
	}
	return foundOff + wire.SysInfoHeaderSize, h.Size, nil
}

// Payload returns the region slice backing the entry's payload, sized
// to its registered length, as a convenience over Get.
func (r *Registry) Payload(infoID uint16) ([]byte, error) {
	off, size, err := r.Get(infoID)
	if err != nil {
		return nil, err
	}
	return r.region[off : off+uint32(size)], nil
}

// Dump logs every registered entry at debug level, mirroring the
// upstream sys_info dump used during bring-up debugging.
func (r *Registry) Dump() {
	if r.logger == nil {
		return
	}
	anchor, err := r.readHeader(0)
	if err != nil {
		r.logger.Error("sysinfo dump failed", "err", err)
		return
	}
	r.logger.Debug("=== sys info dump ===")
	cur := anchor.Next
	for cur != wire.SysInfoNextNone {
		h, err := r.readHeader(cur)
		if err != nil {
			r.logger.Error("sysinfo dump corrupt entry", "offset", cur, "err", err)
			return
		}
		r.logger.Debug("sysinfo entry", "info_id", h.InfoID, "size", h.Size, "offset", cur)
		cur = h.Next
	}
}

func wrapErr(op string, err error) error {
	return fmt.Errorf("sysinfo.%s: %w", op, err)
}

// SysInfoError is a small sentinel error type for registry failures;
// the root amp package wraps these with WrapError, which gives them
// CodeFatal, when surfacing them to applications.
type SysInfoError string

func (e SysInfoError) Error() string { return string(e) }

const (
	ErrRegionTooSmall SysInfoError = "region smaller than one header"
	ErrNoMem          SysInfoError = "registry region full"
	ErrDuplicateID    SysInfoError = "info id already registered"
	ErrNotFoundID     SysInfoError = "info id not found"
	ErrReservedID     SysInfoError = "info id in reserved range"
	ErrCorrupt        SysInfoError = "registry entry out of bounds"
)
