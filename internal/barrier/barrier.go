//go:build linux && cgo

// Package barrier provides the memory fences the shared-memory protocol
// relies on in place of atomic read-modify-write. Every cross-core
// mutable word in this module (descriptor flags, signal pending bits,
// registry headers) is written by exactly one core, so a plain store is
// safe so long as a fence orders it against neighboring stores/loads the
// peer core depends on.
package barrier

/*
#include <stdint.h>

// Store fence: all prior stores are globally visible before any
// subsequent store.
static inline void sfence_impl(void) {
    __asm__ __volatile__("sfence" ::: "memory");
}

// Full fence: all prior memory operations complete before any
// subsequent memory operation.
static inline void mfence_impl(void) {
    __asm__ __volatile__("mfence" ::: "memory");
}
*/
import "C"

// Sfence issues a store fence (x86 SFENCE). Used after writing a
// descriptor's payload but before flipping its available/used bit, so
// the peer never observes the flag before the payload.
func Sfence() {
	C.sfence_impl()
}

// Mfence issues a full fence (x86 MFENCE). Used around flag reads that
// must not be reordered with respect to a preceding flag write in the
// same call (e.g. queue wraparound, signal bit drain-and-reloop).
func Mfence() {
	C.mfence_impl()
}
