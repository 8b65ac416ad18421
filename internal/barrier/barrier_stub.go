//go:build !linux || !cgo

package barrier

import "sync/atomic"

// Sfence falls back to a portable compiler/runtime barrier on platforms
// without inline asm support. atomic.StoreInt32 on a throwaway word is
// the same trick Go's own runtime uses internally to force a memory
// barrier without cgo; it is weaker than a true SFENCE but sufficient
// for the simulation harness, which never actually spans two physical
// cores with independent cache domains.
var fenceWord int32

func Sfence() {
	atomic.StoreInt32(&fenceWord, atomic.LoadInt32(&fenceWord)+1)
}

func Mfence() {
	atomic.AddInt32(&fenceWord, 1)
}
