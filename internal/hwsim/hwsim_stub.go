//go:build !linux

package hwsim

import (
	"context"
	"fmt"
)

// SharedRegion falls back to a plain heap buffer on non-Linux
// platforms: no cross-process sharing, but the same API surface, so
// code built against hwsim at least compiles and runs single-process
// tests everywhere.
type SharedRegion struct {
	buf []byte
}

// OpenSharedRegion allocates a plain []byte of size bytes.
func OpenSharedRegion(size int) (*SharedRegion, error) {
	return &SharedRegion{buf: make([]byte, size)}, nil
}

// MapSharedFd is unsupported outside Linux.
func MapSharedFd(fd int, size int) (*SharedRegion, error) {
	return nil, fmt.Errorf("hwsim: cross-process shared regions require linux")
}

func (s *SharedRegion) Bytes() []byte { return s.buf }
func (s *SharedRegion) Fd() int       { return -1 }
func (s *SharedRegion) Close() error  { return nil }

// IRQLine falls back to a buffered Go channel, mirroring the teacher's
// own iouring_stub.go / kernelopcode_stub.go split for non-Linux
// builds: same shape, weaker guarantees, good enough for
// same-process simulation and tests.
type IRQLine struct {
	ch chan struct{}
}

// NewIRQLine creates a channel-backed interrupt line.
func NewIRQLine() (*IRQLine, error) {
	return &IRQLine{ch: make(chan struct{}, 1)}, nil
}

func (l *IRQLine) Fd() int { return -1 }

// Raise wakes a peer blocked in Wait, coalescing with any previous
// unconsumed raise.
func (l *IRQLine) Raise() error {
	select {
	case l.ch <- struct{}{}:
	default:
	}
	return nil
}

// Wait blocks until Raise has been called, or ctx is done.
func (l *IRQLine) Wait(ctx context.Context) error {
	select {
	case <-l.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *IRQLine) Close() error { return nil }
