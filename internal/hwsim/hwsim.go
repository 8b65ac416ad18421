//go:build linux

// Package hwsim stands in for the hardware this protocol normally runs
// on: a region of memory two cores both map, and a software-interrupt
// line one core can raise to wake the other. On Linux it backs the
// region with a real MAP_SHARED mapping (so two separate OS processes
// observe the same physical pages, not just two goroutines sharing a
// slice) and the interrupt line with an eventfd polled through
// io_uring — repurposing the teacher's io_uring submission idiom from
// "submit a block I/O command" to "wait for a cross-core notification".
package hwsim

import (
	"context"
	"fmt"

	"github.com/pawelgaczynski/giouring"
	"golang.org/x/sys/unix"
)

// SharedRegion is a MAP_SHARED anonymous mapping, usable as the shared
// memory region for amp.MainInit/SubInit when simulating two real OS
// processes rather than two goroutines in one.
type SharedRegion struct {
	fd  int
	buf []byte
}

// OpenSharedRegion creates a memfd-backed MAP_SHARED region of size
// bytes. The returned fd can be passed to a child process (e.g. via
// exec with the fd inherited) so it can map the same region with
// MapSharedFd.
func OpenSharedRegion(size int) (*SharedRegion, error) {
	fd, err := unix.MemfdCreate("amp-shared-region", 0)
	if err != nil {
		return nil, fmt.Errorf("hwsim: memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("hwsim: ftruncate: %w", err)
	}
	buf, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("hwsim: mmap: %w", err)
	}
	return &SharedRegion{fd: fd, buf: buf}, nil
}

// MapSharedFd maps an already-open shared-memory fd (inherited from
// OpenSharedRegion's owner) into this process's address space.
func MapSharedFd(fd int, size int) (*SharedRegion, error) {
	buf, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("hwsim: mmap: %w", err)
	}
	return &SharedRegion{fd: fd, buf: buf}, nil
}

// Bytes returns the mapped region.
func (s *SharedRegion) Bytes() []byte { return s.buf }

// Fd returns the underlying memfd, to hand to a child process.
func (s *SharedRegion) Fd() int { return s.fd }

// Close unmaps the region and closes its fd.
func (s *SharedRegion) Close() error {
	err := unix.Munmap(s.buf)
	unix.Close(s.fd)
	return err
}

// IRQLine simulates one direction of the cross-core software interrupt:
// Raise() is called by the sender (standing in for the hardware
// writing a trigger register), Wait() is called by the receiver's
// dispatch loop to block until a raise occurs, draining the eventfd's
// counter each time exactly like an interrupt handler acknowledging
// its peripheral.
type IRQLine struct {
	fd   int
	ring *giouring.Ring
}

// NewIRQLine creates a fresh, unraised interrupt line backed by an
// eventfd and an io_uring ring used only to poll it.
func NewIRQLine() (*IRQLine, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("hwsim: eventfd: %w", err)
	}
	ring, err := giouring.CreateRing(8)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("hwsim: io_uring setup: %w", err)
	}
	return &IRQLine{fd: fd, ring: ring}, nil
}

// Fd returns the underlying eventfd, for a MainInit/SubInit pair that
// wants to share one IRQLine's fd across a fork/exec boundary the way
// SharedRegion.Fd is shared.
func (l *IRQLine) Fd() int { return l.fd }

// Raise wakes a peer blocked in Wait. Safe to call from any goroutine;
// multiple raises before a Wait coalesce into a single wakeup, which is
// fine since the protocol layers above (xsignal) carry their own
// pending-bits word and do not rely on raise-count fidelity.
func (l *IRQLine) Raise() error {
	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(l.fd, buf[:])
	return err
}

// Wait blocks until Raise has been called at least once since the last
// Wait, or ctx is done. It submits an IORING_OP_POLL_ADD for the
// eventfd becoming readable, waits for its completion, then drains the
// eventfd's counter with a plain read.
func (l *IRQLine) Wait(ctx context.Context) error {
	sqe := l.ring.GetSQE()
	if sqe == nil {
		return fmt.Errorf("hwsim: submission queue full")
	}
	sqe.PrepPollAdd(uint64(l.fd), unix.POLLIN)

	if _, err := l.ring.Submit(); err != nil {
		return fmt.Errorf("hwsim: submit poll: %w", err)
	}

	type waitResult struct {
		err error
	}
	done := make(chan waitResult, 1)
	go func() {
		cqe, err := l.ring.WaitCQE()
		if err != nil {
			done <- waitResult{err: err}
			return
		}
		l.ring.SeenCQE(cqe)
		done <- waitResult{}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return fmt.Errorf("hwsim: wait poll completion: %w", res.err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	var buf [8]byte
	_, err := unix.Read(l.fd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return fmt.Errorf("hwsim: drain eventfd: %w", err)
	}
	return nil
}

// Close releases the ring and the eventfd.
func (l *IRQLine) Close() error {
	l.ring.QueueExit()
	return unix.Close(l.fd)
}
