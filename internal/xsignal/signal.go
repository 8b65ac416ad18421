// Package xsignal implements the Cross-Core Signal: a single
// atomic pending-bits word per direction plus a local handler table.
// Multiple triggers of the same id before the peer dispatches coalesce
// into one pending bit — the protocol guarantees "you will be notified
// at least once", not "you will be notified once per Trigger call".
package xsignal

import (
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/chiragatal/esp-amp/internal/constants"
	"github.com/chiragatal/esp-amp/internal/logging"
)

// HandlerFunc is invoked once per dispatch drain in which its id's bit
// was set, with the opaque data pointer supplied at registration.
type HandlerFunc func(data any)

type handlerEntry struct {
	id   int
	fn   HandlerFunc
	data any
}

func (h handlerEntry) empty() bool { return h.fn == nil }

// funcPointer returns a comparable identity for fn, used the way the
// upstream compares handler function pointers in
// esp_amp_sw_intr_delete_handler. The identity is the code pointer:
// closures built from different function literals compare unequal, but
// two closures built from the same literal compare equal even when they
// capture different values.
func funcPointer(fn HandlerFunc) uintptr {
	return reflect.ValueOf(fn).Pointer()
}

// TriggerFunc performs the platform-specific act of raising the peer
// core's interrupt line (on the simulation harness: writing to an
// eventfd). A nil TriggerFunc means Trigger only sets the local bit and
// relies on the peer polling Dispatch itself.
type TriggerFunc func() error

// Signal is one direction's pending-bits word and handler table. A
// full duplex link uses two Signal instances, one per direction, each
// wired to its own TriggerFunc.
type Signal struct {
	pending atomic.Uint32
	trigger TriggerFunc
	logger  *logging.Logger

	mu       sync.Mutex
	handlers [constants.SignalHandlerTableLen]handlerEntry
}

// New creates a Signal. trigger may be nil for a local, same-process
// Signal used only for coalescing and dispatch (e.g. in unit tests).
func New(trigger TriggerFunc, logger *logging.Logger) *Signal {
	return &Signal{trigger: trigger, logger: logger}
}

// SetTrigger assigns (or replaces) the platform trigger hook after
// construction. Needed when two Signals are wired to notify each
// other directly (an in-process loopback) and neither can exist before
// the other.
func (s *Signal) SetTrigger(trigger TriggerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trigger = trigger
}

// AddHandler registers fn for id in the first free table slot. Multiple
// handlers may be registered for the same id; all of them run on a
// dispatch that finds id's bit set, matching the upstream's flat
// sw_intr_handlers[] slot table rather than one handler per id. Returns
// ErrTableFull once every slot is occupied.
func (s *Signal) AddHandler(id int, fn HandlerFunc, data any) error {
	if id < 0 || id >= constants.SignalIDMax {
		return ErrBadID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.handlers {
		if s.handlers[i].empty() {
			s.handlers[i] = handlerEntry{id: id, fn: fn, data: data}
			return nil
		}
	}
	return ErrTableFull
}

// DeleteHandler removes every slot registered for (id, fn), matching
// the upstream's esp_amp_sw_intr_delete_handler, which clears every
// table entry whose (intr_id, handler) pair matches rather than just
// the first.
func (s *Signal) DeleteHandler(id int, fn HandlerFunc) error {
	if id < 0 || id >= constants.SignalIDMax {
		return ErrBadID
	}
	target := funcPointer(fn)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.handlers {
		if s.handlers[i].id == id && !s.handlers[i].empty() && funcPointer(s.handlers[i].fn) == target {
			s.handlers[i] = handlerEntry{}
		}
	}
	return nil
}

// Trigger sets id's pending bit (atomic fetch-or — safe against a
// concurrent Dispatch on the peer core swapping the word to zero) and
// invokes the platform trigger hook, if any.
func (s *Signal) Trigger(id int) error {
	if id < 0 || id >= constants.SignalIDMax {
		return ErrBadID
	}
	orBit(&s.pending, uint32(1)<<uint(id))
	if s.trigger != nil {
		return s.trigger()
	}
	return nil
}

// Dispatch drains all pending bits, invoking each registered handler at
// most once per bit that was set, then re-checks the word: a Trigger
// racing with a handler's execution must not be lost. Returns once a
// Swap observes zero, so a bit set mid-drain is picked up by the next
// iteration of the swap loop.
func (s *Signal) Dispatch() {
	for {
		bits := s.pending.Swap(0)
		if bits == 0 {
			return
		}
		s.mu.Lock()
		handlers := s.handlers
		s.mu.Unlock()
		for id := 0; id < constants.SignalIDMax; id++ {
			if bits&(uint32(1)<<uint(id)) == 0 {
				continue
			}
			ran := false
			for _, h := range handlers {
				if h.empty() || h.id != id {
					continue
				}
				h.fn(h.data)
				ran = true
			}
			if !ran && s.logger != nil {
				s.logger.Warn("signal dispatched with no handler", "id", id)
			}
		}
	}
}

// Pending reports the current raw pending-bits word, for tests that
// want to observe coalescing without triggering a dispatch.
func (s *Signal) Pending() uint32 {
	return s.pending.Load()
}

func orBit(word *atomic.Uint32, bit uint32) {
	for {
		old := word.Load()
		if word.CompareAndSwap(old, old|bit) {
			return
		}
	}
}

// SignalError is the small sentinel error type for this package.
type SignalError string

func (e SignalError) Error() string { return string(e) }

const (
	ErrBadID     SignalError = "signal id out of range"
	ErrTableFull SignalError = "signal handler table full"
)
