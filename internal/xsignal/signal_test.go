package xsignal

import (
	"errors"
	"sync"
	"testing"

	"github.com/chiragatal/esp-amp/internal/constants"
)

func TestTriggerAndDispatch(t *testing.T) {
	s := New(nil, nil)

	var got any
	called := 0
	if err := s.AddHandler(3, func(data any) { called++; got = data }, "payload"); err != nil {
		t.Fatalf("AddHandler: %v", err)
	}

	if err := s.Trigger(3); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	s.Dispatch()

	if called != 1 {
		t.Errorf("handler called %d times, want 1", called)
	}
	if got != "payload" {
		t.Errorf("handler data = %v, want %q", got, "payload")
	}
}

func TestTriggerCoalesces(t *testing.T) {
	s := New(nil, nil)

	called := 0
	_ = s.AddHandler(1, func(any) { called++ }, nil)

	_ = s.Trigger(1)
	_ = s.Trigger(1)
	_ = s.Trigger(1)
	s.Dispatch()

	if called != 1 {
		t.Errorf("handler called %d times, want 1 (multiple triggers before dispatch should coalesce)", called)
	}
}

func TestDispatchMultipleBits(t *testing.T) {
	s := New(nil, nil)

	var order []int
	for _, id := range []int{0, 5, 10} {
		id := id
		_ = s.AddHandler(id, func(any) { order = append(order, id) }, nil)
	}

	_ = s.Trigger(0)
	_ = s.Trigger(5)
	_ = s.Trigger(10)
	s.Dispatch()

	if len(order) != 3 {
		t.Fatalf("dispatched %d handlers, want 3", len(order))
	}
}

func TestTriggerInvokesTriggerFunc(t *testing.T) {
	invoked := 0
	s := New(func() error { invoked++; return nil }, nil)

	if err := s.Trigger(0); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if invoked != 1 {
		t.Errorf("trigger func invoked %d times, want 1", invoked)
	}
}

func TestSetTriggerReplacesHook(t *testing.T) {
	s := New(nil, nil)

	invoked := 0
	s.SetTrigger(func() error { invoked++; return nil })

	_ = s.Trigger(0)
	if invoked != 1 {
		t.Errorf("trigger func invoked %d times after SetTrigger, want 1", invoked)
	}
}

func TestTriggerBadID(t *testing.T) {
	s := New(nil, nil)

	if err := s.Trigger(-1); !errors.Is(err, ErrBadID) {
		t.Errorf("expected ErrBadID, got %v", err)
	}
	if err := s.Trigger(64); !errors.Is(err, ErrBadID) {
		t.Errorf("expected ErrBadID, got %v", err)
	}
}

func TestAddHandlerBadID(t *testing.T) {
	s := New(nil, nil)
	if err := s.AddHandler(-1, func(any) {}, nil); !errors.Is(err, ErrBadID) {
		t.Errorf("expected ErrBadID, got %v", err)
	}
}

func TestDeleteHandler(t *testing.T) {
	s := New(nil, nil)

	called := false
	handler := func(any) { called = true }
	_ = s.AddHandler(2, handler, nil)
	if err := s.DeleteHandler(2, handler); err != nil {
		t.Fatalf("DeleteHandler: %v", err)
	}

	_ = s.Trigger(2)
	s.Dispatch()

	if called {
		t.Error("handler should not fire after DeleteHandler")
	}
}

func TestAddHandlerMultiplePerID(t *testing.T) {
	s := New(nil, nil)

	var calls []int
	_ = s.AddHandler(5, func(any) { calls = append(calls, 1) }, nil)
	_ = s.AddHandler(5, func(any) { calls = append(calls, 2) }, nil)

	_ = s.Trigger(5)
	s.Dispatch()

	if len(calls) != 2 {
		t.Fatalf("expected both handlers registered for id 5 to run, got %v", calls)
	}
}

func TestDeleteHandlerOnlyRemovesMatchingPair(t *testing.T) {
	s := New(nil, nil)

	var calls []int
	h1 := func(any) { calls = append(calls, 1) }
	h2 := func(any) { calls = append(calls, 2) }
	_ = s.AddHandler(7, h1, nil)
	_ = s.AddHandler(7, h2, nil)

	_ = s.DeleteHandler(7, h1)

	_ = s.Trigger(7)
	s.Dispatch()

	if len(calls) != 1 || calls[0] != 2 {
		t.Fatalf("expected only the non-deleted handler to run, got %v", calls)
	}
}

func TestAddHandlerTableFull(t *testing.T) {
	s := New(nil, nil)
	for i := 0; i < constants.SignalHandlerTableLen; i++ {
		if err := s.AddHandler(0, func(any) {}, nil); err != nil {
			t.Fatalf("AddHandler slot %d: %v", i, err)
		}
	}
	if err := s.AddHandler(0, func(any) {}, nil); !errors.Is(err, ErrTableFull) {
		t.Errorf("expected ErrTableFull once every slot is occupied, got %v", err)
	}
}

func TestDispatchNoHandlerNoPanic(t *testing.T) {
	s := New(nil, nil)
	_ = s.Trigger(4)
	s.Dispatch() // must not panic even with no registered handler and no logger
}

func TestPendingReflectsUndispatchedBits(t *testing.T) {
	s := New(nil, nil)
	if s.Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0 before any Trigger", s.Pending())
	}
	_ = s.Trigger(1)
	if s.Pending()&(1<<1) == 0 {
		t.Error("Pending() should reflect the bit set by Trigger before Dispatch drains it")
	}
	s.Dispatch()
	if s.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0 after Dispatch", s.Pending())
	}
}

func TestConcurrentTriggerIsRaceFree(t *testing.T) {
	s := New(nil, nil)
	_ = s.AddHandler(0, func(any) {}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Trigger(0)
		}()
	}
	wg.Wait()
	s.Dispatch()
}
