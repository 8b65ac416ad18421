package amp

import (
	"errors"
	"fmt"
	"testing"
)

func TestStructuredError(t *testing.T) {
	err := NewError("queue.Alloc", "sysinfo", CodeUsage, "invalid queue size")

	if err.Op != "queue.Alloc" {
		t.Errorf("Expected Op=queue.Alloc, got %s", err.Op)
	}
	if err.Code != CodeUsage {
		t.Errorf("Expected Code=CodeUsage, got %s", err.Code)
	}

	expected := "amp: invalid queue size (op=queue.Alloc)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestWrapLeaf(t *testing.T) {
	err := WrapLeaf("rpc.Call", "rpc", ErrTimeout)

	if err.Code != CodeTransient {
		t.Errorf("Expected Code=CodeTransient, got %s", err.Code)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Error("Expected wrapped leaf to satisfy errors.Is against ErrTimeout")
	}
}

func TestWrapError(t *testing.T) {
	inner := fmt.Errorf("short read")
	err := WrapError("bus.Poll", "bus", inner)

	if err.Code != CodeFatal {
		t.Errorf("Expected Code=CodeFatal for an uncategorized inner error, got %s", err.Code)
	}
	if !errors.Is(err, inner) {
		t.Error("Expected wrapped error to satisfy errors.Is for the inner error")
	}
}

func TestWrapErrorPreservesCode(t *testing.T) {
	err := WrapError("queue.Send", "queue", ErrQueueFull)

	if err.Code != CodeTransient {
		t.Errorf("Expected Code=CodeTransient (preserved from ErrQueueFull), got %s", err.Code)
	}
	if !errors.Is(err, ErrQueueFull) {
		t.Error("Expected wrapped error to satisfy errors.Is against ErrQueueFull")
	}
}

func TestWrapErrorNil(t *testing.T) {
	if WrapError("op", "layer", nil) != nil {
		t.Error("Expected WrapError(nil) to return nil")
	}
	if WrapLeaf("op", "layer", nil) != nil {
		t.Error("Expected WrapLeaf(nil) to return nil")
	}
}

func TestIsCode(t *testing.T) {
	err := NewError("rpc.Call", "rpc", CodeTransient, "operation timed out")

	if !IsCode(err, CodeTransient) {
		t.Error("IsCode should return true for matching code")
	}
	if IsCode(err, CodeProtocol) {
		t.Error("IsCode should return false for non-matching code")
	}
	if IsCode(nil, CodeTransient) {
		t.Error("IsCode should return false for nil error")
	}
}

func TestErrorIsAgainstCode(t *testing.T) {
	err := WrapLeaf("bus.Send", "bus", ErrOversized)

	if !errors.Is(err, CodeUsage) {
		t.Error("Expected errors.Is to match a bare AmpErrorCode via Error.Is")
	}
}
