package rpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chiragatal/esp-amp/internal/bus"
)

// pumpPoll runs dev.Poll in a loop until stop is closed, standing in
// for the interrupt-driven dispatch loop a real core would run.
func pumpPoll(dev *bus.Device, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
			dev.Poll()
			time.Sleep(100 * time.Microsecond)
		}
	}
}

func TestPreemptiveClientCallRoundTrip(t *testing.T) {
	mainDev, subDev, err := bus.NewLinkedDevices(8, 128, false, nil)
	if err != nil {
		t.Fatalf("NewLinkedDevices: %v", err)
	}

	server, err := NewServer(subDev, 1, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := server.RegisterService(1, func(params []byte) ([]byte, error) {
		return append([]byte(nil), params...), nil
	}); err != nil {
		t.Fatalf("RegisterService: %v", err)
	}

	client, err := NewPreemptiveClient(mainDev, 2, 1, 4, nil)
	if err != nil {
		t.Fatalf("NewPreemptiveClient: %v", err)
	}
	defer client.Stop()

	stop := make(chan struct{})
	defer close(stop)
	go pumpPoll(subDev, stop)
	go pumpPoll(mainDev, stop)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	params, status, err := client.Call(ctx, 1, []byte("ping"))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if status != StatusOK {
		t.Errorf("status = %v, want StatusOK", status)
	}
	if string(params) != "ping" {
		t.Errorf("params = %q, want %q", params, "ping")
	}
}

func TestPreemptiveClientCallContextTimeout(t *testing.T) {
	mainDev, _, err := bus.NewLinkedDevices(8, 128, false, nil)
	if err != nil {
		t.Fatalf("NewLinkedDevices: %v", err)
	}

	client, err := NewPreemptiveClient(mainDev, 2, 1, 4, nil)
	if err != nil {
		t.Fatalf("NewPreemptiveClient: %v", err)
	}
	defer client.Stop()

	// No server / pump on the other side, so the request never gets a
	// response and the call must time out via ctx rather than hang.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, _, err := client.Call(ctx, 1, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestPreemptiveClientTableFull(t *testing.T) {
	mainDev, _, err := bus.NewLinkedDevices(8, 128, false, nil)
	if err != nil {
		t.Fatalf("NewLinkedDevices: %v", err)
	}

	client, err := NewPreemptiveClient(mainDev, 2, 1, 1, nil)
	if err != nil {
		t.Fatalf("NewPreemptiveClient: %v", err)
	}
	defer client.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// First call fills the one pending slot and will itself time out;
	// run it in the background so the second call can observe the
	// table-full condition while it's still outstanding.
	done := make(chan struct{})
	go func() {
		client.Call(ctx, 1, nil)
		close(done)
	}()

	// Give the first call a moment to register its pending entry.
	time.Sleep(5 * time.Millisecond)

	if _, _, err := client.Call(context.Background(), 1, nil); !errors.Is(err, ErrTableFull) {
		t.Errorf("expected ErrTableFull, got %v", err)
	}

	<-done
}

func TestPreemptiveClientStopUnblocksCall(t *testing.T) {
	mainDev, _, err := bus.NewLinkedDevices(8, 128, false, nil)
	if err != nil {
		t.Fatalf("NewLinkedDevices: %v", err)
	}

	client, err := NewPreemptiveClient(mainDev, 2, 1, 4, nil)
	if err != nil {
		t.Fatalf("NewPreemptiveClient: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, _, err := client.Call(context.Background(), 1, nil)
		done <- err
	}()

	time.Sleep(5 * time.Millisecond)
	client.Stop()

	select {
	case err := <-done:
		if !errors.Is(err, ErrStopped) {
			t.Errorf("expected ErrStopped after Stop, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Call did not unblock after Stop")
	}
}
