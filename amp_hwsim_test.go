package amp

import (
	"context"
	"testing"
	"time"

	"github.com/chiragatal/esp-amp/internal/bus"
	"github.com/chiragatal/esp-amp/internal/hwsim"
)

// TestMainSubInitOverHwsim drives MainInit/SubInit over a genuine
// hwsim.SharedRegion with each side's interrupt actually raised and
// waited on through a pair of hwsim.IRQLine instances (eventfd+io_uring
// on Linux, a channel on the stub build) instead of the in-process
// function-call wiring Pair and TestMainSubInitSharedRegion use. Two
// goroutines stand in for the two OS processes MainInit/SubInit are
// meant to run in, each blocked in its own IRQLine.Wait the way a real
// core's dispatch loop would block on its hardware interrupt.
func TestMainSubInitOverHwsim(t *testing.T) {
	region, err := hwsim.OpenSharedRegion(8192)
	if err != nil {
		t.Fatalf("OpenSharedRegion: %v", err)
	}
	defer region.Close()

	mainWake, err := hwsim.NewIRQLine()
	if err != nil {
		t.Fatalf("NewIRQLine (main): %v", err)
	}
	defer mainWake.Close()
	subWake, err := hwsim.NewIRQLine()
	if err != nil {
		t.Fatalf("NewIRQLine (sub): %v", err)
	}
	defer subWake.Close()

	mainCore, err := MainInit(region.Bytes(), Config{
		QueueSize:   4,
		MaxItemSize: 64,
		TriggerPeer: subWake.Raise,
	})
	if err != nil {
		t.Fatalf("MainInit: %v", err)
	}
	subCore, err := SubInit(region.Bytes(), Config{
		QueueSize:   4,
		MaxItemSize: 64,
		TriggerPeer: mainWake.Raise,
	})
	if err != nil {
		t.Fatalf("SubInit: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDispatchLoop := func(core *Core, wake *hwsim.IRQLine) {
		for {
			if err := wake.Wait(ctx); err != nil {
				return
			}
			core.Dispatch()
		}
	}
	go runDispatchLoop(mainCore, mainWake)
	go runDispatchLoop(subCore, subWake)

	received := make(chan []byte, 1)
	if _, err := subCore.Bus.CreateEndpoint(30, func(msg *bus.Msg, _ uint16) {
		received <- append([]byte(nil), msg.Data()...)
		subCore.Bus.Destroy(msg)
	}); err != nil {
		t.Fatalf("CreateEndpoint: %v", err)
	}

	if err := mainCore.Bus.Send([]byte("over hwsim"), 9, 30); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != "over hwsim" {
			t.Errorf("received = %q, want %q", got, "over hwsim")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message never arrived over the hwsim-backed link")
	}
}
