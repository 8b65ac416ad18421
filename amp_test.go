package amp

import (
	"testing"
	"time"

	"github.com/chiragatal/esp-amp/internal/bus"
	"github.com/chiragatal/esp-amp/internal/rpc"
)

func TestPairBusRoundTrip(t *testing.T) {
	mainCore, subCore, err := Pair(Config{})
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}

	var received []byte
	if _, err := subCore.Bus.CreateEndpoint(10, func(msg *bus.Msg, _ uint16) {
		received = append([]byte(nil), msg.Data()...)
		subCore.Bus.Destroy(msg)
	}); err != nil {
		t.Fatalf("CreateEndpoint: %v", err)
	}

	if err := mainCore.Bus.Send([]byte("hello"), 5, 10); err != nil {
		t.Fatalf("Send: %v", err)
	}

	PumpUntilIdle(mainCore, subCore)

	if string(received) != "hello" {
		t.Errorf("received = %q, want %q", received, "hello")
	}
}

func TestPairCooperativeRPCRoundTrip(t *testing.T) {
	mainCore, subCore, err := Pair(Config{})
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}

	server, err := subCore.NewRPCServer(1)
	if err != nil {
		t.Fatalf("NewRPCServer: %v", err)
	}
	if err := server.RegisterService(1, func(params []byte) ([]byte, error) {
		return append([]byte(nil), params...), nil
	}); err != nil {
		t.Fatalf("RegisterService: %v", err)
	}

	client, err := mainCore.NewCooperativeRPCClient(2, 1)
	if err != nil {
		t.Fatalf("NewCooperativeRPCClient: %v", err)
	}

	reqID, err := client.SubmitRequest(1, []byte("ping"), time.Second, time.Now())
	if err != nil {
		t.Fatalf("SubmitRequest: %v", err)
	}

	PumpUntilIdle(mainCore, subCore)

	params, status, done, err := client.TryResult(reqID)
	if err != nil {
		t.Fatalf("TryResult: %v", err)
	}
	if !done {
		t.Fatal("expected the round trip to complete after PumpUntilIdle")
	}
	if status != rpc.StatusOK {
		t.Errorf("status = %v, want StatusOK", status)
	}
	if string(params) != "ping" {
		t.Errorf("params = %q, want %q", params, "ping")
	}
}

// TestMainSubInitSharedRegion exercises the two-process discovery path
// (MainInit formats the region and publishes its queue slabs, SubInit
// attaches and finds them) over a single in-process []byte standing in
// for a real mmap'd region, with each side's TriggerPeer closure
// referencing the other's Core once both exist.
func TestMainSubInitSharedRegion(t *testing.T) {
	region := make([]byte, 8192)

	var mainCore, subCore *Core

	mainCfg := Config{
		QueueSize:   4,
		MaxItemSize: 64,
		TriggerPeer: func() error {
			if subCore != nil {
				subCore.Dispatch()
			}
			return nil
		},
	}
	var err error
	mainCore, err = MainInit(region, mainCfg)
	if err != nil {
		t.Fatalf("MainInit: %v", err)
	}

	subCfg := Config{
		QueueSize:   4,
		MaxItemSize: 64,
		TriggerPeer: func() error {
			if mainCore != nil {
				mainCore.Dispatch()
			}
			return nil
		},
	}
	subCore, err = SubInit(region, subCfg)
	if err != nil {
		t.Fatalf("SubInit: %v", err)
	}

	var received []byte
	if _, err := subCore.Bus.CreateEndpoint(20, func(msg *bus.Msg, _ uint16) {
		received = append([]byte(nil), msg.Data()...)
		subCore.Bus.Destroy(msg)
	}); err != nil {
		t.Fatalf("CreateEndpoint: %v", err)
	}

	if err := mainCore.Bus.Send([]byte("amp"), 7, 20); err != nil {
		t.Fatalf("Send: %v", err)
	}

	PumpUntilIdle(mainCore, subCore)

	if string(received) != "amp" {
		t.Errorf("received = %q, want %q", received, "amp")
	}
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults()
	if cfg.QueueSize == 0 || cfg.MaxItemSize == 0 || cfg.RPCMaxPending == 0 {
		t.Errorf("WithDefaults left a zero field: %+v", cfg)
	}

	cfg2 := Config{QueueSize: 64}.WithDefaults()
	if cfg2.QueueSize != 64 {
		t.Errorf("WithDefaults overwrote an explicit QueueSize: got %d", cfg2.QueueSize)
	}
}
