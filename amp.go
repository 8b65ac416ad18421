// Package amp implements an asymmetric-multiprocessing shared-memory
// transport: a main core and a subcore share one region of memory plus
// a cross-core software interrupt, and build on top of it a shared-info
// registry, a descriptor queue, a multiplexed message bus, and an RPC
// layer with both a preemptive (task-scheduler) and a cooperative
// (bare-metal poll loop) client backend.
package amp

import (
	"github.com/chiragatal/esp-amp/internal/bus"
	"github.com/chiragatal/esp-amp/internal/constants"
	"github.com/chiragatal/esp-amp/internal/logging"
	"github.com/chiragatal/esp-amp/internal/queue"
	"github.com/chiragatal/esp-amp/internal/rpc"
	"github.com/chiragatal/esp-amp/internal/sysinfo"
	"github.com/chiragatal/esp-amp/internal/xsignal"
)

// Config bundles construction parameters for one side of a link,
// mirroring the teacher's DeviceParams-plus-constants-table pattern:
// zero-valued fields are filled from internal/constants defaults by
// WithDefaults.
type Config struct {
	QueueSize     uint16
	MaxItemSize   uint16
	RPCMaxPending int
	StrictISR     bool
	Logger        *logging.Logger

	// TriggerPeer raises the peer core's interrupt line. Required for
	// MainInit/SubInit (the two-core/two-process path, typically backed
	// by internal/hwsim); left nil for Pair, which wires two in-process
	// Signals to call each other directly instead.
	TriggerPeer xsignal.TriggerFunc
}

// WithDefaults returns a copy of cfg with zero fields filled in from
// internal/constants.
func (c Config) WithDefaults() Config {
	if c.QueueSize == 0 {
		c.QueueSize = constants.DefaultQueueSize
	}
	if c.MaxItemSize == 0 {
		c.MaxItemSize = constants.DefaultMaxItemSize
	}
	if c.RPCMaxPending == 0 {
		c.RPCMaxPending = constants.DefaultRPCMaxPending
	}
	return c
}

// Core is one side (main core or subcore) of an AMP link: its message
// bus device and the signal used to learn when the peer has sent
// something.
type Core struct {
	Bus    *bus.Device
	Signal *xsignal.Signal
	cfg    Config
}

// Poll drives the bus once, dispatching at most one pending message to
// its endpoint.
func (c *Core) Poll() (bool, error) { return c.Bus.Poll() }

// drainPoll repeatedly polls dev until a poll finds nothing left to
// process, the intr_enable-registered-handler contract from the shared
// signal line's spec: one raise may stand for several queued messages,
// since Trigger coalesces, so the handler must drain rather than poll
// once per dispatch.
func drainPoll(dev *bus.Device) {
	for {
		handled, err := dev.Poll()
		if !handled || err != nil {
			return
		}
	}
}

// Dispatch drains this core's pending signal bits, invoking registered
// handlers (including the bus's own recv handler registered by
// Pair/MainInit/SubInit).
func (c *Core) Dispatch() { c.Signal.Dispatch() }

// NewRPCServer registers an RPC server endpoint at addr on this core's
// bus.
func (c *Core) NewRPCServer(addr uint16) (*rpc.Server, error) {
	return rpc.NewServer(c.Bus, addr, c.cfg.Logger)
}

// NewPreemptiveRPCClient registers a preemptive-backend RPC client
// endpoint at clientAddr, talking to a server at serverAddr.
func (c *Core) NewPreemptiveRPCClient(clientAddr, serverAddr uint16) (*rpc.PreemptiveClient, error) {
	return rpc.NewPreemptiveClient(c.Bus, clientAddr, serverAddr, c.cfg.RPCMaxPending, c.cfg.Logger)
}

// NewCooperativeRPCClient registers a cooperative-backend RPC client
// endpoint at clientAddr, talking to a server at serverAddr.
func (c *Core) NewCooperativeRPCClient(clientAddr, serverAddr uint16) (*rpc.CooperativeClient, error) {
	return rpc.NewCooperativeClient(c.Bus, clientAddr, serverAddr, c.cfg.RPCMaxPending, c.cfg.Logger)
}

// Pair builds two in-process Cores sharing a pair of queues for
// bidirectional bus traffic, with each side's Signal wired to trigger
// the other's directly — a same-process stand-in for the cross-core
// hardware interrupt, suitable for tests and the bundled example.
// internal/hwsim provides the real mmap+eventfd analogue for a
// genuine two-process harness, used by MainInit/SubInit instead.
func Pair(cfg Config) (mainCore *Core, subCore *Core, err error) {
	cfg = cfg.WithDefaults()

	confMainToSub, err := queue.NewConf(cfg.QueueSize, cfg.MaxItemSize)
	if err != nil {
		return nil, nil, WrapError("Pair", "queue", err)
	}
	confSubToMain, err := queue.NewConf(cfg.QueueSize, cfg.MaxItemSize)
	if err != nil {
		return nil, nil, WrapError("Pair", "queue", err)
	}

	mainSignal := xsignal.New(nil, cfg.Logger)
	subSignal := xsignal.New(nil, cfg.Logger)

	mainTx := queue.NewMaster(confMainToSub, func() error { return subSignal.Trigger(constants.SignalIDBusRecv) }, cfg.Logger)
	mainRx := queue.NewRemote(confSubToMain, cfg.Logger)
	subTx := queue.NewMaster(confSubToMain, func() error { return mainSignal.Trigger(constants.SignalIDBusRecv) }, cfg.Logger)
	subRx := queue.NewRemote(confMainToSub, cfg.Logger)

	mainDev := bus.NewDevice(mainTx, mainRx, cfg.StrictISR, cfg.Logger)
	subDev := bus.NewDevice(subTx, subRx, cfg.StrictISR, cfg.Logger)

	mainCore = &Core{Bus: mainDev, Signal: mainSignal, cfg: cfg}
	subCore = &Core{Bus: subDev, Signal: subSignal, cfg: cfg}

	_ = mainSignal.AddHandler(constants.SignalIDBusRecv, func(any) { drainPoll(mainDev) }, nil)
	_ = subSignal.AddHandler(constants.SignalIDBusRecv, func(any) { drainPoll(subDev) }, nil)

	return mainCore, subCore, nil
}

// MainInit formats a shared region as a fresh shared-info registry,
// publishes a TX and an RX queue slab through it, and returns the main
// core's Core. Call exactly once, before SubInit runs on the peer.
func MainInit(regionBytes []byte, cfg Config) (*Core, error) {
	cfg = cfg.WithDefaults()

	sreg, err := sysinfo.Init(regionBytes, cfg.Logger)
	if err != nil {
		return nil, WrapError("MainInit", "sysinfo", err)
	}

	txConf, err := publishQueueSlab(sreg, regionBytes, constants.SysInfoIDVqueueTX, cfg.QueueSize, cfg.MaxItemSize)
	if err != nil {
		return nil, WrapError("MainInit", "queue", err)
	}
	rxConf, err := publishQueueSlab(sreg, regionBytes, constants.SysInfoIDVqueueRX, cfg.QueueSize, cfg.MaxItemSize)
	if err != nil {
		return nil, WrapError("MainInit", "queue", err)
	}

	signal := xsignal.New(cfg.TriggerPeer, cfg.Logger)
	tx := queue.NewMaster(txConf, func() error { return signal.Trigger(constants.SignalIDBusRecv) }, cfg.Logger)
	rx := queue.NewRemote(rxConf, cfg.Logger)
	dev := bus.NewDevice(tx, rx, cfg.StrictISR, cfg.Logger)

	core := &Core{Bus: dev, Signal: signal, cfg: cfg}
	_ = signal.AddHandler(constants.SignalIDBusRecv, func(any) { drainPoll(dev) }, nil)
	return core, nil
}

// SubInit attaches to a region already formatted by MainInit on the
// peer, discovering the TX/RX slabs it published — with TX and RX
// swapped, since the subcore's outgoing queue is the main core's
// incoming one and vice versa.
func SubInit(regionBytes []byte, cfg Config) (*Core, error) {
	cfg = cfg.WithDefaults()

	sreg, err := sysinfo.Attach(regionBytes, cfg.Logger)
	if err != nil {
		return nil, WrapError("SubInit", "sysinfo", err)
	}

	tx, err := attachQueueSlab(sreg, regionBytes, constants.SysInfoIDVqueueRX, cfg.QueueSize, cfg.MaxItemSize)
	if err != nil {
		return nil, WrapError("SubInit", "queue", err)
	}
	rx, err := attachQueueSlab(sreg, regionBytes, constants.SysInfoIDVqueueTX, cfg.QueueSize, cfg.MaxItemSize)
	if err != nil {
		return nil, WrapError("SubInit", "queue", err)
	}

	signal := xsignal.New(cfg.TriggerPeer, cfg.Logger)
	txQueue := queue.NewMaster(tx, func() error { return signal.Trigger(constants.SignalIDBusRecv) }, cfg.Logger)
	rxQueue := queue.NewRemote(rx, cfg.Logger)
	dev := bus.NewDevice(txQueue, rxQueue, cfg.StrictISR, cfg.Logger)

	core := &Core{Bus: dev, Signal: signal, cfg: cfg}
	_ = signal.AddHandler(constants.SignalIDBusRecv, func(any) { drainPoll(dev) }, nil)
	return core, nil
}

func publishQueueSlab(sreg *sysinfo.Registry, regionBytes []byte, id uint16, size, maxItemSize uint16) (*queue.Conf, error) {
	total := queue.SlabLen(size, maxItemSize)
	if total > 0xFFFF {
		return nil, ErrSlabTooLarge
	}
	off, err := sreg.Alloc(id, uint16(total))
	if err != nil {
		return nil, err
	}
	conf, _, _, err := queue.NewConfIn(regionBytes, off, size, maxItemSize)
	return conf, err
}

func attachQueueSlab(sreg *sysinfo.Registry, regionBytes []byte, id uint16, size, maxItemSize uint16) (*queue.Conf, error) {
	off, _, err := sreg.Get(id)
	if err != nil {
		return nil, err
	}
	h := queue.ConfHeader{Size: size, MaxItemSize: maxItemSize, DescOffset: off, BufferOffset: off + queue.DescLen(size)}
	return queue.AttachConf(regionBytes, h), nil
}
