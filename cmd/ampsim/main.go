// Command ampsim demonstrates the full amp stack end to end, in a
// single process standing in for main core and subcore: an amp.Pair
// with in-memory queues, a cross-core signal pair driving a message
// bus, and an RPC service invoked through both the preemptive and the
// cooperative client backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/chiragatal/esp-amp"
	"github.com/chiragatal/esp-amp/internal/logging"
)

func main() {
	var (
		verbose     = flag.Bool("v", false, "Verbose output")
		timeout     = flag.Duration("timeout", 2*time.Second, "RPC call timeout")
		queueSize   = flag.Uint("queue-size", 16, "Descriptor queue size (power of two)")
		maxItemSize = flag.Uint("max-item-size", 256, "Maximum queue payload size in bytes")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	cfg := amp.Config{
		QueueSize:   uint16(*queueSize),
		MaxItemSize: uint16(*maxItemSize),
		Logger:      logger,
	}

	mainCore, subCore, err := amp.Pair(cfg)
	if err != nil {
		log.Fatalf("amp.Pair: %v", err)
	}

	stop := pump(mainCore, subCore)
	defer stop()

	const (
		addrEchoServer  = 1
		addrPreemptive  = 2
		addrCooperative = 3
		serviceEcho     = 1
	)

	server, err := subCore.NewRPCServer(addrEchoServer)
	if err != nil {
		log.Fatalf("NewRPCServer: %v", err)
	}
	if err := server.RegisterService(serviceEcho, func(params []byte) ([]byte, error) {
		out := make([]byte, len(params))
		copy(out, params)
		return out, nil
	}); err != nil {
		log.Fatalf("RegisterService: %v", err)
	}

	preemptive, err := mainCore.NewPreemptiveRPCClient(addrPreemptive, addrEchoServer)
	if err != nil {
		log.Fatalf("NewPreemptiveRPCClient: %v", err)
	}
	defer preemptive.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	resp, status, err := preemptive.Call(ctx, serviceEcho, []byte("hello from the preemptive client"))
	if err != nil {
		log.Fatalf("preemptive Call: %v", err)
	}
	fmt.Printf("preemptive: status=%v response=%q\n", status, resp)

	cooperative, err := mainCore.NewCooperativeRPCClient(addrCooperative, addrEchoServer)
	if err != nil {
		log.Fatalf("NewCooperativeRPCClient: %v", err)
	}

	reqID, err := cooperative.SubmitRequest(serviceEcho, []byte("hello from the cooperative client"), *timeout, time.Now())
	if err != nil {
		log.Fatalf("SubmitRequest: %v", err)
	}

	deadline := time.Now().Add(*timeout)
	for time.Now().Before(deadline) {
		if params, status, done, err := cooperative.TryResult(reqID); done {
			if err != nil {
				log.Fatalf("cooperative result: %v", err)
			}
			fmt.Printf("cooperative: status=%v response=%q\n", status, params)
			return
		}
		cooperative.CompleteTimeoutRequests(time.Now())
		time.Sleep(time.Millisecond)
	}

	fmt.Fprintln(os.Stderr, "cooperative call timed out")
	os.Exit(1)
}

// pump starts one background goroutine per core continuously draining
// its pending signal bits and polling its bus, standing in for the
// real interrupt-driven dispatch loop each core would run on its own
// hardware. Returns a func that stops both goroutines.
func pump(cores ...*amp.Core) (stop func()) {
	done := make(chan struct{})
	for _, c := range cores {
		c := c
		go func() {
			for {
				select {
				case <-done:
					return
				default:
				}
				c.Dispatch()
				c.Poll()
				time.Sleep(100 * time.Microsecond)
			}
		}()
	}
	return func() { close(done) }
}
