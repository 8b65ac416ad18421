package amp

import "github.com/chiragatal/esp-amp/internal/logging"

// TestLogger returns a Logger writing at debug level to stderr, for
// tests that want to see component traffic.
// Most tests pass nil instead, leaving logging off entirely — every
// component here is nil-safe (see internal/logging), matching the
// teacher's own "pass nil in tests unless you're debugging a failure"
// convention.
func TestLogger() *logging.Logger {
	return logging.NewLogger(&logging.Config{Level: logging.LevelDebug})
}

// PumpUntilIdle drives both sides of a Pair (or MainInit/SubInit pair)
// deterministically in a single goroutine: repeatedly dispatch pending
// signals and poll the bus on each core, in turn, until a full round
// produces no further progress on either side. This replaces the real
// asynchronous "goroutine per core reacting to interrupts" execution
// model with a synchronous one for tests that want reproducible
// interleavings instead of a race between two live goroutines —
// mirroring the teacher's own preference for a synchronous, directly
// callable test harness over spinning up real background workers
// wherever the protocol under test doesn't specifically require them.
func PumpUntilIdle(cores ...*Core) {
	for {
		progressed := false
		for _, c := range cores {
			before := c.Signal.Pending()
			c.Dispatch()
			handled, _ := c.Poll()
			if handled || before != 0 {
				progressed = true
			}
		}
		if !progressed {
			return
		}
	}
}
