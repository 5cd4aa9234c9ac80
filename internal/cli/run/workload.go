package run

import (
	"time"

	"github.com/stackprobe/stackprobe/internal/host/gohost"
	"github.com/stackprobe/stackprobe/internal/profiler"
)

// runWorkload drives the demo busy loop until the deadline. Timer modes
// drain scheduled samples at checkpoints; custom mode takes a manual sample
// at each one instead.
func runWorkload(rt *gohost.Runtime, p *profiler.Profiler, duration time.Duration, manual bool) {
	checkpoint := rt.Checkpoint
	if manual {
		checkpoint = func() { p.Sample() }
	}

	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		countPrimes(5000, checkpoint)
		mixBuffer(1<<14, checkpoint)
	}
}

// countPrimes is the arithmetic-heavy half of the demo workload.
//
//go:noinline
func countPrimes(limit int, checkpoint func()) int {
	count := 0
	for n := 2; n < limit; n++ {
		prime := true
		for d := 2; d*d <= n; d++ {
			if n%d == 0 {
				prime = false
				break
			}
		}
		if prime {
			count++
		}
		if n%256 == 0 {
			checkpoint()
		}
	}
	return count
}

// mixBuffer is the memory-traffic half of the demo workload.
//
//go:noinline
func mixBuffer(size int, checkpoint func()) byte {
	buf := make([]byte, size)
	var acc byte
	for round := 0; round < 4; round++ {
		for i := range buf {
			buf[i] = byte(i*31) ^ acc
			acc += buf[i] << 1
		}
		checkpoint()
	}
	return acc
}
