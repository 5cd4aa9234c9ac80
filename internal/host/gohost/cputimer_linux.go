//go:build linux

package gohost

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// cpuTimer delivers ticks in process CPU time via setitimer(ITIMER_PROF):
// the kernel raises SIGPROF once per interval of CPU the process consumes,
// the same mechanism the original profiler used.
type cpuTimer struct {
	sig  chan os.Signal
	done chan struct{}
	wg   sync.WaitGroup
}

func startCPUTimer(interval time.Duration, tick func()) (timerHandle, error) {
	t := &cpuTimer{
		sig:  make(chan os.Signal, 128),
		done: make(chan struct{}),
	}
	signal.Notify(t.sig, syscall.SIGPROF)

	tv := unix.NsecToTimeval(interval.Nanoseconds())
	it := unix.Itimerval{Interval: tv, Value: tv}
	if _, err := unix.Setitimer(unix.ItimerProf, it); err != nil {
		signal.Stop(t.sig)
		return nil, fmt.Errorf("setitimer(ITIMER_PROF): %w", err)
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case <-t.done:
				return
			case <-t.sig:
				tick()
			}
		}
	}()
	return t, nil
}

func (t *cpuTimer) stop() {
	// Quiesce the kernel side first so no further SIGPROF is queued, then
	// tear down delivery.
	_, _ = unix.Setitimer(unix.ItimerProf, unix.Itimerval{})
	signal.Stop(t.sig)
	close(t.done)
	t.wg.Wait()
}
