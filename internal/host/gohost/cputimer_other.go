//go:build !linux

package gohost

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// cpuTimer approximates a process-CPU-time interval timer on platforms
// without ITIMER_PROF access: it polls the process's consumed CPU time and
// fires one tick per interval of CPU burned since the last poll.
type cpuTimer struct {
	done chan struct{}
	wg   sync.WaitGroup
}

func startCPUTimer(interval time.Duration, tick func()) (timerHandle, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("open own process: %w", err)
	}

	last, err := cpuSeconds(proc)
	if err != nil {
		return nil, err
	}

	// Poll faster than the tick interval so bursts resolve into multiple
	// ticks, but never busier than once a millisecond.
	poll := interval / 4
	if poll < time.Millisecond {
		poll = time.Millisecond
	}

	t := &cpuTimer{done: make(chan struct{})}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(poll)
		defer ticker.Stop()
		for {
			select {
			case <-t.done:
				return
			case <-ticker.C:
				now, err := cpuSeconds(proc)
				if err != nil {
					continue
				}
				for now-last >= interval.Seconds() {
					last += interval.Seconds()
					tick()
				}
			}
		}
	}()
	return t, nil
}

func cpuSeconds(proc *process.Process) (float64, error) {
	times, err := proc.Times()
	if err != nil {
		return 0, fmt.Errorf("read process cpu times: %w", err)
	}
	return times.User + times.System, nil
}

func (t *cpuTimer) stop() {
	close(t.done)
	t.wg.Wait()
}
