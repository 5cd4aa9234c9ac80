package gohost

import (
	"errors"
	"sync"
	"time"

	"github.com/stackprobe/stackprobe/internal/host"
)

// timerHandle is one armed interval timer. stop is synchronous: no tick
// callback is in flight once it returns.
type timerHandle interface {
	stop()
}

// ArmTimer implements host.TimerSource.
func (r *Runtime) ArmTimer(clock host.Clock, interval time.Duration, tick func()) error {
	if interval <= 0 {
		return errors.New("gohost: non-positive timer interval")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		return errors.New("gohost: timer already armed")
	}

	switch clock {
	case host.ClockWall:
		r.timer = startWallTimer(interval, tick)
	case host.ClockCPU:
		t, err := startCPUTimer(interval, tick)
		if err != nil {
			return err
		}
		r.timer = t
	default:
		return errors.New("gohost: unknown timer clock")
	}

	r.logger.Debug().
		Str("clock", clock.String()).
		Dur("interval", interval).
		Msg("Interval timer armed")
	return nil
}

// DisarmTimer implements host.TimerSource.
func (r *Runtime) DisarmTimer() {
	r.mu.Lock()
	t := r.timer
	r.timer = nil
	r.mu.Unlock()

	if t != nil {
		t.stop()
		r.logger.Debug().Msg("Interval timer disarmed")
	}
}

// wallTimer delivers ticks in real time.
type wallTimer struct {
	done chan struct{}
	wg   sync.WaitGroup
}

func startWallTimer(interval time.Duration, tick func()) *wallTimer {
	t := &wallTimer{done: make(chan struct{})}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-t.done:
				return
			case <-ticker.C:
				tick()
			}
		}
	}()
	return t
}

func (t *wallTimer) stop() {
	close(t.done)
	t.wg.Wait()
}
