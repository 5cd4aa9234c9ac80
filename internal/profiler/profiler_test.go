package profiler

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackprobe/stackprobe/internal/host"
	"github.com/stackprobe/stackprobe/internal/host/hosttest"
)

func newTestProfiler(t *testing.T) (*Profiler, *hosttest.Runtime) {
	t.Helper()
	rt := hosttest.New()
	return New(rt, zerolog.Nop()), rt
}

func TestStartStopLifecycle(t *testing.T) {
	p, rt := newTestProfiler(t)

	require.False(t, p.Running())
	require.False(t, p.Stop(), "stop without a session must fail")

	started, err := p.Start(Config{Mode: ModeWall})
	require.NoError(t, err)
	require.True(t, started)
	require.True(t, p.Running())

	armed, clock := rt.Armed()
	assert.True(t, armed)
	assert.Equal(t, host.ClockWall, clock)

	// A second start must fail without touching the active session.
	started, err = p.Start(Config{Mode: ModeCPU})
	require.NoError(t, err)
	require.False(t, started)
	require.True(t, p.Running())
	armed, clock = rt.Armed()
	assert.True(t, armed)
	assert.Equal(t, host.ClockWall, clock, "existing config must be untouched")

	require.True(t, p.Stop())
	require.False(t, p.Running())
	armed, _ = rt.Armed()
	assert.False(t, armed, "stop must disarm the timer")
	require.False(t, p.Stop(), "second stop must fail")
}

func TestStartInvalidMode(t *testing.T) {
	p, _ := newTestProfiler(t)

	started, err := p.Start(Config{Mode: "bogus"})
	require.ErrorIs(t, err, ErrInvalidMode)
	require.False(t, started)
	require.False(t, p.Running())

	// Rejected before mutating any state: no table means no results.
	require.Nil(t, p.Results())

	// And the profiler is still startable.
	started, err = p.Start(Config{Mode: ModeWall})
	require.NoError(t, err)
	require.True(t, started)
	require.True(t, p.Stop())
}

func TestCPUModeUsesProcessClock(t *testing.T) {
	p, rt := newTestProfiler(t)

	started, err := p.Start(Config{Mode: ModeCPU, Interval: 500 * time.Microsecond})
	require.NoError(t, err)
	require.True(t, started)

	_, clock := rt.Armed()
	assert.Equal(t, host.ClockCPU, clock)
	p.Stop()

	res := p.Results()
	require.NotNil(t, res)
	assert.Equal(t, int64(500), res.Interval, "interval reported in microseconds")
}

func TestTimerSamplingAggregates(t *testing.T) {
	p, rt := newTestProfiler(t)

	// Stack [A, B, C], A innermost.
	a, b, c := host.FrameID(1), host.FrameID(2), host.FrameID(3)
	rt.SetStack([]host.FrameID{a, b, c}, nil)

	started, err := p.Start(Config{Mode: ModeWall})
	require.NoError(t, err)
	require.True(t, started)

	const n = 5
	rt.Tick(n)
	require.True(t, p.Stop())

	res := p.Results()
	require.NotNil(t, res)
	assert.Equal(t, ResultVersion, res.Version)
	assert.Equal(t, ModeWall, res.Mode)
	assert.Equal(t, int64(1000), res.Interval)
	assert.Equal(t, uint64(n), res.Samples)
	assert.Zero(t, res.GCSamples)
	assert.Zero(t, res.MissedSamples)
	require.Len(t, res.Frames, 3)

	fa, fb, fc := res.Frames[a], res.Frames[b], res.Frames[c]
	require.NotNil(t, fa)
	require.NotNil(t, fb)
	require.NotNil(t, fc)

	assert.Equal(t, uint64(n), fa.TotalSamples)
	assert.Equal(t, uint64(n), fa.Samples, "A is the leaf every time")
	assert.Empty(t, fa.Edges)

	assert.Equal(t, uint64(n), fb.TotalSamples)
	assert.Zero(t, fb.Samples)
	assert.Equal(t, uint64(n), fb.Edges[a])

	assert.Equal(t, uint64(n), fc.TotalSamples)
	assert.Zero(t, fc.Samples)
	assert.Equal(t, uint64(n), fc.Edges[b])

	// Line weights: hosttest defaults line to 10×id; only the leaf line
	// carries a leaf half.
	assert.Equal(t, LineCount{Total: n, Leaf: n}, fa.Lines[10])
	assert.Equal(t, LineCount{Total: n, Leaf: 0}, fb.Lines[20])
}

func TestLeafSampleAccounting(t *testing.T) {
	p, rt := newTestProfiler(t)
	rt.SetStack([]host.FrameID{7, 8}, nil)

	_, err := p.Start(Config{Mode: ModeWall})
	require.NoError(t, err)

	rt.Tick(4)
	rt.GC = true
	rt.Tick(3)
	rt.GC = false
	p.Stop()

	res := p.Results()
	require.NotNil(t, res)
	assert.Equal(t, uint64(7), res.Samples)
	assert.Equal(t, uint64(3), res.GCSamples)

	// Every non-GC, non-empty sample attributes exactly one leaf frame.
	var leaves uint64
	for _, fr := range res.Frames {
		leaves += fr.Samples
	}
	assert.Equal(t, res.Samples-res.GCSamples, leaves)
}

func TestGCTickCountsWithoutCapture(t *testing.T) {
	p, rt := newTestProfiler(t)
	rt.SetStack([]host.FrameID{1}, nil)
	rt.GC = true

	_, err := p.Start(Config{Mode: ModeWall})
	require.NoError(t, err)
	rt.Tick(3)
	p.Stop()

	res := p.Results()
	require.NotNil(t, res)
	assert.Equal(t, uint64(3), res.Samples)
	assert.Equal(t, uint64(3), res.GCSamples)
	assert.Zero(t, res.MissedSamples)
	assert.Empty(t, res.Frames, "no stack capture during collection")
}

func TestStoppedBeforeScheduledJobRuns(t *testing.T) {
	p, rt := newTestProfiler(t)
	rt.SetStack([]host.FrameID{1}, nil)
	rt.Deferred = true

	_, err := p.Start(Config{Mode: ModeWall})
	require.NoError(t, err)

	rt.Tick(2)
	require.Equal(t, 2, rt.PendingJobs())
	require.True(t, p.Stop())

	// Jobs scheduled before stop degrade to no-ops.
	rt.RunPending()

	res := p.Results()
	require.NotNil(t, res)
	assert.Zero(t, res.Samples)
	assert.Equal(t, uint64(2), res.MissedSamples, "signals without samples are missed")
	assert.Empty(t, res.Frames)
}

func TestSafePointJobReentrancyGuard(t *testing.T) {
	p, rt := newTestProfiler(t)
	rt.SetStack([]host.FrameID{1}, nil)

	_, err := p.Start(Config{Mode: ModeWall})
	require.NoError(t, err)

	// Simulate a tick landing while the deferred stage is mid-flight.
	p.inJob.Store(true)
	rt.Tick(1)
	p.inJob.Store(false)
	rt.Tick(1)
	p.Stop()

	res := p.Results()
	require.NotNil(t, res)
	assert.Equal(t, uint64(1), res.Samples)
	assert.Equal(t, uint64(1), res.MissedSamples)
}

func TestEmptyCaptureStillCounts(t *testing.T) {
	p, rt := newTestProfiler(t)
	rt.SetStack(nil, nil)

	_, err := p.Start(Config{Mode: ModeWall})
	require.NoError(t, err)
	rt.Tick(2)
	p.Stop()

	res := p.Results()
	require.NotNil(t, res)
	assert.Equal(t, uint64(2), res.Samples)
	assert.Empty(t, res.Frames)
}

func TestManualSample(t *testing.T) {
	p, rt := newTestProfiler(t)
	rt.SetStack([]host.FrameID{4, 5}, nil)

	require.False(t, p.Sample(), "sample without a session must fail")

	_, err := p.Start(Config{Mode: ModeCustom})
	require.NoError(t, err)
	require.True(t, p.Sample())
	require.True(t, p.Sample())
	p.Stop()

	res := p.Results()
	require.NotNil(t, res)
	assert.Equal(t, uint64(2), res.Samples)
	assert.Zero(t, res.Interval, "custom mode has no interval")
	assert.Equal(t, uint64(2), res.Frames[4].Samples)
}

func TestObjectModeSamplesEveryNth(t *testing.T) {
	p, rt := newTestProfiler(t)
	rt.SetStack([]host.FrameID{9}, nil)

	_, err := p.Start(Config{Mode: ModeObject, Every: 2})
	require.NoError(t, err)
	require.True(t, rt.Subscribed)

	for i := 0; i < 4; i++ {
		rt.Alloc(host.ObjectID(100 + i))
	}
	p.Stop()
	assert.False(t, rt.Subscribed)

	res := p.Results()
	require.NotNil(t, res)
	assert.Equal(t, uint64(2), res.Samples, "every 2nd event sampled")
	assert.Equal(t, uint64(2), res.MissedSamples)
	assert.Equal(t, int64(2), res.Interval)
	assert.Equal(t, uint64(2), res.Frames[9].TotalSamples)
}

func TestResultsOnlyOnce(t *testing.T) {
	p, rt := newTestProfiler(t)
	rt.SetStack([]host.FrameID{1}, nil)

	require.Nil(t, p.Results(), "no results before any session")

	_, err := p.Start(Config{Mode: ModeWall})
	require.NoError(t, err)
	rt.Tick(1)
	require.Nil(t, p.Results(), "no results while running")
	p.Stop()

	require.NotNil(t, p.Results())
	require.Nil(t, p.Results(), "results are extracted exactly once")
}

func TestStopStartAccumulates(t *testing.T) {
	p, rt := newTestProfiler(t)
	rt.SetStack([]host.FrameID{1, 2}, nil)

	_, err := p.Start(Config{Mode: ModeWall})
	require.NoError(t, err)
	rt.Tick(2)
	p.Stop()

	_, err = p.Start(Config{Mode: ModeWall})
	require.NoError(t, err)
	rt.Tick(3)
	p.Stop()

	res := p.Results()
	require.NotNil(t, res)
	assert.Equal(t, uint64(5), res.Samples, "stop/start without results accumulates")
	assert.Equal(t, uint64(5), res.Frames[1].TotalSamples)

	// After results, a fresh session starts from zero.
	_, err = p.Start(Config{Mode: ModeWall})
	require.NoError(t, err)
	rt.Tick(1)
	p.Stop()
	res = p.Results()
	require.NotNil(t, res)
	assert.Equal(t, uint64(1), res.Samples)
}

func TestNoAggregate(t *testing.T) {
	p, rt := newTestProfiler(t)
	rt.SetStack([]host.FrameID{1, 2}, nil)

	_, err := p.Start(Config{Mode: ModeWall, NoAggregate: true})
	require.NoError(t, err)
	rt.Tick(3)
	p.Stop()

	res := p.Results()
	require.NotNil(t, res)
	fr := res.Frames[2]
	require.NotNil(t, fr)
	assert.Equal(t, uint64(3), fr.TotalSamples)
	assert.Empty(t, fr.Edges)
	assert.Empty(t, fr.Lines)
	assert.Equal(t, uint64(3), res.Frames[1].Samples, "leaf counting is unconditional")
}

func TestRawCapture(t *testing.T) {
	p, rt := newTestProfiler(t)

	_, err := p.Start(Config{Mode: ModeWall, Raw: true})
	require.NoError(t, err)

	rt.SetStack([]host.FrameID{1, 2}, nil)
	rt.Tick(2)
	rt.SetStack([]host.FrameID{3}, nil)
	rt.Tick(1)
	p.Stop()

	res := p.Results()
	require.NotNil(t, res)
	require.Len(t, res.Raw, 2)
	assert.Equal(t, RawSample{Stack: []host.FrameID{1, 2}, Repeat: 2}, res.Raw[0])
	assert.Equal(t, RawSample{Stack: []host.FrameID{3}, Repeat: 1}, res.Raw[1])
}

func TestRunBlock(t *testing.T) {
	p, rt := newTestProfiler(t)
	rt.SetStack([]host.FrameID{1}, nil)

	res, err := p.Run(Config{Mode: ModeCustom}, func() {
		p.Sample()
		p.Sample()
		p.Sample()
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, uint64(3), res.Samples)
	assert.False(t, p.Running())
	assert.NotEmpty(t, res.SessionID)
}

// bareRuntime implements only host.Runtime, no optional capabilities.
type bareRuntime struct{}

func (bareRuntime) Capture([]host.FrameID, []int) int { return 0 }

func (bareRuntime) FrameInfo(host.FrameID) host.FrameInfo { return host.FrameInfo{} }

func (bareRuntime) Schedule(job func()) { job() }

func (bareRuntime) InGC() bool { return false }

func TestHostWithoutCapabilities(t *testing.T) {
	p := New(bareRuntime{}, zerolog.Nop())

	for _, mode := range []Mode{ModeWall, ModeCPU, ModeObject, ModeHeap} {
		started, err := p.Start(Config{Mode: mode})
		assert.Error(t, err, "mode %s needs a capability the host lacks", mode)
		assert.False(t, started)
	}

	// Custom mode needs nothing beyond the core runtime.
	started, err := p.Start(Config{Mode: ModeCustom})
	require.NoError(t, err)
	require.True(t, started)
	require.True(t, p.Stop())
}
