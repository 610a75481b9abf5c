package profiler

import (
	"testing"
	"time"

	"github.com/ChuLiYu/cachemon/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// scriptedSampler returns the given samples in order, repeating the last.
func scriptedSampler(samples ...Sample) Sampler {
	i := 0
	return func() Sample {
		s := samples[min(i, len(samples)-1)]
		i++
		return s
	}
}

func TestStartStop(t *testing.T) {
	clk := clock.NewManual(t0)
	p := New(clk, scriptedSampler(
		Sample{HeapAlloc: 1000, NumGC: 2, Mallocs: 50, Goroutines: 4},
		Sample{HeapAlloc: 800, NumGC: 5, Mallocs: 90, Goroutines: 6},
	))

	stop := p.Start("rebuild-index")
	clk.Advance(1500 * time.Millisecond)
	profile := stop()

	assert.Equal(t, "rebuild-index", profile.Name)
	assert.Equal(t, 1500.0, profile.DurationMs)
	assert.Equal(t, t0.UnixMilli(), profile.StartTime)
	assert.Equal(t, uint64(1000), profile.Memory.Initial)
	assert.Equal(t, uint64(1000), profile.Memory.Peak)
	assert.Equal(t, uint64(800), profile.Memory.Final)
	assert.Equal(t, uint32(3), profile.Resources.GCCycles)
	assert.Equal(t, uint64(40), profile.Resources.Allocations)
	assert.Equal(t, 6, profile.Resources.Goroutines)

	stored, ok := p.Profile("rebuild-index")
	require.True(t, ok)
	assert.Equal(t, profile, stored)
}

func TestStopTwiceReturnsSameProfile(t *testing.T) {
	clk := clock.NewManual(t0)
	p := New(clk, nil)

	stop := p.Start("x")
	clk.Advance(time.Second)
	first := stop()
	clk.Advance(time.Second)

	assert.Equal(t, first, stop())
}

func TestNilSamplerYieldsZeroMemory(t *testing.T) {
	p := New(clock.NewManual(t0), nil)

	profile := p.Start("x")()

	assert.Zero(t, profile.Memory.Initial)
	assert.Zero(t, profile.Memory.Peak)
	assert.Zero(t, profile.Resources.Allocations)
}

func TestSameNameOverwrites(t *testing.T) {
	clk := clock.NewManual(t0)
	p := New(clk, nil)

	stop := p.Start("job")
	clk.Advance(time.Second)
	stop()

	stop = p.Start("job")
	clk.Advance(3 * time.Second)
	stop()

	profiles := p.Profiles()
	require.Len(t, profiles, 1)
	assert.Equal(t, 3000.0, profiles["job"].DurationMs)

	p.Reset()
	assert.Empty(t, p.Profiles())
}

func TestRuntimeSampler(t *testing.T) {
	s := RuntimeSampler()
	assert.NotZero(t, s.HeapAlloc)
	assert.Positive(t, s.Goroutines)
}
