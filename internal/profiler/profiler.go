// Package profiler measures wall time, memory and runtime counters around a
// named block of work. Each name keeps only its most recent profile.
package profiler

import (
	"maps"
	"runtime"
	"sync"
	"time"

	"github.com/ChuLiYu/cachemon/internal/clock"
	"github.com/ChuLiYu/cachemon/pkg/types"
)

// Sample is one reading of the runtime.
type Sample struct {
	HeapAlloc  uint64
	NumGC      uint32
	Mallocs    uint64
	Goroutines int
}

// Sampler reads the runtime. A nil Sampler yields zero samples.
type Sampler func() Sample

// RuntimeSampler reads runtime.MemStats. It stops the world briefly.
func RuntimeSampler() Sample {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return Sample{
		HeapAlloc:  ms.HeapAlloc,
		NumGC:      ms.NumGC,
		Mallocs:    ms.Mallocs,
		Goroutines: runtime.NumGoroutine(),
	}
}

// Profiler stores completed profiles by name.
type Profiler struct {
	mu       sync.Mutex
	profiles map[string]types.PerformanceProfile
	clock    clock.Clock
	sampler  Sampler
}

// New returns a profiler. Pass RuntimeSampler to sample real memory.
func New(clk clock.Clock, sampler Sampler) *Profiler {
	if clk == nil {
		clk = clock.System()
	}
	return &Profiler{
		profiles: make(map[string]types.PerformanceProfile),
		clock:    clk,
		sampler:  sampler,
	}
}

func (p *Profiler) sample() Sample {
	if p.sampler == nil {
		return Sample{}
	}
	return p.sampler()
}

// Start begins a profile. The returned func ends it, stores it under name
// and returns it; calling it again returns the same profile.
func (p *Profiler) Start(name string) func() types.PerformanceProfile {
	start := p.clock.Now()
	initial := p.sample()

	var once sync.Once
	var profile types.PerformanceProfile
	return func() types.PerformanceProfile {
		once.Do(func() {
			end := p.clock.Now()
			final := p.sample()

			profile = types.PerformanceProfile{
				Name:       name,
				StartTime:  start.UnixMilli(),
				EndTime:    end.UnixMilli(),
				DurationMs: float64(end.Sub(start)) / float64(time.Millisecond),
				Memory: types.MemoryUsage{
					Initial: initial.HeapAlloc,
					Peak:    max(initial.HeapAlloc, final.HeapAlloc),
					Final:   final.HeapAlloc,
				},
				Resources: types.ResourceUsage{
					Goroutines:  final.Goroutines,
					GCCycles:    delta32(initial.NumGC, final.NumGC),
					Allocations: delta64(initial.Mallocs, final.Mallocs),
				},
			}

			p.mu.Lock()
			p.profiles[name] = profile
			p.mu.Unlock()
		})
		return profile
	}
}

// Profile returns the last profile stored under name.
func (p *Profiler) Profile(name string) (types.PerformanceProfile, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pr, ok := p.profiles[name]
	return pr, ok
}

// Profiles returns a copy of every stored profile.
func (p *Profiler) Profiles() map[string]types.PerformanceProfile {
	p.mu.Lock()
	defer p.mu.Unlock()
	return maps.Clone(p.profiles)
}

// Reset drops all profiles.
func (p *Profiler) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profiles = make(map[string]types.PerformanceProfile)
}

func delta32(a, b uint32) uint32 {
	if b < a {
		return 0
	}
	return b - a
}

func delta64(a, b uint64) uint64 {
	if b < a {
		return 0
	}
	return b - a
}
