package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

// RpsCounter counts events and the rate at which they occur.
type RpsCounter struct {
	counter int64
	lastAdd int64
	mu      sync.Mutex
	start   time.Time
	stop    time.Time
	last    time.Time
	updated bool
}

func (r *RpsCounter) Add(n int) {
	atomic.AddInt64(&r.counter, int64(n))
	atomic.AddInt64(&r.lastAdd, int64(n))
	if n > 0 {
		r.mu.Lock()
		if r.start.IsZero() {
			r.start = time.Now()
		}
		r.updated = true
		r.mu.Unlock()
	}
}

func (r *RpsCounter) Value() int64 {
	return atomic.LoadInt64(&r.counter)
}

// Rps returns the average rate between the first Add and the last Tick
// that saw an update.
func (r *RpsCounter) Rps() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.stop.Sub(r.start).Seconds()
	if d <= 0 {
		return 0
	}
	return float64(atomic.LoadInt64(&r.counter)) / d
}

// LastRps returns the rate since the previous Tick, or since the first Add
// before the first Tick.
func (r *RpsCounter) LastRps() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	since := r.last
	if since.IsZero() {
		since = r.start
	}
	if since.IsZero() {
		return 0
	}
	d := time.Since(since).Seconds()
	if d <= 0 {
		return 0
	}
	return float64(atomic.LoadInt64(&r.lastAdd)) / d
}

func (r *RpsCounter) Tick() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if r.updated {
		r.stop = now
		r.updated = false
	}
	r.last = now
	atomic.StoreInt64(&r.lastAdd, 0)
}

// Outcome of a single key during a merge.
type Outcome int

const (
	Passed Outcome = iota
	Created
	Modified
	Deleted
	numOutcomes
)

func (o Outcome) String() string {
	switch o {
	case Passed:
		return "unchanged"
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	}
	return "unknown"
}

// MergeCounter counts merge outcomes. It is safe for concurrent use.
type MergeCounter struct {
	counters [numOutcomes]RpsCounter
}

func NewMergeCounter() *MergeCounter {
	return &MergeCounter{}
}

func (c *MergeCounter) Record(o Outcome) {
	c.counters[o].Add(1)
}

func (c *MergeCounter) Count(o Outcome) int64 {
	return c.counters[o].Value()
}

// Emitted returns the number of elements passed to the sink.
func (c *MergeCounter) Emitted() int64 {
	return c.Count(Passed) + c.Count(Created) + c.Count(Modified)
}

func (c *MergeCounter) Tick() {
	for i := range c.counters {
		c.counters[i].Tick()
	}
}

// LastRps returns the number of processed keys per second since the previous
// Tick.
func (c *MergeCounter) LastRps() float64 {
	var rps float64
	for i := range c.counters {
		rps += c.counters[i].LastRps()
	}
	return rps
}
