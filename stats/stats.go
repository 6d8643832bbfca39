package stats

import (
	"fmt"
	"time"

	humanize "github.com/dustin/go-humanize"

	"github.com/omniscale/osmpatch/log"
)

// Reporter logs the progress of a MergeCounter until it is stopped.
type Reporter struct {
	counter  *MergeCounter
	interval time.Duration
	quit     chan struct{}
	done     chan struct{}
}

// StartReporter starts a goroutine that logs a progress line every
// interval.
func StartReporter(c *MergeCounter, interval time.Duration) *Reporter {
	r := &Reporter{
		counter:  c,
		interval: interval,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Reporter) loop() {
	defer close(r.done)
	tick := time.NewTicker(r.interval)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			log.Printf("[progress] %s", r.progress())
		case <-r.quit:
			return
		}
	}
}

// progress returns the counts and the rate since the previous call.
func (r *Reporter) progress() string {
	rps := r.counter.LastRps()
	r.counter.Tick()
	return fmt.Sprintf("%s (%s/s)", r.counter, humanize.Comma(int64(rps)))
}

// Stop ends the reporting and logs the final counts.
func (r *Reporter) Stop() {
	close(r.quit)
	<-r.done
	log.Printf("[info] %s", r.counter)
}

func (c *MergeCounter) String() string {
	return fmt.Sprintf("%s: %s %s: %s %s: %s %s: %s",
		Passed, humanize.Comma(c.Count(Passed)),
		Created, humanize.Comma(c.Count(Created)),
		Modified, humanize.Comma(c.Count(Modified)),
		Deleted, humanize.Comma(c.Count(Deleted)),
	)
}
