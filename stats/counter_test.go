package stats

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestMergeCounter(t *testing.T) {
	c := NewMergeCounter()
	wg := sync.WaitGroup{}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(o Outcome) {
			defer wg.Done()
			for j := 0; j < 1000*(int(o)+1); j++ {
				c.Record(o)
			}
		}(Outcome(i))
	}
	wg.Wait()

	if n := c.Count(Passed); n != 1000 {
		t.Errorf("unexpected passed count %d", n)
	}
	if n := c.Count(Deleted); n != 4000 {
		t.Errorf("unexpected deleted count %d", n)
	}
	if n := c.Emitted(); n != 6000 {
		t.Errorf("unexpected emitted count %d", n)
	}
	if s := c.String(); !strings.Contains(s, "modified: 3,000") {
		t.Errorf("unexpected summary %q", s)
	}
}

func TestRpsCounter(t *testing.T) {
	r := &RpsCounter{}
	if r.Rps() != 0 || r.LastRps() != 0 {
		t.Error("expected zero rates for unused counter")
	}
	r.Add(10)
	r.Add(5)
	r.Tick()
	if r.Value() != 15 {
		t.Errorf("unexpected value %d", r.Value())
	}
}

func TestReporterProgressRate(t *testing.T) {
	c := NewMergeCounter()
	r := &Reporter{counter: c}
	c.Tick()
	for i := 0; i < 1000; i++ {
		c.Record(Passed)
	}
	time.Sleep(100 * time.Millisecond)

	line := r.progress()
	if strings.HasSuffix(line, "(0/s)") {
		t.Errorf("rate is zero in %q", line)
	}
	if !strings.Contains(line, "passed: 1,000") {
		t.Errorf("unexpected progress %q", line)
	}
	// progress starts a new interval
	if rps := c.LastRps(); rps != 0 {
		t.Errorf("unexpected rate %f after progress", rps)
	}
}
