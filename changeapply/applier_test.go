package changeapply

import (
	"fmt"
	"testing"
	"time"

	"github.com/kr/pretty"
	osm "github.com/omniscale/go-osm"
	"github.com/pkg/errors"
	"go.uber.org/goleak"

	"github.com/omniscale/osmpatch/element"
	"github.com/omniscale/osmpatch/postbox"
	"github.com/omniscale/osmpatch/stats"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recorder is a sink that records every emitted element as "kind#id@src".
type recorder struct {
	emitted   []string
	completed int
	released  int
	failOn    int64
}

func (r *recorder) add(k element.Kind, e osm.Element) error {
	if r.failOn != 0 && e.ID == r.failOn {
		return errors.New("sink failure")
	}
	r.emitted = append(r.emitted, fmt.Sprintf("%s#%d@%s", k, e.ID, e.Tags["src"]))
	return nil
}

func (r *recorder) ProcessNode(n *osm.Node) error {
	return r.add(element.NodeKind, n.Element)
}
func (r *recorder) ProcessSegment(s *element.Segment) error {
	return r.add(element.SegmentKind, s.Element)
}
func (r *recorder) ProcessWay(w *osm.Way) error {
	return r.add(element.WayKind, w.Element)
}
func (r *recorder) Complete() error {
	r.completed++
	return nil
}
func (r *recorder) Release() {
	r.released++
}

func elem(id int64, src string) osm.Element {
	return osm.Element{ID: id, Tags: osm.Tags{"src": src}}
}

func baseNode(id int64) element.Container {
	return element.NewNode(&osm.Node{Element: elem(id, "base")})
}

func baseSegment(id int64) element.Container {
	return element.NewSegment(&element.Segment{Element: elem(id, "base")})
}

func baseWay(id int64) element.Container {
	return element.NewWay(&osm.Way{Element: elem(id, "base")})
}

func changeNode(id int64, a element.Action) element.Change {
	return element.Change{Container: element.NewNode(&osm.Node{Element: elem(id, "change")}), Action: a}
}

func changeWay(id int64, a element.Action) element.Change {
	return element.Change{Container: element.NewWay(&osm.Way{Element: elem(id, "change")}), Action: a}
}

func checkEmitted(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) == 0 && len(want) == 0 {
		return
	}
	if diff := pretty.Diff(want, got); len(diff) > 0 {
		t.Errorf("unexpected output: %v\n%# v", diff, pretty.Formatter(got))
	}
}

func TestApply(t *testing.T) {
	for _, tc := range []struct {
		name    string
		base    []element.Container
		changes []element.Change
		want    []string
	}{
		{
			name:    "modify replaces base",
			base:    []element.Container{baseNode(1), baseNode(2), baseWay(5)},
			changes: []element.Change{changeNode(2, element.Modify)},
			want:    []string{"node#1@base", "node#2@change", "way#5@base"},
		},
		{
			name:    "create after base",
			base:    []element.Container{baseNode(1)},
			changes: []element.Change{changeNode(3, element.Create)},
			want:    []string{"node#1@base", "node#3@change"},
		},
		{
			name:    "create before base",
			base:    []element.Container{baseNode(5), baseWay(1)},
			changes: []element.Change{changeNode(1, element.Create), changeWay(2, element.Create)},
			want:    []string{"node#1@change", "node#5@base", "way#1@base", "way#2@change"},
		},
		{
			name:    "delete suppresses",
			base:    []element.Container{baseNode(5)},
			changes: []element.Change{changeNode(5, element.Delete)},
			want:    nil,
		},
		{
			name:    "empty change stream",
			base:    []element.Container{baseNode(-3), baseNode(1), baseSegment(1), baseSegment(9), baseWay(1)},
			changes: nil,
			want:    []string{"node#-3@base", "node#1@base", "segment#1@base", "segment#9@base", "way#1@base"},
		},
		{
			name:    "empty base stream",
			base:    nil,
			changes: []element.Change{changeNode(1, element.Create), changeWay(1, element.Create)},
			want:    []string{"node#1@change", "way#1@change"},
		},
		{
			name: "mixed",
			base: []element.Container{baseNode(1), baseNode(2), baseNode(3), baseSegment(1), baseWay(1), baseWay(2)},
			changes: []element.Change{
				changeNode(1, element.Delete),
				changeNode(3, element.Modify),
				changeNode(4, element.Create),
				changeWay(2, element.Delete),
				changeWay(3, element.Create),
			},
			want: []string{"node#2@base", "node#3@change", "node#4@change", "segment#1@base", "way#1@base", "way#3@change"},
		},
		{
			name: "both empty",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			for _, capacity := range []int{1, 2, 100} {
				r := &recorder{}
				if err := Apply(capacity, tc.base, tc.changes, r, WithOrderCheck()); err != nil {
					t.Fatal(err)
				}
				checkEmitted(t, r.emitted, tc.want)
				if r.completed != 1 || r.released != 1 {
					t.Errorf("sink completed %d and released %d times", r.completed, r.released)
				}
			}
		})
	}
}

func TestApplyConsistencyErrors(t *testing.T) {
	for _, tc := range []struct {
		name    string
		base    []element.Container
		changes []element.Change
		want    ConsistencyError
		emitted []string
	}{
		{
			name:    "create on existing",
			base:    []element.Container{baseNode(1)},
			changes: []element.Change{changeNode(1, element.Create)},
			want:    ConsistencyError{Key: element.Key{Kind: element.NodeKind, ID: 1}, Action: element.Create, Exists: true},
		},
		{
			name:    "modify on missing",
			base:    []element.Container{baseNode(1)},
			changes: []element.Change{changeNode(2, element.Modify)},
			want:    ConsistencyError{Key: element.Key{Kind: element.NodeKind, ID: 2}, Action: element.Modify},
			emitted: []string{"node#1@base"},
		},
		{
			name:    "delete on missing before base",
			base:    []element.Container{baseNode(5)},
			changes: []element.Change{changeNode(2, element.Delete)},
			want:    ConsistencyError{Key: element.Key{Kind: element.NodeKind, ID: 2}, Action: element.Delete},
		},
		{
			name:    "delete on missing after base is exhausted",
			base:    []element.Container{baseNode(1)},
			changes: []element.Change{changeNode(3, element.Create), changeWay(1, element.Delete)},
			want:    ConsistencyError{Key: element.Key{Kind: element.WayKind, ID: 1}, Action: element.Delete},
			emitted: []string{"node#1@base", "node#3@change"},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := &recorder{}
			err := Apply(10, tc.base, tc.changes, r)
			var cerr *ConsistencyError
			if !errors.As(err, &cerr) {
				t.Fatalf("expected ConsistencyError, got %v", err)
			}
			if *cerr != tc.want {
				t.Errorf("unexpected error %#v", cerr)
			}
			checkEmitted(t, r.emitted, tc.emitted)
			if r.completed != 0 {
				t.Error("sink completed after failure")
			}
			if r.released != 1 {
				t.Errorf("sink released %d times", r.released)
			}
		})
	}
}

func TestConsistencyErrorMessage(t *testing.T) {
	err := &ConsistencyError{Key: element.Key{Kind: element.NodeKind, ID: 2}, Action: element.Modify}
	want := "cannot perform action modify on node with id=2 because it doesn't exist in the base source"
	if err.Error() != want {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestApplyOrderCheck(t *testing.T) {
	r := &recorder{}
	err := Apply(10,
		[]element.Container{baseNode(2), baseNode(1)},
		nil, r, WithOrderCheck())
	var oerr *OrderError
	if !errors.As(err, &oerr) {
		t.Fatalf("expected OrderError, got %v", err)
	}
	if oerr.Stream != "base" || oerr.Key.ID != 1 || oerr.Prev.ID != 2 {
		t.Errorf("unexpected error %#v", oerr)
	}

	r = &recorder{}
	err = Apply(10, nil,
		[]element.Change{changeNode(1, element.Create), changeNode(1, element.Create)},
		r, WithOrderCheck())
	if !errors.As(err, &oerr) || oerr.Stream != "change" {
		t.Fatalf("expected OrderError for change stream, got %v", err)
	}
	if r.released != 1 {
		t.Errorf("sink released %d times", r.released)
	}
}

func TestApplySinkError(t *testing.T) {
	r := &recorder{failOn: 2}
	err := Apply(1,
		[]element.Container{baseNode(1), baseNode(2), baseNode(3), baseNode(4), baseNode(5)},
		[]element.Change{changeNode(6, element.Create)},
		r)
	if err == nil || errors.Cause(err).Error() != "sink failure" {
		t.Fatalf("expected sink failure, got %v", err)
	}
	checkEmitted(t, r.emitted, []string{"node#1@base"})
	if r.completed != 0 || r.released != 1 {
		t.Errorf("sink completed %d and released %d times", r.completed, r.released)
	}
}

func TestApplyStats(t *testing.T) {
	c := stats.NewMergeCounter()
	r := &recorder{}
	err := Apply(4,
		[]element.Container{baseNode(1), baseNode(2), baseNode(3)},
		[]element.Change{changeNode(2, element.Modify), changeNode(3, element.Delete), changeNode(4, element.Create)},
		r, WithStats(c))
	if err != nil {
		t.Fatal(err)
	}
	for o, want := range map[stats.Outcome]int64{
		stats.Passed: 1, stats.Modified: 1, stats.Deleted: 1, stats.Created: 1,
	} {
		if got := c.Count(o); got != want {
			t.Errorf("%s: got %d, want %d", o, got, want)
		}
	}
	if c.Emitted() != int64(len(r.emitted)) {
		t.Errorf("emitted %d, recorded %d", c.Emitted(), len(r.emitted))
	}
}

func TestApplyStatsSinkError(t *testing.T) {
	for _, tc := range []struct {
		base    []element.Container
		changes []element.Change
		failed  stats.Outcome
	}{
		{[]element.Container{baseNode(1), baseNode(2)}, nil, stats.Passed},
		{[]element.Container{baseNode(1)}, []element.Change{changeNode(2, element.Create)}, stats.Created},
		{[]element.Container{baseNode(1), baseNode(2)}, []element.Change{changeNode(2, element.Modify)}, stats.Modified},
	} {
		c := stats.NewMergeCounter()
		r := &recorder{failOn: 2}
		if err := Apply(2, tc.base, tc.changes, r, WithStats(c)); err == nil {
			t.Fatalf("%s: expected sink failure", tc.failed)
		}
		if got := c.Count(stats.Passed); got != 1 {
			t.Errorf("%s: passed %d, want 1", tc.failed, got)
		}
		if tc.failed != stats.Passed {
			if got := c.Count(tc.failed); got != 0 {
				t.Errorf("%s: counted %d failed elements", tc.failed, got)
			}
		}
		if c.Emitted() != int64(len(r.emitted)) {
			t.Errorf("%s: emitted %d, recorded %d", tc.failed, c.Emitted(), len(r.emitted))
		}
	}
}

func TestBlockedProducerReleasedOnFailure(t *testing.T) {
	a := New(1)
	r := &recorder{}
	a.SetSink(r)

	baseDone := make(chan error)
	go func() {
		s := a.BaseSink()
		defer s.Release()
		for i := int64(1); i < 1000; i++ {
			if err := s.ProcessNode(&osm.Node{Element: elem(i, "base")}); err != nil {
				baseDone <- err
				return
			}
		}
		baseDone <- s.Complete()
	}()

	// change stream fails right away: create on an existing key
	changeDone := make(chan error)
	go func() {
		changeDone <- FeedChanges([]element.Change{changeNode(1, element.Create)}, a.ChangeSink())
	}()

	err := a.Run()
	var cerr *ConsistencyError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConsistencyError, got %v", err)
	}

	select {
	case err := <-baseDone:
		if !errors.Is(err, postbox.ErrAborted) {
			t.Errorf("expected ErrAborted from blocked producer, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("producer still blocked")
	}
	if err := <-changeDone; err != nil && !errors.Is(err, postbox.ErrAborted) {
		t.Errorf("unexpected change producer error %v", err)
	}
	if r.released != 1 {
		t.Errorf("sink released %d times", r.released)
	}
}

func TestProducerFailureAbortsMerge(t *testing.T) {
	a := New(2)
	r := &recorder{}
	a.SetSink(r)

	go func() {
		s := a.BaseSink()
		s.ProcessNode(&osm.Node{Element: elem(1, "base")})
		// release without complete: the producer gave up
		s.Release()
	}()
	changeDone := make(chan error)
	go func() {
		changeDone <- FeedChanges(nil, a.ChangeSink())
	}()

	err := a.Run()
	if !errors.Is(err, postbox.ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
	<-changeDone
	if r.completed != 0 || r.released != 1 {
		t.Errorf("sink completed %d and released %d times", r.completed, r.released)
	}
}

func TestApplyReportsProducerError(t *testing.T) {
	r := &recorder{}
	// a container without kind cannot be dispatched by the producer
	err := Apply(2, []element.Container{baseNode(1), {}}, nil, r)
	if err == nil {
		t.Fatal("expected producer error")
	}
	if errors.Is(err, postbox.ErrAborted) {
		t.Errorf("expected the producer error, got %v", err)
	}
	if r.completed != 0 || r.released != 1 {
		t.Errorf("sink completed %d and released %d times", r.completed, r.released)
	}
}

func TestRunWithoutSink(t *testing.T) {
	a := New(1)
	if err := a.Run(); err == nil {
		t.Fatal("expected error without sink")
	}
	if err := a.BaseSink().ProcessNode(&osm.Node{}); !errors.Is(err, postbox.ErrAborted) {
		t.Errorf("expected ErrAborted, got %v", err)
	}
}
