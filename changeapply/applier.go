// Package changeapply applies a stream of changes to a base stream of
// elements.
//
// Both input streams need to be sorted by element.Compare and may not
// contain a key twice. The Applier reads both streams in lockstep and passes
// the merged stream to a sink, like a patch applied to a sorted file.
package changeapply

import (
	"fmt"

	osm "github.com/omniscale/go-osm"
	"github.com/pkg/errors"

	"github.com/omniscale/osmpatch/element"
	"github.com/omniscale/osmpatch/log"
	"github.com/omniscale/osmpatch/postbox"
	"github.com/omniscale/osmpatch/stats"
)

var logger = log.New("changeapply")

// ConsistencyError is returned when a change does not fit the base stream:
// a create for an existing element, or a modify or delete for a missing one.
type ConsistencyError struct {
	Key    element.Key
	Action element.Action
	// Exists is true if the key was present in the base stream.
	Exists bool
}

func (e *ConsistencyError) Error() string {
	if e.Exists {
		return fmt.Sprintf("cannot perform action %s on %s with id=%d because it exists in the base source",
			e.Action, e.Key.Kind, e.Key.ID)
	}
	return fmt.Sprintf("cannot perform action %s on %s with id=%d because it doesn't exist in the base source",
		e.Action, e.Key.Kind, e.Key.ID)
}

// OrderError is returned by the order check when a stream is not strictly
// increasing.
type OrderError struct {
	Stream string
	Prev   element.Key
	Key    element.Key
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("%s stream not sorted: %s after %s", e.Stream, e.Key, e.Prev)
}

type Option func(*Applier)

// WithOrderCheck verifies that both input streams are strictly increasing.
func WithOrderCheck() Option {
	return func(a *Applier) { a.checkOrder = true }
}

// WithStats records the outcome of every key in c.
func WithStats(c *stats.MergeCounter) Option {
	return func(a *Applier) { a.stats = c }
}

// Applier merges a base stream with a change stream.
type Applier struct {
	base       *postbox.Postbox[element.Container]
	change     *postbox.Postbox[element.Change]
	sink       element.Sink
	checkOrder bool
	stats      *stats.MergeCounter
}

// New creates an Applier whose input buffers hold capacity elements each.
func New(capacity int, opts ...Option) *Applier {
	a := &Applier{
		base:   postbox.New[element.Container](capacity),
		change: postbox.New[element.Change](capacity),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// SetSink sets the destination of the merged stream.
func (a *Applier) SetSink(s element.Sink) {
	a.sink = s
}

// BaseSink returns the intake for the base stream. It should be used by a
// single goroutine.
func (a *Applier) BaseSink() element.Sink {
	return &baseSink{postbox: a.base}
}

// ChangeSink returns the intake for the change stream. It should be used by
// a single goroutine.
func (a *Applier) ChangeSink() element.ChangeSink {
	return &changeSink{postbox: a.change}
}

type baseSink struct {
	postbox *postbox.Postbox[element.Container]
}

func (s *baseSink) ProcessNode(n *osm.Node) error {
	return s.postbox.Put(element.NewNode(n))
}

func (s *baseSink) ProcessSegment(seg *element.Segment) error {
	return s.postbox.Put(element.NewSegment(seg))
}

func (s *baseSink) ProcessWay(w *osm.Way) error {
	return s.postbox.Put(element.NewWay(w))
}

func (s *baseSink) Complete() error { return s.postbox.Complete() }
func (s *baseSink) Release()        { s.postbox.ReleaseProducer() }

type changeSink struct {
	postbox *postbox.Postbox[element.Change]
}

func (s *changeSink) ProcessNode(n *osm.Node, action element.Action) error {
	return s.postbox.Put(element.Change{Container: element.NewNode(n), Action: action})
}

func (s *changeSink) ProcessSegment(seg *element.Segment, action element.Action) error {
	return s.postbox.Put(element.Change{Container: element.NewSegment(seg), Action: action})
}

func (s *changeSink) ProcessWay(w *osm.Way, action element.Action) error {
	return s.postbox.Put(element.Change{Container: element.NewWay(w), Action: action})
}

func (s *changeSink) Complete() error { return s.postbox.Complete() }
func (s *changeSink) Release()        { s.postbox.ReleaseProducer() }

// Run reads both input streams and passes the merged stream to the sink.
//
// The sink is always released before Run returns. If Run fails, both input
// postboxes are errored so that blocked producers return.
func (a *Applier) Run() error {
	if a.sink == nil {
		a.abort()
		return errors.New("no sink set")
	}
	completed := false
	defer func() {
		if !completed {
			a.abort()
		} else {
			a.base.ReleaseConsumer()
			a.change.ReleaseConsumer()
		}
		a.sink.Release()
	}()

	m := merger{a: a}
	if err := m.run(); err != nil {
		logger.Printf("[error] merge aborted: %s", err)
		return err
	}
	if err := a.sink.Complete(); err != nil {
		return errors.Wrap(err, "completing sink")
	}
	completed = true
	return nil
}

// abort errors both input postboxes and releases them.
func (a *Applier) abort() {
	a.base.SetError()
	a.change.SetError()
	a.base.ReleaseConsumer()
	a.change.ReleaseConsumer()
}

// merger holds the lookahead state of a single run.
type merger struct {
	a          *Applier
	base       element.Container
	hasBase    bool
	change     element.Change
	hasChange  bool
	lastBase   *element.Key
	lastChange *element.Key
}

// nextBase fills the base lookahead if it is empty. It returns false when
// the base stream is exhausted.
func (m *merger) nextBase() (bool, error) {
	if m.hasBase {
		return true, nil
	}
	ok, err := m.a.base.HasNext()
	if err != nil {
		return false, errors.Wrap(err, "reading base stream")
	}
	if !ok {
		return false, nil
	}
	m.base, err = m.a.base.Next()
	if err != nil {
		return false, errors.Wrap(err, "reading base stream")
	}
	if m.a.checkOrder {
		k := m.base.Key()
		if m.lastBase != nil && element.Compare(*m.lastBase, k) >= 0 {
			return false, &OrderError{Stream: "base", Prev: *m.lastBase, Key: k}
		}
		m.lastBase = &k
	}
	m.hasBase = true
	return true, nil
}

func (m *merger) nextChange() (bool, error) {
	if m.hasChange {
		return true, nil
	}
	ok, err := m.a.change.HasNext()
	if err != nil {
		return false, errors.Wrap(err, "reading change stream")
	}
	if !ok {
		return false, nil
	}
	m.change, err = m.a.change.Next()
	if err != nil {
		return false, errors.Wrap(err, "reading change stream")
	}
	if m.a.checkOrder {
		k := m.change.Key()
		if m.lastChange != nil && element.Compare(*m.lastChange, k) >= 0 {
			return false, &OrderError{Stream: "change", Prev: *m.lastChange, Key: k}
		}
		m.lastChange = &k
	}
	m.hasChange = true
	return true, nil
}

func (m *merger) run() error {
	for {
		haveBase, err := m.nextBase()
		if err != nil {
			return err
		}
		haveChange, err := m.nextChange()
		if err != nil {
			return err
		}

		switch {
		case haveBase && haveChange:
			cmp := element.Compare(m.base.Key(), m.change.Key())
			switch {
			case cmp < 0:
				err = m.passBase()
			case cmp > 0:
				err = m.create()
			default:
				err = m.replace()
			}
		case haveBase:
			// remaining base elements are unchanged
			err = m.passBase()
		case haveChange:
			// remaining changes must be creates
			err = m.create()
		default:
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (m *merger) record(o stats.Outcome) {
	if m.a.stats != nil {
		m.a.stats.Record(o)
	}
}

func (m *merger) dispatch(c element.Container) error {
	if err := c.Dispatch(m.a.sink); err != nil {
		return errors.Wrapf(err, "passing %s to sink", c)
	}
	return nil
}

// passBase passes the base element through and consumes it.
func (m *merger) passBase() error {
	m.hasBase = false
	if err := m.dispatch(m.base); err != nil {
		return err
	}
	m.record(stats.Passed)
	return nil
}

// create handles a change without a base element and consumes the change.
func (m *merger) create() error {
	m.hasChange = false
	if m.change.Action != element.Create {
		return &ConsistencyError{Key: m.change.Key(), Action: m.change.Action}
	}
	if err := m.dispatch(m.change.Container); err != nil {
		return err
	}
	m.record(stats.Created)
	return nil
}

// replace handles a change for an existing base element and consumes both.
func (m *merger) replace() error {
	m.hasBase = false
	m.hasChange = false
	switch m.change.Action {
	case element.Modify:
		if err := m.dispatch(m.change.Container); err != nil {
			return err
		}
		m.record(stats.Modified)
		return nil
	case element.Delete:
		m.record(stats.Deleted)
		return nil
	}
	return &ConsistencyError{Key: m.change.Key(), Action: m.change.Action, Exists: true}
}
