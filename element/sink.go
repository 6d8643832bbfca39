package element

import (
	"fmt"

	osm "github.com/omniscale/go-osm"
)

// Sink receives a stream of elements.
//
// Complete is called once after the last element was passed. Release is
// called once when the producer is done with the sink, after Complete or
// after a failure.
type Sink interface {
	ProcessNode(*osm.Node) error
	ProcessSegment(*Segment) error
	ProcessWay(*osm.Way) error
	Complete() error
	Release()
}

// ChangeSink receives a stream of changes.
type ChangeSink interface {
	ProcessNode(*osm.Node, Action) error
	ProcessSegment(*Segment, Action) error
	ProcessWay(*osm.Way, Action) error
	Complete() error
	Release()
}

// DispatchChange passes the change to the matching callback of sink.
func DispatchChange(c Change, sink ChangeSink) error {
	switch c.Kind {
	case NodeKind:
		return sink.ProcessNode(c.Node, c.Action)
	case SegmentKind:
		return sink.ProcessSegment(c.Segment, c.Action)
	case WayKind:
		return sink.ProcessWay(c.Way, c.Action)
	}
	return fmt.Errorf("cannot dispatch change of %s", c.Kind)
}
