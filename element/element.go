package element

import (
	"fmt"

	osm "github.com/omniscale/go-osm"
)

// Kind is the type of a map element. Kinds are ordered: nodes sort before
// segments, segments before ways.
type Kind uint8

const (
	NodeKind Kind = iota + 1
	SegmentKind
	WayKind
)

func (k Kind) String() string {
	switch k {
	case NodeKind:
		return "node"
	case SegmentKind:
		return "segment"
	case WayKind:
		return "way"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// A Segment connects two nodes. Segments predate ways and have their own ID
// space, like nodes and ways.
type Segment struct {
	osm.Element
	From int64
	To   int64
}

// Key identifies an element. IDs are only unique within their kind.
type Key struct {
	Kind Kind
	ID   int64
}

func (k Key) String() string {
	return fmt.Sprintf("%s#%d", k.Kind, k.ID)
}

// Less reports whether k sorts before o.
func (k Key) Less(o Key) bool {
	return Compare(k, o) < 0
}

// Compare orders keys by kind and then by ID. It returns a negative number
// if a < b, zero if a == b and a positive number if a > b.
func Compare(a, b Key) int {
	if a.Kind != b.Kind {
		if a.Kind < b.Kind {
			return -1
		}
		return 1
	}
	if a.ID < b.ID {
		return -1
	}
	if a.ID > b.ID {
		return 1
	}
	return 0
}

// Container holds exactly one element. Kind selects which of Node, Segment
// and Way is set.
type Container struct {
	Kind    Kind
	Node    *osm.Node
	Segment *Segment
	Way     *osm.Way
}

func NewNode(n *osm.Node) Container   { return Container{Kind: NodeKind, Node: n} }
func NewSegment(s *Segment) Container { return Container{Kind: SegmentKind, Segment: s} }
func NewWay(w *osm.Way) Container     { return Container{Kind: WayKind, Way: w} }

// ID returns the ID of the contained element.
func (c Container) ID() int64 {
	switch c.Kind {
	case NodeKind:
		return c.Node.ID
	case SegmentKind:
		return c.Segment.ID
	case WayKind:
		return c.Way.ID
	}
	return 0
}

// Metadata returns the metadata of the contained element, or nil.
func (c Container) Metadata() *osm.Metadata {
	switch c.Kind {
	case NodeKind:
		return c.Node.Metadata
	case SegmentKind:
		return c.Segment.Metadata
	case WayKind:
		return c.Way.Metadata
	}
	return nil
}

func (c Container) Key() Key {
	return Key{Kind: c.Kind, ID: c.ID()}
}

// Dispatch passes the element to the matching callback of sink.
func (c Container) Dispatch(sink Sink) error {
	switch c.Kind {
	case NodeKind:
		return sink.ProcessNode(c.Node)
	case SegmentKind:
		return sink.ProcessSegment(c.Segment)
	case WayKind:
		return sink.ProcessWay(c.Way)
	}
	return fmt.Errorf("cannot dispatch element of %s", c.Kind)
}

func (c Container) String() string {
	return c.Key().String()
}
