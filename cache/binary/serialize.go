// Package binary encodes elements for the element store.
//
// Records are a sequence of protobuf varints and length-prefixed strings.
// Node coordinates are stored as fixed-point integers, way refs are delta
// encoded. IDs are part of the store key and are not encoded.
package binary

import (
	"sort"
	"time"

	"github.com/gogo/protobuf/proto"
	osm "github.com/omniscale/go-osm"
	"github.com/pkg/errors"

	"github.com/omniscale/osmpatch/element"
)

const COORD_FACTOR float64 = 11930464.7083 // ((2<<31)-1)/360.0

func CoordToInt(coord float64) uint32 {
	return uint32((coord + 180.0) * COORD_FACTOR)
}

func IntToCoord(coord uint32) float64 {
	return float64((float64(coord) / COORD_FACTOR) - 180.0)
}

type encoder struct {
	*proto.Buffer
	err error
}

func newEncoder() *encoder {
	return &encoder{Buffer: proto.NewBuffer(make([]byte, 0, 64))}
}

func (e *encoder) varint(v uint64) {
	if e.err == nil {
		e.err = e.EncodeVarint(v)
	}
}

func (e *encoder) sint(v int64) {
	if e.err == nil {
		e.err = e.EncodeZigzag64(uint64(v))
	}
}

func (e *encoder) str(s string) {
	if e.err == nil {
		e.err = e.EncodeStringBytes(s)
	}
}

func (e *encoder) tags(tags osm.Tags) {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	e.varint(uint64(len(keys)))
	for _, k := range keys {
		e.str(k)
		e.str(tags[k])
	}
}

func (e *encoder) metadata(m *osm.Metadata) {
	if m == nil {
		e.varint(0)
		return
	}
	e.varint(1)
	e.sint(int64(m.Version))
	e.sint(int64(m.UserID))
	e.str(m.UserName)
	e.sint(m.Changeset)
	if m.Timestamp.IsZero() {
		e.sint(0)
	} else {
		e.sint(m.Timestamp.Unix())
	}
}

func (e *encoder) bytes() ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.Bytes(), nil
}

type decoder struct {
	*proto.Buffer
	err error
}

func newDecoder(data []byte) *decoder {
	return &decoder{Buffer: proto.NewBuffer(data)}
}

func (d *decoder) varint() uint64 {
	if d.err != nil {
		return 0
	}
	var v uint64
	v, d.err = d.DecodeVarint()
	return v
}

func (d *decoder) sint() int64 {
	if d.err != nil {
		return 0
	}
	var v uint64
	v, d.err = d.DecodeZigzag64()
	return int64(v)
}

func (d *decoder) str() string {
	if d.err != nil {
		return ""
	}
	var s string
	s, d.err = d.DecodeStringBytes()
	return s
}

func (d *decoder) tags() osm.Tags {
	n := d.varint()
	if n == 0 || d.err != nil {
		return nil
	}
	tags := make(osm.Tags, n)
	for i := uint64(0); i < n && d.err == nil; i++ {
		k := d.str()
		tags[k] = d.str()
	}
	return tags
}

func (d *decoder) metadata() *osm.Metadata {
	if d.varint() == 0 || d.err != nil {
		return nil
	}
	m := &osm.Metadata{}
	m.Version = int32(d.sint())
	m.UserID = int32(d.sint())
	m.UserName = d.str()
	m.Changeset = d.sint()
	if ts := d.sint(); ts != 0 {
		m.Timestamp = time.Unix(ts, 0).UTC()
	}
	return m
}

func (d *decoder) done(kind string) error {
	if d.err != nil {
		return errors.Wrapf(d.err, "unmarshal %s", kind)
	}
	return nil
}

func MarshalNode(node *osm.Node) ([]byte, error) {
	e := newEncoder()
	e.varint(uint64(CoordToInt(node.Long)))
	e.varint(uint64(CoordToInt(node.Lat)))
	e.tags(node.Tags)
	e.metadata(node.Metadata)
	return e.bytes()
}

func UnmarshalNode(data []byte) (*osm.Node, error) {
	d := newDecoder(data)
	node := &osm.Node{}
	node.Long = IntToCoord(uint32(d.varint()))
	node.Lat = IntToCoord(uint32(d.varint()))
	node.Tags = d.tags()
	node.Metadata = d.metadata()
	if err := d.done("node"); err != nil {
		return nil, err
	}
	return node, nil
}

func MarshalSegment(seg *element.Segment) ([]byte, error) {
	e := newEncoder()
	e.sint(seg.From)
	e.sint(seg.To)
	e.tags(seg.Tags)
	e.metadata(seg.Metadata)
	return e.bytes()
}

func UnmarshalSegment(data []byte) (*element.Segment, error) {
	d := newDecoder(data)
	seg := &element.Segment{}
	seg.From = d.sint()
	seg.To = d.sint()
	seg.Tags = d.tags()
	seg.Metadata = d.metadata()
	if err := d.done("segment"); err != nil {
		return nil, err
	}
	return seg, nil
}

func MarshalWay(way *osm.Way) ([]byte, error) {
	e := newEncoder()
	e.varint(uint64(len(way.Refs)))
	last := int64(0)
	for _, ref := range way.Refs {
		e.sint(ref - last)
		last = ref
	}
	e.tags(way.Tags)
	e.metadata(way.Metadata)
	return e.bytes()
}

func UnmarshalWay(data []byte) (*osm.Way, error) {
	d := newDecoder(data)
	way := &osm.Way{}
	n := d.varint()
	if d.err == nil && n > uint64(len(data)) {
		return nil, errors.Errorf("unmarshal way: invalid number of refs %d", n)
	}
	if n > 0 {
		way.Refs = make([]int64, n)
		last := int64(0)
		for i := range way.Refs {
			last += d.sint()
			way.Refs[i] = last
		}
	}
	way.Tags = d.tags()
	way.Metadata = d.metadata()
	if err := d.done("way"); err != nil {
		return nil, err
	}
	return way, nil
}

// Marshal encodes the element of c.
func Marshal(c element.Container) ([]byte, error) {
	switch c.Kind {
	case element.NodeKind:
		return MarshalNode(c.Node)
	case element.SegmentKind:
		return MarshalSegment(c.Segment)
	case element.WayKind:
		return MarshalWay(c.Way)
	}
	return nil, errors.Errorf("cannot marshal %s", c.Kind)
}

// Unmarshal decodes an element of kind k and sets its ID.
func Unmarshal(k element.Key, data []byte) (element.Container, error) {
	switch k.Kind {
	case element.NodeKind:
		n, err := UnmarshalNode(data)
		if err != nil {
			return element.Container{}, err
		}
		n.ID = k.ID
		return element.NewNode(n), nil
	case element.SegmentKind:
		s, err := UnmarshalSegment(data)
		if err != nil {
			return element.Container{}, err
		}
		s.ID = k.ID
		return element.NewSegment(s), nil
	case element.WayKind:
		w, err := UnmarshalWay(data)
		if err != nil {
			return element.Container{}, err
		}
		w.ID = k.ID
		return element.NewWay(w), nil
	}
	return element.Container{}, errors.Errorf("cannot unmarshal %s", k.Kind)
}
