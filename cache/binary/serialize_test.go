package binary

import (
	"math"
	"testing"
	"time"

	osm "github.com/omniscale/go-osm"

	"github.com/omniscale/osmpatch/element"
)

func compareRefs(a []int64, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i, v := range a {
		if v != b[i] {
			return false
		}
	}
	return true
}

func TestMarshalNode(t *testing.T) {
	node := &osm.Node{}
	node.ID = 12345
	node.Long = 8.2
	node.Lat = 53.1
	node.Tags = make(osm.Tags)
	node.Tags["name"] = "test"
	node.Tags["place"] = "city"

	data, err := MarshalNode(node)
	if err != nil {
		t.Fatal(err)
	}
	node, err = UnmarshalNode(data)
	if err != nil {
		t.Fatal(err)
	}

	if node.Tags["name"] != "test" {
		t.Error("name tag does not match")
	}
	if node.Tags["place"] != "city" {
		t.Error("place tag does not match")
	}
	if len(node.Tags) != 2 {
		t.Error("tags len does not match")
	}
	if math.Abs(node.Long-8.2) > 1e-6 || math.Abs(node.Lat-53.1) > 1e-6 {
		t.Errorf("coords do not match %v %v", node.Long, node.Lat)
	}
	if node.Metadata != nil {
		t.Error("unexpected metadata")
	}
}

func TestMarshalNodeMetadata(t *testing.T) {
	ts := time.Date(2016, 12, 2, 14, 15, 11, 0, time.UTC)
	node := &osm.Node{Element: osm.Element{
		ID:       1,
		Metadata: &osm.Metadata{UserID: 462835, UserName: "G-eMapper", Version: 3, Timestamp: ts, Changeset: 44115151},
	}}
	data, err := MarshalNode(node)
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalNode(data)
	if err != nil {
		t.Fatal(err)
	}
	m := got.Metadata
	if m == nil {
		t.Fatal("metadata missing")
	}
	if m.UserID != 462835 || m.UserName != "G-eMapper" || m.Version != 3 || m.Changeset != 44115151 || !m.Timestamp.Equal(ts) {
		t.Errorf("metadata does not match: %#v", m)
	}
	if got.Tags != nil {
		t.Errorf("unexpected tags %v", got.Tags)
	}
}

func TestMarshalWay(t *testing.T) {
	way := &osm.Way{}
	way.ID = 12345
	way.Tags = make(osm.Tags)
	way.Tags["name"] = "test"
	way.Tags["highway"] = "trunk"
	way.Refs = append(way.Refs, 1, 2, 3, 4, -5, 1<<40)

	data, err := MarshalWay(way)
	if err != nil {
		t.Fatal(err)
	}
	if !compareRefs(way.Refs, []int64{1, 2, 3, 4, -5, 1 << 40}) {
		t.Error("marshal modified refs")
	}
	way, err = UnmarshalWay(data)
	if err != nil {
		t.Fatal(err)
	}

	if way.Tags["name"] != "test" {
		t.Error("name tag does not match")
	}
	if way.Tags["highway"] != "trunk" {
		t.Error("highway tag does not match")
	}
	if len(way.Tags) != 2 {
		t.Error("tags len does not match")
	}
	if !compareRefs(way.Refs, []int64{1, 2, 3, 4, -5, 1 << 40}) {
		t.Error("nodes do not match", way.Refs)
	}
}

func TestMarshalSegment(t *testing.T) {
	seg := &element.Segment{From: 7, To: -9}
	seg.Tags = osm.Tags{"created_by": "JOSM"}
	data, err := MarshalSegment(seg)
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalSegment(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.From != 7 || got.To != -9 || got.Tags["created_by"] != "JOSM" {
		t.Errorf("segment does not match %#v", got)
	}
}

func TestUnmarshalSetsID(t *testing.T) {
	data, err := Marshal(element.NewWay(&osm.Way{Refs: []int64{1, 2}}))
	if err != nil {
		t.Fatal(err)
	}
	c, err := Unmarshal(element.Key{Kind: element.WayKind, ID: 99}, data)
	if err != nil {
		t.Fatal(err)
	}
	if c.Key() != (element.Key{Kind: element.WayKind, ID: 99}) {
		t.Errorf("unexpected key %v", c.Key())
	}
}

func TestUnmarshalTruncated(t *testing.T) {
	data, err := MarshalWay(&osm.Way{Refs: []int64{1, 2, 3}, Element: osm.Element{Tags: osm.Tags{"a": "b"}}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := UnmarshalWay(data[:len(data)-2]); err == nil {
		t.Error("expected error for truncated data")
	}
}

func BenchmarkMarshalWay(b *testing.B) {
	b.ReportAllocs()
	way := &osm.Way{}
	way.ID = 12345
	way.Tags = make(osm.Tags)
	way.Tags["name"] = "test"
	way.Tags["highway"] = "trunk"
	way.Refs = append(way.Refs, 1, 2, 3, 4)

	for i := 0; i < b.N; i++ {
		if _, err := MarshalWay(way); err != nil {
			b.Fatal(err)
		}
	}
}
