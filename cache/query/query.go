// Package query implements the query-cache command. It prints elements of a
// store as JSON.
package query

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	osm "github.com/omniscale/go-osm"
	"github.com/pkg/errors"

	"github.com/omniscale/osmpatch/cache"
	"github.com/omniscale/osmpatch/element"
)

type nodes map[string]*osm.Node
type segments map[string]*segment
type ways map[string]*way

type segment struct {
	element.Segment
	Nodes nodes `json:"nodes,omitempty"`
}

type way struct {
	osm.Way
	Nodes nodes `json:"nodes,omitempty"`
}

type Result struct {
	Nodes    nodes    `json:"nodes,omitempty"`
	Segments segments `json:"segments,omitempty"`
	Ways     ways     `json:"ways,omitempty"`
}

func get(store *cache.Store, kind element.Kind, id int64) (element.Container, bool, error) {
	c, err := store.Get(element.Key{Kind: kind, ID: id})
	if err == cache.NotFound {
		return c, false, nil
	}
	if err != nil {
		return c, false, err
	}
	return c, true, nil
}

func collectNodes(store *cache.Store, ids []int64) (nodes, error) {
	ns := make(nodes)
	for _, id := range ids {
		sid := strconv.FormatInt(id, 10)
		c, ok, err := get(store, element.NodeKind, id)
		if err != nil {
			return nil, err
		}
		if ok {
			ns[sid] = c.Node
		} else {
			ns[sid] = nil
		}
	}
	return ns, nil
}

func collectSegments(store *cache.Store, ids []int64, full bool) (segments, error) {
	ss := make(segments)
	for _, id := range ids {
		sid := strconv.FormatInt(id, 10)
		c, ok, err := get(store, element.SegmentKind, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			ss[sid] = nil
			continue
		}
		ss[sid] = &segment{Segment: *c.Segment}
		if full {
			ss[sid].Nodes, err = collectNodes(store, []int64{c.Segment.From, c.Segment.To})
			if err != nil {
				return nil, err
			}
		}
	}
	return ss, nil
}

func collectWays(store *cache.Store, ids []int64, full bool) (ways, error) {
	ws := make(ways)
	for _, id := range ids {
		sid := strconv.FormatInt(id, 10)
		c, ok, err := get(store, element.WayKind, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			ws[sid] = nil
			continue
		}
		ws[sid] = &way{Way: *c.Way}
		if full {
			ws[sid].Nodes, err = collectNodes(store, c.Way.Refs)
			if err != nil {
				return nil, err
			}
		}
	}
	return ws, nil
}

// Collect looks up all requested elements. Missing elements are included as
// null. With full, the nodes of segments and ways are included.
func Collect(store *cache.Store, nodeIDs, segmentIDs, wayIDs []int64, full bool) (*Result, error) {
	var err error
	r := &Result{}
	if len(nodeIDs) > 0 {
		if r.Nodes, err = collectNodes(store, nodeIDs); err != nil {
			return nil, err
		}
	}
	if len(segmentIDs) > 0 {
		if r.Segments, err = collectSegments(store, segmentIDs, full); err != nil {
			return nil, err
		}
	}
	if len(wayIDs) > 0 {
		if r.Ways, err = collectWays(store, wayIDs, full); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// idList is a flag.Value for comma separated IDs.
type idList []int64

func (l *idList) String() string {
	parts := make([]string, len(*l))
	for i, id := range *l {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func (l *idList) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return errors.Errorf("invalid id %q", part)
		}
		*l = append(*l, id)
	}
	return nil
}

// Query runs the query-cache command and writes the result to w.
func Query(args []string, w io.Writer) error {
	flags := flag.NewFlagSet("query-cache", flag.ContinueOnError)
	var nodeIDs, segmentIDs, wayIDs idList
	flags.Var(&nodeIDs, "node", "node ids")
	flags.Var(&segmentIDs, "segment", "segment ids")
	flags.Var(&wayIDs, "way", "way ids")
	full := flags.Bool("full", false, "include nodes of segments and ways")
	cachedir := flags.String("cachedir", "/tmp/osmpatch", "store directory")
	flags.Usage = func() {
		fmt.Fprintf(flags.Output(), "Usage of %s query-cache:\n\n", os.Args[0])
		flags.PrintDefaults()
		fmt.Fprintln(flags.Output(), "\nQuery store for nodes/segments/ways.")
	}
	if err := flags.Parse(args); err != nil {
		return err
	}
	if len(nodeIDs)+len(segmentIDs)+len(wayIDs) == 0 {
		flags.Usage()
		return errors.New("missing -node, -segment or -way")
	}
	if _, err := os.Stat(*cachedir); err != nil {
		return errors.Wrap(err, "opening store")
	}

	store, err := cache.Open(*cachedir)
	if err != nil {
		return err
	}
	defer store.Close()

	result, err := Collect(store, nodeIDs, segmentIDs, wayIDs, *full)
	if err != nil {
		return err
	}
	bytes, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(bytes))
	return err
}
