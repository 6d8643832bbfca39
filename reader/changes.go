// Package reader reads osmChange files into a sorted change stream.
package reader

import (
	"context"
	"io"
	"os"
	"sort"
	"strings"

	osm "github.com/omniscale/go-osm"
	"github.com/omniscale/go-osm/parser/diff"
	"github.com/pkg/errors"

	"github.com/omniscale/osmpatch/element"
	"github.com/omniscale/osmpatch/log"
)

var logger = log.New("reader")

// Result of reading one or more change files.
type Result struct {
	// Changes is sorted by key and contains each key at most once.
	Changes []element.Change
	// Entries is the number of parsed entries before folding.
	Entries int
	// SkippedRelations counts relation entries, which are not supported.
	SkippedRelations int
}

// ReadChanges parses an osmChange document from r. gzip selects a
// compressed input.
func ReadChanges(ctx context.Context, r io.Reader, gzip bool) (*Result, error) {
	res := &Result{}
	if err := read(ctx, r, gzip, res); err != nil {
		return nil, err
	}
	res.Changes = Collapse(res.Changes)
	return res, nil
}

// ReadChangeFiles parses all files in order. Entries of later files
// override entries of earlier files. Files ending with .gz are
// decompressed.
func ReadChangeFiles(ctx context.Context, files []string) (*Result, error) {
	res := &Result{}
	for _, fname := range files {
		f, err := os.Open(fname)
		if err != nil {
			return nil, errors.Wrap(err, "opening change file")
		}
		err = read(ctx, f, strings.HasSuffix(fname, ".gz"), res)
		f.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", fname)
		}
	}
	res.Changes = Collapse(res.Changes)
	logger.Printf("[info] read %d changes from %d entries (%d relations skipped)",
		len(res.Changes), res.Entries, res.SkippedRelations)
	return res, nil
}

func read(ctx context.Context, r io.Reader, gzip bool, res *Result) error {
	diffs := make(chan osm.Diff)
	conf := diff.Config{
		Diffs:           diffs,
		IncludeMetadata: true,
	}

	var parser *diff.Parser
	if gzip {
		var err error
		parser, err = diff.NewGZIP(r, conf)
		if err != nil {
			return errors.Wrap(err, "initializing diff parser")
		}
	} else {
		parser = diff.New(r, conf)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel() // stop parser if we return early

	parseError := make(chan error, 1)
	go func() {
		parseError <- parser.Parse(ctx)
	}()

	var convErr error
	for d := range diffs {
		if convErr != nil {
			continue
		}
		res.Entries++
		c, err := element.FromDiff(d)
		if errors.Is(err, element.ErrUnsupportedKind) {
			res.SkippedRelations++
			continue
		}
		if err != nil {
			convErr = err
			cancel()
			continue
		}
		res.Changes = append(res.Changes, c)
	}
	if err := <-parseError; err != nil && convErr == nil {
		return errors.Wrap(err, "parsing changes")
	}
	return convErr
}

// Collapse sorts changes by key and folds all entries of a key into one.
// Entries of the same key are applied in their input order:
//
//	create, modify  -> create
//	create, delete  -> (dropped)
//	modify, delete  -> delete
//	delete, create  -> modify
//
// Otherwise the later entry wins.
func Collapse(changes []element.Change) []element.Change {
	sort.SliceStable(changes, func(i, j int) bool {
		return changes[i].Key().Less(changes[j].Key())
	})

	out := changes[:0]
	// open is true while the last entry of out belongs to the current key
	open := false
	var current element.Key
	for _, c := range changes {
		k := c.Key()
		if k != current {
			current = k
			out = append(out, c)
			open = true
			continue
		}
		if !open {
			// previous entries of this key were dropped
			out = append(out, c)
			open = true
			continue
		}
		prev := &out[len(out)-1]
		folded, keep := fold(*prev, c)
		if keep {
			*prev = folded
		} else {
			out = out[:len(out)-1]
			open = false
		}
	}
	return out
}

func fold(prev, next element.Change) (element.Change, bool) {
	switch {
	case prev.Action == element.Create && next.Action == element.Modify:
		next.Action = element.Create
	case prev.Action == element.Create && next.Action == element.Delete:
		return next, false
	case prev.Action == element.Delete && next.Action == element.Create:
		next.Action = element.Modify
	}
	return next, true
}
