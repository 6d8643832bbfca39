/*
Package import_ provides the import sub command. It reads a PBF file into
the base element store.
*/
package import_

import (
	"context"
	"io"
	"os"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	osm "github.com/omniscale/go-osm"
	"github.com/omniscale/go-osm/parser/pbf"
	"github.com/pkg/errors"
	"gopkg.in/tomb.v2"

	"github.com/omniscale/osmpatch/cache"
	"github.com/omniscale/osmpatch/config"
	"github.com/omniscale/osmpatch/log"
	"github.com/omniscale/osmpatch/update/state"
)

var logger = log.New("import")

// Counts of imported elements.
type Counts struct {
	Nodes     int64
	Ways      int64
	Relations int64
	Header    *pbf.Header
}

// Import reads the PBF file opts.Read into the store at opts.CacheDir.
func Import(opts config.Import) (*Counts, error) {
	if _, err := os.Stat(opts.CacheDir); err == nil {
		if !opts.Overwrite {
			return nil, errors.Errorf("cache %s already exists, use -overwritecache", opts.CacheDir)
		}
		logger.Printf("[info] removing existing cache %s", opts.CacheDir)
		if err := os.RemoveAll(opts.CacheDir); err != nil {
			return nil, errors.Wrap(err, "removing cache")
		}
	}

	f, err := os.Open(opts.Read)
	if err != nil {
		return nil, errors.Wrap(err, "opening PBF file")
	}
	defer f.Close()

	store, err := cache.Open(opts.CacheDir)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	step := logger.Step("Reading OSM data")
	counts, err := ReadPbf(context.Background(), f, store, opts.Metadata)
	if err != nil {
		return nil, err
	}
	step()

	s, err := state.FromPbfHeader(opts.Read, counts.Header.Time, counts.Header.Sequence)
	if err != nil {
		return nil, err
	}
	if err := state.Write(opts.CacheDir, s); err != nil {
		return nil, err
	}
	logger.Printf("[info] imported %s nodes, %s ways, skipped %s relations",
		humanize.Comma(counts.Nodes), humanize.Comma(counts.Ways), humanize.Comma(counts.Relations))
	return counts, nil
}

// ReadPbf parses a PBF from r and puts all nodes and ways into store.
// Relations are counted and skipped.
func ReadPbf(ctx context.Context, r io.Reader, store *cache.Store, metadata bool) (*Counts, error) {
	nodes := make(chan []osm.Node, 4)
	ways := make(chan []osm.Way, 4)
	relations := make(chan []osm.Relation, 4)

	parser := pbf.New(r, pbf.Config{
		IncludeMetadata: metadata,
		Nodes:           nodes,
		Ways:            ways,
		Relations:       relations,
	})
	header, err := parser.Header()
	if err != nil {
		return nil, errors.Wrap(err, "reading PBF header")
	}
	if !header.Time.IsZero() {
		logger.Printf("[info] PBF from %s (sequence %d)", header.Time, header.Sequence)
	}

	counts := &Counts{Header: header}
	var t tomb.Tomb
	ctx = t.Context(ctx)

	parseDone := make(chan struct{})
	t.Go(func() error {
		defer close(parseDone)
		// consumers are started from within the tomb, it panics on Go
		// calls after all tracked goroutines returned
		t.Go(func() error {
			return consume(nodes, parseDone, func(batch []osm.Node) error {
				if err := store.PutNodes(batch); err != nil {
					t.Kill(err)
					return err
				}
				atomic.AddInt64(&counts.Nodes, int64(len(batch)))
				return nil
			})
		})
		t.Go(func() error {
			return consume(ways, parseDone, func(batch []osm.Way) error {
				if err := store.PutWays(batch); err != nil {
					t.Kill(err)
					return err
				}
				atomic.AddInt64(&counts.Ways, int64(len(batch)))
				return nil
			})
		})
		t.Go(func() error {
			return consume(relations, parseDone, func(batch []osm.Relation) error {
				atomic.AddInt64(&counts.Relations, int64(len(batch)))
				return nil
			})
		})

		return errors.Wrap(parser.Parse(ctx), "parsing PBF")
	})

	if err := t.Wait(); err != nil {
		return nil, err
	}
	return counts, nil
}

// consume passes all batches to fn until the channel is closed. The parser
// blocks on full channels, so consume keeps draining after fn failed. Parse
// does not close the channels when it fails; parseDone stops consume in
// that case.
func consume[T any](batches <-chan []T, parseDone <-chan struct{}, fn func([]T) error) error {
	var err error
	handle := func(batch []T) {
		if err == nil {
			err = fn(batch)
		}
	}
	for {
		select {
		case batch, ok := <-batches:
			if !ok {
				return err
			}
			handle(batch)
		case <-parseDone:
			for {
				select {
				case batch, ok := <-batches:
					if !ok {
						return err
					}
					handle(batch)
				default:
					return err
				}
			}
		}
	}
}
