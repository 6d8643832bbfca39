package cache

import (
	osm "github.com/omniscale/go-osm"
	"github.com/pkg/errors"

	"github.com/omniscale/osmpatch/cache/binary"
	"github.com/omniscale/osmpatch/element"
)

// Writer is a sink that stores all elements in a new store.
// Writes become visible after Complete.
type Writer struct {
	store *Store
	batch *batch
	done  bool
}

// NewWriter opens a store in dir for writing. The store should be empty;
// existing elements are kept unless they are overwritten.
func NewWriter(dir string) (*Writer, error) {
	s, err := Open(dir)
	if err != nil {
		return nil, err
	}
	return &Writer{store: s, batch: newBatch(s.db)}, nil
}

func (w *Writer) put(c element.Container) error {
	if w.done {
		return errors.New("writer already completed")
	}
	data, err := binary.Marshal(c)
	if err != nil {
		return errors.Wrapf(err, "marshal %s", c)
	}
	return errors.Wrapf(w.batch.set(Key(c.Key()), data), "put %s", c)
}

func (w *Writer) ProcessNode(n *osm.Node) error {
	return w.put(element.NewNode(n))
}

func (w *Writer) ProcessSegment(s *element.Segment) error {
	return w.put(element.NewSegment(s))
}

func (w *Writer) ProcessWay(way *osm.Way) error {
	return w.put(element.NewWay(way))
}

// Complete commits all pending writes.
func (w *Writer) Complete() error {
	if w.done {
		return nil
	}
	n := w.batch.n
	if err := w.batch.commit(); err != nil {
		// Release discards the failed transaction
		return errors.Wrap(err, "committing elements")
	}
	w.done = true
	logger.Printf("[info] wrote %d elements to %s", n, w.store.dir)
	return nil
}

// Release discards uncommitted writes and closes the store.
func (w *Writer) Release() {
	if !w.done {
		w.batch.discard()
		w.done = true
	}
	if err := w.store.Close(); err != nil {
		logger.Printf("[warn] closing %s: %s", w.store.dir, err)
	}
}
