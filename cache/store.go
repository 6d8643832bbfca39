package cache

import (
	"context"
	bin "encoding/binary"
	"os"

	"github.com/dgraph-io/badger"
	osm "github.com/omniscale/go-osm"
	"github.com/pkg/errors"

	"github.com/omniscale/osmpatch/cache/binary"
	"github.com/omniscale/osmpatch/element"
	"github.com/omniscale/osmpatch/log"
)

var logger = log.New("cache")

var NotFound = errors.New("not found")

const keyLen = 9

// Key encodes k so that the byte order of keys matches element.Compare.
// The sign bit of the ID is flipped to sort negative IDs first.
func Key(k element.Key) []byte {
	buf := make([]byte, keyLen)
	buf[0] = byte(k.Kind)
	bin.BigEndian.PutUint64(buf[1:], uint64(k.ID)^(1<<63))
	return buf
}

// ParseKey decodes a key created by Key.
func ParseKey(buf []byte) (element.Key, error) {
	if len(buf) != keyLen {
		return element.Key{}, errors.Errorf("invalid key length %d", len(buf))
	}
	return element.Key{
		Kind: element.Kind(buf[0]),
		ID:   int64(bin.BigEndian.Uint64(buf[1:]) ^ (1 << 63)),
	}, nil
}

// Store keeps elements in a badger database. Iteration returns the
// elements ordered by kind and ID.
type Store struct {
	dir string
	db  *badger.DB
}

// Open opens or creates the store in dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating cache dir %s", dir)
	}
	db, err := badger.Open(globalStoreOptions.badgerOptions(dir))
	if err != nil {
		return nil, errors.Wrapf(err, "opening cache %s", dir)
	}
	return &Store{dir: dir, db: db}, nil
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// batch collects writes and commits them in transactions that fit into
// badger's limits.
type batch struct {
	db  *badger.DB
	txn *badger.Txn
	n   int
}

func newBatch(db *badger.DB) *batch {
	return &batch{db: db, txn: db.NewTransaction(true)}
}

func (b *batch) set(key, value []byte) error {
	err := b.txn.Set(key, value)
	if err == badger.ErrTxnTooBig {
		if err := b.txn.Commit(); err != nil {
			return errors.Wrap(err, "committing batch")
		}
		b.txn = b.db.NewTransaction(true)
		err = b.txn.Set(key, value)
	}
	if err == nil {
		b.n++
	}
	return err
}

func (b *batch) delete(key []byte) error {
	err := b.txn.Delete(key)
	if err == badger.ErrTxnTooBig {
		if err := b.txn.Commit(); err != nil {
			return errors.Wrap(err, "committing batch")
		}
		b.txn = b.db.NewTransaction(true)
		err = b.txn.Delete(key)
	}
	return err
}

func (b *batch) commit() error {
	return b.txn.Commit()
}

func (b *batch) discard() {
	b.txn.Discard()
}

func (s *Store) put(containers []element.Container) error {
	b := newBatch(s.db)
	for _, c := range containers {
		data, err := binary.Marshal(c)
		if err != nil {
			b.discard()
			return errors.Wrapf(err, "marshal %s", c)
		}
		if err := b.set(Key(c.Key()), data); err != nil {
			b.discard()
			return errors.Wrapf(err, "put %s", c)
		}
	}
	return b.commit()
}

func (s *Store) PutNodes(nodes []osm.Node) error {
	containers := make([]element.Container, len(nodes))
	for i := range nodes {
		containers[i] = element.NewNode(&nodes[i])
	}
	return s.put(containers)
}

func (s *Store) PutSegments(segments []element.Segment) error {
	containers := make([]element.Container, len(segments))
	for i := range segments {
		containers[i] = element.NewSegment(&segments[i])
	}
	return s.put(containers)
}

func (s *Store) PutWays(ways []osm.Way) error {
	containers := make([]element.Container, len(ways))
	for i := range ways {
		containers[i] = element.NewWay(&ways[i])
	}
	return s.put(containers)
}

// Put stores a single element.
func (s *Store) Put(c element.Container) error {
	return s.put([]element.Container{c})
}

func (s *Store) Delete(k element.Key) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(Key(k))
	})
}

// Get returns the element for k or NotFound.
func (s *Store) Get(k element.Key) (element.Container, error) {
	var c element.Container
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(Key(k))
		if err == badger.ErrKeyNotFound {
			return NotFound
		}
		if err != nil {
			return err
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		c, err = binary.Unmarshal(k, data)
		return err
	})
	return c, err
}

// Count returns the number of stored elements.
func (s *Store) Count() (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Feed passes all stored elements in key order to sink and completes it.
// Feed does not release the sink. It stops early if ctx is done.
func (s *Store) Feed(ctx context.Context, sink element.Sink) error {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			k, err := ParseKey(item.Key())
			if err != nil {
				return err
			}
			data, err := item.ValueCopy(nil)
			if err != nil {
				return errors.Wrapf(err, "reading %s", k)
			}
			c, err := binary.Unmarshal(k, data)
			if err != nil {
				return errors.Wrapf(err, "decoding %s", k)
			}
			if err := c.Dispatch(sink); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return err
	}
	logger.Printf("[debug] fed %d elements from %s", n, s.dir)
	return sink.Complete()
}
