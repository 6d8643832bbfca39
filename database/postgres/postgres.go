// Package postgres writes elements into PostgreSQL tables.
package postgres

import (
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/lib/pq/hstore"
	osm "github.com/omniscale/go-osm"
	"github.com/pkg/errors"

	"github.com/omniscale/osmpatch/element"
	"github.com/omniscale/osmpatch/log"
)

var logger = log.New("postgres")

type table struct {
	name    string
	columns []string
	create  string
}

var tables = map[element.Kind]table{
	element.NodeKind: {
		name:    "osm_nodes",
		columns: []string{"id", "lat", "lon", "tags"},
		create:  `id BIGINT PRIMARY KEY, lat DOUBLE PRECISION NOT NULL, lon DOUBLE PRECISION NOT NULL, tags HSTORE`,
	},
	element.SegmentKind: {
		name:    "osm_segments",
		columns: []string{"id", "node_from", "node_to", "tags"},
		create:  `id BIGINT PRIMARY KEY, node_from BIGINT NOT NULL, node_to BIGINT NOT NULL, tags HSTORE`,
	},
	element.WayKind: {
		name:    "osm_ways",
		columns: []string{"id", "refs", "tags"},
		create:  `id BIGINT PRIMARY KEY, refs BIGINT[] NOT NULL, tags HSTORE`,
	},
}

// tableKinds is the order in which tables are created.
var tableKinds = []element.Kind{element.NodeKind, element.SegmentKind, element.WayKind}

// Sink copies all elements into the tables osm_nodes, osm_segments and
// osm_ways. Existing tables are replaced. All rows are written in a single
// transaction that is committed by Complete.
type Sink struct {
	db     *sql.DB
	tx     *sql.Tx
	schema string

	// current COPY statement, only one COPY can be active per transaction
	copyKind element.Kind
	copyStmt *sql.Stmt
	copySQL  string

	rows      map[element.Kind]int64
	committed bool
}

// Open connects to the database and recreates all tables in a new
// transaction.
func Open(connection, schema string) (*Sink, error) {
	params, err := connectionParams(connection)
	if err != nil {
		return nil, errors.Wrap(err, "parsing connection")
	}
	db, err := sql.Open("postgres", params)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "connecting to database")
	}
	s := &Sink{db: db, schema: schema, rows: make(map[element.Kind]int64)}
	if err := s.init(); err != nil {
		s.Release()
		return nil, err
	}
	return s, nil
}

func (s *Sink) exec(query string) error {
	if _, err := s.tx.Exec(query); err != nil {
		return &SQLError{query, err}
	}
	return nil
}

func (s *Sink) init() error {
	var err error
	s.tx, err = s.db.Begin()
	if err != nil {
		return err
	}
	if err := s.exec(`CREATE EXTENSION IF NOT EXISTS hstore`); err != nil {
		return err
	}
	if err := s.exec(fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, pq.QuoteIdentifier(s.schema))); err != nil {
		return err
	}
	for _, kind := range tableKinds {
		t := tables[kind]
		name := s.tableName(t)
		if err := s.exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s`, name)); err != nil {
			return err
		}
		if err := s.exec(fmt.Sprintf(`CREATE TABLE %s (%s)`, name, t.create)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) tableName(t table) string {
	return pq.QuoteIdentifier(s.schema) + "." + pq.QuoteIdentifier(t.name)
}

// endCopy flushes the active COPY statement.
func (s *Sink) endCopy() error {
	if s.copyStmt == nil {
		return nil
	}
	stmt := s.copyStmt
	s.copyStmt = nil
	if _, err := stmt.Exec(); err != nil {
		stmt.Close()
		return &SQLError{s.copySQL, err}
	}
	return stmt.Close()
}

func (s *Sink) insert(kind element.Kind, row ...interface{}) error {
	if s.committed {
		return errors.New("sink already completed")
	}
	if s.copyStmt == nil || s.copyKind != kind {
		if err := s.endCopy(); err != nil {
			return err
		}
		t := tables[kind]
		s.copySQL = pq.CopyInSchema(s.schema, t.name, t.columns...)
		stmt, err := s.tx.Prepare(s.copySQL)
		if err != nil {
			return &SQLError{s.copySQL, err}
		}
		s.copyStmt = stmt
		s.copyKind = kind
	}
	if _, err := s.copyStmt.Exec(row...); err != nil {
		return &SQLInsertError{SQLError{s.copySQL, err}, row}
	}
	s.rows[kind]++
	return nil
}

func (s *Sink) ProcessNode(n *osm.Node) error {
	tags, err := hstoreValue(n.Tags)
	if err != nil {
		return err
	}
	return s.insert(element.NodeKind, n.ID, n.Lat, n.Long, tags)
}

func (s *Sink) ProcessSegment(seg *element.Segment) error {
	tags, err := hstoreValue(seg.Tags)
	if err != nil {
		return err
	}
	return s.insert(element.SegmentKind, seg.ID, seg.From, seg.To, tags)
}

func (s *Sink) ProcessWay(w *osm.Way) error {
	tags, err := hstoreValue(w.Tags)
	if err != nil {
		return err
	}
	refs, err := pq.Array(w.Refs).Value()
	if err != nil {
		return err
	}
	return s.insert(element.WayKind, w.ID, refs, tags)
}

// Complete flushes all rows and commits the transaction.
func (s *Sink) Complete() error {
	if s.committed {
		return nil
	}
	if err := s.endCopy(); err != nil {
		return err
	}
	if err := s.tx.Commit(); err != nil {
		return errors.Wrap(err, "committing")
	}
	s.committed = true
	logger.Printf("[info] inserted %d nodes, %d segments, %d ways",
		s.rows[element.NodeKind], s.rows[element.SegmentKind], s.rows[element.WayKind])
	return nil
}

// Release rolls back uncommitted rows and closes the connection.
func (s *Sink) Release() {
	if s.copyStmt != nil {
		s.copyStmt.Close()
		s.copyStmt = nil
	}
	if s.tx != nil && !s.committed {
		if err := s.tx.Rollback(); err != nil {
			logger.Printf("[warn] rollback failed: %s", err)
		}
	}
	s.tx = nil
	if s.db != nil {
		s.db.Close()
		s.db = nil
	}
}

// hstoreValue returns tags in the text format of the hstore type. COPY
// would encode the []byte of hstore.Hstore.Value as bytea.
func hstoreValue(tags osm.Tags) (interface{}, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	h := hstore.Hstore{Map: make(map[string]sql.NullString, len(tags))}
	for k, v := range tags {
		h.Map[k] = sql.NullString{String: v, Valid: true}
	}
	v, err := h.Value()
	if err != nil {
		return nil, err
	}
	if b, ok := v.([]byte); ok {
		return string(b), nil
	}
	return v, nil
}
