// Package state reads and writes the state.txt of element stores. The state
// records the time (and replication sequence) of the data in a store.
package state

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	osmstate "github.com/omniscale/go-osm/state"
	"github.com/pkg/errors"

	"github.com/omniscale/osmpatch/log"
)

var logger = log.New("state")

type DiffState = osmstate.DiffState

// File is the name of the state file inside of a store directory.
const File = "state.txt"

// FromPbfHeader returns the state of a PBF import. It uses the modification
// time of the file if the header has no timestamp.
func FromPbfHeader(fname string, headerTime time.Time, sequence int64) (*DiffState, error) {
	timestamp := headerTime
	if timestamp.Unix() <= 0 {
		fstat, err := os.Stat(fname)
		if err != nil {
			return nil, errors.Wrapf(err, "reading mod time from %q", fname)
		}
		timestamp = fstat.ModTime()
	}
	return &DiffState{Time: timestamp.UTC(), Sequence: int(sequence)}, nil
}

// FromOscGz returns the state of a change file from the .state.txt next
// to it, or nil if there is none.
func FromOscGz(oscFile string) (*DiffState, error) {
	if !strings.HasSuffix(oscFile, ".osc.gz") {
		return nil, nil
	}
	stateFile := oscFile[:len(oscFile)-len(".osc.gz")] + ".state.txt"
	if _, err := os.Stat(stateFile); os.IsNotExist(err) {
		logger.Printf("[warn] cannot find state file %s", stateFile)
		return nil, nil
	}
	s, err := osmstate.ParseFile(stateFile)
	return s, errors.Wrapf(err, "reading %s", stateFile)
}

// Write writes s into the store directory dir.
func Write(dir string, s *DiffState) error {
	return errors.Wrap(osmstate.WriteFile(filepath.Join(dir, File), s), "writing state")
}

// Read returns the state of the store in dir, or nil if dir has no state
// file.
func Read(dir string) (*DiffState, error) {
	s, err := osmstate.ParseFile(filepath.Join(dir, File))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading state")
	}
	return s, nil
}
