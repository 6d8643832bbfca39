package import_

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/omniscale/osmpatch/config"
)

func TestImportExistingCache(t *testing.T) {
	dir := t.TempDir()
	opts := config.Import{Base: config.Base{CacheDir: dir}, Read: "missing.pbf"}
	_, err := Import(opts)
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("unexpected error %v", err)
	}
}

func TestImportInvalidPbf(t *testing.T) {
	tmp := t.TempDir()
	pbfFile := filepath.Join(tmp, "broken.pbf")
	if err := os.WriteFile(pbfFile, []byte("no pbf"), 0644); err != nil {
		t.Fatal(err)
	}
	opts := config.Import{
		Base: config.Base{CacheDir: filepath.Join(tmp, "cache")},
		Read: pbfFile,
	}
	_, err := Import(opts)
	if err == nil || !strings.Contains(err.Error(), "PBF header") {
		t.Errorf("unexpected error %v", err)
	}
}

func TestImportMissingPbf(t *testing.T) {
	tmp := t.TempDir()
	opts := config.Import{
		Base:      config.Base{CacheDir: tmp},
		Read:      filepath.Join(tmp, "missing.pbf"),
		Overwrite: true,
	}
	if _, err := Import(opts); err == nil {
		t.Error("expected error for missing PBF")
	}
}

func TestConsume(t *testing.T) {
	batches := make(chan []int, 4)
	parseDone := make(chan struct{})
	batches <- []int{1, 2}
	batches <- []int{3}
	batches <- []int{4}
	close(parseDone)

	// channel is not closed, parseDone stops after draining
	var got []int
	failed := errors.New("failed")
	err := consume(batches, parseDone, func(b []int) error {
		got = append(got, b...)
		if len(got) >= 3 {
			return failed
		}
		return nil
	})
	if err != failed {
		t.Errorf("unexpected error %v", err)
	}
	if len(got) != 3 {
		t.Errorf("batches after error were processed: %v", got)
	}
	if len(batches) != 0 {
		t.Errorf("channel not drained: %d", len(batches))
	}
}
