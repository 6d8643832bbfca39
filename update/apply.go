/*
Package update provides the apply sub command. It merges change files into
the base element store and writes the result into a new store or into
PostgreSQL.
*/
package update

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/tomb.v2"

	"github.com/omniscale/osmpatch/cache"
	"github.com/omniscale/osmpatch/changeapply"
	"github.com/omniscale/osmpatch/config"
	"github.com/omniscale/osmpatch/database/postgres"
	"github.com/omniscale/osmpatch/element"
	"github.com/omniscale/osmpatch/log"
	"github.com/omniscale/osmpatch/postbox"
	"github.com/omniscale/osmpatch/reader"
	"github.com/omniscale/osmpatch/stats"
	"github.com/omniscale/osmpatch/update/state"
)

var logger = log.New("update")

// Apply merges the change files into the store at opts.CacheDir.
// The merged elements are written to opts.OutputDir or to the database at
// opts.Connection. The returned counter holds the outcome of all keys.
func Apply(ctx context.Context, opts config.Apply, files []string) (*stats.MergeCounter, error) {
	if _, err := os.Stat(opts.CacheDir); err != nil {
		return nil, errors.Wrap(err, "base store")
	}

	step := logger.Step("Reading changes")
	changes, err := reader.ReadChangeFiles(ctx, files)
	if err != nil {
		return nil, err
	}
	step()

	base, err := cache.Open(opts.CacheDir)
	if err != nil {
		return nil, err
	}
	defer base.Close()

	sink, err := openSink(opts)
	if err != nil {
		return nil, err
	}

	counter := stats.NewMergeCounter()
	applyOpts := []changeapply.Option{changeapply.WithStats(counter)}
	if opts.CheckOrder {
		applyOpts = append(applyOpts, changeapply.WithOrderCheck())
	}
	a := changeapply.New(opts.BufferCapacity, applyOpts...)
	// Run releases the sink
	a.SetSink(sink)

	if opts.ShowStats {
		reporter := stats.StartReporter(counter, time.Second)
		defer reporter.Stop()
	}

	step = logger.Step("Merging changes")
	if err := run(ctx, a, base, changes.Changes); err != nil {
		return counter, err
	}
	step()

	if opts.OutputDir != "" {
		if err := writeState(opts.CacheDir, opts.OutputDir, files, changes.Changes); err != nil {
			return counter, err
		}
	}
	if !opts.ShowStats {
		logger.Printf("[info] %s", counter)
	}
	return counter, nil
}

func openSink(opts config.Apply) (element.Sink, error) {
	if opts.OutputDir != "" {
		if entries, err := os.ReadDir(opts.OutputDir); err == nil && len(entries) > 0 {
			return nil, errors.Errorf("output %s is not empty", opts.OutputDir)
		}
		return cache.NewWriter(opts.OutputDir)
	}
	return postgres.Open(opts.Connection, opts.Schema)
}

// run starts both producers and the merge under a tomb and waits for all of
// them.
func run(ctx context.Context, a *changeapply.Applier, base *cache.Store, changes []element.Change) error {
	parent := ctx
	var t tomb.Tomb
	ctx = t.Context(ctx)

	var baseErr, changeErr, runErr error
	// producers are started from within the tomb, it panics on Go calls
	// after all tracked goroutines returned
	t.Go(func() error {
		t.Go(func() error {
			sink := a.BaseSink()
			defer sink.Release()
			baseErr = base.Feed(ctx, sink)
			return ignoreAborted(baseErr)
		})
		t.Go(func() error {
			changeErr = changeapply.FeedChanges(changes, a.ChangeSink())
			return ignoreAborted(changeErr)
		})
		runErr = a.Run()
		return runErr
	})
	t.Wait()

	// A failed producer aborts the merge. Report the cause, not the abort.
	for _, err := range []error{baseErr, changeErr} {
		if ignoreAborted(err) == nil {
			continue
		}
		if errors.Is(err, context.Canceled) && parent.Err() == nil {
			// stopped by the tomb after the merge failed
			continue
		}
		return errors.Wrap(err, "producer failed")
	}
	return runErr
}

// ignoreAborted hides the error of producers that were stopped because the
// merge failed.
func ignoreAborted(err error) error {
	if errors.Is(err, postbox.ErrAborted) {
		return nil
	}
	return err
}

// writeState writes the state of the output store. It is the state of the
// last change file if available, otherwise the state of the base store
// advanced to the newest change.
func writeState(baseDir, outputDir string, files []string, changes []element.Change) error {
	if len(files) > 0 {
		s, err := state.FromOscGz(files[len(files)-1])
		if err != nil {
			return err
		}
		if s != nil {
			return state.Write(outputDir, s)
		}
	}

	s, err := state.Read(baseDir)
	if err != nil {
		return err
	}
	latest := latestTimestamp(changes)
	if s == nil {
		if latest.IsZero() {
			return nil
		}
		s = &state.DiffState{}
	}
	if latest.After(s.Time) {
		s.Time = latest
	}
	return state.Write(outputDir, s)
}

func latestTimestamp(changes []element.Change) time.Time {
	var latest time.Time
	for _, c := range changes {
		m := c.Metadata()
		if m != nil && m.Timestamp.After(latest) {
			latest = m.Timestamp
		}
	}
	return latest.UTC()
}
