package changeapply

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/omniscale/osmpatch/element"
	"github.com/omniscale/osmpatch/postbox"
)

// FeedBase passes all containers to sink and completes it. The sink is
// released in any case; a release without Complete aborts the stream.
func FeedBase(containers []element.Container, sink element.Sink) error {
	defer sink.Release()
	for _, c := range containers {
		if err := c.Dispatch(sink); err != nil {
			return err
		}
	}
	return sink.Complete()
}

// FeedChanges passes all changes to sink and completes it.
func FeedChanges(changes []element.Change, sink element.ChangeSink) error {
	defer sink.Release()
	for _, c := range changes {
		if err := element.DispatchChange(c, sink); err != nil {
			return err
		}
	}
	return sink.Complete()
}

// Apply merges changes into base and passes the result to sink. Both
// producers run on their own goroutine, the merge runs on the calling
// goroutine.
func Apply(capacity int, base []element.Container, changes []element.Change, sink element.Sink, opts ...Option) error {
	a := New(capacity, opts...)
	a.SetSink(sink)

	var wg sync.WaitGroup
	var baseErr, changeErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		baseErr = FeedBase(base, a.BaseSink())
	}()
	go func() {
		defer wg.Done()
		changeErr = FeedChanges(changes, a.ChangeSink())
	}()

	err := a.Run()
	wg.Wait()
	for _, perr := range []error{baseErr, changeErr} {
		// producers aborted by the merge report ErrAborted, the cause is err
		if perr != nil && !errors.Is(perr, postbox.ErrAborted) {
			return errors.Wrap(perr, "producer failed")
		}
	}
	return err
}
