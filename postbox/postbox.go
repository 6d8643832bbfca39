// Package postbox implements a bounded handoff queue between one producer and
// one consumer goroutine.
//
// The producer calls Put for each item and Complete after the last one. The
// consumer reads with HasNext and Next. Either side can abort the exchange
// with SetError, which wakes the other side if it is blocked. The producer
// calls ReleaseProducer and the consumer ReleaseConsumer when they are done.
package postbox

import (
	"sync"

	"github.com/pkg/errors"
)

// State of a postbox. A postbox starts Open and ends Released.
type State int

const (
	Open State = iota
	Completed
	Errored
	Released
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Completed:
		return "completed"
	case Errored:
		return "errored"
	case Released:
		return "released"
	}
	return "unknown"
}

var (
	// ErrAborted is returned to a party when the postbox was errored.
	ErrAborted = errors.New("postbox aborted")
	// ErrCompleted is returned by Put and Complete after Complete.
	ErrCompleted = errors.New("postbox already completed")
	// ErrReleased is returned for any operation after release.
	ErrReleased = errors.New("postbox released")
	// ErrNoMoreItems is returned by Next when the stream is drained.
	ErrNoMoreItems = errors.New("no more items in postbox")
)

// Postbox is a bounded queue of items of type T. It is used by exactly one
// producer and one consumer and is not reused after both released it.
type Postbox[T any] struct {
	items chan T
	// errc is closed when the postbox is errored
	errc    chan struct{}
	errOnce sync.Once

	mu               sync.Mutex
	state            State
	aborted          bool
	producerReleased bool
	consumerReleased bool

	// consumer side only
	pending    T
	hasPending bool
}

// New creates an open postbox that buffers up to capacity items.
func New[T any](capacity int) *Postbox[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Postbox[T]{
		items: make(chan T, capacity),
		errc:  make(chan struct{}),
	}
}

// State returns the current state.
func (p *Postbox[T]) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Len returns the number of buffered items.
func (p *Postbox[T]) Len() int { return len(p.items) }

// Cap returns the capacity of the buffer.
func (p *Postbox[T]) Cap() int { return cap(p.items) }

func (p *Postbox[T]) stateErrLocked() error {
	switch p.state {
	case Completed:
		return ErrCompleted
	case Errored:
		return ErrAborted
	case Released:
		if p.aborted {
			return ErrAborted
		}
		return ErrReleased
	}
	return nil
}

// Put appends item. It blocks while the buffer is full and returns
// ErrAborted if the postbox gets errored in the meantime.
func (p *Postbox[T]) Put(item T) error {
	p.mu.Lock()
	err := p.stateErrLocked()
	p.mu.Unlock()
	if err != nil {
		return err
	}

	// prefer the abort signal over free buffer space
	select {
	case <-p.errc:
		return ErrAborted
	default:
	}

	select {
	case p.items <- item:
		return nil
	case <-p.errc:
		return ErrAborted
	}
}

// Complete marks the end of the stream. No more items can be put.
func (p *Postbox[T]) Complete() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Open {
		return p.stateErrLocked()
	}
	p.state = Completed
	close(p.items)
	return nil
}

// SetError aborts the exchange. All blocked and future calls of the other
// party return ErrAborted.
func (p *Postbox[T]) SetError() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setErrorLocked()
}

func (p *Postbox[T]) setErrorLocked() {
	if p.state == Open || p.state == Completed {
		p.state = Errored
	}
	p.aborted = true
	p.errOnce.Do(func() { close(p.errc) })
}

// HasNext reports whether another item is available. It blocks while the
// postbox is empty and still open. It returns false without an error once
// the stream is completed and drained.
func (p *Postbox[T]) HasNext() (bool, error) {
	if p.hasPending {
		return true, nil
	}
	p.mu.Lock()
	var err error
	if p.state == Errored || p.state == Released {
		err = p.stateErrLocked()
	}
	p.mu.Unlock()
	if err != nil {
		return false, err
	}

	select {
	case <-p.errc:
		return false, ErrAborted
	default:
	}

	select {
	case item, ok := <-p.items:
		if !ok {
			return false, nil
		}
		p.pending = item
		p.hasPending = true
		return true, nil
	case <-p.errc:
		return false, ErrAborted
	}
}

// Next returns the next item in the order it was put.
func (p *Postbox[T]) Next() (T, error) {
	var zero T
	ok, err := p.HasNext()
	if err != nil {
		return zero, err
	}
	if !ok {
		return zero, ErrNoMoreItems
	}
	item := p.pending
	p.pending = zero
	p.hasPending = false
	return item, nil
}

// ReleaseProducer signals that the producer is done with the postbox. A
// release before Complete errors the postbox so that the consumer is not
// left waiting. It can be called multiple times.
func (p *Postbox[T]) ReleaseProducer() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.producerReleased = true
	p.releaseLocked()
}

// ReleaseConsumer signals that the consumer is done with the postbox. A
// release before the producer completed errors the postbox so that a
// blocked producer returns. It can be called multiple times.
func (p *Postbox[T]) ReleaseConsumer() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumerReleased = true
	p.releaseLocked()
}

func (p *Postbox[T]) releaseLocked() {
	switch {
	case p.state == Open:
		p.setErrorLocked()
		p.state = Released
	case p.state == Errored:
		p.state = Released
	case p.producerReleased && p.consumerReleased:
		p.state = Released
	}
}
