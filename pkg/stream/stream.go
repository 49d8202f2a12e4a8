// Package stream is the ordered, single-pass FileRecord stream handed to
// consumers.
//
// A producer holds the Emitter and pushes records in order, then ends the
// stream with End or aborts it with Fail. The consumer pulls from the Stream
// with Next or ranges over All. The buffer between them is bounded: Push
// blocks while it is full, so a slow consumer never loses records.
//
// **Terminal events:**
//   - End: buffered records are delivered, then Next returns io.EOF.
//   - Fail: Next returns the error immediately; buffered records are
//     discarded and later pushes are refused.
//
// The first terminal event wins. A stream cannot be restarted.
package stream

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"
)

// DefaultBuffer is the number of records buffered between producer and
// consumer.
const DefaultBuffer = 16

// ErrClosed is returned by Next after the consumer called Close.
var ErrClosed = errors.New("stream closed")

type state struct {
	items chan *FileRecord

	// stopped is closed on Fail or Close; producers watch it.
	stopped  chan struct{}
	failed   chan struct{}
	closed   chan struct{}
	stopOnce sync.Once

	mu    sync.Mutex
	ended bool
	err   error
}

// Stream is the consumer side.
type Stream struct {
	s *state
}

// Emitter is the producer side. Push and End must be called from a single
// goroutine; Fail may be called from any goroutine.
type Emitter struct {
	s *state
}

// New creates a connected Stream and Emitter. buffer <= 0 uses DefaultBuffer.
func New(buffer int) (*Stream, *Emitter) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &state{
		items:   make(chan *FileRecord, buffer),
		stopped: make(chan struct{}),
		failed:  make(chan struct{}),
		closed:  make(chan struct{}),
	}
	return &Stream{s: s}, &Emitter{s: s}
}

// Failed returns a stream that has already failed with err.
func Failed(err error) *Stream {
	st, em := New(1)
	em.Fail(err)
	return st
}

// --- producer ---

// Push hands rec to the consumer, blocking while the buffer is full. It
// returns false if the stream was already terminated, the consumer closed it,
// or ctx was cancelled; rec is discarded in that case.
func (e *Emitter) Push(ctx context.Context, rec *FileRecord) bool {
	e.s.mu.Lock()
	terminated := e.s.ended || e.s.err != nil
	e.s.mu.Unlock()
	if terminated {
		return false
	}

	select {
	case <-e.s.stopped:
		return false
	default:
	}

	select {
	case e.s.items <- rec:
		return true
	case <-e.s.stopped:
		return false
	case <-ctx.Done():
		return false
	}
}

// Fail terminates the stream with err. It reports whether err became the
// terminal event.
func (e *Emitter) Fail(err error) bool {
	if err == nil {
		err = errors.New("stream failed")
	}
	e.s.mu.Lock()
	if e.s.ended || e.s.err != nil {
		e.s.mu.Unlock()
		return false
	}
	e.s.err = err
	e.s.mu.Unlock()

	close(e.s.failed)
	e.s.stop()
	return true
}

// End emits the end-of-stream marker. It reports whether the marker became
// the terminal event.
func (e *Emitter) End() bool {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	if e.s.ended || e.s.err != nil {
		return false
	}
	e.s.ended = true
	close(e.s.items)
	return true
}

// Stopped is closed once the stream failed or the consumer closed it.
// Producers use it to abandon outstanding work.
func (e *Emitter) Stopped() <-chan struct{} {
	return e.s.stopped
}

// Err returns the terminal error, if any.
func (e *Emitter) Err() error {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	return e.s.err
}

func (s *state) stop() {
	s.stopOnce.Do(func() { close(s.stopped) })
}

// --- consumer ---

// Next returns the next record. It returns io.EOF after the end marker, the
// terminal error after a failure, and ErrClosed after Close.
func (st *Stream) Next(ctx context.Context) (*FileRecord, error) {
	s := st.s

	// A failure takes priority over buffered records.
	select {
	case <-s.failed:
		return nil, st.Err()
	case <-s.closed:
		return nil, ErrClosed
	default:
	}

	select {
	case rec, ok := <-s.items:
		if !ok {
			return nil, io.EOF
		}
		select {
		case <-s.failed:
			return nil, st.Err()
		default:
		}
		return rec, nil
	case <-s.failed:
		return nil, st.Err()
	case <-s.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Err returns the terminal error, or nil if the stream has not failed.
func (st *Stream) Err() error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	return st.s.err
}

// Close abandons the stream. Pending and future pushes are refused.
func (st *Stream) Close() {
	select {
	case <-st.s.closed:
		return
	default:
	}
	st.s.mu.Lock()
	select {
	case <-st.s.closed:
	default:
		close(st.s.closed)
	}
	st.s.mu.Unlock()
	st.s.stop()
}

// All ranges over the stream. A terminal error is yielded once as
// (nil, err); breaking out of the loop closes the stream.
func (st *Stream) All(ctx context.Context) iter.Seq2[*FileRecord, error] {
	return func(yield func(*FileRecord, error) bool) {
		for {
			rec, err := st.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(rec, nil) {
				st.Close()
				return
			}
		}
	}
}

// Collect drains the stream. On failure the records read so far are dropped
// and only the error is returned.
func (st *Stream) Collect(ctx context.Context) ([]*FileRecord, error) {
	var out []*FileRecord
	for rec, err := range st.All(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
