package arraystream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/arnodel/arraystream/chunk"
	"github.com/arnodel/arraystream/internal/scanner"
)

// DefaultCapacity is the initial buffer capacity used when the capacity
// passed to New is less than 1.
const DefaultCapacity = 4096

// ErrClosed is returned by Next after Close has been called on a Stream that
// had not finished.
var ErrClosed = errors.New("arraystream: stream is closed")

type phase uint8

const (
	awaitingFirstOpen phase = iota // the target level has not been reached
	atLevel                        // between elements
	inElement                      // an element is open
	draining                       // the source is exhausted, last elements pending
	done
	failed
)

func (p phase) String() string {
	switch p {
	case awaitingFirstOpen:
		return "awaiting first open"
	case atLevel:
		return "at level"
	case inElement:
		return "in element"
	case draining:
		return "draining"
	case done:
		return "done"
	case failed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// A Stream decodes the elements found at a given nesting level of a JSON
// document read from a chunk.Source.  It only reads from the source when the
// caller asks for an element and none is available in what has already been
// read, so its memory use is bounded by the size of the largest element plus
// one chunk.
//
// A Stream must be used by one goroutine at a time.
type Stream[T any] struct {
	src   chunk.Source
	dec   Decoder[T]
	level int

	buf *scanner.Buffer
	st  scanner.State

	// Completed elements not yet decoded are spans[next:]
	spans []scanner.Span
	next  int

	// Error detected after the last element in spans, returned once they
	// have all been decoded.
	deferred *Error

	phase  phase
	err    error
	count  int
	closed bool

	maxElementSize int
	logger         log.Logger
}

// New returns a Stream decoding the elements of src at the given level into
// values of type T with encoding/json.  The capacity is the initial size of
// the buffer holding the input.
//
// At level 0 each top-level value is an element (a sequence of whitespace
// separated values is accepted).  At level 1 the elements are the items of
// the outermost array (or the values of the outermost object), and so on.
// Above level 0 the input holds a single document and anything but
// whitespace after it is an ErrMalformedJSON error.
func New[T any](src chunk.Source, level, capacity int, opts ...Option) *Stream[T] {
	return NewWithDecoder[T](src, JSONDecoder[T]{}, level, capacity, opts...)
}

// NewWithDecoder is like New but decodes elements with dec.
func NewWithDecoder[T any](src chunk.Source, dec Decoder[T], level, capacity int, opts ...Option) *Stream[T] {
	if level < 0 {
		panic("arraystream: negative level")
	}
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	o := options{logger: log.NewNopLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.encoding != "" {
		src = o.encoding.Wrap(src)
	}
	s := &Stream[T]{
		src:            src,
		dec:            dec,
		level:          level,
		buf:            scanner.NewBuffer(capacity),
		st:             scanner.NewState(level),
		maxElementSize: o.maxElementSize,
		logger:         o.logger,
	}
	s.updatePhase()
	return s
}

// Next returns the next element.  It returns io.EOF after the last element of
// a well-formed document, or an *Error if the stream failed.  Either way, all
// subsequent calls return the same error.
func (s *Stream[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		if s.next < len(s.spans) {
			return s.decodeNext()
		}
		if s.deferred != nil {
			return zero, s.fail(s.deferred)
		}
		switch s.phase {
		case done:
			return zero, io.EOF
		case failed:
			return zero, s.err
		case draining:
			s.finish()
			continue
		}
		if err := s.advance(ctx); err != nil {
			return zero, err
		}
	}
}

// All returns an iterator over the remaining elements.  The iteration stops
// at the end of the stream or after yielding the first error.  The stream is
// closed when the iteration stops, including when the loop body breaks out
// early.
func (s *Stream[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		defer s.Close()
		for {
			v, err := s.Next(ctx)
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(v, err)
				return
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}

// Close releases the source without reading from it again.  It is not
// necessary to call Close after Next has returned an error, but it is
// harmless.
func (s *Stream[T]) Close() error {
	if s.phase != done && s.phase != failed {
		s.phase = failed
		s.err = ErrClosed
	}
	return s.release()
}

// Count returns the number of elements returned so far.
func (s *Stream[T]) Count() int {
	return s.count
}

// Offset returns the number of (decompressed) input bytes scanned so far.
func (s *Stream[T]) Offset() int64 {
	return s.st.Offset
}

func (s *Stream[T]) String() string {
	return fmt.Sprintf("arraystream.Stream(%s)", s.phase)
}

func (s *Stream[T]) decodeNext() (T, error) {
	span := s.spans[s.next]
	s.next++
	v, err := s.dec.Decode(s.buf.Copy(span))
	if err != nil {
		var zero T
		return zero, s.fail(&Error{Kind: ErrDecode, Offset: span.Start, Err: err})
	}
	s.count++
	if s.phase == draining && s.next == len(s.spans) {
		s.finish()
	}
	return v, nil
}

// advance scans the input not scanned yet and, if it contains no complete
// element, reads the next chunk from the source.
func (s *Stream[T]) advance(ctx context.Context) error {
	if s.st.Offset < s.buf.End() {
		var err error
		s.spans, s.next = s.spans[:0], 0
		s.st, s.spans, err = scanner.Scan(s.st, s.level, s.buf.Window(), s.buf.Base(), s.spans)
		if err != nil {
			s.deferred = s.scanError(err)
		}
		s.checkElementSize()
		s.updatePhase()
		if len(s.spans) > 0 || s.deferred != nil {
			return nil
		}
	}

	// All that is before the open element (or everything if there is none)
	// can be dropped.
	keep := s.st.Offset
	if s.st.InElement() {
		keep = s.st.Start
	}
	s.buf.Consume(keep)
	s.buf.Compact()

	data, err := s.src.Next(ctx)
	switch {
	case err == io.EOF:
		return s.drain()
	case err != nil:
		return s.fail(s.sourceError(err))
	}
	s.buf.Append(data)
	return nil
}

// drain is called when the source is exhausted.
func (s *Stream[T]) drain() error {
	s.phase = draining
	st, span, ok, err := scanner.Finish(s.st, s.level)
	s.st = st
	if err != nil {
		return s.fail(s.scanError(err))
	}
	if ok {
		s.spans, s.next = append(s.spans[:0], span), 0
		s.checkElementSize()
	} else {
		s.finish()
	}
	return nil
}

// checkElementSize drops the elements from the first one exceeding the
// maximum size, and defers the error.
func (s *Stream[T]) checkElementSize() {
	if s.maxElementSize <= 0 {
		return
	}
	for i, span := range s.spans {
		if span.Len() > s.maxElementSize {
			s.spans = s.spans[:i]
			s.deferred = s.tooLarge(span.Start)
			return
		}
	}
	if s.deferred == nil && s.st.InElement() && s.st.Offset-s.st.Start > int64(s.maxElementSize) {
		s.deferred = s.tooLarge(s.st.Start)
	}
}

func (s *Stream[T]) tooLarge(start int64) *Error {
	return &Error{
		Kind:   ErrMalformedJSON,
		Offset: start,
		Err:    fmt.Errorf("element larger than %d bytes", s.maxElementSize),
	}
}

func (s *Stream[T]) updatePhase() {
	switch {
	case !s.st.Reached:
		s.phase = awaitingFirstOpen
	case s.st.InElement():
		s.phase = inElement
	default:
		s.phase = atLevel
	}
}

func (s *Stream[T]) scanError(err error) *Error {
	if errors.Is(err, scanner.ErrTruncated) {
		return &Error{Kind: ErrTruncated, Offset: s.st.Offset, Err: io.ErrUnexpectedEOF}
	}
	var serr *scanner.SyntaxError
	if errors.As(err, &serr) {
		return &Error{Kind: ErrMalformedJSON, Offset: serr.Offset, Err: serr}
	}
	return &Error{Kind: ErrMalformedJSON, Offset: s.st.Offset, Err: err}
}

func (s *Stream[T]) sourceError(err error) *Error {
	var ierr *chunk.InflateError
	if errors.As(err, &ierr) {
		return &Error{Kind: ErrInflate, Offset: s.buf.End(), Err: err}
	}
	return &Error{Kind: ErrTransport, Offset: s.buf.End(), Err: err}
}

func (s *Stream[T]) fail(err *Error) error {
	s.phase = failed
	s.err = err
	s.spans, s.next = s.spans[:0], 0
	s.deferred = nil
	level.Warn(s.logger).Log("msg", "stream failed", "kind", err.Kind, "offset", err.Offset, "elements", s.count, "err", err.Err)
	s.release()
	return err
}

func (s *Stream[T]) finish() {
	s.phase = done
	level.Debug(s.logger).Log("msg", "stream done", "elements", s.count, "bytes", s.st.Offset)
	s.release()
}

func (s *Stream[T]) release() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.src.Close()
	if err != nil {
		level.Debug(s.logger).Log("msg", "closing source", "err", err)
	}
	return err
}
