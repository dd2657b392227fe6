// Package chunk defines the Source contract through which arraystream pulls
// input, and adapters producing Sources from readers, fixed data and
// compressed streams.
package chunk

import (
	"context"
	"errors"
	"io"
)

// A Source produces the input of a stream one chunk at a time.
//
// Next returns a non-empty chunk, io.EOF when the input is exhausted, or any
// other error when the input could not be read.  The chunk is only valid until
// the next call to Next.  Next may block until data is available; it should
// return early with ctx.Err() if ctx is cancelled.
//
// Close releases the resources held by the Source.  Next must not be called
// after Close.
type Source interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// ReaderSource turns an io.Reader (typically an HTTP response body) into a
// Source.  Each call to Next performs a single Read.
type ReaderSource struct {
	reader io.Reader
	buf    []byte
	err    error
}

var _ Source = (*ReaderSource)(nil)

// NewReaderSource returns a ReaderSource reading at most DefaultChunkSize
// bytes at a time.
func NewReaderSource(r io.Reader) *ReaderSource {
	return NewReaderSourceSize(r, DefaultChunkSize)
}

// NewReaderSourceSize returns a ReaderSource reading at most size bytes at a
// time.
func NewReaderSourceSize(r io.Reader, size int) *ReaderSource {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &ReaderSource{reader: r, buf: make([]byte, size)}
}

// Next implements Source.
func (s *ReaderSource) Next(ctx context.Context) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	for i := maxConsecutiveEmptyReads; i > 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := s.reader.Read(s.buf)
		if err != nil {
			// The data is returned now and the error on the next call
			s.err = err
		}
		if n > 0 {
			return s.buf[:n], nil
		}
		if err != nil {
			return nil, err
		}
	}
	s.err = io.ErrNoProgress
	return nil, s.err
}

// Close closes the underlying reader if it is an io.Closer.
func (s *ReaderSource) Close() error {
	if s.err == nil {
		s.err = ErrClosed
	}
	if c, ok := s.reader.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// SliceSource replays a fixed list of chunks, then returns Err (or io.EOF if
// Err is nil).
type SliceSource struct {
	Chunks [][]byte
	Err    error

	closed bool
}

var _ Source = (*SliceSource)(nil)

// NewSliceSource returns a SliceSource producing the given chunks.  Empty
// chunks are skipped.
func NewSliceSource(chunks ...[]byte) *SliceSource {
	return &SliceSource{Chunks: chunks}
}

// Split returns a SliceSource producing data cut at the given offsets, which
// must be increasing.
func Split(data []byte, offsets ...int) *SliceSource {
	var chunks [][]byte
	prev := 0
	for _, off := range offsets {
		chunks = append(chunks, data[prev:off])
		prev = off
	}
	return NewSliceSource(append(chunks, data[prev:])...)
}

// Next implements Source.
func (s *SliceSource) Next(ctx context.Context) ([]byte, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for len(s.Chunks) > 0 {
		c := s.Chunks[0]
		s.Chunks = s.Chunks[1:]
		if len(c) > 0 {
			return c, nil
		}
	}
	if s.Err != nil {
		return nil, s.Err
	}
	return nil, io.EOF
}

// Close implements Source.
func (s *SliceSource) Close() error {
	s.closed = true
	return nil
}

// Closed returns true if Close has been called.
func (s *SliceSource) Closed() bool {
	return s.closed
}

type emptySource struct{}

// Empty returns a Source with no data.
func Empty() Source {
	return emptySource{}
}

func (emptySource) Next(ctx context.Context) ([]byte, error) {
	return nil, io.EOF
}

func (emptySource) Close() error {
	return nil
}

// ErrClosed is returned by Next after Close has been called.
var ErrClosed = errors.New("chunk: source is closed")

const (
	// DefaultChunkSize is the read size used by NewReaderSource.
	DefaultChunkSize = 32 * 1024

	maxConsecutiveEmptyReads = 100
)
