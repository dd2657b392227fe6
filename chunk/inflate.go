package chunk

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// An InflateError reports compressed input that could not be decompressed.
type InflateError struct {
	Encoding Encoding
	Err      error
}

func (e *InflateError) Error() string {
	return fmt.Sprintf("%s: %s", e.Encoding, e.Err)
}

func (e *InflateError) Unwrap() error {
	return e.Err
}

// NewGzipSource returns a Source producing the decompressed content of src,
// which must be in gzip format (several concatenated members are accepted).
func NewGzipSource(src Source) Source {
	return newInflateSource(src, Gzip, func(r io.Reader) (io.ReadCloser, error) {
		return gzip.NewReader(r)
	})
}

// NewZlibSource returns a Source producing the decompressed content of src,
// which must be in zlib format (HTTP "deflate" content encoding).
func NewZlibSource(src Source) Source {
	return newInflateSource(src, Deflate, zlib.NewReader)
}

// NewZstdSource returns a Source producing the decompressed content of src,
// which must be in zstd format.
func NewZstdSource(src Source) Source {
	return newInflateSource(src, Zstd, func(r io.Reader) (io.ReadCloser, error) {
		// Concurrency 1 decodes synchronously, without goroutines reading
		// ahead from src.
		d, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1), zstd.WithDecoderLowmem(true))
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	})
}

// inflateSource feeds the chunks of src to a decompressing reader and
// returns whatever output it produces.
type inflateSource struct {
	in       chunkReader
	encoding Encoding
	open     func(io.Reader) (io.ReadCloser, error)

	// Set up on the first call to Next, as reading the header already pulls
	// chunks from src.
	zr io.ReadCloser

	buf []byte
	err error
}

func newInflateSource(src Source, enc Encoding, open func(io.Reader) (io.ReadCloser, error)) *inflateSource {
	return &inflateSource{
		in:       chunkReader{src: src},
		encoding: enc,
		open:     open,
		buf:      make([]byte, DefaultChunkSize),
	}
}

// Next implements Source.
func (s *inflateSource) Next(ctx context.Context) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.in.ctx = ctx
	defer func() { s.in.ctx = nil }()
	if s.zr == nil {
		zr, err := s.open(&s.in)
		if err != nil {
			s.err = s.wrapError(err)
			return nil, s.err
		}
		s.zr = zr
	}
	for i := maxConsecutiveEmptyReads; i > 0; i-- {
		n, err := s.zr.Read(s.buf)
		if err != nil {
			s.err = s.wrapError(err)
		}
		if n > 0 {
			return s.buf[:n], nil
		}
		if err != nil {
			return nil, s.err
		}
	}
	s.err = &InflateError{Encoding: s.encoding, Err: io.ErrNoProgress}
	return nil, s.err
}

// Close implements Source, closing the decompressor and then src.
func (s *inflateSource) Close() error {
	var zerr error
	if s.zr != nil {
		zerr = s.zr.Close()
	}
	if s.err == nil {
		s.err = ErrClosed
	}
	return errors.Join(zerr, s.in.src.Close())
}

// wrapError tells apart errors coming from src, which go through unchanged,
// from errors in the compressed data.
func (s *inflateSource) wrapError(err error) error {
	if err == io.EOF {
		return io.EOF
	}
	if srcErr := s.in.err; srcErr != nil && srcErr != io.EOF && errors.Is(err, srcErr) {
		return srcErr
	}
	return &InflateError{Encoding: s.encoding, Err: err}
}

// chunkReader is the io.Reader view of a Source given to decompressors.  It
// implements io.ByteReader so that they do not add their own read buffer.
type chunkReader struct {
	src   Source
	ctx   context.Context
	chunk []byte
	err   error
}

func (r *chunkReader) fill() error {
	for len(r.chunk) == 0 {
		if r.err != nil {
			return r.err
		}
		ctx := r.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		r.chunk, r.err = r.src.Next(ctx)
	}
	return nil
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := r.fill(); err != nil {
		return 0, err
	}
	n := copy(p, r.chunk)
	r.chunk = r.chunk[n:]
	return n, nil
}

func (r *chunkReader) ReadByte() (byte, error) {
	if err := r.fill(); err != nil {
		return 0, err
	}
	b := r.chunk[0]
	r.chunk = r.chunk[1:]
	return b, nil
}
